// Package harness runs convergence scenarios against the engine.
//
// A scenario declares in-memory feeds, a list of steps and the registry
// state expected once everything has been applied. The harness drives a
// live engine, waits for it to settle after every step and compares the
// outcome with the expectations and with a golden snapshot.
//
// # Scenario Format
//
//	name: authoring
//	description: "What this scenario validates"
//	options: { throws: false, prune: false }
//	feeds:
//	  - id: local
//	    writable: true
//	  - id: peer
//	    entries:
//	      - { name: svc/api, seq: 41, author: peer, value: { port: 1 } }
//	steps:
//	  - create: { name: svc/web, value: { v: 1 } }
//	  - deliver: { feed: peer, name: svc/api, seq: 43, author: peer, value: { port: 3 } }
//	  - remove_feed: peer
//	  - create: { name: "" }
//	    expect_error: invalid_entry
//	expect:
//	  writer: local
//	  entries:
//	    - { name: svc/api, seq: 43, author: peer }
//	  absent: [svc/db]
//	  count: 2
//	  stats: { errors: 0 }
//
// # Steps
//
//   - deliver: append an entry to a feed as if replicated from its author
//   - create, update, remove: author an entry through the engine's writer
//   - add_feed, remove_feed: change the tracked feed set
//   - close_feed: close a feed; its stream ends and appends fail
//   - ready: probe every unprobed feed
//
// A step may name the error kind it must fail with in expect_error.
//
// # Determinism
//
// Consumers of different feeds interleave freely, so the harness never
// snapshots counters or the order entries were applied in. The settled
// registry, the writer and the entries authored by each step are the same
// for every interleaving; those make up the golden snapshot stored in
// testdata/golden/{name}.golden.
package harness
