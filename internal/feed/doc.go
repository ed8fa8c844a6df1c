// Package feed provides the append-only logs that the engine merges.
//
// Two implementations are provided:
//   - MemFeed: an in-process log, readable or writable, used by tests and
//     the scenario harness. Remote replication is simulated with Deliver.
//   - FileFeed: a JSON-lines log on disk. Each record carries its index,
//     the previous record's hash and its own hash, so any edit to history
//     breaks the chain and is reported as ErrCorrupt. Live streams tail the
//     file with fsnotify.
//
// Replication and signature verification are out of scope. A read-only
// FileFeed is simply a file some other process appends to.
package feed
