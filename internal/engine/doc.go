// Package engine merges a dynamic set of feeds into a single registry.
//
// ARCHITECTURE:
//
// Consumers:
// Every tracked feed gets a consumer goroutine that reads the feed's
// stream and applies each entry to the store through the conflict policy.
// A feed's entries are applied in feed order; entries from different feeds
// interleave freely. Because the policy keeps the greatest version of each
// name (and retains tombstones unless pruning), the registry converges to
// the same state for every interleaving.
//
// Readiness and the writer slot:
// Ready probes each tracked feed once. The first probe to report a
// writable feed while the slot is empty designates that feed as the
// writer. Removing the writer feed clears the slot. Feeds probed before
// that never take it over, but a feed probed afterwards may fill it.
//
// Authoring:
// Create, Update and Remove stamp an entry with the engine's Lamport clock
// and append it to the writer feed. The entry is applied to the registry
// when the writer feed's consumer reads it back, exactly like an entry
// from a remote author.
//
// Errors in the consumer path (invalid entries, store failures) are
// logged and counted; they never stop a consumer. A stream that fails
// part way, such as a file feed with a broken hash chain, is counted once
// and its consumer exits.
package engine
