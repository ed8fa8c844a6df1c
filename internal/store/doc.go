// Package store holds the registry the engine converges into.
//
// Registry is the minimal get/put/delete contract. Implementations may also
// provide Conditional, which runs the conflict policy and the mutation as a
// single atomic step, and Lister, which enumerates names in byte order.
//
// Implementations:
//   - Store: SQLite via mattn/go-sqlite3 (durable, conditional, listable)
//   - MemStore: in-memory map (conditional, listable)
//   - CachedRegistry: read-through go-cache decorator over any Registry
//   - store/redis: Redis hashes with a Lua conditional apply
//
// # Tombstones
//
// By default removals are stored as tombstones rather than deleted, so the
// stored row for a name is always the highest version seen and the result
// does not depend on arrival order. Passing prune to Apply deletes removed
// names instead. Visible and ListOptions hide tombstones from readers.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Values are stored as RFC 8785 canonical JSON and each row keeps the
// entry's content hash from internal/ir.
package store
