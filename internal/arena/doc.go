// Package arena provides the node store backing the phrase trie.
//
// Nodes live in a single id-addressed arena. A node is referenced by its
// NodeID, never by pointer, so the store can grow without invalidating
// references held elsewhere (for example by the result table).
//
// # Features
//
//   - Stable, monotonically increasing ids; id 0 is reserved as null
//   - Hybrid child storage decided once per node: dense slots carved from
//     chunked slabs, or a rank-compressed sparse array
//   - Hard capacity limit (ErrCapacityExceeded)
//
// # Concurrency Model
//
// Store is single-writer. Child, Terminal and Depth may be called from many
// goroutines at once as long as no mutating method runs at the same time.
// Callers enforce that window; the store itself takes no locks.
package arena
