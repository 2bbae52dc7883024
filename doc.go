// Package phrasetrie provides an in-memory phrase index for Go.
//
// An Index holds a mutable dictionary of multi-word phrases in a byte trie.
// A query line is split into candidate start offsets (position 0 and every
// position right after a space) and the trie is walked from each offset in
// parallel. Every active phrase found is reported once, at its earliest
// start, and results are ordered by start and then by length, no matter how
// the traversals were scheduled.
//
// # Quick Start
//
//	ctx := context.Background()
//	ix, _ := phrasetrie.New()
//	_ = ix.Insert(ctx, "the cat")
//	_ = ix.Insert(ctx, "cat")
//	out, _ := ix.QueryString(ctx, "the cat sat") // "the cat|cat"
//
// # Matching
//
// A phrase matches when its bytes appear at a candidate offset and are
// followed by a space or the end of the query. WithPrefixMatches also
// reports phrases that end inside a longer token.
//
// # Line Protocol
//
// Serve speaks the line protocol used by the phrasetrie binary: phrases one
// per line until a line "S", the reply "R", then the commands "A <phrase>",
// "D <phrase>", "Q <text>" and "F". Each query is answered with one line,
// the phrases joined by '|' or "-1".
//
// # Key Features
//
//   - Hybrid child storage: dense arrays near the root, rank-indexed bitsets below
//   - Tombstone deletes that keep nodes for cheap re-insertion
//   - Lock-striped earliest-match table reset per query without a sweep
//   - Fan-out or worker-pool scheduling
//   - Plain, zstd and lz4 dictionary files
package phrasetrie
