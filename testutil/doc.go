// Package testutil provides testing utilities for phrasetrie.
//
// This package is intended for use in tests and benchmarks only.
// It provides seeded generators for vocabularies, phrases, query lines and
// whole protocol sessions, and a brute-force matcher used as ground truth.
//
// # Random Phrases
//
//	rng := testutil.NewRNG(seed)
//	vocab := rng.Vocabulary(50, 4)
//	phrase := rng.Phrase(vocab, 3)
//
// # Ground Truth
//
//	want := testutil.BruteForceLine(active, query, false)
//
// # Sessions
//
//	s := rng.Session(vocab, testutil.SessionConfig{Preload: 100, Commands: 1000})
//	// feed s.Input to the server and compare with s.Output
package testutil
