// Package testutil provides testing utilities for lethe.
//
// This package is intended for use in tests and benchmarks only.
// It provides a deterministic embedder that needs no model or network
// access, and seeded random vector generation.
//
// # Deterministic Embedding
//
//	emb := testutil.NewEmbedder(64)
//	store, _ := lethe.New(emb)
//
// Every run embeds a given text to the same L2-normalized vector:
//
//	want := testutil.Vector(64, "some text")
//
// # Random Vectors
//
//	rng := testutil.NewRNG(4711)
//	vec := rng.Vector(128)        // one unit vector
//	vecs := rng.Vectors(100, 128) // a batch of them
package testutil
