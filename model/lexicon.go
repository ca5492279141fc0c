// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"math/rand"

	"github.com/gomlx/lemma/vocab"
)

// EmptyLexiconEntry returns the placeholder sequence standing in for a
// missing dictionary entry: just the sequence brackets, no characters.
func EmptyLexiconEntry() []int32 {
	return []int32{vocab.SosID, vocab.EosID}
}

// LexiconDropout returns a copy of entries where each entry was replaced by
// EmptyLexiconEntry with probability p. Training with dropout > 0 keeps the
// model usable on words absent from the lexicon; at inference p is 0.
//
// The rng is injected so callers control determinism.
func LexiconDropout(entries [][]int32, p float64, rng *rand.Rand) [][]int32 {
	out := make([][]int32, len(entries))
	for i, e := range entries {
		if p > 0 && (p >= 1 || rng.Float64() < p) {
			out[i] = EmptyLexiconEntry()
			continue
		}
		out[i] = e
	}
	return out
}
