// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"math"
	"sort"
)

// Beam tracks the K best partial hypotheses of a single example.
//
// tokens and origins grow one row per step: tokens[t][i] is the token chosen
// by candidate i at step t, origins[t][i] the candidate slot at step t-1 it
// extends. tokens additionally has a synthetic first row holding the
// start-of-sequence token in slot 0 (there is no origins row for it).
type Beam struct {
	width int
	eos   int32

	scores  []float64
	tokens  [][]int32
	origins [][]int
	done    bool
}

// NewBeam creates a beam of the given width. Slot 0 starts at score zero
// with the start token; all other slots start at -Inf so the first step
// expands from a single real hypothesis.
func NewBeam(width int, sos, eos, pad int32) *Beam {
	b := &Beam{
		width:  width,
		eos:    eos,
		scores: make([]float64, width),
	}
	for i := 1; i < width; i++ {
		b.scores[i] = math.Inf(-1)
	}
	start := make([]int32, width)
	start[0] = sos
	for i := 1; i < width; i++ {
		start[i] = pad
	}
	b.tokens = append(b.tokens, start)
	return b
}

// Width returns the beam width K.
func (b *Beam) Width() int { return b.width }

// Done reports whether the top-ranked hypothesis has ended.
func (b *Beam) Done() bool { return b.done }

// Steps returns the number of Advance calls that extended this beam.
func (b *Beam) Steps() int { return len(b.origins) }

// CurrentTokens returns the most recent token of each candidate, in slot
// order, for feeding the scorer's next step.
func (b *Beam) CurrentTokens() []int32 {
	return b.tokens[len(b.tokens)-1]
}

// CurrentOrigins returns the backpointers produced by the latest Advance:
// entry i is the previous-step slot that candidate i extends. Before the
// first Advance it returns the identity permutation.
func (b *Beam) CurrentOrigins() []int {
	if len(b.origins) == 0 {
		identity := make([]int, b.width)
		for i := range identity {
			identity[i] = i
		}
		return identity
	}
	return b.origins[len(b.origins)-1]
}

// Advance extends the beam with one step of next-token log-probabilities,
// one row per candidate slot. It keeps the K best (candidate, token) pairs
// by cumulative score; on equal scores the lower flattened index wins
// (lower candidate slot first, then lower token id), which makes the search
// fully deterministic.
//
// Calling Advance on a finished beam is a no-op and returns true.
func (b *Beam) Advance(stepLogProbs [][]float32) bool {
	if b.done {
		return true
	}
	numWords := len(stepLogProbs[0])

	// On the first step only slot 0 holds a real hypothesis; ranking the
	// other rows would surface -Inf artifacts.
	expandable := b.width
	if len(b.origins) == 0 {
		expandable = 1
	}

	flat := make([]float64, expandable*numWords)
	for i := 0; i < expandable; i++ {
		row := stepLogProbs[i]
		base := b.scores[i]
		for v, lp := range row {
			flat[i*numWords+v] = base + float64(lp)
		}
	}

	order := make([]int, len(flat))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		if flat[order[i]] != flat[order[j]] {
			return flat[order[i]] > flat[order[j]]
		}
		return order[i] < order[j]
	})

	nextTokens := make([]int32, b.width)
	nextOrigins := make([]int, b.width)
	for rank := 0; rank < b.width; rank++ {
		idx := order[rank]
		b.scores[rank] = flat[idx]
		nextOrigins[rank] = idx / numWords
		nextTokens[rank] = int32(idx % numWords)
	}
	b.tokens = append(b.tokens, nextTokens)
	b.origins = append(b.origins, nextOrigins)

	if nextTokens[0] == b.eos {
		b.done = true
	}
	return b.done
}

// SortBest returns the final scores in descending order together with the
// candidate slots they belong to. Rank 0 is the best hypothesis; callers
// wanting K-best output can walk the remaining ranks.
func (b *Beam) SortBest() (scores []float64, slots []int) {
	slots = make([]int, b.width)
	for i := range slots {
		slots[i] = i
	}
	sort.Slice(slots, func(i, j int) bool {
		if b.scores[slots[i]] != b.scores[slots[j]] {
			return b.scores[slots[i]] > b.scores[slots[j]]
		}
		return slots[i] < slots[j]
	})
	scores = make([]float64, b.width)
	for i, s := range slots {
		scores[i] = b.scores[s]
	}
	return scores, slots
}

// Hyp backtraces the full token sequence of the candidate currently in the
// given slot, following the backpointer rows from the last step to the
// first. The returned sequence has one token per step taken and is not
// pruned of control tokens.
func (b *Beam) Hyp(slot int) []int32 {
	hyp := make([]int32, len(b.origins))
	k := slot
	for t := len(b.origins) - 1; t >= 0; t-- {
		hyp[t] = b.tokens[t+1][k]
		k = b.origins[t][k]
	}
	return hyp
}
