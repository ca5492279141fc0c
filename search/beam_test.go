// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Token ids used by the search tests. Deliberately different from the vocab
// package defaults so the tests catch hard-coded ids.
const (
	tPAD int32 = 0
	tSOS int32 = 1
	tEOS int32 = 2
	tA   int32 = 3
	tB   int32 = 4
)

func TestNewBeam(t *testing.T) {
	b := NewBeam(3, tSOS, tEOS, tPAD)
	assert.Equal(t, 3, b.Width())
	assert.False(t, b.Done())
	assert.Equal(t, 0, b.Steps())
	assert.Equal(t, []int32{tSOS, tPAD, tPAD}, b.CurrentTokens())
	assert.Equal(t, []int{0, 1, 2}, b.CurrentOrigins(),
		"before the first advance origins must be the identity")
}

func TestBeamFirstStepExpandsSingleSlot(t *testing.T) {
	b := NewBeam(2, tSOS, tEOS, tPAD)
	// Slot 1 offers a huge score; it must be ignored on the first step
	// because only slot 0 holds a real hypothesis.
	done := b.Advance([][]float32{
		{-9, -9, -9, -0.1, -1.0},
		{0, 0, 0, 0, 0},
	})
	assert.False(t, done)
	assert.Equal(t, []int32{tA, tB}, b.CurrentTokens())
	assert.Equal(t, []int{0, 0}, b.CurrentOrigins())
	assert.InDelta(t, -0.1, b.scores[0], 1e-6)
	assert.InDelta(t, -1.0, b.scores[1], 1e-6)
}

func TestBeamAdvanceRanksAcrossSlots(t *testing.T) {
	b := NewBeam(2, tSOS, tEOS, tPAD)
	b.Advance([][]float32{
		{-9, -9, -9, -0.1, -1.0},
		{-9, -9, -9, -9, -9},
	})
	// Slot 1 (history ...tB, score -1.0) now offers the best continuation:
	// -1.0 + -0.1 = -1.1 beats slot 0's -0.1 + -2.0 = -2.1.
	done := b.Advance([][]float32{
		{-9, -9, -9, -2.0, -2.0},
		{-9, -9, -9, -0.1, -3.0},
	})
	assert.False(t, done)
	assert.Equal(t, []int32{tA, tA}, b.CurrentTokens())
	assert.Equal(t, []int{1, 0}, b.CurrentOrigins())
	assert.InDelta(t, -1.1, b.scores[0], 1e-6)
	assert.InDelta(t, -2.1, b.scores[1], 1e-6)
}

func TestBeamTieBreakPrefersLowerFlatIndex(t *testing.T) {
	t.Run("lower token id wins within a slot", func(t *testing.T) {
		b := NewBeam(2, tSOS, tEOS, tPAD)
		b.Advance([][]float32{
			{-9, -9, -9, -0.5, -0.5},
			{-9, -9, -9, -9, -9},
		})
		assert.Equal(t, []int32{tA, tB}, b.CurrentTokens())
	})
	t.Run("lower slot wins across slots", func(t *testing.T) {
		b := NewBeam(2, tSOS, tEOS, tPAD)
		b.Advance([][]float32{
			{-9, -9, -9, -0.5, -0.5},
			{-9, -9, -9, -9, -9},
		})
		// Both slots have equal cumulative score for token tA: slot 0 at
		// -0.5-0.5, slot 1 at -0.5-0.5. Slot 0 must rank first.
		done := b.Advance([][]float32{
			{-9, -9, -9, -0.5, -9},
			{-9, -9, -9, -0.5, -9},
		})
		assert.False(t, done)
		assert.Equal(t, []int{0, 1}, b.CurrentOrigins())
	})
}

func TestBeamDoneOnTopEOS(t *testing.T) {
	b := NewBeam(2, tSOS, tEOS, tPAD)
	b.Advance([][]float32{
		{-9, -9, -9, -0.1, -1.0},
		{-9, -9, -9, -9, -9},
	})
	done := b.Advance([][]float32{
		{-9, -9, -0.05, -5, -5},
		{-9, -9, -9, -9, -9},
	})
	require.True(t, done)
	assert.True(t, b.Done())
	assert.Equal(t, 2, b.Steps())

	// A finished beam ignores further advances.
	tokens := append([]int32(nil), b.CurrentTokens()...)
	assert.True(t, b.Advance([][]float32{{0, 0, 0, 0, 0}, {0, 0, 0, 0, 0}}))
	assert.Equal(t, 2, b.Steps())
	assert.Equal(t, tokens, b.CurrentTokens())
}

func TestBeamEOSBelowTopKeepsGoing(t *testing.T) {
	b := NewBeam(2, tSOS, tEOS, tPAD)
	b.Advance([][]float32{
		{-9, -9, -9, -0.1, -1.0},
		{-9, -9, -9, -9, -9},
	})
	// EOS lands in slot 1; the search must continue.
	done := b.Advance([][]float32{
		{-9, -9, -0.5, -0.1, -9},
		{-9, -9, -9, -9, -9},
	})
	assert.False(t, done)
	assert.Equal(t, []int32{tA, tEOS}, b.CurrentTokens())
}

func TestBeamHypBacktrace(t *testing.T) {
	b := NewBeam(2, tSOS, tEOS, tPAD)
	b.Advance([][]float32{
		{-9, -9, -9, -0.1, -1.0},
		{-9, -9, -9, -9, -9},
	})
	// Best continuation comes from slot 1 (history tB), so the backtrace
	// must follow the backpointer and not just read the token rows.
	b.Advance([][]float32{
		{-9, -9, -9, -5.0, -5.0},
		{-9, -9, -9, -0.1, -9},
	})
	b.Advance([][]float32{
		{-9, -9, -0.1, -9, -9},
		{-9, -9, -9, -9, -9},
	})
	require.True(t, b.Done())
	_, slots := b.SortBest()
	assert.Equal(t, []int32{tB, tA, tEOS}, b.Hyp(slots[0]))
}

func TestBeamSortBest(t *testing.T) {
	b := NewBeam(3, tSOS, tEOS, tPAD)
	b.Advance([][]float32{
		{-9, -9, -9, -0.3, -0.1},
		{-9, -9, -9, -9, -9},
		{-9, -9, -9, -9, -9},
	})
	scores, slots := b.SortBest()
	assert.Equal(t, []int{0, 1, 2}, slots)
	assert.InDelta(t, -0.1, scores[0], 1e-6)
	assert.InDelta(t, -0.3, scores[1], 1e-6)
	assert.True(t, math.IsInf(scores[2], -1))
	for i := 1; i < len(scores); i++ {
		assert.LessOrEqual(t, scores[i], scores[i-1], "scores must be descending")
	}
}
