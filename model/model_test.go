// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"math/rand"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/lemma/vocab"
)

func TestValidate(t *testing.T) {
	base := func() *Seq2Seq { return New(nil, nil, 30) }

	assert.NoError(t, base().validate())

	tests := []struct {
		name   string
		mangle func(*Seq2Seq) *Seq2Seq
	}{
		{"vocab too small", func(m *Seq2Seq) *Seq2Seq { m.VocabSize = vocab.NumSpecial; return m }},
		{"zero embedding", func(m *Seq2Seq) *Seq2Seq { return m.WithDims(0, 200) }},
		{"zero hidden", func(m *Seq2Seq) *Seq2Seq { return m.WithDims(50, 0) }},
		{"negative edit classes", func(m *Seq2Seq) *Seq2Seq { return m.WithEditClasses(-1) }},
		{"integer dtype", func(m *Seq2Seq) *Seq2Seq { return m.WithDType(dtypes.Int32) }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Error(t, test.mangle(base()).validate())
		})
	}
}

func TestEncodeRequiresCompile(t *testing.T) {
	m := New(nil, nil, 30)
	_, err := m.Encode(&Input{Src: [][]int32{{vocab.SosID, 5, vocab.EosID}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not compiled")

	_, err = m.Step([]int32{vocab.SosID}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not compiled")
}

func TestPadBatch(t *testing.T) {
	batch, lengths := padBatch([][]int32{
		{2, 5, 3},
		{2, 3},
		{2, 6, 7, 3},
	}, 0)

	assert.Equal(t, []int{3, 4}, batch.Shape().Dimensions)
	assert.Equal(t, []int{3}, lengths.Shape().Dimensions)

	var flat []int32
	require.NoError(t, tensors.ConstFlatData(batch, func(data []int32) {
		flat = append(flat, data...)
	}))
	assert.Equal(t, []int32{
		2, 5, 3, 0,
		2, 3, 0, 0,
		2, 6, 7, 3,
	}, flat)

	var lens []int32
	require.NoError(t, tensors.ConstFlatData(lengths, func(data []int32) {
		lens = append(lens, data...)
	}))
	assert.Equal(t, []int32{3, 2, 4}, lens)
}

func TestLexiconDropout(t *testing.T) {
	entries := [][]int32{
		{vocab.SosID, 5, 6, vocab.EosID},
		{vocab.SosID, 7, vocab.EosID},
	}

	t.Run("p=0 keeps everything", func(t *testing.T) {
		out := LexiconDropout(entries, 0, rand.New(rand.NewSource(1)))
		assert.Equal(t, entries, out)
	})

	t.Run("p=1 replaces everything", func(t *testing.T) {
		out := LexiconDropout(entries, 1, rand.New(rand.NewSource(1)))
		for _, e := range out {
			assert.Equal(t, EmptyLexiconEntry(), e)
		}
	})

	t.Run("fixed seed is deterministic", func(t *testing.T) {
		a := LexiconDropout(entries, 0.5, rand.New(rand.NewSource(42)))
		b := LexiconDropout(entries, 0.5, rand.New(rand.NewSource(42)))
		assert.Equal(t, a, b)
	})

	t.Run("input is not mutated", func(t *testing.T) {
		LexiconDropout(entries, 1, rand.New(rand.NewSource(1)))
		assert.Equal(t, []int32{vocab.SosID, 5, 6, vocab.EosID}, entries[0])
	})
}
