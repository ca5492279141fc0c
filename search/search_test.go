// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplicate(t *testing.T) {
	src := tensors.FromFlatDataAndDimensions([]float32{0, 1, 2, 10, 11, 12}, 2, 3)

	out, err := replicate(src, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 3}, out.Shape().Dimensions)

	flat, rows, cols, err := flatFloats(out)
	require.NoError(t, err)
	assert.Equal(t, 6, rows)
	assert.Equal(t, 3, cols)
	// Beam-major: the whole batch repeats, so candidate k of example b sits
	// at row k*2+b.
	want := []float32{0, 1, 2, 10, 11, 12, 0, 1, 2, 10, 11, 12, 0, 1, 2, 10, 11, 12}
	assert.Equal(t, want, flat)

	// The source is untouched.
	srcFlat, _, _, err := flatFloats(src)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 2, 10, 11, 12}, srcFlat)
}

func TestReplicateScalarFails(t *testing.T) {
	_, err := replicate(tensors.FromValue(float32(1)), 2)
	require.Error(t, err)
}

func TestReplicateEncoded(t *testing.T) {
	enc := makeEncoded(2, 3)
	enc.EditLogits = tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)

	out, err := replicateEncoded(enc, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, out.BatchSize)
	require.Len(t, out.Contexts, 1)
	assert.Equal(t, []int{4, 3}, out.Contexts[0].Shape().Dimensions)
	require.Len(t, out.State.Tensors, 2)
	for _, st := range out.State.Tensors {
		assert.Equal(t, []int{4, 3}, st.Shape().Dimensions)
	}
	// Edit logits are per-example and stay untouched.
	assert.Same(t, enc.EditLogits, out.EditLogits)
}

func TestFlatFloats(t *testing.T) {
	flat, rows, cols, err := flatFloats(
		tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, 2, rows)
	assert.Equal(t, 3, cols)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, flat)

	_, _, _, err = flatFloats(tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2))
	require.Error(t, err, "rank-1 tensors are rejected")
}
