// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package search implements batched beam-search decoding over an opaque
// neural scorer.
//
// The scorer (see Scorer) encodes a batch of inputs once and is then driven
// step by step: at each step it receives the previous tokens of every live
// hypothesis and returns next-token log-probabilities plus updated recurrent
// state. The engine keeps K parallel hypotheses per example (see Beam),
// reorders the carried state after every step so it stays aligned with the
// surviving hypotheses, stops each example independently when its best
// hypothesis ends, and finally backtraces the best-scoring sequence.
//
// The engine is device-agnostic: it only ever touches local tensors
// host-side, and all numeric work of the model happens inside the Scorer.
package search

import (
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Scorer is the neural model driving the search. Implementations are
// expected to be expensive (device-bound); the engine calls Encode exactly
// once per Predict and Step at most MaxSteps times.
//
// Step must not mutate its inputs: state reordering is handled by the
// engine on the tensors Step returned in the previous StepResult.
type Scorer interface {
	// Encode runs the encoder(s) over a scorer-specific input batch and
	// returns the encoded contexts and the initial decoder state.
	Encode(input any) (*Encoded, error)

	// Step advances the decoder by one token. prevTokens has one entry per
	// hypothesis row (beam-major: row k*batchSize+b is candidate k of
	// example b), state and enc carry the replicated tensors from the
	// previous step, and the returned log-probabilities are shaped
	// [len(prevTokens), vocabSize].
	Step(prevTokens []int32, state *State, enc *Encoded) (*StepResult, error)
}

// Encoded is the output of Scorer.Encode: everything the step function needs
// besides the previous tokens. The engine owns all tensors in an Encoded for
// the duration of one Predict call.
type Encoded struct {
	// BatchSize is the number of examples encoded.
	BatchSize int

	// Contexts holds the encoder outputs and their masks, each with leading
	// axis BatchSize. The engine replicates them along the beam axis and
	// passes them back to Step unchanged; their order and meaning are
	// private to the Scorer.
	Contexts []*tensors.Tensor

	// State is the initial decoder recurrent state, leading axis BatchSize.
	State *State

	// EditLogits optionally carries a per-example classification computed at
	// encode time. The search never touches it; it is copied to the Result.
	EditLogits *tensors.Tensor
}

// State is the decoder's carried recurrent state: one tensor per stateful
// component (for an LSTM, hidden and cell). Every tensor must keep the
// hypothesis rows as its leading axis, since the engine permutes those rows
// after each step.
type State struct {
	Tensors []*tensors.Tensor
}

// StepResult is the output of one Scorer.Step call.
type StepResult struct {
	// LogProbs is the next-token distribution per hypothesis row, shaped
	// [rows, vocabSize], float32.
	LogProbs *tensors.Tensor

	// State is the updated recurrent state, same layout as the input state.
	State *State

	// Attentions optionally holds one attention-weight tensor per attended
	// context, each shaped [rows, contextLen]. Only read when the decoder
	// was configured with WithAttentionLog.
	Attentions []*tensors.Tensor
}

// Result is the outcome of one Predict call.
type Result struct {
	// Sequences holds, per example, the best decoded token sequence with
	// control tokens (SOS/EOS/PAD) pruned.
	Sequences [][]int32

	// Scores holds the cumulative log-probability of each returned sequence.
	Scores []float64

	// EditLogits passes through Encoded.EditLogits, possibly nil.
	EditLogits *tensors.Tensor

	// Attentions, when requested, holds attention weights indexed as
	// [step][example][context][position]. For beam search the row of the
	// step's top-ranked candidate is recorded.
	Attentions [][][][]float32
}

// replicate tiles t beamWidth times along a new leading block, turning
// leading axis batch into beam*batch with beam-major layout (the whole batch
// repeated beamWidth times). This mirrors the repeat-along-beam setup of the
// underlying model contract.
func replicate(t *tensors.Tensor, beamWidth int) (*tensors.Tensor, error) {
	shape := t.Shape()
	if shape.Rank() == 0 {
		return nil, errors.Errorf("cannot replicate scalar tensor along beam axis")
	}
	newDims := make([]int, shape.Rank())
	copy(newDims, shape.Dimensions)
	newDims[0] *= beamWidth

	out := tensors.FromShape(shapes.Make(shape.DType, newDims...))
	var copyErr error
	err := t.ConstBytes(func(src []byte) {
		copyErr = out.MutableBytes(func(dst []byte) {
			for k := 0; k < beamWidth; k++ {
				copy(dst[k*len(src):(k+1)*len(src)], src)
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return out, copyErr
}

// replicateEncoded returns a copy of enc with all contexts and state tensors
// replicated along the beam axis. EditLogits stays per-example.
func replicateEncoded(enc *Encoded, beamWidth int) (*Encoded, error) {
	out := &Encoded{
		BatchSize:  enc.BatchSize,
		Contexts:   make([]*tensors.Tensor, len(enc.Contexts)),
		State:      &State{Tensors: make([]*tensors.Tensor, len(enc.State.Tensors))},
		EditLogits: enc.EditLogits,
	}
	for i, t := range enc.Contexts {
		r, err := replicate(t, beamWidth)
		if err != nil {
			return nil, errors.WithMessagef(err, "replicating context %d", i)
		}
		out.Contexts[i] = r
	}
	for i, t := range enc.State.Tensors {
		r, err := replicate(t, beamWidth)
		if err != nil {
			return nil, errors.WithMessagef(err, "replicating state tensor %d", i)
		}
		out.State.Tensors[i] = r
	}
	return out, nil
}

// flatFloats reads a rank-2 float32 tensor into a flat slice and returns its
// dimensions.
func flatFloats(t *tensors.Tensor) (flat []float32, rows, cols int, err error) {
	shape := t.Shape()
	if shape.Rank() != 2 {
		return nil, 0, 0, errors.Errorf("expected rank-2 tensor, got shape %s", shape)
	}
	rows, cols = shape.Dimensions[0], shape.Dimensions[1]
	flat = make([]float32, rows*cols)
	err = tensors.ConstFlatData(t, func(data []float32) {
		copy(flat, data)
	})
	if err != nil {
		return nil, 0, 0, errors.WithMessagef(err, "reading tensor data")
	}
	return flat, rows, cols, nil
}
