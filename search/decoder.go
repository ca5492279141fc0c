// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Default control-token ids, matching the vocab package.
const (
	defaultPAD int32 = 0
	defaultSOS int32 = 2
	defaultEOS int32 = 3
)

// Decoder drives the stepwise beam-search loop over a whole batch of
// examples concurrently. Create it with New, adjust with the With* builders
// and run with Predict. A Decoder is stateless across calls and can be
// shared, but each Predict call owns its encoded tensors exclusively.
type Decoder struct {
	// BeamWidth is the number of parallel hypotheses kept per example.
	// Width 1 is routed to a simplified greedy path with identical results.
	BeamWidth int

	// MaxSteps bounds the number of generated tokens per example.
	MaxSteps int

	// Control-token ids used for start feeding and output pruning.
	SOS, EOS, PAD int32

	// LogAttention requests the per-step attention side channel in Result.
	// It never affects the search itself.
	LogAttention bool
}

// New creates a Decoder with the default beam width of 5 and the vocab
// package's control-token ids.
func New() *Decoder {
	return &Decoder{
		BeamWidth: 5,
		MaxSteps:  50,
		SOS:       defaultSOS,
		EOS:       defaultEOS,
		PAD:       defaultPAD,
	}
}

// WithBeamWidth sets the number of hypotheses kept per example.
func (d *Decoder) WithBeamWidth(width int) *Decoder {
	d.BeamWidth = width
	return d
}

// WithMaxSteps sets the upper bound on generated sequence length.
func (d *Decoder) WithMaxSteps(steps int) *Decoder {
	d.MaxSteps = steps
	return d
}

// WithTokens sets the control-token ids.
func (d *Decoder) WithTokens(sos, eos, pad int32) *Decoder {
	d.SOS, d.EOS, d.PAD = sos, eos, pad
	return d
}

// WithAttentionLog toggles the attention-weight side channel.
func (d *Decoder) WithAttentionLog(enabled bool) *Decoder {
	d.LogAttention = enabled
	return d
}

// validate fails fast on configuration errors, before any scorer call.
func (d *Decoder) validate() error {
	if d.BeamWidth <= 0 {
		return errors.Errorf("beam width must be positive, got %d", d.BeamWidth)
	}
	if d.MaxSteps <= 0 {
		return errors.Errorf("max steps must be positive, got %d", d.MaxSteps)
	}
	return nil
}

// validateEncoded checks the batch-size contract between contexts, state and
// the declared batch size. A mismatch is a caller bug, not recoverable.
func (d *Decoder) validateEncoded(enc *Encoded) error {
	if enc.BatchSize <= 0 {
		return errors.Errorf("encoded batch size must be positive, got %d", enc.BatchSize)
	}
	for i, t := range enc.Contexts {
		if t.Shape().Rank() == 0 || t.Shape().Dimensions[0] != enc.BatchSize {
			return errors.Errorf("context tensor %d has shape %s, want leading axis %d",
				i, t.Shape(), enc.BatchSize)
		}
	}
	if enc.State == nil || len(enc.State.Tensors) == 0 {
		return errors.Errorf("encoded output carries no decoder state")
	}
	for i, t := range enc.State.Tensors {
		if t.Shape().Rank() == 0 || t.Shape().Dimensions[0] != enc.BatchSize {
			return errors.Errorf("state tensor %d has shape %s, want leading axis %d",
				i, t.Shape(), enc.BatchSize)
		}
	}
	return nil
}

// Predict encodes the input via the scorer and decodes every example of the
// batch, returning the best hypothesis per example. Scorer errors propagate
// unmodified; decoding is deterministic, so there is nothing to retry.
func (d *Decoder) Predict(scorer Scorer, input any) (*Result, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	enc, err := scorer.Encode(input)
	if err != nil {
		return nil, err
	}
	if err := d.validateEncoded(enc); err != nil {
		return nil, err
	}
	if d.BeamWidth == 1 {
		return d.predictGreedy(scorer, enc)
	}
	return d.predictBeam(scorer, enc)
}

func (d *Decoder) predictBeam(scorer Scorer, enc *Encoded) (*Result, error) {
	batchSize := enc.BatchSize
	width := d.BeamWidth

	renc, err := replicateEncoded(enc, width)
	if err != nil {
		return nil, err
	}
	state := renc.State

	beams := make([]*Beam, batchSize)
	for b := range beams {
		beams[b] = NewBeam(width, d.SOS, d.EOS, d.PAD)
	}

	var attns [][][][]float32
	prev := make([]int32, width*batchSize)
	rowBuf := make([][]float32, width)
	numDone := 0

	for step := 0; step < d.MaxSteps; step++ {
		// Gather the latest token of every hypothesis, beam-major.
		for b, beam := range beams {
			current := beam.CurrentTokens()
			for k := 0; k < width; k++ {
				prev[k*batchSize+b] = current[k]
			}
		}

		res, err := scorer.Step(prev, state, renc)
		if err != nil {
			return nil, err
		}
		flat, rows, vocabSize, err := flatFloats(res.LogProbs)
		if err != nil {
			return nil, errors.WithMessagef(err, "step %d log-probabilities", step)
		}
		if rows != width*batchSize {
			return nil, errors.Errorf(
				"step %d returned %d log-probability rows, want beamWidth*batchSize = %d",
				step, rows, width*batchSize)
		}
		if vocabSize < width {
			return nil, errors.Errorf(
				"vocabulary size %d is smaller than beam width %d", vocabSize, width)
		}
		state = res.State

		var stepAttn [][][]float32
		if d.LogAttention {
			stepAttn = make([][][]float32, batchSize)
		}

		for b, beam := range beams {
			if beam.Done() {
				continue
			}
			for k := 0; k < width; k++ {
				row := (k*batchSize + b) * vocabSize
				rowBuf[k] = flat[row : row+vocabSize]
			}
			finished := beam.Advance(rowBuf)
			if d.LogAttention {
				// Record the attention of the row the new top-ranked
				// candidate was expanded from.
				origin := beam.CurrentOrigins()[0]
				stepAttn[b], err = attentionRows(res.Attentions, origin*batchSize+b)
				if err != nil {
					return nil, errors.WithMessagef(err, "step %d attention", step)
				}
			}
			if finished {
				numDone++
				continue
			}
			if err := ReorderState(state, b, batchSize, beam.CurrentOrigins()); err != nil {
				return nil, err
			}
		}
		if d.LogAttention {
			attns = append(attns, stepAttn)
		}

		klog.V(2).Infof("beam search step %d: %d/%d examples done", step, numDone, batchSize)
		if numDone == batchSize {
			break
		}
	}

	sequences, scores := d.extract(beams)
	return &Result{
		Sequences:  sequences,
		Scores:     scores,
		EditLogits: renc.EditLogits,
		Attentions: attns,
	}, nil
}

// attentionRows pulls one row out of each per-context attention tensor.
func attentionRows(attentions []*tensors.Tensor, row int) ([][]float32, error) {
	if len(attentions) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(attentions))
	for i, t := range attentions {
		flat, rows, cols, err := flatFloats(t)
		if err != nil {
			return nil, err
		}
		if row >= rows {
			return nil, errors.Errorf("attention tensor %d has %d rows, want at least %d",
				i, rows, row+1)
		}
		out[i] = append([]float32(nil), flat[row*cols:(row+1)*cols]...)
	}
	return out, nil
}
