// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// predictGreedy decodes with beam width 1. There is a single hypothesis per
// example, so no replication, backpointers or state reordering are needed;
// the output is identical to running the beam path with width 1.
func (d *Decoder) predictGreedy(scorer Scorer, enc *Encoded) (*Result, error) {
	batchSize := enc.BatchSize
	state := enc.State

	prev := make([]int32, batchSize)
	for b := range prev {
		prev[b] = d.SOS
	}
	done := make([]bool, batchSize)
	sequences := make([][]int32, batchSize)
	scores := make([]float64, batchSize)

	var attns [][][][]float32
	numDone := 0

	for step := 0; step < d.MaxSteps && numDone < batchSize; step++ {
		res, err := scorer.Step(prev, state, enc)
		if err != nil {
			return nil, err
		}
		flat, rows, vocabSize, err := flatFloats(res.LogProbs)
		if err != nil {
			return nil, errors.WithMessagef(err, "step %d log-probabilities", step)
		}
		if rows != batchSize {
			return nil, errors.Errorf(
				"step %d returned %d log-probability rows, want batchSize = %d",
				step, rows, batchSize)
		}
		state = res.State

		var stepAttn [][][]float32
		if d.LogAttention {
			stepAttn = make([][][]float32, batchSize)
		}

		for b := 0; b < batchSize; b++ {
			if done[b] {
				continue
			}
			row := flat[b*vocabSize : (b+1)*vocabSize]
			best := 0
			for v := 1; v < vocabSize; v++ {
				if row[v] > row[best] {
					best = v
				}
			}
			scores[b] += float64(row[best])
			tok := int32(best)
			prev[b] = tok
			if d.LogAttention {
				stepAttn[b], err = attentionRows(res.Attentions, b)
				if err != nil {
					return nil, errors.WithMessagef(err, "step %d attention", step)
				}
			}
			if tok == d.EOS {
				done[b] = true
				numDone++
				continue
			}
			if tok != d.SOS && tok != d.PAD {
				sequences[b] = append(sequences[b], tok)
			}
		}
		if d.LogAttention {
			attns = append(attns, stepAttn)
		}

		klog.V(2).Infof("greedy search step %d: %d/%d examples done", step, numDone, batchSize)
	}

	for b := range sequences {
		if sequences[b] == nil {
			sequences[b] = []int32{}
		}
	}
	return &Result{
		Sequences:  sequences,
		Scores:     scores,
		EditLogits: enc.EditLogits,
		Attentions: attns,
	}, nil
}
