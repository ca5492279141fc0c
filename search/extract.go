// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

// extract pulls the best-scoring hypothesis out of every finished (or
// exhausted) beam: the backtraced token sequence, pruned of control tokens
// and truncated at the first end token, plus its cumulative score.
func (d *Decoder) extract(beams []*Beam) (sequences [][]int32, scores []float64) {
	sequences = make([][]int32, len(beams))
	scores = make([]float64, len(beams))
	for b, beam := range beams {
		best, slots := beam.SortBest()
		scores[b] = best[0]
		sequences[b] = d.prune(beam.Hyp(slots[0]))
	}
	return sequences, scores
}

// prune cuts a raw hypothesis at the first end token and drops remaining
// control tokens. The result is empty (never nil) when nothing survives.
func (d *Decoder) prune(hyp []int32) []int32 {
	out := make([]int32, 0, len(hyp))
	for _, tok := range hyp {
		if tok == d.EOS {
			break
		}
		if tok == d.SOS || tok == d.PAD {
			continue
		}
		out = append(out, tok)
	}
	return out
}
