// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package search

import (
	"github.com/pkg/errors"
)

// ReorderState permutes the beam slots of one example inside every carried
// state tensor, in place. origins[i] names the slot whose state candidate i
// now continues from, i.e. the backpointers the example's beam just
// produced.
//
// Tensors are laid out beam-major: candidate k of example b occupies row
// k*batchSize+b. Every stateful tensor the scorer consumes next step must be
// listed in state — missing one desynchronizes the state from the token
// history and silently corrupts all later steps.
func ReorderState(state *State, example, batchSize int, origins []int) error {
	width := len(origins)
	for ti, t := range state.Tensors {
		rows := t.Shape().Dimensions[0]
		if rows != width*batchSize {
			return errors.Errorf(
				"state tensor %d has %d rows, want beamWidth*batchSize = %d*%d",
				ti, rows, width, batchSize)
		}
		err := t.MutableBytes(func(data []byte) {
			if len(data)%rows != 0 {
				// Cannot happen for a well-formed tensor; guard anyway.
				return
			}
			rowBytes := len(data) / rows
			prev := make([]byte, width*rowBytes)
			for k := 0; k < width; k++ {
				row := (k*batchSize + example) * rowBytes
				copy(prev[k*rowBytes:(k+1)*rowBytes], data[row:row+rowBytes])
			}
			for k, o := range origins {
				row := (k*batchSize + example) * rowBytes
				copy(data[row:row+rowBytes], prev[o*rowBytes:(o+1)*rowBytes])
			}
		})
		if err != nil {
			return errors.WithMessagef(err, "reordering state tensor %d", ti)
		}
	}
	return nil
}
