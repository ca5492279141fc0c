// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
)

// attend is soft dot-product attention of the decoder hidden state over one
// encoded context.
//
//   - query: [rows, hidden]
//   - encoded: [rows, len, dim]
//   - mask: [rows, len] bool, true on valid positions
//
// It returns the attention-weighted context [rows, dim] and the normalized
// weights [rows, len]. Padding positions get zero weight via the mask.
func attend(ctx *context.Context, query, encoded, mask *Node) (weighted, weights *Node) {
	dim := encoded.Shape().Dim(-1)
	projected := layers.Dense(ctx.In("query"), query, false, dim)
	scores := Einsum("rd,rld->rl", projected, encoded)
	weights = MaskedSoftmax(scores, mask, -1)
	weighted = Einsum("rl,rld->rd", weights, encoded)
	return weighted, weights
}
