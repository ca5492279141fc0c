// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package model implements the neural sequence-to-sequence lemmatizer model:
// a bidirectional LSTM encoder over the characters of the input word, an
// optional second encoder over a lexicon (dictionary form) entry, an
// attentional LSTM decoder stepped one character at a time, and an optional
// edit-operation classifier head.
//
// The model is exposed to the search engine through the search.Scorer
// interface: Encode runs the encoders once per batch, Step advances the
// decoder by one character for every live hypothesis row.
package model

import (
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/lstm"
	"github.com/pkg/errors"

	"github.com/gomlx/lemma/search"
	"github.com/gomlx/lemma/vocab"
)

// Seq2Seq configures and runs the lemmatizer model. Create it with New,
// adjust with the With* methods and finish with Done, which compiles the
// encode and step executors.
type Seq2Seq struct {
	backend backends.Backend
	ctx     *context.Context

	// VocabSize is the number of character ids, control tokens included.
	VocabSize int

	// EmbedDim is the character embedding size, HiddenDim the LSTM size of
	// both encoder directions and the decoder.
	EmbedDim, HiddenDim int

	// EditClasses enables the edit-operation classifier head when positive.
	EditClasses int

	// UseLexicon enables the second encoder and attention over a lexicon
	// entry provided per example.
	UseLexicon bool

	// DType of all floating-point computation.
	DType dtypes.DType

	// Control-token ids, defaulting to the vocab package values.
	SOS, EOS, PAD int32

	encodeExec *context.Exec
	stepExec   *context.Exec
}

// Input is one encode batch: the characters of each source word and,
// when the model uses a lexicon, the characters of its dictionary entry.
// All sequences are expected bracketed with SOS/EOS, as vocab.Encode
// produces them.
type Input struct {
	Src [][]int32
	Lex [][]int32
}

// New creates a Seq2Seq model over the given context. The context may come
// from a loaded checkpoint (then the variables are reused) or be fresh (then
// they are initialized on first use).
func New(backend backends.Backend, ctx *context.Context, vocabSize int) *Seq2Seq {
	return &Seq2Seq{
		backend:   backend,
		ctx:       ctx,
		VocabSize: vocabSize,
		EmbedDim:  50,
		HiddenDim: 200,
		DType:     dtypes.Float32,
		SOS:       vocab.SosID,
		EOS:       vocab.EosID,
		PAD:       vocab.PadID,
	}
}

// WithDims sets the character embedding and LSTM hidden sizes.
func (m *Seq2Seq) WithDims(embedDim, hiddenDim int) *Seq2Seq {
	m.EmbedDim, m.HiddenDim = embedDim, hiddenDim
	return m
}

// WithLexicon enables the lexicon encoder and its attention.
func (m *Seq2Seq) WithLexicon(enabled bool) *Seq2Seq {
	m.UseLexicon = enabled
	return m
}

// WithEditClasses enables the edit classifier head with the given number of
// classes; zero disables it.
func (m *Seq2Seq) WithEditClasses(numClasses int) *Seq2Seq {
	m.EditClasses = numClasses
	return m
}

// WithDType sets the floating-point dtype.
func (m *Seq2Seq) WithDType(dtype dtypes.DType) *Seq2Seq {
	m.DType = dtype
	return m
}

// WithTokens sets the control-token ids.
func (m *Seq2Seq) WithTokens(sos, eos, pad int32) *Seq2Seq {
	m.SOS, m.EOS, m.PAD = sos, eos, pad
	return m
}

func (m *Seq2Seq) validate() error {
	if m.VocabSize <= vocab.NumSpecial {
		return errors.Errorf("vocabulary size must be larger than the %d control tokens, got %d",
			vocab.NumSpecial, m.VocabSize)
	}
	if m.EmbedDim <= 0 || m.HiddenDim <= 0 {
		return errors.Errorf("embedding and hidden sizes must be positive, got %d and %d",
			m.EmbedDim, m.HiddenDim)
	}
	if m.EditClasses < 0 {
		return errors.Errorf("number of edit classes cannot be negative, got %d", m.EditClasses)
	}
	if !m.DType.IsFloat() {
		return errors.Errorf("dtype must be floating point, got %s", m.DType)
	}
	return nil
}

// Done validates the configuration and compiles the encode and step
// executors. It must be called before Encode or Step.
func (m *Seq2Seq) Done() (*Seq2Seq, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	var err error
	m.encodeExec, err = context.NewExec(m.backend, m.ctx, m.encodeGraph)
	if err != nil {
		return nil, errors.WithMessagef(err, "compiling encoder")
	}
	m.stepExec, err = context.NewExec(m.backend, m.ctx, m.stepGraph)
	if err != nil {
		return nil, errors.WithMessagef(err, "compiling decoder step")
	}
	return m, nil
}

// Encode implements search.Scorer. The input must be an *Input; all source
// (and lexicon, when enabled) sequences are padded to a dense batch and run
// through the encoders.
func (m *Seq2Seq) Encode(input any) (*search.Encoded, error) {
	if m.encodeExec == nil {
		return nil, errors.Errorf("model is not compiled, call Done first")
	}
	in, ok := input.(*Input)
	if !ok {
		return nil, errors.Errorf("expected *model.Input, got %T", input)
	}
	if len(in.Src) == 0 {
		return nil, errors.Errorf("empty input batch")
	}
	if m.UseLexicon && len(in.Lex) != len(in.Src) {
		return nil, errors.Errorf("got %d lexicon entries for %d source words",
			len(in.Lex), len(in.Src))
	}

	src, srcLen := padBatch(in.Src, m.PAD)
	args := []any{src, srcLen}
	if m.UseLexicon {
		lex, lexLen := padBatch(in.Lex, m.PAD)
		args = append(args, lex, lexLen)
	}
	outputs, err := m.encodeExec.Exec(args...)
	if err != nil {
		return nil, errors.WithMessagef(err, "running encoder")
	}

	// Output order is fixed by encodeGraph: the contexts and their masks
	// first, then the initial decoder state, then the optional edit logits.
	numContexts := 2
	if m.UseLexicon {
		numContexts = 4
	}
	want := numContexts + 2
	if m.EditClasses > 0 {
		want++
	}
	if len(outputs) != want {
		return nil, errors.Errorf("encoder produced %d outputs, want %d", len(outputs), want)
	}
	enc := &search.Encoded{
		BatchSize: len(in.Src),
		Contexts:  outputs[:numContexts],
		State:     &search.State{Tensors: outputs[numContexts : numContexts+2]},
	}
	if m.EditClasses > 0 {
		enc.EditLogits = outputs[numContexts+2]
	}
	return enc, nil
}

// Step implements search.Scorer: one decoder step over all hypothesis rows.
func (m *Seq2Seq) Step(prevTokens []int32, state *search.State, enc *search.Encoded) (*search.StepResult, error) {
	if m.stepExec == nil {
		return nil, errors.Errorf("model is not compiled, call Done first")
	}
	if len(state.Tensors) != 2 {
		return nil, errors.Errorf("expected LSTM state with 2 tensors, got %d", len(state.Tensors))
	}
	prev := tensors.FromFlatDataAndDimensions(
		append([]int32(nil), prevTokens...), len(prevTokens))

	args := []any{prev, state.Tensors[0], state.Tensors[1]}
	for _, c := range enc.Contexts {
		args = append(args, c)
	}
	outputs, err := m.stepExec.Exec(args...)
	if err != nil {
		return nil, errors.WithMessagef(err, "running decoder step")
	}
	if len(outputs) < 4 {
		return nil, errors.Errorf("decoder step produced %d outputs, want at least 4", len(outputs))
	}
	return &search.StepResult{
		LogProbs:   outputs[0],
		State:      &search.State{Tensors: outputs[1:3]},
		Attentions: outputs[3:],
	}, nil
}

// encodeGraph builds the encoder computation. Inputs are [src, srcLen] plus
// [lex, lexLen] when the lexicon is enabled; src and lex are [batch, len]
// int32, the lengths [batch] int32.
func (m *Seq2Seq) encodeGraph(ctx *context.Context, inputs []*Node) []*Node {
	src, srcLen := inputs[0], inputs[1]

	srcCtx, srcMask, srcFinal := m.encodeSequence(ctx.In("encoder"), src, srcLen)
	stateFeatures := srcFinal

	outputs := []*Node{srcCtx, srcMask}
	if m.UseLexicon {
		lex, lexLen := inputs[2], inputs[3]
		lexCtx, lexMask, lexFinal := m.encodeSequence(ctx.In("lex_encoder"), lex, lexLen)
		outputs = append(outputs, lexCtx, lexMask)
		stateFeatures = Concatenate([]*Node{srcFinal, lexFinal}, -1)
	}

	// Project the encoder summary down to the decoder state size.
	h0 := layers.Dense(ctx.In("init_hidden"), stateFeatures, true, m.HiddenDim)
	c0 := layers.Dense(ctx.In("init_cell"), stateFeatures, true, m.HiddenDim)
	outputs = append(outputs, h0, c0)

	if m.EditClasses > 0 {
		hidden := layers.Dense(ctx.In("edit_hidden"), stateFeatures, true, m.HiddenDim)
		hidden = activations.Relu(hidden)
		outputs = append(outputs, layers.Dense(ctx.In("edit_out"), hidden, true, m.EditClasses))
	}
	return outputs
}

// encodeSequence embeds one token batch and runs the bidirectional LSTM over
// it. It returns the per-position context [batch, len, 2*hidden], the valid
// mask [batch, len] and the concatenated final hidden states
// [batch, 2*hidden].
func (m *Seq2Seq) encodeSequence(ctx *context.Context, tokens, lengths *Node) (ctxOut, mask, final *Node) {
	g := tokens.Graph()
	batchSize := tokens.Shape().Dim(0)
	seqLen := tokens.Shape().Dim(1)

	embedded := layers.Embedding(ctx.In("char_embed"), tokens, m.DType, m.VocabSize, m.EmbedDim)
	allHidden, lastHidden, _ := lstm.New(ctx.In("lstm"), embedded, m.HiddenDim).
		Direction(lstm.DirBidirectional).
		Ragged(lengths).
		Done()

	// allHidden is [len, numDir, batch, hidden]; flatten the directions into
	// the feature axis, batch leading.
	ctxOut = TransposeAllDims(allHidden, 2, 0, 1, 3)
	ctxOut = Reshape(ctxOut, batchSize, seqLen, 2*m.HiddenDim)

	// lastHidden is [numDir, batch, hidden].
	final = TransposeAllDims(lastHidden, 1, 0, 2)
	final = Reshape(final, batchSize, 2*m.HiddenDim)

	positions := Iota(g, shapes.Make(dtypes.Int32, batchSize, seqLen), 1)
	mask = LessThan(positions, ExpandDims(lengths, -1))
	return ctxOut, mask, final
}

// stepGraph builds one decoder step. Inputs are [prevTokens, h, c] plus the
// encoder contexts and masks in the order encodeGraph emitted them; all
// leading axes are the hypothesis rows.
func (m *Seq2Seq) stepGraph(ctx *context.Context, inputs []*Node) []*Node {
	prevTokens, h, c := inputs[0], inputs[1], inputs[2]
	srcCtx, srcMask := inputs[3], inputs[4]

	// The decoder shares the character embedding with the main encoder.
	x := layers.Embedding(ctx.In("encoder").In("char_embed"), prevTokens,
		m.DType, m.VocabSize, m.EmbedDim)

	newH, newC := lstmCell(ctx.In("decoder"), x, h, c, m.HiddenDim)

	srcWeighted, srcAttn := attend(ctx.In("src_attn"), newH, srcCtx, srcMask)
	parts := []*Node{srcWeighted, newH}
	attentions := []*Node{srcAttn}
	if m.UseLexicon {
		lexCtx, lexMask := inputs[5], inputs[6]
		lexWeighted, lexAttn := attend(ctx.In("lex_attn"), newH, lexCtx, lexMask)
		parts = []*Node{srcWeighted, lexWeighted, newH}
		attentions = append(attentions, lexAttn)
	}
	combined := Tanh(layers.Dense(ctx.In("attn_combine"), Concatenate(parts, -1), false, m.HiddenDim))

	logits := layers.Dense(ctx.In("vocab_project"), combined, true, m.VocabSize)
	logProbs := LogSoftmax(logits, -1)

	outputs := []*Node{logProbs, newH, newC}
	return append(outputs, attentions...)
}

// lstmCell is a single LSTM step: one dense layer over [input, hidden]
// produces the four gates.
func lstmCell(ctx *context.Context, x, h, c *Node, hiddenSize int) (newH, newC *Node) {
	gates := layers.Dense(ctx.In("gates"), Concatenate([]*Node{x, h}, -1), true, 4*hiddenSize)
	input := Sigmoid(Slice(gates, AxisRange(), AxisRange(0, hiddenSize)))
	forget := Sigmoid(Slice(gates, AxisRange(), AxisRange(hiddenSize, 2*hiddenSize)))
	update := Tanh(Slice(gates, AxisRange(), AxisRange(2*hiddenSize, 3*hiddenSize)))
	output := Sigmoid(Slice(gates, AxisRange(), AxisRange(3*hiddenSize, 4*hiddenSize)))

	newC = Add(Mul(forget, c), Mul(input, update))
	newH = Mul(output, Tanh(newC))
	return newH, newC
}

// padBatch flattens ragged sequences into a dense [batch, maxLen] tensor
// padded with pad, plus the true lengths [batch].
func padBatch(seqs [][]int32, pad int32) (batch, lengths *tensors.Tensor) {
	maxLen := 1
	for _, s := range seqs {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	flat := make([]int32, len(seqs)*maxLen)
	lens := make([]int32, len(seqs))
	for i, s := range seqs {
		row := flat[i*maxLen : (i+1)*maxLen]
		copy(row, s)
		for j := len(s); j < maxLen; j++ {
			row[j] = pad
		}
		lens[i] = int32(len(s))
	}
	return tensors.FromFlatDataAndDimensions(flat, len(seqs), maxLen),
		tensors.FromFlatDataAndDimensions(lens, len(seqs))
}
