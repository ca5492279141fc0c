// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package lemmatizer wires the character vocabulary, the seq2seq model and
// the beam-search decoder into a word-in, lemma-out service.
package lemmatizer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/lemma/model"
	"github.com/gomlx/lemma/search"
	"github.com/gomlx/lemma/vocab"
)

// Edit-operation classes predicted by the optional classifier head. They
// short-circuit the decoded sequence for the common trivial cases.
const (
	EditNone     = 0 // keep the decoded sequence
	EditIdentity = 1 // the lemma is the word itself
	EditLower    = 2 // the lemma is the lowercased word
	NumEdits     = 3
)

// Lemmatizer lemmatizes batches of words. Create with New, configure with
// the With* methods and finish with Done.
type Lemmatizer struct {
	backend backends.Backend
	ctx     *context.Context
	vocab   *vocab.Vocab

	model   *model.Seq2Seq
	scorer  search.Scorer
	decoder *search.Decoder

	// Lexicon maps a word to its dictionary form; entries feed the model's
	// second attention context. Nil disables the lexicon encoder.
	lexicon map[string]string

	useEdit bool
	attnDir string
}

// Output is the detailed result of one batch.
type Output struct {
	// Lemmas, one per input word, after edit-class short-circuits.
	Lemmas []string

	// Scores are the cumulative log-probabilities of the decoded sequences.
	Scores []float64

	// Edits holds the predicted edit class per word; nil when the model has
	// no edit head.
	Edits []int
}

// New creates a Lemmatizer over a model context, typically loaded from a
// checkpoint.
func New(backend backends.Backend, ctx *context.Context, v *vocab.Vocab) *Lemmatizer {
	return &Lemmatizer{
		backend: backend,
		ctx:     ctx,
		vocab:   v,
		decoder: search.New(),
	}
}

// WithBeamWidth sets the decoder beam width; width 1 decodes greedily.
func (l *Lemmatizer) WithBeamWidth(width int) *Lemmatizer {
	l.decoder.WithBeamWidth(width)
	return l
}

// WithMaxSteps bounds the generated lemma length.
func (l *Lemmatizer) WithMaxSteps(steps int) *Lemmatizer {
	l.decoder.WithMaxSteps(steps)
	return l
}

// WithLexicon provides the word-to-dictionary-form lexicon and enables the
// lexicon encoder.
func (l *Lemmatizer) WithLexicon(lexicon map[string]string) *Lemmatizer {
	l.lexicon = lexicon
	return l
}

// WithEditHead enables the edit-operation classifier.
func (l *Lemmatizer) WithEditHead(enabled bool) *Lemmatizer {
	l.useEdit = enabled
	return l
}

// WithAttentionDump writes one attention-weight JSON file per batch into
// dir. Empty disables dumping.
func (l *Lemmatizer) WithAttentionDump(dir string) *Lemmatizer {
	l.attnDir = dir
	l.decoder.WithAttentionLog(dir != "")
	return l
}

// Done compiles the model and returns the ready Lemmatizer.
func (l *Lemmatizer) Done() (*Lemmatizer, error) {
	m := model.New(l.backend, l.ctx, l.vocab.Size()).
		WithLexicon(l.lexicon != nil)
	if l.useEdit {
		m.WithEditClasses(NumEdits)
	}
	var err error
	l.model, err = m.Done()
	if err != nil {
		return nil, err
	}
	l.scorer = l.model
	return l, nil
}

// Lemmatize returns one lemma per input word.
func (l *Lemmatizer) Lemmatize(words []string) ([]string, error) {
	out, err := l.Run(words)
	if err != nil {
		return nil, err
	}
	return out.Lemmas, nil
}

// Run lemmatizes a batch and returns the detailed output.
func (l *Lemmatizer) Run(words []string) (*Output, error) {
	if l.scorer == nil {
		return nil, errors.Errorf("lemmatizer is not compiled, call Done first")
	}
	if len(words) == 0 {
		return nil, errors.Errorf("empty word batch")
	}

	res, err := l.decoder.Predict(l.scorer, l.buildInput(words))
	if err != nil {
		return nil, err
	}

	out := &Output{
		Lemmas: make([]string, len(words)),
		Scores: res.Scores,
	}
	for i, seq := range res.Sequences {
		out.Lemmas[i] = l.vocab.Decode(seq)
	}

	if res.EditLogits != nil {
		out.Edits, err = argmaxRows(res.EditLogits)
		if err != nil {
			return nil, errors.WithMessagef(err, "reading edit predictions")
		}
		for i, edit := range out.Edits {
			out.Lemmas[i] = applyEdit(edit, words[i], out.Lemmas[i])
		}
	}

	if l.attnDir != "" {
		if err := l.dumpAttention(words, res.Attentions); err != nil {
			// The lemmas are still good; losing a debug dump is not fatal.
			klog.Warningf("attention dump failed: %v", err)
		}
	}
	return out, nil
}

// buildInput encodes the words and, when the lexicon encoder is enabled,
// their dictionary entries. Words missing from the lexicon get the empty
// placeholder entry.
func (l *Lemmatizer) buildInput(words []string) *model.Input {
	in := &model.Input{Src: make([][]int32, len(words))}
	for i, w := range words {
		in.Src[i] = l.vocab.Encode(w)
	}
	if l.lexicon != nil {
		in.Lex = make([][]int32, len(words))
		for i, w := range words {
			if form, found := l.lexicon[w]; found {
				in.Lex[i] = l.vocab.Encode(form)
			} else {
				in.Lex[i] = model.EmptyLexiconEntry()
			}
		}
	}
	return in
}

// applyEdit resolves the final lemma from the predicted edit class.
func applyEdit(edit int, word, decoded string) string {
	switch edit {
	case EditIdentity:
		return word
	case EditLower:
		return strings.ToLower(word)
	default:
		return decoded
	}
}

// argmaxRows returns the index of the largest value in each row of a rank-2
// float32 tensor, ties to the lower index.
func argmaxRows(t *tensors.Tensor) ([]int, error) {
	shape := t.Shape()
	if shape.Rank() != 2 {
		return nil, errors.Errorf("expected rank-2 logits, got shape %s", shape)
	}
	rows, cols := shape.Dimensions[0], shape.Dimensions[1]
	out := make([]int, rows)
	err := tensors.ConstFlatData(t, func(data []float32) {
		for r := 0; r < rows; r++ {
			row := data[r*cols : (r+1)*cols]
			best := 0
			for c := 1; c < cols; c++ {
				if row[c] > row[best] {
					best = c
				}
			}
			out[r] = best
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// attentionDump is the on-disk schema of one attention dump file.
type attentionDump struct {
	Words []string `json:"words"`

	// Attentions is indexed [step][example][context][position]; context 0 is
	// the source word, context 1 the lexicon entry when enabled.
	Attentions [][][][]float32 `json:"attentions"`
}

func (l *Lemmatizer) dumpAttention(words []string, attns [][][][]float32) error {
	data, err := json.Marshal(attentionDump{Words: words, Attentions: attns})
	if err != nil {
		return errors.Wrap(err, "encoding attention dump")
	}
	path := filepath.Join(l.attnDir, "attn-"+uuid.NewString()+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "writing attention dump")
	}
	klog.V(1).Infof("wrote attention dump %s", path)
	return nil
}
