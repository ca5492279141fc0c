// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// lemma is a command-line lemmatizer: it loads a trained checkpoint and
// lemmatizes words given as arguments or on stdin, one per line, writing
// "word<TAB>lemma" lines to stdout.
//
// The checkpoint directory must contain the model weights and a vocab.json
// file with the character vocabulary the model was trained with.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/lemma/lemmatizer"
	"github.com/gomlx/lemma/vocab"
)

var (
	flagCheckpoint = flag.String("checkpoint", "", "Directory with the trained model checkpoint. Required.")
	flagBeam       = flag.Int("beam", 5, "Beam width; 1 decodes greedily.")
	flagMaxSteps   = flag.Int("max_steps", 50, "Maximum lemma length in characters.")
	flagLexicon    = flag.String("lexicon", "", "Optional TSV file mapping words to dictionary forms.")
	flagEdit       = flag.Bool("edit", false, "Enable the edit-operation classifier head.")
	flagAttnDir    = flag.String("attn_dump", "", "If set, write attention-weight JSON dumps into this directory.")
	flagBatch      = flag.Int("batch", 32, "Number of words lemmatized per model call.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagCheckpoint == "" {
		klog.Exitf("Flag -checkpoint is required. Use %s -help for details.", os.Args[0])
	}

	backend := backends.MustNew()
	ctx := context.New()
	must.M1(checkpoints.Load(ctx).Dir(*flagCheckpoint).Done())
	v := must.M1(loadVocab(filepath.Join(*flagCheckpoint, "vocab.json")))

	lem := lemmatizer.New(backend, ctx, v).
		WithBeamWidth(*flagBeam).
		WithMaxSteps(*flagMaxSteps)
	if *flagLexicon != "" {
		lem.WithLexicon(must.M1(loadLexicon(*flagLexicon)))
	}
	if *flagEdit {
		lem.WithEditHead(true)
	}
	if *flagAttnDir != "" {
		lem.WithAttentionDump(*flagAttnDir)
	}
	lem = must.M1(lem.Done())

	words := flag.Args()
	if len(words) == 0 {
		words = must.M1(readWords(os.Stdin))
	}
	if len(words) == 0 {
		klog.Exitf("No words to lemmatize: pass them as arguments or on stdin.")
	}

	out := bufio.NewWriter(os.Stdout)
	defer func() { _ = out.Flush() }()
	var bar *progressbar.ProgressBar
	if len(words) > *flagBatch {
		bar = progressbar.Default(int64(len(words)), "lemmatizing")
	}

	for start := 0; start < len(words); start += *flagBatch {
		end := min(start+*flagBatch, len(words))
		batch := words[start:end]
		lemmas := must.M1(lem.Lemmatize(batch))
		for i, w := range batch {
			fmt.Fprintf(out, "%s\t%s\n", w, lemmas[i])
		}
		if bar != nil {
			_ = bar.Add(len(batch))
		}
	}
	klog.V(1).Infof("lemmatized %s words", humanize.Comma(int64(len(words))))
}

// loadVocab reads the character vocabulary saved alongside the checkpoint:
// a JSON array of units, control tokens excluded.
func loadVocab(path string) (*vocab.Vocab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading vocabulary from %q", path)
	}
	var units []string
	if err := json.Unmarshal(data, &units); err != nil {
		return nil, errors.Wrapf(err, "parsing vocabulary from %q", path)
	}
	return vocab.New(units)
}

// loadLexicon reads a word<TAB>form lexicon file. Later entries win on
// duplicate words.
func loadLexicon(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening lexicon %q", path)
	}
	defer func() { _ = f.Close() }()

	lexicon := make(map[string]string)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		word, form, found := strings.Cut(text, "\t")
		if !found {
			return nil, errors.Errorf("lexicon %q line %d: expected word<TAB>form", path, line)
		}
		lexicon[word] = form
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading lexicon %q", path)
	}
	return lexicon, nil
}

func readWords(f *os.File) ([]string, error) {
	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		w := strings.TrimSpace(scanner.Text())
		if w != "" {
			words = append(words, w)
		}
	}
	return words, scanner.Err()
}
