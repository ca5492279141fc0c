// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package vocab implements the character vocabulary used by the lemmatizer.
//
// The first four ids are reserved for control tokens and their values are
// fixed: models and checkpoints depend on them.
package vocab

import (
	"sort"

	"github.com/pkg/errors"
)

// Control token ids. These are part of the model contract and never change.
const (
	PadID int32 = 0
	UnkID int32 = 1
	SosID int32 = 2
	EosID int32 = 3
)

// NumSpecial is the number of reserved control tokens.
const NumSpecial = 4

// specialUnits are the printable forms of the control tokens, indexed by id.
var specialUnits = []string{"<PAD>", "<UNK>", "<SOS>", "<EOS>"}

// Vocab maps character units to dense ids and back.
type Vocab struct {
	id2unit []string
	unit2id map[string]int32
}

// New creates a vocabulary from the given units. The control tokens are
// prepended automatically; duplicate units are rejected.
func New(units []string) (*Vocab, error) {
	v := &Vocab{
		id2unit: make([]string, 0, NumSpecial+len(units)),
		unit2id: make(map[string]int32, NumSpecial+len(units)),
	}
	for _, u := range specialUnits {
		v.add(u)
	}
	for _, u := range units {
		if _, found := v.unit2id[u]; found {
			return nil, errors.Errorf("duplicate unit %q in vocabulary", u)
		}
		v.add(u)
	}
	return v, nil
}

// FromCorpus builds a character vocabulary from the given words.
// Units are ordered by descending frequency, ties broken by rune order, so
// the result is deterministic for a given corpus.
func FromCorpus(words []string) *Vocab {
	counts := make(map[string]int)
	for _, w := range words {
		for _, r := range w {
			counts[string(r)]++
		}
	}
	units := make([]string, 0, len(counts))
	for u := range counts {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool {
		if counts[units[i]] != counts[units[j]] {
			return counts[units[i]] > counts[units[j]]
		}
		return units[i] < units[j]
	})
	v, _ := New(units) // units are unique by construction
	return v
}

func (v *Vocab) add(unit string) {
	v.unit2id[unit] = int32(len(v.id2unit))
	v.id2unit = append(v.id2unit, unit)
}

// Size returns the number of entries, control tokens included.
func (v *Vocab) Size() int { return len(v.id2unit) }

// ID returns the id for the unit, or UnkID when absent.
func (v *Vocab) ID(unit string) int32 {
	if id, found := v.unit2id[unit]; found {
		return id
	}
	return UnkID
}

// Unit returns the printable form of an id.
func (v *Vocab) Unit(id int32) string {
	if id < 0 || int(id) >= len(v.id2unit) {
		return specialUnits[UnkID]
	}
	return v.id2unit[id]
}

// Encode converts a word to its id sequence, bracketed by SOS and EOS.
// Unknown runes map to UnkID.
func (v *Vocab) Encode(word string) []int32 {
	ids := make([]int32, 0, len(word)+2)
	ids = append(ids, SosID)
	for _, r := range word {
		ids = append(ids, v.ID(string(r)))
	}
	ids = append(ids, EosID)
	return ids
}

// Decode converts an id sequence back to a string, dropping control tokens.
func (v *Vocab) Decode(ids []int32) string {
	var out []byte
	for _, id := range ids {
		if id < NumSpecial {
			continue
		}
		out = append(out, v.Unit(id)...)
	}
	return string(out)
}
