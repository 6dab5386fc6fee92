// Package unit defines the translatable text unit extracted from Ren'Py
// scripts and its JSON Lines interchange encoding. One unit is one string
// literal; units are derived fresh from source on every extraction run and
// carried through prefill, translation, validation and patching by id.
package unit

import (
	"crypto/sha256"
	"fmt"
	"sort"
)

// Origin values recorded in the "source" field of a filled unit.
const (
	OriginDictionary = "dictionary"
	OriginBackend    = "backend"
)

// TextUnit is one translatable literal.
type TextUnit struct {
	// ID is the positional key: "file:line:idx".
	ID string `json:"id"`
	// IDHash is a content-anchored fingerprint used when the positional
	// key no longer resolves after source edits.
	IDHash string `json:"id_hash"`
	// IDSemantic is the placeholder-normalized content signature.
	IDSemantic string `json:"id_semantic,omitempty"`

	File string `json:"file"`
	Line int    `json:"line"`
	Col  int    `json:"col"`
	Idx  int    `json:"idx"`

	// Label is the enclosing label block, Speaker the attributed speaker
	// for dialogue lines. Both are context for the backend, never altered.
	Label   string `json:"label,omitempty"`
	Speaker string `json:"speaker,omitempty"`

	// Source is the literal content exactly as written, escapes included.
	Source string `json:"en"`
	// Placeholders lists the recognized tokens in order of appearance.
	Placeholders []string `json:"placeholders"`

	// AnchorPrev and AnchorNext are the nearest non-blank neighbor lines,
	// captured verbatim at extraction time.
	AnchorPrev string `json:"anchor_prev"`
	AnchorNext string `json:"anchor_next"`

	// Quote and IsTriple preserve the original quoting for re-emission.
	Quote    string `json:"quote"`
	IsTriple bool   `json:"is_triple"`

	// Translation is empty until filled.
	Translation string `json:"zh,omitempty"`
	// Origin records how Translation was produced (dictionary, backend).
	Origin string `json:"source,omitempty"`
	// Retries counts backend resubmissions for this unit.
	Retries int `json:"retries,omitempty"`
	// FailReason is set when the unit ended failed (validation findings,
	// backend error, cancellation).
	FailReason string `json:"fail_reason,omitempty"`
}

// PositionID builds the positional key for a literal.
func PositionID(file string, line, idx int) string {
	return fmt.Sprintf("%s:%d:%d", file, line, idx)
}

// HashID computes the content-anchored fingerprint over the literal and its
// captured context window.
func HashID(file string, line, idx int, source, anchorPrev, anchorNext string) string {
	h := sha256.New()
	for _, part := range []string{file, fmt.Sprint(line), fmt.Sprint(idx), source, anchorPrev, anchorNext} {
		h.Write([]byte(part))
	}
	return "sha256:" + fmt.Sprintf("%x", h.Sum(nil))[:16]
}

// Translated reports whether the unit carries a non-empty translation.
func (u *TextUnit) Translated() bool {
	return u.Translation != ""
}

// Sort orders units deterministically by (file, line, col, idx) so merged
// output is reproducible regardless of worker scheduling.
func Sort(units []*TextUnit) {
	sort.SliceStable(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Col != b.Col {
			return a.Col < b.Col
		}
		return a.Idx < b.Idx
	})
}

// Index builds an id → unit map. Later duplicates are ignored.
func Index(units []*TextUnit) map[string]*TextUnit {
	m := make(map[string]*TextUnit, len(units))
	for _, u := range units {
		if _, ok := m[u.ID]; !ok {
			m[u.ID] = u
		}
	}
	return m
}
