// Package placeholder implements the token grammar for inline markup and
// variable references inside Ren'Py text literals.
//
// Three token families are recognized:
//
//   - bracket variables:   [name]
//   - brace references:    {0}, {0:.2f}, {name!r:>8}
//   - percent formats:     %s, %02d, %(name)s, %.2f
//
// Ren'Py text tags ({i}…{/i}, {color=#fff}…{/color}, {w}, {nw}, …) are
// tracked as markup tokens, not variables. Escaped forms ({{, }}, \[, \{)
// are literal text and never produce a variable or markup token.
//
// The contract shared with the validator: whatever Extract finds in a
// source literal, the same multiset must reappear in its translation.
package placeholder

import (
	"crypto/sha1"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Class categorizes a recognized token.
type Class string

const (
	ClassVariable    Class = "variable"
	ClassMarkupOpen  Class = "markup-open"
	ClassMarkupClose Class = "markup-close"
	ClassEscaped     Class = "escaped"
)

// Token is one recognized occurrence inside a literal.
type Token struct {
	// Text is the token verbatim, e.g. "[name]" or "{/i}".
	Text string
	// Class is the token category.
	Class Class
	// Pos is the byte offset of the token in the literal.
	Pos int
}

// Single-shot Ren'Py text tags (no closer).
var singleTags = map[string]bool{
	"w": true, "nw": true, "p": true, "fast": true, "k": true,
}

// Paired Ren'Py text tags (require a {/tag} closer).
var pairedTags = map[string]bool{
	"i": true, "b": true, "u": true, "s": true,
	"color": true, "a": true, "size": true, "font": true, "alpha": true,
}

var (
	squareRe     = regexp.MustCompile(`\[[A-Za-z_][A-Za-z0-9_]*\]`)
	percentRe    = regexp.MustCompile(`%(?:\([^)]+\))?[+#0\- ]?\d*(?:\.\d+)?[sdifeEgGxXo]`)
	braceIndexRe = regexp.MustCompile(`\{\d+(?:![rsa])?(?::[^{}]+)?\}`)
	braceNameRe  = regexp.MustCompile(`\{[A-Za-z_][A-Za-z0-9_]*(?:![rsa])?(?::[^{}]+)?\}`)
	tagOpenRe    = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)(?:=[^}]*)?\}`)
	tagCloseRe   = regexp.MustCompile(`\{/([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// escapedBrace reports whether the brace token at [start,end) sits inside a
// doubled-brace escape ({{…}} renders a literal brace in Ren'Py).
func escapedBrace(s string, start, end int) bool {
	left := start-1 >= 0 && s[start-1] == '{'
	right := end < len(s) && s[end] == '}'
	return left || right
}

// escapedAt reports whether position i starts one of the literal escape
// sequences, returning the sequence length (0 when none).
func escapedAt(s string, i int) int {
	if strings.HasPrefix(s[i:], "{{") || strings.HasPrefix(s[i:], "}}") {
		return 2
	}
	if s[i] == '\\' && i+1 < len(s) && (s[i+1] == '[' || s[i+1] == '{') {
		return 2
	}
	return 0
}

// Extract returns all recognized tokens in order of appearance.
func Extract(s string) []Token {
	if s == "" {
		return nil
	}

	var toks []Token
	claimed := make([]bool, len(s))

	claim := func(start, end int, class Class) {
		for i := start; i < end; i++ {
			if claimed[i] {
				return
			}
		}
		for i := start; i < end; i++ {
			claimed[i] = true
		}
		toks = append(toks, Token{Text: s[start:end], Class: class, Pos: start})
	}

	// Escape sequences first so {{0}} never reads as a brace reference.
	for i := 0; i < len(s); {
		if n := escapedAt(s, i); n > 0 {
			claim(i, i+n, ClassEscaped)
			i += n
			continue
		}
		i++
	}

	// Markup closers before openers: {/i} also matches the open-tag shape.
	for _, m := range tagCloseRe.FindAllStringSubmatchIndex(s, -1) {
		if pairedTags[s[m[2]:m[3]]] {
			claim(m[0], m[1], ClassMarkupClose)
		}
	}
	for _, m := range tagOpenRe.FindAllStringSubmatchIndex(s, -1) {
		name := s[m[2]:m[3]]
		if !pairedTags[name] && !singleTags[name] {
			continue
		}
		if escapedBrace(s, m[0], m[1]) {
			continue
		}
		claim(m[0], m[1], ClassMarkupOpen)
	}

	// Variable references.
	for _, m := range squareRe.FindAllStringIndex(s, -1) {
		claim(m[0], m[1], ClassVariable)
	}
	for _, re := range []*regexp.Regexp{braceIndexRe, braceNameRe} {
		for _, m := range re.FindAllStringIndex(s, -1) {
			if escapedBrace(s, m[0], m[1]) {
				continue
			}
			claim(m[0], m[1], ClassVariable)
		}
	}
	for _, m := range percentRe.FindAllStringIndex(s, -1) {
		claim(m[0], m[1], ClassVariable)
	}

	sort.Slice(toks, func(i, j int) bool { return toks[i].Pos < toks[j].Pos })
	return toks
}

// Multiset counts token occurrences, order-insensitive. Used for the
// structural comparison between a source literal and its translation.
func Multiset(s string) map[string]int {
	counts := make(map[string]int)
	for _, t := range Extract(s) {
		counts[t.Text]++
	}
	return counts
}

// MultisetEqual reports whether two literals carry the same tokens with the
// same counts.
func MultisetEqual(a, b string) bool {
	ma, mb := Multiset(a), Multiset(b)
	if len(ma) != len(mb) {
		return false
	}
	for k, v := range ma {
		if mb[k] != v {
			return false
		}
	}
	return true
}

// IsSingleTag reports whether a tag name is a single-shot tag that takes
// no {/tag} closer.
func IsSingleTag(name string) bool {
	return singleTags[name]
}

// Variables returns only the variable-class tokens, in order. Markup and
// escapes are excluded.
func Variables(s string) []string {
	var out []string
	for _, t := range Extract(s) {
		if t.Class == ClassVariable {
			out = append(out, t.Text)
		}
	}
	return out
}

// StripTags removes Ren'Py text tags, keeping text and variable references.
// Doubled braces collapse to a single literal brace.
func StripTags(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], "{{") {
			b.WriteByte('{')
			i += 2
			continue
		}
		if strings.HasPrefix(s[i:], "}}") {
			b.WriteByte('}')
			i += 2
			continue
		}
		if s[i] == '{' {
			if m := tagCloseRe.FindStringSubmatchIndex(s[i:]); m != nil && m[0] == 0 && pairedTags[s[i+m[2]:i+m[3]]] {
				i += m[1]
				continue
			}
			if m := tagOpenRe.FindStringSubmatchIndex(s[i:]); m != nil && m[0] == 0 {
				name := s[i+m[2] : i+m[3]]
				if pairedTags[name] || singleTags[name] {
					i += m[1]
					continue
				}
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// classMarker maps a token class to the opaque marker substituted by
// NormalizeForSignature.
func classMarker(c Class) string {
	switch c {
	case ClassVariable:
		return "\x01var\x01"
	case ClassMarkupOpen:
		return "\x01m+\x01"
	case ClassMarkupClose:
		return "\x01m-\x01"
	default:
		return "\x01esc\x01"
	}
}

// NormalizeForSignature rewrites a literal so that content fingerprints
// survive variable renames: every token collapses to its class marker,
// whitespace is collapsed and case is folded. Markup order still matters.
func NormalizeForSignature(s string) string {
	toks := Extract(s)
	var b strings.Builder
	last := 0
	for _, t := range toks {
		b.WriteString(s[last:t.Pos])
		b.WriteString(classMarker(t.Class))
		last = t.Pos + len(t.Text)
	}
	b.WriteString(s[last:])
	out := whitespaceRe.ReplaceAllString(b.String(), " ")
	return strings.ToLower(strings.TrimSpace(out))
}

// Signature returns a short stable content fingerprint of a literal.
func Signature(s string) string {
	h := sha1.Sum([]byte(NormalizeForSignature(s)))
	return "sig:v2:" + fmt.Sprintf("%x", h)[:12]
}
