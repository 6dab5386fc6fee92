package validate

import (
	"regexp"
	"strings"

	"github.com/vn-tools/rploc/placeholder"
)

// ---------------------------------------------------------------------------
// Auto-fix
// ---------------------------------------------------------------------------

// FixResult records one auto-fix attempt on a unit.
type FixResult struct {
	// Fixed is the repaired translation; equal to the input when nothing
	// applied.
	Fixed string
	// Applied lists the rule ids whose fixers changed the text, in order.
	Applied []string
	// Passed is true when the repaired translation clears Level 1.
	Passed bool
}

// fixer deterministically repairs one rule's violation. It returns the
// (possibly unchanged) translation.
type fixer struct {
	rule  string
	apply func(source, translation string) string
}

// fixers run in a fixed order: width normalization first so the
// punctuation mapper sees halfwidth input, placeholders last so earlier
// text edits cannot disturb a re-inserted token.
var fixers = []fixer{
	{RuleFullwidthFormsPresent, func(_, zh string) string { return toHalfwidth(zh) }},
	{RuleMixedSpacingMissing, func(_, zh string) string { return fixMixedSpacing(zh) }},
	{RuleEndPunctMismatch, fixEndPunct},
	{RuleNewlineCountMismatch, fixNewlines},
	{RulePlaceholderCountMismatch, fixPlaceholders},
}

// AutoFix repairs deterministic findings and re-validates after each
// applied fix. The pass is a bounded loop over the fixer list; a unit
// that still fails Level 1 afterwards is rejected, never silently passed.
func AutoFix(source, translation string, opts Options) FixResult {
	res := FixResult{Fixed: translation}
	findings := Evaluate(source, translation, opts)
	for _, fx := range fixers {
		if !hasRule(findings, fx.rule) {
			continue
		}
		repaired := fx.apply(source, res.Fixed)
		if repaired == res.Fixed {
			continue
		}
		res.Fixed = repaired
		res.Applied = append(res.Applied, fx.rule)
		findings = Evaluate(source, res.Fixed, opts)
	}
	res.Passed = Passed(findings)
	return res
}

func hasRule(findings []Finding, rule string) bool {
	for _, f := range findings {
		if f.Rule == rule {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Individual fixers
// ---------------------------------------------------------------------------

// toHalfwidth maps fullwidth ASCII letters, digits and the ideographic
// space to their halfwidth forms. CJK punctuation is left alone; the
// end-punctuation mapper owns that.
func toHalfwidth(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 0xFF21 && r <= 0xFF3A || r >= 0xFF41 && r <= 0xFF5A || r >= 0xFF10 && r <= 0xFF19:
			b.WriteRune(r - 0xFEE0)
		case r == 0x3000:
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

var (
	cjkThenLatinRe = regexp.MustCompile(`([\x{4e00}-\x{9fff}])([A-Za-z0-9%℃℉°])`)
	latinThenCJKRe = regexp.MustCompile(`([A-Za-z0-9%℃℉°])([\x{4e00}-\x{9fff}])`)
)

func fixMixedSpacing(s string) string {
	s = cjkThenLatinRe.ReplaceAllString(s, "$1 $2")
	return latinThenCJKRe.ReplaceAllString(s, "$1 $2")
}

// cjkEndPunct maps an English sentence terminator to its CJK equivalent.
func cjkEndPunct(source string) string {
	t := strings.TrimSpace(source)
	switch {
	case strings.HasSuffix(t, "..."), strings.HasSuffix(t, "…"):
		return "……"
	case strings.HasSuffix(t, "!"):
		return "！"
	case strings.HasSuffix(t, "?"):
		return "？"
	case strings.HasSuffix(t, "."):
		return "。"
	}
	return ""
}

func fixEndPunct(source, zh string) string {
	want := cjkEndPunct(source)
	if want == "" {
		return zh
	}
	trimmed := strings.TrimRight(zh, " \t")
	tail := zh[len(trimmed):]
	if trimmed == "" {
		return zh
	}
	for _, done := range []string{"。", "！", "？", "……"} {
		if strings.HasSuffix(trimmed, done) {
			return zh
		}
	}
	switch {
	case strings.HasSuffix(trimmed, "."):
		trimmed = strings.TrimSuffix(trimmed, ".") + "。"
	case strings.HasSuffix(trimmed, "!"):
		trimmed = strings.TrimSuffix(trimmed, "!") + "！"
	case strings.HasSuffix(trimmed, "?"):
		trimmed = strings.TrimSuffix(trimmed, "?") + "？"
	default:
		trimmed += want
	}
	return trimmed + tail
}

var (
	zhBreakRe    = regexp.MustCompile(`[，、。：；！？\s]`)
	zhCollapseRe = regexp.MustCompile(`\s*\n\s*`)
)

// fixNewlines aligns simple newline-count differences. A translation with
// extra line breaks collapses to the source's single line; a one-break
// source gets a break inserted at the nearest punctuation to the middle.
// Multi-break cases are left alone for a human.
func fixNewlines(source, zh string) string {
	srcN := strings.Count(source, "\n")
	zhN := strings.Count(zh, "\n")
	switch {
	case srcN == zhN:
		return zh
	case srcN == 0 && zhN > 0:
		return zhCollapseRe.ReplaceAllString(zh, " ")
	case srcN == 1 && zhN == 0 && len([]rune(zh)) >= 4:
		points := zhBreakRe.FindAllStringIndex(zh, -1)
		if len(points) == 0 {
			return zh
		}
		mid := len(zh) / 2
		cut := points[0][1]
		for _, p := range points[1:] {
			if abs(p[1]-mid) < abs(cut-mid) {
				cut = p[1]
			}
		}
		return strings.TrimRight(zh[:cut], " ") + "\n" + strings.TrimLeft(zh[cut:], " ")
	}
	return zh
}

// fixPlaceholders re-inserts tokens the translation dropped, positioned
// by the source's relative order: a token that led the source leads the
// repaired translation, one that ended it trails, anything else is
// appended before the terminal punctuation.
func fixPlaceholders(source, zh string) string {
	missing := missingTokens(source, zh)
	if len(missing) == 0 {
		return zh
	}
	srcToks := placeholder.Extract(source)
	for _, tok := range missing {
		switch {
		case leadsText(srcToks, source, tok):
			zh = tok + zh
		case trailsText(srcToks, source, tok):
			zh = zh + tok
		default:
			zh = insertBeforeEndPunct(zh, tok)
		}
	}
	return zh
}

// missingTokens lists source tokens absent (or undercounted) in the
// translation, in source order.
func missingTokens(source, zh string) []string {
	have := placeholder.Multiset(zh)
	var out []string
	seen := make(map[string]int)
	for _, tok := range placeholder.Extract(source) {
		seen[tok.Text]++
		if seen[tok.Text] > have[tok.Text] {
			out = append(out, tok.Text)
		}
	}
	return out
}

func leadsText(toks []placeholder.Token, source, text string) bool {
	for _, tok := range toks {
		if tok.Text == text {
			return strings.TrimSpace(source[:tok.Pos]) == ""
		}
	}
	return false
}

func trailsText(toks []placeholder.Token, source, text string) bool {
	for i := len(toks) - 1; i >= 0; i-- {
		tok := toks[i]
		if tok.Text == text {
			return strings.TrimSpace(source[tok.Pos+len(tok.Text):]) == ""
		}
	}
	return false
}

func insertBeforeEndPunct(zh, tok string) string {
	trimmed := strings.TrimRight(zh, "。！？……!?. \t")
	return trimmed + tok + zh[len(trimmed):]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
