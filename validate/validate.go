// Package validate scores (source, translation) pairs against three
// ordered rule levels: structural rules that reject a unit outright,
// format rules that warn (or reject in strict mode), and advisory rules
// that only inform. A unit passes overall iff Level 1 produced no errors.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/width"

	"github.com/vn-tools/rploc/placeholder"
	"github.com/vn-tools/rploc/unit"
)

// ---------------------------------------------------------------------------
// Levels, severities, rule ids
// ---------------------------------------------------------------------------

// Level orders the rule groups. Level 1 failures reject the unit.
type Level int

const (
	LevelStructural Level = 1
	LevelFormat     Level = 2
	LevelAdvisory   Level = 3
)

// Severity of a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Rule ids are stable machine-checkable identifiers; retry prompts and
// reports reference them verbatim.
const (
	RulePlaceholderCountMismatch = "placeholder-count-mismatch"
	RuleEmptyTranslation         = "empty-translation"
	RuleNewlineCountMismatch     = "newline-count-mismatch"

	RuleLengthRatioOutOfRange  = "length-ratio-out-of-range"
	RuleEdgeWhitespaceMismatch = "edge-whitespace-mismatch"
	RuleEndPunctMismatch       = "end-punct-mismatch"

	RuleNumberPreserveIncomplete = "number-preserve-incomplete"
	RuleTermMismatch             = "term-mismatch"
	RuleStyleTagUnbalanced       = "style-tag-unbalanced"
	RuleEnglishLeakage           = "english-leakage"
	RuleMixedSpacingMissing      = "mixed-spacing-missing"
	RuleFullwidthFormsPresent    = "fullwidth-forms-present"
	RuleUIWidthOverflow          = "ui-width-overflow"
)

// Finding is one rule violation on one unit.
type Finding struct {
	Rule     string   `json:"rule"`
	Level    Level    `json:"level"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Result is the validation outcome for one unit. Passed is true iff no
// structural-level error was found, regardless of warnings.
type Result struct {
	UnitID   string    `json:"unit_id"`
	Passed   bool      `json:"passed"`
	Findings []Finding `json:"findings,omitempty"`
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options holds the validation thresholds.
type Options struct {
	// LenRatioMin/Max bound len(translation)/len(source).
	LenRatioMin float64
	LenRatioMax float64
	// StrictFormat promotes Level 2 findings from warning to error.
	StrictFormat bool
	// Terms maps do-not-translate source terms (case-folded) to their
	// mandated translation; empty value means "must appear verbatim".
	Terms map[string]string
	// UIMaxLen/UIMaxWords classify short source texts as UI tokens,
	// which get a display-width check.
	UIMaxLen   int
	UIMaxWords int
	// IgnoreUIPunct exempts UI tokens from the end-punctuation rule.
	// Short dialogue sentences are still checked by default.
	IgnoreUIPunct bool
	// UIMaxWidth is the display-width budget for translated UI tokens,
	// East Asian wide characters counting double.
	UIMaxWidth int
}

// DefaultOptions returns the thresholds used by the validate command.
func DefaultOptions() Options {
	return Options{
		LenRatioMin: 0.4,
		LenRatioMax: 2.5,
		UIMaxLen:    24,
		UIMaxWords:  4,
		UIMaxWidth:  14,
	}
}

func (o Options) formatSeverity() Severity {
	if o.StrictFormat {
		return SeverityError
	}
	return SeverityWarning
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

var (
	endPunctSourceRe = regexp.MustCompile(`[.!?\x{2026}]\s*$`)
	endPunctTargetRe = regexp.MustCompile(`[.!?\x{2026}\x{3002}\x{ff01}\x{ff1f}]\s*$`)
	numberRe         = regexp.MustCompile(`\b\d+(?:[.,]\d+)?\b`)
	cjkLatinRe       = regexp.MustCompile(`[\x{4e00}-\x{9fff}][A-Za-z0-9]|[A-Za-z0-9][\x{4e00}-\x{9fff}]`)
	fullwidthRe      = regexp.MustCompile(`[\x{ff21}-\x{ff3a}\x{ff41}-\x{ff5a}\x{ff10}-\x{ff19}]`)
	latinWordRe      = regexp.MustCompile(`[A-Za-z]{2,}`)
)

// Unit validates one unit's translation.
func Unit(u *unit.TextUnit, opts Options) Result {
	res := Result{UnitID: u.ID}
	res.Findings = Evaluate(u.Source, u.Translation, opts)
	res.Passed = Passed(res.Findings)
	return res
}

// Passed reports whether a finding set contains no error. Structural
// findings are always errors; format findings only in strict mode.
func Passed(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Evaluate runs all three levels over a (source, translation) pair and
// returns the findings in level order.
func Evaluate(source, translation string, opts Options) []Finding {
	var findings []Finding
	add := func(rule string, level Level, sev Severity, format string, args ...any) {
		findings = append(findings, Finding{
			Rule:     rule,
			Level:    level,
			Severity: sev,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	// Level 1: structural.
	if strings.TrimSpace(translation) == "" {
		add(RuleEmptyTranslation, LevelStructural, SeverityError, "translation is empty")
		return findings
	}
	if !placeholder.MultisetEqual(source, translation) {
		add(RulePlaceholderCountMismatch, LevelStructural, SeverityError,
			"placeholder multiset differs: source %v, translation %v",
			placeholder.Multiset(source), placeholder.Multiset(translation))
	}
	if strings.Count(source, "\n") != strings.Count(translation, "\n") {
		add(RuleNewlineCountMismatch, LevelStructural, SeverityError,
			"newline count differs: source %d, translation %d",
			strings.Count(source, "\n"), strings.Count(translation, "\n"))
	}

	// Level 2: format.
	sev := opts.formatSeverity()
	isUI := isUIToken(source, opts)
	srcLen := len([]rune(source))
	if srcLen < 1 {
		srcLen = 1
	}
	ratio := float64(len([]rune(translation))) / float64(srcLen)
	if ratio < opts.LenRatioMin || ratio > opts.LenRatioMax {
		add(RuleLengthRatioOutOfRange, LevelFormat, sev,
			"length ratio %.2f outside [%.2f, %.2f]", ratio, opts.LenRatioMin, opts.LenRatioMax)
	}
	if edgeWhitespace(source) != edgeWhitespace(translation) {
		add(RuleEdgeWhitespaceMismatch, LevelFormat, sev,
			"leading/trailing whitespace class differs")
	}
	if !(isUI && opts.IgnoreUIPunct) {
		srcEnd := endPunctSourceRe.MatchString(source)
		tgtEnd := endPunctTargetRe.MatchString(translation)
		if srcEnd != tgtEnd {
			add(RuleEndPunctMismatch, LevelFormat, sev,
				"terminal punctuation class differs (source ends sentence: %v)", srcEnd)
		}
	}

	// Level 3: advisory.
	srcStripped := placeholder.StripTags(source)
	tgtStripped := placeholder.StripTags(translation)
	for _, num := range numberRe.FindAllString(srcStripped, -1) {
		if !strings.Contains(tgtStripped, num) {
			add(RuleNumberPreserveIncomplete, LevelAdvisory, SeverityWarning,
				"numeric literal %q missing from translation", num)
			break
		}
	}
	for term, mandated := range opts.Terms {
		if !containsFold(source, term) {
			continue
		}
		if mandated == "" {
			if !containsFold(translation, term) {
				add(RuleTermMismatch, LevelAdvisory, SeverityWarning,
					"do-not-translate term %q missing from translation", term)
			}
		} else if !strings.Contains(translation, mandated) {
			add(RuleTermMismatch, LevelAdvisory, SeverityWarning,
				"term %q must be rendered as %q", term, mandated)
		}
	}
	if !styleTagsBalanced(translation) {
		add(RuleStyleTagUnbalanced, LevelAdvisory, SeverityWarning,
			"style tags are not properly nested")
	}
	if englishLeakage(tgtStripped) {
		add(RuleEnglishLeakage, LevelAdvisory, SeverityWarning,
			"translation appears to be mostly English")
	}
	if cjkLatinRe.MatchString(translation) {
		add(RuleMixedSpacingMissing, LevelAdvisory, SeverityWarning,
			"missing space between CJK and Latin/digit runs")
	}
	if fullwidthRe.MatchString(translation) {
		add(RuleFullwidthFormsPresent, LevelAdvisory, SeverityWarning,
			"fullwidth ASCII forms present")
	}
	if isUI {
		if w := displayWidth(translation); w > opts.UIMaxWidth {
			add(RuleUIWidthOverflow, LevelAdvisory, SeverityWarning,
				"UI token display width %d exceeds budget %d", w, opts.UIMaxWidth)
		}
	}

	return findings
}

// ---------------------------------------------------------------------------
// Rule helpers
// ---------------------------------------------------------------------------

// edgeWhitespace classifies leading/trailing whitespace presence.
func edgeWhitespace(s string) [2]bool {
	if s == "" {
		return [2]bool{}
	}
	trimmedL := strings.TrimLeft(s, " \t\n")
	trimmedR := strings.TrimRight(s, " \t\n")
	return [2]bool{len(trimmedL) != len(s), len(trimmedR) != len(s)}
}

func isUIToken(text string, opts Options) bool {
	t := strings.TrimSpace(text)
	if t == "" || len(t) > opts.UIMaxLen {
		return false
	}
	if strings.ContainsAny(t, "[]{}%") {
		return false
	}
	return len(strings.Fields(t)) <= opts.UIMaxWords
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// styleTagsBalanced walks the translation's style tags with a stack:
// every {/x} must close the innermost open {x}.
func styleTagsBalanced(s string) bool {
	var stack []string
	for _, tok := range placeholder.Extract(s) {
		switch tok.Class {
		case placeholder.ClassMarkupOpen:
			name := strings.TrimPrefix(tok.Text, "{")
			name = strings.TrimSuffix(name, "}")
			if i := strings.IndexByte(name, '='); i >= 0 {
				name = name[:i]
			}
			if !placeholder.IsSingleTag(name) {
				stack = append(stack, name)
			}
		case placeholder.ClassMarkupClose:
			name := strings.TrimPrefix(tok.Text, "{/")
			name = strings.TrimSuffix(name, "}")
			if len(stack) == 0 || stack[len(stack)-1] != name {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0
}

// englishLeakage reports a translation that is still predominantly
// English. Detection requires enough Latin material to be reliable.
func englishLeakage(s string) bool {
	words := latinWordRe.FindAllString(s, -1)
	if len(words) < 3 {
		return false
	}
	latin := 0
	for _, r := range s {
		if r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' {
			latin++
		}
	}
	if latin*2 < len([]rune(s)) {
		return false
	}
	info := whatlanggo.Detect(s)
	return info.Lang == whatlanggo.Eng && info.IsReliable()
}

// displayWidth approximates rendered width: East Asian wide and
// fullwidth runes count 2, everything else 1.
func displayWidth(s string) int {
	w := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			w += 2
		default:
			w++
		}
	}
	return w
}
