// Package extract scans Ren'Py .rpy script files and emits one TextUnit
// per translatable string literal. Literals keep their verbatim inner text
// (escapes included) so the patcher can reproduce the source byte-for-byte.
//
// The scanner tracks the enclosing label and the attributed speaker,
// skips python blocks and comments, and captures the nearest non-blank
// neighbor lines as re-anchoring evidence. Code-like strings (asset paths,
// identifiers, boolean literals, comparison operators) are filtered out by
// a configurable non-dialogue filter.
package extract

import (
	"regexp"
	"strings"

	"github.com/vn-tools/rploc/placeholder"
	"github.com/vn-tools/rploc/unit"
)

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options controls extraction behavior. The zero value is not useful;
// start from DefaultOptions.
type Options struct {
	// IncludeSingle extracts single-quoted literals.
	IncludeSingle bool
	// IncludeTriple extracts triple-quoted (possibly multiline) literals.
	IncludeTriple bool
	// SkipComments ignores comment-only lines and inline comments.
	SkipComments bool
	// MinLength is the minimum trimmed literal length to keep.
	MinLength int
	// KeepCodeLike disables the non-dialogue filter.
	KeepCodeLike bool
	// Workers caps parallel file scanning (0 = NumCPU-1).
	Workers int
	// ExcludeDirs are directory names skipped while walking the project.
	ExcludeDirs []string
}

// DefaultOptions returns the extraction defaults.
func DefaultOptions() Options {
	return Options{
		IncludeSingle: true,
		IncludeTriple: true,
		SkipComments:  true,
		MinLength:     1,
		ExcludeDirs:   []string{"tl", "saves", "cache"},
	}
}

// Warning records a literal the scanner had to skip. The file itself
// always completes.
type Warning struct {
	File   string
	Line   int
	Reason string
}

// ---------------------------------------------------------------------------
// Line patterns
// ---------------------------------------------------------------------------

var (
	labelRe   = regexp.MustCompile(`^\s*label\s+([A-Za-z0-9_.]+)\s*:\s*$`)
	pyStartRe = regexp.MustCompile(`^\s*(?:init\s+python|python(?:\s+early)?(?:\s+hide)?(?:\s+in\s+\w+)?)\s*:`)
	speakerRe = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*$`)

	doubleQuoteRe = regexp.MustCompile(`"((?:\\.|[^"\\])*)"`)
	singleQuoteRe = regexp.MustCompile(`'((?:\\.|[^'\\])*)'`)
)

var assetExts = []string{
	".png", ".jpg", ".jpeg", ".webp", ".ogg", ".mp3", ".wav",
	".webm", ".mp4", ".rpy", ".rpa", ".zip", ".ttf", ".otf",
}

var boolLiterals = map[string]bool{"True": true, "False": true, "None": true}

func leadingSpaces(s string) int {
	return len(s) - len(strings.TrimLeft(s, " \t"))
}

// looksLikeAsset reports whether a literal is a resource path or data URI.
func looksLikeAsset(s string) bool {
	t := strings.TrimSpace(s)
	if t == "" {
		return false
	}
	if strings.HasPrefix(t, "data:") {
		return true
	}
	if strings.ContainsAny(t, " ") {
		return false
	}
	lower := strings.ToLower(t)
	// Allow query/hash suffixes like foo.png?v=1#x.
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range assetExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

var (
	identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*(?:\.[a-z_][a-z0-9_]*)+$|^[a-z]+_[a-z0-9_]+$`)
	operatorRe   = regexp.MustCompile(`^[<>=!+\-*/%&|^\s]+$`)
)

// looksCodeLike is the non-dialogue filter: boolean/none literals, dotted
// or snake_case identifiers, bare comparison operators, path-like strings.
func looksCodeLike(s string) bool {
	t := strings.TrimSpace(s)
	if t == "" {
		return false
	}
	if boolLiterals[t] {
		return true
	}
	if operatorRe.MatchString(t) {
		return true
	}
	if identifierRe.MatchString(t) {
		return true
	}
	if !strings.Contains(t, " ") && strings.Count(t, "/") >= 2 {
		return true
	}
	return false
}

// looksLikeText keeps literals containing letters or CJK ideographs, and
// short UI tokens ("OK", "Yes") regardless.
func looksLikeText(s string, minLen int) bool {
	return len(strings.TrimSpace(s)) >= minLen
}

// ---------------------------------------------------------------------------
// Comment stripping
// ---------------------------------------------------------------------------

// stripInlineComment cuts a trailing # comment, ignoring # characters that
// sit inside a quoted literal (color tags like {color=#f00} are common).
func stripInlineComment(line string) string {
	var quote byte
	escaped := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\':
			escaped = true
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '#':
			return line[:i]
		}
	}
	return line
}

// ---------------------------------------------------------------------------
// Scanner
// ---------------------------------------------------------------------------

type scanner struct {
	rel   string
	lines []string
	opts  Options

	units    []*unit.TextUnit
	warnings []Warning

	label string
}

// Source scans one file's content. rel is the project-relative path
// recorded in unit identities.
func Source(rel string, data []byte, opts Options) ([]*unit.TextUnit, []Warning) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	sc := &scanner{rel: rel, lines: strings.Split(text, "\n"), opts: opts}
	sc.run()
	return sc.units, sc.warnings
}

func (sc *scanner) prevNonBlank(i int) string {
	for j := i - 1; j >= 0; j-- {
		if strings.TrimSpace(sc.lines[j]) != "" {
			return sc.lines[j]
		}
	}
	return ""
}

func (sc *scanner) nextNonBlank(i int) string {
	for j := i + 1; j < len(sc.lines); j++ {
		if strings.TrimSpace(sc.lines[j]) != "" {
			return sc.lines[j]
		}
	}
	return ""
}

// keep applies the dialogue filters.
func (sc *scanner) keep(text string) bool {
	if !looksLikeText(text, sc.opts.MinLength) {
		return false
	}
	if looksLikeAsset(text) {
		return false
	}
	if !sc.opts.KeepCodeLike && looksCodeLike(text) {
		return false
	}
	return true
}

func (sc *scanner) emit(line, col, idx int, text, speaker, quote string, triple bool, anchorLine int, anchorEnd int) {
	prev := sc.prevNonBlank(anchorLine)
	next := sc.nextNonBlank(anchorEnd)
	var phs []string
	for _, tok := range placeholder.Extract(text) {
		phs = append(phs, tok.Text)
	}
	sc.units = append(sc.units, &unit.TextUnit{
		ID:           unit.PositionID(sc.rel, line, idx),
		IDHash:       unit.HashID(sc.rel, line, idx, text, prev, next),
		IDSemantic:   placeholder.Signature(text),
		File:         sc.rel,
		Line:         line,
		Col:          col,
		Idx:          idx,
		Label:        sc.label,
		Speaker:      speaker,
		Source:       text,
		Placeholders: phs,
		AnchorPrev:   prev,
		AnchorNext:   next,
		Quote:        quote,
		IsTriple:     triple,
	})
}

func (sc *scanner) warn(line int, reason string) {
	sc.warnings = append(sc.warnings, Warning{File: sc.rel, Line: line, Reason: reason})
}

func (sc *scanner) run() {
	inPython := false
	pyBase := 0
	n := len(sc.lines)

	for i := 0; i < n; i++ {
		line := sc.lines[i]

		if m := labelRe.FindStringSubmatch(line); m != nil {
			sc.label = m[1]
		}

		if !inPython && pyStartRe.MatchString(line) {
			inPython = true
			pyBase = leadingSpaces(line)
			continue
		}
		if inPython {
			if strings.TrimSpace(line) != "" && leadingSpaces(line) <= pyBase {
				inPython = false
			} else {
				continue
			}
		}

		if sc.opts.SkipComments && strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}

		// Triple-quoted literal, possibly spanning lines.
		rest := line
		if sc.opts.IncludeTriple {
			var consumed int
			rest, consumed = sc.scanTriple(i, line)
			i += consumed
		}

		sc.scanLine(i, rest)
	}
}

// scanTriple handles a triple-quoted literal starting on lines[i]. It
// returns the remainder of the closing line for single-line scanning and
// how many extra lines were consumed.
func (sc *scanner) scanTriple(i int, line string) (rest string, consumed int) {
	probe := line
	if sc.opts.SkipComments {
		probe = stripInlineComment(line)
	}
	pos := strings.Index(probe, `"""`)
	q := `"""`
	if p := strings.Index(probe, "'''"); p != -1 && (pos == -1 || p < pos) {
		pos, q = p, "'''"
	}
	if pos == -1 {
		return line, 0
	}

	startLine := i + 1 // 1-based
	buf := []string{line[pos+3:]}
	for j := i + 1; j < len(sc.lines); j++ {
		l2 := sc.lines[j]
		if k := strings.Index(l2, q); k != -1 {
			content := strings.Join(append(buf[:len(buf):len(buf)], l2[:k]), "\n")
			if sc.keep(content) {
				sc.emit(startLine, pos, 0, content, "", q, true, i, j)
			}
			return l2[k+3:], j - i
		}
		buf = append(buf, l2)
	}

	// EOF without a closer: keep what we have, but report it.
	content := strings.Join(buf, "\n")
	sc.warn(startLine, "unterminated triple-quoted literal")
	if sc.keep(content) {
		sc.emit(startLine, pos, 0, content, "", q, true, i, len(sc.lines)-1)
	}
	return "", len(sc.lines) - 1 - i
}

// scanLine extracts single-line double- then single-quoted literals,
// matching the original scan order so idx stays stable.
func (sc *scanner) scanLine(i int, line string) {
	if line == "" {
		return
	}
	if sc.opts.SkipComments {
		line = stripInlineComment(line)
	}

	idx := 0
	for _, m := range doubleQuoteRe.FindAllStringSubmatchIndex(line, -1) {
		text := line[m[2]:m[3]]
		if sc.keep(text) {
			sc.emit(i+1, m[2], idx, text, speakerBefore(line, m[0]), `"`, false, i, i)
		}
		idx++
	}

	if sc.opts.IncludeSingle {
		for _, m := range singleQuoteRe.FindAllStringSubmatchIndex(line, -1) {
			// No lookbehind in RE2: reject contractions (don't, it's)
			// by checking the neighboring characters manually.
			if m[0] > 0 && isAlnum(line[m[0]-1]) {
				continue
			}
			if m[1] < len(line) && isLetter(line[m[1]]) {
				continue
			}
			text := line[m[2]:m[3]]
			if sc.keep(text) {
				sc.emit(i+1, m[2], idx, text, speakerBefore(line, m[0]), "'", false, i, i)
			}
			idx++
		}
	}

	// A dangling double quote after all matched literals means an
	// unterminated single-line literal; skip it but surface the fact.
	// Single quotes are ignored here: a bare apostrophe is ordinary prose.
	if unmatchedQuote(line) == '"' {
		sc.warn(i+1, "unterminated string literal")
	}
}

// speakerBefore infers the speaker for dialogue lines like `e "Hello"`.
func speakerBefore(line string, start int) string {
	before := strings.TrimRight(line[:start], " \t")
	if before == "" {
		return ""
	}
	if m := speakerRe.FindStringSubmatch(before); m != nil {
		return m[1]
	}
	return ""
}

// unmatchedQuote returns the quote character left open on the line after
// full literals are removed, or 0.
func unmatchedQuote(line string) byte {
	stripped := doubleQuoteRe.ReplaceAllString(line, "")
	stripped = singleQuoteRe.ReplaceAllString(stripped, "")
	var quote byte
	escaped := false
	for i := 0; i < len(stripped); i++ {
		c := stripped[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\':
			escaped = true
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		}
	}
	return quote
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
