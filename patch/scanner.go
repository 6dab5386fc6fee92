package patch

import (
	"regexp"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// String literal scanning
// ---------------------------------------------------------------------------

// token is one string literal located in a file, with byte offsets for the
// whole literal and its inner content. Line numbers are 1-based.
type token struct {
	start, end           int
	innerStart, innerEnd int
	quote                string
	triple               bool
	startLine, endLine   int
}

// inner returns the literal content between the quotes.
func (t token) inner(text string) string {
	return text[t.innerStart:t.innerEnd]
}

var tripleQuotes = []string{`"""`, "'''"}

// scanLiterals finds every string literal in text, including triple-quoted
// literals spanning multiple lines. Unterminated literals run to end of
// file. Offsets index into text as given; call normalizeNewlines first.
func scanLiterals(text string) []token {
	n := len(text)
	lineStarts := newlinePositions(text)
	var tokens []token

	i := 0
	for i < n {
		ch := text[i]
		if ch != '\'' && ch != '"' {
			i++
			continue
		}

		if q := tripleAt(text, i); q != "" {
			start := i
			i += 3
			end, innerEnd := n, n
			for i < n {
				if strings.HasPrefix(text[i:], q) {
					end = i + 3
					innerEnd = i
					break
				}
				if text[i] == '\\' {
					i++
				}
				i++
			}
			tokens = append(tokens, token{
				start:      start,
				end:        end,
				innerStart: start + 3,
				innerEnd:   innerEnd,
				quote:      q,
				triple:     true,
				startLine:  lineFromOffset(lineStarts, start),
				endLine:    lineFromOffset(lineStarts, end-1),
			})
			i = end
			continue
		}

		q := string(ch)
		start := i
		i++
		end := n
		for i < n {
			c := text[i]
			if c == '\\' {
				i += 2
				continue
			}
			if c == ch || c == '\n' {
				break
			}
			i++
		}
		if i < n && text[i] == ch {
			end = i + 1
			tokens = append(tokens, token{
				start:      start,
				end:        end,
				innerStart: start + 1,
				innerEnd:   end - 1,
				quote:      q,
				triple:     false,
				startLine:  lineFromOffset(lineStarts, start),
				endLine:    lineFromOffset(lineStarts, start),
			})
			i = end
			continue
		}
		// Unterminated on this line; treat the opener as plain text.
		i = start + 1
	}
	return tokens
}

// tripleAt returns the triple-quote string opening at offset i, or "".
func tripleAt(text string, i int) string {
	if i+3 > len(text) {
		return ""
	}
	s := text[i : i+3]
	for _, q := range tripleQuotes {
		if s == q {
			return q
		}
	}
	return ""
}

func newlinePositions(text string) []int {
	pos := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			pos = append(pos, i+1)
		}
	}
	return pos
}

// lineFromOffset returns the 1-based line containing byte offset idx.
func lineFromOffset(lineStarts []int, idx int) int {
	return sort.Search(len(lineStarts), func(i int) bool { return lineStarts[i] > idx })
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// ---------------------------------------------------------------------------
// Block span detection
// ---------------------------------------------------------------------------

// span is a 1-based inclusive line range.
type span struct{ startLine, endLine int }

type blockSpans struct {
	python []span
	label  []span
	screen []span
}

var (
	pyBlockRe = regexp.MustCompile(`^\s*(?:init\s+python|python(?:\s+early)?(?:\s+hide)?(?:\s+in\s+\w+)?)\s*:\s*$`)
	labelRe   = regexp.MustCompile(`^\s*label\s+[A-Za-z_][A-Za-z0-9_.]*\s*:\s*$`)
	screenRe  = regexp.MustCompile(`^\s*screen\s+[A-Za-z_][A-Za-z0-9_]*.*:\s*$`)
)

// detectBlocks maps python, label and screen blocks to line spans so the
// matcher can refuse replacements inside python code.
func detectBlocks(text string) blockSpans {
	lines := strings.Split(text, "\n")
	return blockSpans{
		python: scanSpans(lines, pyBlockRe),
		label:  scanSpans(lines, labelRe),
		screen: scanSpans(lines, screenRe),
	}
}

func scanSpans(lines []string, header *regexp.Regexp) []span {
	var spans []span
	n := len(lines)
	i := 0
	for i < n {
		if !header.MatchString(lines[i]) {
			i++
			continue
		}
		base := indentOf(lines[i])
		j := i + 1
		for j < n {
			if strings.TrimSpace(lines[j]) == "" {
				j++
				continue
			}
			if indentOf(lines[j]) <= base {
				break
			}
			j++
		}
		spans = append(spans, span{startLine: i + 1, endLine: j})
		i = j
	}
	return spans
}

func indentOf(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] != ' ' && s[i] != '\t' {
			return i
		}
	}
	return len(s)
}

func lineInSpans(line int, spans []span) bool {
	for _, s := range spans {
		if s.startLine <= line && line <= s.endLine {
			return true
		}
	}
	return false
}

// regionOf classifies the block a token starts in.
func regionOf(t token, blocks blockSpans) string {
	switch {
	case lineInSpans(t.startLine, blocks.python):
		return "python"
	case lineInSpans(t.startLine, blocks.screen):
		return "screen"
	case lineInSpans(t.startLine, blocks.label):
		return "label"
	}
	return "root"
}

// ---------------------------------------------------------------------------
// Escaping
// ---------------------------------------------------------------------------

// escapeForQuote backslash-escapes every unescaped occurrence of quote in s.
// Already escaped quotes are left alone, so text that came straight out of a
// literal round-trips unchanged.
func escapeForQuote(s, quote string) string {
	q := quote[0]
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i++
			continue
		}
		if c == q {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

// sanitizeTriple breaks any occurrence of the closing triple quote inside s
// by inserting a backslash before its last character.
func sanitizeTriple(s, quote string) string {
	return strings.ReplaceAll(s, quote, quote[:2]+`\`+quote[2:])
}
