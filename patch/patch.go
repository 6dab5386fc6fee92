// Package patch writes translated units back into Ren'Py script files.
// Each unit is re-located in the current source tree by its positional id,
// falling back to anchor-guided signature matching when the source drifted
// since extraction. Ambiguous units are reported as conflicts and left
// untranslated, never guessed.
package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vn-tools/rploc/placeholder"
	"github.com/vn-tools/rploc/unit"
)

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Mode selects the patch output layout.
type Mode string

const (
	// ModeMirror writes a full parallel tree of .zh.rpy files.
	ModeMirror Mode = "mirror"
	// ModeOverlay writes a game/tl/<lang>/ translation layer consumed by
	// the engine's own localization mechanism.
	ModeOverlay Mode = "overlay"
)

// ParseMode validates a mode string from a flag or config file.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeMirror, ModeOverlay:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown patch mode %q (want mirror or overlay)", s)
}

// MirrorSuffix is the extension of mirror-mode output files.
const MirrorSuffix = ".zh.rpy"

// Options controls patching. The zero value patches in mirror mode with
// default language and worker count.
type Options struct {
	// Mode is mirror or overlay. Empty means mirror.
	Mode Mode
	// Lang is the overlay language directory (default zh_CN).
	Lang string
	// Workers caps parallel per-file patching (0 = NumCPU-1).
	Workers int
	// DryRun produces the report without writing any output file.
	DryRun bool

	OnProgress func(done, total int)
	OnLog      func(format string, args ...any)
	OnWarning  func(format string, args ...any)
}

func (o Options) effectiveMode() Mode {
	if o.Mode == "" {
		return ModeMirror
	}
	return o.Mode
}

func (o Options) effectiveLang() string {
	if o.Lang == "" {
		return "zh_CN"
	}
	return o.Lang
}

func (o Options) effectiveWorkers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}

func (o Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o Options) warn(format string, args ...any) {
	if o.OnWarning != nil {
		o.OnWarning(format, args...)
	}
}

// ---------------------------------------------------------------------------
// Report
// ---------------------------------------------------------------------------

// Row statuses.
const (
	StatusApplied    = "applied"
	StatusRelocated  = "relocated"
	StatusConflict   = "conflict"
	StatusPythonSkip = "python-skip"
	StatusSkipped    = "skipped"
	StatusWarning    = "warning"
)

// Row is one per-unit report entry.
type Row struct {
	UnitID  string
	File    string
	Status  string
	Method  string
	Message string
}

// Report aggregates per-unit rows and file-level counts for one patch run.
type Report struct {
	Rows      []Row
	Files     int
	Applied   int
	Relocated int
	Conflicts int
}

// HasConflicts reports whether any unit was left unresolved.
func (r *Report) HasConflicts() bool {
	return r.Conflicts > 0
}

// WriteTSV writes the report rows as tab-separated values.
func (r *Report) WriteTSV(path string) error {
	var b strings.Builder
	b.WriteString("id\tfile\tstatus\tmethod\tmessage\n")
	for _, row := range r.Rows {
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%s\n",
			row.UnitID, row.File, row.Status, row.Method,
			strings.ReplaceAll(row.Message, "\t", " "))
	}
	return writeFileAtomic(path, b.String())
}

// ---------------------------------------------------------------------------
// Matching
// ---------------------------------------------------------------------------

// ConflictError reports a unit that matched zero or several candidate
// literals and therefore cannot be applied safely.
type ConflictError struct {
	UnitID     string
	Candidates int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("unit %s: %d candidate literals", e.UnitID, e.Candidates)
}

// pythonRegionError marks a match that landed inside a python block.
type pythonRegionError struct{ method string }

func (e *pythonRegionError) Error() string {
	return "matched literal is inside a python block (" + e.method + ")"
}

// matchUnit locates the literal a unit belongs to in the current text.
// Exact positional match is tried first; on content drift the anchors
// narrow a region and candidates are compared by placeholder-normalized
// signature. Exactly one candidate resolves; zero or many is a conflict.
func matchUnit(text string, tokens []token, blocks blockSpans, u *unit.TextUnit) (token, string, error) {
	srcNorm := normalizeNewlines(u.Source)

	// Exact: same line, same literal index, identical content.
	if t, ok := tokenAt(text, tokens, u); ok {
		if normalizeNewlines(t.inner(text)) == srcNorm {
			if regionOf(t, blocks) == "python" {
				return token{}, "", &pythonRegionError{method: "exact"}
			}
			return t, "exact", nil
		}
	}

	// Same line, unique content match (index drifted, line did not).
	var onLine []token
	for _, t := range tokens {
		if t.startLine == u.Line && normalizeNewlines(t.inner(text)) == srcNorm {
			onLine = append(onLine, t)
		}
	}
	if len(onLine) == 1 {
		if regionOf(onLine[0], blocks) == "python" {
			return token{}, "", &pythonRegionError{method: "exact-line"}
		}
		return onLine[0], "exact-line", nil
	}

	// Fuzzy: anchors bound the search region, candidates must carry the
	// same placeholder-normalized signature.
	start, end := anchorRegion(text, u.AnchorPrev, u.AnchorNext)
	wantSig := placeholder.Signature(srcNorm)
	var cands []token
	for _, t := range tokens {
		if t.start >= end || t.end <= start {
			continue
		}
		if placeholder.Signature(normalizeNewlines(t.inner(text))) == wantSig {
			cands = append(cands, t)
		}
	}
	if len(cands) != 1 {
		return token{}, "", &ConflictError{UnitID: u.ID, Candidates: len(cands)}
	}
	if regionOf(cands[0], blocks) == "python" {
		return token{}, "", &pythonRegionError{method: "anchored"}
	}
	return cands[0], "anchored", nil
}

// tokenAt resolves a unit's (line, idx) to a scanned token following the
// extractor's indexing: double-quoted literals on the line first, then
// single-quoted, each in source order.
func tokenAt(text string, tokens []token, u *unit.TextUnit) (token, bool) {
	if u.IsTriple {
		for _, t := range tokens {
			if t.triple && t.startLine == u.Line {
				return t, true
			}
		}
		return token{}, false
	}

	var doubles, singles []token
	for _, t := range tokens {
		if t.triple || t.startLine != u.Line || t.endLine != u.Line {
			continue
		}
		if t.quote == `"` {
			doubles = append(doubles, t)
		} else {
			singles = append(singles, t)
		}
	}
	ordered := append(doubles, singles...)
	if u.Idx >= 0 && u.Idx < len(ordered) {
		return ordered[u.Idx], true
	}
	return token{}, false
}

// anchorRegion maps the captured neighbor lines to a byte range of text.
// A missing or unmatched anchor leaves that side of the region open.
func anchorRegion(text, prev, next string) (int, int) {
	start, end := 0, len(text)
	if prev != "" {
		if i := strings.Index(text, prev); i != -1 {
			start = i + len(prev)
		}
	}
	if next != "" {
		if j := strings.Index(text[start:], next); j != -1 {
			end = start + j
		}
	}
	return start, end
}

func applyToken(text string, t token, zh string) string {
	var safe string
	if t.triple {
		safe = sanitizeTriple(zh, t.quote)
	} else {
		safe = escapeForQuote(zh, t.quote)
	}
	return text[:t.innerStart] + safe + text[t.innerEnd:]
}

// ---------------------------------------------------------------------------
// Per-file patching
// ---------------------------------------------------------------------------

// File applies a file's units to its current text and returns the patched
// text plus one report row per unit. Units are applied in source order;
// the text is rescanned after each replacement so later positions stay
// valid even when a translation changes literal lengths.
func File(text string, units []*unit.TextUnit) (string, []Row) {
	text = normalizeNewlines(text)

	sorted := make([]*unit.TextUnit, len(units))
	copy(sorted, units)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line < sorted[j].Line
		}
		return sorted[i].Idx < sorted[j].Idx
	})

	var rows []Row
	for _, u := range sorted {
		if !u.Translated() {
			rows = append(rows, Row{UnitID: u.ID, File: u.File, Status: StatusSkipped, Message: "no translation"})
			continue
		}
		if !placeholder.MultisetEqual(u.Source, u.Translation) {
			rows = append(rows, Row{UnitID: u.ID, File: u.File, Status: StatusWarning, Method: "placeholder-check", Message: "placeholder multiset differs"})
		}

		tokens := scanLiterals(text)
		blocks := detectBlocks(text)
		t, method, err := matchUnit(text, tokens, blocks, u)
		switch e := err.(type) {
		case nil:
			text = applyToken(text, t, u.Translation)
			status := StatusApplied
			if method == "anchored" {
				status = StatusRelocated
			}
			rows = append(rows, Row{UnitID: u.ID, File: u.File, Status: status, Method: method})
		case *pythonRegionError:
			rows = append(rows, Row{UnitID: u.ID, File: u.File, Status: StatusPythonSkip, Method: e.method})
		case *ConflictError:
			rows = append(rows, Row{UnitID: u.ID, File: u.File, Status: StatusConflict,
				Message: fmt.Sprintf("%d candidates", e.Candidates)})
		default:
			rows = append(rows, Row{UnitID: u.ID, File: u.File, Status: StatusConflict, Message: err.Error()})
		}
	}
	return text, rows
}

// ---------------------------------------------------------------------------
// Project driver
// ---------------------------------------------------------------------------

// Project patches every translated unit back into the tree rooted at root
// and writes the output under outRoot in the selected mode. Files are
// patched in parallel; the report is assembled in path order so repeated
// runs produce identical output.
func Project(root string, units []*unit.TextUnit, outRoot string, opts Options) (*Report, error) {
	byFile := make(map[string][]*unit.TextUnit)
	for _, u := range units {
		byFile[u.File] = append(byFile[u.File], u)
	}
	files := make([]string, 0, len(byFile))
	for f := range byFile {
		files = append(files, f)
	}
	sort.Strings(files)

	if opts.effectiveMode() == ModeOverlay {
		return writeOverlay(files, byFile, outRoot, opts)
	}

	report := &Report{}
	type fileResult struct {
		rows    []Row
		written bool
		err     error
	}
	results := make([]fileResult, len(files))

	var g errgroup.Group
	g.SetLimit(opts.effectiveWorkers())
	var mu sync.Mutex
	done := 0
	for i, rel := range files {
		i, rel := i, rel
		g.Go(func() error {
			data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				results[i] = fileResult{err: fmt.Errorf("reading %s: %w", rel, err)}
				return results[i].err
			}
			patched, rows := File(string(data), byFile[rel])
			written := false
			if anyApplied(rows) && !opts.DryRun {
				out := filepath.Join(outRoot, filepath.FromSlash(mirrorRel(rel)))
				if err := writeFileAtomic(out, patched); err != nil {
					results[i] = fileResult{err: err}
					return err
				}
				written = true
			}
			results[i] = fileResult{rows: rows, written: written}
			mu.Lock()
			done++
			if opts.OnProgress != nil {
				opts.OnProgress(done, len(files))
			}
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	for _, res := range results {
		report.Rows = append(report.Rows, res.rows...)
		if res.written {
			report.Files++
		}
		for _, row := range res.rows {
			switch row.Status {
			case StatusApplied:
				report.Applied++
			case StatusRelocated:
				report.Relocated++
				opts.log("relocated %s via %s", row.UnitID, row.Method)
			case StatusConflict:
				report.Conflicts++
				opts.warn("conflict: %s (%s)", row.UnitID, row.Message)
			case StatusPythonSkip:
				opts.warn("skipped %s: python block", row.UnitID)
			}
		}
	}
	return report, err
}

// mirrorRel maps a source path to its mirror output path.
func mirrorRel(rel string) string {
	return strings.TrimSuffix(rel, ".rpy") + MirrorSuffix
}

func anyApplied(rows []Row) bool {
	for _, r := range rows {
		if r.Status == StatusApplied || r.Status == StatusRelocated {
			return true
		}
	}
	return false
}

func writeFileAtomic(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
