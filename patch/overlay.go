package patch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vn-tools/rploc/unit"
)

// ---------------------------------------------------------------------------
// Overlay (translation layer) output
// ---------------------------------------------------------------------------

// OverlayDir is the root of overlay output relative to the target, before
// the language directory.
const OverlayDir = "game/tl"

// writeOverlay emits one translation-layer script per source file under
// outRoot/game/tl/<lang>/, using the engine's old/new strings format.
// Duplicate source texts keep the first translation; a later conflicting
// translation is surfaced as a comment and a report row.
func writeOverlay(files []string, byFile map[string][]*unit.TextUnit, outRoot string, opts Options) (*Report, error) {
	report := &Report{}
	lang := opts.effectiveLang()

	for _, rel := range files {
		content, rows := overlayContent(byFile[rel], lang)
		report.Rows = append(report.Rows, rows...)
		for _, row := range rows {
			switch row.Status {
			case StatusApplied:
				report.Applied++
			case StatusConflict:
				report.Conflicts++
				opts.warn("overlay conflict: %s (%s)", row.UnitID, row.Message)
			}
		}
		if content == "" {
			continue
		}
		if !opts.DryRun {
			out := filepath.Join(outRoot, filepath.FromSlash(OverlayDir), lang, filepath.FromSlash(overlayRel(rel)))
			if err := writeFileAtomic(out, content); err != nil {
				return report, err
			}
		}
		report.Files++
	}
	opts.log("overlay: %d files under %s", report.Files, filepath.Join(outRoot, filepath.FromSlash(OverlayDir), lang))
	return report, nil
}

// overlayRel maps a source path to its path under the language directory.
// The leading game/ segment is dropped; the tl tree mirrors the game tree.
func overlayRel(rel string) string {
	return strings.TrimPrefix(rel, "game/")
}

func overlayContent(units []*unit.TextUnit, lang string) (string, []Row) {
	seen := make(map[string]string)
	var order []string
	var rows []Row

	for _, u := range units {
		if !u.Translated() {
			rows = append(rows, Row{UnitID: u.ID, File: u.File, Status: StatusSkipped, Message: "no translation"})
			continue
		}
		if strings.TrimSpace(u.Source) == "" {
			continue
		}
		if prev, ok := seen[u.Source]; ok {
			if prev != u.Translation {
				rows = append(rows, Row{UnitID: u.ID, File: u.File, Status: StatusConflict,
					Message: fmt.Sprintf("duplicate source with different translation: %q vs %q", prev, u.Translation)})
			}
			continue
		}
		seen[u.Source] = u.Translation
		order = append(order, u.Source)
		rows = append(rows, Row{UnitID: u.ID, File: u.File, Status: StatusApplied, Method: "overlay"})
	}
	if len(order) == 0 {
		return "", rows
	}

	var b strings.Builder
	fmt.Fprintf(&b, "translate %s strings:\n", lang)
	for _, src := range order {
		b.WriteString("\n")
		fmt.Fprintf(&b, "    old %s\n", quoteRpy(src))
		fmt.Fprintf(&b, "    new %s\n", quoteRpy(seen[src]))
	}
	return b.String(), rows
}

// quoteRpy wraps s for a strings block: triple quotes when it spans lines,
// double quotes otherwise. Unescaped double quotes are escaped in place.
func quoteRpy(s string) string {
	if strings.Contains(s, "\n") {
		return `"""` + sanitizeTriple(s, `"""`) + `"""`
	}
	return `"` + escapeForQuote(s, `"`) + `"`
}
