package extract

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/vn-tools/rploc/unit"
)

// ---------------------------------------------------------------------------
// Project walking
// ---------------------------------------------------------------------------

// Result is the outcome of extracting a whole project tree.
type Result struct {
	// Units holds every extracted unit, ordered by (file, line, col, idx).
	Units []*unit.TextUnit
	// Files is how many .rpy files were scanned.
	Files int
	// Warnings lists skipped literals, per file.
	Warnings []Warning
}

// ListScripts returns project-relative paths of all .rpy files under root,
// sorted, with excluded directories pruned.
func ListScripts(root string, excludeDirs []string) ([]string, error) {
	excluded := make(map[string]bool, len(excludeDirs))
	for _, d := range excludeDirs {
		excluded[d] = true
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && excluded[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".rpy") {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// Project scans every .rpy file under root in parallel and merges the
// results deterministically by (file, line, col, idx).
func Project(root string, opts Options) (*Result, error) {
	files, err := ListScripts(root, opts.ExcludeDirs)
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() - 1
		if workers < 1 {
			workers = 1
		}
	}

	type fileResult struct {
		units    []*unit.TextUnit
		warnings []Warning
	}
	results := make([]fileResult, len(files))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, rel := range files {
		g.Go(func() error {
			data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				return fmt.Errorf("reading %s: %w", rel, err)
			}
			units, warnings := Source(rel, data, opts)
			results[i] = fileResult{units: units, warnings: warnings}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Files: len(files)}
	for _, fr := range results {
		res.Units = append(res.Units, fr.units...)
		res.Warnings = append(res.Warnings, fr.warnings...)
	}
	// Files were scanned in sorted order and per-file units are already in
	// source order, but sort anyway so output never depends on scheduling.
	unit.Sort(res.Units)
	return res, nil
}

// ---------------------------------------------------------------------------
// TM seed
// ---------------------------------------------------------------------------

// tmSample remembers where a source text was first seen.
type tmSample struct {
	file  string
	line  int
	label string
}

// WriteTMSeed writes a translation-memory seed CSV: each distinct source
// text with its occurrence count and a sample location, most frequent
// first. Feeds dictionary generation.
func WriteTMSeed(path string, units []*unit.TextUnit) error {
	counts := make(map[string]int)
	samples := make(map[string]tmSample)
	for _, u := range units {
		counts[u.Source]++
		if _, ok := samples[u.Source]; !ok {
			samples[u.Source] = tmSample{file: u.File, line: u.Line, label: u.Label}
		}
	}

	texts := make([]string, 0, len(counts))
	for t := range counts {
		texts = append(texts, t)
	}
	sort.Slice(texts, func(i, j int) bool {
		if counts[texts[i]] != counts[texts[j]] {
			return counts[texts[i]] > counts[texts[j]]
		}
		return texts[i] < texts[j]
	})

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"text_en", "count", "sample_file", "sample_line", "sample_label"}); err != nil {
		return err
	}
	for _, t := range texts {
		s := samples[t]
		if err := w.Write([]string{t, strconv.Itoa(counts[t]), s.file, strconv.Itoa(s.line), s.label}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
