// Package merge folds translated JSONL records back into the extracted
// base records by id, producing one merged record set.
//
// Merging works on raw lines rather than decoded structs so that fields
// this tool does not know about survive the round trip unchanged.
package merge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/vn-tools/rploc/unit"
)

// Result summarizes one merge run.
type Result struct {
	// Total is the number of base records processed.
	Total int
	// Filled is how many base records received a translation.
	Filled int
	// Unmatched counts translated records whose id matched no base record.
	Unmatched int
}

// entry is a pending translation keyed by record id.
type entry struct {
	translation string
	origin      string
	used        bool
}

// Merge reads base extraction records and a translated record set and
// writes the base records with "zh" (and "source" when present) filled in.
// Base records keep their original field order and any unknown fields.
func Merge(basePath, translatedPath, outPath string) (*Result, error) {
	trans, err := loadTranslations(translatedPath)
	if err != nil {
		return nil, err
	}

	in, err := os.Open(basePath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", basePath, err)
	}
	defer in.Close()

	var out strings.Builder
	res := &Result{}
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		res.Total++
		id := unit.RecordID([]byte(line))
		if e, ok := trans[id]; ok && e.translation != "" {
			line, err = sjson.Set(line, "zh", e.translation)
			if err != nil {
				return nil, fmt.Errorf("merging record %s: %w", id, err)
			}
			if e.origin != "" {
				if line, err = sjson.Set(line, "source", e.origin); err != nil {
					return nil, fmt.Errorf("merging record %s: %w", id, err)
				}
			}
			e.used = true
			res.Filled++
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", basePath, err)
	}

	for _, e := range trans {
		if !e.used {
			res.Unmatched++
		}
	}

	if err := writeAtomic(outPath, []byte(out.String())); err != nil {
		return nil, err
	}
	return res, nil
}

func loadTranslations(path string) (map[string]*entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	out := make(map[string]*entry)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		raw := []byte(line)
		id := unit.RecordID(raw)
		if id == "" {
			continue
		}
		tr := unit.TranslationField(raw)
		if tr == "" {
			continue
		}
		var origin string
		var u unit.TextUnit
		// Best-effort origin: only well-formed records carry one.
		if err := json.Unmarshal(raw, &u); err == nil {
			origin = u.Origin
		}
		out[id] = &entry{translation: tr, origin: origin}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return out, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp("", "rploc-merge-*.jsonl")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		// Cross-device rename: fall back to plain write.
		os.Remove(name)
		if werr := os.WriteFile(path, data, 0644); werr != nil {
			return fmt.Errorf("writing %s: %w", path, werr)
		}
	}
	return nil
}
