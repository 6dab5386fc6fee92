package unit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

// translationKeys are the field names accepted for the translated text when
// reading records produced by other tools. Output always writes "zh".
var translationKeys = []string{"zh", "cn", "zh_cn", "translation", "text_zh", "target", "tgt", "zh_final"}

// TranslationField extracts the translated text from a raw JSONL record,
// trying every accepted key. Returns "" when none is set.
func TranslationField(raw []byte) string {
	for _, key := range translationKeys {
		if v := gjson.GetBytes(raw, key); v.Exists() && strings.TrimSpace(v.String()) != "" {
			return v.String()
		}
	}
	return ""
}

// RecordID resolves the identity of a raw JSONL record: explicit id,
// id_hash, or the positional triple.
func RecordID(raw []byte) string {
	if v := gjson.GetBytes(raw, "id"); v.Exists() && v.String() != "" {
		return v.String()
	}
	if v := gjson.GetBytes(raw, "id_hash"); v.Exists() && v.String() != "" {
		return v.String()
	}
	file := gjson.GetBytes(raw, "file")
	line := gjson.GetBytes(raw, "line")
	idx := gjson.GetBytes(raw, "idx")
	if file.Exists() && line.Exists() && idx.Exists() {
		return fmt.Sprintf("%s:%d:%d", file.String(), line.Int(), idx.Int())
	}
	return ""
}

// Read decodes JSON Lines records from r. Blank lines are skipped;
// malformed lines are counted, not fatal.
func Read(r io.Reader) (units []*TextUnit, malformed int, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var u TextUnit
		if err := json.Unmarshal([]byte(line), &u); err != nil {
			malformed++
			continue
		}
		if u.Translation == "" {
			// Accept legacy translation field names.
			if tr := TranslationField([]byte(line)); tr != "" {
				u.Translation = tr
			}
		}
		units = append(units, &u)
	}
	if err := sc.Err(); err != nil {
		return nil, malformed, fmt.Errorf("reading JSONL: %w", err)
	}
	return units, malformed, nil
}

// ReadFile decodes a JSONL file.
func ReadFile(path string) ([]*TextUnit, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

// Write encodes units as JSON Lines, one record per line.
func Write(w io.Writer, units []*TextUnit) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, u := range units {
		if err := enc.Encode(u); err != nil {
			return fmt.Errorf("encoding unit %s: %w", u.ID, err)
		}
	}
	return bw.Flush()
}

// WriteFile writes units atomically: temp file in the target directory,
// then rename over the destination.
func WriteFile(path string, units []*TextUnit) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if err := Write(tmp, units); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
