package merge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMerge_FillsTranslationById(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.jsonl",
		`{"id":"game/a.rpy:3:0","en":"Hello","extra":"keep-me"}`+"\n"+
			`{"id":"game/a.rpy:5:0","en":"Bye"}`+"\n")
	trans := writeFile(t, dir, "trans.jsonl",
		`{"id":"game/a.rpy:3:0","en":"Hello","zh":"你好","source":"backend"}`+"\n")
	out := filepath.Join(dir, "merged.jsonl")

	res, err := Merge(base, trans, out)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.Total != 2 || res.Filled != 1 || res.Unmatched != 0 {
		t.Errorf("result = %+v, want total 2 filled 1 unmatched 0", res)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if got := gjson.Get(lines[0], "zh").String(); got != "你好" {
		t.Errorf("zh = %q, want 你好", got)
	}
	if got := gjson.Get(lines[0], "extra").String(); got != "keep-me" {
		t.Errorf("unknown field dropped: extra = %q", got)
	}
	if got := gjson.Get(lines[0], "source").String(); got != "backend" {
		t.Errorf("source = %q, want backend", got)
	}
	if gjson.Get(lines[1], "zh").Exists() {
		t.Error("untranslated record gained a zh field")
	}
}

func TestMerge_LegacyTranslationKey(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.jsonl", `{"id":"a.rpy:1:0","en":"OK"}`+"\n")
	trans := writeFile(t, dir, "trans.jsonl", `{"id":"a.rpy:1:0","translation":"好的"}`+"\n")
	out := filepath.Join(dir, "merged.jsonl")

	res, err := Merge(base, trans, out)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.Filled != 1 {
		t.Errorf("filled = %d, want 1", res.Filled)
	}
	data, _ := os.ReadFile(out)
	if got := gjson.Get(strings.TrimSpace(string(data)), "zh").String(); got != "好的" {
		t.Errorf("zh = %q, want 好的", got)
	}
}

func TestMerge_UnmatchedCounted(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.jsonl", `{"id":"a.rpy:1:0","en":"OK"}`+"\n")
	trans := writeFile(t, dir, "trans.jsonl", `{"id":"a.rpy:99:0","zh":"孤儿"}`+"\n")
	out := filepath.Join(dir, "merged.jsonl")

	res, err := Merge(base, trans, out)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.Unmatched != 1 {
		t.Errorf("unmatched = %d, want 1", res.Unmatched)
	}
}

func TestMerge_PositionalFallbackId(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.jsonl", `{"file":"a.rpy","line":7,"idx":1,"en":"Hi"}`+"\n")
	trans := writeFile(t, dir, "trans.jsonl", `{"file":"a.rpy","line":7,"idx":1,"zh":"嗨"}`+"\n")
	out := filepath.Join(dir, "merged.jsonl")

	res, err := Merge(base, trans, out)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.Filled != 1 {
		t.Errorf("filled = %d, want 1", res.Filled)
	}
}
