package unit

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRead_SkipsBlankCountsMalformed(t *testing.T) {
	input := strings.Join([]string{
		`{"id":"a.rpy:1:0","en":"Hello","zh":"你好"}`,
		``,
		`not json at all`,
		`{"id":"a.rpy:2:0","en":"World"}`,
	}, "\n")
	units, malformed, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if malformed != 1 {
		t.Errorf("malformed = %d, want 1", malformed)
	}
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	if units[0].Translation != "你好" {
		t.Errorf("translation = %q", units[0].Translation)
	}
	if units[1].Translated() {
		t.Error("unit without zh reported as translated")
	}
}

func TestRead_LegacyTranslationKeys(t *testing.T) {
	for _, tc := range []struct {
		name string
		line string
	}{
		{"translation", `{"id":"x:1:0","en":"OK","translation":"好的"}`},
		{"cn", `{"id":"x:1:0","en":"OK","cn":"好的"}`},
		{"zh_final", `{"id":"x:1:0","en":"OK","zh_final":"好的"}`},
	} {
		units, _, err := Read(strings.NewReader(tc.line))
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if len(units) != 1 || units[0].Translation != "好的" {
			t.Errorf("%s: translation not adopted: %+v", tc.name, units)
		}
	}
}

func TestTranslationField_SkipsWhitespaceOnly(t *testing.T) {
	if got := TranslationField([]byte(`{"zh":"  ","cn":"备用"}`)); got != "备用" {
		t.Errorf("got %q, want fallback past whitespace-only zh", got)
	}
	if got := TranslationField([]byte(`{"en":"Hello"}`)); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestRecordID_Fallbacks(t *testing.T) {
	if got := RecordID([]byte(`{"id":"a:1:0"}`)); got != "a:1:0" {
		t.Errorf("id: got %q", got)
	}
	if got := RecordID([]byte(`{"id_hash":"sha256:abcd"}`)); got != "sha256:abcd" {
		t.Errorf("id_hash: got %q", got)
	}
	if got := RecordID([]byte(`{"file":"a.rpy","line":3,"idx":1}`)); got != "a.rpy:3:1" {
		t.Errorf("positional: got %q", got)
	}
	if got := RecordID([]byte(`{"en":"orphan"}`)); got != "" {
		t.Errorf("missing identity: got %q", got)
	}
}

func TestWrite_NoHTMLEscaping(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, []*TextUnit{{ID: "a:1:0", Source: `a < b & c > d`}})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(buf.String(), `a < b & c > d`) {
		t.Errorf("literal text not preserved: %s", buf.String())
	}
	if strings.Contains(buf.String(), `\u003c`) || strings.Contains(buf.String(), `\u0026`) {
		t.Errorf("angle brackets escaped: %s", buf.String())
	}
}

func TestWriteFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "units.jsonl")
	in := []*TextUnit{
		{ID: "a:1:0", File: "a.rpy", Line: 1, Source: `Hello \"quoted\"`, Placeholders: []string{}},
		{ID: "a:2:0", File: "a.rpy", Line: 2, Source: "第二行", Translation: "second", Origin: OriginBackend},
	}
	if err := WriteFile(path, in); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	out, malformed, err := ReadFile(path)
	if err != nil || malformed != 0 {
		t.Fatalf("ReadFile: %v (malformed %d)", err, malformed)
	}
	if len(out) != 2 {
		t.Fatalf("got %d units, want 2", len(out))
	}
	if out[0].Source != in[0].Source {
		t.Errorf("source round-trip: %q != %q", out[0].Source, in[0].Source)
	}
	if out[1].Origin != OriginBackend {
		t.Errorf("origin round-trip: %q", out[1].Origin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(strings.TrimSpace(string(data)), "\n"); n != 1 {
		t.Errorf("want one newline between 2 records, got %d", n)
	}
}
