package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vn-tools/rploc/unit"
)

func scan(t *testing.T, src string) []*unit.TextUnit {
	t.Helper()
	units, _ := Source("game/script.rpy", []byte(src), DefaultOptions())
	return units
}

// ---------------------------------------------------------------------------
// Source: basic literal extraction
// ---------------------------------------------------------------------------

func TestSource_SingleLiteral(t *testing.T) {
	units := scan(t, `label start:
    e "Hello, [name]!"
`)
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	u := units[0]
	if u.Source != "Hello, [name]!" {
		t.Errorf("source = %q", u.Source)
	}
	if u.ID != "game/script.rpy:2:0" {
		t.Errorf("id = %q, want game/script.rpy:2:0", u.ID)
	}
	if u.Label != "start" {
		t.Errorf("label = %q, want start", u.Label)
	}
	if u.Speaker != "e" {
		t.Errorf("speaker = %q, want e", u.Speaker)
	}
	if len(u.Placeholders) != 1 || u.Placeholders[0] != "[name]" {
		t.Errorf("placeholders = %v, want [name]", u.Placeholders)
	}
	if u.Quote != `"` || u.IsTriple {
		t.Errorf("quote metadata = %q/%v", u.Quote, u.IsTriple)
	}
}

func TestSource_MultipleLiteralsOneLine(t *testing.T) {
	units := scan(t, `menu:
    "Go left" : pass
    "Go right or say" "something"
`)
	var ids []string
	for _, u := range units {
		ids = append(ids, u.ID)
	}
	// Line 3 carries two literals disambiguated by idx.
	want := map[string]bool{
		"game/script.rpy:2:0": true,
		"game/script.rpy:3:0": true,
		"game/script.rpy:3:1": true,
	}
	if len(units) != 3 {
		t.Fatalf("got %d units (%v), want 3", len(units), ids)
	}
	for _, id := range ids {
		if !want[id] {
			t.Errorf("unexpected id %s", id)
		}
	}
}

func TestSource_Anchors(t *testing.T) {
	units := scan(t, `label intro:

    e "First line"

    e "Second line"
`)
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	if units[0].AnchorPrev != "label intro:" {
		t.Errorf("anchor_prev = %q", units[0].AnchorPrev)
	}
	if units[0].AnchorNext != `    e "Second line"` {
		t.Errorf("anchor_next = %q", units[0].AnchorNext)
	}
}

func TestSource_SingleQuotesAndContractions(t *testing.T) {
	units := scan(t, `e "I don't think so"
e 'Single quoted line'
`)
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	if units[0].Source != "I don't think so" {
		t.Errorf("contraction mangled: %q", units[0].Source)
	}
	if units[1].Source != "Single quoted line" || units[1].Quote != "'" {
		t.Errorf("single-quoted literal: %q quote %q", units[1].Source, units[1].Quote)
	}
}

func TestSource_TripleQuoted(t *testing.T) {
	units := scan(t, `e """Line one
line two
line three"""
`)
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	u := units[0]
	if u.Source != "Line one\nline two\nline three" {
		t.Errorf("source = %q", u.Source)
	}
	if !u.IsTriple || u.Quote != `"""` {
		t.Errorf("quote metadata = %q/%v", u.Quote, u.IsTriple)
	}
	if u.Line != 1 {
		t.Errorf("line = %d, want 1", u.Line)
	}
}

func TestSource_UnterminatedTripleWarnsButCompletes(t *testing.T) {
	units, warnings := Source("a.rpy", []byte(`e """never closed
more text
`), DefaultOptions())
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1", len(warnings))
	}
	if !strings.Contains(warnings[0].Reason, "unterminated") {
		t.Errorf("warning = %q", warnings[0].Reason)
	}
	if len(units) != 1 {
		t.Errorf("EOF-unterminated triple literal should still be captured, got %d units", len(units))
	}
}

// ---------------------------------------------------------------------------
// Source: filters
// ---------------------------------------------------------------------------

func TestSource_SkipsPythonBlocks(t *testing.T) {
	units := scan(t, `init python:
    store.x = "not dialogue"
    y = "also code"

label start:
    e "Real dialogue"
`)
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	if units[0].Source != "Real dialogue" {
		t.Errorf("source = %q", units[0].Source)
	}
}

func TestSource_SkipsComments(t *testing.T) {
	units := scan(t, `# e "commented out"
e "Kept"  # trailing "comment string"
`)
	if len(units) != 1 {
		t.Fatalf("got %d units: %+v", len(units), units)
	}
	if units[0].Source != "Kept" {
		t.Errorf("source = %q", units[0].Source)
	}
}

func TestSource_HashInsideLiteralNotAComment(t *testing.T) {
	units := scan(t, `e "{color=#ff0000}red{/color}"
`)
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	if units[0].Source != "{color=#ff0000}red{/color}" {
		t.Errorf("source = %q", units[0].Source)
	}
}

func TestSource_FiltersAssetsAndCode(t *testing.T) {
	units := scan(t, `image bg = "images/bg_room.png"
$ flag = True
show screen hud
e "Actual text"
$ x = "some_variable_name"
`)
	if len(units) != 1 {
		t.Fatalf("got %d units: %+v", len(units), units)
	}
	if units[0].Source != "Actual text" {
		t.Errorf("source = %q", units[0].Source)
	}
}

func TestSource_KeepsShortUITokens(t *testing.T) {
	units := scan(t, `textbutton "OK"
textbutton "Yes"
`)
	if len(units) != 2 {
		t.Fatalf("short UI tokens filtered: got %d units", len(units))
	}
}

// ---------------------------------------------------------------------------
// Project
// ---------------------------------------------------------------------------

func TestProject_DeterministicOrder(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("game/b.rpy", "e \"from b\"\n")
	write("game/a.rpy", "e \"from a one\"\ne \"from a two\"\n")
	write("game/tl/zh/a.rpy", "e \"excluded\"\n")

	opts := DefaultOptions()
	opts.Workers = 4
	res, err := Project(root, opts)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if res.Files != 2 {
		t.Errorf("files = %d, want 2 (tl/ excluded)", res.Files)
	}
	var got []string
	for _, u := range res.Units {
		got = append(got, u.ID)
	}
	want := []string{"game/a.rpy:1:0", "game/a.rpy:2:0", "game/b.rpy:1:0"}
	if len(got) != len(want) {
		t.Fatalf("units = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("units[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestWriteTMSeed(t *testing.T) {
	dir := t.TempDir()
	units := []*unit.TextUnit{
		{Source: "OK", File: "a.rpy", Line: 1},
		{Source: "OK", File: "b.rpy", Line: 2},
		{Source: "Rare line", File: "a.rpy", Line: 3, Label: "intro"},
	}
	path := filepath.Join(dir, "tm_seed.csv")
	if err := WriteTMSeed(path, units); err != nil {
		t.Fatalf("WriteTMSeed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2", len(lines))
	}
	if !strings.HasPrefix(lines[1], "OK,2,") {
		t.Errorf("most frequent first: %q", lines[1])
	}
}
