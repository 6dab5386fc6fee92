package unit

import (
	"strings"
	"testing"
)

func TestPositionID(t *testing.T) {
	got := PositionID("game/script.rpy", 42, 1)
	if got != "game/script.rpy:42:1" {
		t.Errorf("PositionID = %q", got)
	}
}

func TestHashID_Format(t *testing.T) {
	got := HashID("a.rpy", 1, 0, "Hello", "label start:", "jump end")
	if !strings.HasPrefix(got, "sha256:") {
		t.Fatalf("HashID = %q, want sha256: prefix", got)
	}
	if len(got) != len("sha256:")+16 {
		t.Errorf("HashID = %q, want 16 hex digits", got)
	}
}

func TestHashID_SensitiveToContext(t *testing.T) {
	a := HashID("a.rpy", 1, 0, "Hello", "prev", "next")
	b := HashID("a.rpy", 1, 0, "Hello", "prev", "other next")
	if a == b {
		t.Error("hash should change when the anchor context changes")
	}
	if a != HashID("a.rpy", 1, 0, "Hello", "prev", "next") {
		t.Error("hash should be deterministic")
	}
}

func TestSort(t *testing.T) {
	units := []*TextUnit{
		{File: "b.rpy", Line: 1},
		{File: "a.rpy", Line: 9, Idx: 1},
		{File: "a.rpy", Line: 9, Idx: 0},
		{File: "a.rpy", Line: 2},
	}
	Sort(units)
	want := []string{"a.rpy:2:0", "a.rpy:9:0", "a.rpy:9:1", "b.rpy:1:0"}
	for i, u := range units {
		id := PositionID(u.File, u.Line, u.Idx)
		if id != want[i] {
			t.Errorf("units[%d] = %s, want %s", i, id, want[i])
		}
	}
}

func TestIndex_FirstDuplicateWins(t *testing.T) {
	first := &TextUnit{ID: "a.rpy:1:0", Source: "first"}
	m := Index([]*TextUnit{first, {ID: "a.rpy:1:0", Source: "second"}})
	if len(m) != 1 || m["a.rpy:1:0"] != first {
		t.Errorf("Index kept the wrong duplicate: %+v", m["a.rpy:1:0"])
	}
}

func TestTranslated(t *testing.T) {
	u := &TextUnit{Source: "Hello"}
	if u.Translated() {
		t.Error("empty translation reported as translated")
	}
	u.Translation = "你好"
	if !u.Translated() {
		t.Error("filled translation not reported")
	}
}
