package placeholder

import (
	"reflect"
	"testing"
)

// ---------------------------------------------------------------------------
// Extract
// ---------------------------------------------------------------------------

func TestExtract_BracketVariable(t *testing.T) {
	toks := Extract("Hello, [name]!")
	if len(toks) != 1 {
		t.Fatalf("got %d tokens, want 1", len(toks))
	}
	if toks[0].Text != "[name]" || toks[0].Class != ClassVariable {
		t.Errorf("got %+v, want [name]/variable", toks[0])
	}
	if toks[0].Pos != 7 {
		t.Errorf("pos = %d, want 7", toks[0].Pos)
	}
}

func TestExtract_BraceForms(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"score: {0}", []string{"{0}"}},
		{"value {0:.2f} end", []string{"{0:.2f}"}},
		{"{player!r:>8} wins", []string{"{player!r:>8}"}},
		{"{player} and [name]", []string{"{player}", "[name]"}},
	}
	for _, c := range cases {
		var got []string
		for _, tok := range Extract(c.in) {
			got = append(got, tok.Text)
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("Extract(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestExtract_PercentFormats(t *testing.T) {
	toks := Extract("%s items, %02d left, %(name)s wins %.2f")
	var got []string
	for _, tok := range toks {
		got = append(got, tok.Text)
	}
	want := []string{"%s", "%02d", "%(name)s", "%.2f"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExtract_MarkupTags(t *testing.T) {
	toks := Extract("{i}wait{/i} {color=#f00}red{/color} {w}")
	var classes []Class
	for _, tok := range toks {
		classes = append(classes, tok.Class)
	}
	want := []Class{ClassMarkupOpen, ClassMarkupClose, ClassMarkupOpen, ClassMarkupClose, ClassMarkupOpen}
	if !reflect.DeepEqual(classes, want) {
		t.Errorf("classes = %v, want %v", classes, want)
	}
}

func TestExtract_UnknownBraceNameIsVariable(t *testing.T) {
	toks := Extract("{player}")
	if len(toks) != 1 || toks[0].Class != ClassVariable {
		t.Fatalf("got %+v, want one variable token", toks)
	}
}

func TestExtract_EscapedBracesAreLiteral(t *testing.T) {
	toks := Extract("a {{literal}} brace")
	for _, tok := range toks {
		if tok.Class == ClassVariable {
			t.Errorf("escaped brace produced variable token %q", tok.Text)
		}
	}
}

func TestExtract_BackslashEscapes(t *testing.T) {
	toks := Extract(`\[not a var] and \{not a ref}`)
	for _, tok := range toks {
		if tok.Class == ClassVariable {
			t.Errorf("escaped sequence produced variable token %q", tok.Text)
		}
	}
}

func TestExtract_Empty(t *testing.T) {
	if toks := Extract(""); toks != nil {
		t.Errorf("Extract(\"\") = %v, want nil", toks)
	}
}

// ---------------------------------------------------------------------------
// Multiset
// ---------------------------------------------------------------------------

func TestMultiset_Counts(t *testing.T) {
	m := Multiset("Hello [name], score {0}, again {0}")
	if m["[name]"] != 1 {
		t.Errorf("[name] count = %d, want 1", m["[name]"])
	}
	if m["{0}"] != 2 {
		t.Errorf("{0} count = %d, want 2", m["{0}"])
	}
}

func TestMultisetEqual_TranslationPreservesTokens(t *testing.T) {
	src := "Hello, [name]!"
	if !MultisetEqual(src, "你好，[name]！") {
		t.Error("identical token sets reported unequal")
	}
	if MultisetEqual(src, "你好！") {
		t.Error("dropped placeholder reported equal")
	}
}

func TestMultisetEqual_ReorderedTokensStillEqual(t *testing.T) {
	if !MultisetEqual("[a] then [b]", "[b] 先于 [a]") {
		t.Error("reordering changed the multiset")
	}
}

// ---------------------------------------------------------------------------
// StripTags / NormalizeForSignature / Signature
// ---------------------------------------------------------------------------

func TestStripTags(t *testing.T) {
	cases := []struct{ in, want string }{
		{"{i}hello{/i}", "hello"},
		{"{color=#fff}x{/color}", "x"},
		{"{w} pause", " pause"},
		{"{{escaped}}", "{escaped}"},
		{"[name] stays", "[name] stays"},
	}
	for _, c := range cases {
		if got := StripTags(c.in); got != c.want {
			t.Errorf("StripTags(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeForSignature_VariableRenameStable(t *testing.T) {
	a := NormalizeForSignature("Hello [name], welcome!")
	b := NormalizeForSignature("Hello [player], welcome!")
	if a != b {
		t.Errorf("rename changed signature text: %q vs %q", a, b)
	}
}

func TestNormalizeForSignature_WhitespaceCollapsed(t *testing.T) {
	a := NormalizeForSignature("Hello   World")
	b := NormalizeForSignature("Hello World")
	if a != b {
		t.Errorf("whitespace not collapsed: %q vs %q", a, b)
	}
}

func TestSignature_Format(t *testing.T) {
	sig := Signature("Hello, [name]!")
	if len(sig) != len("sig:v2:")+12 {
		t.Errorf("unexpected signature length: %q", sig)
	}
	if sig[:7] != "sig:v2:" {
		t.Errorf("unexpected signature prefix: %q", sig)
	}
}

func TestSignature_DiffersForDifferentText(t *testing.T) {
	if Signature("Hello") == Signature("Goodbye") {
		t.Error("different texts share a signature")
	}
}
