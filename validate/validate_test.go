package validate

import (
	"testing"

	"github.com/vn-tools/rploc/unit"
)

func rules(findings []Finding) map[string]bool {
	m := make(map[string]bool, len(findings))
	for _, f := range findings {
		m[f.Rule] = true
	}
	return m
}

func TestEvaluate_PlaceholderPreserved(t *testing.T) {
	findings := Evaluate("Hello, [name]!", "你好，[name]！", DefaultOptions())
	if !Passed(findings) {
		t.Errorf("translation with preserved placeholder rejected: %+v", findings)
	}
}

func TestEvaluate_PlaceholderDropped(t *testing.T) {
	findings := Evaluate("Hello, [name]!", "你好！", DefaultOptions())
	if Passed(findings) {
		t.Fatal("dropped placeholder accepted")
	}
	if !rules(findings)[RulePlaceholderCountMismatch] {
		t.Errorf("missing %s: %+v", RulePlaceholderCountMismatch, findings)
	}
}

func TestEvaluate_EmptyTranslation(t *testing.T) {
	findings := Evaluate("Hello", "   ", DefaultOptions())
	if Passed(findings) || !rules(findings)[RuleEmptyTranslation] {
		t.Errorf("findings = %+v", findings)
	}
}

func TestEvaluate_NewlineCount(t *testing.T) {
	findings := Evaluate("line one\nline two", "一行到底", DefaultOptions())
	if Passed(findings) || !rules(findings)[RuleNewlineCountMismatch] {
		t.Errorf("findings = %+v", findings)
	}
}

func TestEvaluate_LengthRatioWarnsButPasses(t *testing.T) {
	findings := Evaluate("A fairly ordinary sentence about the weather today.", "短", DefaultOptions())
	if !rules(findings)[RuleLengthRatioOutOfRange] {
		t.Fatalf("no length finding: %+v", findings)
	}
	if !Passed(findings) {
		t.Error("format-level finding rejected the unit without strict mode")
	}

	opts := DefaultOptions()
	opts.StrictFormat = true
	if Passed(Evaluate("A fairly ordinary sentence about the weather today.", "短", opts)) {
		t.Error("strict mode did not promote the format finding")
	}
}

func TestEvaluate_EndPunct(t *testing.T) {
	opts := DefaultOptions()
	if rules(Evaluate("She left.", "她走了。", opts))[RuleEndPunctMismatch] {
		t.Error("CJK terminal punctuation flagged")
	}
	if !rules(Evaluate("She left.", "她走了", opts))[RuleEndPunctMismatch] {
		t.Error("missing terminal punctuation not flagged")
	}
	// UI tokens are checked too unless explicitly exempted.
	if !rules(Evaluate("OK", "好的。", opts))[RuleEndPunctMismatch] {
		t.Error("UI token punctuation divergence not flagged")
	}
	opts.IgnoreUIPunct = true
	if rules(Evaluate("OK", "好的。", opts))[RuleEndPunctMismatch] {
		t.Error("exempted UI token subjected to the punctuation rule")
	}
	// The exemption never reaches full sentences.
	if !rules(Evaluate("She left without a single word.", "她一句话也没说就走了", opts))[RuleEndPunctMismatch] {
		t.Error("full sentence treated as exempt UI token")
	}
}

func TestEvaluate_EdgeWhitespace(t *testing.T) {
	if !rules(Evaluate("Hello", " 你好", DefaultOptions()))[RuleEdgeWhitespaceMismatch] {
		t.Error("leading whitespace divergence not flagged")
	}
	if rules(Evaluate(" Hello ", " 你好 ", DefaultOptions()))[RuleEdgeWhitespaceMismatch] {
		t.Error("matching whitespace flagged")
	}
}

func TestEvaluate_NumberPreserve(t *testing.T) {
	findings := Evaluate("You have 42 coins.", "你有四十二枚硬币。", DefaultOptions())
	if !rules(findings)[RuleNumberPreserveIncomplete] {
		t.Errorf("rewritten numeral not flagged: %+v", findings)
	}
	if !Passed(findings) {
		t.Error("advisory finding rejected a structurally sound unit")
	}
}

func TestEvaluate_Terms(t *testing.T) {
	opts := DefaultOptions()
	opts.Terms = map[string]string{"Eileen": "艾琳"}
	if !rules(Evaluate("Eileen waved.", "伊琳挥了挥手。", opts))[RuleTermMismatch] {
		t.Error("term rendered off-glossary not flagged")
	}
	if rules(Evaluate("Eileen waved.", "艾琳挥了挥手。", opts))[RuleTermMismatch] {
		t.Error("glossary-conformant term flagged")
	}
}

func TestEvaluate_StyleTags(t *testing.T) {
	opts := DefaultOptions()
	if !rules(Evaluate("{i}soft{/i}", "{i}轻柔", opts))[RuleStyleTagUnbalanced] {
		t.Error("unclosed style tag not flagged")
	}
	if rules(Evaluate("Wait{w} here", "在这里{w}等着", opts))[RuleStyleTagUnbalanced] {
		t.Error("single-shot tag treated as unclosed")
	}
}

func TestEvaluate_EnglishLeakage(t *testing.T) {
	findings := Evaluate(
		"The door creaked open and nobody was there.",
		"The door creaked open and nobody was there.",
		DefaultOptions())
	if !rules(findings)[RuleEnglishLeakage] {
		t.Errorf("untranslated English not flagged: %+v", findings)
	}
	if rules(Evaluate("Hello", "门吱呀一声开了，里面空无一人。", DefaultOptions()))[RuleEnglishLeakage] {
		t.Error("Chinese translation flagged as English")
	}
}

func TestEvaluate_UIWidthOverflow(t *testing.T) {
	findings := Evaluate("Options", "这是一个特别冗长的设置菜单项", DefaultOptions())
	if !rules(findings)[RuleUIWidthOverflow] {
		t.Errorf("overwide UI translation not flagged: %+v", findings)
	}
}

func TestRun_Summary(t *testing.T) {
	units := []*unit.TextUnit{
		{ID: "a:1:0", Source: "Hello, [name]!", Translation: "你好，[name]！"},
		{ID: "a:2:0", Source: "Hello, [name]!", Translation: "你好！"},
		{ID: "a:3:0", Source: "Bye", Translation: ""},
	}
	rep := Run(units, DefaultOptions())
	if rep.Summary.Total != 3 || rep.Summary.Passed != 1 || rep.Summary.Failed != 2 {
		t.Errorf("summary = %+v", rep.Summary)
	}
	if rep.Summary.PerRule[RulePlaceholderCountMismatch] != 1 {
		t.Errorf("per-rule = %v", rep.Summary.PerRule)
	}
	if rep.Summary.PerRule[RuleEmptyTranslation] != 1 {
		t.Errorf("per-rule = %v", rep.Summary.PerRule)
	}
}
