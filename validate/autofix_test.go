package validate

import (
	"strings"
	"testing"
)

func TestAutoFix_ReinsertsDroppedPlaceholder(t *testing.T) {
	res := AutoFix("Hello, [name]!", "你好！", DefaultOptions())
	if !res.Passed {
		t.Fatalf("repair failed: %+v", res)
	}
	if !strings.Contains(res.Fixed, "[name]") {
		t.Errorf("placeholder not re-inserted: %q", res.Fixed)
	}
	if len(res.Applied) == 0 || res.Applied[len(res.Applied)-1] != RulePlaceholderCountMismatch {
		t.Errorf("applied = %v", res.Applied)
	}
}

func TestAutoFix_LeadingPlaceholderLeads(t *testing.T) {
	res := AutoFix("[name] waves at you.", "朝你挥了挥手。", DefaultOptions())
	if !strings.HasPrefix(res.Fixed, "[name]") {
		t.Errorf("leading source token not re-inserted at the front: %q", res.Fixed)
	}
}

func TestAutoFix_EndPunct(t *testing.T) {
	res := AutoFix("She left.", "她走了", DefaultOptions())
	if res.Fixed != "她走了。" {
		t.Errorf("fixed = %q", res.Fixed)
	}
	// Half-width terminator is replaced, not doubled.
	res = AutoFix("Really?", "真的?", DefaultOptions())
	if res.Fixed != "真的？" {
		t.Errorf("fixed = %q", res.Fixed)
	}
}

func TestAutoFix_FullwidthForms(t *testing.T) {
	res := AutoFix("Chapter 12", "第１２章", DefaultOptions())
	if !strings.Contains(res.Fixed, "12") {
		t.Errorf("fullwidth digits kept: %q", res.Fixed)
	}
}

func TestAutoFix_CollapsesExtraNewlines(t *testing.T) {
	res := AutoFix("One line only.", "第一行。\n第二行。", DefaultOptions())
	if strings.Contains(res.Fixed, "\n") {
		t.Errorf("extra newline kept: %q", res.Fixed)
	}
	if !res.Passed {
		t.Errorf("repair did not clear Level 1: %+v", res)
	}
}

func TestAutoFix_InsertsMissingNewline(t *testing.T) {
	res := AutoFix("First line.\nSecond line.", "第一句。第二句。", DefaultOptions())
	if strings.Count(res.Fixed, "\n") != 1 {
		t.Errorf("newline not inserted: %q", res.Fixed)
	}
}

func TestAutoFix_RejectsWhenUnfixable(t *testing.T) {
	res := AutoFix("Hello", "", DefaultOptions())
	if res.Passed {
		t.Error("empty translation reported as repaired")
	}
}

func TestAutoFix_NoChangesOnCleanInput(t *testing.T) {
	res := AutoFix("Hello, [name]!", "你好，[name]！", DefaultOptions())
	if res.Fixed != "你好，[name]！" || len(res.Applied) != 0 {
		t.Errorf("clean input modified: %+v", res)
	}
	if !res.Passed {
		t.Error("clean input rejected")
	}
}

func TestToHalfwidth(t *testing.T) {
	if got := toHalfwidth("ＡＢＣ１２３　ｘ"); got != "ABC123 x" {
		t.Errorf("toHalfwidth = %q", got)
	}
}

func TestFixMixedSpacing(t *testing.T) {
	if got := fixMixedSpacing("等级5的NPC"); got != "等级 5 的 NPC" {
		t.Errorf("fixMixedSpacing = %q", got)
	}
}
