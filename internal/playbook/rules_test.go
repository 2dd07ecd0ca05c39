package playbook

import (
	"strings"
	"testing"
)

func TestRulesHashNilAndDisabledCanonical(t *testing.T) {
	var nilRules *Rules
	disabled := &Rules{Enabled: false, Prefix: "ignored"}
	if nilRules.Hash() != NoRulesHash() {
		t.Fatalf("nil rules hash != canonical no-rules hash")
	}
	if disabled.Hash() != NoRulesHash() {
		t.Fatalf("disabled rules hash != canonical no-rules hash")
	}
}

func TestRulesHashStableAndOrderIndependent(t *testing.T) {
	a := &Rules{Enabled: true, MaxLength: 60, ForbiddenPhrases: []string{"Free", "best ever"}}
	b := &Rules{Enabled: true, MaxLength: 60, ForbiddenPhrases: []string{"BEST EVER", "free"}}
	if a.Hash() != b.Hash() {
		t.Fatalf("forbidden phrase order/case changed rules hash")
	}
	c := &Rules{Enabled: true, MaxLength: 61, ForbiddenPhrases: []string{"free", "best ever"}}
	if a.Hash() == c.Hash() {
		t.Fatalf("different max length produced the same rules hash")
	}
	if a.Hash() == NoRulesHash() {
		t.Fatalf("active rules collided with the no-rules hash")
	}
}

func TestRulesHashFieldsWithSeparatorsDoNotCollide(t *testing.T) {
	joined := &Rules{Enabled: true, ForbiddenPhrases: []string{"a,b"}}
	split := &Rules{Enabled: true, ForbiddenPhrases: []string{"a", "b"}}
	if joined.Hash() == split.Hash() {
		t.Fatalf("rules hash collision between forbidden [\"a,b\"] and [\"a\",\"b\"]")
	}
	bleed := &Rules{Enabled: true, Find: "x|replace=y"}
	shifted := &Rules{Enabled: true, Find: "x", Replace: "y"}
	if bleed.Hash() == shifted.Hash() {
		t.Fatalf("rules hash collision between find containing delimiter and split find/replace")
	}
}

func TestFinalizeFindReplacePrefixSuffix(t *testing.T) {
	r := &Rules{Enabled: true, Find: "cheap", Replace: "affordable", Prefix: "Acme | ", Suffix: " | Shop"}
	final, warnings := r.Finalize("cheap hiking boots")
	if final != "Acme | affordable hiking boots | Shop" {
		t.Fatalf("unexpected final suggestion: %q", final)
	}
	wantWarnings := []string{WarnFindReplaceApplied, WarnPrefixAdded, WarnSuffixAdded}
	if len(warnings) != len(wantWarnings) {
		t.Fatalf("warnings: want %v got %v", wantWarnings, warnings)
	}
	for i, w := range wantWarnings {
		if warnings[i] != w {
			t.Fatalf("warnings[%d]: want %q got %q", i, w, warnings[i])
		}
	}
}

func TestFinalizeMaxLengthTrim(t *testing.T) {
	r := &Rules{Enabled: true, MaxLength: 10}
	final, warnings := r.Finalize("a very long suggestion that should be trimmed")
	if len([]rune(final)) > 10 {
		t.Fatalf("final suggestion longer than max length: %q", final)
	}
	found := false
	for _, w := range warnings {
		if w == WarnTrimmedToMaxLength {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing %s warning, got %v", WarnTrimmedToMaxLength, warnings)
	}
}

func TestFinalizeForbiddenPhraseFlaggedNotRemoved(t *testing.T) {
	r := &Rules{Enabled: true, ForbiddenPhrases: []string{"guaranteed"}}
	final, warnings := r.Finalize("Guaranteed best boots")
	if !strings.Contains(strings.ToLower(final), "guaranteed") {
		t.Fatalf("forbidden phrase was removed, want flag only: %q", final)
	}
	if len(warnings) != 1 || warnings[0] != WarnForbiddenPhrase {
		t.Fatalf("warnings: want [%s] got %v", WarnForbiddenPhrase, warnings)
	}
}

func TestFinalizeEmptyRawStaysEmpty(t *testing.T) {
	r := &Rules{Enabled: true, Prefix: "Acme | "}
	final, warnings := r.Finalize("   ")
	if final != "" || warnings != nil {
		t.Fatalf("empty raw should produce no suggestion, got %q %v", final, warnings)
	}
}

func TestFinalizeDisabledPassThrough(t *testing.T) {
	r := &Rules{Enabled: false, Prefix: "Acme | "}
	final, warnings := r.Finalize("  plain title ")
	if final != "plain title" {
		t.Fatalf("disabled rules should only trim, got %q", final)
	}
	if len(warnings) != 0 {
		t.Fatalf("disabled rules produced warnings: %v", warnings)
	}
}
