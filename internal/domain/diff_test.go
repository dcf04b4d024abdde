package domain

import (
	"testing"
)

func TestCompareBusinessFields(t *testing.T) {
	before := map[string]any{
		"description": "Old", "unit": "kg", "generalRate": "Free",
		"specialRate": "", "otherRate": "", "indent": 1,
	}
	after := map[string]any{
		"description": "New", "unit": "kg", "generalRate": "5%",
		"specialRate": "", "otherRate": "", "indent": 1,
	}

	changes := CompareBusinessFields(before, after)
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2: %+v", len(changes), changes)
	}
	if change := changes["description"]; change.From != "Old" || change.To != "New" {
		t.Errorf("description change = %+v", change)
	}
	if _, ok := changes["unit"]; ok {
		t.Errorf("equal field reported as changed")
	}
}

func TestCompareBusinessFieldsNumericCoercion(t *testing.T) {
	// Staged side carries int indents, persisted JSON comes back as float64.
	before := map[string]any{"indent": float64(2)}
	after := map[string]any{"indent": 2}

	if changes := CompareBusinessFields(before, after); len(changes) != 0 {
		t.Fatalf("float/int indent mismatch reported: %+v", changes)
	}

	after["indent"] = 3
	changes := CompareBusinessFields(before, after)
	if _, ok := changes["indent"]; !ok {
		t.Fatalf("real indent change missed: %+v", changes)
	}
}

func TestExtraTaxRuleMatches(t *testing.T) {
	tests := []struct {
		name string
		rule ExtraTaxRule
		code string
		want bool
	}{
		{"all scope", ExtraTaxRule{Scope: ExtraTaxScopeAll}, "0101.21.00", true},
		{"chapter hit", ExtraTaxRule{Scope: ExtraTaxScopeChapter, Chapter: "01"}, "0101.21.00", true},
		{"chapter miss", ExtraTaxRule{Scope: ExtraTaxScopeChapter, Chapter: "02"}, "0101.21.00", false},
		{"code hit ignores punctuation", ExtraTaxRule{Scope: ExtraTaxScopeCode, Code: "01012100"}, "0101.21.00", true},
		{"code miss", ExtraTaxRule{Scope: ExtraTaxScopeCode, Code: "0101.29.00"}, "0101.21.00", false},
		{"unknown scope", ExtraTaxRule{Scope: "REGION"}, "0101.21.00", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rule.Matches(tc.code); got != tc.want {
				t.Fatalf("Matches(%q) = %v, want %v", tc.code, got, tc.want)
			}
		})
	}
}
