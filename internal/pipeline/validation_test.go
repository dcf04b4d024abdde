package pipeline

import (
	"testing"

	"github.com/tariffops/htsflow/internal/domain"
)

func issueCodes(issues []domain.ValidationIssue) map[string]domain.Severity {
	out := make(map[string]domain.Severity, len(issues))
	for _, issue := range issues {
		out[issue.IssueCode] = issue.Severity
	}
	return out
}

func TestValidateEntryCleanEntry(t *testing.T) {
	entry := domain.StagedEntry{
		Code:        "0101.21.00",
		Description: "Purebred breeding horses",
		Unit:        "No.",
		GeneralRate: "Free",
	}
	entry.DeriveHierarchy()

	if issues := ValidateEntry(entry); len(issues) != 0 {
		t.Fatalf("clean entry produced issues: %+v", issues)
	}
}

func TestValidateEntryRules(t *testing.T) {
	tests := []struct {
		name     string
		entry    domain.StagedEntry
		want     string
		severity domain.Severity
	}{
		{
			name:     "missing code",
			entry:    domain.StagedEntry{Description: "No code"},
			want:     domain.IssueMissingHTSNumber,
			severity: domain.SeverityError,
		},
		{
			name:     "missing description",
			entry:    domain.StagedEntry{Code: "0101.21.00"},
			want:     domain.IssueMissingDescription,
			severity: domain.SeverityWarning,
		},
		{
			name:     "chapter not two digits",
			entry:    domain.StagedEntry{Code: "0101.21.00", Description: "x", Chapter: "999"},
			want:     domain.IssueInvalidChapterLength,
			severity: domain.SeverityError,
		},
		{
			name:     "chapter does not prefix code",
			entry:    domain.StagedEntry{Code: "01012100", Description: "x", Chapter: "99"},
			want:     domain.IssueChapterMismatch,
			severity: domain.SeverityWarning,
		},
		{
			name:     "letters in code",
			entry:    domain.StagedEntry{Code: "0101.2A.00", Description: "x"},
			want:     domain.IssueInvalidCodeFormat,
			severity: domain.SeverityError,
		},
		{
			name:     "heading mismatch",
			entry:    domain.StagedEntry{Code: "0101.21.00", Description: "x", Heading: "0202"},
			want:     domain.IssueHeadingMismatch,
			severity: domain.SeverityWarning,
		},
		{
			name:     "subheading mismatch",
			entry:    domain.StagedEntry{Code: "0101.21.00", Description: "x", Subheading: "010199"},
			want:     domain.IssueSubheadingMismatch,
			severity: domain.SeverityWarning,
		},
		{
			name:     "rate line suffix mismatch",
			entry:    domain.StagedEntry{Code: "0101.21.00", Description: "x", RateLineSuffix: "01019999"},
			want:     domain.IssueSuffixMismatch,
			severity: domain.SeverityWarning,
		},
		{
			name:     "unrecognized rate text",
			entry:    domain.StagedEntry{Code: "0101.21.00", Description: "x", GeneralRate: "ask the broker"},
			want:     domain.IssueUnrecognizedRate,
			severity: domain.SeverityWarning,
		},
		{
			name:     "ambiguous rate text",
			entry:    domain.StagedEntry{Code: "0101.21.00", Description: "x", SpecialRate: "Free (A,B) or 5%"},
			want:     domain.IssueAmbiguousRate,
			severity: domain.SeverityInfo,
		},
		{
			name:     "negative indent",
			entry:    domain.StagedEntry{Code: "0101.21.00", Description: "x", Indent: -1},
			want:     domain.IssueNegativeIndent,
			severity: domain.SeverityError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := issueCodes(ValidateEntry(tc.entry))
			severity, ok := got[tc.want]
			if !ok {
				t.Fatalf("issues %v do not include %s", got, tc.want)
			}
			if severity != tc.severity {
				t.Fatalf("%s severity = %s, want %s", tc.want, severity, tc.severity)
			}
		})
	}
}

func TestValidateEntryRateColumnInDetails(t *testing.T) {
	entry := domain.StagedEntry{Code: "0101.21.00", Description: "x", OtherRate: "whatever the market bears"}
	issues := ValidateEntry(entry)
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1: %+v", len(issues), issues)
	}
	if issues[0].Details["column"] != "otherRate" {
		t.Fatalf("details = %v, want column otherRate", issues[0].Details)
	}
}

func TestValidateEntryDerivedHierarchyConsistent(t *testing.T) {
	// A derived hierarchy always agrees with its own code, so the prefix
	// rules must stay silent.
	entry := domain.StagedEntry{Code: "0201.10.05", Description: "Carcasses", GeneralRate: "4.4¢/kg"}
	entry.DeriveHierarchy()

	got := issueCodes(ValidateEntry(entry))
	for _, code := range []string{domain.IssueChapterMismatch, domain.IssueHeadingMismatch, domain.IssueSubheadingMismatch, domain.IssueSuffixMismatch} {
		if _, ok := got[code]; ok {
			t.Errorf("derived hierarchy raised %s", code)
		}
	}
}
