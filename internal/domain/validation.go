package domain

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// Issue codes emitted by the validation engine.
const (
	IssueMissingHTSNumber     = "MISSING_HTS_NUMBER"
	IssueMissingDescription   = "MISSING_DESCRIPTION"
	IssueInvalidChapterLength = "INVALID_CHAPTER_LENGTH"
	IssueChapterMismatch      = "CHAPTER_MISMATCH"
	IssueInvalidCodeFormat    = "INVALID_CODE_FORMAT"
	IssueHeadingMismatch      = "HEADING_MISMATCH"
	IssueSubheadingMismatch   = "SUBHEADING_MISMATCH"
	IssueSuffixMismatch       = "SUFFIX_MISMATCH"
	IssueUnrecognizedRate     = "UNRECOGNIZED_RATE"
	IssueAmbiguousRate        = "AMBIGUOUS_RATE"
	IssueNegativeIndent       = "NEGATIVE_INDENT"
)

// ValidationIssue is one rule finding for a staged entry. Issues are written
// in bulk and never mutated; re-validation deletes and reinserts them.
type ValidationIssue struct {
	ID           uuid.UUID      `json:"id"`
	ImportID     uuid.UUID      `json:"importId"`
	StageEntryID uuid.UUID      `json:"stageEntryId"`
	Code         string         `json:"code"`
	IssueCode    string         `json:"issueCode"`
	Severity     Severity       `json:"severity"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// NewValidationIssue creates an issue for the given staged entry.
func NewValidationIssue(entry StagedEntry, issueCode string, severity Severity, message string, details map[string]any) ValidationIssue {
	return ValidationIssue{
		ID:           uuid.New(),
		ImportID:     entry.ImportID,
		StageEntryID: entry.ID,
		Code:         entry.Code,
		IssueCode:    issueCode,
		Severity:     severity,
		Message:      message,
		Details:      details,
		CreatedAt:    time.Now().UTC(),
	}
}

// ValidationSummary is the aggregate gate input persisted on the job after
// validation completes.
type ValidationSummary struct {
	Total        int       `json:"total"`
	ErrorCount   int       `json:"errorCount"`
	WarningCount int       `json:"warningCount"`
	InfoCount    int       `json:"infoCount"`
	ValidatedAt  time.Time `json:"validatedAt"`
}

// GatePasses reports whether promotion may proceed. Errors block unless the
// job carries an explicit override.
func (s ValidationSummary) GatePasses(override bool) bool {
	return s.ErrorCount == 0 || override
}
