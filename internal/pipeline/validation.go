package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tariffops/htsflow/internal/domain"
)

// runValidation evaluates the rule set over every staged entry, page by
// page. Prior issues for the job are deleted first, so re-validation is a
// full, idempotent replay.
func (o *Orchestrator) runValidation(ctx context.Context, job *domain.ImportJob, cp domain.Checkpoint) (domain.Checkpoint, error) {
	cp = cp.AdvanceTo(domain.StageValidating)
	if err := o.saveCheckpoint(ctx, job, cp); err != nil {
		return cp, err
	}

	if err := o.issues.DeleteByImport(ctx, job.ID); err != nil {
		return cp, err
	}

	afterCode := ""
	for {
		page, err := o.staged.ListPage(ctx, job.ID, afterCode, o.pageSize)
		if err != nil {
			return cp, err
		}
		if len(page) == 0 {
			break
		}

		pageIssues := make([]domain.ValidationIssue, 0, len(page))
		for _, entry := range page {
			pageIssues = append(pageIssues, ValidateEntry(entry)...)
		}
		if err := o.issues.InsertBatch(ctx, pageIssues); err != nil {
			return cp, err
		}

		afterCode = page[len(page)-1].Code
		cp.ProcessedBatches++
		cp.ProcessedRecords += len(page)
		cp.LastProcessedPartitionKey = afterCode
		if err := o.saveCheckpoint(ctx, job, cp); err != nil {
			return cp, err
		}
	}

	summary, err := o.issues.Summary(ctx, job.ID)
	if err != nil {
		return cp, err
	}
	summary.ValidatedAt = time.Now().UTC()
	if err := o.jobs.SaveValidationSummary(ctx, job.ID, summary); err != nil {
		return cp, err
	}
	job.Validation = &summary
	o.appendLog(ctx, job.ID, fmt.Sprintf(
		"validation complete: %d issues (%d errors, %d warnings, %d info)",
		summary.Total, summary.ErrorCount, summary.WarningCount, summary.InfoCount,
	))

	next := cp.AdvanceTo(domain.StageDiffing)
	if err := o.saveCheckpoint(ctx, job, next); err != nil {
		return cp, err
	}

	return next, nil
}

// Rate columns checked independently by the rate-shape rules.
var rateColumns = []struct {
	name string
	get  func(domain.StagedEntry) string
}{
	{"generalRate", func(e domain.StagedEntry) string { return e.GeneralRate }},
	{"specialRate", func(e domain.StagedEntry) string { return e.SpecialRate }},
	{"otherRate", func(e domain.StagedEntry) string { return e.OtherRate }},
}

// ValidateEntry runs the ordered rule set against one staged entry. Each
// rule contributes at most one issue.
func ValidateEntry(entry domain.StagedEntry) []domain.ValidationIssue {
	var issues []domain.ValidationIssue
	add := func(issueCode string, severity domain.Severity, message string, details map[string]any) {
		issues = append(issues, domain.NewValidationIssue(entry, issueCode, severity, message, details))
	}

	digits := domain.CodeDigits(entry.Code)

	if strings.TrimSpace(entry.Code) == "" {
		add(domain.IssueMissingHTSNumber, domain.SeverityError, "entry has no HTS number", nil)
	}

	if strings.TrimSpace(entry.Description) == "" {
		add(domain.IssueMissingDescription, domain.SeverityWarning, "entry has no description", nil)
	}

	if entry.Chapter != "" {
		if len(entry.Chapter) != 2 {
			add(domain.IssueInvalidChapterLength, domain.SeverityError,
				fmt.Sprintf("chapter %q is not two digits", entry.Chapter),
				map[string]any{"chapter": entry.Chapter})
		} else if digits != "" && !strings.HasPrefix(digits, entry.Chapter) {
			add(domain.IssueChapterMismatch, domain.SeverityWarning,
				fmt.Sprintf("chapter %q does not prefix code %q", entry.Chapter, entry.Code),
				map[string]any{"chapter": entry.Chapter, "code": entry.Code})
		}
	}

	if entry.Code != "" && !validCodeCharset(entry.Code) {
		add(domain.IssueInvalidCodeFormat, domain.SeverityError,
			fmt.Sprintf("code %q contains characters outside digits and dots", entry.Code),
			map[string]any{"code": entry.Code})
	}

	if entry.Heading != "" && len(digits) >= 4 && digits[:4] != entry.Heading {
		add(domain.IssueHeadingMismatch, domain.SeverityWarning,
			fmt.Sprintf("heading %q does not match code prefix %q", entry.Heading, digits[:4]),
			map[string]any{"heading": entry.Heading})
	}
	if entry.Subheading != "" && len(digits) >= 6 && digits[:6] != entry.Subheading {
		add(domain.IssueSubheadingMismatch, domain.SeverityWarning,
			fmt.Sprintf("subheading %q does not match code prefix %q", entry.Subheading, digits[:6]),
			map[string]any{"subheading": entry.Subheading})
	}
	if entry.RateLineSuffix != "" && len(digits) >= 8 && digits[:8] != entry.RateLineSuffix {
		add(domain.IssueSuffixMismatch, domain.SeverityWarning,
			fmt.Sprintf("rate line suffix %q does not match code prefix %q", entry.RateLineSuffix, digits[:8]),
			map[string]any{"rateLineSuffix": entry.RateLineSuffix})
	}

	for _, column := range rateColumns {
		text := column.get(entry)
		if text == "" {
			continue
		}
		if !LikelyRate(text) {
			add(domain.IssueUnrecognizedRate, domain.SeverityWarning,
				fmt.Sprintf("%s %q does not match any recognized rate shape", column.name, text),
				map[string]any{"column": column.name, "text": text})
			continue
		}
		if matches := ClassifyRateText(text); len(matches) > 1 {
			add(domain.IssueAmbiguousRate, domain.SeverityInfo,
				fmt.Sprintf("%s %q matches multiple rate shapes", column.name, text),
				map[string]any{"column": column.name, "text": text, "matches": matches})
		}
	}

	if entry.Indent < 0 {
		add(domain.IssueNegativeIndent, domain.SeverityError,
			fmt.Sprintf("indent %d is negative", entry.Indent),
			map[string]any{"indent": entry.Indent})
	}

	return issues
}

func validCodeCharset(code string) bool {
	for _, r := range code {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}
