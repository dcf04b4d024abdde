package export

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/tariffops/htsflow/internal/domain"
)

type stubDiffRepo struct {
	records []domain.DiffRecord
}

func (r *stubDiffRepo) DeleteByImport(context.Context, uuid.UUID) error { return nil }

func (r *stubDiffRepo) InsertBatch(context.Context, []domain.DiffRecord) error { return nil }

func (r *stubDiffRepo) ListByImport(_ context.Context, importID uuid.UUID, diffType *domain.DiffType, limit, offset int) ([]domain.DiffRecord, error) {
	var out []domain.DiffRecord
	for _, record := range r.records {
		if record.ImportID != importID {
			continue
		}
		if diffType != nil && record.DiffType != *diffType {
			continue
		}
		out = append(out, record)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *stubDiffRepo) CountByType(_ context.Context, importID uuid.UUID) (map[domain.DiffType]int, error) {
	counts := make(map[domain.DiffType]int)
	for _, record := range r.records {
		if record.ImportID == importID {
			counts[record.DiffType]++
		}
	}
	return counts, nil
}

type stubIssueRepo struct {
	issues []domain.ValidationIssue
}

func (r *stubIssueRepo) DeleteByImport(context.Context, uuid.UUID) error { return nil }

func (r *stubIssueRepo) InsertBatch(context.Context, []domain.ValidationIssue) error { return nil }

func (r *stubIssueRepo) ListByImport(_ context.Context, importID uuid.UUID, limit, offset int) ([]domain.ValidationIssue, error) {
	var out []domain.ValidationIssue
	for _, issue := range r.issues {
		if issue.ImportID == importID {
			out = append(out, issue)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *stubIssueRepo) Summary(context.Context, uuid.UUID) (domain.ValidationSummary, error) {
	return domain.ValidationSummary{}, nil
}

type stubJobRepo struct {
	job domain.ImportJob
}

func (r *stubJobRepo) Create(_ context.Context, job domain.ImportJob) (domain.ImportJob, error) {
	return job, nil
}

func (r *stubJobRepo) GetByID(context.Context, uuid.UUID) (domain.ImportJob, error) {
	return r.job, nil
}

func (r *stubJobRepo) List(context.Context, int, int) ([]domain.ImportJob, error) { return nil, nil }

func (r *stubJobRepo) UpdateStatus(context.Context, uuid.UUID, domain.ImportStatus) error { return nil }

func (r *stubJobRepo) SaveCheckpoint(context.Context, uuid.UUID, domain.Checkpoint) error { return nil }

func (r *stubJobRepo) MarkFailed(context.Context, uuid.UUID, string, string) error { return nil }

func (r *stubJobRepo) AppendLog(context.Context, uuid.UUID, string) error { return nil }

func (r *stubJobRepo) UpdateCounters(context.Context, uuid.UUID, domain.ImportCounters) error {
	return nil
}

func (r *stubJobRepo) SaveValidationSummary(context.Context, uuid.UUID, domain.ValidationSummary) error {
	return nil
}

func (r *stubJobRepo) SetGateOverride(context.Context, uuid.UUID, bool) error { return nil }

func sampleRecords(importID uuid.UUID) []domain.DiffRecord {
	added := domain.NewDiffRecord(importID, "0301.11.00", domain.DiffAdded, domain.DiffSummary{
		After: map[string]any{"description": "Brand new"},
		ExtraTaxes: []domain.ExtraTaxRule{
			{Name: "Chapter 3 surcharge", RateText: "25%"},
		},
	})
	changed := domain.NewDiffRecord(importID, "0101.29.00", domain.DiffChanged, domain.DiffSummary{
		Changes: map[string]domain.FieldChange{
			"unit":        {From: "kg", To: "No."},
			"description": {From: "Old", To: "New"},
		},
	})
	removed := domain.NewDiffRecord(importID, "0202.30.10", domain.DiffRemoved, domain.DiffSummary{})
	return []domain.DiffRecord{added, changed, removed}
}

func TestWriteDiffCSV(t *testing.T) {
	importID := uuid.New()
	service := NewService(&stubJobRepo{}, &stubDiffRepo{records: sampleRecords(importID)}, &stubIssueRepo{})

	var buf bytes.Buffer
	if err := service.WriteDiff(context.Background(), &buf, importID, nil, FormatCSV); err != nil {
		t.Fatalf("WriteDiff: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	// Header, ADDED, two CHANGED field rows, REMOVED.
	if len(lines) != 5 {
		t.Fatalf("got %d lines, want 5:\n%s", len(lines), buf.String())
	}
	if lines[0] != strings.Join(diffHeaders, ",") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Chapter 3 surcharge: 25%") {
		t.Errorf("ADDED row missing extra tax: %q", lines[1])
	}
	// Changed fields come out in sorted order.
	if !strings.HasPrefix(lines[2], "0101.29.00,CHANGED,description,Old,New") {
		t.Errorf("first CHANGED row = %q", lines[2])
	}
	if !strings.HasPrefix(lines[3], "0101.29.00,CHANGED,unit,kg,No.") {
		t.Errorf("second CHANGED row = %q", lines[3])
	}
}

func TestWriteDiffCSVFiltersByType(t *testing.T) {
	importID := uuid.New()
	service := NewService(&stubJobRepo{}, &stubDiffRepo{records: sampleRecords(importID)}, &stubIssueRepo{})

	removed := domain.DiffRemoved
	var buf bytes.Buffer
	if err := service.WriteDiff(context.Background(), &buf, importID, &removed, FormatCSV); err != nil {
		t.Fatalf("WriteDiff: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header plus one REMOVED row:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[1], "0202.30.10,REMOVED") {
		t.Errorf("filtered row = %q", lines[1])
	}
}

func TestWriteDiffXLSX(t *testing.T) {
	importID := uuid.New()
	service := NewService(&stubJobRepo{}, &stubDiffRepo{records: sampleRecords(importID)}, &stubIssueRepo{})

	var buf bytes.Buffer
	if err := service.WriteDiff(context.Background(), &buf, importID, nil, FormatXLSX); err != nil {
		t.Fatalf("WriteDiff: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Diff")
	if err != nil {
		t.Fatalf("read sheet: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("got %d sheet rows, want 5", len(rows))
	}
	if rows[0][0] != "code" || rows[0][1] != "diff_type" {
		t.Errorf("sheet header = %v", rows[0])
	}
	if rows[1][0] != "0301.11.00" || rows[1][1] != "ADDED" {
		t.Errorf("first data row = %v", rows[1])
	}
}

func TestParseFormat(t *testing.T) {
	if format, err := ParseFormat(""); err != nil || format != FormatCSV {
		t.Errorf("empty format = %v, %v", format, err)
	}
	if format, err := ParseFormat("XLSX"); err != nil || format != FormatXLSX {
		t.Errorf("XLSX format = %v, %v", format, err)
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Errorf("pdf format accepted")
	}
}

func TestValidationReport(t *testing.T) {
	importID := uuid.New()
	summary := domain.ValidationSummary{Total: 2, ErrorCount: 1, WarningCount: 1, ValidatedAt: time.Now().UTC()}
	jobs := &stubJobRepo{job: domain.ImportJob{
		ID:         importID,
		Status:     domain.ImportStatusRequiresReview,
		Validation: &summary,
		Checkpoint: domain.Checkpoint{Stage: domain.StageProcessing},
	}}
	issues := &stubIssueRepo{issues: []domain.ValidationIssue{
		{ImportID: importID, IssueCode: domain.IssueInvalidChapterLength, Severity: domain.SeverityError},
		{ImportID: importID, IssueCode: domain.IssueMissingDescription, Severity: domain.SeverityWarning},
	}}
	service := NewService(jobs, &stubDiffRepo{records: sampleRecords(importID)}, issues)

	report, err := service.ValidationReport(context.Background(), importID, 10, 0)
	if err != nil {
		t.Fatalf("ValidationReport: %v", err)
	}
	if report.Summary == nil || report.Summary.ErrorCount != 1 {
		t.Fatalf("summary = %+v", report.Summary)
	}
	if report.GatePasses == nil || *report.GatePasses {
		t.Fatalf("gate should not pass with errors and no override")
	}
	if len(report.Issues) != 2 {
		t.Fatalf("got %d issues, want 2", len(report.Issues))
	}
	if report.DiffCounts[domain.DiffAdded] != 1 {
		t.Fatalf("diff counts = %v", report.DiffCounts)
	}
}
