package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/tariffops/htsflow/internal/domain"
	"github.com/tariffops/htsflow/internal/repository"
)

// Format selects the diff export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ErrUnknownFormat is returned for formats other than csv and xlsx.
var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat normalizes a user-supplied format string. An empty string
// defaults to CSV.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
	}
}

var diffHeaders = []string{
	"code", "diff_type", "field", "from", "to", "extra_taxes",
}

// Service renders reviewer-facing read models for an import: the diff report
// in CSV or XLSX, and the validation report.
type Service struct {
	jobs     repository.ImportJobRepository
	diffs    repository.DiffRecordRepository
	issues   repository.ValidationIssueRepository
	pageSize int
}

type Option func(*Service)

// WithPageSize sets the repository read page size.
func WithPageSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

func NewService(
	jobs repository.ImportJobRepository,
	diffs repository.DiffRecordRepository,
	issues repository.ValidationIssueRepository,
	opts ...Option,
) *Service {
	service := &Service{
		jobs:     jobs,
		diffs:    diffs,
		issues:   issues,
		pageSize: 1000,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// FileName returns the suggested attachment name for a diff export.
func FileName(importID uuid.UUID, format Format) string {
	return fmt.Sprintf("tariff-diff-%s.%s", importID, format)
}

// WriteDiff streams the diff report for an import in the requested format,
// optionally restricted to one diff type.
func (s *Service) WriteDiff(ctx context.Context, w io.Writer, importID uuid.UUID, diffType *domain.DiffType, format Format) error {
	switch format {
	case FormatCSV:
		return s.writeDiffCSV(ctx, w, importID, diffType)
	case FormatXLSX:
		return s.writeDiffXLSX(ctx, w, importID, diffType)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// diffRows converts one diff record into export rows: one row per changed
// field for CHANGED records, a single row otherwise.
func diffRows(record domain.DiffRecord) [][]string {
	taxes := formatExtraTaxes(record.Summary.ExtraTaxes)

	if record.DiffType == domain.DiffChanged && len(record.Summary.Changes) > 0 {
		fields := make([]string, 0, len(record.Summary.Changes))
		for field := range record.Summary.Changes {
			fields = append(fields, field)
		}
		sort.Strings(fields)

		rows := make([][]string, 0, len(fields))
		for _, field := range fields {
			change := record.Summary.Changes[field]
			rows = append(rows, []string{
				record.Code, string(record.DiffType), field,
				formatValue(change.From), formatValue(change.To), taxes,
			})
		}
		return rows
	}

	return [][]string{{record.Code, string(record.DiffType), "", "", "", taxes}}
}

func (s *Service) writeDiffCSV(ctx context.Context, w io.Writer, importID uuid.UUID, diffType *domain.DiffType) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(diffHeaders); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	err := s.eachDiffRecord(ctx, importID, diffType, func(record domain.DiffRecord) error {
		for _, row := range diffRows(record) {
			if err := csvWriter.Write(row); err != nil {
				return fmt.Errorf("write diff row: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("flush export: %w", err)
	}
	return nil
}

func (s *Service) writeDiffXLSX(ctx context.Context, w io.Writer, importID uuid.UUID, diffType *domain.DiffType) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Diff"
	f.SetSheetName(f.GetSheetName(0), sheet)

	stream, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}

	header := make([]any, len(diffHeaders))
	for i, name := range diffHeaders {
		header[i] = name
	}
	if err := stream.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	rowIndex := 2
	err = s.eachDiffRecord(ctx, importID, diffType, func(record domain.DiffRecord) error {
		for _, row := range diffRows(record) {
			cells := make([]any, len(row))
			for i, value := range row {
				cells[i] = value
			}
			cell, err := excelize.CoordinatesToCellName(1, rowIndex)
			if err != nil {
				return err
			}
			if err := stream.SetRow(cell, cells); err != nil {
				return fmt.Errorf("write diff row: %w", err)
			}
			rowIndex++
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := stream.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// eachDiffRecord pages through the diff records of an import in code order.
func (s *Service) eachDiffRecord(ctx context.Context, importID uuid.UUID, diffType *domain.DiffType, fn func(domain.DiffRecord) error) error {
	offset := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		page, err := s.diffs.ListByImport(ctx, importID, diffType, s.pageSize, offset)
		if err != nil {
			return fmt.Errorf("list diff records: %w", err)
		}
		if len(page) == 0 {
			return nil
		}
		for _, record := range page {
			if err := fn(record); err != nil {
				return err
			}
		}
		if len(page) < s.pageSize {
			return nil
		}
		offset += s.pageSize
	}
}

// ValidationReport is the reviewer read model of an import's validation
// outcome: the persisted summary, the diff breakdown, and a page of issues.
type ValidationReport struct {
	ImportID   uuid.UUID                  `json:"importId"`
	Status     domain.ImportStatus        `json:"status"`
	Summary    *domain.ValidationSummary  `json:"summary,omitempty"`
	GatePasses *bool                      `json:"gatePasses,omitempty"`
	DiffCounts map[domain.DiffType]int    `json:"diffCounts,omitempty"`
	Issues     []domain.ValidationIssue   `json:"issues"`
}

// ValidationReport assembles the report for one import.
func (s *Service) ValidationReport(ctx context.Context, importID uuid.UUID, limit, offset int) (ValidationReport, error) {
	job, err := s.jobs.GetByID(ctx, importID)
	if err != nil {
		return ValidationReport{}, err
	}

	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}
	issues, err := s.issues.ListByImport(ctx, importID, limit, offset)
	if err != nil {
		return ValidationReport{}, fmt.Errorf("list validation issues: %w", err)
	}
	if issues == nil {
		issues = []domain.ValidationIssue{}
	}

	report := ValidationReport{
		ImportID: importID,
		Status:   job.Status,
		Summary:  job.Validation,
		Issues:   issues,
	}
	if job.Validation != nil {
		passes := job.Validation.GatePasses(job.GateOverride)
		report.GatePasses = &passes
	}

	if job.Checkpoint.Stage.Order() >= domain.StageProcessing.Order() {
		counts, err := s.diffs.CountByType(ctx, importID)
		if err != nil {
			return ValidationReport{}, fmt.Errorf("count diff records: %w", err)
		}
		report.DiffCounts = counts
	}

	return report, nil
}

func formatExtraTaxes(rules []domain.ExtraTaxRule) string {
	if len(rules) == 0 {
		return ""
	}
	parts := make([]string, 0, len(rules))
	for _, rule := range rules {
		parts = append(parts, fmt.Sprintf("%s: %s", rule.Name, rule.RateText))
	}
	return strings.Join(parts, "; ")
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}
