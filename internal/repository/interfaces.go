package repository

import (
	"context"

	"github.com/tariffops/htsflow/internal/domain"

	"github.com/google/uuid"
)

// ImportJobRepository defines persistence for import jobs. The checkpoint and
// the append-only log are written only by a job's single active executor.
type ImportJobRepository interface {
	Create(ctx context.Context, job domain.ImportJob) (domain.ImportJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ImportJob, error)
	List(ctx context.Context, limit int, offset int) ([]domain.ImportJob, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ImportStatus) error
	SaveCheckpoint(ctx context.Context, id uuid.UUID, checkpoint domain.Checkpoint) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string, detail string) error
	AppendLog(ctx context.Context, id uuid.UUID, line string) error
	UpdateCounters(ctx context.Context, id uuid.UUID, counters domain.ImportCounters) error
	SaveValidationSummary(ctx context.Context, id uuid.UUID, summary domain.ValidationSummary) error
	SetGateOverride(ctx context.Context, id uuid.UUID, override bool) error
}

// StagedEntryRepository defines persistence for staged entries.
type StagedEntryRepository interface {
	DeleteByImport(ctx context.Context, importID uuid.UUID) (int64, error)
	UpsertBatch(ctx context.Context, entries []domain.StagedEntry) error
	// ListPage pages staged entries in code order using a keyset cursor; pass
	// an empty afterCode for the first page.
	ListPage(ctx context.Context, importID uuid.UUID, afterCode string, limit int) ([]domain.StagedEntry, error)
	CountByImport(ctx context.Context, importID uuid.UUID) (int, error)
}

// ValidationIssueRepository defines persistence for validation issues.
type ValidationIssueRepository interface {
	DeleteByImport(ctx context.Context, importID uuid.UUID) error
	InsertBatch(ctx context.Context, issues []domain.ValidationIssue) error
	ListByImport(ctx context.Context, importID uuid.UUID, limit int, offset int) ([]domain.ValidationIssue, error)
	Summary(ctx context.Context, importID uuid.UUID) (domain.ValidationSummary, error)
}

// DiffRecordRepository defines persistence for diff records.
type DiffRecordRepository interface {
	DeleteByImport(ctx context.Context, importID uuid.UUID) error
	InsertBatch(ctx context.Context, records []domain.DiffRecord) error
	ListByImport(ctx context.Context, importID uuid.UUID, diffType *domain.DiffType, limit int, offset int) ([]domain.DiffRecord, error)
	CountByType(ctx context.Context, importID uuid.UUID) (map[domain.DiffType]int, error)
}

// PromoteBatchResult reports what one promotion batch did.
type PromoteBatchResult struct {
	Inserted int
	Updated  int
	Skipped  int
}

// TariffEntryRepository defines persistence for the live tariff dataset.
type TariffEntryRepository interface {
	GetActiveByCode(ctx context.Context, code string) (domain.TariffEntry, error)
	ListActiveByCodes(ctx context.Context, codes []string) ([]domain.TariffEntry, error)
	// ListActiveNotStaged returns active rows whose code has no staged entry
	// in the given import (the REMOVED anti-join).
	ListActiveNotStaged(ctx context.Context, importID uuid.UUID) ([]domain.TariffEntry, error)
	// PromoteBatch upserts one batch of staged entries into the live dataset
	// inside a single transaction. Re-running a partially committed batch
	// reproduces the same end state.
	PromoteBatch(ctx context.Context, version string, entries []domain.StagedEntry) (PromoteBatchResult, error)
	// DeactivateSuperseded flips off every active row whose code has no
	// staged entry in the import. Returns the number of deactivated rows.
	DeactivateSuperseded(ctx context.Context, importID uuid.UUID) (int64, error)
}

// ExtraTaxRuleRepository reads surcharge rules owned by the tariff-management
// domain. The pipeline never writes them.
type ExtraTaxRuleRepository interface {
	ListMatching(ctx context.Context, codes []string, chapters []string) ([]domain.ExtraTaxRule, error)
}
