// Package pipeline implements the checkpointed tariff import pipeline: a
// linear stage machine that downloads a revision file, stages and validates
// it, diffs it against the live dataset, and promotes it under a validation
// gate. Every stage persists a checkpoint before the next begins; a resumed
// job re-runs only the stages at or after the checkpointed one.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tariffops/htsflow/internal/blob"
	"github.com/tariffops/htsflow/internal/domain"
	"github.com/tariffops/htsflow/internal/repository"
)

// Defaults for orchestrator tuning knobs.
const (
	DefaultBatchSize        = 1000
	DefaultPageSize         = 1000
	DefaultDownloadTimeout  = 10 * time.Minute
	DefaultMaxDownloadBytes = 512 << 20
)

// Orchestrator runs the import pipeline for one job at a time. The queue's
// singleton key guarantees no concurrent executors for a given job id.
type Orchestrator struct {
	jobs       repository.ImportJobRepository
	staged     repository.StagedEntryRepository
	issues     repository.ValidationIssueRepository
	diffs      repository.DiffRecordRepository
	tariffs    repository.TariffEntryRepository
	extraTaxes repository.ExtraTaxRuleRepository
	blobs      *blob.Store
	client     *http.Client
	logger     zerolog.Logger

	namespace        string
	batchSize        int
	pageSize         int
	downloadTimeout  time.Duration
	maxDownloadBytes int64
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithBatchSize sets the staging/promotion batch size.
func WithBatchSize(size int) Option {
	return func(o *Orchestrator) {
		if size > 0 {
			o.batchSize = size
		}
	}
}

// WithPageSize sets the validation/diffing read page size.
func WithPageSize(size int) Option {
	return func(o *Orchestrator) {
		if size > 0 {
			o.pageSize = size
		}
	}
}

// WithDownloadLimits sets the download wall-clock and size ceilings.
func WithDownloadLimits(timeout time.Duration, maxBytes int64) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.downloadTimeout = timeout
		}
		if maxBytes > 0 {
			o.maxDownloadBytes = maxBytes
		}
	}
}

// WithHTTPClient overrides the download client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Orchestrator) {
		if client != nil {
			o.client = client
		}
	}
}

// NewOrchestrator wires the pipeline against its collaborators.
func NewOrchestrator(
	jobs repository.ImportJobRepository,
	staged repository.StagedEntryRepository,
	issues repository.ValidationIssueRepository,
	diffs repository.DiffRecordRepository,
	tariffs repository.TariffEntryRepository,
	extraTaxes repository.ExtraTaxRuleRepository,
	blobs *blob.Store,
	namespace string,
	logger zerolog.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		jobs:             jobs,
		staged:           staged,
		issues:           issues,
		diffs:            diffs,
		tariffs:          tariffs,
		extraTaxes:       extraTaxes,
		blobs:            blobs,
		client:           http.DefaultClient,
		logger:           logger.With().Str("component", "pipeline").Logger(),
		namespace:        namespace,
		batchSize:        DefaultBatchSize,
		pageSize:         DefaultPageSize,
		downloadTimeout:  DefaultDownloadTimeout,
		maxDownloadBytes: DefaultMaxDownloadBytes,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs the pipeline for the given import job, resuming from its
// persisted checkpoint. On an unexpected error the job is marked FAILED with
// the checkpoint left at its last completed position, and the error is
// returned so the queue retries. A validation-gate halt parks the job in
// REQUIRES_REVIEW and returns nil.
func (o *Orchestrator) Execute(ctx context.Context, importID uuid.UUID) error {
	job, err := o.jobs.GetByID(ctx, importID)
	if err != nil {
		return fmt.Errorf("failed to load import job %s: %w", importID, err)
	}

	if job.Status == domain.ImportStatusCompleted {
		return nil
	}

	if job.Checkpoint.Stage.Order() < 0 {
		job.Checkpoint.Stage = domain.StageDownloading
	}

	if err := o.jobs.UpdateStatus(ctx, job.ID, domain.ImportStatusRunning); err != nil {
		return err
	}

	logger := o.logger.With().Stringer("import_id", job.ID).Str("source_version", job.SourceVersion).Logger()
	logger.Info().Str("stage", string(job.Checkpoint.Stage)).Msg("import run started")

	held, runErr := o.run(ctx, &job, logger)
	if runErr != nil {
		logger.Error().Err(runErr).Msg("import run failed")
		o.appendLog(ctx, job.ID, fmt.Sprintf("import failed: %v", runErr))
		if markErr := o.jobs.MarkFailed(ctx, job.ID, runErr.Error(), fmt.Sprintf("%+v", runErr)); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to record job failure")
		}
		return runErr
	}

	if held {
		logger.Warn().Msg("import parked for review")
		return nil
	}

	logger.Info().Msg("import run completed")
	return nil
}

// run dispatches the remaining stages in order. Each branch is a
// current-stage-or-later guard, so re-entry at any stage only performs the
// remaining work.
func (o *Orchestrator) run(ctx context.Context, job *domain.ImportJob, logger zerolog.Logger) (bool, error) {
	cp := job.Checkpoint

	if cp.Stage.AtOrBefore(domain.StageDownloading) {
		next, err := o.runDownload(ctx, job, cp)
		if err != nil {
			return false, err
		}
		cp = next
	}

	if cp.Stage.AtOrBefore(domain.StageStaging) {
		next, err := o.runStaging(ctx, job, cp)
		if err != nil {
			return false, err
		}
		cp = next
	}

	if cp.Stage.AtOrBefore(domain.StageValidating) {
		next, err := o.runValidation(ctx, job, cp)
		if err != nil {
			return false, err
		}
		cp = next
	}

	if cp.Stage.AtOrBefore(domain.StageDiffing) {
		next, err := o.runDiffing(ctx, job, cp)
		if err != nil {
			return false, err
		}
		cp = next
	}

	if cp.Stage.AtOrBefore(domain.StageProcessing) {
		summary, err := o.gateSummary(ctx, job)
		if err != nil {
			return false, err
		}
		if !summary.GatePasses(job.GateOverride) {
			o.appendLog(ctx, job.ID, fmt.Sprintf(
				"promotion halted by validation gate: %d error(s); set the override flag to proceed",
				summary.ErrorCount,
			))
			if err := o.jobs.UpdateStatus(ctx, job.ID, domain.ImportStatusRequiresReview); err != nil {
				return false, err
			}
			return true, nil
		}

		next, err := o.runPromotion(ctx, job, cp)
		if err != nil {
			return false, err
		}
		cp = next
	}

	if err := o.jobs.UpdateStatus(ctx, job.ID, domain.ImportStatusCompleted); err != nil {
		return false, err
	}
	o.appendLog(ctx, job.ID, fmt.Sprintf(
		"import completed: %d total, %d imported, %d updated, %d skipped, %d failed",
		job.Counters.TotalEntries, job.Counters.ImportedEntries, job.Counters.UpdatedEntries,
		job.Counters.SkippedEntries, job.Counters.FailedEntries,
	))
	logger.Info().
		Int("total", job.Counters.TotalEntries).
		Int("imported", job.Counters.ImportedEntries).
		Int("updated", job.Counters.UpdatedEntries).
		Int("skipped", job.Counters.SkippedEntries).
		Int("failed", job.Counters.FailedEntries).
		Msg("import summary")

	job.Checkpoint = cp
	return false, nil
}

// gateSummary prefers the summary persisted by the validation stage and
// falls back to recounting issues when a job predates it.
func (o *Orchestrator) gateSummary(ctx context.Context, job *domain.ImportJob) (domain.ValidationSummary, error) {
	if job.Validation != nil {
		return *job.Validation, nil
	}
	summary, err := o.issues.Summary(ctx, job.ID)
	if err != nil {
		return domain.ValidationSummary{}, fmt.Errorf("failed to load validation summary: %w", err)
	}
	return summary, nil
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, job *domain.ImportJob, cp domain.Checkpoint) error {
	if err := o.jobs.SaveCheckpoint(ctx, job.ID, cp); err != nil {
		return err
	}
	job.Checkpoint = cp
	return nil
}

// appendLog writes to the job's append-only activity log. Log failures are
// not fatal to the pipeline.
func (o *Orchestrator) appendLog(ctx context.Context, id uuid.UUID, line string) {
	if err := o.jobs.AppendLog(ctx, id, line); err != nil {
		o.logger.Warn().Err(err).Msg("failed to append job log")
	}
}
