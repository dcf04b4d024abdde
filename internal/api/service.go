package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/tariffops/htsflow/internal/domain"
	"github.com/tariffops/htsflow/internal/jobqueue"
	"github.com/tariffops/htsflow/internal/repository"
)

// TaskKindImport is the queue task kind consumed by the import worker.
const TaskKindImport = "tariff_import"

// ImportTaskPayload is the queue payload for one pipeline run.
type ImportTaskPayload struct {
	ImportID uuid.UUID `json:"importId"`
}

// TaskQueue is the slice of the job queue the API needs: enqueue-with-dedup
// and the health read model.
type TaskQueue interface {
	Enqueue(ctx context.Context, kind string, singletonKey string, payload any) (bool, error)
	Health(ctx context.Context) (jobqueue.HealthSummary, error)
}

// Service creates import jobs and hands them to the queue. One queue task per
// import id can be pending or running at a time; requesting an import that is
// already queued is a no-op on the queue side.
type Service struct {
	jobs  repository.ImportJobRepository
	queue TaskQueue
}

func NewService(jobs repository.ImportJobRepository, queue TaskQueue) *Service {
	return &Service{jobs: jobs, queue: queue}
}

// ImportRequest describes one requested schedule revision import.
type ImportRequest struct {
	SourceVersion string
	SourceURL     string
}

func (r ImportRequest) validate() error {
	if strings.TrimSpace(r.SourceVersion) == "" {
		return errors.New("sourceVersion is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(r.SourceURL))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("sourceUrl must be an absolute http(s) URL")
	}
	return nil
}

// CreateImport persists a pending job and enqueues its pipeline run.
func (s *Service) CreateImport(ctx context.Context, req ImportRequest) (domain.ImportJob, error) {
	if err := req.validate(); err != nil {
		return domain.ImportJob{}, err
	}

	job, err := s.jobs.Create(ctx, domain.NewImportJob(
		strings.TrimSpace(req.SourceVersion),
		strings.TrimSpace(req.SourceURL),
	))
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("create import job: %w", err)
	}

	if err := s.enqueueRun(ctx, job.ID); err != nil {
		return domain.ImportJob{}, err
	}
	return job, nil
}

// GetImport loads one job.
func (s *Service) GetImport(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
	return s.jobs.GetByID(ctx, id)
}

// ListImports pages jobs newest first.
func (s *Service) ListImports(ctx context.Context, limit, offset int) ([]domain.ImportJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.jobs.List(ctx, limit, offset)
}

// OverrideGate marks a parked job as reviewer-approved and re-enqueues its
// run. Only jobs waiting on the validation gate accept an override.
func (s *Service) OverrideGate(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return domain.ImportJob{}, err
	}
	if job.Status != domain.ImportStatusRequiresReview {
		return domain.ImportJob{}, fmt.Errorf("import %s is %s, only REQUIRES_REVIEW jobs accept an override", id, job.Status)
	}

	if err := s.jobs.SetGateOverride(ctx, id, true); err != nil {
		return domain.ImportJob{}, fmt.Errorf("set gate override: %w", err)
	}
	if err := s.jobs.AppendLog(ctx, id, "validation gate overridden by reviewer"); err != nil {
		return domain.ImportJob{}, err
	}

	if err := s.enqueueRun(ctx, id); err != nil {
		return domain.ImportJob{}, err
	}
	job.GateOverride = true
	return job, nil
}

// RetryImport re-enqueues a failed job; the pipeline resumes from its
// checkpoint.
func (s *Service) RetryImport(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return domain.ImportJob{}, err
	}
	if job.Status != domain.ImportStatusFailed {
		return domain.ImportJob{}, fmt.Errorf("import %s is %s, only FAILED jobs accept a retry", id, job.Status)
	}

	if err := s.jobs.AppendLog(ctx, id, "retry requested"); err != nil {
		return domain.ImportJob{}, err
	}
	if err := s.enqueueRun(ctx, id); err != nil {
		return domain.ImportJob{}, err
	}
	return job, nil
}

// QueueHealth reports queue depth by status.
func (s *Service) QueueHealth(ctx context.Context) (jobqueue.HealthSummary, error) {
	return s.queue.Health(ctx)
}

func (s *Service) enqueueRun(ctx context.Context, importID uuid.UUID) error {
	enqueued, err := s.queue.Enqueue(ctx, TaskKindImport, importID.String(), ImportTaskPayload{ImportID: importID})
	if err != nil {
		return fmt.Errorf("enqueue import run: %w", err)
	}
	if !enqueued {
		// A pending or running task already covers this import.
		return s.jobs.AppendLog(ctx, importID, "import run already queued, skipping duplicate enqueue")
	}
	return nil
}
