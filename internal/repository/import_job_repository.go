package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tariffops/htsflow/internal/domain"
)

type importJobRepository struct {
	pool *pgxpool.Pool
}

// NewImportJobRepository wires a repository backed by pgxpool.
func NewImportJobRepository(pool *pgxpool.Pool) ImportJobRepository {
	return &importJobRepository{pool: pool}
}

const importJobColumns = `id, source_version, source_url, status, checkpoint,
	total_entries, imported_entries, updated_entries, skipped_entries, failed_entries,
	validation_summary, gate_override, log_lines, error_message, error_detail,
	created_at, updated_at`

func (r *importJobRepository) Create(ctx context.Context, job domain.ImportJob) (domain.ImportJob, error) {
	checkpointJSON, err := json.Marshal(job.Checkpoint)
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO import_jobs (id, source_version, source_url, status, checkpoint, log_lines)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID,
		job.SourceVersion,
		job.SourceURL,
		string(job.Status),
		checkpointJSON,
		job.LogLines,
	)
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("failed to create import job: %w", err)
	}

	return r.GetByID(ctx, job.ID)
}

func (r *importJobRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+importJobColumns+` FROM import_jobs WHERE id = $1`,
		id,
	)
	return scanImportJob(row)
}

func (r *importJobRepository) List(ctx context.Context, limit int, offset int) ([]domain.ImportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+importJobColumns+` FROM import_jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	defer rows.Close()

	jobs := []domain.ImportJob{}
	for rows.Next() {
		job, scanErr := scanImportJob(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate import jobs: %w", rowsErr)
	}

	return jobs, nil
}

func (r *importJobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ImportStatus) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE import_jobs SET status = $2, updated_at = now() WHERE id = $1`,
		id,
		string(status),
	)
	if err != nil {
		return fmt.Errorf("failed to update import job status: %w", err)
	}
	return nil
}

func (r *importJobRepository) SaveCheckpoint(ctx context.Context, id uuid.UUID, checkpoint domain.Checkpoint) error {
	checkpointJSON, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`UPDATE import_jobs SET checkpoint = $2, updated_at = now() WHERE id = $1`,
		id,
		checkpointJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (r *importJobRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string, detail string) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE import_jobs
		 SET status = $2, error_message = $3, error_detail = $4, updated_at = now()
		 WHERE id = $1`,
		id,
		string(domain.ImportStatusFailed),
		message,
		detail,
	)
	if err != nil {
		return fmt.Errorf("failed to mark import job failed: %w", err)
	}
	return nil
}

func (r *importJobRepository) AppendLog(ctx context.Context, id uuid.UUID, line string) error {
	stamped := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), line)
	_, err := r.pool.Exec(
		ctx,
		`UPDATE import_jobs SET log_lines = array_append(log_lines, $2), updated_at = now() WHERE id = $1`,
		id,
		stamped,
	)
	if err != nil {
		return fmt.Errorf("failed to append import log: %w", err)
	}
	return nil
}

func (r *importJobRepository) UpdateCounters(ctx context.Context, id uuid.UUID, counters domain.ImportCounters) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE import_jobs
		 SET total_entries = $2, imported_entries = $3, updated_entries = $4,
		     skipped_entries = $5, failed_entries = $6, updated_at = now()
		 WHERE id = $1`,
		id,
		counters.TotalEntries,
		counters.ImportedEntries,
		counters.UpdatedEntries,
		counters.SkippedEntries,
		counters.FailedEntries,
	)
	if err != nil {
		return fmt.Errorf("failed to update import counters: %w", err)
	}
	return nil
}

func (r *importJobRepository) SaveValidationSummary(ctx context.Context, id uuid.UUID, summary domain.ValidationSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal validation summary: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`UPDATE import_jobs SET validation_summary = $2, updated_at = now() WHERE id = $1`,
		id,
		summaryJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save validation summary: %w", err)
	}
	return nil
}

func (r *importJobRepository) SetGateOverride(ctx context.Context, id uuid.UUID, override bool) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE import_jobs SET gate_override = $2, updated_at = now() WHERE id = $1`,
		id,
		override,
	)
	if err != nil {
		return fmt.Errorf("failed to set gate override: %w", err)
	}
	return nil
}

func scanImportJob(row pgx.Row) (domain.ImportJob, error) {
	var (
		job            domain.ImportJob
		status         string
		checkpointJSON []byte
		summaryJSON    []byte
		errorMessage   pgtype.Text
		errorDetail    pgtype.Text
		createdAt      pgtype.Timestamptz
		updatedAt      pgtype.Timestamptz
	)

	if err := row.Scan(
		&job.ID,
		&job.SourceVersion,
		&job.SourceURL,
		&status,
		&checkpointJSON,
		&job.Counters.TotalEntries,
		&job.Counters.ImportedEntries,
		&job.Counters.UpdatedEntries,
		&job.Counters.SkippedEntries,
		&job.Counters.FailedEntries,
		&summaryJSON,
		&job.GateOverride,
		&job.LogLines,
		&errorMessage,
		&errorDetail,
		&createdAt,
		&updatedAt,
	); err != nil {
		return domain.ImportJob{}, fmt.Errorf("failed to scan import job: %w", err)
	}

	job.Status = domain.ImportStatus(status)
	if len(checkpointJSON) > 0 {
		if err := json.Unmarshal(checkpointJSON, &job.Checkpoint); err != nil {
			return domain.ImportJob{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
	}
	if len(summaryJSON) > 0 {
		var summary domain.ValidationSummary
		if err := json.Unmarshal(summaryJSON, &summary); err != nil {
			return domain.ImportJob{}, fmt.Errorf("failed to unmarshal validation summary: %w", err)
		}
		job.Validation = &summary
	}
	if errorMessage.Valid {
		job.ErrorMessage = errorMessage.String
	}
	if errorDetail.Valid {
		job.ErrorDetail = errorDetail.String
	}
	if createdAt.Valid {
		job.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		job.UpdatedAt = updatedAt.Time
	}

	return job, nil
}
