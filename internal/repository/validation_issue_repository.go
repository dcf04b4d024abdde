package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tariffops/htsflow/internal/domain"
)

type validationIssueRepository struct {
	pool *pgxpool.Pool
}

// NewValidationIssueRepository wires a repository backed by pgxpool.
func NewValidationIssueRepository(pool *pgxpool.Pool) ValidationIssueRepository {
	return &validationIssueRepository{pool: pool}
}

func (r *validationIssueRepository) DeleteByImport(ctx context.Context, importID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM validation_issues WHERE import_id = $1`, importID); err != nil {
		return fmt.Errorf("failed to delete validation issues: %w", err)
	}
	return nil
}

func (r *validationIssueRepository) InsertBatch(ctx context.Context, issues []domain.ValidationIssue) error {
	if len(issues) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, issue := range issues {
		var detailsJSON []byte
		if issue.Details != nil {
			encoded, err := json.Marshal(issue.Details)
			if err != nil {
				return fmt.Errorf("failed to marshal issue details: %w", err)
			}
			detailsJSON = encoded
		}

		batch.Queue(
			`INSERT INTO validation_issues (id, import_id, stage_entry_id, code, issue_code, severity, message, details)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			issue.ID,
			issue.ImportID,
			issue.StageEntryID,
			issue.Code,
			issue.IssueCode,
			string(issue.Severity),
			issue.Message,
			detailsJSON,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range issues {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert validation issue batch: %w", err)
		}
	}

	return nil
}

func (r *validationIssueRepository) ListByImport(ctx context.Context, importID uuid.UUID, limit int, offset int) ([]domain.ValidationIssue, error) {
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, import_id, stage_entry_id, code, issue_code, severity, message, details, created_at
		 FROM validation_issues
		 WHERE import_id = $1
		 ORDER BY code, issue_code
		 LIMIT $2 OFFSET $3`,
		importID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list validation issues: %w", err)
	}
	defer rows.Close()

	issues := []domain.ValidationIssue{}
	for rows.Next() {
		var (
			issue       domain.ValidationIssue
			severity    string
			detailsJSON []byte
			createdAt   pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&issue.ID,
			&issue.ImportID,
			&issue.StageEntryID,
			&issue.Code,
			&issue.IssueCode,
			&severity,
			&issue.Message,
			&detailsJSON,
			&createdAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan validation issue: %w", scanErr)
		}

		issue.Severity = domain.Severity(severity)
		if len(detailsJSON) > 0 {
			if err := jsonUnmarshalMap(detailsJSON, &issue.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal issue details: %w", err)
			}
		}
		if createdAt.Valid {
			issue.CreatedAt = createdAt.Time
		}
		issues = append(issues, issue)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate validation issues: %w", rowsErr)
	}

	return issues, nil
}

func (r *validationIssueRepository) Summary(ctx context.Context, importID uuid.UUID) (domain.ValidationSummary, error) {
	var summary domain.ValidationSummary
	err := r.pool.QueryRow(
		ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE severity = 'ERROR'),
		        COUNT(*) FILTER (WHERE severity = 'WARNING'),
		        COUNT(*) FILTER (WHERE severity = 'INFO')
		 FROM validation_issues WHERE import_id = $1`,
		importID,
	).Scan(&summary.Total, &summary.ErrorCount, &summary.WarningCount, &summary.InfoCount)
	if err != nil {
		return domain.ValidationSummary{}, fmt.Errorf("failed to summarize validation issues: %w", err)
	}
	return summary, nil
}
