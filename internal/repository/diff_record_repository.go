package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tariffops/htsflow/internal/domain"
)

type diffRecordRepository struct {
	pool *pgxpool.Pool
}

// NewDiffRecordRepository wires a repository backed by pgxpool.
func NewDiffRecordRepository(pool *pgxpool.Pool) DiffRecordRepository {
	return &diffRecordRepository{pool: pool}
}

func (r *diffRecordRepository) DeleteByImport(ctx context.Context, importID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM diff_records WHERE import_id = $1`, importID); err != nil {
		return fmt.Errorf("failed to delete diff records: %w", err)
	}
	return nil
}

func (r *diffRecordRepository) InsertBatch(ctx context.Context, records []domain.DiffRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, record := range records {
		summaryJSON, err := record.SummaryJSON()
		if err != nil {
			return fmt.Errorf("failed to marshal diff summary for %s: %w", record.Code, err)
		}

		batch.Queue(
			`INSERT INTO diff_records (id, import_id, stage_entry_id, current_entry_id, code, diff_type, diff_summary)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			record.ID,
			record.ImportID,
			record.StageEntryID,
			record.CurrentEntryID,
			record.Code,
			string(record.DiffType),
			summaryJSON,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert diff record batch: %w", err)
		}
	}

	return nil
}

func (r *diffRecordRepository) ListByImport(ctx context.Context, importID uuid.UUID, diffType *domain.DiffType, limit int, offset int) ([]domain.DiffRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, import_id, stage_entry_id, current_entry_id, code, diff_type, diff_summary, created_at
	          FROM diff_records WHERE import_id = $1`
	args := []any{importID}
	if diffType != nil {
		query += ` AND diff_type = $2 ORDER BY code LIMIT $3 OFFSET $4`
		args = append(args, string(*diffType), limit, offset)
	} else {
		query += ` ORDER BY code LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list diff records: %w", err)
	}
	defer rows.Close()

	records := []domain.DiffRecord{}
	for rows.Next() {
		var (
			record      domain.DiffRecord
			diffTypeRaw string
			summaryJSON []byte
			createdAt   pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&record.ID,
			&record.ImportID,
			&record.StageEntryID,
			&record.CurrentEntryID,
			&record.Code,
			&diffTypeRaw,
			&summaryJSON,
			&createdAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan diff record: %w", scanErr)
		}

		record.DiffType = domain.DiffType(diffTypeRaw)
		summary, sumErr := domain.DiffSummaryFromJSON(summaryJSON)
		if sumErr != nil {
			return nil, fmt.Errorf("failed to unmarshal diff summary: %w", sumErr)
		}
		record.Summary = summary
		if createdAt.Valid {
			record.CreatedAt = createdAt.Time
		}
		records = append(records, record)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate diff records: %w", rowsErr)
	}

	return records, nil
}

func (r *diffRecordRepository) CountByType(ctx context.Context, importID uuid.UUID) (map[domain.DiffType]int, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT diff_type, COUNT(*) FROM diff_records WHERE import_id = $1 GROUP BY diff_type`,
		importID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count diff records: %w", err)
	}
	defer rows.Close()

	counts := map[domain.DiffType]int{}
	for rows.Next() {
		var (
			diffType string
			count    int
		)
		if scanErr := rows.Scan(&diffType, &count); scanErr != nil {
			return nil, fmt.Errorf("failed to scan diff count: %w", scanErr)
		}
		counts[domain.DiffType(diffType)] = count
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate diff counts: %w", rowsErr)
	}

	return counts, nil
}
