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

type stagedEntryRepository struct {
	pool *pgxpool.Pool
}

// NewStagedEntryRepository wires a repository backed by pgxpool.
func NewStagedEntryRepository(pool *pgxpool.Pool) StagedEntryRepository {
	return &stagedEntryRepository{pool: pool}
}

func (r *stagedEntryRepository) DeleteByImport(ctx context.Context, importID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM staged_entries WHERE import_id = $1`, importID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete staged entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpsertBatch writes one staging batch keyed on (import_id, code), so
// re-running staging after a crash converges instead of duplicating.
func (r *stagedEntryRepository) UpsertBatch(ctx context.Context, entries []domain.StagedEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, entry := range entries {
		normalizedJSON, err := entry.NormalizedJSON()
		if err != nil {
			return fmt.Errorf("failed to marshal normalized entry %s: %w", entry.Code, err)
		}
		rawItem := entry.RawItem
		if len(rawItem) == 0 {
			rawItem = []byte("{}")
		}

		batch.Queue(
			`INSERT INTO staged_entries (
				id, import_id, code, chapter, heading, subheading, rate_line_suffix, statistical_suffix,
				description, unit, general_rate, special_rate, other_rate, indent,
				row_hash, raw_item, normalized
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			ON CONFLICT (import_id, code) DO UPDATE SET
				chapter = EXCLUDED.chapter,
				heading = EXCLUDED.heading,
				subheading = EXCLUDED.subheading,
				rate_line_suffix = EXCLUDED.rate_line_suffix,
				statistical_suffix = EXCLUDED.statistical_suffix,
				description = EXCLUDED.description,
				unit = EXCLUDED.unit,
				general_rate = EXCLUDED.general_rate,
				special_rate = EXCLUDED.special_rate,
				other_rate = EXCLUDED.other_rate,
				indent = EXCLUDED.indent,
				row_hash = EXCLUDED.row_hash,
				raw_item = EXCLUDED.raw_item,
				normalized = EXCLUDED.normalized`,
			entry.ID,
			entry.ImportID,
			entry.Code,
			entry.Chapter,
			entry.Heading,
			entry.Subheading,
			entry.RateLineSuffix,
			entry.StatisticalSuffix,
			entry.Description,
			entry.Unit,
			entry.GeneralRate,
			entry.SpecialRate,
			entry.OtherRate,
			entry.Indent,
			entry.RowHash,
			rawItem,
			normalizedJSON,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert staged entry batch: %w", err)
		}
	}

	return nil
}

func (r *stagedEntryRepository) ListPage(ctx context.Context, importID uuid.UUID, afterCode string, limit int) ([]domain.StagedEntry, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, import_id, code, chapter, heading, subheading, rate_line_suffix, statistical_suffix,
		        description, unit, general_rate, special_rate, other_rate, indent,
		        row_hash, raw_item, normalized, created_at
		 FROM staged_entries
		 WHERE import_id = $1 AND code > $2
		 ORDER BY code
		 LIMIT $3`,
		importID,
		afterCode,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list staged entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.StagedEntry{}
	for rows.Next() {
		entry, scanErr := scanStagedEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, entry)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate staged entries: %w", rowsErr)
	}

	return entries, nil
}

func (r *stagedEntryRepository) CountByImport(ctx context.Context, importID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM staged_entries WHERE import_id = $1`,
		importID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count staged entries: %w", err)
	}
	return count, nil
}

func scanStagedEntry(row pgx.Row) (domain.StagedEntry, error) {
	var (
		entry          domain.StagedEntry
		normalizedJSON []byte
		createdAt      pgtype.Timestamptz
	)

	if err := row.Scan(
		&entry.ID,
		&entry.ImportID,
		&entry.Code,
		&entry.Chapter,
		&entry.Heading,
		&entry.Subheading,
		&entry.RateLineSuffix,
		&entry.StatisticalSuffix,
		&entry.Description,
		&entry.Unit,
		&entry.GeneralRate,
		&entry.SpecialRate,
		&entry.OtherRate,
		&entry.Indent,
		&entry.RowHash,
		&entry.RawItem,
		&normalizedJSON,
		&createdAt,
	); err != nil {
		return domain.StagedEntry{}, fmt.Errorf("failed to scan staged entry: %w", err)
	}

	if len(normalizedJSON) > 0 {
		if err := jsonUnmarshalMap(normalizedJSON, &entry.Normalized); err != nil {
			return domain.StagedEntry{}, fmt.Errorf("failed to unmarshal normalized entry: %w", err)
		}
	}
	if createdAt.Valid {
		entry.CreatedAt = createdAt.Time
	}

	return entry, nil
}
