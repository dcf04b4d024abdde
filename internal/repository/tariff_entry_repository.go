package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/tariffops/htsflow/internal/domain"
)

// ErrEntryNotFound is returned when no active row exists for a code.
var ErrEntryNotFound = errors.New("tariff entry not found")

type tariffEntryRepository struct {
	pool *pgxpool.Pool
}

// NewTariffEntryRepository wires a repository backed by pgxpool.
func NewTariffEntryRepository(pool *pgxpool.Pool) TariffEntryRepository {
	return &tariffEntryRepository{pool: pool}
}

const tariffEntryColumns = `id, code, version, chapter, heading, subheading, rate_line_suffix, statistical_suffix,
	description, unit, general_rate, special_rate, other_rate, indent, row_hash, is_active, created_at, updated_at`

func (r *tariffEntryRepository) GetActiveByCode(ctx context.Context, code string) (domain.TariffEntry, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+tariffEntryColumns+` FROM tariff_entries WHERE code = $1 AND is_active`,
		code,
	)
	entry, err := scanTariffEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TariffEntry{}, ErrEntryNotFound
		}
		return domain.TariffEntry{}, err
	}
	return entry, nil
}

func (r *tariffEntryRepository) ListActiveByCodes(ctx context.Context, codes []string) ([]domain.TariffEntry, error) {
	if len(codes) == 0 {
		return []domain.TariffEntry{}, nil
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+tariffEntryColumns+` FROM tariff_entries WHERE is_active AND code = ANY($1)`,
		codes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active entries: %w", err)
	}
	defer rows.Close()

	return collectTariffEntries(rows)
}

func (r *tariffEntryRepository) ListActiveNotStaged(ctx context.Context, importID uuid.UUID) ([]domain.TariffEntry, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+tariffEntryColumns+` FROM tariff_entries t
		 WHERE t.is_active
		   AND NOT EXISTS (
		       SELECT 1 FROM staged_entries s
		       WHERE s.import_id = $1 AND s.code = t.code
		   )
		 ORDER BY t.code`,
		importID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to anti-join active entries: %w", err)
	}
	defer rows.Close()

	return collectTariffEntries(rows)
}

// PromoteBatch runs one promotion batch in a single transaction. Per record:
// insert when no (code, version) row exists, update when the stored row hash
// differs, otherwise skip. The previously active row for a code is switched
// off in the same transaction, so a partially committed batch replays to the
// same end state.
func (r *tariffEntryRepository) PromoteBatch(ctx context.Context, version string, entries []domain.StagedEntry) (PromoteBatchResult, error) {
	var result PromoteBatchResult
	if len(entries) == 0 {
		return result, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to begin promotion batch: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Warn().Err(rbErr).Msg("failed to rollback promotion batch")
		}
	}()

	for _, staged := range entries {
		var (
			existingID   uuid.UUID
			existingHash string
			active       bool
		)
		err := tx.QueryRow(
			ctx,
			`SELECT id, row_hash, is_active FROM tariff_entries WHERE code = $1 AND version = $2`,
			staged.Code,
			version,
		).Scan(&existingID, &existingHash, &active)

		switch {
		case errors.Is(err, pgx.ErrNoRows):
			if _, err := tx.Exec(
				ctx,
				`UPDATE tariff_entries SET is_active = FALSE, updated_at = now()
				 WHERE code = $1 AND is_active AND version <> $2`,
				staged.Code,
				version,
			); err != nil {
				return result, fmt.Errorf("failed to deactivate prior version of %s: %w", staged.Code, err)
			}

			live := domain.NewTariffEntryFromStaged(staged, version)
			if _, err := tx.Exec(
				ctx,
				`INSERT INTO tariff_entries (
					id, code, version, chapter, heading, subheading, rate_line_suffix, statistical_suffix,
					description, unit, general_rate, special_rate, other_rate, indent, row_hash, is_active
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, TRUE)`,
				live.ID, live.Code, live.Version, live.Chapter, live.Heading, live.Subheading,
				live.RateLineSuffix, live.StatisticalSuffix, live.Description, live.Unit,
				live.GeneralRate, live.SpecialRate, live.OtherRate, live.Indent, live.RowHash,
			); err != nil {
				return result, fmt.Errorf("failed to insert entry %s: %w", staged.Code, err)
			}
			result.Inserted++

		case err != nil:
			return result, fmt.Errorf("failed to look up entry %s: %w", staged.Code, err)

		case existingHash == staged.RowHash && active:
			result.Skipped++

		default:
			if _, err := tx.Exec(
				ctx,
				`UPDATE tariff_entries SET is_active = FALSE, updated_at = now()
				 WHERE code = $1 AND is_active AND id <> $2`,
				staged.Code,
				existingID,
			); err != nil {
				return result, fmt.Errorf("failed to deactivate prior version of %s: %w", staged.Code, err)
			}

			if existingHash == staged.RowHash {
				// Same content, just reactivate.
				if _, err := tx.Exec(
					ctx,
					`UPDATE tariff_entries SET is_active = TRUE, updated_at = now() WHERE id = $1`,
					existingID,
				); err != nil {
					return result, fmt.Errorf("failed to reactivate entry %s: %w", staged.Code, err)
				}
				result.Skipped++
				continue
			}

			if _, err := tx.Exec(
				ctx,
				`UPDATE tariff_entries SET
					chapter = $2, heading = $3, subheading = $4, rate_line_suffix = $5, statistical_suffix = $6,
					description = $7, unit = $8, general_rate = $9, special_rate = $10, other_rate = $11,
					indent = $12, row_hash = $13, is_active = TRUE, updated_at = now()
				 WHERE id = $1`,
				existingID,
				staged.Chapter, staged.Heading, staged.Subheading, staged.RateLineSuffix, staged.StatisticalSuffix,
				staged.Description, staged.Unit, staged.GeneralRate, staged.SpecialRate, staged.OtherRate,
				staged.Indent, staged.RowHash,
			); err != nil {
				return result, fmt.Errorf("failed to update entry %s: %w", staged.Code, err)
			}
			result.Updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("failed to commit promotion batch: %w", err)
	}

	return result, nil
}

func (r *tariffEntryRepository) DeactivateSuperseded(ctx context.Context, importID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE tariff_entries t SET is_active = FALSE, updated_at = now()
		 WHERE t.is_active
		   AND NOT EXISTS (
		       SELECT 1 FROM staged_entries s
		       WHERE s.import_id = $1 AND s.code = t.code
		   )`,
		importID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate superseded entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectTariffEntries(rows pgx.Rows) ([]domain.TariffEntry, error) {
	entries := []domain.TariffEntry{}
	for rows.Next() {
		entry, err := scanTariffEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tariff entries: %w", err)
	}
	return entries, nil
}

func scanTariffEntry(row pgx.Row) (domain.TariffEntry, error) {
	var (
		entry     domain.TariffEntry
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)

	if err := row.Scan(
		&entry.ID,
		&entry.Code,
		&entry.Version,
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
		&entry.IsActive,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TariffEntry{}, err
		}
		return domain.TariffEntry{}, fmt.Errorf("failed to scan tariff entry: %w", err)
	}

	if createdAt.Valid {
		entry.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		entry.UpdatedAt = updatedAt.Time
	}

	return entry, nil
}
