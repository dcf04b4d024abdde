package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tariffops/htsflow/internal/domain"
)

type extraTaxRuleRepository struct {
	pool *pgxpool.Pool
}

// NewExtraTaxRuleRepository wires a read-only repository backed by pgxpool.
func NewExtraTaxRuleRepository(pool *pgxpool.Pool) ExtraTaxRuleRepository {
	return &extraTaxRuleRepository{pool: pool}
}

// ListMatching returns active rules applying to any of the given codes or
// chapters, plus wildcard rules.
func (r *extraTaxRuleRepository) ListMatching(ctx context.Context, codes []string, chapters []string) ([]domain.ExtraTaxRule, error) {
	if codes == nil {
		codes = []string{}
	}
	if chapters == nil {
		chapters = []string{}
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, name, scope, code, chapter, rate_text, active, created_at
		 FROM extra_tax_rules
		 WHERE active
		   AND (scope = 'ALL'
		        OR (scope = 'CODE' AND code = ANY($1))
		        OR (scope = 'CHAPTER' AND chapter = ANY($2)))
		 ORDER BY name`,
		codes,
		chapters,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list extra tax rules: %w", err)
	}
	defer rows.Close()

	rules := []domain.ExtraTaxRule{}
	for rows.Next() {
		var (
			rule      domain.ExtraTaxRule
			scope     string
			createdAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&rule.ID,
			&rule.Name,
			&scope,
			&rule.Code,
			&rule.Chapter,
			&rule.RateText,
			&rule.Active,
			&createdAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan extra tax rule: %w", scanErr)
		}
		rule.Scope = domain.ExtraTaxScope(scope)
		if createdAt.Valid {
			rule.CreatedAt = createdAt.Time
		}
		rules = append(rules, rule)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate extra tax rules: %w", rowsErr)
	}

	return rules, nil
}
