package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-sync/internal/sla"
)

// SLARuleRepository persists the priority matrix.
type SLARuleRepository interface {
	List(ctx context.Context) ([]sla.Rule, error)
	SeedIfEmpty(ctx context.Context, rules []sla.Rule) (bool, error)
}

type slaRuleRepository struct {
	pool *pgxpool.Pool
}

// NewSLARuleRepository builds repository.
func NewSLARuleRepository(pool *pgxpool.Pool) SLARuleRepository {
	return &slaRuleRepository{pool: pool}
}

func (r *slaRuleRepository) List(ctx context.Context) ([]sla.Rule, error) {
	const query = `
        SELECT priority, response_time, resolution_time, rca_time, availability
        FROM sla_rules ORDER BY response_time ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []sla.Rule
	for rows.Next() {
		var rule sla.Rule
		if err := rows.Scan(
			&rule.Priority,
			&rule.ResponseTime,
			&rule.ResolutionTime,
			&rule.RCATime,
			&rule.Availability,
		); err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

// SeedIfEmpty writes rules only when the table has no rows, and reports
// whether it did. The table lock serializes concurrent starts.
func (r *slaRuleRepository) SeedIfEmpty(ctx context.Context, rules []sla.Rule) (bool, error) {
	seeded := false
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `LOCK TABLE sla_rules IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return err
		}
		var count int64
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM sla_rules`).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		const insert = `
            INSERT INTO sla_rules (priority, response_time, resolution_time, rca_time, availability)
            VALUES ($1,$2,$3,$4,$5)`
		batch := &pgx.Batch{}
		for _, rule := range rules {
			batch.Queue(insert, rule.Priority, rule.ResponseTime, rule.ResolutionTime, rule.RCATime, rule.Availability)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		seeded = true
		return nil
	})
	return seeded, err
}
