package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// AlertSyncResult summarizes one reconciliation against the monitoring feed.
type AlertSyncResult struct {
	Upserted int64
	Resolved int64
}

// AlertRepository stores alerts mirrored from the monitoring system.
type AlertRepository interface {
	ListCurrent(ctx context.Context, limit, offset int) ([]domain.Alert, error)
	CountCurrent(ctx context.Context) (int64, error)
	Acknowledge(ctx context.Context, eventIDs []string, by string, at time.Time) (int64, error)
	SyncActive(ctx context.Context, active []domain.Alert, at time.Time) (AlertSyncResult, error)
}

type alertRepository struct {
	pool *pgxpool.Pool
}

// NewAlertRepository builds repository.
func NewAlertRepository(pool *pgxpool.Pool) AlertRepository {
	return &alertRepository{pool: pool}
}

func (r *alertRepository) ListCurrent(ctx context.Context, limit, offset int) ([]domain.Alert, error) {
	const query = `
        SELECT event_id, name, host, severity, status, problem_at, resolved_at,
               acknowledged_at, acknowledged_by, created_at, updated_at
        FROM alerts WHERE status = 'PROBLEM'
        ORDER BY problem_at DESC, event_id ASC
        LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Alert
	for rows.Next() {
		var alert domain.Alert
		if err := rows.Scan(
			&alert.EventID,
			&alert.Name,
			&alert.Host,
			&alert.Severity,
			&alert.Status,
			&alert.ProblemAt,
			&alert.ResolvedAt,
			&alert.AcknowledgedAt,
			&alert.AcknowledgedBy,
			&alert.CreatedAt,
			&alert.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, alert)
	}
	return result, rows.Err()
}

func (r *alertRepository) CountCurrent(ctx context.Context) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM alerts WHERE status = 'PROBLEM'`).Scan(&total)
	return total, err
}

// Acknowledge stamps only alerts that are still unacknowledged; unknown and
// already acknowledged ids are not counted.
func (r *alertRepository) Acknowledge(ctx context.Context, eventIDs []string, by string, at time.Time) (int64, error) {
	const query = `
        UPDATE alerts SET acknowledged_at=$2, acknowledged_by=$3, updated_at=$2
        WHERE event_id = ANY($1) AND acknowledged_at IS NULL`
	cmd, err := r.pool.Exec(ctx, query, eventIDs, at, by)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// SyncActive upserts the feed's active problems and resolves every stored
// problem the feed no longer reports.
func (r *alertRepository) SyncActive(ctx context.Context, active []domain.Alert, at time.Time) (AlertSyncResult, error) {
	const upsert = `
        INSERT INTO alerts (event_id, name, host, severity, status, problem_at, created_at, updated_at)
        VALUES ($1,$2,$3,$4,'PROBLEM',$5,$6,$6)
        ON CONFLICT (event_id) DO UPDATE SET
            name=EXCLUDED.name, host=EXCLUDED.host, severity=EXCLUDED.severity,
            status='PROBLEM', problem_at=EXCLUDED.problem_at, resolved_at=NULL, updated_at=EXCLUDED.updated_at`
	const resolve = `
        UPDATE alerts SET status='RESOLVED', resolved_at=$2, updated_at=$2
        WHERE status = 'PROBLEM' AND NOT (event_id = ANY($1))`

	var result AlertSyncResult
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		ids := make([]string, 0, len(active))
		batch := &pgx.Batch{}
		for _, alert := range active {
			ids = append(ids, alert.EventID)
			batch.Queue(upsert, alert.EventID, alert.Name, alert.Host, alert.Severity, alert.ProblemAt, at)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		result.Upserted = int64(len(active))

		cmd, err := tx.Exec(ctx, resolve, ids, at)
		if err != nil {
			return err
		}
		result.Resolved = cmd.RowsAffected()
		return nil
	})
	return result, err
}
