package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// AuditRepository reads the append-only ticket change log. Entries are
// written only by TicketRepository.UpdateWithAudit.
type AuditRepository interface {
	ListByTicket(ctx context.Context, ticketID string) ([]domain.AuditEntry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type auditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository builds repository.
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepository{pool: pool}
}

func (r *auditRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.AuditEntry, error) {
	const query = `
        SELECT id, ticket_id, field, old_value, new_value, changed_by, changed_at
        FROM ticket_audit WHERE ticket_id=$1 ORDER BY changed_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AuditEntry
	for rows.Next() {
		var entry domain.AuditEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.TicketID,
			&entry.Field,
			&entry.OldValue,
			&entry.NewValue,
			&entry.ChangedBy,
			&entry.ChangedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

// DeleteOlderThan is the retention sweep; nothing else removes audit rows.
func (r *auditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM ticket_audit WHERE changed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func insertAuditEntries(ctx context.Context, tx pgx.Tx, entries []domain.AuditEntry) error {
	const query = `
        INSERT INTO ticket_audit (ticket_id, field, old_value, new_value, changed_by, changed_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id`
	batch := &pgx.Batch{}
	for i := range entries {
		entry := &entries[i]
		batch.Queue(query,
			entry.TicketID,
			entry.Field,
			entry.OldValue,
			entry.NewValue,
			entry.ChangedBy,
			entry.ChangedAt,
		).QueryRow(func(row pgx.Row) error {
			return row.Scan(&entry.ID)
		})
	}
	return tx.SendBatch(ctx, batch).Close()
}
