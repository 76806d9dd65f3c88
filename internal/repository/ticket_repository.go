package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// TicketFilter captures list parameters. It doubles as the cache key input
// for ticket listings, so every field must be a plain value.
type TicketFilter struct {
	RequesterID  *string
	AssigneeID   *string
	DepartmentID *string
	CategoryID   *string
	Statuses     []domain.TicketStatus
	Priorities   []domain.TicketPriority
	SearchTerm   *string
	Violated     *bool
	Limit        int
	Offset       int
}

// TicketMutation computes the new state of a locked ticket and the audit
// entries describing the change. Returning no entries skips the write.
type TicketMutation func(current domain.Ticket) (domain.Ticket, []domain.AuditEntry, error)

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	Count(ctx context.Context, filter TicketFilter) (int64, error)
	UpdateWithAudit(ctx context.Context, id string, mutate TicketMutation) (*domain.Ticket, []domain.AuditEntry, error)
	MarkResponded(ctx context.Context, id string, at time.Time) (bool, error)
	ListSLACandidates(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error)
	MarkSLAViolated(ctx context.Context, ids []string) (int64, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, title, description, status, priority, requester_id, assignee_id, department_id,
               category_id, response_due, resolution_due, responded_at, is_sla_violated,
               priority_changed_at, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (title, description, status, priority, requester_id, assignee_id, department_id,
            category_id, response_due, resolution_due, priority_changed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.RequesterID,
		ticket.AssigneeID,
		ticket.DepartmentID,
		ticket.CategoryID,
		ticket.ResponseDue,
		ticket.ResolutionDue,
		ticket.PriorityChangedAt,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	where, args := ticketWhere(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		ticketColumns, where, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) Count(ctx context.Context, filter TicketFilter) (int64, error) {
	where, args := ticketWhere(filter)
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE `+where, args...).Scan(&total)
	return total, err
}

// UpdateWithAudit locks the row, applies mutate, and writes the new state and
// its audit entries in one transaction.
func (r *ticketRepository) UpdateWithAudit(ctx context.Context, id string, mutate TicketMutation) (*domain.Ticket, []domain.AuditEntry, error) {
	var (
		updated domain.Ticket
		entries []domain.AuditEntry
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		current, err := scanTicket(tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1 FOR UPDATE`, id))
		if err != nil {
			return err
		}

		next, changes, err := mutate(current)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			updated = current
			return nil
		}

		const update = `
            UPDATE tickets SET title=$1, description=$2, status=$3, priority=$4, assignee_id=$5,
                department_id=$6, category_id=$7, response_due=$8, resolution_due=$9,
                priority_changed_at=$10, is_sla_violated=$11, updated_at=NOW()
            WHERE id=$12
            RETURNING updated_at`
		if err := tx.QueryRow(ctx, update,
			next.Title,
			next.Description,
			next.Status,
			next.Priority,
			next.AssigneeID,
			next.DepartmentID,
			next.CategoryID,
			next.ResponseDue,
			next.ResolutionDue,
			next.PriorityChangedAt,
			next.IsSLAViolated,
			id,
		).Scan(&next.UpdatedAt); err != nil {
			return err
		}

		if err := insertAuditEntries(ctx, tx, changes); err != nil {
			return err
		}
		updated, entries = next, changes
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &updated, entries, nil
}

func (r *ticketRepository) MarkResponded(ctx context.Context, id string, at time.Time) (bool, error) {
	cmd, err := r.pool.Exec(ctx,
		`UPDATE tickets SET responded_at=$2, updated_at=NOW() WHERE id=$1 AND responded_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// ListSLACandidates returns open, not yet violated tickets with a passed
// deadline that still counts.
func (r *ticketRepository) ListSLACandidates(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 500
	}
	query := fmt.Sprintf(`
        SELECT %s FROM tickets
        WHERE is_sla_violated = FALSE
          AND status NOT IN ('RESOLVED', 'CLOSED')
          AND ((response_due < $1 AND responded_at IS NULL) OR resolution_due < $1)
        ORDER BY resolution_due ASC
        LIMIT %d`, ticketColumns, limit)
	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) MarkSLAViolated(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	cmd, err := r.pool.Exec(ctx,
		`UPDATE tickets SET is_sla_violated=TRUE, updated_at=NOW() WHERE id = ANY($1::uuid[]) AND is_sla_violated=FALSE`, ids)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func ticketWhere(filter TicketFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	eq := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		clauses = append(clauses, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	eq("requester_id", filter.RequesterID)
	eq("assignee_id", filter.AssigneeID)
	eq("department_id", filter.DepartmentID)
	eq("category_id", filter.CategoryID)

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Violated != nil {
		args = append(args, *filter.Violated)
		clauses = append(clauses, fmt.Sprintf("is_sla_violated=$%d", len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s)", placeholder, placeholder))
	}
	return strings.Join(clauses, " AND "), args
}

func scanTicket(row pgx.Row) (domain.Ticket, error) {
	var ticket domain.Ticket
	err := row.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.RequesterID,
		&ticket.AssigneeID,
		&ticket.DepartmentID,
		&ticket.CategoryID,
		&ticket.ResponseDue,
		&ticket.ResolutionDue,
		&ticket.RespondedAt,
		&ticket.IsSLAViolated,
		&ticket.PriorityChangedAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	)
	return ticket, err
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
