package dto

import (
	"time"

	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/sla"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title        string                `json:"title"`
	Description  string                `json:"description"`
	Priority     domain.TicketPriority `json:"priority"`
	DepartmentID *string               `json:"departmentId"`
	CategoryID   *string               `json:"categoryId"`
}

// UpdateTicketRequest payload. Absent fields stay unchanged; the clear flags unset a reference.
type UpdateTicketRequest struct {
	Title           *string                `json:"title"`
	Description     *string                `json:"description"`
	Status          *domain.TicketStatus   `json:"status"`
	Priority        *domain.TicketPriority `json:"priority"`
	AssigneeID      *string                `json:"assigneeId"`
	DepartmentID    *string                `json:"departmentId"`
	CategoryID      *string                `json:"categoryId"`
	ClearAssignee   bool                   `json:"clearAssignee"`
	ClearDepartment bool                   `json:"clearDepartment"`
	ClearCategory   bool                   `json:"clearCategory"`
}

// Patch converts the request into a domain patch.
func (r UpdateTicketRequest) Patch() domain.TicketPatch {
	return domain.TicketPatch{
		Title:           r.Title,
		Description:     r.Description,
		Status:          r.Status,
		Priority:        r.Priority,
		AssigneeID:      r.AssigneeID,
		DepartmentID:    r.DepartmentID,
		CategoryID:      r.CategoryID,
		ClearAssignee:   r.ClearAssignee,
		ClearDepartment: r.ClearDepartment,
		ClearCategory:   r.ClearCategory,
	}
}

// TicketResponse is the wire form of a ticket.
type TicketResponse struct {
	ID            string                `json:"id"`
	Title         string                `json:"title"`
	Description   string                `json:"description"`
	Status        domain.TicketStatus   `json:"status"`
	Priority      domain.TicketPriority `json:"priority"`
	RequesterID   string                `json:"requesterId"`
	AssigneeID    *string               `json:"assigneeId"`
	DepartmentID  *string               `json:"departmentId"`
	CategoryID    *string               `json:"categoryId"`
	ResponseDue   *time.Time            `json:"responseDue"`
	ResolutionDue *time.Time            `json:"resolutionDue"`
	RespondedAt   *time.Time            `json:"respondedAt"`
	IsSLAViolated bool                  `json:"isSlaViolated"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

// TicketDetailResponse adds the live SLA evaluation.
type TicketDetailResponse struct {
	TicketResponse
	SLA sla.Status `json:"sla"`
}

// TicketListResponse is one page of tickets.
type TicketListResponse struct {
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	Items    []TicketResponse `json:"items"`
}

// AuditEntryResponse is one field change.
type AuditEntryResponse struct {
	ID        string    `json:"id,omitempty"`
	TicketID  string    `json:"ticketId"`
	Field     string    `json:"field"`
	OldValue  *string   `json:"oldValue"`
	NewValue  *string   `json:"newValue"`
	ChangedBy string    `json:"changedBy"`
	ChangedAt time.Time `json:"changedAt"`
}

// TicketUpdatedResponse carries the new state plus the changes that produced it.
type TicketUpdatedResponse struct {
	ID     string               `json:"id"`
	Ticket TicketResponse       `json:"ticket"`
	Audit  []AuditEntryResponse `json:"audit"`
}

// Ticket maps a domain ticket.
func Ticket(t domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        t.Status,
		Priority:      t.Priority,
		RequesterID:   t.RequesterID,
		AssigneeID:    t.AssigneeID,
		DepartmentID:  t.DepartmentID,
		CategoryID:    t.CategoryID,
		ResponseDue:   t.ResponseDue,
		ResolutionDue: t.ResolutionDue,
		RespondedAt:   t.RespondedAt,
		IsSLAViolated: t.IsSLAViolated,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// Tickets maps a slice of tickets.
func Tickets(items []domain.Ticket) []TicketResponse {
	out := make([]TicketResponse, 0, len(items))
	for _, t := range items {
		out = append(out, Ticket(t))
	}
	return out
}

// AuditEntries maps audit entries.
func AuditEntries(entries []domain.AuditEntry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryResponse{
			ID:        e.ID,
			TicketID:  e.TicketID,
			Field:     e.Field,
			OldValue:  e.OldValue,
			NewValue:  e.NewValue,
			ChangedBy: e.ChangedBy,
			ChangedAt: e.ChangedAt,
		})
	}
	return out
}

// TicketUpdated builds the payload shared by the HTTP response and the ticket-updated push.
func TicketUpdated(t domain.Ticket, entries []domain.AuditEntry) TicketUpdatedResponse {
	return TicketUpdatedResponse{ID: t.ID, Ticket: Ticket(t), Audit: AuditEntries(entries)}
}
