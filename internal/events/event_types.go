package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated      EventType = "ticket_created"
	EventTicketUpdated      EventType = "ticket_updated"
	EventCommentAdded       EventType = "comment_added"
	EventAlertsAcknowledged EventType = "alerts_acknowledged"
	EventSLABreached        EventType = "sla_breached"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	TicketID  string          `json:"ticket_id,omitempty"`
	Actor     domain.Identity `json:"actor"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   any             `json:"payload"`
}

// New stamps an event with a fresh id.
func New(eventType EventType, ticketID string, actor domain.Identity, at time.Time, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     actor,
		Timestamp: at,
		Payload:   payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Ticket domain.Ticket
}

// TicketUpdatedPayload carries the new state and the audit entries written
// with it.
type TicketUpdatedPayload struct {
	Ticket domain.Ticket
	Audit  []domain.AuditEntry
}

// CommentAddedPayload payload.
type CommentAddedPayload struct {
	Comment     domain.Comment
	RequesterID string
}

// AlertsAcknowledgedPayload payload.
type AlertsAcknowledgedPayload struct {
	EventIDs     []string
	Acknowledged int64
	By           string
}

// SLABreachedPayload payload.
type SLABreachedPayload struct {
	Ticket domain.Ticket
}
