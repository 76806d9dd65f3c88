package domain

import "time"

// AuditEntry is an immutable record of one field-level change on a ticket.
// A nil OldValue or NewValue means the field was unset on that side.
type AuditEntry struct {
	ID        string
	TicketID  string
	Field     string
	OldValue  *string
	NewValue  *string
	ChangedBy string
	ChangedAt time.Time
}
