// Package audit derives field-level change records from ticket updates.
package audit

import (
	"time"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// Tracked field names, in the order entries are emitted.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldStatus      = "status"
	FieldPriority    = "priority"
	FieldAssignee    = "assigneeId"
	FieldDepartment  = "departmentId"
	FieldCategory    = "categoryId"
)

// FieldValue is one tracked field; nil Value means unset.
type FieldValue struct {
	Name  string
	Value *string
}

// Snapshot captures the tracked fields of t.
func Snapshot(t domain.Ticket) []FieldValue {
	return []FieldValue{
		{Name: FieldTitle, Value: str(t.Title)},
		{Name: FieldDescription, Value: str(t.Description)},
		{Name: FieldStatus, Value: str(string(t.Status))},
		{Name: FieldPriority, Value: str(string(t.Priority))},
		{Name: FieldAssignee, Value: t.AssigneeID},
		{Name: FieldDepartment, Value: t.DepartmentID},
		{Name: FieldCategory, Value: t.CategoryID},
	}
}

// Diff emits one entry per tracked field whose value differs between before
// and after, including transitions between unset and set.
func Diff(before, after domain.Ticket, actor string, at time.Time) []domain.AuditEntry {
	prev := Snapshot(before)
	next := Snapshot(after)

	var entries []domain.AuditEntry
	for i := range prev {
		if equal(prev[i].Value, next[i].Value) {
			continue
		}
		entries = append(entries, domain.AuditEntry{
			TicketID:  before.ID,
			Field:     prev[i].Name,
			OldValue:  clone(prev[i].Value),
			NewValue:  clone(next[i].Value),
			ChangedBy: actor,
			ChangedAt: at,
		})
	}
	return entries
}

// Changed reports whether field appears in entries.
func Changed(entries []domain.AuditEntry, field string) bool {
	for _, e := range entries {
		if e.Field == field {
			return true
		}
	}
	return false
}

func str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func clone(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func equal(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
