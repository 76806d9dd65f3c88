package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

func baseTicket() domain.Ticket {
	dept := "network"
	return domain.Ticket{
		ID:           "42",
		Title:        "VPN down",
		Description:  "users cannot connect",
		Status:       domain.TicketStatusOpen,
		Priority:     domain.TicketPriorityMajor,
		DepartmentID: &dept,
	}
}

func TestDiff_SingleStatusChange(t *testing.T) {
	before := baseTicket()
	after := before
	after.Status = domain.TicketStatusResolved
	at := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	entries := Diff(before, after, "agent-7", at)

	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "42", e.TicketID)
	assert.Equal(t, FieldStatus, e.Field)
	assert.Equal(t, "OPEN", *e.OldValue)
	assert.Equal(t, "RESOLVED", *e.NewValue)
	assert.Equal(t, "agent-7", e.ChangedBy)
	assert.Equal(t, at, e.ChangedAt)
}

func TestDiff_NoChanges(t *testing.T) {
	before := baseTicket()
	after := before
	dept := *before.DepartmentID
	after.DepartmentID = &dept

	assert.Empty(t, Diff(before, after, "agent-7", time.Now()))
}

func TestDiff_UnsetTransitions(t *testing.T) {
	before := baseTicket()
	after := before
	assignee := "agent-9"
	after.AssigneeID = &assignee
	after.DepartmentID = nil

	entries := Diff(before, after, "agent-7", time.Now())

	require.Len(t, entries, 2)
	assert.Equal(t, FieldAssignee, entries[0].Field)
	assert.Nil(t, entries[0].OldValue)
	assert.Equal(t, "agent-9", *entries[0].NewValue)

	assert.Equal(t, FieldDepartment, entries[1].Field)
	assert.Equal(t, "network", *entries[1].OldValue)
	assert.Nil(t, entries[1].NewValue)
}

func TestDiff_EntriesDoNotAliasTickets(t *testing.T) {
	before := baseTicket()
	after := before
	after.DepartmentID = nil

	entries := Diff(before, after, "agent-7", time.Now())
	*before.DepartmentID = "mutated"

	require.Len(t, entries, 1)
	assert.Equal(t, "network", *entries[0].OldValue)
}

func TestChanged(t *testing.T) {
	before := baseTicket()
	after := before
	after.Priority = domain.TicketPriorityCritical

	entries := Diff(before, after, "agent-7", time.Now())
	assert.True(t, Changed(entries, FieldPriority))
	assert.False(t, Changed(entries, FieldStatus))
}
