package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusPending    TicketStatus = "PENDING"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusPending, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// Terminal reports whether SLA clocks stop for the status.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// TicketPriority drives the SLA deadlines.
type TicketPriority string

const (
	TicketPriorityCritical TicketPriority = "CRITICAL"
	TicketPriorityMajor    TicketPriority = "MAJOR"
	TicketPriorityMinor    TicketPriority = "MINOR"
	TicketPriorityRequest  TicketPriority = "REQUEST"
)

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityCritical, TicketPriorityMajor, TicketPriorityMinor, TicketPriorityRequest:
		return true
	}
	return false
}

// Ticket is the aggregate for support requests.
// ResponseDue and ResolutionDue stay nil when no SLA rule matches the priority.
type Ticket struct {
	ID            string
	Title         string
	Description   string
	Status        TicketStatus
	Priority      TicketPriority
	RequesterID   string
	AssigneeID    *string
	DepartmentID  *string
	CategoryID    *string
	ResponseDue   *time.Time
	ResolutionDue *time.Time
	RespondedAt   *time.Time
	IsSLAViolated bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	// PriorityChangedAt anchors the current deadlines.
	PriorityChangedAt time.Time
}

// TicketPatch carries the mutable fields of an update; nil means unchanged.
// ClearAssignee and friends distinguish "set to unset" from "leave alone".
type TicketPatch struct {
	Title           *string
	Description     *string
	Status          *TicketStatus
	Priority        *TicketPriority
	AssigneeID      *string
	DepartmentID    *string
	CategoryID      *string
	ClearAssignee   bool
	ClearDepartment bool
	ClearCategory   bool
}

// Apply returns a copy of t with the patch applied.
func (p TicketPatch) Apply(t Ticket) Ticket {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	t.AssigneeID = patchRef(t.AssigneeID, p.AssigneeID, p.ClearAssignee)
	t.DepartmentID = patchRef(t.DepartmentID, p.DepartmentID, p.ClearDepartment)
	t.CategoryID = patchRef(t.CategoryID, p.CategoryID, p.ClearCategory)
	return t
}

func patchRef(current, next *string, clear bool) *string {
	if clear {
		return nil
	}
	if next != nil {
		v := *next
		return &v
	}
	return current
}
