package domain

import "time"

// AlertStatus mirrors the monitoring system's problem state.
type AlertStatus string

const (
	AlertStatusProblem  AlertStatus = "PROBLEM"
	AlertStatusResolved AlertStatus = "RESOLVED"
)

// Alert is an externally sourced ticket keyed by the monitoring event id.
type Alert struct {
	EventID        string
	Name           string
	Host           string
	Severity       string
	Status         AlertStatus
	ProblemAt      time.Time
	ResolvedAt     *time.Time
	AcknowledgedAt *time.Time
	AcknowledgedBy *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Acknowledged reports whether an operator has handled the alert.
func (a Alert) Acknowledged() bool {
	return a.AcknowledgedAt != nil
}
