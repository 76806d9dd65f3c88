package dto

import (
	"time"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// AcknowledgeAlertsRequest payload.
type AcknowledgeAlertsRequest struct {
	EventIDs []string `json:"eventIds"`
	User     string   `json:"user"`
}

// AcknowledgeAlertsResponse reports how many alerts changed state.
type AcknowledgeAlertsResponse struct {
	Acknowledged int64 `json:"acknowledged"`
}

// SyncAlertsRequest carries the monitoring feed's currently active problems.
type SyncAlertsRequest struct {
	Problems []AlertProblem `json:"problems"`
}

// AlertProblem is one active problem reported by the feed.
type AlertProblem struct {
	EventID   string    `json:"eventId"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Severity  string    `json:"severity"`
	ProblemAt time.Time `json:"problemAt"`
}

// SyncAlertsResponse reports the reconciliation outcome.
type SyncAlertsResponse struct {
	Upserted int64 `json:"upserted"`
	Resolved int64 `json:"resolved"`
}

// AlertResponse is the wire form of an alert.
type AlertResponse struct {
	EventID        string             `json:"eventId"`
	Name           string             `json:"name"`
	Host           string             `json:"host"`
	Severity       string             `json:"severity"`
	Status         domain.AlertStatus `json:"status"`
	ProblemAt      time.Time          `json:"problemAt"`
	ResolvedAt     *time.Time         `json:"resolvedAt"`
	AcknowledgedAt *time.Time         `json:"acknowledgedAt"`
	AcknowledgedBy *string            `json:"acknowledgedBy"`
}

// AlertListResponse is one page of current alerts.
type AlertListResponse struct {
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
	Items    []AlertResponse `json:"items"`
}

// Alerts maps domain alerts.
func Alerts(items []domain.Alert) []AlertResponse {
	out := make([]AlertResponse, 0, len(items))
	for _, a := range items {
		out = append(out, AlertResponse{
			EventID:        a.EventID,
			Name:           a.Name,
			Host:           a.Host,
			Severity:       a.Severity,
			Status:         a.Status,
			ProblemAt:      a.ProblemAt,
			ResolvedAt:     a.ResolvedAt,
			AcknowledgedAt: a.AcknowledgedAt,
			AcknowledgedBy: a.AcknowledgedBy,
		})
	}
	return out
}

// Alerts converts the feed payload into domain alerts.
func (r SyncAlertsRequest) Alerts() []domain.Alert {
	out := make([]domain.Alert, 0, len(r.Problems))
	for _, p := range r.Problems {
		out = append(out, domain.Alert{
			EventID:   p.EventID,
			Name:      p.Name,
			Host:      p.Host,
			Severity:  p.Severity,
			Status:    domain.AlertStatusProblem,
			ProblemAt: p.ProblemAt,
		})
	}
	return out
}
