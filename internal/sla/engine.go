// Package sla computes response and resolution deadlines from the
// priority matrix and classifies how close a deadline is.
package sla

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// DefaultCriticalThreshold is the remaining time under which a deadline is
// flagged critical.
const DefaultCriticalThreshold = 5 * time.Minute

// Rule maps a priority to its deadlines, in minutes.
type Rule struct {
	Priority       domain.TicketPriority `yaml:"priority"`
	ResponseTime   int                   `yaml:"responseTime"`
	ResolutionTime int                   `yaml:"resolutionTime"`
	RCATime        *int                  `yaml:"rcaTime,omitempty"`
	Availability   string                `yaml:"availability"`
}

// Response returns the response window.
func (r Rule) Response() time.Duration {
	return time.Duration(r.ResponseTime) * time.Minute
}

// Resolution returns the resolution window.
func (r Rule) Resolution() time.Duration {
	return time.Duration(r.ResolutionTime) * time.Minute
}

// Table is the immutable priority matrix.
type Table struct {
	rules    map[domain.TicketPriority]Rule
	ordered  []Rule
	critical time.Duration
}

// NewTable validates rules and indexes them by priority.
func NewTable(rules []Rule) (*Table, error) {
	t := &Table{
		rules:    make(map[domain.TicketPriority]Rule, len(rules)),
		critical: DefaultCriticalThreshold,
	}
	var errs []error
	for _, rule := range rules {
		switch {
		case !rule.Priority.Valid():
			errs = append(errs, fmt.Errorf("unknown priority %q", rule.Priority))
			continue
		case rule.ResponseTime <= 0 || rule.ResolutionTime <= 0:
			errs = append(errs, fmt.Errorf("%s: response and resolution minutes must be positive", rule.Priority))
			continue
		case rule.ResolutionTime < rule.ResponseTime:
			errs = append(errs, fmt.Errorf("%s: resolution time shorter than response time", rule.Priority))
			continue
		case rule.RCATime != nil && *rule.RCATime <= 0:
			errs = append(errs, fmt.Errorf("%s: rca minutes must be positive", rule.Priority))
			continue
		}
		if _, dup := t.rules[rule.Priority]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate rule", rule.Priority))
			continue
		}
		t.rules[rule.Priority] = rule
		t.ordered = append(t.ordered, rule)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("sla rules: %w", err)
	}
	return t, nil
}

// WithCriticalThreshold returns a copy using threshold for the critical state.
func (t *Table) WithCriticalThreshold(threshold time.Duration) *Table {
	if threshold <= 0 {
		return t
	}
	clone := *t
	clone.critical = threshold
	return &clone
}

// Lookup returns the rule for priority.
func (t *Table) Lookup(priority domain.TicketPriority) (Rule, bool) {
	if t == nil {
		return Rule{}, false
	}
	rule, ok := t.rules[priority]
	return rule, ok
}

// Rules lists the rules in load order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// DueDates holds computed deadlines; nil means no rule applied.
type DueDates struct {
	ResponseDue   *time.Time
	ResolutionDue *time.Time
}

// ComputeDueDates anchors the priority's windows at the creation or last
// priority change time.
func (t *Table) ComputeDueDates(priority domain.TicketPriority, anchor time.Time) DueDates {
	rule, ok := t.Lookup(priority)
	if !ok {
		return DueDates{}
	}
	response := anchor.Add(rule.Response())
	resolution := anchor.Add(rule.Resolution())
	return DueDates{ResponseDue: &response, ResolutionDue: &resolution}
}

// IsBreached reports whether due is set and already passed.
func IsBreached(now time.Time, due *time.Time) bool {
	return due != nil && now.After(*due)
}

// State orders how urgent a deadline is.
type State int

const (
	StateNormal State = iota
	StateCritical
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateCritical:
		return "critical"
	case StateExpired:
		return "Expired"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state for JSON and CBOR payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Remaining is the time left on one deadline. Left is zero once expired.
type Remaining struct {
	State State
	Left  time.Duration
}

// MarshalJSON renders whole seconds, which is what countdown displays tick on.
func (r Remaining) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		State       string `json:"state"`
		SecondsLeft int64  `json:"secondsLeft"`
	}{State: r.State.String(), SecondsLeft: int64(r.Left / time.Second)})
}

// RemainingUntil classifies due relative to now using the default threshold.
func RemainingUntil(now, due time.Time) Remaining {
	return remainingUntil(now, due, DefaultCriticalThreshold)
}

func remainingUntil(now, due time.Time, critical time.Duration) Remaining {
	if !due.After(now) {
		return Remaining{State: StateExpired}
	}
	left := due.Sub(now)
	if left < critical {
		return Remaining{State: StateCritical, Left: left}
	}
	return Remaining{State: StateNormal, Left: left}
}

// Status is the live SLA picture of a ticket.
type Status struct {
	TicketID    string     `json:"ticketId"`
	Response    *Remaining `json:"response,omitempty"`
	Resolution  *Remaining `json:"resolution,omitempty"`
	Violated    bool       `json:"violated"`
	EvaluatedAt time.Time  `json:"evaluatedAt"`
}

// Evaluate computes a ticket's SLA status at now. The response deadline stops
// counting once the ticket has been answered and both stop once it is resolved.
func (t *Table) Evaluate(now time.Time, ticket domain.Ticket) Status {
	critical := DefaultCriticalThreshold
	if t != nil && t.critical > 0 {
		critical = t.critical
	}
	status := Status{TicketID: ticket.ID, EvaluatedAt: now}
	if ticket.Status.Terminal() {
		status.Violated = ticket.IsSLAViolated
		return status
	}
	if ticket.ResponseDue != nil && ticket.RespondedAt == nil {
		r := remainingUntil(now, *ticket.ResponseDue, critical)
		status.Response = &r
	}
	if ticket.ResolutionDue != nil {
		r := remainingUntil(now, *ticket.ResolutionDue, critical)
		status.Resolution = &r
	}
	status.Violated = ticket.IsSLAViolated || Violated(now, ticket)
	return status
}

// Violated reports whether an open ticket has missed a deadline.
func Violated(now time.Time, ticket domain.Ticket) bool {
	if ticket.Status.Terminal() {
		return false
	}
	if ticket.RespondedAt == nil && IsBreached(now, ticket.ResponseDue) {
		return true
	}
	return IsBreached(now, ticket.ResolutionDue)
}
