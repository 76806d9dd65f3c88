package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-sync/internal/cache"
	"github.com/spec-kit/ticket-sync/internal/config"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/events"
	"github.com/spec-kit/ticket-sync/internal/repository"
	"github.com/spec-kit/ticket-sync/internal/sla"
)

var (
	agent     = domain.Identity{ID: "agent-1", Name: "Ada", Role: domain.RoleAgent}
	requester = domain.Identity{ID: "user-1", Name: "Uma", Role: domain.RoleRequester}
	stranger  = domain.Identity{ID: "user-2", Name: "Sam", Role: domain.RoleRequester}
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testCacheTTL() config.CacheConfig {
	return config.CacheConfig{
		AlertsTTL:       time.Minute,
		TicketListTTL:   time.Minute,
		TicketDetailTTL: time.Minute,
		CommentsTTL:     time.Minute,
		AuditTTL:        time.Minute,
	}
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(cache.NewMemoryStore(), cache.Options{})
	require.NoError(t, err)
	return c
}

func newTestTable(t *testing.T) *sla.Table {
	t.Helper()
	table, err := sla.NewTable(sla.DefaultRules())
	require.NoError(t, err)
	return table
}

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) handler(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordedEvents) ofType(t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func recordAll(d events.Dispatcher) *recordedEvents {
	rec := &recordedEvents{}
	for _, t := range []events.EventType{
		events.EventTicketCreated,
		events.EventTicketUpdated,
		events.EventCommentAdded,
		events.EventAlertsAcknowledged,
		events.EventSLABreached,
	} {
		d.Subscribe(t, rec.handler)
	}
	return rec
}

type fakeTicketRepo struct {
	mu      sync.Mutex
	tickets map[string]domain.Ticket
	audit   []domain.AuditEntry
	gets    int
	lists   int
}

var _ repository.TicketRepository = (*fakeTicketRepo)(nil)

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: map[string]domain.Ticket{}}
}

func (r *fakeTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket.ID = uuid.NewString()
	ticket.CreatedAt = ticket.PriorityChangedAt
	ticket.UpdatedAt = ticket.PriorityChangedAt
	r.tickets[ticket.ID] = *ticket
	return nil
}

func (r *fakeTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	t, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (r *fakeTicketRepo) matching(filter repository.TicketFilter) []domain.Ticket {
	var out []domain.Ticket
	for _, t := range r.tickets {
		if filter.RequesterID != nil && t.RequesterID != *filter.RequesterID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fakeTicketRepo) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists++
	all := r.matching(filter)
	if filter.Offset >= len(all) {
		return nil, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[filter.Offset:end], nil
}

func (r *fakeTicketRepo) Count(_ context.Context, filter repository.TicketFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.matching(filter))), nil
}

func (r *fakeTicketRepo) UpdateWithAudit(_ context.Context, id string, mutate repository.TicketMutation) (*domain.Ticket, []domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.tickets[id]
	if !ok {
		return nil, nil, pgx.ErrNoRows
	}
	next, entries, err := mutate(current)
	if err != nil {
		return nil, nil, err
	}
	if len(entries) == 0 {
		return &current, nil, nil
	}
	for i := range entries {
		entries[i].ID = uuid.NewString()
	}
	r.tickets[id] = next
	r.audit = append(r.audit, entries...)
	return &next, entries, nil
}

func (r *fakeTicketRepo) MarkResponded(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok || t.RespondedAt != nil {
		return false, nil
	}
	t.RespondedAt = &at
	r.tickets[id] = t
	return true, nil
}

func (r *fakeTicketRepo) ListSLACandidates(_ context.Context, now time.Time, _ int) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Ticket
	for _, t := range r.tickets {
		if !t.IsSLAViolated && sla.Violated(now, t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeTicketRepo) MarkSLAViolated(_ context.Context, ids []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		t, ok := r.tickets[id]
		if !ok || t.IsSLAViolated {
			continue
		}
		t.IsSLAViolated = true
		r.tickets[id] = t
		n++
	}
	return n, nil
}

func (r *fakeTicketRepo) get(id string) domain.Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tickets[id]
}

type fakeAuditRepo struct {
	tickets *fakeTicketRepo
}

func (r fakeAuditRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.AuditEntry, error) {
	r.tickets.mu.Lock()
	defer r.tickets.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range r.tickets.audit {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r fakeAuditRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.tickets.mu.Lock()
	defer r.tickets.mu.Unlock()
	kept := r.tickets.audit[:0]
	var n int64
	for _, e := range r.tickets.audit {
		if e.ChangedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.tickets.audit = kept
	return n, nil
}

type fakeCommentRepo struct {
	mu       sync.Mutex
	comments []domain.Comment
}

func (r *fakeCommentRepo) Create(_ context.Context, c *domain.Comment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = uuid.NewString()
	c.CreatedAt = time.Date(2026, 3, 2, 9, 10, 0, 0, time.UTC)
	r.comments = append(r.comments, *c)
	return nil
}

func (r *fakeCommentRepo) ListByTicket(_ context.Context, ticketID string, includeInternal bool) ([]domain.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Comment
	for _, c := range r.comments {
		if c.TicketID == ticketID && (includeInternal || !c.Internal) {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeAlertRepo struct {
	mu     sync.Mutex
	alerts map[string]domain.Alert
	lists  int
}

func newFakeAlertRepo(ids ...string) *fakeAlertRepo {
	r := &fakeAlertRepo{alerts: map[string]domain.Alert{}}
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range ids {
		r.alerts[id] = domain.Alert{
			EventID:   id,
			Name:      "disk full",
			Status:    domain.AlertStatusProblem,
			ProblemAt: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return r
}

func (r *fakeAlertRepo) current() []domain.Alert {
	var out []domain.Alert
	for _, a := range r.alerts {
		if a.Status == domain.AlertStatusProblem {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}

func (r *fakeAlertRepo) ListCurrent(_ context.Context, limit, offset int) ([]domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists++
	all := r.current()
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *fakeAlertRepo) CountCurrent(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.current())), nil
}

func (r *fakeAlertRepo) Acknowledge(_ context.Context, ids []string, by string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		a, ok := r.alerts[id]
		if !ok || a.AcknowledgedAt != nil {
			continue
		}
		stamp, who := at, by
		a.AcknowledgedAt, a.AcknowledgedBy = &stamp, &who
		r.alerts[id] = a
		n++
	}
	return n, nil
}

func (r *fakeAlertRepo) SyncActive(_ context.Context, active []domain.Alert, at time.Time) (repository.AlertSyncResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keep := map[string]struct{}{}
	for _, a := range active {
		keep[a.EventID] = struct{}{}
		existing, ok := r.alerts[a.EventID]
		if ok {
			a.AcknowledgedAt, a.AcknowledgedBy = existing.AcknowledgedAt, existing.AcknowledgedBy
		}
		a.Status = domain.AlertStatusProblem
		r.alerts[a.EventID] = a
	}
	var resolved int64
	for id, a := range r.alerts {
		if _, ok := keep[id]; ok || a.Status != domain.AlertStatusProblem {
			continue
		}
		stamp := at
		a.Status, a.ResolvedAt = domain.AlertStatusResolved, &stamp
		r.alerts[id] = a
		resolved++
	}
	return repository.AlertSyncResult{Upserted: int64(len(active)), Resolved: resolved}, nil
}

func (r *fakeAlertRepo) get(id string) domain.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alerts[id]
}
