package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/events"
	"github.com/spec-kit/ticket-sync/internal/sla"
	apperrors "github.com/spec-kit/ticket-sync/pkg/util/errorutil"
)

type ticketFixture struct {
	svc    *TicketService
	repo   *fakeTicketRepo
	clock  *clock
	events *recordedEvents
}

func newTicketFixture(t *testing.T) *ticketFixture {
	t.Helper()
	repo := newFakeTicketRepo()
	clk := newClock()
	dispatcher := events.NewInMemoryDispatcher()
	rec := recordAll(dispatcher)
	svc := NewTicketService(TicketDependencies{
		TicketRepo: repo,
		AuditRepo:  fakeAuditRepo{tickets: repo},
		Cache:      newTestCache(t),
		SLA:        newTestTable(t),
		Dispatcher: dispatcher,
		CacheTTL:   testCacheTTL(),
		Clock:      clk.Now,
	})
	return &ticketFixture{svc: svc, repo: repo, clock: clk, events: rec}
}

func (f *ticketFixture) create(t *testing.T, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	ticket, err := f.svc.CreateTicket(context.Background(), requester, TicketCreateInput{
		Title:       "VPN down",
		Description: "cannot connect from home",
		Priority:    priority,
	})
	require.NoError(t, err)
	return ticket
}

func statusPtr(s domain.TicketStatus) *domain.TicketStatus       { return &s }
func priorityPtr(p domain.TicketPriority) *domain.TicketPriority { return &p }

func TestCreateTicket_StampsDeadlines(t *testing.T) {
	f := newTicketFixture(t)
	created := f.clock.Now()

	ticket := f.create(t, domain.TicketPriorityCritical)

	require.NotNil(t, ticket.ResponseDue)
	require.NotNil(t, ticket.ResolutionDue)
	assert.True(t, ticket.ResponseDue.Equal(created.Add(30*time.Minute)))
	assert.True(t, ticket.ResolutionDue.Equal(created.Add(240*time.Minute)))
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, requester.ID, ticket.RequesterID)
	assert.Len(t, f.events.ofType(events.EventTicketCreated), 1)
}

func TestCreateTicket_Validation(t *testing.T) {
	f := newTicketFixture(t)

	_, err := f.svc.CreateTicket(context.Background(), requester, TicketCreateInput{Title: "  "})
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_FAILED", apperrors.ToDomainError(err).Code)

	_, err = f.svc.CreateTicket(context.Background(), requester, TicketCreateInput{Title: "x", Priority: "URGENT"})
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_FAILED", apperrors.ToDomainError(err).Code)
}

func TestUpdateTicket_StatusChangeWritesSingleAuditEntry(t *testing.T) {
	f := newTicketFixture(t)
	ticket := f.create(t, domain.TicketPriorityMajor)
	originalDue := *ticket.ResolutionDue
	f.clock.Advance(10 * time.Minute)

	res, err := f.svc.UpdateTicket(context.Background(), agent, ticket.ID, domain.TicketPatch{
		Status: statusPtr(domain.TicketStatusResolved),
	})
	require.NoError(t, err)

	require.Len(t, res.Audit, 1)
	entry := res.Audit[0]
	assert.Equal(t, "status", entry.Field)
	assert.Equal(t, "OPEN", *entry.OldValue)
	assert.Equal(t, "RESOLVED", *entry.NewValue)
	assert.Equal(t, agent.ID, entry.ChangedBy)
	assert.True(t, entry.ChangedAt.Equal(f.clock.Now()))

	assert.True(t, res.Ticket.ResolutionDue.Equal(originalDue), "deadlines must not move on unrelated edits")

	updated := f.events.ofType(events.EventTicketUpdated)
	require.Len(t, updated, 1)
	payload := updated[0].Payload.(events.TicketUpdatedPayload)
	assert.Len(t, payload.Audit, 1)
}

func TestUpdateTicket_PriorityChangeRecomputesDeadlines(t *testing.T) {
	f := newTicketFixture(t)
	ticket := f.create(t, domain.TicketPriorityMinor)
	f.clock.Advance(time.Hour)
	changedAt := f.clock.Now()

	res, err := f.svc.UpdateTicket(context.Background(), agent, ticket.ID, domain.TicketPatch{
		Priority: priorityPtr(domain.TicketPriorityCritical),
	})
	require.NoError(t, err)

	assert.True(t, res.Ticket.ResponseDue.Equal(changedAt.Add(30*time.Minute)))
	assert.True(t, res.Ticket.ResolutionDue.Equal(changedAt.Add(240*time.Minute)))
	assert.True(t, res.Ticket.PriorityChangedAt.Equal(changedAt))
	require.Len(t, res.Audit, 1)
	assert.Equal(t, "priority", res.Audit[0].Field)
}

func TestUpdateTicket_NoChangesNoAuditNoEvent(t *testing.T) {
	f := newTicketFixture(t)
	ticket := f.create(t, domain.TicketPriorityMinor)
	same := ticket.Title

	res, err := f.svc.UpdateTicket(context.Background(), agent, ticket.ID, domain.TicketPatch{Title: &same})
	require.NoError(t, err)

	assert.Empty(t, res.Audit)
	assert.Empty(t, f.events.ofType(events.EventTicketUpdated))
}

func TestUpdateTicket_Guards(t *testing.T) {
	f := newTicketFixture(t)
	ticket := f.create(t, domain.TicketPriorityMinor)
	ctx := context.Background()

	_, err := f.svc.UpdateTicket(ctx, requester, ticket.ID, domain.TicketPatch{Status: statusPtr(domain.TicketStatusClosed)})
	assert.Equal(t, "FORBIDDEN", apperrors.ToDomainError(err).Code)

	_, err = f.svc.UpdateTicket(ctx, agent, "not-a-uuid", domain.TicketPatch{})
	assert.Equal(t, "VALIDATION_FAILED", apperrors.ToDomainError(err).Code)

	_, err = f.svc.UpdateTicket(ctx, agent, ticket.ID, domain.TicketPatch{Status: statusPtr("DONE")})
	assert.Equal(t, "VALIDATION_FAILED", apperrors.ToDomainError(err).Code)

	_, err = f.svc.UpdateTicket(ctx, agent, "7f1d7f0e-7a43-4c55-9a3c-1d2b3c4d5e6f", domain.TicketPatch{Status: statusPtr(domain.TicketStatusClosed)})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGetTicket_ServedFromCacheUntilUpdate(t *testing.T) {
	f := newTicketFixture(t)
	ticket := f.create(t, domain.TicketPriorityMajor)
	ctx := context.Background()

	view, err := f.svc.GetTicket(ctx, requester, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, view.Ticket.Status)
	_, err = f.svc.GetTicket(ctx, requester, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.repo.gets)

	_, err = f.svc.UpdateTicket(ctx, agent, ticket.ID, domain.TicketPatch{Status: statusPtr(domain.TicketStatusInProgress)})
	require.NoError(t, err)

	view, err = f.svc.GetTicket(ctx, requester, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, view.Ticket.Status)
	assert.Equal(t, 2, f.repo.gets)
}

func TestGetTicket_EvaluatesSLA(t *testing.T) {
	f := newTicketFixture(t)
	ticket := f.create(t, domain.TicketPriorityCritical)
	f.clock.Advance(27 * time.Minute)

	view, err := f.svc.GetTicket(context.Background(), agent, ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, view.SLA.Response)
	assert.Equal(t, sla.StateCritical, view.SLA.Response.State)
	assert.False(t, view.Ticket.IsSLAViolated)

	f.clock.Advance(4 * time.Minute)
	view, err = f.svc.GetTicket(context.Background(), agent, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, sla.StateExpired, view.SLA.Response.State)
	assert.True(t, view.Ticket.IsSLAViolated)
}

func TestGetTicket_RequesterScoped(t *testing.T) {
	f := newTicketFixture(t)
	ticket := f.create(t, domain.TicketPriorityMinor)

	_, err := f.svc.GetTicket(context.Background(), stranger, ticket.ID)
	assert.Equal(t, "FORBIDDEN", apperrors.ToDomainError(err).Code)

	_, err = f.svc.GetTicket(context.Background(), agent, ticket.ID)
	assert.NoError(t, err)
}

func TestListTickets_CachedAndInvalidatedOnCreate(t *testing.T) {
	f := newTicketFixture(t)
	f.create(t, domain.TicketPriorityMinor)
	ctx := context.Background()

	page, err := f.svc.ListTickets(ctx, agent, TicketListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	_, err = f.svc.ListTickets(ctx, agent, TicketListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.repo.lists)

	f.create(t, domain.TicketPriorityMajor)
	page, err = f.svc.ListTickets(ctx, agent, TicketListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Len(t, page.Items, 2)
}

func TestListTickets_RequesterSeesOwnOnly(t *testing.T) {
	f := newTicketFixture(t)
	f.create(t, domain.TicketPriorityMinor)

	page, err := f.svc.ListTickets(context.Background(), stranger, TicketListFilter{PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(0), page.Total)
	assert.Empty(t, page.Items)
	assert.Equal(t, maxTicketPageSize, page.PageSize)
}

func TestListAudit(t *testing.T) {
	f := newTicketFixture(t)
	ticket := f.create(t, domain.TicketPriorityMinor)
	ctx := context.Background()

	_, err := f.svc.UpdateTicket(ctx, agent, ticket.ID, domain.TicketPatch{
		Status:   statusPtr(domain.TicketStatusInProgress),
		Priority: priorityPtr(domain.TicketPriorityMajor),
	})
	require.NoError(t, err)

	entries, err := f.svc.ListAudit(ctx, agent, ticket.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "status", entries[0].Field)
	assert.Equal(t, "priority", entries[1].Field)

	_, err = f.svc.ListAudit(ctx, requester, ticket.ID)
	assert.Equal(t, "FORBIDDEN", apperrors.ToDomainError(err).Code)
}

func TestSweepSLA_MarksBreachedTicketsOnce(t *testing.T) {
	f := newTicketFixture(t)
	late := f.create(t, domain.TicketPriorityCritical)
	onTime := f.create(t, domain.TicketPriorityRequest)
	ctx := context.Background()

	f.clock.Advance(31 * time.Minute)
	marked, err := f.svc.SweepSLA(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)
	assert.True(t, f.repo.get(late.ID).IsSLAViolated)
	assert.False(t, f.repo.get(onTime.ID).IsSLAViolated)

	breached := f.events.ofType(events.EventSLABreached)
	require.Len(t, breached, 1)
	assert.Equal(t, late.ID, breached[0].TicketID)

	marked, err = f.svc.SweepSLA(ctx)
	require.NoError(t, err)
	assert.Zero(t, marked)
}

func TestSLAStatus(t *testing.T) {
	f := newTicketFixture(t)
	ticket := f.create(t, domain.TicketPriorityMajor)
	f.clock.Advance(10 * time.Minute)

	status, err := f.svc.SLAStatus(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, status.TicketID)
	require.NotNil(t, status.Response)
	assert.Equal(t, 50*time.Minute, status.Response.Left)
}

func TestTicketIDSpellingsShareCacheEntries(t *testing.T) {
	f := newTicketFixture(t)
	ticket := f.create(t, domain.TicketPriorityMajor)
	ctx := context.Background()
	upper := strings.ToUpper(ticket.ID)

	view, err := f.svc.GetTicket(ctx, requester, upper)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, view.Ticket.Status)

	_, err = f.svc.UpdateTicket(ctx, agent, "urn:uuid:"+ticket.ID, domain.TicketPatch{Status: statusPtr(domain.TicketStatusResolved)})
	require.NoError(t, err)

	view, err = f.svc.GetTicket(ctx, requester, upper)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, view.Ticket.Status)

	updates := f.events.ofType(events.EventTicketUpdated)
	require.Len(t, updates, 1)
	assert.Equal(t, ticket.ID, updates[0].TicketID)

	entries, err := f.svc.ListAudit(ctx, agent, "{"+upper+"}")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
