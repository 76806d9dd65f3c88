package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/audit"
	"github.com/spec-kit/ticket-sync/internal/cache"
	"github.com/spec-kit/ticket-sync/internal/config"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/events"
	"github.com/spec-kit/ticket-sync/internal/repository"
	"github.com/spec-kit/ticket-sync/internal/sla"
	apperrors "github.com/spec-kit/ticket-sync/pkg/util/errorutil"
)

const (
	defaultTicketPageSize = 20
	maxTicketPageSize     = 100
	slaSweepBatch         = 500
)

// TicketService coordinates ticket workflows.
type TicketService struct {
	tickets    repository.TicketRepository
	audits     repository.AuditRepository
	cache      *cache.Cache
	sla        *sla.Table
	dispatcher events.Dispatcher
	logger     *zap.Logger
	ttl        config.CacheConfig
	now        func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	AuditRepo  repository.AuditRepository
	Cache      *cache.Cache
	SLA        *sla.Table
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	CacheTTL   config.CacheConfig
	Clock      func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title        string
	Description  string
	Priority     domain.TicketPriority
	DepartmentID *string
	CategoryID   *string
}

// TicketListFilter describes listing filters.
type TicketListFilter struct {
	AssigneeID   *string
	DepartmentID *string
	CategoryID   *string
	Statuses     []domain.TicketStatus
	Priorities   []domain.TicketPriority
	SearchTerm   *string
	Violated     *bool
	Page         int
	PageSize     int
}

// TicketPage is one page of a ticket listing.
type TicketPage struct {
	Items    []domain.Ticket
	Total    int64
	Page     int
	PageSize int
}

// TicketView is a ticket with its SLA evaluated at read time.
type TicketView struct {
	Ticket domain.Ticket
	SLA    sla.Status
}

// TicketUpdate is the outcome of an edit.
type TicketUpdate struct {
	Ticket domain.Ticket
	Audit  []domain.AuditEntry
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		audits:     deps.AuditRepo,
		cache:      deps.Cache,
		sla:        deps.SLA,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		ttl:        deps.CacheTTL,
		now:        clock,
	}
}

// CreateTicket files a ticket and stamps its SLA deadlines.
func (s *TicketService) CreateTicket(ctx context.Context, actor domain.Identity, input TicketCreateInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewValidationError("title is required", nil)
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMinor
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": priority})
	}

	now := s.now()
	due := s.sla.ComputeDueDates(priority, now)
	ticket := &domain.Ticket{
		Title:             title,
		Description:       strings.TrimSpace(input.Description),
		Status:            domain.TicketStatusOpen,
		Priority:          priority,
		RequesterID:       actor.ID,
		DepartmentID:      input.DepartmentID,
		CategoryID:        input.CategoryID,
		ResponseDue:       due.ResponseDue,
		ResolutionDue:     due.ResolutionDue,
		PriorityChangedAt: now,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.cache.InvalidatePrefixes(ctx, cache.TicketListPrefixes()...)
	s.publishEvent(ctx, events.New(events.EventTicketCreated, ticket.ID, actor, now,
		events.TicketCreatedPayload{Ticket: *ticket}))
	return ticket, nil
}

// GetTicket returns a ticket the actor may see, with a fresh SLA evaluation.
func (s *TicketService) GetTicket(ctx context.Context, actor domain.Identity, id string) (*TicketView, error) {
	ticket, err := s.loadTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, ticket) {
		return nil, apperrors.NewForbidden("access denied")
	}
	status := s.sla.Evaluate(s.now(), ticket)
	ticket.IsSLAViolated = status.Violated
	return &TicketView{Ticket: ticket, SLA: status}, nil
}

// ListTickets returns a cached page of tickets. Requesters only see their own.
func (s *TicketService) ListTickets(ctx context.Context, actor domain.Identity, filter TicketListFilter) (*TicketPage, error) {
	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultTicketPageSize
	}
	if pageSize > maxTicketPageSize {
		pageSize = maxTicketPageSize
	}

	repoFilter := repository.TicketFilter{
		AssigneeID:   filter.AssigneeID,
		DepartmentID: filter.DepartmentID,
		CategoryID:   filter.CategoryID,
		Statuses:     filter.Statuses,
		Priorities:   filter.Priorities,
		SearchTerm:   filter.SearchTerm,
		Violated:     filter.Violated,
		Limit:        pageSize,
		Offset:       (page - 1) * pageSize,
	}
	if !actor.Role.Staff() {
		requester := actor.ID
		repoFilter.RequesterID = &requester
	}

	result, err := cache.GetOrSetQuery(ctx, s.cache, cache.NamespaceTicketList,
		cache.Params{"filter": repoFilter}, s.ttl.TicketListTTL,
		func(ctx context.Context) (TicketPage, error) {
			items, err := s.tickets.List(ctx, repoFilter)
			if err != nil {
				return TicketPage{}, err
			}
			total, err := s.tickets.Count(ctx, repoFilter)
			if err != nil {
				return TicketPage{}, err
			}
			return TicketPage{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
		})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if result.Items == nil {
		result.Items = []domain.Ticket{}
	}
	return &result, nil
}

// UpdateTicket applies patch under a row lock, writes one audit entry per
// changed field, and recomputes deadlines only when the priority changes.
func (s *TicketService) UpdateTicket(ctx context.Context, actor domain.Identity, id string, patch domain.TicketPatch) (*TicketUpdate, error) {
	if !actor.Role.Staff() {
		return nil, apperrors.NewForbidden("staff role required")
	}
	id, err := canonicalTicketID(id)
	if err != nil {
		return nil, err
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	now := s.now()
	updated, entries, err := s.tickets.UpdateWithAudit(ctx, id, func(current domain.Ticket) (domain.Ticket, []domain.AuditEntry, error) {
		next := patch.Apply(current)
		if next.Priority != current.Priority {
			due := s.sla.ComputeDueDates(next.Priority, now)
			next.ResponseDue = due.ResponseDue
			next.ResolutionDue = due.ResolutionDue
			next.PriorityChangedAt = now
			next.IsSLAViolated = false
		}
		return next, audit.Diff(current, next, actor.ID, now), nil
	})
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"id": id})
		}
		return nil, apperrors.MapError(err)
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}

	if len(entries) > 0 {
		s.cache.InvalidatePrefixes(ctx, cache.TicketPrefixes(id)...)
		s.publishEvent(ctx, events.New(events.EventTicketUpdated, id, actor, now,
			events.TicketUpdatedPayload{Ticket: *updated, Audit: entries}))
	}
	return &TicketUpdate{Ticket: *updated, Audit: entries}, nil
}

// ListAudit returns the change log of a ticket, oldest first.
func (s *TicketService) ListAudit(ctx context.Context, actor domain.Identity, id string) ([]domain.AuditEntry, error) {
	if !actor.Role.Staff() {
		return nil, apperrors.NewForbidden("staff role required")
	}
	id, err := canonicalTicketID(id)
	if err != nil {
		return nil, err
	}
	entries, err := cache.GetOrSetQuery(ctx, s.cache, cache.TicketNamespace(cache.NamespaceTicketAudit, id), nil, s.ttl.AuditTTL,
		func(ctx context.Context) ([]domain.AuditEntry, error) {
			return s.audits.ListByTicket(ctx, id)
		})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	return entries, nil
}

// SLAStatus evaluates a ticket's deadlines for live countdowns.
func (s *TicketService) SLAStatus(ctx context.Context, id string) (sla.Status, error) {
	ticket, err := s.loadTicket(ctx, id)
	if err != nil {
		return sla.Status{}, err
	}
	return s.sla.Evaluate(s.now(), ticket), nil
}

// SweepSLA flags open tickets whose deadlines have passed and reports how
// many were newly marked.
func (s *TicketService) SweepSLA(ctx context.Context) (int64, error) {
	now := s.now()
	candidates, err := s.tickets.ListSLACandidates(ctx, now, slaSweepBatch)
	if err != nil {
		return 0, err
	}

	var (
		ids      []string
		breached []domain.Ticket
		prefixes = cache.TicketListPrefixes()
	)
	for _, ticket := range candidates {
		if !sla.Violated(now, ticket) {
			continue
		}
		ids = append(ids, ticket.ID)
		breached = append(breached, ticket)
		prefixes = append(prefixes,
			cache.Prefix(cache.TicketNamespace(cache.NamespaceTicketDetail, ticket.ID)))
	}
	if len(ids) == 0 {
		return 0, nil
	}

	marked, err := s.tickets.MarkSLAViolated(ctx, ids)
	if err != nil {
		return 0, err
	}
	s.cache.InvalidatePrefixes(ctx, prefixes...)

	system := domain.Identity{ID: "system", Name: "SLA sweep"}
	for _, ticket := range breached {
		ticket.IsSLAViolated = true
		s.publishEvent(ctx, events.New(events.EventSLABreached, ticket.ID, system, now,
			events.SLABreachedPayload{Ticket: ticket}))
	}
	s.logger.Info("sla sweep", zap.Int("candidates", len(candidates)), zap.Int64("marked", marked))
	return marked, nil
}

// loadTicket reads a ticket through the detail cache.
func (s *TicketService) loadTicket(ctx context.Context, id string) (domain.Ticket, error) {
	id, err := canonicalTicketID(id)
	if err != nil {
		return domain.Ticket{}, err
	}
	ticket, err := cache.GetOrSetQuery(ctx, s.cache, cache.TicketNamespace(cache.NamespaceTicketDetail, id), nil, s.ttl.TicketDetailTTL,
		func(ctx context.Context) (domain.Ticket, error) {
			t, err := s.tickets.GetByID(ctx, id)
			if err != nil {
				return domain.Ticket{}, err
			}
			return *t, nil
		})
	if err != nil {
		if apperrors.IsNotFound(err) {
			return domain.Ticket{}, apperrors.NewNotFound("ticket", map[string]any{"id": id})
		}
		return domain.Ticket{}, apperrors.MapError(err)
	}
	return ticket, nil
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	publish(ctx, s.dispatcher, s.logger, event)
}

func publish(ctx context.Context, dispatcher events.Dispatcher, logger *zap.Logger, event events.Event) {
	if dispatcher == nil {
		return
	}
	if err := dispatcher.Publish(ctx, event); err != nil {
		logger.Warn("event handlers failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func canView(actor domain.Identity, ticket domain.Ticket) bool {
	return actor.Role.Staff() || ticket.RequesterID == actor.ID
}

// canonicalTicketID rewrites any spelling uuid.Parse accepts (upper case,
// braces, urn prefix, bare hex) to the lower-case hyphenated form. Cache keys,
// invalidation prefixes, events and rooms are all derived from this value.
func canonicalTicketID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", apperrors.NewValidationError("invalid ticket id", map[string]any{"id": id})
	}
	return parsed.String(), nil
}

func validatePatch(patch domain.TicketPatch) error {
	details := map[string]any{}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		details["title"] = "must not be empty"
	}
	if patch.Status != nil && !patch.Status.Valid() {
		details["status"] = *patch.Status
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		details["priority"] = *patch.Priority
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid ticket update", details)
	}
	return nil
}
