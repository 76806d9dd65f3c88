package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/cache"
	"github.com/spec-kit/ticket-sync/internal/config"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/events"
	"github.com/spec-kit/ticket-sync/internal/repository"
	apperrors "github.com/spec-kit/ticket-sync/pkg/util/errorutil"
)

const maxCommentLength = 10000

// CommentService manages ticket conversation threads.
type CommentService struct {
	tickets    repository.TicketRepository
	comments   repository.CommentRepository
	cache      *cache.Cache
	dispatcher events.Dispatcher
	logger     *zap.Logger
	ttl        config.CacheConfig
	now        func() time.Time
}

// CommentDependencies bundles collaborators for the comment service.
type CommentDependencies struct {
	TicketRepo  repository.TicketRepository
	CommentRepo repository.CommentRepository
	Cache       *cache.Cache
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	CacheTTL    config.CacheConfig
	Clock       func() time.Time
}

// CommentInput is a new thread message.
type CommentInput struct {
	Body     string
	Internal bool
}

// NewCommentService constructs the service.
func NewCommentService(deps CommentDependencies) *CommentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &CommentService{
		tickets:    deps.TicketRepo,
		comments:   deps.CommentRepo,
		cache:      deps.Cache,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		ttl:        deps.CacheTTL,
		now:        clock,
	}
}

// AddComment appends to a ticket's thread. The first staff reply on a ticket
// stops its response clock.
func (s *CommentService) AddComment(ctx context.Context, actor domain.Identity, ticketID string, input CommentInput) (*domain.Comment, error) {
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, apperrors.NewValidationError("comment body is required", nil)
	}
	if len(body) > maxCommentLength {
		return nil, apperrors.NewValidationError("comment too long", map[string]any{"max": maxCommentLength})
	}
	if input.Internal && !actor.Role.Staff() {
		return nil, apperrors.NewForbidden("only staff can post internal notes")
	}

	ticket, err := s.ticketFor(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}

	comment := &domain.Comment{
		TicketID:   ticket.ID,
		AuthorID:   actor.ID,
		AuthorName: actor.Name,
		AuthorRole: actor.Role,
		Body:       body,
		Internal:   input.Internal,
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, apperrors.MapError(err)
	}

	prefixes := cache.CommentPrefixes(ticket.ID)
	if actor.Role.Staff() && !input.Internal && ticket.RespondedAt == nil {
		marked, err := s.tickets.MarkResponded(ctx, ticket.ID, comment.CreatedAt)
		if err != nil {
			s.logger.Warn("mark responded failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
		} else if marked {
			prefixes = append(prefixes, cache.TicketPrefixes(ticket.ID)...)
		}
	}
	s.cache.InvalidatePrefixes(ctx, prefixes...)

	publish(ctx, s.dispatcher, s.logger, events.New(events.EventCommentAdded, ticket.ID, actor, s.now(),
		events.CommentAddedPayload{Comment: *comment, RequesterID: ticket.RequesterID}))
	return comment, nil
}

// ListComments returns the thread; internal notes are visible to staff only.
func (s *CommentService) ListComments(ctx context.Context, actor domain.Identity, ticketID string) ([]domain.Comment, error) {
	ticket, err := s.ticketFor(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}
	ticketID = ticket.ID
	includeInternal := actor.Role.Staff()
	comments, err := cache.GetOrSetQuery(ctx, s.cache, cache.TicketNamespace(cache.NamespaceTicketComments, ticketID),
		cache.Params{"internal": includeInternal}, s.ttl.CommentsTTL,
		func(ctx context.Context) ([]domain.Comment, error) {
			return s.comments.ListByTicket(ctx, ticketID, includeInternal)
		})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if comments == nil {
		comments = []domain.Comment{}
	}
	return comments, nil
}

func (s *CommentService) ticketFor(ctx context.Context, actor domain.Identity, ticketID string) (*domain.Ticket, error) {
	ticketID, err := canonicalTicketID(ticketID)
	if err != nil {
		return nil, err
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	if !canView(actor, *ticket) {
		return nil, apperrors.NewForbidden("access denied")
	}
	// The row may echo the id back in whatever case the store keeps it.
	canonical := *ticket
	canonical.ID = ticketID
	return &canonical, nil
}
