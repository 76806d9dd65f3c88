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

// AlertService serves and reconciles alerts from the monitoring system.
type AlertService struct {
	alerts     repository.AlertRepository
	cache      *cache.Cache
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.AlertsConfig
	ttl        time.Duration
	now        func() time.Time
}

// AlertDependencies bundles collaborators for the alert service.
type AlertDependencies struct {
	AlertRepo  repository.AlertRepository
	Cache      *cache.Cache
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Config     config.AlertsConfig
	CacheTTL   time.Duration
	Clock      func() time.Time
}

// PageQuery is the raw pagination input; nil fields were not supplied.
// Take is shorthand for the first page of that size.
type PageQuery struct {
	Page     *int
	PageSize *int
	Take     *int
}

// AlertPage is one page of current alerts.
type AlertPage struct {
	Total    int64
	Page     int
	PageSize int
	Items    []domain.Alert
}

// AckResult reports how many alerts an acknowledgment transitioned.
type AckResult struct {
	Acknowledged int64
}

// NewAlertService constructs the service.
func NewAlertService(deps AlertDependencies) *AlertService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	cfg := deps.Config
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	return &AlertService{
		alerts:     deps.AlertRepo,
		cache:      deps.Cache,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		cfg:        cfg,
		ttl:        deps.CacheTTL,
		now:        clock,
	}
}

// ResolvePage turns a PageQuery into a concrete page and size. Sizes above
// the configured maximum are capped rather than rejected.
func (s *AlertService) ResolvePage(q PageQuery) (page, pageSize int, err error) {
	page, pageSize = 1, s.cfg.DefaultPageSize
	details := map[string]any{}
	if q.Take != nil {
		if *q.Take < 1 {
			details["take"] = "must be a positive integer"
		}
		pageSize = *q.Take
	} else {
		if q.Page != nil {
			if *q.Page < 1 {
				details["page"] = "must be a positive integer"
			}
			page = *q.Page
		}
		if q.PageSize != nil {
			if *q.PageSize < 1 {
				details["pageSize"] = "must be a positive integer"
			}
			pageSize = *q.PageSize
		}
	}
	if len(details) > 0 {
		return 0, 0, apperrors.NewValidationError("invalid pagination", details)
	}
	if pageSize > s.cfg.MaxPageSize {
		pageSize = s.cfg.MaxPageSize
	}
	return page, pageSize, nil
}

// ListCurrent returns a cached page of open problems with the total count.
func (s *AlertService) ListCurrent(ctx context.Context, q PageQuery) (*AlertPage, error) {
	page, pageSize, err := s.ResolvePage(q)
	if err != nil {
		return nil, err
	}

	items, err := cache.GetOrSetQuery(ctx, s.cache, cache.NamespaceCurrentAlerts,
		cache.Params{"page": page, "pageSize": pageSize}, s.ttl,
		func(ctx context.Context) ([]domain.Alert, error) {
			return s.alerts.ListCurrent(ctx, pageSize, (page-1)*pageSize)
		})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	total, err := cache.GetOrSetQuery(ctx, s.cache, cache.NamespaceAlertCount, nil, s.ttl,
		func(ctx context.Context) (int64, error) {
			return s.alerts.CountCurrent(ctx)
		})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if items == nil {
		items = []domain.Alert{}
	}
	return &AlertPage{Total: total, Page: page, PageSize: pageSize, Items: items}, nil
}

// Acknowledge stamps the still-unacknowledged alerts among eventIDs.
// Unknown or already acknowledged ids are skipped, not reported as errors.
func (s *AlertService) Acknowledge(ctx context.Context, eventIDs []string, by string) (*AckResult, error) {
	ids, err := normalizeEventIDs(eventIDs)
	if err != nil {
		return nil, err
	}
	by = strings.TrimSpace(by)
	if by == "" {
		return nil, apperrors.NewValidationError("user is required", nil)
	}

	now := s.now()
	count, err := s.alerts.Acknowledge(ctx, ids, by, now)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if count > 0 {
		s.cache.InvalidatePrefixes(ctx, cache.AlertPrefixes()...)
		publish(ctx, s.dispatcher, s.logger, events.New(events.EventAlertsAcknowledged, "",
			domain.Identity{ID: by, Name: by}, now,
			events.AlertsAcknowledgedPayload{EventIDs: ids, Acknowledged: count, By: by}))
	}
	s.logger.Info("alerts acknowledged",
		zap.Int("requested", len(ids)), zap.Int64("acknowledged", count), zap.String("by", by))
	return &AckResult{Acknowledged: count}, nil
}

// Sync reconciles stored alerts with the monitoring feed's active problems.
func (s *AlertService) Sync(ctx context.Context, active []domain.Alert) (*repository.AlertSyncResult, error) {
	seen := make(map[string]struct{}, len(active))
	problems := make([]domain.Alert, 0, len(active))
	for i, alert := range active {
		alert.EventID = strings.TrimSpace(alert.EventID)
		if alert.EventID == "" {
			return nil, apperrors.NewValidationError("problem without event id", map[string]any{"index": i})
		}
		if _, dup := seen[alert.EventID]; dup {
			continue
		}
		seen[alert.EventID] = struct{}{}
		if alert.ProblemAt.IsZero() {
			alert.ProblemAt = s.now()
		}
		problems = append(problems, alert)
	}

	result, err := s.alerts.SyncActive(ctx, problems, s.now())
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	s.cache.InvalidatePrefixes(ctx, cache.AlertPrefixes()...)
	return &result, nil
}

func normalizeEventIDs(eventIDs []string) ([]string, error) {
	if len(eventIDs) == 0 {
		return nil, apperrors.NewValidationError("eventIds must be a non-empty list", nil)
	}
	seen := make(map[string]struct{}, len(eventIDs))
	ids := make([]string, 0, len(eventIDs))
	for i, id := range eventIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, apperrors.NewValidationError("eventIds must not contain blank entries", map[string]any{"index": i})
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}
