package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/api/http/handlers"
	"github.com/spec-kit/ticket-sync/internal/auth"
	"github.com/spec-kit/ticket-sync/internal/cache"
	"github.com/spec-kit/ticket-sync/internal/config"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/events"
	"github.com/spec-kit/ticket-sync/internal/observability"
	"github.com/spec-kit/ticket-sync/internal/repository"
	"github.com/spec-kit/ticket-sync/internal/service"
)

const testAPIKey = "monitoring-key"

type memAlertRepo struct {
	mu     sync.Mutex
	alerts map[string]*domain.Alert
}

func newMemAlertRepo(n int) *memAlertRepo {
	r := &memAlertRepo{alerts: map[string]*domain.Alert{}}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("ev-%03d", i)
		r.alerts[id] = &domain.Alert{EventID: id, Name: "disk full", Status: domain.AlertStatusProblem, ProblemAt: base.Add(time.Duration(i) * time.Minute)}
	}
	return r
}

func (r *memAlertRepo) current() []domain.Alert {
	out := make([]domain.Alert, 0, len(r.alerts))
	for _, a := range r.alerts {
		if a.Status == domain.AlertStatusProblem {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}

func (r *memAlertRepo) ListCurrent(_ context.Context, limit, offset int) ([]domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
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

func (r *memAlertRepo) CountCurrent(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.current())), nil
}

func (r *memAlertRepo) Acknowledge(_ context.Context, ids []string, by string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if a, ok := r.alerts[id]; ok && a.AcknowledgedAt == nil {
			stamp, who := at, by
			a.AcknowledgedAt, a.AcknowledgedBy = &stamp, &who
			n++
		}
	}
	return n, nil
}

func (r *memAlertRepo) SyncActive(_ context.Context, active []domain.Alert, _ time.Time) (repository.AlertSyncResult, error) {
	return repository.AlertSyncResult{Upserted: int64(len(active))}, nil
}

func newTestApp(t *testing.T, alertCount int) (*fiber.App, *auth.TokenManager) {
	t.Helper()
	c, err := cache.New(cache.NewMemoryStore(), cache.Options{})
	require.NoError(t, err)

	alerts := service.NewAlertService(service.AlertDependencies{
		AlertRepo:  newMemAlertRepo(alertCount),
		Cache:      c,
		Dispatcher: events.NewInMemoryDispatcher(),
		Config:     config.AlertsConfig{DefaultPageSize: 20, MaxPageSize: 100},
		CacheTTL:   time.Minute,
	})
	tokens := auth.NewTokenManager("test-secret", 5)
	metrics := observability.NewMetrics()

	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), metrics, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("ticket-sync", "test", metrics, map[string]handlers.Pinger{"cache": c}),
		Tickets:        handlers.NewTicketsHandler(nil, nil),
		Alerts:         handlers.NewAlertsHandler(alerts),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		AlertsAPIKey:   testAPIKey,
	})
	return app, tokens
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code      string `json:"code"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func do(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

var withKey = map[string]string{auth.APIKeyHeader: testAPIKey}

func TestAlerts_RequireAPIKey(t *testing.T) {
	app, _ := newTestApp(t, 1)

	status, env := do(t, app, "GET", "/alerts/current", "", nil)
	assert.Equal(t, 401, status)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	status, _ = do(t, app, "GET", "/alerts/current", "", map[string]string{auth.APIKeyHeader: "guess"})
	assert.Equal(t, 401, status)
}

func TestAlerts_PageSizeIsCapped(t *testing.T) {
	app, _ := newTestApp(t, 150)

	status, env := do(t, app, "GET", "/alerts/current?page=1&pageSize=1000", "", withKey)
	require.Equal(t, 200, status)

	var page struct {
		Total    int64             `json:"total"`
		Page     int               `json:"page"`
		PageSize int               `json:"pageSize"`
		Items    []json.RawMessage `json:"items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(150), page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 100, page.PageSize)
	assert.Len(t, page.Items, 100)
}

func TestAlerts_MalformedPaginationRejected(t *testing.T) {
	app, _ := newTestApp(t, 3)

	for _, q := range []string{"take=abc", "take=0", "page=-1", "pageSize=x"} {
		status, env := do(t, app, "GET", "/alerts/current?"+q, "", withKey)
		assert.Equal(t, 400, status, q)
		assert.Equal(t, "VALIDATION_FAILED", env.Error.Code, q)
	}
}

func TestAlerts_AcknowledgeIsIdempotent(t *testing.T) {
	app, _ := newTestApp(t, 3)

	status, env := do(t, app, "POST", "/alerts/acknowledge", `{"eventIds":[],"user":"ops"}`, withKey)
	assert.Equal(t, 400, status)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	status, env = do(t, app, "POST", "/alerts/acknowledge", `{"eventIds":["ev-000","ev-001","nope"],"user":"ops"}`, withKey)
	require.Equal(t, 200, status)
	assert.JSONEq(t, `{"acknowledged":2}`, string(env.Data))

	status, env = do(t, app, "POST", "/alerts/acknowledge", `{"eventIds":["ev-000"],"user":"ops"}`, withKey)
	require.Equal(t, 200, status)
	assert.JSONEq(t, `{"acknowledged":0}`, string(env.Data))
}

func TestTickets_RequireBearerToken(t *testing.T) {
	app, _ := newTestApp(t, 0)

	status, env := do(t, app, "GET", "/tickets", "", nil)
	assert.Equal(t, 401, status)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
}

func TestTickets_EditRequiresStaff(t *testing.T) {
	app, tokens := newTestApp(t, 0)
	token, _, err := tokens.GenerateToken(domain.Identity{ID: "user-1", Role: domain.RoleRequester})
	require.NoError(t, err)

	status, env := do(t, app, "PATCH", "/tickets/abc", `{"status":"CLOSED"}`,
		map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, 403, status)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)
}

func TestHealth_LiveReadyAndUnknownRoute(t *testing.T) {
	app, _ := newTestApp(t, 0)

	status, _ := do(t, app, "GET", "/health/live", "", nil)
	assert.Equal(t, 200, status)

	status, _ = do(t, app, "GET", "/health/ready", "", nil)
	assert.Equal(t, 200, status)

	status, env := do(t, app, "GET", "/nowhere", "", nil)
	assert.Equal(t, 404, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestErrors_CarryRequestID(t *testing.T) {
	app, _ := newTestApp(t, 0)

	status, env := do(t, app, "GET", "/tickets", "", map[string]string{RequestIDHeader: "trace-123"})
	assert.Equal(t, 401, status)
	assert.Equal(t, "trace-123", env.Error.RequestID)

	_, env = do(t, app, "GET", "/tickets", "", nil)
	assert.NotEmpty(t, env.Error.RequestID)
}
