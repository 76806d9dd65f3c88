package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("s3cret", 5)
	id := domain.Identity{ID: "agent-1", Name: "Ada", Role: domain.RoleAgent}

	token, expires, err := tm.GenerateToken(id)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), expires, time.Minute)

	got, err := tm.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestParseToken_Rejects(t *testing.T) {
	tm := NewTokenManager("s3cret", 5)

	other := NewTokenManager("different", 5)
	foreign, _, err := other.GenerateToken(domain.Identity{ID: "x", Role: domain.RoleAgent})
	require.NoError(t, err)
	_, err = tm.ParseToken(foreign)
	assert.Error(t, err, "wrong secret")

	noRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "x"},
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = tm.ParseToken(noRole)
	assert.Error(t, err, "missing role")

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role: domain.RoleAgent,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "x",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = tm.ParseToken(expired)
	assert.Error(t, err, "expired")
}

func newTestApp(handlers ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(http.StatusUnauthorized).SendString(err.Error())
		},
	})
	handlers = append(handlers, func(c *fiber.Ctx) error {
		id, _ := IdentityFromContext(c)
		return c.SendString(id.ID)
	})
	app.Get("/", handlers...)
	return app
}

func TestAuthMiddleware(t *testing.T) {
	tm := NewTokenManager("s3cret", 5)
	app := newTestApp(NewAuthMiddleware(tm).Handle)
	token, _, err := tm.GenerateToken(domain.Identity{ID: "user-1", Role: domain.RoleRequester})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequireAPIKey(t *testing.T) {
	app := newTestApp(RequireAPIKey("k3y"))

	for name, tc := range map[string]struct {
		header string
		status int
	}{
		"valid":   {header: "k3y", status: http.StatusOK},
		"wrong":   {header: "nope", status: http.StatusUnauthorized},
		"missing": {header: "", status: http.StatusUnauthorized},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(APIKeyHeader, tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}
