package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmu-hub/console/internal/accounts"
	"github.com/danmu-hub/console/internal/auth"
	"github.com/danmu-hub/console/internal/observability"
	"github.com/danmu-hub/console/internal/principal"
	"github.com/danmu-hub/console/internal/shared"
	"github.com/danmu-hub/console/internal/tokens"
)

type staticPrincipals map[int64]principal.Principal

func (s staticPrincipals) LoadPrincipal(_ context.Context, id int64) (principal.Principal, error) {
	p, ok := s[id]
	if !ok {
		return principal.Principal{}, shared.ErrNotFound
	}
	return p, nil
}

type testServer struct {
	http.Handler
	sessions *shared.SessionStore
	issuer   *auth.Issuer
}

// bearer opens a session for userID and returns its Authorization header.
func (s *testServer) bearer(t *testing.T, userID int64) string {
	t.Helper()
	sess, err := s.sessions.Create(context.Background(), userID, "203.0.113.1", "test")
	require.NoError(t, err)
	token, err := s.issuer.Issue(userID, sess.ID, sess.CreatedAt, sess.ExpiresAt)
	require.NoError(t, err)
	return "Bearer " + token
}

func newTestRouter(t *testing.T, perMinute int) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	issuer, err := auth.NewIssuer("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	sessions := shared.NewSessionStore(client, time.Hour)
	service := auth.NewService(nil, sessions, issuer)
	principals := principal.NewStore(staticPrincipals{
		5: {ID: 5, Username: "carol"},
	}, client, time.Minute, nil)

	router := NewRouter(RouterParams{
		Config:          &Config{AppEnv: "test", PublicRatePerMin: perMinute},
		AuthHandler:     auth.NewHandler(nil, service, nil),
		Principals:      principals.Middleware,
		AccountsHandler: accounts.NewHandler(nil, accounts.NewService(nil, principals, sessions, nil, nil)),
		TokensHandler:   tokens.NewHandler(nil, tokens.NewService(nil, nil, nil)),
		Metrics:         observability.NewMetrics(),
	})
	return &testServer{Handler: router, sessions: sessions, issuer: issuer}
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, 10)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestHealthzReportsFailingCheck(t *testing.T) {
	router := NewRouter(RouterParams{
		Config:      &Config{AppEnv: "test"},
		AuthHandler: auth.NewHandler(nil, nil, nil),
		Health: map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"postgres":"up","redis":"down"}}`, rec.Body.String())
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	router := newTestRouter(t, 10)
	paths := []string{"/api/ui/me", "/api/ui/home/users", "/api/ui/settings/users", "/api/ui/bullet/users", "/api/ui/tokens"}
	for _, path := range paths {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)

		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestBearerSessionReachesProtectedRoutes(t *testing.T) {
	router := newTestRouter(t, 10)
	header := router.bearer(t, 5)

	req := httptest.NewRequest(http.MethodGet, "/api/ui/me", nil)
	req.Header.Set("Authorization", header)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var me accounts.Me
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "carol", me.Username)

	// carol holds no editUsers, so the guard answers instead of the auth layer.
	req = httptest.NewRequest(http.MethodGet, "/api/ui/home/users", nil)
	req.Header.Set("Authorization", header)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBearerForUnknownUserIsRejected(t *testing.T) {
	router := newTestRouter(t, 10)
	req := httptest.NewRequest(http.MethodGet, "/api/ui/me", nil)
	req.Header.Set("Authorization", router.bearer(t, 77))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPublicEndpointsAreRateLimited(t *testing.T) {
	router := newTestRouter(t, 2)

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/ui/auth/token", nil)
		req.RemoteAddr = "203.0.113.9:5000"
		router.ServeHTTP(last, req)
	}
	require.Equal(t, http.StatusTooManyRequests, last.Code)

	var problem map[string]any
	require.NoError(t, json.Unmarshal(last.Body.Bytes(), &problem))
	assert.Equal(t, "Too Many Requests", problem["title"])
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, 10)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
