package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmu-hub/console/internal/auth"
	"github.com/danmu-hub/console/internal/shared"
	_ "github.com/danmu-hub/console/internal/testing/guard"
)

type stubRepo struct {
	user *auth.User
}

func (s *stubRepo) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	if s.user == nil || !strings.EqualFold(s.user.Username, username) {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

type countingObserver struct {
	results []string
}

func (o *countingObserver) ObserveLogin(result string) {
	o.results = append(o.results, result)
}

func newAuthRouter(t *testing.T, repo auth.Repository) (http.Handler, *countingObserver) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	issuer, err := auth.NewIssuer("test-secret")
	require.NoError(t, err)
	observer := &countingObserver{}
	handler := auth.NewHandler(nil, auth.NewService(repo, shared.NewSessionStore(client, time.Hour), issuer), observer)

	r := chi.NewRouter()
	r.Route("/auth", handler.MountRoutes)
	r.With(handler.Authenticate).Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		sess, ok := shared.SessionFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]int64{"userId": sess.UserID})
	})
	return r, observer
}

func aliceRepo(t *testing.T) *stubRepo {
	t.Helper()
	hash, err := auth.HashPassword("correctpass")
	require.NoError(t, err)
	return &stubRepo{user: &auth.User{ID: 7, Username: "alice", PasswordHash: hash}}
}

func login(t *testing.T, router http.Handler, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func TestLoginInvalidCredentials(t *testing.T) {
	router, observer := newAuthRouter(t, aliceRepo(t))

	res := login(t, router, "alice", "wrongpass")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Contains(t, res.Body.String(), "Incorrect username or password")

	res = login(t, router, "nobody", "whatever1")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, []string{"invalid", "invalid"}, observer.results)
}

func TestLoginMissingFields(t *testing.T) {
	router, _ := newAuthRouter(t, aliceRepo(t))
	res := login(t, router, "", "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestLoginIssuesUsableToken(t *testing.T) {
	router, observer := newAuthRouter(t, aliceRepo(t))

	res := login(t, router, "ALICE", "correctpass")
	require.Equal(t, http.StatusOK, res.Code)
	var token auth.Token
	require.NoError(t, json.NewDecoder(res.Body).Decode(&token))
	assert.Equal(t, int64(7), token.UserID)
	assert.Equal(t, "bearer", token.TokenType)
	assert.NotEmpty(t, token.AccessToken)
	assert.Equal(t, []string{"success"}, observer.results)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	who := httptest.NewRecorder()
	router.ServeHTTP(who, req)
	require.Equal(t, http.StatusOK, who.Code)
	assert.JSONEq(t, `{"userId":7}`, who.Body.String())

	logoutReq := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	logoutReq.Header.Set("Authorization", "Bearer "+token.AccessToken)
	logout := httptest.NewRecorder()
	router.ServeHTTP(logout, logoutReq)
	require.Equal(t, http.StatusOK, logout.Code)

	again := httptest.NewRecorder()
	router.ServeHTTP(again, req)
	assert.Equal(t, http.StatusUnauthorized, again.Code)
}

func TestAuthenticateRejectsMissingOrForeignTokens(t *testing.T) {
	router, _ := newAuthRouter(t, aliceRepo(t))

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	other, err := auth.NewIssuer("another-secret")
	require.NoError(t, err)
	forged, err := other.Issue(7, "sess", time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}
