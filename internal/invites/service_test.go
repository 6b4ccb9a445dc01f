package invites

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmu-hub/console/internal/auth"
	"github.com/danmu-hub/console/internal/permissions"
	"github.com/danmu-hub/console/internal/platform/httpx"
	"github.com/danmu-hub/console/internal/principal"
	"github.com/danmu-hub/console/internal/shared"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9]{16}$`)

func newTestService(t *testing.T) (*Service, *memRepo, time.Time) {
	t.Helper()
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, repo, now
}

func TestParseGrants(t *testing.T) {
	got := ParseGrants(map[string]any{
		permissions.EditTmdb:    "allow",
		permissions.EditTvdb:    " DENY ",
		permissions.EditProxy:   true,
		permissions.EditWebhook: "inherit",
		permissions.EditDouban:  42,
		"unknownKey":            true,
	})
	assert.Equal(t, permissions.Overrides{
		permissions.EditTmdb:  true,
		permissions.EditTvdb:  false,
		permissions.EditProxy: true,
	}, got)
}

func TestCreateRequiresCreateUsers(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, plain, CreateInput{MaxUses: 1})
	assert.True(t, permissions.IsMissing(err))

	inv, err := svc.Create(ctx, creator, CreateInput{
		MaxUses:     3,
		Permissions: map[string]any{permissions.EditTmdb: "allow"},
		Remark:      "<b>friends</b>",
	})
	require.NoError(t, err)
	assert.Regexp(t, codePattern, inv.Code)
	assert.Equal(t, creator.ID, inv.CreatedBy)
	assert.Equal(t, "friends", inv.Remark)
	assert.Equal(t, permissions.Overrides{permissions.EditTmdb: true}, inv.Permissions)
}

func TestCreateRejectsPastExpiry(t *testing.T) {
	svc, _, now := newTestService(t)
	past := now.Add(-time.Minute)
	_, err := svc.Create(context.Background(), creator, CreateInput{MaxUses: 1, ExpiresAt: &past})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestListVisibilityAndStatus(t *testing.T) {
	svc, repo, now := newTestService(t)
	ctx := context.Background()

	mine, err := svc.Create(ctx, creator, CreateInput{MaxUses: 1})
	require.NoError(t, err)
	_, err = svc.Create(ctx, other, CreateInput{MaxUses: 1})
	require.NoError(t, err)
	spent, err := svc.Create(ctx, creator, CreateInput{MaxUses: 1})
	require.NoError(t, err)
	repo.set(spent.ID, func(i *Invite) { i.UsedCount = 1 })
	expired, err := svc.Create(ctx, creator, CreateInput{MaxUses: 5})
	require.NoError(t, err)
	repo.set(expired.ID, func(i *Invite) {
		at := now.Add(-time.Hour)
		i.ExpiresAt = &at
	})

	all, err := svc.List(ctx, admin, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	own, err := svc.List(ctx, creator, StatusAll)
	require.NoError(t, err)
	assert.Len(t, own, 3)

	used, err := svc.List(ctx, creator, StatusUsed)
	require.NoError(t, err)
	require.Len(t, used, 2)
	for _, inv := range used {
		if inv.ID == expired.ID {
			assert.True(t, inv.IsExpired)
		}
	}

	unused, err := svc.List(ctx, creator, StatusUnused)
	require.NoError(t, err)
	require.Len(t, unused, 1)
	assert.Equal(t, mine.ID, unused[0].ID)

	_, err = svc.List(ctx, creator, "bogus")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeleteOwnInvitesOnly(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	inv, err := svc.Create(ctx, creator, CreateInput{MaxUses: 1})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, other, inv.ID), shared.ErrNotFound)
	assert.NoError(t, svc.Delete(ctx, admin, inv.ID))
}

func TestValidateReasons(t *testing.T) {
	svc, repo, now := newTestService(t)
	ctx := context.Background()
	inv, err := svc.Create(ctx, creator, CreateInput{MaxUses: 2})
	require.NoError(t, err)

	v, err := svc.Validate(ctx, "missingcode")
	require.NoError(t, err)
	assert.Equal(t, Validation{Reason: ReasonNotFound}, v)

	v, err = svc.Validate(ctx, inv.Code)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, 2, *v.MaxUses)

	repo.set(inv.ID, func(i *Invite) { i.IsEnabled = false })
	v, err = svc.Validate(ctx, inv.Code)
	require.NoError(t, err)
	assert.Equal(t, Validation{Reason: ReasonDisabled}, v)

	repo.set(inv.ID, func(i *Invite) { i.UsedCount = 2 })
	v, err = svc.Validate(ctx, inv.Code)
	require.NoError(t, err)
	assert.Equal(t, ReasonNoRemaining, v.Reason)

	repo.set(inv.ID, func(i *Invite) {
		at := now
		i.ExpiresAt = &at
	})
	v, err = svc.Validate(ctx, inv.Code)
	require.NoError(t, err)
	assert.Equal(t, ReasonExpired, v.Reason)
}

func TestRegisterInheritsInviteTemplate(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	inv, err := svc.Create(ctx, creator, CreateInput{
		MaxUses:      1,
		PerHourLimit: intPtr(7),
		Permissions:  map[string]any{permissions.EditTmdb: true},
		Remark:       "team",
	})
	require.NoError(t, err)

	u, err := svc.Register(ctx, RegisterInput{Code: inv.Code, Username: "newbie", Password: "longenough"})
	require.NoError(t, err)
	assert.Equal(t, "newbie", u.Username)
	assert.Equal(t, permissions.Overrides{permissions.EditTmdb: true}, u.Permissions)
	require.NotNil(t, u.PerHourLimit)
	assert.Equal(t, 7, *u.PerHourLimit)
	assert.Equal(t, "team", u.Remark)
	ok, err := auth.CheckPassword(u.PasswordHash, "longenough")
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := repo.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsedCount)

	_, err = svc.Register(ctx, RegisterInput{Code: inv.Code, Username: "second", Password: "longenough"})
	var rejected *RejectionError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonNoRemaining, rejected.Reason)
}

func TestPurgeExpired(t *testing.T) {
	svc, repo, now := newTestService(t)
	ctx := context.Background()
	old, err := svc.Create(ctx, creator, CreateInput{MaxUses: 1})
	require.NoError(t, err)
	recent, err := svc.Create(ctx, creator, CreateInput{MaxUses: 1})
	require.NoError(t, err)
	repo.set(old.ID, func(i *Invite) {
		at := now.AddDate(0, 0, -10)
		i.ExpiresAt = &at
	})
	repo.set(recent.ID, func(i *Invite) {
		at := now.Add(-time.Hour)
		i.ExpiresAt = &at
	})

	n, err := svc.PurgeExpired(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = repo.Get(ctx, recent.ID)
	assert.NoError(t, err)
}

func newTestRouter(svc *Service, actor *principal.Principal) http.Handler {
	h := NewHandler(nil, svc)
	r := chi.NewRouter()
	r.Route("/api/ui/auth", h.MountRegister)
	r.Route("/api/ui/invites", func(r chi.Router) {
		h.MountValidate(r)
		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					if actor != nil {
						req = req.WithContext(principal.WithPrincipal(req.Context(), *actor))
					}
					next.ServeHTTP(w, req)
				})
			})
			h.MountRoutes(r)
		})
	})
	return r
}

func do(t *testing.T, router http.Handler, method, path, body string, lang string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if lang != "" {
		req.Header.Set("Accept-Language", lang)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func TestHandlerRegisterFlow(t *testing.T) {
	svc, repo, now := newTestService(t)
	router := newTestRouter(svc, &creator)

	res := do(t, router, http.MethodPost, "/api/ui/invites/", `{"maxUses":2}`, "")
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	var inv Invite
	require.NoError(t, json.NewDecoder(res.Body).Decode(&inv))

	res = do(t, router, http.MethodPost, "/api/ui/invites/", `{"maxUses":0}`, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = do(t, router, http.MethodGet, "/api/ui/invites/validate?code="+inv.Code, "", "")
	require.Equal(t, http.StatusOK, res.Code)
	var v Validation
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	assert.True(t, v.Valid)
	assert.Equal(t, "ok", v.Message)

	res = do(t, router, http.MethodGet, "/api/ui/invites/validate?code=nope", "", "zh-CN")
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	assert.False(t, v.Valid)
	assert.Equal(t, "邀请码不存在", v.Message)

	body := `{"code":"` + inv.Code + `","username":"admin","password":"longenough"}`
	res = do(t, router, http.MethodPost, "/api/ui/auth/register", body, "")
	assert.Equal(t, http.StatusForbidden, res.Code)

	body = `{"code":"` + inv.Code + `","username":"dana","password":"longenough"}`
	res = do(t, router, http.MethodPost, "/api/ui/auth/register", body, "")
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	res = do(t, router, http.MethodPost, "/api/ui/auth/register", body, "")
	assert.Equal(t, http.StatusConflict, res.Code)

	repo.set(inv.ID, func(i *Invite) {
		at := now.Add(-time.Second)
		i.ExpiresAt = &at
	})
	body = `{"code":"` + inv.Code + `","username":"erin","password":"longenough"}`
	res = do(t, router, http.MethodPost, "/api/ui/auth/register", body, "en")
	assert.Equal(t, http.StatusBadRequest, res.Code)
	var p httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(res.Body).Decode(&p))
	assert.Equal(t, "Invite code has expired", p.Detail)

	res = do(t, router, http.MethodDelete, "/api/ui/invites/"+strconv.FormatInt(inv.ID, 10), "", "")
	assert.Equal(t, http.StatusNoContent, res.Code)
}

func TestHandlerRequiresPrincipal(t *testing.T) {
	svc, _, _ := newTestService(t)
	router := newTestRouter(svc, nil)
	res := do(t, router, http.MethodGet, "/api/ui/invites/", "", "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	router = newTestRouter(svc, &plain)
	res = do(t, router, http.MethodGet, "/api/ui/invites/", "", "")
	assert.Equal(t, http.StatusForbidden, res.Code)
}
