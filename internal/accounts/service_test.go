package accounts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmu-hub/console/internal/auth"
	"github.com/danmu-hub/console/internal/locale"
	"github.com/danmu-hub/console/internal/permissions"
	"github.com/danmu-hub/console/internal/shared"
)

type fixture struct {
	repo    *memRepo
	refresh *refreshLog
	audit   *auditLog
	svc     *Service
	admin   User
	alice   User
	bob     User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemRepo()
	refresh := &refreshLog{}
	audit := &auditLog{}
	f := &fixture{
		repo:    repo,
		refresh: refresh,
		audit:   audit,
		svc:     NewService(repo, refresh, refresh, audit, nil),
	}
	f.admin = repo.seed("admin", "adminpass", nil)
	f.alice = repo.seed("alice", "alicepass", permissions.Overrides{permissions.EditUsers: true, permissions.CreateUsers: true})
	f.bob = repo.seed("bob", "bobpass1", nil)
	return f
}

func TestCreateStoresOnlyNonDefaultStates(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.Create(context.Background(), asPrincipal(f.alice), CreateInput{
		Username: "carol",
		Password: "carolpass",
		Remark:   "<i>vip</i>",
		PermStates: map[string]any{
			permissions.ChangePasswordSelf: "allow",
			permissions.EditTmdb:           "allow",
			permissions.EditTvdb:           "deny",
			permissions.EditProxy:          "inherit",
			"notAKey":                      "allow",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, permissions.Overrides{permissions.EditTmdb: true}, created.Permissions)
	assert.Equal(t, "vip", created.Remark)
	assert.Equal(t, RoleUser, created.Role)
	assert.Equal(t, []string{"user.create"}, f.audit.actions)
}

func TestCreateGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, asPrincipal(f.bob), CreateInput{Username: "x1", Password: "password"})
	assert.True(t, permissions.IsMissing(err))

	_, err = f.svc.Create(ctx, asPrincipal(f.admin), CreateInput{Username: "Admin", Password: "password"})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.svc.Create(ctx, asPrincipal(f.admin), CreateInput{Username: "dave", Password: "short"})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Create(ctx, asPrincipal(f.admin), CreateInput{Username: "BOB", Password: "password"})
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestUpdatePermissionsPersistsDelta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.users[f.bob.ID] = func() User {
		u := f.bob
		u.Permissions = permissions.Overrides{permissions.EditTmdb: true}
		return u
	}()

	desired := permissions.StatesFromOverrides(permissions.Overrides{permissions.EditTmdb: true})
	desired[permissions.EditTmdb] = permissions.StateDeny
	desired[permissions.ViewGlobalRate] = permissions.StateAllow

	update, err := f.svc.UpdatePermissions(ctx, asPrincipal(f.alice), f.bob.ID, desired)
	require.NoError(t, err)
	assert.Equal(t, permissions.Overrides{permissions.EditTmdb: false, permissions.ViewGlobalRate: true}, update.Delta)

	stored, err := f.repo.Get(ctx, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, permissions.Overrides{permissions.EditTmdb: false, permissions.ViewGlobalRate: true}, stored.Permissions)
	assert.Equal(t, []int64{f.bob.ID}, f.refresh.ids)
}

func TestUpdatePermissionsRoundTripWritesNothing(t *testing.T) {
	f := newFixture(t)
	states := permissions.StatesFromOverrides(f.bob.Permissions)
	update, err := f.svc.UpdatePermissions(context.Background(), asPrincipal(f.admin), f.bob.ID, states)
	require.NoError(t, err)
	assert.Empty(t, update.Delta)
	assert.Empty(t, f.refresh.ids)
	assert.Empty(t, f.audit.actions)
}

func TestUpdatePermissionsDenials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	states := permissions.States{}

	_, err := f.svc.UpdatePermissions(ctx, asPrincipal(f.alice), f.alice.ID, states)
	assert.ErrorIs(t, err, permissions.ErrSelf)

	_, err = f.svc.UpdatePermissions(ctx, asPrincipal(f.alice), f.admin.ID, states)
	assert.ErrorIs(t, err, permissions.ErrSuperTarget)

	_, err = f.svc.UpdatePermissions(ctx, asPrincipal(f.bob), f.alice.ID, states)
	var missing *permissions.MissingPermissionError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, permissions.EditUsers, missing.Key)

	_, err = f.svc.UpdatePermissions(ctx, asPrincipal(f.admin), f.admin.ID, states)
	assert.ErrorIs(t, err, permissions.ErrSelf)

	_, err = f.svc.UpdatePermissions(ctx, asPrincipal(f.admin), 999, states)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSetPasswordRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SetPassword(ctx, asPrincipal(f.alice), f.bob.ID, "newbobpass"))
	stored, _ := f.repo.Get(ctx, f.bob.ID)
	ok, err := auth.CheckPassword(stored.PasswordHash, "newbobpass")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, f.svc.SetPassword(ctx, asPrincipal(f.alice), f.admin.ID, "whatever1"), permissions.ErrSuperTarget)
	assert.True(t, permissions.IsMissing(f.svc.SetPassword(ctx, asPrincipal(f.bob), f.alice.ID, "whatever1")))
	assert.ErrorIs(t, f.svc.SetPassword(ctx, asPrincipal(f.admin), f.bob.ID, "short"), shared.ErrValidation)
	require.NoError(t, f.svc.SetPassword(ctx, asPrincipal(f.admin), f.alice.ID, "alicepass2"))
}

func TestQuotaRemarkDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	limit := 30

	require.NoError(t, f.svc.SetQuota(ctx, asPrincipal(f.alice), f.bob.ID, &limit))
	stored, _ := f.repo.Get(ctx, f.bob.ID)
	require.NotNil(t, stored.PerHourLimit)
	assert.Equal(t, 30, *stored.PerHourLimit)

	bad := -2
	assert.ErrorIs(t, f.svc.SetQuota(ctx, asPrincipal(f.alice), f.bob.ID, &bad), shared.ErrValidation)
	assert.ErrorIs(t, f.svc.SetQuota(ctx, asPrincipal(f.alice), f.alice.ID, &limit), permissions.ErrSelf)

	clean, err := f.svc.SetRemark(ctx, asPrincipal(f.alice), f.bob.ID, "<b>friend</b>")
	require.NoError(t, err)
	assert.Equal(t, "friend", clean)

	assert.ErrorIs(t, f.svc.Delete(ctx, asPrincipal(f.alice), f.admin.ID), permissions.ErrSuperTarget)
	assert.ErrorIs(t, f.svc.Delete(ctx, asPrincipal(f.alice), f.alice.ID), permissions.ErrSelf)
	require.NoError(t, f.svc.Delete(ctx, asPrincipal(f.alice), f.bob.ID))
	_, err = f.repo.Get(ctx, f.bob.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Equal(t, []int64{f.bob.ID}, f.refresh.revoked)
}

func TestChangeOwnPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := asPrincipal(f.bob)

	err := f.svc.ChangeOwnPassword(ctx, bob, "", "newpassword")
	assert.Equal(t, locale.DetailPasswordMissing, shared.UserSafeMessage(err))

	err = f.svc.ChangeOwnPassword(ctx, bob, "bobpass1", "short")
	assert.Equal(t, locale.DetailPasswordTooShort, shared.UserSafeMessage(err))

	err = f.svc.ChangeOwnPassword(ctx, bob, "wrongpass", "newpassword")
	assert.Equal(t, locale.DetailPasswordIncorrect, shared.UserSafeMessage(err))

	require.NoError(t, f.svc.ChangeOwnPassword(ctx, bob, "bobpass1", "newpassword"))

	bob.Permissions = permissions.Overrides{permissions.ChangePasswordSelf: false}
	err = f.svc.ChangeOwnPassword(ctx, bob, "newpassword", "another1")
	assert.ErrorIs(t, err, shared.ErrForbidden)
	assert.Equal(t, locale.DetailPasswordDisabled, shared.UserSafeMessage(err))
}

func TestListRequiresManagementRights(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.List(context.Background(), asPrincipal(f.bob), ListFilter{})
	assert.True(t, permissions.IsMissing(err))

	users, page, err := f.svc.List(context.Background(), asPrincipal(f.admin), ListFilter{Query: "b"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Username)
	assert.Equal(t, 1, page.Total)
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	me := f.svc.Me(asPrincipal(f.admin))
	assert.True(t, me.IsSuper)
	assert.Equal(t, RoleAdmin, me.Role)
	assert.Len(t, me.States, len(permissions.Keys()))

	me = f.svc.Me(asPrincipal(f.bob))
	assert.False(t, me.IsSuper)
	assert.Equal(t, permissions.StateAllow, me.States[permissions.ChangePasswordSelf])
	assert.Equal(t, permissions.StateDeny, me.States[permissions.EditUsers])
}
