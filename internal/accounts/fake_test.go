package accounts

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmu-hub/console/internal/auth"
	"github.com/danmu-hub/console/internal/permissions"
	"github.com/danmu-hub/console/internal/principal"
	"github.com/danmu-hub/console/internal/shared"
)

type memRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]User
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1, users: map[int64]User{}}
}

func (m *memRepo) seed(username, password string, perms permissions.Overrides) User {
	hash, err := auth.HashPassword(password)
	if err != nil {
		panic(err)
	}
	role := RoleUser
	if permissions.IsSuperName(username) {
		role = RoleAdmin
	}
	u, err := m.Create(context.Background(), NewUser{Username: username, PasswordHash: hash, Role: role, Permissions: perms})
	if err != nil {
		panic(err)
	}
	return u
}

func (m *memRepo) List(_ context.Context, filter ListFilter) ([]User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for _, u := range m.users {
		if filter.Query != "" && !strings.Contains(strings.ToLower(u.Username), strings.ToLower(filter.Query)) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memRepo) Get(_ context.Context, id int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, shared.NotFound("user not found")
	}
	return u, nil
}

func (m *memRepo) Create(_ context.Context, nu NewUser) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, nu.Username) {
			return User{}, shared.Conflict("Username already exists")
		}
	}
	u := User{
		ID:           m.nextID,
		Username:     nu.Username,
		PasswordHash: nu.PasswordHash,
		Role:         nu.Role,
		Permissions:  permissions.NormalizeOverrides(nu.Permissions),
		PerHourLimit: nu.PerHourLimit,
		Remark:       nu.Remark,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	m.users[u.ID] = u
	m.nextID++
	return u, nil
}

func (m *memRepo) update(id int64, fn func(*User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return shared.NotFound("user not found")
	}
	fn(&u)
	m.users[id] = u
	return nil
}

func (m *memRepo) UpdatePermissions(_ context.Context, id int64, o permissions.Overrides) error {
	return m.update(id, func(u *User) { u.Permissions = permissions.NormalizeOverrides(o) })
}

func (m *memRepo) UpdatePassword(_ context.Context, id int64, hash string) error {
	return m.update(id, func(u *User) { u.PasswordHash = hash })
}

func (m *memRepo) UpdateQuota(_ context.Context, id int64, limit *int) error {
	return m.update(id, func(u *User) { u.PerHourLimit = limit })
}

func (m *memRepo) UpdateRemark(_ context.Context, id int64, remark string) error {
	return m.update(id, func(u *User) { u.Remark = remark })
}

func (m *memRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return shared.NotFound("user not found")
	}
	delete(m.users, id)
	return nil
}

type refreshLog struct {
	ids     []int64
	revoked []int64
}

func (r *refreshLog) Refresh(_ context.Context, id int64) error {
	r.ids = append(r.ids, id)
	return nil
}

func (r *refreshLog) DeleteUser(_ context.Context, id int64) error {
	r.revoked = append(r.revoked, id)
	return nil
}

type auditLog struct {
	actions []string
}

func (a *auditLog) Record(_ context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

func asPrincipal(u User) principal.Principal {
	return ToPrincipal(u)
}
