package invites

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmu-hub/console/internal/accounts"
	"github.com/danmu-hub/console/internal/permissions"
	"github.com/danmu-hub/console/internal/principal"
	"github.com/danmu-hub/console/internal/shared"
)

type memRepo struct {
	mu      sync.Mutex
	nextID  int64
	invites map[int64]Invite
	users   []accounts.User
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1, invites: map[int64]Invite{}}
}

func (m *memRepo) List(_ context.Context, filter ListFilter) ([]Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Invite
	for _, inv := range m.invites {
		if filter.CreatedBy != nil && inv.CreatedBy != *filter.CreatedBy {
			continue
		}
		switch filter.Status {
		case StatusUsed:
			if !inv.Used(filter.Now) {
				continue
			}
		case StatusUnused:
			if inv.Used(filter.Now) {
				continue
			}
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memRepo) Get(_ context.Context, id int64) (Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[id]
	if !ok {
		return Invite{}, shared.NotFound("Invite not found")
	}
	return inv, nil
}

func (m *memRepo) FindByCode(_ context.Context, code string) (Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invites {
		if inv.Code == code {
			return inv, nil
		}
	}
	return Invite{}, shared.NotFound("Invite not found")
}

func (m *memRepo) Create(_ context.Context, ni NewInvite) (Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := Invite{
		ID:           m.nextID,
		Code:         ni.Code,
		CreatedBy:    ni.CreatedBy,
		MaxUses:      ni.MaxUses,
		PerHourLimit: ni.PerHourLimit,
		Permissions:  permissions.NormalizeOverrides(ni.Permissions),
		Remark:       ni.Remark,
		IsEnabled:    true,
		ExpiresAt:    ni.ExpiresAt,
		CreatedAt:    time.Now(),
	}
	m.invites[inv.ID] = inv
	m.nextID++
	return inv, nil
}

func (m *memRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invites[id]; !ok {
		return shared.NotFound("Invite not found")
	}
	delete(m.invites, id)
	return nil
}

func (m *memRepo) Redeem(_ context.Context, inviteID int64, nu accounts.NewUser, now time.Time) (accounts.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[inviteID]
	if !ok {
		return accounts.User{}, &RejectionError{Reason: ReasonNotFound}
	}
	if reason := inv.Reject(now); reason != "" {
		return accounts.User{}, &RejectionError{Reason: reason}
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Username, nu.Username) {
			return accounts.User{}, shared.Conflict("Username already exists")
		}
	}
	u := accounts.User{
		ID:           int64(len(m.users) + 100),
		Username:     nu.Username,
		PasswordHash: nu.PasswordHash,
		Role:         nu.Role,
		Permissions:  nu.Permissions,
		PerHourLimit: nu.PerHourLimit,
		Remark:       nu.Remark,
	}
	m.users = append(m.users, u)
	inv.UsedCount++
	m.invites[inviteID] = inv
	return u, nil
}

func (m *memRepo) PurgeExpired(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, inv := range m.invites {
		if inv.ExpiresAt != nil && inv.ExpiresAt.Before(cutoff) {
			delete(m.invites, id)
			n++
		}
	}
	return n, nil
}

func (m *memRepo) set(id int64, fn func(*Invite)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := m.invites[id]
	fn(&inv)
	m.invites[id] = inv
}

var (
	admin   = principal.Principal{ID: 1, Username: "admin", Role: "admin"}
	creator = principal.Principal{ID: 2, Username: "carol", Permissions: permissions.Overrides{permissions.CreateUsers: true}}
	other   = principal.Principal{ID: 3, Username: "olga", Permissions: permissions.Overrides{permissions.CreateUsers: true}}
	plain   = principal.Principal{ID: 4, Username: "pat"}
)

func intPtr(v int) *int { return &v }
