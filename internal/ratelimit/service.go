package ratelimit

import (
	"context"
	"sort"
	"time"

	"github.com/danmu-hub/console/internal/permissions"
	"github.com/danmu-hub/console/internal/principal"
)

// Poll cadence the panel is told to use.
const (
	AdminPollInterval = time.Second
	UserPollInterval  = 5 * time.Second
)

// UserQuota is the per-user limit shown on the panel.
type UserQuota struct {
	ID           int64
	Username     string
	PerHourLimit *int
}

// UserDirectory lists users with their hourly limits.
type UserDirectory interface {
	ListQuotas(ctx context.Context) ([]UserQuota, error)
}

// UserUsage is one row of the panel.
type UserUsage struct {
	UserID       int64  `json:"userId"`
	Username     string `json:"username"`
	Used         int    `json:"used"`
	PerHourLimit *int   `json:"perHourLimit"`
}

// Status is the panel payload. Admin views carry every user and the global
// usage; other users only see themselves.
type Status struct {
	GlobalLimit    int         `json:"globalLimit"`
	GlobalUsed     *int        `json:"globalUsed,omitempty"`
	Users          []UserUsage `json:"users,omitempty"`
	CurrentUser    *UserUsage  `json:"currentUser,omitempty"`
	PollIntervalMs int64       `json:"pollIntervalMs"`
	ResetsAt       time.Time   `json:"resetsAt"`
}

// AggregateRow is one user's downloads over an aggregate window.
type AggregateRow struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Count    int    `json:"count"`
}

// Service backs the rate-limit panel.
type Service struct {
	limiter *Limiter
	users   UserDirectory
}

// NewService constructs the panel service.
func NewService(limiter *Limiter, users UserDirectory) *Service {
	return &Service{limiter: limiter, users: users}
}

// CanViewGlobal reports whether actor sees the admin view.
func CanViewGlobal(actor principal.Principal) error {
	return permissions.Can(actor.Subject(), permissions.ViewGlobalRate)
}

// Status builds the panel for actor.
func (s *Service) Status(ctx context.Context, actor principal.Principal) (Status, error) {
	limit, err := s.limiter.GlobalLimit(ctx)
	if err != nil {
		return Status{}, err
	}
	usage, globalUsed, err := s.limiter.CurrentHour(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{GlobalLimit: limit, ResetsAt: s.limiter.resetsAt()}

	if CanViewGlobal(actor) != nil {
		st.PollIntervalMs = UserPollInterval.Milliseconds()
		st.CurrentUser = &UserUsage{
			UserID:       actor.ID,
			Username:     actor.Username,
			Used:         usage[actor.ID],
			PerHourLimit: actor.PerHourLimit,
		}
		return st, nil
	}

	st.PollIntervalMs = AdminPollInterval.Milliseconds()
	st.GlobalUsed = &globalUsed
	quotas, err := s.users.ListQuotas(ctx)
	if err != nil {
		return Status{}, err
	}
	st.Users = make([]UserUsage, 0, len(quotas))
	for _, q := range quotas {
		st.Users = append(st.Users, UserUsage{UserID: q.ID, Username: q.Username, Used: usage[q.ID], PerHourLimit: q.PerHourLimit})
	}
	return st, nil
}

// Aggregate returns per-user downloads over the window sorted by count desc.
func (s *Service) Aggregate(ctx context.Context, actor principal.Principal, windowHours int, all bool) ([]AggregateRow, error) {
	if err := CanViewGlobal(actor); err != nil {
		return nil, err
	}
	counts, err := s.limiter.Aggregate(ctx, windowHours, all)
	if err != nil {
		return nil, err
	}
	quotas, err := s.users.ListQuotas(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(quotas))
	for _, q := range quotas {
		names[q.ID] = q.Username
	}
	rows := make([]AggregateRow, 0, len(counts))
	for id, n := range counts {
		rows = append(rows, AggregateRow{UserID: id, Username: names[id], Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].UserID < rows[j].UserID
	})
	return rows, nil
}

// SetGlobal changes the global limit. Only the super identity may.
func (s *Service) SetGlobal(ctx context.Context, actor principal.Principal, limit int) error {
	if !actor.IsSuper() {
		return permissions.ErrSuperOnly
	}
	return s.limiter.SetGlobalLimit(ctx, limit)
}
