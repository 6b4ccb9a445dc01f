// Package principal holds the signed-in user for the duration of a request.
package principal

import (
	"context"

	"github.com/danmu-hub/console/internal/permissions"
)

// Principal is the current user as seen by every console view.
type Principal struct {
	ID           int64                 `json:"id"`
	Username     string                `json:"username"`
	Role         string                `json:"role"`
	Permissions  permissions.Overrides `json:"permissions"`
	PerHourLimit *int                  `json:"perHourLimit,omitempty"`
	Remark       string                `json:"remark,omitempty"`
}

// Subject adapts the principal for the authorization guards.
func (p Principal) Subject() permissions.Subject {
	return permissions.Subject{ID: p.ID, Username: p.Username, Permissions: p.Permissions}
}

// IsSuper reports whether the principal is the super administrator.
func (p Principal) IsSuper() bool {
	return permissions.IsSuperName(p.Username)
}

// Can reports whether the principal may perform the action guarded by key.
func (p Principal) Can(key string) bool {
	return permissions.Can(p.Subject(), key) == nil
}

type contextKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal resolved for the request.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}
