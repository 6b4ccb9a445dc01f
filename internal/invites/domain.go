// Package invites issues invite codes and registers accounts from them.
package invites

import (
	"strings"
	"time"

	"github.com/danmu-hub/console/internal/permissions"
)

// CodeLength is the length of generated invite codes.
const CodeLength = 16

// Rejection reasons reported by validation.
const (
	ReasonNotFound    = "not_found"
	ReasonExpired     = "expired"
	ReasonNoRemaining = "no_remaining"
	ReasonDisabled    = "disabled"
)

// Status filters for listings.
const (
	StatusAll    = "all"
	StatusUsed   = "used"
	StatusUnused = "unused"
)

// Invite is an invite code with the account template it grants.
type Invite struct {
	ID           int64                 `json:"id"`
	Code         string                `json:"code"`
	CreatedBy    int64                 `json:"createdByUserId"`
	MaxUses      int                   `json:"maxUses"`
	UsedCount    int                   `json:"usedCount"`
	PerHourLimit *int                  `json:"perHourLimit"`
	Permissions  permissions.Overrides `json:"permissions"`
	Remark       string                `json:"remark"`
	IsEnabled    bool                  `json:"isEnabled"`
	ExpiresAt    *time.Time            `json:"expiresAt"`
	IsExpired    bool                  `json:"isExpired"`
	CreatedAt    time.Time             `json:"createdAt"`
}

// Reject returns the reason the invite cannot be redeemed at now, or "".
// Checks run in order: expiry, remaining uses, enabled.
func (i Invite) Reject(now time.Time) string {
	switch {
	case i.ExpiresAt != nil && !now.Before(*i.ExpiresAt):
		return ReasonExpired
	case i.UsedCount >= i.MaxUses:
		return ReasonNoRemaining
	case !i.IsEnabled:
		return ReasonDisabled
	}
	return ""
}

// Used reports whether the invite is no longer redeemable.
func (i Invite) Used(now time.Time) bool {
	return i.Reject(now) != ""
}

// ListFilter narrows invite listings. A nil CreatedBy lists every invite.
type ListFilter struct {
	CreatedBy *int64
	Status    string
	Now       time.Time
}

// NewInvite carries the fields required to insert an invite.
type NewInvite struct {
	Code         string
	CreatedBy    int64
	MaxUses      int
	PerHourLimit *int
	Permissions  permissions.Overrides
	Remark       string
	ExpiresAt    *time.Time
}

// CreateInput is the create-invite form.
type CreateInput struct {
	MaxUses      int            `json:"maxUses" validate:"min=1,max=1000"`
	PerHourLimit *int           `json:"perHourLimit" validate:"omitempty,min=-1"`
	Permissions  map[string]any `json:"permissions"`
	Remark       string         `json:"remark" validate:"max=500"`
	ExpiresAt    *time.Time     `json:"expiresAt"`
}

// RegisterInput is the public registration form.
type RegisterInput struct {
	Code     string `json:"code" validate:"required,max=64"`
	Username string `json:"username" validate:"required,min=2,max=64,username"`
	Password string `json:"password" validate:"required,max=256"`
}

// Validation is the public answer to a code check.
type Validation struct {
	Valid     bool       `json:"valid"`
	Reason    string     `json:"reason,omitempty"`
	Message   string     `json:"message"`
	MaxUses   *int       `json:"maxUses,omitempty"`
	UsedCount *int       `json:"usedCount,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// ParseGrants converts a raw permission map into overrides. Allow and true
// grant, deny and false revoke; anything else is skipped.
func ParseGrants(raw map[string]any) permissions.Overrides {
	out := permissions.Overrides{}
	for k, v := range raw {
		if !permissions.Known(k) {
			continue
		}
		switch t := v.(type) {
		case bool:
			out[k] = t
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "allow":
				out[k] = true
			case "deny":
				out[k] = false
			}
		}
	}
	return out
}

// RejectionError reports why a code cannot be redeemed.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "invite rejected: " + e.Reason
}
