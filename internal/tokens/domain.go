// Package tokens manages danmaku output tokens and the public gate that
// external players call with them.
package tokens

import (
	"time"

	"github.com/danmu-hub/console/internal/shared"
)

// Scopes of a token.
const (
	ScopePrivate = "private"
	ScopeGlobal  = "global"
)

// Token statuses written to the access log.
const (
	StatusOK          = "ok"
	StatusDisabled    = "disabled"
	StatusExpired     = "expired"
	StatusDailyLimit  = "daily_limit"
	StatusHourlyLimit = "hourly_limit"
	StatusBurst       = "burst"
)

// DefaultDailyCallLimit applies when a token is created without one.
const DefaultDailyCallLimit = 500

// Token is an output token.
type Token struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Token          string     `json:"token"`
	OwnerUserID    *int64     `json:"ownerUserId"`
	IsEnabled      bool       `json:"isEnabled"`
	IsLocked       bool       `json:"isLocked"`
	DailyCallLimit int        `json:"dailyCallLimit"`
	DailyCallCount int        `json:"dailyCallCount"`
	ExpiresAt      *time.Time `json:"expiresAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Scope reports whether the token is private or global.
func (t Token) Scope() string {
	if t.OwnerUserID == nil {
		return ScopeGlobal
	}
	return ScopePrivate
}

// OwnedBy reports whether userID owns the token.
func (t Token) OwnedBy(userID int64) bool {
	return t.OwnerUserID != nil && *t.OwnerUserID == userID
}

// Expired reports whether the token is past its expiry at now.
func (t Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// DailyExhausted reports whether the daily call limit is used up. A negative
// limit never exhausts.
func (t Token) DailyExhausted() bool {
	return t.DailyCallLimit >= 0 && t.DailyCallCount >= t.DailyCallLimit
}

// Validity is the lifetime option chosen in the token form.
type Validity string

// Validity options.
const (
	ValidityPermanent Validity = "permanent"
	Validity1d        Validity = "1d"
	Validity7d        Validity = "7d"
	Validity30d       Validity = "30d"
	Validity180d      Validity = "180d"
	Validity365d      Validity = "365d"
	ValidityCustom    Validity = "custom"
)

var validityDays = map[Validity]int{
	Validity1d:   1,
	Validity7d:   7,
	Validity30d:  30,
	Validity180d: 180,
	Validity365d: 365,
}

// ExpiresAt computes the expiry for v. Custom validity uses custom, or keeps
// current when custom is nil.
func (v Validity) ExpiresAt(now time.Time, custom, current *time.Time) (*time.Time, error) {
	switch v {
	case "", ValidityPermanent:
		return nil, nil
	case ValidityCustom:
		if custom == nil {
			return current, nil
		}
		if !custom.After(now) {
			return nil, shared.Invalid("Custom expiry must be in the future")
		}
		at := custom.UTC()
		return &at, nil
	}
	days, ok := validityDays[v]
	if !ok {
		return nil, shared.Invalid("Unknown validity " + string(v))
	}
	at := now.UTC().AddDate(0, 0, days)
	return &at, nil
}

// CreateInput is the create-token form.
type CreateInput struct {
	Name            string     `json:"name" validate:"required,max=100"`
	Generation      string     `json:"generation" validate:"omitempty,oneof=random custom"`
	CustomToken     string     `json:"customToken" validate:"omitempty,min=8,max=64,alphanum"`
	Validity        Validity   `json:"validity" validate:"omitempty,oneof=permanent 1d 7d 30d 180d 365d custom"`
	CustomExpiresAt *time.Time `json:"customExpiresAt"`
	DailyCallLimit  *int       `json:"dailyCallLimit" validate:"omitempty,min=-1"`
	Scope           string     `json:"scope" validate:"omitempty,oneof=private global"`
}

// UpdateInput is the edit-token form.
type UpdateInput struct {
	Name            string     `json:"name" validate:"required,max=100"`
	Validity        Validity   `json:"validity" validate:"omitempty,oneof=permanent 1d 7d 30d 180d 365d custom"`
	CustomExpiresAt *time.Time `json:"customExpiresAt"`
	DailyCallLimit  *int       `json:"dailyCallLimit" validate:"omitempty,min=-1"`
}

// AccessLog is one gate call.
type AccessLog struct {
	ID         int64     `json:"id"`
	TokenID    int64     `json:"tokenId"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"userAgent"`
	Path       string    `json:"path"`
	Status     string    `json:"status"`
	AccessedAt time.Time `json:"accessedAt"`
}

// LogFilter narrows access log listings.
type LogFilter struct {
	Status  string
	Page    int
	PerPage int
}

// UsageRow is the number of successful calls of a token on one UTC day.
type UsageRow struct {
	TokenID int64  `json:"tokenId"`
	Day     string `json:"day"`
	Count   int    `json:"count"`
}
