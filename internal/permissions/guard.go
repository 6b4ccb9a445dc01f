package permissions

import (
	"errors"
	"fmt"
	"strings"
)

// SuperUsername is the fixed super identity. It cannot be edited or deleted by
// any account, itself included.
const SuperUsername = "admin"

var (
	// ErrSelf is returned when an actor targets their own permission set or account.
	ErrSelf = errors.New("permissions: cannot target own account")
	// ErrSuperTarget is returned when the target is the super identity.
	ErrSuperTarget = errors.New("permissions: super identity is protected")
	// ErrPasswordChangeDisabled is returned when changePasswordSelf resolves false.
	ErrPasswordChangeDisabled = errors.New("permissions: password change disabled by admin")
	// ErrSuperOnly is returned for operations reserved to the super identity.
	ErrSuperOnly = errors.New("permissions: super identity required")
)

// MissingPermissionError reports the catalog key the actor lacks.
type MissingPermissionError struct {
	Key string
}

func (e *MissingPermissionError) Error() string {
	return fmt.Sprintf("permissions: missing %s", e.Key)
}

// IsMissing reports whether err carries a MissingPermissionError.
func IsMissing(err error) bool {
	var m *MissingPermissionError
	return errors.As(err, &m)
}

// IsDenial reports whether err is any guard refusal.
func IsDenial(err error) bool {
	return IsMissing(err) ||
		errors.Is(err, ErrSelf) ||
		errors.Is(err, ErrSuperTarget) ||
		errors.Is(err, ErrPasswordChangeDisabled) ||
		errors.Is(err, ErrSuperOnly)
}

// Subject is the minimal view of a user the guards need.
type Subject struct {
	ID          int64
	Username    string
	Permissions Overrides
}

// IsSuperName reports whether username is the super identity.
func IsSuperName(username string) bool {
	return strings.EqualFold(strings.TrimSpace(username), SuperUsername)
}

// IsSuper reports whether s is the super identity.
func (s Subject) IsSuper() bool {
	return IsSuperName(s.Username)
}

// Has resolves key against the subject's overrides.
func (s Subject) Has(key string) bool {
	return Effective(s.Permissions, key)
}

// Can reports whether actor may use the capability guarded by key. The super
// identity always can; others need the override resolved to true.
func Can(actor Subject, key string) error {
	if actor.IsSuper() || actor.Has(key) {
		return nil
	}
	return &MissingPermissionError{Key: key}
}

// CanEditPermissions guards the permission editor, quota and remark edits.
func CanEditPermissions(actor, target Subject) error {
	if actor.ID == target.ID {
		return ErrSelf
	}
	if target.IsSuper() {
		return ErrSuperTarget
	}
	return Can(actor, EditUsers)
}

// CanDeleteUser guards account deletion.
func CanDeleteUser(actor, target Subject) error {
	return CanEditPermissions(actor, target)
}

// CanChangeOwnPassword allows self service unless changePasswordSelf is revoked.
func CanChangeOwnPassword(actor Subject) error {
	if !actor.Has(ChangePasswordSelf) {
		return ErrPasswordChangeDisabled
	}
	return nil
}

// CanChangePassword guards password changes. Targeting oneself falls back to
// CanChangeOwnPassword.
func CanChangePassword(actor, target Subject) error {
	if actor.ID == target.ID {
		return CanChangeOwnPassword(actor)
	}
	if target.IsSuper() && !actor.IsSuper() {
		return ErrSuperTarget
	}
	return Can(actor, EditUsers)
}
