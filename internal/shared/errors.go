package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrValidation indicates a rejected request payload.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrForbidden indicates the actor may not perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized indicates a missing or revoked session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited indicates an exhausted quota.
	ErrRateLimited = errors.New("rate limited")
)

// DetailError carries a client visible detail for a sentinel kind.
type DetailError struct {
	Kind   error
	Detail string
}

func (e *DetailError) Error() string {
	return e.Kind.Error() + ": " + e.Detail
}

func (e *DetailError) Unwrap() error {
	return e.Kind
}

// Invalid wraps ErrValidation with a client visible detail.
func Invalid(detail string) error {
	return &DetailError{Kind: ErrValidation, Detail: detail}
}

// Conflict wraps ErrConflict with a client visible detail.
func Conflict(detail string) error {
	return &DetailError{Kind: ErrConflict, Detail: detail}
}

// Forbidden wraps ErrForbidden with a client visible detail.
func Forbidden(detail string) error {
	return &DetailError{Kind: ErrForbidden, Detail: detail}
}

// NotFound wraps ErrNotFound with a client visible detail.
func NotFound(detail string) error {
	return &DetailError{Kind: ErrNotFound, Detail: detail}
}

// UserSafeMessage returns the detail safe to show to end users.
func UserSafeMessage(err error) string {
	var d *DetailError
	if errors.As(err, &d) {
		return d.Detail
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrValidation), errors.Is(err, ErrConflict),
		errors.Is(err, ErrForbidden), errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrRateLimited):
		return err.Error()
	}
	return ""
}
