// Package common defines shared constants and sentinel errors used across
// the authentication core and its transport. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound          = errors.New("not found")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrEmptyFilter         = errors.New("empty filter")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")
	ErrValidation = errors.New("validation error")

	// Auth errors. All three surface to callers as "unauthorized".
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInvalidCredentials   = errors.New("could not validate credentials")
	ErrRefreshFailed        = errors.New("refresh failed")

	// Codec errors (invalid signature, malformed payload or claims).
	ErrInvalidToken = errors.New("invalid token")
)

// IsUnauthorized reports whether err belongs to the group of authentication
// failures that must be reported to the outside world identically.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrRefreshFailed)
}
