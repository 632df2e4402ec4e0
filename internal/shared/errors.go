package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
	// ErrCSRFTokenStale occurs when a form was rendered before the session
	// last signed in or out.
	ErrCSRFTokenStale = errors.New("csrf token issued before sign-in change")
	// ErrPermissionDenied is returned when the current user lacks a capability.
	ErrPermissionDenied = errors.New("permission denied")
)
