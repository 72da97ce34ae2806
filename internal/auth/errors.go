package auth

import "errors"

var (
	// ErrUnauthenticated means no caller identity could be resolved.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrForbidden means the caller's role may not perform the operation.
	ErrForbidden = errors.New("auth: forbidden")
	// ErrInvalidToken indicates the bearer token failed validation.
	ErrInvalidToken = errors.New("auth: invalid token")
)
