package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates rejected input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden indicates the caller may not perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized indicates a missing or invalid access token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited indicates the caller exceeded a request quota.
	ErrRateLimited = errors.New("rate limited")
)
