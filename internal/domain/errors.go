package domain

import "errors"

var (
	// ErrNotFound means the session or resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput covers empty identifiers, empty message batches and bad fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUpstream means the database or the AI provider failed or was unreachable.
	ErrUpstream = errors.New("upstream failure")
	// ErrRateLimited means the AI provider throttled the request.
	ErrRateLimited = errors.New("rate limited")
)
