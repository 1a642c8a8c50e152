package domain

import (
	"errors"
	"strings"
)

// Business errors, mapped to HTTP statuses in handlers.
var (
	ErrNotFound           = errors.New("not_found")           // 404
	ErrInvalidTask        = errors.New("invalid_task")        // 400
	ErrUnauthorized       = errors.New("unauthorized")        // 401
	ErrRateLimited        = errors.New("rate_limited")        // 429
	ErrStorageUnavailable = errors.New("storage_unavailable") // 503
)

// ValidationError carries the individual problems found on a task.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid task: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidTask }
