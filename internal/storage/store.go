// Package storage defines the task store used behind the result caches and
// the SQL shared by its implementations.
package storage

import (
	"context"
	"errors"
	"fmt"

	"tasklist-api/internal/domain"
	"tasklist-api/internal/filter"
)

// Store is the persistence collaborator. Reads return domain.ErrNotFound for
// missing rows and wrap every driver failure in domain.ErrStorageUnavailable.
type Store interface {
	FetchPage(ctx context.Context, userID string, f filter.FilterSpec) ([]domain.Task, error)
	FetchStats(ctx context.Context, userID string) (domain.StatsCounts, error)
	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	GetTask(ctx context.Context, userID, id string) (domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	DeleteTask(ctx context.Context, userID, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// Unavailable wraps a driver error so callers can test for
// domain.ErrStorageUnavailable while the cause stays reachable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, op, err)
}
