// Package db provides repository interfaces for the local store.
package db

import (
	"context"

	"github.com/destinyhacking/app/backend/internal/models"
)

// ActionStore is the durable store behind the offline queue.
type ActionStore interface {
	// InsertAction stores an action and assigns its autoincrement ID.
	InsertAction(ctx context.Context, action *models.QueuedAction) error

	// ListActions returns every stored action in insertion order.
	ListActions(ctx context.Context) ([]models.QueuedAction, error)

	// DeleteAction removes an action by ID.
	DeleteAction(ctx context.Context, id int64) error

	// IncrementRetry bumps an action's retry count and returns the new value.
	IncrementRetry(ctx context.Context, id int64) (int, error)

	// CountActions returns the number of stored actions.
	CountActions(ctx context.Context) (int, error)
}

// DailyCycleStore caches daily check-in records for streak calculation.
type DailyCycleStore interface {
	UpsertDailyCycle(ctx context.Context, rec *models.DailyCycleRecord) error
	GetDailyCycle(ctx context.Context, date string) (*models.DailyCycleRecord, error)
	ListDailyCycles(ctx context.Context) ([]models.DailyCycleRecord, error)
}

// Ensure implementations satisfy the interfaces at compile time.
var (
	_ ActionStore     = (*Repository)(nil)
	_ DailyCycleStore = (*Repository)(nil)
	_ ActionStore     = (*MemoryStore)(nil)
)
