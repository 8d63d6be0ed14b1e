// Package sync provides the remote side of offline replay: the endpoint
// abstraction, the tRPC transport, and the interfaces the scheduler drives.
package sync

import (
	"context"
	"time"

	"github.com/destinyhacking/app/backend/internal/models"
)

// Endpoint is one remote mutation procedure. Call returns nil on success;
// failures should be AppErrors coded REMOTE_TRANSIENT.
type Endpoint interface {
	Call(ctx context.Context, action models.QueuedAction) error
}

// EndpointFunc adapts a function to Endpoint.
type EndpointFunc func(ctx context.Context, action models.QueuedAction) error

// Call implements Endpoint.
func (f EndpointFunc) Call(ctx context.Context, action models.QueuedAction) error {
	return f(ctx, action)
}

// DrainResult summarizes one replay pass.
type DrainResult struct {
	Succeeded int           `json:"succeeded"`
	Retried   int           `json:"retried"`
	Dropped   int           `json:"dropped"`
	Remaining int           `json:"remaining"`
	Skipped   bool          `json:"skipped"`
	Duration  time.Duration `json:"durationNs"`
}

// Drainer replays queued actions. Implementations must make concurrent
// Drain calls safe; an overlapping call reports Skipped.
type Drainer interface {
	Drain(ctx context.Context) (DrainResult, error)
	PendingCount(ctx context.Context) (int, error)
}

// ConnectivityProber reports whether the backend is reachable.
type ConnectivityProber interface {
	Probe(ctx context.Context) bool
}
