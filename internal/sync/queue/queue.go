// Package queue provides the offline mutation queue: user actions are written
// to the local store first and replayed in order once the backend is reachable.
package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/destinyhacking/app/backend/internal/db"
	apperrors "github.com/destinyhacking/app/backend/internal/errors"
	"github.com/destinyhacking/app/backend/internal/idempotency"
	"github.com/destinyhacking/app/backend/internal/logging"
	"github.com/destinyhacking/app/backend/internal/models"
	syncpkg "github.com/destinyhacking/app/backend/internal/sync"
)

// DefaultMaxRetries is the number of failed replays after which an action is dropped.
const DefaultMaxRetries = 3

// Listener receives queue state changes. Callbacks run on the draining
// goroutine and must not block.
type Listener interface {
	PendingCountChanged(count int)
	FullySynced()
	ActionFailed(action models.QueuedAction, err error)
}

// NopListener ignores every notification.
type NopListener struct{}

func (NopListener) PendingCountChanged(int)                 {}
func (NopListener) FullySynced()                            {}
func (NopListener) ActionFailed(models.QueuedAction, error) {}

// Config holds queue configuration.
type Config struct {
	MaxRetries int              // default 3
	Now        func() time.Time // default time.Now
	Listener   Listener         // default NopListener
}

// Queue is the offline mutation queue. It owns its store exclusively.
type Queue struct {
	store      db.ActionStore
	endpoints  *syncpkg.Registry
	maxRetries int
	now        func() time.Time

	listenerMu sync.RWMutex
	listener   Listener

	// draining is held for the whole of a drain pass.
	draining sync.Mutex
}

var _ syncpkg.Drainer = (*Queue)(nil)

// New creates a Queue over store that dispatches through endpoints.
func New(store db.ActionStore, endpoints *syncpkg.Registry, config *Config) *Queue {
	if config == nil {
		config = &Config{}
	}
	q := &Queue{
		store:      store,
		endpoints:  endpoints,
		maxRetries: config.MaxRetries,
		now:        config.Now,
		listener:   config.Listener,
	}
	if q.maxRetries <= 0 {
		q.maxRetries = DefaultMaxRetries
	}
	if q.now == nil {
		q.now = time.Now
	}
	if q.listener == nil {
		q.listener = NopListener{}
	}
	return q
}

// SetListener replaces the listener.
func (q *Queue) SetListener(l Listener) {
	if l == nil {
		l = NopListener{}
	}
	q.listenerMu.Lock()
	q.listener = l
	q.listenerMu.Unlock()
}

func (q *Queue) notify() Listener {
	q.listenerMu.RLock()
	defer q.listenerMu.RUnlock()
	return q.listener
}

// MaxRetries returns the retry ceiling.
func (q *Queue) MaxRetries() int {
	return q.maxRetries
}

// Enqueue validates action and persists it with a fresh idempotency key.
// The caller's action is saved only once Enqueue returns nil.
func (q *Queue) Enqueue(ctx context.Context, action models.Action) (int64, error) {
	typ, payload, err := models.EncodeAction(action)
	if err != nil {
		return 0, classifyActionError(err)
	}
	return q.insert(ctx, typ, payload)
}

// EnqueueRaw accepts an already-encoded payload, such as one received over
// the local API, and applies the same validation as Enqueue.
func (q *Queue) EnqueueRaw(ctx context.Context, typ models.ActionType, payload json.RawMessage) (int64, error) {
	action, err := models.DecodeAction(typ, payload)
	if err != nil {
		return 0, classifyActionError(err)
	}
	return q.Enqueue(ctx, action)
}

func (q *Queue) insert(ctx context.Context, typ models.ActionType, payload json.RawMessage) (int64, error) {
	action := &models.QueuedAction{
		Type:           typ,
		Payload:        payload,
		Timestamp:      q.now(),
		RetryCount:     0,
		IdempotencyKey: idempotency.NewKey().String(),
	}
	if err := q.store.InsertAction(ctx, action); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to persist action", err)
	}

	logging.Info("Queued offline action", map[string]interface{}{
		"action_id": action.ID,
		"type":      string(typ),
	})

	if count, err := q.store.CountActions(ctx); err == nil {
		q.notify().PendingCountChanged(count)
	}
	return action.ID, nil
}

// ListPending returns every queued action, oldest first.
func (q *Queue) ListPending(ctx context.Context) ([]models.QueuedAction, error) {
	actions, err := q.store.ListActions(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list pending actions", err)
	}
	return actions, nil
}

// PendingCount returns the number of queued actions.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	n, err := q.store.CountActions(ctx)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to count pending actions", err)
	}
	return n, nil
}

// Drain replays pending actions one at a time in insertion order.
//
// A successful action is removed before the next starts. A transient failure
// increments the retry count and the action is dropped once the count reaches
// the ceiling. Actions that can never succeed (unknown type, undecodable
// payload, rejected by the backend) are dropped immediately. A call that
// overlaps a running drain returns at once with Skipped set.
func (q *Queue) Drain(ctx context.Context) (syncpkg.DrainResult, error) {
	if !q.draining.TryLock() {
		logging.Debug("Drain already in progress, skipping", nil)
		return syncpkg.DrainResult{Skipped: true}, nil
	}
	defer q.draining.Unlock()

	start := q.now()
	var result syncpkg.DrainResult

	pending, err := q.ListPending(ctx)
	if err != nil {
		return result, err
	}
	if len(pending) > 0 {
		logging.Info("Draining offline queue", map[string]interface{}{"pending": len(pending)})
	}

	for _, action := range pending {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := q.replay(ctx, action, &result); err != nil {
			q.finish(ctx, &result, start)
			return result, err
		}
	}

	q.finish(ctx, &result, start)
	return result, nil
}

// replay dispatches one action and applies the outcome to the store.
// Only storage failures are returned.
func (q *Queue) replay(ctx context.Context, action models.QueuedAction, result *syncpkg.DrainResult) error {
	dispatchErr := q.dispatch(ctx, action)

	if dispatchErr == nil {
		if err := q.store.DeleteAction(ctx, action.ID); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to remove action %d", action.ID), err)
		}
		result.Succeeded++
		return nil
	}

	// Cancellation mid-dispatch is not the action's fault.
	if ctx.Err() != nil {
		return nil
	}

	if !apperrors.IsRetryable(dispatchErr) {
		logging.Warn("Dropping action that cannot succeed", map[string]interface{}{
			"action_id": action.ID,
			"type":      string(action.Type),
			"error":     dispatchErr.Error(),
		})
		return q.drop(ctx, action, dispatchErr, result)
	}

	count, err := q.store.IncrementRetry(ctx, action.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to record retry for action %d", action.ID), err)
	}
	action.RetryCount = count

	if count >= q.maxRetries {
		logging.ErrorWithCode("Action failed permanently", string(apperrors.CodeOf(dispatchErr)), dispatchErr,
			map[string]interface{}{"action_id": action.ID, "type": string(action.Type), "retries": count})
		return q.drop(ctx, action, dispatchErr, result)
	}

	logging.Warn("Action replay failed, will retry", map[string]interface{}{
		"action_id": action.ID,
		"retry":     count,
		"max":       q.maxRetries,
		"error":     dispatchErr.Error(),
	})
	result.Retried++
	return nil
}

func (q *Queue) dispatch(ctx context.Context, action models.QueuedAction) error {
	if _, err := models.DecodeAction(action.Type, action.Payload); err != nil {
		return classifyActionError(err)
	}
	endpoint, err := q.endpoints.Lookup(action.Type)
	if err != nil {
		return err
	}
	return endpoint.Call(ctx, action)
}

func (q *Queue) drop(ctx context.Context, action models.QueuedAction, cause error, result *syncpkg.DrainResult) error {
	if err := q.store.DeleteAction(ctx, action.ID); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to drop action %d", action.ID), err)
	}
	result.Dropped++
	q.notify().ActionFailed(action, cause)
	return nil
}

// finish counts what is left and emits the pass signals.
func (q *Queue) finish(ctx context.Context, result *syncpkg.DrainResult, start time.Time) {
	result.Duration = q.now().Sub(start)

	// Use a fresh context so a cancelled pass still reports its count.
	countCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	count, err := q.store.CountActions(countCtx)
	if err != nil {
		logging.Error("Failed to count pending actions after drain", err)
		return
	}
	result.Remaining = count

	l := q.notify()
	l.PendingCountChanged(count)
	if count == 0 {
		l.FullySynced()
	}

	if result.Succeeded+result.Retried+result.Dropped > 0 {
		logging.Info("Drain pass completed", map[string]interface{}{
			"succeeded": result.Succeeded,
			"retried":   result.Retried,
			"dropped":   result.Dropped,
			"remaining": result.Remaining,
		})
	}
}

// classifyActionError maps payload-level failures to queue error codes.
func classifyActionError(err error) error {
	var unknown *models.ErrUnknownAction
	if stderrors.As(err, &unknown) {
		return apperrors.Wrap(apperrors.ErrUnknownActionType, "unrecognized action", err)
	}
	return apperrors.Wrap(apperrors.ErrInvalidPayload, "invalid action payload", err)
}
