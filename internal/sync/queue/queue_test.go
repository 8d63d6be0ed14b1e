// Package queue provides unit tests for the offline mutation queue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/destinyhacking/app/backend/internal/db"
	apperrors "github.com/destinyhacking/app/backend/internal/errors"
	"github.com/destinyhacking/app/backend/internal/idempotency"
	"github.com/destinyhacking/app/backend/internal/models"
	syncpkg "github.com/destinyhacking/app/backend/internal/sync"
	"github.com/destinyhacking/app/backend/internal/testutil"
)

// =====================================================
// Test Helpers
// =====================================================

// recordingEndpoint records every call and answers with the next scripted error.
type recordingEndpoint struct {
	mu     sync.Mutex
	calls  []models.QueuedAction
	result func(call int, a models.QueuedAction) error
}

func (e *recordingEndpoint) Call(ctx context.Context, a models.QueuedAction) error {
	e.mu.Lock()
	e.calls = append(e.calls, a)
	n := len(e.calls)
	e.mu.Unlock()
	if e.result == nil {
		return nil
	}
	return e.result(n, a)
}

func (e *recordingEndpoint) Calls() []models.QueuedAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.QueuedAction(nil), e.calls...)
}

// recordingListener captures queue signals.
type recordingListener struct {
	mu       sync.Mutex
	counts   []int
	synced   int
	failures []models.QueuedAction
}

func (l *recordingListener) PendingCountChanged(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts = append(l.counts, n)
}

func (l *recordingListener) FullySynced() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.synced++
}

func (l *recordingListener) ActionFailed(a models.QueuedAction, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, a)
}

func (l *recordingListener) lastCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.counts) == 0 {
		return -1
	}
	return l.counts[len(l.counts)-1]
}

type fixture struct {
	queue    *Queue
	store    *db.MemoryStore
	endpoint *recordingEndpoint
	listener *recordingListener
	clock    *testutil.Clock
}

// newFixture wires a queue whose every action type goes to one recording endpoint.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    db.NewMemoryStore(),
		endpoint: &recordingEndpoint{},
		listener: &recordingListener{},
		clock:    testutil.NewClock(time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)),
	}
	reg := syncpkg.NewRegistry()
	for _, typ := range models.ActionTypes {
		require.NoError(t, reg.Register(typ, f.endpoint))
	}
	f.queue = New(f.store, reg, &Config{
		Now:      func() time.Time { return f.clock.Tick(time.Second) },
		Listener: f.listener,
	})
	return f
}

func slider(axis int64, value int) models.SliderCalibrationPayload {
	return models.SliderCalibrationPayload{AxisID: axis, Value: value}
}

func transient(int, models.QueuedAction) error {
	return apperrors.New(apperrors.ErrRemoteTransient, "503 service unavailable")
}

// =====================================================
// Enqueue Tests
// =====================================================

// TestEnqueue_durability verifies one more pending action with a zero retry count.
func TestEnqueue_durability(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	before, err := f.queue.ListPending(ctx)
	require.NoError(t, err)

	id, err := f.queue.Enqueue(ctx, slider(1, 60))
	require.NoError(t, err)

	after, err := f.queue.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, after, len(before)+1)

	got := after[len(after)-1]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, 0, got.RetryCount)
	assert.Equal(t, models.ActionSliderCalibration, got.Type)
	assert.JSONEq(t, `{"axisId":1,"value":60,"clientTimestamp":"0001-01-01T00:00:00Z"}`, string(got.Payload))
	assert.True(t, idempotency.Valid(got.IdempotencyKey))
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, 1, f.listener.lastCount())
	assert.Empty(t, f.endpoint.Calls(), "enqueue must not touch the network")
}

// TestEnqueue_rejectsInvalid verifies validation at the enqueue boundary.
func TestEnqueue_rejectsInvalid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.queue.Enqueue(ctx, slider(1, 150))
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidPayload), "got %v", err)

	_, err = f.queue.EnqueueRaw(ctx, "journal_entry", json.RawMessage(`{}`))
	assert.True(t, apperrors.Is(err, apperrors.ErrUnknownActionType), "got %v", err)

	_, err = f.queue.EnqueueRaw(ctx, models.ActionDailyCycleUpdate, json.RawMessage(`{"cycleDate":"2026-03-08","phase":"dusk"}`))
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidPayload), "got %v", err)

	n, err := f.queue.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// TestEnqueueRaw verifies raw payloads are normalized through their variant.
func TestEnqueueRaw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.queue.EnqueueRaw(ctx, models.ActionDailyCycleUpdate,
		json.RawMessage(`{"cycleDate":"2026-03-08","phase":"morning","data":{"intention":"focus"}}`))
	require.NoError(t, err)

	pending, err := f.queue.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.JSONEq(t, `{"cycleDate":"2026-03-08","phase":"morning","data":{"intention":"focus"}}`, string(pending[0].Payload))
}

// TestEnqueue_storageError verifies store failures surface as STORAGE_ERROR.
func TestEnqueue_storageError(t *testing.T) {
	f := newFixture(t)
	f.store.FailWrites = errors.New("quota exceeded")

	_, err := f.queue.Enqueue(context.Background(), slider(1, 10))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))
	assert.Contains(t, err.Error(), "quota exceeded")
}

// =====================================================
// Drain Tests
// =====================================================

// TestDrain_removesOnSuccess verifies an accepted action leaves the queue.
func TestDrain_removesOnSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.queue.Enqueue(ctx, slider(2, 30))
	require.NoError(t, err)

	result, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 0, result.Remaining)

	pending, err := f.queue.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 1, f.listener.synced)
	assert.Equal(t, 0, f.listener.lastCount())
}

// TestDrain_retryCeiling verifies an always-failing action is dropped after three passes.
func TestDrain_retryCeiling(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.endpoint.result = transient

	_, err := f.queue.Enqueue(ctx, slider(3, 45))
	require.NoError(t, err)

	for pass := 1; pass <= 2; pass++ {
		result, err := f.queue.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Retried, "pass %d", pass)

		pending, err := f.queue.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, pass, pending[0].RetryCount)
	}

	result, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Dropped)

	pending, err := f.queue.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.Len(t, f.listener.failures, 1)
	assert.Equal(t, 3, f.listener.failures[0].RetryCount)
	assert.Len(t, f.endpoint.Calls(), 3)
}

// TestDrain_ordering verifies actions are replayed in enqueue order.
func TestDrain_ordering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	idA, err := f.queue.Enqueue(ctx, slider(1, 10))
	require.NoError(t, err)
	idB, err := f.queue.Enqueue(ctx, models.DailyCycleUpdatePayload{CycleDate: "2026-03-08", Phase: models.PhaseMorning})
	require.NoError(t, err)
	idC, err := f.queue.Enqueue(ctx, slider(1, 20))
	require.NoError(t, err)

	_, err = f.queue.Drain(ctx)
	require.NoError(t, err)

	calls := f.endpoint.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, []int64{idA, idB, idC}, []int64{calls[0].ID, calls[1].ID, calls[2].ID})
	assert.True(t, calls[0].Timestamp.Before(calls[1].Timestamp))
	assert.True(t, calls[1].Timestamp.Before(calls[2].Timestamp))
}

// TestDrain_failureDoesNotBlockLater verifies a failing action keeps its
// place while later actions still go out in order.
func TestDrain_failureDoesNotBlockLater(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	idA, _ := f.queue.Enqueue(ctx, slider(1, 10))
	idB, _ := f.queue.Enqueue(ctx, slider(1, 20))
	f.endpoint.result = func(_ int, a models.QueuedAction) error {
		if a.ID == idA {
			return apperrors.New(apperrors.ErrRemoteTransient, "timeout")
		}
		return nil
	}

	result, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Retried)
	assert.Equal(t, 1, result.Remaining)

	pending, _ := f.queue.ListPending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, idA, pending[0].ID)
	assert.NotEqual(t, idB, pending[0].ID)
	assert.Equal(t, 0, f.listener.synced)
}

// TestDrain_clientErrorRetried verifies a 4xx from the backend keeps the
// action queued and counts toward the retry ceiling.
func TestDrain_clientErrorRetried(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer backend.Close()

	store := db.NewMemoryStore()
	listener := &recordingListener{}
	client := syncpkg.NewTRPCClient(&syncpkg.TRPCConfig{BaseURL: backend.URL})
	q := New(store, client.Registry(), &Config{Listener: listener})

	_, err := q.Enqueue(ctx, slider(1, 10))
	require.NoError(t, err)

	result, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Dropped)
	assert.Equal(t, 1, result.Retried)
	assert.Equal(t, 1, result.Remaining)
	assert.Equal(t, int32(1), calls.Load())

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Empty(t, listener.failures)

	for i := 0; i < 2; i++ {
		_, err = q.Drain(ctx)
		require.NoError(t, err)
	}
	n, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "dropped once the ceiling is reached")
	assert.Len(t, listener.failures, 1)
	assert.Equal(t, int32(3), calls.Load())
}

// TestDrain_unknownTypeDropped verifies rows with an unknown type are skipped without dispatch.
func TestDrain_unknownTypeDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Simulate a row written by a newer app version.
	require.NoError(t, f.store.InsertAction(ctx, &models.QueuedAction{
		Type: "journal_entry", Payload: json.RawMessage(`{}`), IdempotencyKey: idempotency.NewKey().String(),
	}))
	require.NoError(t, f.store.InsertAction(ctx, &models.QueuedAction{
		Type: models.ActionSliderCalibration, Payload: json.RawMessage(`{broken`), IdempotencyKey: idempotency.NewKey().String(),
	}))
	_, err := f.queue.Enqueue(ctx, slider(1, 10))
	require.NoError(t, err)

	result, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Dropped)
	assert.Equal(t, 1, result.Succeeded)
	assert.Len(t, f.endpoint.Calls(), 1, "undecodable rows must never be dispatched")
}

// TestDrain_unmappedType verifies a known type with no endpoint is dropped.
func TestDrain_unmappedType(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	q := New(store, syncpkg.NewRegistry(), nil)

	_, err := q.Enqueue(ctx, slider(1, 10))
	require.NoError(t, err)

	result, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Dropped)
}

// TestDrain_idempotencyKeyStable verifies retries reuse the same key.
func TestDrain_idempotencyKeyStable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.endpoint.result = func(call int, _ models.QueuedAction) error {
		if call < 3 {
			return apperrors.New(apperrors.ErrRemoteTransient, "502")
		}
		return nil
	}
	f.queue = New(f.store, f.queue.endpoints, &Config{MaxRetries: 5})

	_, err := f.queue.Enqueue(ctx, slider(1, 10))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := f.queue.Drain(ctx)
		require.NoError(t, err)
	}

	calls := f.endpoint.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, calls[0].IdempotencyKey, calls[1].IdempotencyKey)
	assert.Equal(t, calls[0].IdempotencyKey, calls[2].IdempotencyKey)

	n, _ := f.queue.PendingCount(ctx)
	assert.Equal(t, 0, n)
}

// TestDrain_concurrentCallsSkip verifies overlapping drains never dispatch twice.
func TestDrain_concurrentCallsSkip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	f.endpoint.result = func(int, models.QueuedAction) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	}

	for i := 0; i < 3; i++ {
		_, err := f.queue.Enqueue(ctx, slider(1, i))
		require.NoError(t, err)
	}

	done := make(chan syncpkg.DrainResult)
	go func() {
		r, _ := f.queue.Drain(ctx)
		done <- r
	}()
	<-entered

	for i := 0; i < 5; i++ {
		r, err := f.queue.Drain(ctx)
		require.NoError(t, err)
		assert.True(t, r.Skipped)
	}

	close(release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 3, first.Succeeded)
	assert.Len(t, f.endpoint.Calls(), 3)
}

// TestDrain_cancelled verifies cancellation leaves the in-flight action queued untouched.
func TestDrain_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t)
	f.endpoint.result = func(call int, _ models.QueuedAction) error {
		cancel()
		return context.Canceled
	}

	_, err := f.queue.Enqueue(context.Background(), slider(1, 10))
	require.NoError(t, err)
	_, err = f.queue.Enqueue(context.Background(), slider(1, 20))
	require.NoError(t, err)

	result, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Retried)
	assert.Equal(t, 2, result.Remaining)
	assert.Len(t, f.endpoint.Calls(), 1)

	pending, _ := f.queue.ListPending(context.Background())
	require.Len(t, pending, 2)
	assert.Equal(t, 0, pending[0].RetryCount)
}

// TestDrain_storageErrorAborts verifies a failing store stops the pass with STORAGE_ERROR.
func TestDrain_storageErrorAborts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.queue.Enqueue(ctx, slider(1, 10))
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, slider(1, 20))
	require.NoError(t, err)

	f.store.FailWrites = errors.New("database is locked")

	_, err = f.queue.Drain(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorage))
	assert.Len(t, f.endpoint.Calls(), 1, "the pass stops at the first storage failure")
}

// TestDrain_empty verifies an empty queue reports fully synced.
func TestDrain_empty(t *testing.T) {
	f := newFixture(t)

	result, err := f.queue.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, syncpkg.DrainResult{Duration: result.Duration}, result)
	assert.Equal(t, 1, f.listener.synced)
}

// TestDrain_sqliteStore runs the main flow against the real SQLite store.
func TestDrain_sqliteStore(t *testing.T) {
	ctx := context.Background()
	database, err := db.OpenMigrated(ctx, t.TempDir())
	require.NoError(t, err)
	defer database.Close()

	endpoint := &recordingEndpoint{result: func(call int, _ models.QueuedAction) error {
		if call == 1 {
			return apperrors.New(apperrors.ErrRemoteTransient, "503")
		}
		return nil
	}}
	reg := syncpkg.NewRegistry()
	require.NoError(t, reg.Register(models.ActionSliderCalibration, endpoint))
	q := New(db.NewRepository(database.DB), reg, nil)

	_, err = q.Enqueue(ctx, slider(9, 99))
	require.NoError(t, err)

	r1, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, r1.Retried)

	r2, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, r2.Succeeded)
	assert.Equal(t, 0, r2.Remaining)
}

// TestNew_defaults verifies default configuration.
func TestNew_defaults(t *testing.T) {
	q := New(db.NewMemoryStore(), syncpkg.NewRegistry(), nil)
	assert.Equal(t, DefaultMaxRetries, q.MaxRetries())
	assert.NotNil(t, q.now)
	assert.IsType(t, NopListener{}, q.notify())

	q.SetListener(nil)
	assert.IsType(t, NopListener{}, q.notify())
}
