// Package scheduler drives the offline queue: it tracks connectivity, drains
// on reconnect and retries pending actions on a fixed interval.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/destinyhacking/app/backend/internal/errors"
	"github.com/destinyhacking/app/backend/internal/logging"
	syncpkg "github.com/destinyhacking/app/backend/internal/sync"
)

// Scheduler manages background drain operations.
type Scheduler struct {
	drainer       syncpkg.Drainer
	prober        syncpkg.ConnectivityProber
	drainInterval time.Duration
	probeInterval time.Duration
	drainTimeout  time.Duration
	probeTimeout  time.Duration

	wg              sync.WaitGroup
	mu              sync.RWMutex
	runCtx          context.Context
	cancel          context.CancelFunc
	isRunning       bool
	isOnline        bool
	lastDrainTime   time.Time
	lastResult      *syncpkg.DrainResult
	drainInProgress bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	DrainInterval time.Duration // How often to drain when online (default: 1 minute)
	ProbeInterval time.Duration // How often to check connectivity (default: 30 seconds)
	DrainTimeout  time.Duration // Upper bound for one pass (default: 5 minutes)
	ProbeTimeout  time.Duration // default: 10 seconds
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		DrainInterval: 1 * time.Minute,
		ProbeInterval: 30 * time.Second,
		DrainTimeout:  5 * time.Minute,
		ProbeTimeout:  10 * time.Second,
	}
}

// NewScheduler creates a new Scheduler. prober may be nil, in which case
// connectivity is only changed through SetOnlineStatus and the scheduler
// starts out online. With a prober it starts offline until the first probe.
func NewScheduler(drainer syncpkg.Drainer, prober syncpkg.ConnectivityProber, config *SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}

	s := &Scheduler{
		drainer:       drainer,
		prober:        prober,
		drainInterval: config.DrainInterval,
		probeInterval: config.ProbeInterval,
		drainTimeout:  config.DrainTimeout,
		probeTimeout:  config.ProbeTimeout,
		runCtx:        context.Background(),
		isOnline:      prober == nil,
	}
	if s.drainInterval <= 0 {
		s.drainInterval = defaults.DrainInterval
	}
	if s.probeInterval <= 0 {
		s.probeInterval = defaults.ProbeInterval
	}
	if s.drainTimeout <= 0 {
		s.drainTimeout = defaults.DrainTimeout
	}
	if s.probeTimeout <= 0 {
		s.probeTimeout = defaults.ProbeTimeout
	}
	return s
}

// Start starts the background loops. They run until ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.runCtx, s.cancel = context.WithCancel(ctx)
	runCtx := s.runCtx
	s.mu.Unlock()

	s.wg.Add(1)
	go s.periodicDrainLoop(runCtx)

	if s.prober != nil {
		s.wg.Add(1)
		go s.probeLoop(runCtx)
	}

	logging.Info("Background drain scheduler started", map[string]interface{}{
		"drain_interval": s.drainInterval.String(),
		"probing":        s.prober != nil,
	})
}

// Stop stops the background loops and waits for them and any drain they
// started to return. A drain interrupted this way leaves its current action
// queued.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.cancel()
	s.runCtx = context.Background()
	s.mu.Unlock()

	s.wg.Wait()

	logging.Info("Background drain scheduler stopped", nil)
}

// SetOnlineStatus records the connectivity signal. An offline to online
// transition triggers an immediate drain.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	ctx := s.runCtx
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}

	logging.Info("Online status changed",
		map[string]interface{}{
			"was_online": wasOnline,
			"is_online":  isOnline,
		})

	if isOnline {
		s.TriggerDrain(ctx)
	}
}

// periodicDrainLoop retries pending actions while online.
func (s *Scheduler) periodicDrainLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			s.runDrain(ctx)
		}
	}
}

// probeLoop feeds the prober's answer into SetOnlineStatus, once at start
// and then on every tick.
func (s *Scheduler) probeLoop(ctx context.Context) {
	defer s.wg.Done()

	s.probe(ctx)

	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probe(ctx)
		}
	}
}

func (s *Scheduler) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	online := s.prober.Probe(probeCtx)
	if ctx.Err() != nil {
		return
	}
	s.SetOnlineStatus(online)
}

// runDrain executes one drain pass unless offline or one is already running.
func (s *Scheduler) runDrain(ctx context.Context) {
	if !s.IsOnline() {
		logging.Debug("Skipping drain - scheduler is offline", nil)
		return
	}

	s.mu.Lock()
	if s.drainInProgress {
		s.mu.Unlock()
		logging.Debug("Drain already in progress, skipping", nil)
		return
	}
	s.drainInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.drainInProgress = false
		s.mu.Unlock()
	}()

	if _, err := s.drain(ctx); err != nil {
		logging.ErrorWithCode("Background drain failed", string(errors.CodeOf(err)), err,
			map[string]interface{}{"interval_seconds": s.drainInterval.Seconds()})
	}
}

func (s *Scheduler) drain(ctx context.Context) (syncpkg.DrainResult, error) {
	drainCtx, cancel := context.WithTimeout(ctx, s.drainTimeout)
	defer cancel()

	result, err := s.drainer.Drain(drainCtx)
	if err != nil || result.Skipped {
		return result, err
	}

	s.mu.Lock()
	s.lastDrainTime = time.Now()
	s.lastResult = &result
	s.mu.Unlock()
	return result, nil
}

// TriggerDrain starts a drain in the background.
// Returns true if a drain was started, false if offline or one is already in progress.
func (s *Scheduler) TriggerDrain(ctx context.Context) bool {
	s.mu.Lock()
	if s.drainInProgress || !s.isOnline {
		s.mu.Unlock()
		return false
	}
	// Counted under the lock so Stop either waits for it or it runs untracked.
	tracked := s.isRunning
	if tracked {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	go func() {
		if tracked {
			defer s.wg.Done()
		}
		s.runDrain(ctx)
	}()
	return true
}

// DrainNow runs a drain pass and waits for it. It fails with an OFFLINE
// error when the scheduler believes the backend is unreachable.
func (s *Scheduler) DrainNow(ctx context.Context) (syncpkg.DrainResult, error) {
	if !s.IsOnline() {
		return syncpkg.DrainResult{}, errors.New(errors.ErrOffline, "backend is unreachable")
	}

	result, err := s.drain(ctx)
	if err != nil {
		return result, err
	}
	if result.Skipped {
		logging.Debug("Manual drain overlapped a running pass", nil)
	}
	return result, nil
}

// SchedulerStatus is a snapshot of the scheduler state.
type SchedulerStatus struct {
	IsRunning       bool                 `json:"isRunning"`
	IsOnline        bool                 `json:"isOnline"`
	LastDrainTime   *time.Time           `json:"lastDrainTime,omitempty"`
	LastResult      *syncpkg.DrainResult `json:"lastResult,omitempty"`
	DrainInProgress bool                 `json:"drainInProgress"`
	PendingItems    int                  `json:"pendingItems"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus(ctx context.Context) SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:       s.isRunning,
		IsOnline:        s.isOnline,
		DrainInProgress: s.drainInProgress,
	}
	if !s.lastDrainTime.IsZero() {
		t := s.lastDrainTime
		status.LastDrainTime = &t
	}
	if s.lastResult != nil {
		r := *s.lastResult
		status.LastResult = &r
	}
	s.mu.RUnlock()

	if n, err := s.drainer.PendingCount(ctx); err == nil {
		status.PendingItems = n
	} else {
		logging.Warn("Failed to read pending count", map[string]interface{}{"error": err.Error()})
	}
	return status
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
