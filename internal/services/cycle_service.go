// Package services coordinates the daily-cycle cache, the offline queue and
// the streak calculator for the CLI and the local API.
package services

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/destinyhacking/app/backend/internal/db"
	"github.com/destinyhacking/app/backend/internal/errors"
	"github.com/destinyhacking/app/backend/internal/logging"
	"github.com/destinyhacking/app/backend/internal/models"
	"github.com/destinyhacking/app/backend/internal/streak"
)

// ActionEnqueuer persists a mutation for later replay.
type ActionEnqueuer interface {
	Enqueue(ctx context.Context, action models.Action) (int64, error)
}

// CycleService records check-in phases locally and queues them for the backend.
type CycleService struct {
	store db.DailyCycleStore
	queue ActionEnqueuer
	calc  *streak.Calculator
	now   func() time.Time
}

// NewCycleService creates a new CycleService.
func NewCycleService(store db.DailyCycleStore, queue ActionEnqueuer, calc *streak.Calculator) *CycleService {
	return &CycleService{
		store: store,
		queue: queue,
		calc:  calc,
		now:   time.Now,
	}
}

// RecordResult is the outcome of RecordPhase.
type RecordResult struct {
	Record   models.DailyCycleRecord `json:"record"`
	ActionID int64                   `json:"actionId"`
}

// RecordPhase marks phase done for date. The mutation is queued before the
// local cache is touched, so a failed enqueue leaves both unchanged. Once the
// enqueue succeeds the call succeeds: a failed cache write is logged and the
// result is still returned, so callers never re-queue the same phase.
func (s *CycleService) RecordPhase(ctx context.Context, date string, phase models.CyclePhase, data map[string]interface{}) (*RecordResult, error) {
	payload := models.DailyCycleUpdatePayload{CycleDate: date, Phase: phase, Data: data}
	if err := payload.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidPayload, "invalid daily cycle update", err)
	}

	rec, err := s.store.GetDailyCycle(ctx, date)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		rec = &models.DailyCycleRecord{CycleDate: date}
	case err != nil:
		return nil, errors.Wrap(errors.ErrStorage, "failed to load daily cycle", err)
	}

	wasComplete := rec.IsComplete
	rec.MarkPhase(phase)
	if !wasComplete && rec.IsComplete && s.calc != nil {
		// Finishing a past day is only possible while its grace window is open.
		if date != s.calc.Today() {
			viaGrace := s.calc.GracePeriodStatus(date).Available
			rec.CompletedViaGracePeriod = &viaGrace
		}
	}
	rec.UpdatedAt = s.now()

	id, err := s.queue.Enqueue(ctx, payload)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpsertDailyCycle(ctx, rec); err != nil {
		logging.ErrorWithCode("Failed to cache daily cycle", string(errors.ErrStorage), err, map[string]interface{}{
			"cycle_date": date,
			"phase":      string(phase),
			"action_id":  id,
		})
	}

	logging.Info("Recorded daily cycle phase", map[string]interface{}{
		"cycle_date": date,
		"phase":      string(phase),
		"complete":   rec.IsComplete,
		"action_id":  id,
	})
	return &RecordResult{Record: *rec, ActionID: id}, nil
}

// Records returns every cached record, most recent first.
func (s *CycleService) Records(ctx context.Context) ([]models.DailyCycleRecord, error) {
	records, err := s.store.ListDailyCycles(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to list daily cycles", err)
	}
	return records, nil
}

// Summary computes the streak badge from the local cache.
func (s *CycleService) Summary(ctx context.Context) (streak.Summary, error) {
	records, err := s.Records(ctx)
	if err != nil {
		return streak.Summary{}, err
	}
	return s.calc.Summarize(records), nil
}

// Grace reports the grace window for date.
func (s *CycleService) Grace(date string) (streak.GraceStatus, error) {
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return streak.GraceStatus{}, errors.New(errors.ErrInvalid, fmt.Sprintf("date %q is not YYYY-MM-DD", date))
	}
	return s.calc.GracePeriodStatus(date), nil
}
