// Package db provides repository operations for queued actions and daily cycles.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/destinyhacking/app/backend/internal/models"
)

// Repository provides persistence for all models.
type Repository struct {
	db *sql.DB

	// Prepared statements are created on first use and reused.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// QueuedAction Operations
// =====================================================

// InsertAction stores a new action and sets its autoincrement ID.
func (r *Repository) InsertAction(ctx context.Context, action *models.QueuedAction) error {
	query := `
	INSERT INTO queued_actions (type, payload, timestamp_ms, retry_count, idempotency_key)
	VALUES (?, ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, query, string(action.Type), string(action.Payload),
		action.Timestamp.UnixMilli(), action.RetryCount, action.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("failed to insert action: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read action id: %w", err)
	}
	action.ID = id
	return nil
}

// ListActions returns every stored action, oldest first.
func (r *Repository) ListActions(ctx context.Context) ([]models.QueuedAction, error) {
	stmt, err := r.PrepareStmt(ctx, `
	SELECT id, type, payload, timestamp_ms, retry_count, idempotency_key
	FROM queued_actions ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var actions []models.QueuedAction
	for rows.Next() {
		var a models.QueuedAction
		var typ, payload string
		var tsMillis int64
		if err := rows.Scan(&a.ID, &typ, &payload, &tsMillis, &a.RetryCount, &a.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		a.Type = models.ActionType(typ)
		a.Payload = json.RawMessage(payload)
		a.Timestamp = time.UnixMilli(tsMillis)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// DeleteAction removes an action. Deleting a missing ID is not an error.
func (r *Repository) DeleteAction(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM queued_actions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete action %d: %w", id, err)
	}
	return nil
}

// IncrementRetry bumps an action's retry count and returns the new value.
func (r *Repository) IncrementRetry(ctx context.Context, id int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"UPDATE queued_actions SET retry_count = retry_count + 1 WHERE id = ? RETURNING retry_count", id,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("action %d not found", id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment retry for action %d: %w", id, err)
	}
	return count, nil
}

// CountActions returns the number of stored actions.
func (r *Repository) CountActions(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM queued_actions").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count actions: %w", err)
	}
	return n, nil
}

// =====================================================
// DailyCycleRecord Operations
// =====================================================

// UpsertDailyCycle inserts or replaces the record for its date.
func (r *Repository) UpsertDailyCycle(ctx context.Context, rec *models.DailyCycleRecord) error {
	if _, err := time.Parse(models.DateLayout, rec.CycleDate); err != nil {
		return fmt.Errorf("invalid cycle date %q: %w", rec.CycleDate, err)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	var grace sql.NullBool
	if rec.CompletedViaGracePeriod != nil {
		grace = sql.NullBool{Bool: *rec.CompletedViaGracePeriod, Valid: true}
	}

	query := `
	INSERT INTO daily_cycles (cycle_date, is_complete, completed_via_grace_period,
		morning_completed, midday_completed, evening_completed, updated_at_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(cycle_date) DO UPDATE SET
		is_complete = excluded.is_complete,
		completed_via_grace_period = excluded.completed_via_grace_period,
		morning_completed = excluded.morning_completed,
		midday_completed = excluded.midday_completed,
		evening_completed = excluded.evening_completed,
		updated_at_ms = excluded.updated_at_ms
	`
	_, err := r.db.ExecContext(ctx, query, rec.CycleDate, rec.IsComplete, grace,
		rec.MorningCompleted, rec.MiddayCompleted, rec.EveningCompleted, rec.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert daily cycle %s: %w", rec.CycleDate, err)
	}
	return nil
}

// GetDailyCycle returns the record for date, or sql.ErrNoRows.
func (r *Repository) GetDailyCycle(ctx context.Context, date string) (*models.DailyCycleRecord, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT cycle_date, is_complete, completed_via_grace_period,
		morning_completed, midday_completed, evening_completed, updated_at_ms
	FROM daily_cycles WHERE cycle_date = ?
	`, date)
	rec, err := scanDailyCycle(row)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListDailyCycles returns every cached record, most recent first.
func (r *Repository) ListDailyCycles(ctx context.Context) ([]models.DailyCycleRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT cycle_date, is_complete, completed_via_grace_period,
		morning_completed, midday_completed, evening_completed, updated_at_ms
	FROM daily_cycles ORDER BY cycle_date DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily cycles: %w", err)
	}
	defer rows.Close()

	var records []models.DailyCycleRecord
	for rows.Next() {
		rec, err := scanDailyCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily cycle: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDailyCycle(s scanner) (models.DailyCycleRecord, error) {
	var rec models.DailyCycleRecord
	var grace sql.NullBool
	var updatedMillis int64
	if err := s.Scan(&rec.CycleDate, &rec.IsComplete, &grace,
		&rec.MorningCompleted, &rec.MiddayCompleted, &rec.EveningCompleted, &updatedMillis); err != nil {
		return rec, err
	}
	if grace.Valid {
		v := grace.Bool
		rec.CompletedViaGracePeriod = &v
	}
	rec.UpdatedAt = time.UnixMilli(updatedMillis)
	return rec, nil
}
