// Package models provides data model definitions for the Destiny Hacking backend.
package models

import (
	"encoding/json"
	"time"
)

// ActionType names a kind of user mutation the offline queue can replay.
type ActionType string

const (
	ActionSliderCalibration ActionType = "slider_calibration"
	ActionDailyCycleUpdate  ActionType = "daily_cycle_update"
)

// ActionTypes lists every recognized action type.
var ActionTypes = []ActionType{ActionSliderCalibration, ActionDailyCycleUpdate}

// Known reports whether t is a recognized action type.
func (t ActionType) Known() bool {
	for _, known := range ActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// QueuedAction is a user mutation waiting to be replayed against the backend.
// Only RetryCount changes after insert.
type QueuedAction struct {
	ID             int64           `db:"id" json:"id"`
	Type           ActionType      `db:"type" json:"type"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	Timestamp      time.Time       `db:"timestamp" json:"timestamp"`
	RetryCount     int             `db:"retry_count" json:"retryCount"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotencyKey"`
}

// TableName returns the table name for QueuedAction.
func (QueuedAction) TableName() string {
	return "queued_actions"
}
