package models

import "time"

// DateLayout is the calendar-date format used by cycle dates.
const DateLayout = "2006-01-02"

// DailyCycleRecord is one day's check-in state. At most one exists per date.
type DailyCycleRecord struct {
	CycleDate               string    `db:"cycle_date" json:"cycleDate"`
	IsComplete              bool      `db:"is_complete" json:"isComplete"`
	CompletedViaGracePeriod *bool     `db:"completed_via_grace_period" json:"completedViaGracePeriod,omitempty"`
	MorningCompleted        bool      `db:"morning_completed" json:"morningCompleted"`
	MiddayCompleted         bool      `db:"midday_completed" json:"middayCompleted"`
	EveningCompleted        bool      `db:"evening_completed" json:"eveningCompleted"`
	UpdatedAt               time.Time `db:"updated_at" json:"updatedAt"`
}

// TableName returns the table name for DailyCycleRecord.
func (DailyCycleRecord) TableName() string {
	return "daily_cycles"
}

// IsCompleteByPhases reports whether all three phases are done.
func (r DailyCycleRecord) IsCompleteByPhases() bool {
	return r.MorningCompleted && r.MiddayCompleted && r.EveningCompleted
}

// MarkPhase sets the flag for phase and recomputes IsComplete.
// It reports false for an unknown phase.
func (r *DailyCycleRecord) MarkPhase(phase CyclePhase) bool {
	switch phase {
	case PhaseMorning:
		r.MorningCompleted = true
	case PhaseMidday:
		r.MiddayCompleted = true
	case PhaseEvening:
		r.EveningCompleted = true
	default:
		return false
	}
	r.IsComplete = r.IsCompleteByPhases()
	return true
}
