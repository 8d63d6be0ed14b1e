package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/destinyhacking/app/backend/internal/errors"
	"github.com/destinyhacking/app/backend/internal/logging"
	"github.com/destinyhacking/app/backend/internal/models"
)

// Reminder is a daily check-in nudge for one cycle phase, fired every day at
// Hour:Minute in the scheduler's time zone.
type Reminder struct {
	ID     string            `json:"id" yaml:"id"`
	Phase  models.CyclePhase `json:"phase" yaml:"phase"`
	Hour   int               `json:"hour" yaml:"hour"`
	Minute int               `json:"minute" yaml:"minute"`
}

// Validate checks the reminder fields.
func (r Reminder) Validate() error {
	if r.ID == "" {
		return errors.New(errors.ErrValidation, "reminder id is required")
	}
	switch r.Phase {
	case models.PhaseMorning, models.PhaseMidday, models.PhaseEvening:
	default:
		return errors.New(errors.ErrValidation, fmt.Sprintf("reminder %s: unknown phase %q", r.ID, r.Phase))
	}
	if r.Hour < 0 || r.Hour > 23 || r.Minute < 0 || r.Minute > 59 {
		return errors.New(errors.ErrValidation, fmt.Sprintf("reminder %s: invalid time %02d:%02d", r.ID, r.Hour, r.Minute))
	}
	return nil
}

// Timer is the subset of *time.Timer the reminder scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. The default wraps time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ReminderScheduler owns one cancellable timer per reminder ID.
//
// Thread-safety: all methods are safe for concurrent use. The fire callback
// runs on the timer goroutine.
type ReminderScheduler struct {
	mu        sync.Mutex
	timers    map[string]Timer
	reminders map[string]Reminder
	fire      func(Reminder, time.Time)
	now       func() time.Time
	loc       *time.Location
	afterFunc AfterFunc
}

// ReminderConfig holds reminder scheduler dependencies. Zero values fall
// back to the host clock and time.Local.
type ReminderConfig struct {
	Location  *time.Location
	Now       func() time.Time
	AfterFunc AfterFunc
}

// NewReminderScheduler creates a ReminderScheduler that calls fire when a
// reminder is due.
func NewReminderScheduler(fire func(Reminder, time.Time), config *ReminderConfig) *ReminderScheduler {
	if config == nil {
		config = &ReminderConfig{}
	}
	rs := &ReminderScheduler{
		timers:    make(map[string]Timer),
		reminders: make(map[string]Reminder),
		fire:      fire,
		now:       config.Now,
		loc:       config.Location,
		afterFunc: config.AfterFunc,
	}
	if rs.now == nil {
		rs.now = time.Now
	}
	if rs.loc == nil {
		rs.loc = time.Local
	}
	if rs.afterFunc == nil {
		rs.afterFunc = realAfterFunc
	}
	return rs
}

// Schedule arms r, replacing any reminder with the same ID.
func (rs *ReminderScheduler) Schedule(r Reminder) error {
	if err := r.Validate(); err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if t, ok := rs.timers[r.ID]; ok {
		t.Stop()
	}
	rs.reminders[r.ID] = r
	rs.arm(r, rs.now())
	return nil
}

// arm schedules the first occurrence of r after from. Must be called with rs.mu held.
func (rs *ReminderScheduler) arm(r Reminder, from time.Time) {
	now := rs.now()
	next := NextOccurrence(r, from, rs.loc)
	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	rs.timers[r.ID] = rs.afterFunc(delay, func() { rs.onFire(r.ID, next) })

	logging.Debug("Reminder armed", map[string]interface{}{
		"reminder_id": r.ID,
		"next":        next.Format(time.RFC3339),
	})
}

func (rs *ReminderScheduler) onFire(id string, at time.Time) {
	rs.mu.Lock()
	r, ok := rs.reminders[id]
	if !ok {
		rs.mu.Unlock()
		return
	}
	// Re-arm from the due time so a timer that fires early cannot repeat it.
	from := rs.now()
	if from.Before(at) {
		from = at
	}
	rs.arm(r, from)
	rs.mu.Unlock()

	if rs.fire != nil {
		rs.fire(r, at)
	}
}

// Cancel stops and forgets the reminder with id. It reports whether one existed.
func (rs *ReminderScheduler) Cancel(id string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	t, ok := rs.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(rs.timers, id)
	delete(rs.reminders, id)
	return true
}

// CancelAll stops every reminder.
func (rs *ReminderScheduler) CancelAll() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for id, t := range rs.timers {
		t.Stop()
		delete(rs.timers, id)
	}
	rs.reminders = make(map[string]Reminder)
}

// Scheduled returns the armed reminders sorted by ID.
func (rs *ReminderScheduler) Scheduled() []Reminder {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	out := make([]Reminder, 0, len(rs.reminders))
	for _, r := range rs.reminders {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextOccurrence returns the first Hour:Minute in loc strictly after now.
func NextOccurrence(r Reminder, now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	next := time.Date(y, m, d, r.Hour, r.Minute, 0, 0, loc)
	if !next.After(now) {
		next = time.Date(y, m, d+1, r.Hour, r.Minute, 0, 0, loc)
	}
	return next
}
