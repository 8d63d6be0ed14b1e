// Package streak computes consecutive-day completion streaks over daily
// check-in records, honoring a one-day grace window for a missed day.
package streak

import (
	"sort"
	"time"

	"github.com/destinyhacking/app/backend/internal/logging"
	"github.com/destinyhacking/app/backend/internal/models"
)

// GraceStatus describes the grace window for one missed date.
// ExpiresAt and HoursRemaining are set only while the window is open.
type GraceStatus struct {
	Available      bool       `json:"available"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	HoursRemaining *int       `json:"hoursRemaining,omitempty"`
}

// Summary bundles the values shown on the streak badge.
type Summary struct {
	CurrentStreak int          `json:"currentStreak"`
	LongestStreak int          `json:"longestStreak"`
	Today         string       `json:"today"`
	TodayComplete bool         `json:"todayComplete"`
	TodayGrace    *GraceStatus `json:"todayGrace,omitempty"`
}

// Calculator evaluates streaks against a wall clock in one time zone.
// It is pure and safe for concurrent use.
type Calculator struct {
	now func() time.Time
	loc *time.Location
}

// NewCalculator creates a Calculator. A nil loc means time.Local and a nil
// now means time.Now.
func NewCalculator(loc *time.Location, now func() time.Time) *Calculator {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Calculator{now: now, loc: loc}
}

// Location returns the calculator's time zone.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

// Today returns the current calendar date in the calculator's zone.
func (c *Calculator) Today() string {
	return c.today().Format(models.DateLayout)
}

// GracePeriodStatus reports whether missedDate can still be completed without
// breaking the streak. The window closes at local midnight two calendar days
// after missedDate, that is at the end of the following day. An unparseable
// date has no window.
func (c *Calculator) GracePeriodStatus(missedDate string) GraceStatus {
	d, ok := parseDate(missedDate)
	if !ok {
		return GraceStatus{}
	}
	return c.graceFor(d)
}

func (c *Calculator) graceFor(d time.Time) GraceStatus {
	// Built from Y/M/D in loc so a DST shift inside the window is absorbed.
	expiry := time.Date(d.Year(), d.Month(), d.Day()+2, 0, 0, 0, 0, c.loc)
	now := c.now()
	if !now.Before(expiry) {
		return GraceStatus{}
	}
	hours := int(expiry.Sub(now) / time.Hour)
	return GraceStatus{
		Available:      true,
		ExpiresAt:      &expiry,
		HoursRemaining: &hours,
	}
}

// CurrentStreak counts consecutive complete days ending today or yesterday.
//
// Records are walked newest first. A complete record extends the streak when
// it is today or yesterday (first counted) or exactly one day before the last
// counted record. An incomplete record for today or yesterday is skipped while
// its grace window is open and ends the walk once it has closed. Any other
// incomplete record, or a gap, ends the walk.
func (c *Calculator) CurrentStreak(records []models.DailyCycleRecord) int {
	days := c.normalize(records)
	if len(days) == 0 {
		return 0
	}

	today := c.today()
	yesterday := today.AddDate(0, 0, -1)
	recent := func(d time.Time) bool { return d.Equal(today) || d.Equal(yesterday) }

	if !recent(days[0].date) {
		return 0
	}

	count := 0
	var last time.Time
	for _, d := range days {
		if d.complete {
			if count == 0 {
				if !recent(d.date) {
					break
				}
			} else if daysApart(d.date, last) != 1 {
				break
			}
			count++
			last = d.date
			continue
		}

		if recent(d.date) && c.graceFor(d.date).Available {
			continue
		}
		break
	}
	return count
}

// LongestStreak returns the longest run of consecutive complete days found
// anywhere in records. Grace windows do not apply.
func (c *Calculator) LongestStreak(records []models.DailyCycleRecord) int {
	days := c.normalize(records)

	best, run := 0, 0
	var prev time.Time
	// days is newest first; walk oldest first.
	for i := len(days) - 1; i >= 0; i-- {
		d := days[i]
		if !d.complete {
			run = 0
			continue
		}
		if run > 0 && daysApart(prev, d.date) == 1 {
			run++
		} else {
			run = 1
		}
		prev = d.date
		if run > best {
			best = run
		}
	}
	return best
}

// Summarize computes the badge values for records.
func (c *Calculator) Summarize(records []models.DailyCycleRecord) Summary {
	today := c.Today()
	s := Summary{
		CurrentStreak: c.CurrentStreak(records),
		LongestStreak: c.LongestStreak(records),
		Today:         today,
	}
	for _, r := range records {
		if r.CycleDate == today && r.IsComplete {
			s.TodayComplete = true
			break
		}
	}
	if !s.TodayComplete {
		g := c.GracePeriodStatus(today)
		s.TodayGrace = &g
	}
	return s
}

// DaysBetween returns the number of calendar days from a to b, each taken
// on its own wall-clock date. It is negative when b is before a.
func DaysBetween(a, b time.Time) int {
	return daysApart(civil(a), civil(b))
}

type day struct {
	date     time.Time
	complete bool
}

// normalize parses, deduplicates and sorts records newest first. For a
// repeated date a complete record wins. Unparseable and future dates are
// dropped.
func (c *Calculator) normalize(records []models.DailyCycleRecord) []day {
	today := c.today()
	byDate := make(map[time.Time]bool, len(records))
	for _, r := range records {
		d, ok := parseDate(r.CycleDate)
		if !ok {
			logging.Debug("Skipping cycle record with invalid date", map[string]interface{}{
				"cycle_date": r.CycleDate,
			})
			continue
		}
		if d.After(today) {
			continue
		}
		byDate[d] = byDate[d] || r.IsComplete
	}

	days := make([]day, 0, len(byDate))
	for d, complete := range byDate {
		days = append(days, day{date: d, complete: complete})
	}
	sort.Slice(days, func(i, j int) bool {
		return days[i].date.After(days[j].date)
	})
	return days
}

func (c *Calculator) today() time.Time {
	return civil(c.now().In(c.loc))
}

// civil maps t's wall-clock date to midnight UTC. UTC has no DST, so the
// difference between two civil dates is always a whole number of days.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func daysApart(a, b time.Time) int {
	return int(b.Sub(a) / (24 * time.Hour))
}
