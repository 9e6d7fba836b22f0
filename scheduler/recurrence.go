package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"shorts-pipeline/types"
)

// ErrEnded is returned when the next occurrence falls after the entry's
// end date.
var ErrEnded = errors.New("schedule past end date")

type civil struct {
	year  int
	month time.Month
	day   int
}

func civilOf(t time.Time) civil {
	y, m, d := t.Date()
	return civil{y, m, d}
}

func (c civil) utc() time.Time {
	return time.Date(c.year, c.month, c.day, 0, 0, 0, 0, time.UTC)
}

func (c civil) after(o civil) bool { return c.utc().After(o.utc()) }

// rule is a parsed recurrence.
type rule struct {
	unit      string
	hour, min int
	loc       *time.Location
	anchor    civil
	start     *civil
	end       *civil
}

func parseRule(e *types.ScheduleEntry, now time.Time) (rule, error) {
	r := rule{unit: e.Recurrence}
	switch e.Recurrence {
	case types.RecurDaily, types.RecurWeekly, types.RecurMonthly:
	default:
		return r, errors.Newf("unknown recurrence %q", e.Recurrence)
	}

	loc := time.UTC
	if e.Timezone != "" {
		l, err := time.LoadLocation(e.Timezone)
		if err != nil {
			return r, errors.Wrapf(err, "timezone %q", e.Timezone)
		}
		loc = l
	}
	r.loc = loc

	h, m, err := parseTimeOfDay(e.TimeOfDay)
	if err != nil {
		return r, err
	}
	r.hour, r.min = h, m

	if e.StartDate != "" {
		d, err := time.ParseInLocation(types.DateLayout, e.StartDate, loc)
		if err != nil {
			return r, errors.Wrapf(err, "start date %q", e.StartDate)
		}
		c := civilOf(d)
		r.start = &c
	}
	if e.EndDate != "" {
		d, err := time.ParseInLocation(types.DateLayout, e.EndDate, loc)
		if err != nil {
			return r, errors.Wrapf(err, "end date %q", e.EndDate)
		}
		c := civilOf(d)
		r.end = &c
	}

	switch {
	case r.start != nil:
		r.anchor = *r.start
	case !e.NextRun.IsZero():
		r.anchor = civilOf(e.NextRun.In(loc))
	default:
		r.anchor = civilOf(now.In(loc))
	}
	return r, nil
}

func parseTimeOfDay(s string) (int, int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if !ok || errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, errors.Newf("invalid time of day %q, want HH:MM", s)
	}
	return h, m, nil
}

// at is the wall-clock occurrence on day c.
func (r rule) at(c civil) time.Time {
	return time.Date(c.year, c.month, c.day, r.hour, r.min, 0, 0, r.loc)
}

// step returns the occurrence date k periods after the anchor. Monthly
// rules keep the anchor's day of month, clamped to short months.
func (r rule) step(k int) civil {
	switch r.unit {
	case types.RecurDaily:
		return civilOf(r.anchor.utc().AddDate(0, 0, k))
	case types.RecurWeekly:
		return civilOf(r.anchor.utc().AddDate(0, 0, 7*k))
	default:
		first := time.Date(r.anchor.year, r.anchor.month+time.Month(k), 1, 0, 0, 0, 0, time.UTC)
		last := first.AddDate(0, 1, -1).Day()
		return civil{first.Year(), first.Month(), min(r.anchor.day, last)}
	}
}

// periodsBetween estimates how many whole periods separate the anchor
// from c. It may undershoot by one.
func (r rule) periodsBetween(c civil) int {
	switch r.unit {
	case types.RecurDaily:
		return int(c.utc().Sub(r.anchor.utc()).Hours() / 24)
	case types.RecurWeekly:
		return int(c.utc().Sub(r.anchor.utc()).Hours() / (24 * 7))
	default:
		return (c.year-r.anchor.year)*12 + int(c.month-r.anchor.month) - 1
	}
}

func (r rule) ended(c civil) bool {
	return r.end != nil && c.after(*r.end)
}

// PinStart fills an empty StartDate with now's date in the entry's
// timezone. Monthly rules anchor their day of month on it.
func PinStart(e *types.ScheduleEntry, now time.Time) error {
	if e.StartDate != "" {
		return nil
	}
	r, err := parseRule(e, now)
	if err != nil {
		return err
	}
	e.StartDate = now.In(r.loc).Format(types.DateLayout)
	return nil
}

// ComputeNextRun returns the first occurrence strictly after now, never
// before the start date. ErrEnded means the entry has no further runs.
func ComputeNextRun(e *types.ScheduleEntry, now time.Time) (time.Time, error) {
	r, err := parseRule(e, now)
	if err != nil {
		return time.Time{}, err
	}
	k := max(0, r.periodsBetween(civilOf(now.In(r.loc))))
	day := r.step(k)
	for !r.at(day).After(now) {
		k++
		day = r.step(k)
	}
	if r.ended(day) {
		return time.Time{}, ErrEnded
	}
	return r.at(day), nil
}

// Advance moves NextRun exactly one period past its current value, on
// the wall clock of the entry's timezone, and deactivates the entry when
// that falls after the end date. An unset NextRun is computed from now.
func Advance(e *types.ScheduleEntry, now time.Time) error {
	if e.NextRun.IsZero() {
		next, err := ComputeNextRun(e, now)
		if errors.Is(err, ErrEnded) {
			e.Active = false
			return nil
		}
		if err != nil {
			return err
		}
		e.NextRun = next
		return nil
	}

	r, err := parseRule(e, now)
	if err != nil {
		return err
	}
	current := civilOf(e.NextRun.In(r.loc))
	var day civil
	if r.unit == types.RecurMonthly {
		k := r.periodsBetween(current)
		for !r.step(k).after(current) {
			k++
		}
		day = r.step(k)
	} else {
		days := 1
		if r.unit == types.RecurWeekly {
			days = 7
		}
		day = civilOf(current.utc().AddDate(0, 0, days))
	}
	if r.ended(day) {
		e.Active = false
		return nil
	}
	e.NextRun = r.at(day)
	return nil
}
