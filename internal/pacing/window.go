package pacing

import (
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
)

const (
	defaultStartMinutes = 9 * 60
	defaultEndMinutes   = 17 * 60

	// alignment gives up after two weeks of candidate moves
	maxAlignSteps = 14
)

// Window is a company's allowed send window resolved against its timezone.
// The zero value is not usable; build one with NewWindow.
type Window struct {
	loc          *time.Location
	days         map[time.Weekday]bool
	startMinutes int
	endMinutes   int
	restricted   bool
}

// NewWindow builds a Window from stored settings. Unparseable clock values fall
// back to 09:00-17:00, an empty day list allows every day and a start after the
// end disables the hour restriction.
func NewWindow(settings domain.SendWindowSettings) Window {
	start, err := domain.ParseClockMinutes(settings.AllowedStartTime)
	if err != nil {
		start = defaultStartMinutes
	}
	end, err := domain.ParseClockMinutes(settings.AllowedEndTime)
	if err != nil {
		end = defaultEndMinutes
	}

	days := make(map[time.Weekday]bool, len(settings.AllowedDays))
	for _, d := range settings.AllowedDays {
		if d >= 0 && d <= 6 {
			days[time.Weekday(d)] = true
		}
	}

	return Window{
		loc:          settings.Location(),
		days:         days,
		startMinutes: start,
		endMinutes:   end,
		restricted:   settings.QuietHoursEnabled && start <= end,
	}
}

func (w Window) Location() *time.Location {
	if w.loc == nil {
		return time.UTC
	}
	return w.loc
}

func (w Window) dayAllowed(day time.Weekday) bool {
	return len(w.days) == 0 || w.days[day]
}

func (w Window) openingMinutes() int {
	if w.restricted {
		return w.startMinutes
	}
	return 0
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// atMinutes returns the instant minutes after local midnight on t's day, plus offsetDays.
func (w Window) atMinutes(t time.Time, offsetDays, minutes int) time.Time {
	local := t.In(w.Location())
	return time.Date(local.Year(), local.Month(), local.Day()+offsetDays, 0, minutes, 0, 0, w.Location())
}

// Contains reports whether t falls on an allowed day inside the allowed hours.
func (w Window) Contains(t time.Time) bool {
	local := t.In(w.Location())
	if !w.dayAllowed(local.Weekday()) {
		return false
	}
	if !w.restricted {
		return true
	}
	m := minutesOfDay(local)
	return m >= w.startMinutes && m < w.endMinutes
}

func (w Window) nextAllowedDayStart(t time.Time) time.Time {
	for i := 1; i <= 7; i++ {
		candidate := w.atMinutes(t, i, w.openingMinutes())
		if w.dayAllowed(candidate.Weekday()) {
			return candidate
		}
	}
	return w.atMinutes(t, 1, w.openingMinutes())
}

// Align returns t if it is inside the window, otherwise the start of the next
// allowed window.
func (w Window) Align(t time.Time) time.Time {
	candidate := t.In(w.Location())
	for i := 0; i < maxAlignSteps; i++ {
		if !w.dayAllowed(candidate.Weekday()) {
			candidate = w.nextAllowedDayStart(candidate)
			continue
		}
		if !w.restricted {
			return candidate
		}
		m := minutesOfDay(candidate)
		if m < w.startMinutes {
			return w.atMinutes(candidate, 0, w.startMinutes)
		}
		if m >= w.endMinutes {
			candidate = w.nextAllowedDayStart(candidate)
			continue
		}
		return candidate
	}
	return candidate
}

// Bounds returns the window that Align(t) falls into.
func (w Window) Bounds(t time.Time) (start time.Time, end time.Time) {
	aligned := w.Align(t)
	if !w.restricted {
		return w.atMinutes(aligned, 0, 0), w.atMinutes(aligned, 1, 0)
	}
	return w.atMinutes(aligned, 0, w.startMinutes), w.atMinutes(aligned, 0, w.endMinutes)
}

// DayBounds returns local midnight of t's day and of the following day.
func (w Window) DayBounds(t time.Time) (start time.Time, end time.Time) {
	return w.atMinutes(t, 0, 0), w.atMinutes(t, 1, 0)
}

// NextDayStart is the first allowed instant on a later calendar day than t.
func (w Window) NextDayStart(t time.Time) time.Time {
	_, end := w.DayBounds(t)
	return w.Align(end)
}

// DayKey formats t's local calendar date as YYYY-MM-DD.
func (w Window) DayKey(t time.Time) string {
	return t.In(w.Location()).Format(time.DateOnly)
}

// CalendarDaysBetween counts local calendar days from first to last, inclusive.
func (w Window) CalendarDaysBetween(first, last time.Time) int {
	a := first.In(w.Location())
	b := last.In(w.Location())
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	if db.Before(da) {
		da, db = db, da
	}
	return int(db.Sub(da).Hours()/24) + 1
}
