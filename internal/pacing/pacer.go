package pacing

import (
	"fmt"
	"sort"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
)

// Request describes one pacing run.
type Request struct {
	Count int
	Start time.Time
	// WindowEnd is the operator's requested end. Pacing never drops recipients,
	// so a plan that runs past it is reported as extended instead.
	WindowEnd *time.Time
	// DailyCap <= 0 means uncapped. A warmup in the pacer's settings can
	// tighten it per day.
	DailyCap int
	// UsedToday is subtracted from the cap when the plan starts on Now's local day.
	UsedToday int
	Now       time.Time
}

// Plan holds one target timestamp per recipient, in input order.
type Plan struct {
	Times   []time.Time
	Summary *domain.PacingSummary
}

type Pacer struct {
	window   Window
	settings domain.SendWindowSettings
}

func New(settings domain.SendWindowSettings) *Pacer {
	return &Pacer{window: NewWindow(settings), settings: settings}
}

func (p *Pacer) Window() Window {
	return p.window
}

// Plan spreads Count sends across allowed windows, filling days in order
// without exceeding the daily cap on any of them.
func (p *Pacer) Plan(req Request) (Plan, error) {
	if req.Count < 0 {
		return Plan{}, fmt.Errorf("%w: count must be >= 0", domain.ErrValidation)
	}
	if req.Count == 0 {
		return Plan{}, nil
	}
	if req.Start.IsZero() {
		return Plan{}, fmt.Errorf("%w: start is required", domain.ErrValidation)
	}

	aligned := p.window.Align(req.Start)
	times := make([]time.Time, req.Count)

	todayStart, todayEnd := p.window.DayBounds(req.Now)
	startsToday := !req.Now.IsZero() && !aligned.Before(todayStart) && aligned.Before(todayEnd)

	cursor := aligned
	index := 0
	for day := 0; index < req.Count; day++ {
		_, windowEnd := p.window.Bounds(cursor)
		available := req.Count - index
		if limit := domain.CombineCaps(req.DailyCap, p.settings.WarmupCapOn(cursor)); limit > 0 {
			if day == 0 && startsToday {
				limit = max(0, limit-req.UsedToday)
			}
			available = min(limit, available)
		}
		if available > 0 {
			p.fillDay(times, index, available, cursor)
			index += available
		}
		cursor = p.window.Align(windowEnd.Add(time.Second))
	}

	return Plan{Times: times, Summary: p.summarize(times, req.WindowEnd)}, nil
}

// fillDay spaces n timestamps evenly from cursor to the end of its window.
func (p *Pacer) fillDay(times []time.Time, offset, n int, cursor time.Time) {
	windowStart, windowEnd := p.window.Bounds(cursor)
	dayStart := windowStart
	if cursor.After(dayStart) {
		dayStart = cursor
	}

	span := windowEnd.Sub(dayStart)
	if span <= 0 {
		span = time.Millisecond
	}
	interval := span / time.Duration(n)
	interval = interval.Truncate(time.Millisecond)

	for i := 0; i < n; i++ {
		scheduled := dayStart.Add(interval * time.Duration(i))
		if !scheduled.Before(windowEnd) {
			scheduled = windowEnd.Add(-time.Minute)
		}
		if scheduled.Before(dayStart) {
			scheduled = dayStart
		}
		times[offset+i] = scheduled
	}
}

func (p *Pacer) summarize(times []time.Time, requestedEnd *time.Time) *domain.PacingSummary {
	return Summarize(p.window, times, requestedEnd)
}

// Summarize projects a set of scheduled times into a PacingSummary. It is
// used both for fresh plans and for recomputing a blast after re-pacing.
func Summarize(window Window, times []time.Time, requestedEnd *time.Time) *domain.PacingSummary {
	if len(times) == 0 {
		return nil
	}

	first, last := times[0], times[0]
	perDay := make(map[string]int)
	for _, t := range times {
		if t.Before(first) {
			first = t
		}
		if t.After(last) {
			last = t
		}
		perDay[window.DayKey(t)]++
	}

	summary := &domain.PacingSummary{
		FirstSendAt:   first,
		LastSendAt:    last,
		DaysSpanned:   window.CalendarDaysBetween(first, last),
		PerDayPlanned: perDay,
	}
	if requestedEnd != nil && last.After(*requestedEnd) {
		summary.Extended = true
	}
	return summary
}

// SortRecipients orders recipients by normalized email, keeping input order
// among equal addresses.
func SortRecipients(recipients []domain.Recipient) {
	sort.SliceStable(recipients, func(i, j int) bool {
		return domain.NormalizeEmail(recipients[i].Email) < domain.NormalizeEmail(recipients[j].Email)
	})
}
