package pacing

import (
	"errors"
	"testing"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
)

func weekdaySettings() domain.SendWindowSettings {
	s := domain.DefaultSendWindowSettings("company-1", "UTC")
	s.DailyCap = 3
	return s
}

func TestPlanTenRecipientsCapThreeStartingMonday(t *testing.T) {
	t.Parallel()

	pacer := New(weekdaySettings())
	monday := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2024, time.March, 7, 17, 0, 0, 0, time.UTC)

	plan, err := pacer.Plan(Request{
		Count:     10,
		Start:     monday,
		WindowEnd: &windowEnd,
		DailyCap:  3,
		Now:       monday.Add(-24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(plan.Times) != 10 {
		t.Fatalf("expected 10 times, got %d", len(plan.Times))
	}

	want := map[string]int{
		"2024-03-04": 3,
		"2024-03-05": 3,
		"2024-03-06": 3,
		"2024-03-07": 1,
	}
	for day, n := range want {
		if got := plan.Summary.PerDayPlanned[day]; got != n {
			t.Fatalf("PerDayPlanned[%s] = %d, want %d", day, got, n)
		}
	}
	if len(plan.Summary.PerDayPlanned) != len(want) {
		t.Fatalf("PerDayPlanned = %v, want %v", plan.Summary.PerDayPlanned, want)
	}
	if plan.Summary.DaysSpanned != 4 {
		t.Fatalf("DaysSpanned = %d, want 4", plan.Summary.DaysSpanned)
	}
	if !plan.Summary.FirstSendAt.Equal(monday) {
		t.Fatalf("FirstSendAt = %v, want %v", plan.Summary.FirstSendAt, monday)
	}
	if plan.Summary.Extended {
		t.Fatal("plan should fit inside the requested window")
	}

	// 8h window split three ways
	if got, want := plan.Times[1], monday.Add(2*time.Hour+40*time.Minute); !got.Equal(want) {
		t.Fatalf("Times[1] = %v, want %v", got, want)
	}
	for i := 1; i < len(plan.Times); i++ {
		if plan.Times[i].Before(plan.Times[i-1]) {
			t.Fatalf("times not ascending at %d: %v < %v", i, plan.Times[i], plan.Times[i-1])
		}
	}
}

func TestPlanNeverExceedsCapAndKeepsEveryRecipient(t *testing.T) {
	t.Parallel()

	pacer := New(weekdaySettings())
	start := time.Date(2024, time.March, 6, 15, 30, 0, 0, time.UTC)

	for _, tc := range []struct{ count, cap int }{{1, 1}, {7, 2}, {50, 7}, {200, 200}, {201, 200}} {
		plan, err := pacer.Plan(Request{Count: tc.count, Start: start, DailyCap: tc.cap})
		if err != nil {
			t.Fatalf("Plan() error = %v", err)
		}
		if len(plan.Times) != tc.count {
			t.Fatalf("count=%d: got %d times", tc.count, len(plan.Times))
		}

		total := 0
		for day, n := range plan.Summary.PerDayPlanned {
			if n > tc.cap {
				t.Fatalf("count=%d cap=%d: day %s has %d", tc.count, tc.cap, day, n)
			}
			total += n
		}
		if total != tc.count {
			t.Fatalf("count=%d: per-day total = %d", tc.count, total)
		}

		window := pacer.Window()
		for _, ts := range plan.Times {
			if !window.Contains(ts) {
				t.Fatalf("count=%d: %v is outside the send window", tc.count, ts)
			}
		}
	}
}

func TestPlanSkipsWeekendAndMarksExtended(t *testing.T) {
	t.Parallel()

	pacer := New(weekdaySettings())
	friday := time.Date(2024, time.March, 8, 10, 0, 0, 0, time.UTC)
	requestedEnd := time.Date(2024, time.March, 8, 17, 0, 0, 0, time.UTC)

	plan, err := pacer.Plan(Request{Count: 5, Start: friday, WindowEnd: &requestedEnd, DailyCap: 2})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	want := map[string]int{"2024-03-08": 2, "2024-03-11": 2, "2024-03-12": 1}
	for day, n := range want {
		if got := plan.Summary.PerDayPlanned[day]; got != n {
			t.Fatalf("PerDayPlanned[%s] = %d, want %d", day, got, n)
		}
	}
	if !plan.Summary.Extended {
		t.Fatal("expected plan to be marked extended")
	}
	// Friday through Tuesday inclusive
	if plan.Summary.DaysSpanned != 5 {
		t.Fatalf("DaysSpanned = %d, want 5", plan.Summary.DaysSpanned)
	}
}

func TestPlanSubtractsTodaysUsage(t *testing.T) {
	t.Parallel()

	pacer := New(weekdaySettings())
	now := time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)

	plan, err := pacer.Plan(Request{Count: 4, Start: now, DailyCap: 3, UsedToday: 2, Now: now})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if got := plan.Summary.PerDayPlanned["2024-03-04"]; got != 1 {
		t.Fatalf("today planned = %d, want 1", got)
	}
	if got := plan.Summary.PerDayPlanned["2024-03-05"]; got != 3 {
		t.Fatalf("tomorrow planned = %d, want 3", got)
	}

	exhausted, err := pacer.Plan(Request{Count: 1, Start: now, DailyCap: 3, UsedToday: 5, Now: now})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if got := pacer.Window().DayKey(exhausted.Times[0]); got != "2024-03-05" {
		t.Fatalf("first send day = %s, want 2024-03-05", got)
	}
}

func TestPlanFollowsWarmupSchedule(t *testing.T) {
	t.Parallel()

	monday := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		dailyCap int
		warmup   domain.Warmup
		count    int
		want     map[string]int
	}{
		{
			name:     "warmup caps an uncapped company",
			dailyCap: 0,
			warmup:   domain.Warmup{StartedAt: monday, Schedule: []domain.WarmupStep{{Day: 1, Cap: 2}, {Day: 3, Cap: 5}}},
			count:    12,
			want:     map[string]int{"2024-03-04": 2, "2024-03-05": 2, "2024-03-06": 5, "2024-03-07": 3},
		},
		{
			name:     "base cap wins when tighter",
			dailyCap: 3,
			warmup:   domain.Warmup{StartedAt: monday, Schedule: []domain.WarmupStep{{Day: 1, Cap: 2}, {Day: 3, Cap: 5}}},
			count:    10,
			want:     map[string]int{"2024-03-04": 2, "2024-03-05": 2, "2024-03-06": 3, "2024-03-07": 3},
		},
		{
			name:     "uncapped once warmup ends",
			dailyCap: 0,
			warmup:   domain.Warmup{StartedAt: monday, Days: 2, Schedule: []domain.WarmupStep{{Day: 1, Cap: 1}}},
			count:    5,
			want:     map[string]int{"2024-03-04": 1, "2024-03-05": 1, "2024-03-06": 3},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			settings := weekdaySettings()
			settings.DailyCap = tt.dailyCap
			settings.Warmup = &tt.warmup

			plan, err := New(settings).Plan(Request{Count: tt.count, Start: monday, DailyCap: tt.dailyCap})
			if err != nil {
				t.Fatalf("Plan() error = %v", err)
			}
			if len(plan.Times) != tt.count {
				t.Fatalf("len(Times) = %d, want %d", len(plan.Times), tt.count)
			}
			if len(plan.Summary.PerDayPlanned) != len(tt.want) {
				t.Fatalf("PerDayPlanned = %v, want %v", plan.Summary.PerDayPlanned, tt.want)
			}
			for day, n := range tt.want {
				if got := plan.Summary.PerDayPlanned[day]; got != n {
					t.Fatalf("PerDayPlanned[%s] = %d, want %d", day, got, n)
				}
			}
		})
	}
}

func TestPlanUncappedSpreadsAcrossFirstWindow(t *testing.T) {
	t.Parallel()

	pacer := New(weekdaySettings())
	start := time.Date(2024, time.March, 4, 13, 0, 0, 0, time.UTC)

	plan, err := pacer.Plan(Request{Count: 4, Start: start, DailyCap: 0})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	wantTimes := []time.Time{
		start,
		start.Add(time.Hour),
		start.Add(2 * time.Hour),
		start.Add(3 * time.Hour),
	}
	for i, want := range wantTimes {
		if !plan.Times[i].Equal(want) {
			t.Fatalf("Times[%d] = %v, want %v", i, plan.Times[i], want)
		}
	}
	if plan.Summary.DaysSpanned != 1 {
		t.Fatalf("DaysSpanned = %d, want 1", plan.Summary.DaysSpanned)
	}
}

func TestPlanValidation(t *testing.T) {
	t.Parallel()

	pacer := New(weekdaySettings())

	if _, err := pacer.Plan(Request{Count: -1, Start: time.Now()}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Plan() error = %v, want ErrValidation", err)
	}
	if _, err := pacer.Plan(Request{Count: 2}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Plan() error = %v, want ErrValidation", err)
	}

	plan, err := pacer.Plan(Request{Count: 0, Start: time.Now()})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Summary != nil || len(plan.Times) != 0 {
		t.Fatalf("empty plan expected, got %+v", plan)
	}
}

func TestSortRecipientsIsStableByEmail(t *testing.T) {
	t.Parallel()

	recipients := []domain.Recipient{
		{ID: "3", Email: "zed@example.com"},
		{ID: "1", Email: "Amy@example.com"},
		{ID: "2", Email: "amy@example.com"},
	}
	SortRecipients(recipients)

	got := []string{recipients[0].ID, recipients[1].ID, recipients[2].ID}
	want := []string{"1", "2", "3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
