package sendwindow

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/pacing"
	"github.com/zlammie/keepup-mailer/internal/ratelimit"
)

const defaultRateLimitBackoff = time.Minute

// CapAdmitter hands out a company's daily send slots. Only sent jobs and jobs it
// admitted hold a slot, so claimed jobs that are still being checked never
// crowd each other out.
type CapAdmitter interface {
	AdmitDaily(ctx context.Context, jobID, workerID, companyID string, dayStart, dayEnd time.Time, limit int, now time.Time) (bool, error)
}

// Decision is the guard's verdict for one due job.
type Decision struct {
	Allowed       bool
	Reason        domain.ErrorCode
	NextAttemptAt time.Time
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deferUntil(reason domain.ErrorCode, next time.Time) Decision {
	return Decision{Reason: reason, NextAttemptAt: next}
}

// Guard decides whether a due job may be handed to the transport now.
// Checks run in order (window, daily cap, rate limit) and a later check only
// runs when the earlier ones passed, so deferrals never consume a rate-limit
// slot. A cap slot taken before a rate-limit deferral is released when the
// deferral is recorded.
type Guard struct {
	caps        CapAdmitter
	limiter     ratelimit.RateLimiter
	rateBackoff time.Duration
}

func NewGuard(caps CapAdmitter, limiter ratelimit.RateLimiter, rateBackoff time.Duration) *Guard {
	if rateBackoff <= 0 {
		rateBackoff = defaultRateLimitBackoff
	}
	return &Guard{
		caps:        caps,
		limiter:     limiter,
		rateBackoff: rateBackoff,
	}
}

func (g *Guard) MayDispatch(ctx context.Context, job *domain.EmailJob, settings domain.SendWindowSettings, now time.Time) (Decision, error) {
	if job == nil {
		return Decision{}, fmt.Errorf("%w: job is required", domain.ErrValidation)
	}

	window := pacing.NewWindow(settings)
	if !window.Contains(now) {
		return deferUntil(domain.CodeOutsideSendWindow, window.Align(now)), nil
	}

	if limit := settings.EffectiveDailyCap(now); limit > 0 && g.caps != nil {
		if job.ProcessingBy == nil {
			return Decision{}, fmt.Errorf("%w: job %s is not claimed", domain.ErrValidation, job.ID)
		}
		dayStart, dayEnd := window.DayBounds(now)
		admitted, err := g.caps.AdmitDaily(ctx, job.ID, *job.ProcessingBy, job.CompanyID, dayStart, dayEnd, limit, now)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to admit under daily cap: %w", err)
		}
		if !admitted {
			return deferUntil(domain.CodeDailyCap, spreadOverNextDay(window, now, job.ID)), nil
		}
	}

	if settings.RateLimitPerMinute > 0 && g.limiter != nil {
		allowed, err := g.limiter.Allow(ctx, "company:"+job.CompanyID, settings.RateLimitPerMinute)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to check rate limit: %w", err)
		}
		if !allowed {
			return deferUntil(domain.CodeRateLimit, now.Add(g.rateBackoff)), nil
		}
	}

	return allow(), nil
}

// spreadOverNextDay places a capped job at a stable offset inside the next
// day's window so the deferred backlog does not wake up all at once.
func spreadOverNextDay(window pacing.Window, now time.Time, jobID string) time.Time {
	start := window.NextDayStart(now)
	_, end := window.Bounds(start)
	span := uint64(end.Sub(start) / time.Second)
	if span == 0 {
		return start
	}
	return start.Add(time.Duration(xxhash.Sum64String(jobID)%span) * time.Second)
}
