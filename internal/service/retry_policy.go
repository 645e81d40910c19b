package service

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/provider"
)

const (
	defaultMaxAttempts    = 3
	defaultBaseRetryDelay = time.Minute
	defaultMaxRetryDelay  = time.Hour
	maxRetryJitterMillis  = 250
)

// RetryPolicy turns a transport failure into the job's next outcome.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	randIntn    func(n int) int
}

func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseRetryDelay
	}
	if maxDelay < baseDelay {
		maxDelay = max(baseDelay, defaultMaxRetryDelay)
	}
	return &RetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		randIntn:    rand.Intn,
	}
}

func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Delay is min(base*2^(attempt-1), max) plus up to 250ms of jitter.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.baseDelay
	b.MaxInterval = p.maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}

	jitterMillis := 0
	if p.randIntn != nil {
		jitterMillis = p.randIntn(maxRetryJitterMillis + 1)
	}
	return delay + time.Duration(jitterMillis)*time.Millisecond
}

// Outcome classifies a failed send. Every transport failure consumes an attempt.
func (p *RetryPolicy) Outcome(job *domain.EmailJob, sendErr error, now time.Time) domain.JobOutcome {
	limit := job.MaxAttempts
	if limit < 1 {
		limit = p.maxAttempts
	}
	attempt := job.Attempts + 1

	if !provider.IsTransient(sendErr) {
		return domain.JobOutcome{
			Status:            domain.JobStatusFailed,
			LastError:         domain.CodeTransportRejected,
			IncrementAttempts: true,
		}
	}
	if attempt >= limit {
		return domain.JobOutcome{
			Status:            domain.JobStatusFailed,
			LastError:         domain.CodeRetriesExhausted,
			IncrementAttempts: true,
		}
	}

	next := now.Add(p.Delay(attempt))
	return domain.JobOutcome{
		Status:            domain.JobStatusQueued,
		LastError:         domain.CodeTransportTransient,
		ScheduledFor:      &next,
		IncrementAttempts: true,
	}
}
