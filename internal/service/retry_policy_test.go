package service

import (
	"errors"
	"testing"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/provider"
)

func TestRetryPolicyDelay(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy(5, time.Minute, 5*time.Minute)
	policy.randIntn = func(int) int { return 0 }

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: time.Minute},
		{attempt: 1, want: time.Minute},
		{attempt: 2, want: 2 * time.Minute},
		{attempt: 3, want: 4 * time.Minute},
		{attempt: 4, want: 5 * time.Minute},
		{attempt: 9, want: 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := policy.Delay(tt.attempt); got != tt.want {
			t.Fatalf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicyJitterIsBounded(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy(3, time.Second, time.Minute)
	var gotN int
	policy.randIntn = func(n int) int {
		gotN = n
		return n - 1
	}

	if got, want := policy.Delay(1), time.Second+250*time.Millisecond; got != want {
		t.Fatalf("Delay(1) = %v, want %v", got, want)
	}
	if gotN != 251 {
		t.Fatalf("randIntn(%d), want 251", gotN)
	}
}

func TestRetryPolicyOutcome(t *testing.T) {
	t.Parallel()

	now := testMonday
	policy := NewRetryPolicy(3, time.Minute, time.Hour)
	policy.randIntn = func(int) int { return 0 }
	transient := &provider.ProviderError{StatusCode: 503, Transient: true}
	permanent := &provider.ProviderError{StatusCode: 422}

	tests := []struct {
		name       string
		attempts   int
		max        int
		err        error
		wantStatus domain.JobStatus
		wantCode   domain.ErrorCode
	}{
		{name: "first transient", attempts: 0, max: 3, err: transient, wantStatus: domain.JobStatusQueued, wantCode: domain.CodeTransportTransient},
		{name: "last transient", attempts: 2, max: 3, err: transient, wantStatus: domain.JobStatusFailed, wantCode: domain.CodeRetriesExhausted},
		{name: "policy default max", attempts: 1, max: 0, err: transient, wantStatus: domain.JobStatusQueued, wantCode: domain.CodeTransportTransient},
		{name: "permanent", attempts: 0, max: 3, err: permanent, wantStatus: domain.JobStatusFailed, wantCode: domain.CodeTransportRejected},
		{name: "unclassified error", attempts: 0, max: 3, err: errors.New("boom"), wantStatus: domain.JobStatusFailed, wantCode: domain.CodeTransportRejected},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			job := &domain.EmailJob{Attempts: tt.attempts, MaxAttempts: tt.max}
			got := policy.Outcome(job, tt.err, now)
			if got.Status != tt.wantStatus || got.LastError != tt.wantCode {
				t.Fatalf("Outcome() = %s/%s, want %s/%s", got.Status, got.LastError, tt.wantStatus, tt.wantCode)
			}
			if !got.IncrementAttempts {
				t.Fatal("every transport failure must consume an attempt")
			}
			if err := got.Validate(); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}
