package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/provider"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDispatcherSendsDueJobsAndCompletesBlast(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addContacts(t, contact("c1"), contact("c2"))
	jobs := f.seedBlast(t, "blast-1", "c1", "c2")

	if n := f.runOnce(t); n != 2 {
		t.Fatalf("RunOnce() = %d, want 2", n)
	}

	for _, j := range jobs {
		got := f.job(t, j.ID)
		if got.Status != domain.JobStatusSent {
			t.Fatalf("job %s status = %s, want sent", j.ID, got.Status)
		}
		if got.Attempts != 1 {
			t.Fatalf("job %s attempts = %d, want 1", j.ID, got.Attempts)
		}
		if got.SentAt == nil || !got.SentAt.Equal(testMonday) {
			t.Fatalf("job %s sentAt = %v, want %v", j.ID, got.SentAt, testMonday)
		}
		if got.ProviderMessageID == nil || *got.ProviderMessageID != "msg-"+j.ID {
			t.Fatalf("job %s providerMessageId = %v", j.ID, got.ProviderMessageID)
		}
	}

	if got := f.blast(t, "blast-1").Status; got != domain.BlastStatusCompleted {
		t.Fatalf("blast status = %s, want completed", got)
	}
	if got := len(f.events.published()); got != 2 {
		t.Fatalf("published events = %d, want 2", got)
	}

	msg := f.transport.sent[0]
	if msg.MergeData["firstName"] != "Pat" || msg.TemplateID != "open-house" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestDispatcherDefersPausedContact(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.addContacts(t, contact("c1"))
	jobs := f.seedBlast(t, "blast-1", "c1", "c1")

	if _, err := f.pauses.SetPaused(ctx, testCompany, domain.RecipientContact, "c1", true); err != nil {
		t.Fatalf("SetPaused() error = %v", err)
	}

	f.runOnce(t)

	for _, j := range jobs {
		got := f.job(t, j.ID)
		if got.Status != domain.JobStatusQueued {
			t.Fatalf("job %s status = %s, want queued", j.ID, got.Status)
		}
		if got.LastError != domain.CodeContactPaused {
			t.Fatalf("job %s lastError = %s, want CONTACT_PAUSED", j.ID, got.LastError)
		}
		if got.Attempts != 0 {
			t.Fatalf("job %s attempts = %d, want 0", j.ID, got.Attempts)
		}
		if want := testMonday.Add(time.Minute); !got.ScheduledFor.Equal(want) {
			t.Fatalf("job %s scheduledFor = %v, want %v", j.ID, got.ScheduledFor, want)
		}
	}
	if f.transport.calls() != 0 {
		t.Fatalf("transport called %d times for a paused contact", f.transport.calls())
	}

	if _, err := f.pauses.SetPaused(ctx, testCompany, domain.RecipientContact, "c1", false); err != nil {
		t.Fatalf("SetPaused() error = %v", err)
	}
	f.clock.Set(testMonday.Add(time.Minute))
	f.runOnce(t)

	for _, j := range jobs {
		if got := f.job(t, j.ID).Status; got != domain.JobStatusSent {
			t.Fatalf("job %s status after unpause = %s, want sent", j.ID, got)
		}
	}
}

func TestDispatcherDefersContactOfPausedRealtor(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	realtorID := "r1"
	c1 := contact("c1")
	c1.RealtorID = &realtorID
	f.addContacts(t, c1, &domain.Recipient{ID: realtorID, Kind: domain.RecipientRealtor, Email: "agent@example.com"})
	jobs := f.seedBlast(t, "blast-1", "c1")

	if _, err := f.pauses.SetPaused(context.Background(), testCompany, domain.RecipientRealtor, realtorID, true); err != nil {
		t.Fatalf("SetPaused() error = %v", err)
	}
	f.runOnce(t)

	got := f.job(t, jobs[0].ID)
	if got.Status != domain.JobStatusQueued || got.LastError != domain.CodeRealtorPaused {
		t.Fatalf("job = %s/%s, want queued/REALTOR_PAUSED", got.Status, got.LastError)
	}
}

func TestDispatcherSkipsUnsendableRecipients(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture)
		want  domain.ErrorCode
	}{
		{
			name: "do not email",
			setup: func(t *testing.T, f *fixture) {
				c := contact("c1")
				c.DoNotEmail = true
				f.addContacts(t, c)
			},
			want: domain.CodeSuppressed,
		},
		{
			name: "suppressed address",
			setup: func(t *testing.T, f *fixture) {
				f.addContacts(t, contact("c1"))
				err := f.store.Suppressions().Add(context.Background(), &domain.Suppression{
					CompanyID: testCompany,
					Email:     "C1@example.com",
					Reason:    domain.SuppressionUnsubscribe,
				})
				if err != nil {
					t.Fatalf("Add() error = %v", err)
				}
			},
			want: domain.CodeSuppressed,
		},
		{
			name: "invalid email",
			setup: func(t *testing.T, f *fixture) {
				c := contact("c1")
				c.Email = "not-an-email"
				f.addContacts(t, c)
			},
			want: domain.CodeInvalidEmail,
		},
		{
			name:  "missing recipient",
			setup: func(t *testing.T, f *fixture) {},
			want:  domain.CodeRecipientMissing,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			tt.setup(t, f)
			jobs := f.seedBlast(t, "blast-1", "c1")
			f.runOnce(t)

			got := f.job(t, jobs[0].ID)
			if got.Status != domain.JobStatusSkipped || got.LastError != tt.want {
				t.Fatalf("job = %s/%s, want skipped/%s", got.Status, got.LastError, tt.want)
			}
			if f.transport.calls() != 0 {
				t.Fatal("transport must not be called for a skipped job")
			}
			events := f.events.published()
			if len(events) != 1 || events[0].Status != domain.JobStatusSkipped {
				t.Fatalf("events = %+v, want one skipped event", events)
			}
		})
	}
}

func TestDispatcherRetriesTransientFailureUntilExhausted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addContacts(t, contact("c1"))
	jobs := f.seedBlast(t, "blast-1", "c1")
	f.transport.sendFn = func(ctx context.Context, msg provider.Message) (*provider.ProviderResponse, error) {
		return nil, &provider.ProviderError{StatusCode: 503, Message: "unavailable", Transient: true}
	}

	f.runOnce(t)
	got := f.job(t, jobs[0].ID)
	if got.Status != domain.JobStatusQueued || got.LastError != domain.CodeTransportTransient || got.Attempts != 1 {
		t.Fatalf("after first failure job = %s/%s attempts=%d", got.Status, got.LastError, got.Attempts)
	}
	if want := testMonday.Add(time.Minute); !got.ScheduledFor.Equal(want) {
		t.Fatalf("first retry at %v, want %v", got.ScheduledFor, want)
	}

	f.clock.Set(got.ScheduledFor)
	f.runOnce(t)
	got = f.job(t, jobs[0].ID)
	if got.Status != domain.JobStatusQueued || got.Attempts != 2 {
		t.Fatalf("after second failure job = %s attempts=%d", got.Status, got.Attempts)
	}
	if want := testMonday.Add(3 * time.Minute); !got.ScheduledFor.Equal(want) {
		t.Fatalf("second retry at %v, want %v", got.ScheduledFor, want)
	}

	f.clock.Set(got.ScheduledFor)
	f.runOnce(t)
	got = f.job(t, jobs[0].ID)
	if got.Status != domain.JobStatusFailed || got.LastError != domain.CodeRetriesExhausted || got.Attempts != 3 {
		t.Fatalf("after last failure job = %s/%s attempts=%d", got.Status, got.LastError, got.Attempts)
	}
	if got := len(f.events.published()); got != 1 {
		t.Fatalf("published events = %d, want 1", got)
	}
}

func TestDispatcherFailsPermanentRejection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addContacts(t, contact("c1"))
	jobs := f.seedBlast(t, "blast-1", "c1")
	f.transport.sendFn = func(ctx context.Context, msg provider.Message) (*provider.ProviderResponse, error) {
		return nil, &provider.ProviderError{StatusCode: 400, Message: "bad request"}
	}

	f.runOnce(t)

	got := f.job(t, jobs[0].ID)
	if got.Status != domain.JobStatusFailed || got.LastError != domain.CodeTransportRejected || got.Attempts != 1 {
		t.Fatalf("job = %s/%s attempts=%d, want failed/TRANSPORT_REJECTED attempts=1", got.Status, got.LastError, got.Attempts)
	}
}

func TestDispatcherGuardDeferrals(t *testing.T) {
	t.Parallel()

	t.Run("outside send window", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.addContacts(t, contact("c1"))
		jobs := f.seedBlast(t, "blast-1", "c1")
		f.clock.Set(time.Date(2024, time.March, 4, 18, 0, 0, 0, time.UTC))

		f.runOnce(t)

		got := f.job(t, jobs[0].ID)
		if got.Status != domain.JobStatusQueued || got.LastError != domain.CodeOutsideSendWindow || got.Attempts != 0 {
			t.Fatalf("job = %s/%s attempts=%d", got.Status, got.LastError, got.Attempts)
		}
		if want := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC); !got.ScheduledFor.Equal(want) {
			t.Fatalf("scheduledFor = %v, want %v", got.ScheduledFor, want)
		}
	})

	t.Run("daily cap", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.setDailyCap(t, 1)
		f.dispatcher.cfg.Concurrency = 1
		f.addContacts(t, contact("c1"), contact("c2"))
		jobs := f.seedBlast(t, "blast-1", "c1", "c2")

		f.runOnce(t)

		first, second := f.job(t, jobs[0].ID), f.job(t, jobs[1].ID)
		if first.Status != domain.JobStatusSent {
			t.Fatalf("first job status = %s, want sent", first.Status)
		}
		if second.Status != domain.JobStatusQueued || second.LastError != domain.CodeDailyCap || second.Attempts != 0 {
			t.Fatalf("second job = %s/%s attempts=%d", second.Status, second.LastError, second.Attempts)
		}
		assertInNextDayWindow(t, second.ScheduledFor)
	})
}

// assertInNextDayWindow checks at falls inside Tuesday's default 09:00-17:00 window.
func assertInNextDayWindow(t *testing.T, at time.Time) {
	t.Helper()
	start := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.March, 5, 17, 0, 0, 0, time.UTC)
	if at.Before(start) || !at.Before(end) {
		t.Fatalf("scheduledFor = %v, want inside [%v, %v)", at, start, end)
	}
}

// gatedRecipients holds the first n recipient lookups until all n arrived, so
// that every job is claimed before any of them reaches the guard.
type gatedRecipients struct {
	repository.RecipientRepository
	pending atomic.Int32
	arrived sync.WaitGroup
}

func newGatedRecipients(inner repository.RecipientRepository, n int) *gatedRecipients {
	g := &gatedRecipients{RecipientRepository: inner}
	g.pending.Store(int32(n))
	g.arrived.Add(n)
	return g
}

func (g *gatedRecipients) Get(ctx context.Context, companyID string, kind domain.RecipientKind, id string) (*domain.Recipient, error) {
	if g.pending.Add(-1) >= 0 {
		g.arrived.Done()
		g.arrived.Wait()
	}
	return g.RecipientRepository.Get(ctx, companyID, kind, id)
}

func TestDispatcherDailyCapAcrossConcurrentWorkers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.setDailyCap(t, 1)
	f.addContacts(t, contact("c1"), contact("c2"))
	jobs := f.seedBlast(t, "blast-1", "c1", "c2")

	deps := f.dispatcher.deps
	deps.Recipients = newGatedRecipients(f.store.Recipients(), 2)

	var wg sync.WaitGroup
	for i, job := range jobs {
		d, err := NewDispatcher(deps, DispatcherConfig{WorkerID: fmt.Sprintf("worker-%d", i+1)}, zap.NewNop())
		if err != nil {
			t.Fatalf("NewDispatcher() error = %v", err)
		}
		d.now = f.clock.Now

		wg.Add(1)
		go func(jobID string) {
			defer wg.Done()
			if err := d.Dispatch(context.Background(), jobID); err != nil {
				t.Errorf("Dispatch() error = %v", err)
			}
		}(job.ID)
	}
	wg.Wait()

	if got := f.transport.calls(); got != 1 {
		t.Fatalf("transport calls = %d, want 1", got)
	}

	var sent, capped int
	for _, j := range jobs {
		got := f.job(t, j.ID)
		switch {
		case got.Status == domain.JobStatusSent:
			sent++
		case got.Status == domain.JobStatusQueued && got.LastError == domain.CodeDailyCap:
			capped++
			assertInNextDayWindow(t, got.ScheduledFor)
			if got.Attempts != 0 || got.AdmittedAt != nil {
				t.Fatalf("capped job attempts = %d admittedAt = %v, want 0 and nil", got.Attempts, got.AdmittedAt)
			}
		default:
			t.Fatalf("job %s = %s/%s", j.ID, got.Status, got.LastError)
		}
	}
	if sent != 1 || capped != 1 {
		t.Fatalf("sent = %d, capped = %d, want 1 and 1", sent, capped)
	}
}

func TestDispatcherDefersWhileCompanySendingPaused(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.addContacts(t, contact("c1"))
	jobs := f.seedBlast(t, "blast-1", "c1")

	if _, _, err := f.settings.PauseSending(ctx, testCompany, "", ""); err != nil {
		t.Fatalf("PauseSending() error = %v", err)
	}
	f.runOnce(t)

	got := f.job(t, jobs[0].ID)
	if got.Status != domain.JobStatusQueued || got.LastError != domain.CodeCompanySendingPaused || got.Attempts != 0 {
		t.Fatalf("job = %s/%s attempts=%d, want queued/COMPANY_SENDING_PAUSED attempts=0", got.Status, got.LastError, got.Attempts)
	}
	if want := testMonday.Add(time.Minute); !got.ScheduledFor.Equal(want) {
		t.Fatalf("scheduledFor = %v, want %v", got.ScheduledFor, want)
	}
	if f.transport.calls() != 0 {
		t.Fatalf("transport called %d times while sending paused", f.transport.calls())
	}

	if _, _, err := f.settings.ResumeSending(ctx, testCompany); err != nil {
		t.Fatalf("ResumeSending() error = %v", err)
	}
	f.clock.Set(testMonday.Add(time.Minute))
	f.runOnce(t)

	if got := f.job(t, jobs[0].ID).Status; got != domain.JobStatusSent {
		t.Fatalf("job status after resume = %s, want sent", got)
	}
}

func TestDispatcherPausesCompanyOnBounceRate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.dispatcher.cfg.Concurrency = 1
	f.updateSettings(t, func(s *domain.SendWindowSettings) {
		s.BounceRateThreshold = 0.5
		s.BounceMinSent = 1
	})
	f.addContacts(t, contact("c1"), contact("c2"), contact("c3"))
	jobs := f.seedBlast(t, "blast-1", "c1", "c2", "c3")
	f.transport.sendFn = func(ctx context.Context, msg provider.Message) (*provider.ProviderResponse, error) {
		if msg.JobID == jobs[1].ID {
			return nil, &provider.ProviderError{StatusCode: 550, Message: "mailbox unavailable"}
		}
		return &provider.ProviderResponse{StatusCode: 202}, nil
	}

	f.runOnce(t)

	settings, err := f.settings.Get(context.Background(), testCompany)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !settings.SendingPaused || settings.SendingPausedReason != domain.PauseReasonBounceRate || settings.SendingPausedBy != domain.PausedBySystem {
		t.Fatalf("settings pause = %v/%s/%s, want paused by system for bounce_rate",
			settings.SendingPaused, settings.SendingPausedBy, settings.SendingPausedReason)
	}
	if got := f.job(t, jobs[2].ID); got.Status != domain.JobStatusQueued || got.LastError != domain.CodeCompanySendingPaused {
		t.Fatalf("job after pause = %s/%s, want queued/COMPANY_SENDING_PAUSED", got.Status, got.LastError)
	}
}

type failingSuppressions struct {
	repository.SuppressionRepository
	err error
}

func (f *failingSuppressions) IsSuppressed(context.Context, string, string) (bool, error) {
	return false, f.err
}

func TestDispatcherReleasesJobAfterInfrastructureError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addContacts(t, contact("c1"))
	jobs := f.seedBlast(t, "blast-1", "c1")

	boom := errors.New("suppression store unavailable")
	deps := f.dispatcher.deps
	deps.Suppressions = &failingSuppressions{SuppressionRepository: f.store.Suppressions(), err: boom}
	d, err := NewDispatcher(deps, DispatcherConfig{WorkerID: "worker-1", ReleaseDelay: 30 * time.Second}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	d.now = f.clock.Now

	if err := d.Dispatch(context.Background(), jobs[0].ID); !errors.Is(err, boom) {
		t.Fatalf("Dispatch() error = %v, want %v", err, boom)
	}

	got := f.job(t, jobs[0].ID)
	if got.Status != domain.JobStatusQueued || got.ProcessingBy != nil {
		t.Fatalf("job = %s processingBy=%v, want queued and unowned", got.Status, got.ProcessingBy)
	}
	if got.Attempts != 0 || got.LastError != domain.CodeNone {
		t.Fatalf("job attempts = %d lastError = %q, want 0 and none", got.Attempts, got.LastError)
	}
	if want := testMonday.Add(30 * time.Second); !got.ScheduledFor.Equal(want) {
		t.Fatalf("scheduledFor = %v, want %v", got.ScheduledFor, want)
	}
	if f.transport.calls() != 0 {
		t.Fatal("transport must not be called after a dispatch error")
	}
}

func TestDispatcherReleasesJobOfBlastPausedAfterClaim(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.addContacts(t, contact("c1"))
	jobs := f.seedBlast(t, "blast-1", "c1")

	if _, err := f.blasts.Pause(ctx, testCompany, "blast-1"); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if n := f.runOnce(t); n != 0 {
		t.Fatalf("RunOnce() listed %d jobs of a paused blast", n)
	}

	if err := f.dispatcher.Dispatch(ctx, jobs[0].ID); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	got := f.job(t, jobs[0].ID)
	if got.Status != domain.JobStatusQueued || got.LastError != domain.CodeBlastPaused {
		t.Fatalf("job = %s/%s, want queued/BLAST_PAUSED", got.Status, got.LastError)
	}
	if !got.ScheduledFor.Equal(testMonday) {
		t.Fatalf("scheduledFor = %v, want unchanged %v", got.ScheduledFor, testMonday)
	}
}

func TestDispatcherDoesNotOverwriteCancelInFlight(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addContacts(t, contact("c1"))
	jobs := f.seedBlast(t, "blast-1", "c1")
	f.transport.sendFn = func(ctx context.Context, msg provider.Message) (*provider.ProviderResponse, error) {
		if _, err := f.blasts.Cancel(ctx, testCompany, "blast-1"); err != nil {
			t.Errorf("Cancel() error = %v", err)
		}
		return &provider.ProviderResponse{StatusCode: 202}, nil
	}

	f.runOnce(t)

	got := f.job(t, jobs[0].ID)
	if got.Status != domain.JobStatusCanceled || got.LastError != domain.CodeBlastCanceled {
		t.Fatalf("job = %s/%s, want canceled/BLAST_CANCELED", got.Status, got.LastError)
	}
	if len(f.events.published()) != 0 {
		t.Fatal("no event expected for a discarded outcome")
	}
}

func TestDispatcherEnrollmentGuard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		enabled bool
		status  string
		want    domain.ErrorCode
	}{
		{name: "status left rule target", enabled: true, status: "buyer", want: domain.CodeRuleStatusExit},
		{name: "rule disabled", enabled: false, status: "prospect", want: domain.CodeRuleDisabled},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			ctx := context.Background()
			c := contact("c1")
			c.Status = tt.status
			f.addContacts(t, c)

			rule := &domain.AutomationRule{
				ID:         "rule-1",
				CompanyID:  testCompany,
				Name:       "Prospect welcome",
				Enabled:    tt.enabled,
				ToStatus:   "prospect",
				TemplateID: "welcome",
			}
			if err := f.store.Automation().CreateRule(ctx, rule); err != nil {
				t.Fatalf("CreateRule() error = %v", err)
			}
			job := &domain.EmailJob{
				ID:            "job-1",
				CompanyID:     testCompany,
				RuleID:        &rule.ID,
				RecipientID:   "c1",
				RecipientKind: domain.RecipientContact,
				To:            "c1@example.com",
				TemplateID:    "welcome",
				ScheduledFor:  testMonday,
				MaxAttempts:   3,
				Status:        domain.JobStatusQueued,
			}
			if err := f.store.Jobs().CreateBatch(ctx, []*domain.EmailJob{job}); err != nil {
				t.Fatalf("CreateBatch() error = %v", err)
			}

			f.runOnce(t)

			got := f.job(t, "job-1")
			if got.Status != domain.JobStatusCanceled || got.LastError != tt.want {
				t.Fatalf("job = %s/%s, want canceled/%s", got.Status, got.LastError, tt.want)
			}
		})
	}
}

func TestDispatcherConcurrentDispatchSendsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addContacts(t, contact("c1"))
	jobs := f.seedBlast(t, "blast-1", "c1")

	second, err := NewDispatcher(f.dispatcher.deps, DispatcherConfig{WorkerID: "worker-2"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	second.now = f.clock.Now

	var wg sync.WaitGroup
	for _, d := range []*Dispatcher{f.dispatcher, second, f.dispatcher, second} {
		wg.Add(1)
		go func(d *Dispatcher) {
			defer wg.Done()
			if err := d.Dispatch(context.Background(), jobs[0].ID); err != nil {
				t.Errorf("Dispatch() error = %v", err)
			}
		}(d)
	}
	wg.Wait()

	if got := f.transport.calls(); got != 1 {
		t.Fatalf("transport calls = %d, want 1", got)
	}
}

func TestDispatcherLogsTerminalRedelivery(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	f := newFixtureWithLogger(t, zap.New(core))
	f.addContacts(t, contact("c1"))
	jobs := f.seedBlast(t, "blast-1", "c1")
	f.runOnce(t)

	if err := f.dispatcher.Dispatch(context.Background(), jobs[0].ID); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if f.transport.calls() != 1 {
		t.Fatalf("transport calls = %d, want 1", f.transport.calls())
	}
	if got := logs.FilterMessage("due job already terminal, ignoring re-delivery").Len(); got != 1 {
		t.Fatalf("re-delivery warnings = %d, want 1", got)
	}
}

func TestNewDispatcherValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := NewDispatcher(f.dispatcher.deps, DispatcherConfig{}, nil); err == nil {
		t.Fatal("expected error for missing worker id")
	}

	deps := f.dispatcher.deps
	deps.Transport = nil
	if _, err := NewDispatcher(deps, DispatcherConfig{WorkerID: "w"}, nil); err == nil {
		t.Fatal("expected error for missing transport")
	}
}
