package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zlammie/keepup-mailer/internal/audience"
	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/provider"
	"github.com/zlammie/keepup-mailer/internal/repository/memory"
	"github.com/zlammie/keepup-mailer/internal/sendwindow"
	"go.uber.org/zap"
)

const testCompany = "company-1"

// monday 2024-03-04 10:00 UTC, inside the default window
var testMonday = time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)

type fakeTransport struct {
	mu     sync.Mutex
	sent   []provider.Message
	sendFn func(ctx context.Context, msg provider.Message) (*provider.ProviderResponse, error)
}

func (f *fakeTransport) Send(ctx context.Context, msg provider.Message) (*provider.ProviderResponse, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return &provider.ProviderResponse{StatusCode: 202, MessageID: "msg-" + msg.JobID}, nil
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.JobEvent
}

func (f *fakePublisher) PublishJobEvent(_ context.Context, event domain.JobEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) published() []domain.JobEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.JobEvent(nil), f.events...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	store      *memory.Store
	clock      *testClock
	transport  *fakeTransport
	events     *fakePublisher
	settings   *SettingsService
	monitor    *DeliverabilityMonitor
	blasts     *BlastController
	dispatcher *Dispatcher
	jobs       *JobService
	pauses     *PauseController
	watcher    *CancellationWatcher
	enroller   *AutomationEnroller
	recipients *RecipientEventService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithLogger(t, zap.NewNop())
}

func newFixtureWithLogger(t *testing.T, logger *zap.Logger) *fixture {
	t.Helper()

	f := &fixture{
		store:     memory.NewStore(),
		clock:     &testClock{now: testMonday},
		transport: &fakeTransport{},
		events:    &fakePublisher{},
	}
	ctx := context.Background()

	settings := domain.DefaultSendWindowSettings(testCompany, "UTC")
	settings.RateLimitPerMinute = 0
	if err := f.store.Settings().Upsert(ctx, &settings); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	var err error
	f.settings, err = NewSettingsService(f.store.Settings(), "UTC")
	if err != nil {
		t.Fatalf("NewSettingsService() error = %v", err)
	}
	f.settings.now = f.clock.Now

	f.monitor, err = NewDeliverabilityMonitor(f.store.Jobs(), f.settings, logger)
	if err != nil {
		t.Fatalf("NewDeliverabilityMonitor() error = %v", err)
	}
	f.monitor.now = f.clock.Now

	resolver := audience.NewResolver(f.store.Recipients(), f.store.Suppressions())
	f.blasts, err = NewBlastController(f.store.Blasts(), f.store.Jobs(), resolver, f.settings, 100, 3, logger)
	if err != nil {
		t.Fatalf("NewBlastController() error = %v", err)
	}
	f.blasts.now = f.clock.Now
	ids := 0
	f.blasts.newID = func() string {
		ids++
		return fmt.Sprintf("id-%d", ids)
	}

	retry := NewRetryPolicy(3, time.Minute, time.Hour)
	retry.randIntn = func(int) int { return 0 }

	f.dispatcher, err = NewDispatcher(DispatcherDeps{
		Jobs:         f.store.Jobs(),
		Blasts:       f.store.Blasts(),
		Recipients:   f.store.Recipients(),
		Suppressions: f.store.Suppressions(),
		Automation:   f.store.Automation(),
		Settings:     f.settings,
		Guard:        sendwindow.NewGuard(f.store.Jobs(), nil, time.Minute),
		Transport:    f.transport,
		Retry:        retry,
		BlastSync:    f.blasts,
		Bounces:      f.monitor,
		Events:       f.events,
	}, DispatcherConfig{
		WorkerID:     "worker-1",
		Concurrency:  4,
		BatchSize:    50,
		PauseRecheck: time.Minute,
	}, logger)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	f.dispatcher.now = f.clock.Now

	f.jobs, err = NewJobService(f.store.Jobs(), f.blasts, logger)
	if err != nil {
		t.Fatalf("NewJobService() error = %v", err)
	}
	f.jobs.now = f.clock.Now

	f.pauses, err = NewPauseController(f.store.Recipients(), f.store.Jobs(), logger)
	if err != nil {
		t.Fatalf("NewPauseController() error = %v", err)
	}
	f.pauses.now = f.clock.Now

	f.watcher, err = NewCancellationWatcher(f.store.Jobs(), f.store.Recipients(), f.store.Automation(), logger)
	if err != nil {
		t.Fatalf("NewCancellationWatcher() error = %v", err)
	}
	f.watcher.now = f.clock.Now

	f.enroller, err = NewAutomationEnroller(f.store.Jobs(), f.store.Recipients(), f.store.Automation(), f.settings, 3, logger)
	if err != nil {
		t.Fatalf("NewAutomationEnroller() error = %v", err)
	}
	f.enroller.now = f.clock.Now

	f.recipients, err = NewRecipientEventService(f.store.Recipients(), f.watcher, f.enroller, logger)
	if err != nil {
		t.Fatalf("NewRecipientEventService() error = %v", err)
	}
	f.recipients.now = f.clock.Now

	return f
}

func (f *fixture) setDailyCap(t *testing.T, dailyCap int) {
	t.Helper()
	settings, err := f.settings.Get(context.Background(), testCompany)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	settings.DailyCap = dailyCap
	if _, err := f.settings.Update(context.Background(), settings); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
}

func (f *fixture) updateSettings(t *testing.T, mutate func(*domain.SendWindowSettings)) {
	t.Helper()
	settings, err := f.settings.Get(context.Background(), testCompany)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	mutate(&settings)
	if _, err := f.settings.Update(context.Background(), settings); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
}

func (f *fixture) addContacts(t *testing.T, contacts ...*domain.Recipient) {
	t.Helper()
	for _, c := range contacts {
		if c.CompanyID == "" {
			c.CompanyID = testCompany
		}
		if c.Kind == "" {
			c.Kind = domain.RecipientContact
		}
	}
	if err := f.store.Recipients().Upsert(context.Background(), contacts); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
}

func contact(id string) *domain.Recipient {
	return &domain.Recipient{
		ID:        id,
		CompanyID: testCompany,
		Kind:      domain.RecipientContact,
		Email:     id + "@example.com",
		FirstName: "Pat",
		Status:    "lead",
	}
}

// seedBlast stores a blast with one queued job per entry of recipientIDs, all
// due at testMonday.
func (f *fixture) seedBlast(t *testing.T, blastID string, recipientIDs ...string) []*domain.EmailJob {
	t.Helper()

	blast := &domain.Blast{
		ID:           blastID,
		CompanyID:    testCompany,
		Name:         "Spring open house",
		TemplateID:   "open-house",
		AudienceType: domain.AudienceContacts,
		ScheduledFor: testMonday,
		Status:       domain.BlastStatusScheduled,
		CreatedAt:    testMonday,
		UpdatedAt:    testMonday,
	}
	jobs := make([]*domain.EmailJob, len(recipientIDs))
	for i, rid := range recipientIDs {
		jobs[i] = &domain.EmailJob{
			ID:            fmt.Sprintf("%s-job-%d", blastID, i),
			CompanyID:     testCompany,
			BlastID:       &blast.ID,
			RecipientID:   rid,
			RecipientKind: domain.RecipientContact,
			To:            rid + "@example.com",
			TemplateID:    blast.TemplateID,
			ScheduledFor:  testMonday,
			MaxAttempts:   3,
			Status:        domain.JobStatusQueued,
			CreatedAt:     testMonday,
			UpdatedAt:     testMonday,
		}
	}
	if err := f.store.Blasts().Materialize(context.Background(), blast, jobs); err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	return jobs
}

func (f *fixture) job(t *testing.T, id string) *domain.EmailJob {
	t.Helper()
	job, err := f.store.Jobs().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s) error = %v", id, err)
	}
	return job
}

func (f *fixture) blast(t *testing.T, id string) *domain.Blast {
	t.Helper()
	blast, err := f.store.Blasts().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s) error = %v", id, err)
	}
	return blast
}

func (f *fixture) runOnce(t *testing.T) int {
	t.Helper()
	n, err := f.dispatcher.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	return n
}
