package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/observability"
	"github.com/zlammie/keepup-mailer/internal/provider"
	"github.com/zlammie/keepup-mailer/internal/queue"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"github.com/zlammie/keepup-mailer/internal/sendwindow"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency    = 1
	defaultBatchSize        = 25
	defaultPollInterval     = 5 * time.Second
	defaultTransportTimeout = 10 * time.Second
	defaultPauseRecheck     = time.Minute
	defaultReleaseDelay     = 30 * time.Second
)

// BlastStatusSyncer re-derives a blast's stored status from its jobs.
type BlastStatusSyncer interface {
	SyncStatus(ctx context.Context, blastID string) error
}

// BounceChecker pauses a company's sending when its bounce rate is too high.
type BounceChecker interface {
	CheckBounceRate(ctx context.Context, companyID string) (bool, error)
}

type DispatcherConfig struct {
	WorkerID         string
	Concurrency      int
	BatchSize        int
	PollInterval     time.Duration
	TransportTimeout time.Duration
	PauseRecheck     time.Duration
	ReleaseDelay     time.Duration
}

type DispatcherDeps struct {
	Jobs         repository.JobRepository
	Blasts       repository.BlastRepository
	Recipients   repository.RecipientRepository
	Suppressions repository.SuppressionRepository
	Automation   repository.AutomationRepository
	Settings     *SettingsService
	Guard        *sendwindow.Guard
	Transport    provider.Transport
	Retry        *RetryPolicy
	BlastSync    BlastStatusSyncer
	Bounces      BounceChecker
	Events       queue.EventPublisher
}

// Dispatcher claims due jobs and drives each through the delivery state machine.
type Dispatcher struct {
	deps    DispatcherDeps
	cfg     DispatcherConfig
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewDispatcher(deps DispatcherDeps, cfg DispatcherConfig, logger *zap.Logger) (*Dispatcher, error) {
	if deps.Jobs == nil || deps.Blasts == nil || deps.Recipients == nil || deps.Suppressions == nil || deps.Automation == nil {
		return nil, fmt.Errorf("job, blast, recipient, suppression and automation repositories are required")
	}
	if deps.Settings == nil || deps.Guard == nil || deps.Transport == nil {
		return nil, fmt.Errorf("settings, guard and transport are required")
	}
	if strings.TrimSpace(cfg.WorkerID) == "" {
		return nil, fmt.Errorf("worker id is required")
	}
	if deps.Retry == nil {
		deps.Retry = NewRetryPolicy(defaultMaxAttempts, defaultBaseRetryDelay, defaultMaxRetryDelay)
	}
	if cfg.Concurrency < minWorkerConcurrency {
		cfg.Concurrency = minWorkerConcurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.TransportTimeout <= 0 {
		cfg.TransportTimeout = defaultTransportTimeout
	}
	if cfg.PauseRecheck <= 0 {
		cfg.PauseRecheck = defaultPauseRecheck
	}
	if cfg.ReleaseDelay <= 0 {
		cfg.ReleaseDelay = defaultReleaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(zap.String("workerId", cfg.WorkerID)),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Start polls for due jobs until ctx is canceled. A full batch is followed
// immediately by another poll.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		zap.Int("concurrency", d.cfg.Concurrency),
		zap.Duration("pollInterval", d.cfg.PollInterval),
	)

	for {
		n, err := d.RunOnce(ctx)
		if ctx.Err() != nil {
			d.logger.Info("dispatcher stopped")
			return nil
		}
		if err != nil {
			d.logger.Error("dispatch poll failed", zap.Error(err))
		}
		if err == nil && n >= d.cfg.BatchSize {
			continue
		}

		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return nil
		case <-time.After(d.cfg.PollInterval):
		}
	}
}

// RunOnce dispatches one batch of due jobs and returns how many were listed.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	due, err := d.deps.Jobs.ListDue(ctx, d.now(), d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list due jobs: %w", err)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i := range due {
		jobID := due[i].ID
		g.Go(func() error {
			if err := d.Dispatch(groupCtx, jobID); err != nil {
				d.logger.Error("dispatch failed", zap.String("jobId", jobID), zap.Error(err))
			}
			return nil
		})
	}

	return len(due), g.Wait()
}

// Dispatch claims one job and records exactly one outcome for it. Errors are
// infrastructure failures; the job is then handed back to the queue without
// using an attempt, or left to the lease sweep if even that fails.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID string) error {
	job, err := d.deps.Jobs.Claim(ctx, jobID, d.cfg.WorkerID, d.now())
	if err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			d.logLostClaim(ctx, jobID)
			return nil
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}

	d.metrics.IncJobClaimed()
	d.metrics.IncWorkerInFlight()
	defer d.metrics.DecWorkerInFlight()

	log := d.logger.With(observability.JobFields(job)...)
	log.Info("job claimed")

	outcome, err := d.decide(ctx, job, log)
	if err != nil {
		d.release(ctx, job, err, log)
		return err
	}
	return d.finish(ctx, job, outcome, log)
}

// release puts a claimed job back in the queue after an infrastructure error.
// The previous lastError is kept and attempts are untouched.
func (d *Dispatcher) release(ctx context.Context, job *domain.EmailJob, cause error, log *zap.Logger) {
	now := d.now()
	next := now.Add(d.cfg.ReleaseDelay)
	outcome := domain.JobOutcome{Status: domain.JobStatusQueued, LastError: job.LastError, ScheduledFor: &next}

	err := d.deps.Jobs.RecordOutcome(context.WithoutCancel(ctx), job.ID, d.cfg.WorkerID, outcome, now)
	switch {
	case errors.Is(err, domain.ErrConflict):
		log.Info("job canceled in flight, release discarded", zap.Error(cause))
	case err != nil:
		log.Error("failed to release job, leaving it to the lease sweep", zap.Error(err), zap.NamedError("cause", cause))
	default:
		d.metrics.IncJobDeferred("DISPATCH_ERROR")
		log.Warn("job released after dispatch error", zap.Time("nextAttemptAt", next), zap.Error(cause))
	}
}

func (d *Dispatcher) logLostClaim(ctx context.Context, jobID string) {
	job, err := d.deps.Jobs.GetByID(ctx, jobID)
	if err != nil || job == nil {
		return
	}
	if job.Status.IsTerminal() {
		d.logger.Warn("due job already terminal, ignoring re-delivery",
			zap.String("jobId", jobID),
			zap.String("status", job.Status.String()),
		)
	}
}

func (d *Dispatcher) decide(ctx context.Context, job *domain.EmailJob, log *zap.Logger) (domain.JobOutcome, error) {
	now := d.now()

	if job.BlastID != nil {
		outcome, done, err := d.checkBlast(ctx, job, now)
		if err != nil || done {
			return outcome, err
		}
	}

	settings, err := d.deps.Settings.Get(ctx, job.CompanyID)
	if err != nil {
		return domain.JobOutcome{}, err
	}
	if settings.SendingPaused {
		return requeue(domain.CodeCompanySendingPaused, now.Add(d.cfg.PauseRecheck)), nil
	}

	recipient, err := d.deps.Recipients.Get(ctx, job.CompanyID, job.RecipientKind, job.RecipientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return skip(domain.CodeRecipientMissing), nil
		}
		return domain.JobOutcome{}, fmt.Errorf("failed to load recipient: %w", err)
	}

	if code, err := d.pauseCode(ctx, recipient); err != nil {
		return domain.JobOutcome{}, err
	} else if code != domain.CodeNone {
		return requeue(code, now.Add(d.cfg.PauseRecheck)), nil
	}

	if code, err := d.suppressionCode(ctx, job, recipient); err != nil {
		return domain.JobOutcome{}, err
	} else if code != domain.CodeNone {
		return skip(code), nil
	}

	if job.IsAutomation() {
		code, err := d.enrollmentCode(ctx, job, recipient)
		if err != nil {
			return domain.JobOutcome{}, err
		}
		if code != domain.CodeNone {
			return domain.JobOutcome{Status: domain.JobStatusCanceled, LastError: code}, nil
		}
	}

	decision, err := d.deps.Guard.MayDispatch(ctx, job, settings, now)
	if err != nil {
		return domain.JobOutcome{}, err
	}
	if !decision.Allowed {
		return requeue(decision.Reason, decision.NextAttemptAt), nil
	}

	return d.send(ctx, job, recipient, log), nil
}

// checkBlast handles the blast-state race with operator actions. done is true
// when the outcome is final and no further checks apply.
func (d *Dispatcher) checkBlast(ctx context.Context, job *domain.EmailJob, now time.Time) (domain.JobOutcome, bool, error) {
	blast, err := d.deps.Blasts.GetByID(ctx, *job.BlastID)
	if err != nil {
		return domain.JobOutcome{}, false, fmt.Errorf("failed to load blast: %w", err)
	}

	switch blast.Status {
	case domain.BlastStatusPaused, domain.BlastStatusDraft:
		return requeue(domain.CodeBlastPaused, job.ScheduledFor), true, nil
	case domain.BlastStatusCanceled:
		return domain.JobOutcome{Status: domain.JobStatusCanceled, LastError: domain.CodeBlastCanceled}, true, nil
	case domain.BlastStatusScheduled:
		err := d.deps.Blasts.UpdateStatus(ctx, blast.ID, []domain.BlastStatus{domain.BlastStatusScheduled}, domain.BlastStatusSending, now)
		if err != nil && !errors.Is(err, domain.ErrConflict) {
			return domain.JobOutcome{}, false, fmt.Errorf("failed to mark blast sending: %w", err)
		}
	}
	return domain.JobOutcome{}, false, nil
}

func (d *Dispatcher) pauseCode(ctx context.Context, recipient *domain.Recipient) (domain.ErrorCode, error) {
	if recipient.Paused {
		if recipient.Kind == domain.RecipientRealtor {
			return domain.CodeRealtorPaused, nil
		}
		return domain.CodeContactPaused, nil
	}

	if recipient.Kind != domain.RecipientContact || recipient.RealtorID == nil || *recipient.RealtorID == "" {
		return domain.CodeNone, nil
	}

	realtor, err := d.deps.Recipients.Get(ctx, recipient.CompanyID, domain.RecipientRealtor, *recipient.RealtorID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.CodeNone, nil
		}
		return domain.CodeNone, fmt.Errorf("failed to load realtor: %w", err)
	}
	if realtor.Paused {
		return domain.CodeRealtorPaused, nil
	}
	return domain.CodeNone, nil
}

func (d *Dispatcher) suppressionCode(ctx context.Context, job *domain.EmailJob, recipient *domain.Recipient) (domain.ErrorCode, error) {
	if recipient.DoNotEmail {
		return domain.CodeSuppressed, nil
	}

	email := recipient.Email
	if strings.TrimSpace(email) == "" {
		email = job.To
	}
	if !domain.IsValidEmail(email) {
		return domain.CodeInvalidEmail, nil
	}

	suppressed, err := d.deps.Suppressions.IsSuppressed(ctx, job.CompanyID, email)
	if err != nil {
		return domain.CodeNone, fmt.Errorf("failed to check suppression list: %w", err)
	}
	if suppressed {
		return domain.CodeSuppressed, nil
	}
	return domain.CodeNone, nil
}

func (d *Dispatcher) enrollmentCode(ctx context.Context, job *domain.EmailJob, recipient *domain.Recipient) (domain.ErrorCode, error) {
	rule, schedule, err := loadEnrollment(ctx, d.deps.Automation, job)
	if err != nil {
		return domain.CodeNone, err
	}
	return domain.EnrollmentExitCode(job, recipient, rule, schedule), nil
}

// loadEnrollment fetches the rule and schedule a job references; missing
// records come back nil.
func loadEnrollment(ctx context.Context, automation repository.AutomationRepository, job *domain.EmailJob) (*domain.AutomationRule, *domain.FollowUpSchedule, error) {
	var (
		rule     *domain.AutomationRule
		schedule *domain.FollowUpSchedule
		err      error
	)

	if job.RuleID != nil {
		rule, err = automation.GetRule(ctx, *job.RuleID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, nil, fmt.Errorf("failed to load rule: %w", err)
		}
	}
	if job.ScheduleID != nil {
		schedule, err = automation.GetSchedule(ctx, *job.ScheduleID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, nil, fmt.Errorf("failed to load schedule: %w", err)
		}
	}
	return rule, schedule, nil
}

func (d *Dispatcher) send(ctx context.Context, job *domain.EmailJob, recipient *domain.Recipient, log *zap.Logger) domain.JobOutcome {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.TransportTimeout)
	defer cancel()

	start := d.now()
	resp, err := d.deps.Transport.Send(sendCtx, provider.NewMessage(job, recipient))
	elapsed := d.now().Sub(start)

	if err != nil {
		d.metrics.ObserveTransportSend("error", elapsed)
		log.Warn("transport send failed", zap.Bool("transient", provider.IsTransient(err)), zap.Error(err))
		return d.deps.Retry.Outcome(job, err, d.now())
	}

	d.metrics.ObserveTransportSend("ok", elapsed)
	sentAt := d.now()
	outcome := domain.JobOutcome{
		Status:            domain.JobStatusSent,
		SentAt:            &sentAt,
		IncrementAttempts: true,
	}
	if resp != nil && strings.TrimSpace(resp.MessageID) != "" {
		messageID := resp.MessageID
		outcome.ProviderMessageID = &messageID
	}
	return outcome
}

func (d *Dispatcher) finish(ctx context.Context, job *domain.EmailJob, outcome domain.JobOutcome, log *zap.Logger) error {
	now := d.now()
	if err := d.deps.Jobs.RecordOutcome(ctx, job.ID, d.cfg.WorkerID, outcome, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			log.Info("job canceled in flight, outcome discarded",
				zap.String("status", outcome.Status.String()),
			)
			return nil
		}
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	reason := outcome.LastError.String()
	switch {
	case outcome.Status == domain.JobStatusQueued && outcome.LastError == domain.CodeTransportTransient:
		d.metrics.IncRetryScheduled()
		log.Warn("retry scheduled", zap.Time("nextAttemptAt", *outcome.ScheduledFor))
	case outcome.Status == domain.JobStatusQueued:
		d.metrics.IncJobDeferred(reason)
		log.Info("job deferred", zap.String("reason", reason), zap.Time("nextAttemptAt", *outcome.ScheduledFor))
	case outcome.Status == domain.JobStatusSent:
		d.metrics.IncJobOutcome(outcome.Status.String(), reason)
		log.Info("job sent")
	case outcome.Status == domain.JobStatusFailed:
		d.metrics.IncJobOutcome(outcome.Status.String(), reason)
		log.Warn("job failed", zap.String("reason", reason))
		if outcome.LastError == domain.CodeTransportRejected {
			d.checkBounces(ctx, job, log)
		}
	default:
		d.metrics.IncJobOutcome(outcome.Status.String(), reason)
		log.Info("job closed", zap.String("status", outcome.Status.String()), zap.String("reason", reason))
	}

	if !outcome.Status.IsTerminal() {
		return nil
	}

	d.publish(ctx, job, outcome, now, log)
	if job.BlastID != nil && d.deps.BlastSync != nil {
		if err := d.deps.BlastSync.SyncStatus(ctx, *job.BlastID); err != nil {
			log.Error("failed to sync blast status", zap.Error(err))
		}
	}
	return nil
}

func (d *Dispatcher) checkBounces(ctx context.Context, job *domain.EmailJob, log *zap.Logger) {
	if d.deps.Bounces == nil {
		return
	}
	if _, err := d.deps.Bounces.CheckBounceRate(ctx, job.CompanyID); err != nil {
		log.Error("failed to check bounce rate", zap.Error(err))
	}
}

func (d *Dispatcher) publish(ctx context.Context, job *domain.EmailJob, outcome domain.JobOutcome, now time.Time, log *zap.Logger) {
	if d.deps.Events == nil {
		return
	}

	event := domain.JobEvent{
		JobID:         job.ID,
		CompanyID:     job.CompanyID,
		BlastID:       job.BlastID,
		RecipientID:   job.RecipientID,
		RecipientKind: job.RecipientKind,
		Status:        outcome.Status,
		LastError:     outcome.LastError,
		OccurredAt:    now,
	}
	if err := d.deps.Events.PublishJobEvent(ctx, event); err != nil {
		log.Warn("failed to publish job event", zap.Error(err))
	}
}

func skip(code domain.ErrorCode) domain.JobOutcome {
	return domain.JobOutcome{Status: domain.JobStatusSkipped, LastError: code}
}

func requeue(code domain.ErrorCode, at time.Time) domain.JobOutcome {
	return domain.JobOutcome{Status: domain.JobStatusQueued, LastError: code, ScheduledFor: &at}
}
