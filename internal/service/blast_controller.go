package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zlammie/keepup-mailer/internal/audience"
	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/observability"
	"github.com/zlammie/keepup-mailer/internal/pacing"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultConfirmThreshold = 200
	recentJobsPerStatus     = 5
)

type ScheduleBlastInput struct {
	CompanyID        string
	RequestID        string
	Name             string
	TemplateID       string
	AudienceType     domain.AudienceType
	Filters          domain.AudienceFilter
	ScheduledFor     time.Time
	WindowEnd        *time.Time
	ConfirmationText string
}

// BlastPreview is a dry run of ScheduleBlast.
type BlastPreview struct {
	RecipientCount int
	Excluded       audience.Exclusions
	Paused         int
	PacingSummary  *domain.PacingSummary
}

type RecentJobs struct {
	Sent    []domain.EmailJob
	Failed  []domain.EmailJob
	Skipped []domain.EmailJob
}

type BlastDetail struct {
	Blast  *domain.Blast
	Counts domain.JobCounts
	Recent RecentJobs
}

// BlastController owns the blast lifecycle: materialization, operator actions
// and status derivation.
type BlastController struct {
	blasts           repository.BlastRepository
	jobs             repository.JobRepository
	resolver         *audience.Resolver
	settings         *SettingsService
	confirmThreshold int
	maxAttempts      int
	logger           *zap.Logger
	metrics          *observability.Metrics
	now              func() time.Time
	newID            func() string
}

func NewBlastController(
	blasts repository.BlastRepository,
	jobs repository.JobRepository,
	resolver *audience.Resolver,
	settings *SettingsService,
	confirmThreshold int,
	maxAttempts int,
	logger *zap.Logger,
) (*BlastController, error) {
	if blasts == nil || jobs == nil {
		return nil, fmt.Errorf("blast and job repositories are required")
	}
	if resolver == nil || settings == nil {
		return nil, fmt.Errorf("audience resolver and settings service are required")
	}
	if confirmThreshold <= 0 {
		confirmThreshold = defaultConfirmThreshold
	}
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BlastController{
		blasts:           blasts,
		jobs:             jobs,
		resolver:         resolver,
		settings:         settings,
		confirmThreshold: confirmThreshold,
		maxAttempts:      maxAttempts,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
		newID:            uuid.NewString,
	}, nil
}

func (c *BlastController) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

type blastPlan struct {
	settings domain.SendWindowSettings
	audience *audience.Result
	plan     pacing.Plan
}

func (c *BlastController) planBlast(ctx context.Context, in ScheduleBlastInput, now time.Time) (*blastPlan, error) {
	if strings.TrimSpace(in.CompanyID) == "" {
		return nil, fmt.Errorf("%w: companyId is required", domain.ErrValidation)
	}
	if !in.AudienceType.IsValid() {
		return nil, fmt.Errorf("%w: invalid audience type %q", domain.ErrValidation, in.AudienceType)
	}

	settings, err := c.settings.Get(ctx, in.CompanyID)
	if err != nil {
		return nil, err
	}

	resolved, err := c.resolver.Resolve(ctx, in.CompanyID, in.AudienceType, in.Filters)
	if err != nil {
		return nil, err
	}

	start := in.ScheduledFor
	if start.IsZero() || start.Before(now) {
		start = now
	}
	if in.WindowEnd != nil && in.WindowEnd.Before(start) {
		return nil, fmt.Errorf("%w: windowEnd must not precede the send start", domain.ErrValidation)
	}

	plan, err := c.pace(ctx, settings, in.CompanyID, len(resolved.Recipients), start, in.WindowEnd, now)
	if err != nil {
		return nil, err
	}

	pacing.SortRecipients(resolved.Recipients)
	return &blastPlan{settings: settings, audience: resolved, plan: plan}, nil
}

func (c *BlastController) pace(
	ctx context.Context,
	settings domain.SendWindowSettings,
	companyID string,
	count int,
	start time.Time,
	windowEnd *time.Time,
	now time.Time,
) (pacing.Plan, error) {
	pacer := pacing.New(settings)

	var usedToday int64
	if (settings.DailyCap > 0 || settings.Warmup != nil) && count > 0 {
		dayStart, dayEnd := pacer.Window().DayBounds(now)
		var err error
		usedToday, err = c.jobs.CountSentBetween(ctx, companyID, dayStart, dayEnd)
		if err != nil {
			return pacing.Plan{}, fmt.Errorf("failed to count today's sends: %w", err)
		}
	}

	return pacer.Plan(pacing.Request{
		Count:     count,
		Start:     start,
		WindowEnd: windowEnd,
		DailyCap:  settings.DailyCap,
		UsedToday: int(usedToday),
		Now:       now,
	})
}

// Preview resolves the audience and paces it without persisting anything.
func (c *BlastController) Preview(ctx context.Context, in ScheduleBlastInput) (*BlastPreview, error) {
	planned, err := c.planBlast(ctx, in, c.now())
	if err != nil {
		return nil, err
	}

	return &BlastPreview{
		RecipientCount: len(planned.audience.Recipients),
		Excluded:       planned.audience.Excluded,
		Paused:         planned.audience.Paused,
		PacingSummary:  planned.plan.Summary,
	}, nil
}

// ScheduleBlast materializes one queued job per resolved recipient and stores
// the blast as scheduled. A repeated requestId returns the existing blast.
func (c *BlastController) ScheduleBlast(ctx context.Context, in ScheduleBlastInput) (*domain.Blast, bool, error) {
	requestID := strings.TrimSpace(in.RequestID)
	if requestID != "" {
		existing, err := c.blasts.GetByRequestID(ctx, in.CompanyID, requestID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, fmt.Errorf("failed to look up requestId: %w", err)
		}
	}

	now := c.now()
	planned, err := c.planBlast(ctx, in, now)
	if err != nil {
		return nil, false, err
	}

	recipients := planned.audience.Recipients
	if len(recipients) == 0 {
		return nil, false, fmt.Errorf("%w: audience has no sendable recipients", domain.ErrValidation)
	}
	if len(recipients) > c.confirmThreshold {
		want := fmt.Sprintf("SEND %d", len(recipients))
		if strings.TrimSpace(in.ConfirmationText) != want {
			return nil, false, fmt.Errorf("%w: confirmationText must be %q for %d recipients", domain.ErrValidation, want, len(recipients))
		}
	}

	settings := planned.settings
	blast := &domain.Blast{
		ID:               c.newID(),
		CompanyID:        in.CompanyID,
		Name:             strings.TrimSpace(in.Name),
		TemplateID:       strings.TrimSpace(in.TemplateID),
		AudienceType:     in.AudienceType,
		Filters:          in.Filters,
		ScheduledFor:     planned.plan.Summary.FirstSendAt,
		WindowEnd:        in.WindowEnd,
		Status:           domain.BlastStatusScheduled,
		PacingSummary:    planned.plan.Summary,
		SnapshotCount:    len(recipients),
		ExcludedCount:    planned.audience.Excluded.Total(),
		SettingsSnapshot: &settings,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if requestID != "" {
		blast.RequestID = &requestID
	}
	if err := blast.Validate(); err != nil {
		return nil, false, err
	}

	jobs := make([]*domain.EmailJob, len(recipients))
	for i := range recipients {
		jobs[i] = &domain.EmailJob{
			ID:            c.newID(),
			CompanyID:     blast.CompanyID,
			BlastID:       &blast.ID,
			RecipientID:   recipients[i].ID,
			RecipientKind: recipients[i].Kind,
			To:            recipients[i].Email,
			TemplateID:    blast.TemplateID,
			ScheduledFor:  planned.plan.Times[i],
			MaxAttempts:   c.maxAttempts,
			Status:        domain.JobStatusQueued,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	if err := c.blasts.Materialize(ctx, blast, jobs); err != nil {
		if errors.Is(err, domain.ErrConflict) && requestID != "" {
			existing, getErr := c.blasts.GetByRequestID(ctx, in.CompanyID, requestID)
			if getErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to materialize blast: %w", err)
	}

	c.metrics.IncBlastScheduled()
	observability.WithContextLogger(c.logger, ctx).Info("blast scheduled",
		zap.String("blastId", blast.ID),
		zap.String("companyId", blast.CompanyID),
		zap.Int("recipients", len(jobs)),
		zap.Int("excluded", blast.ExcludedCount),
		zap.Int("daysSpanned", blast.PacingSummary.DaysSpanned),
		zap.Bool("extended", blast.PacingSummary.Extended),
	)

	return blast, true, nil
}

func (c *BlastController) getOwned(ctx context.Context, companyID, blastID string) (*domain.Blast, error) {
	blast, err := c.blasts.GetByID(ctx, blastID)
	if err != nil {
		return nil, err
	}
	if blast.CompanyID != companyID {
		return nil, domain.ErrNotFound
	}
	return blast, nil
}

func (c *BlastController) Get(ctx context.Context, companyID, blastID string) (*BlastDetail, error) {
	blast, err := c.getOwned(ctx, companyID, blastID)
	if err != nil {
		return nil, err
	}

	counts, err := c.jobs.BlastCounts(ctx, blast.ID, c.now())
	if err != nil {
		return nil, fmt.Errorf("failed to count blast jobs: %w", err)
	}

	detail := &BlastDetail{Blast: blast, Counts: counts}
	for _, slot := range []struct {
		status domain.JobStatus
		dst    *[]domain.EmailJob
	}{
		{domain.JobStatusSent, &detail.Recent.Sent},
		{domain.JobStatusFailed, &detail.Recent.Failed},
		{domain.JobStatusSkipped, &detail.Recent.Skipped},
	} {
		jobs, err := c.jobs.List(ctx, repository.JobListParams{
			CompanyID: companyID,
			BlastID:   &blast.ID,
			Statuses:  []domain.JobStatus{slot.status},
			Bucket:    repository.JobBucketHistory,
			Limit:     recentJobsPerStatus,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list recent %s jobs: %w", slot.status, err)
		}
		*slot.dst = jobs
	}

	return detail, nil
}

func (c *BlastController) List(ctx context.Context, companyID string, status *domain.BlastStatus, limit int) ([]domain.Blast, error) {
	if strings.TrimSpace(companyID) == "" {
		return nil, fmt.Errorf("%w: companyId is required", domain.ErrValidation)
	}
	return c.blasts.List(ctx, companyID, status, limit)
}

// Cancel stops the blast and cancels every job still queued or processing.
// Canceling a canceled or completed blast is a no-op.
func (c *BlastController) Cancel(ctx context.Context, companyID, blastID string) (*domain.Blast, error) {
	blast, err := c.getOwned(ctx, companyID, blastID)
	if err != nil {
		return nil, err
	}
	if blast.Status == domain.BlastStatusCanceled || blast.Status == domain.BlastStatusCompleted {
		return blast, nil
	}

	now := c.now()
	from := []domain.BlastStatus{
		domain.BlastStatusDraft,
		domain.BlastStatusScheduled,
		domain.BlastStatusSending,
		domain.BlastStatusPaused,
	}
	if err := c.blasts.UpdateStatus(ctx, blast.ID, from, domain.BlastStatusCanceled, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return c.getOwned(ctx, companyID, blastID)
		}
		return nil, fmt.Errorf("failed to cancel blast: %w", err)
	}

	canceled, err := c.jobs.CancelBlastJobs(ctx, blast.ID, domain.CodeBlastCanceled, now)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel blast jobs: %w", err)
	}

	observability.WithContextLogger(c.logger, ctx).Info("blast canceled",
		zap.String("blastId", blast.ID),
		zap.Int64("jobsCanceled", canceled),
	)
	blast.Status = domain.BlastStatusCanceled
	blast.UpdatedAt = now
	return blast, nil
}

// Pause stops the dispatcher from claiming the blast's jobs. Jobs are not touched.
func (c *BlastController) Pause(ctx context.Context, companyID, blastID string) (*domain.Blast, error) {
	blast, err := c.getOwned(ctx, companyID, blastID)
	if err != nil {
		return nil, err
	}

	switch blast.Status {
	case domain.BlastStatusPaused:
		return blast, nil
	case domain.BlastStatusScheduled, domain.BlastStatusSending:
	default:
		return nil, fmt.Errorf("%w: cannot pause a %s blast", domain.ErrInvalidTransition, blast.Status)
	}

	now := c.now()
	from := []domain.BlastStatus{domain.BlastStatusScheduled, domain.BlastStatusSending}
	if err := c.blasts.UpdateStatus(ctx, blast.ID, from, domain.BlastStatusPaused, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: blast changed status concurrently", domain.ErrConflict)
		}
		return nil, fmt.Errorf("failed to pause blast: %w", err)
	}

	observability.WithContextLogger(c.logger, ctx).Info("blast paused", zap.String("blastId", blast.ID))
	blast.Status = domain.BlastStatusPaused
	blast.UpdatedAt = now
	return blast, nil
}

// Resume re-admits a paused blast's jobs with their existing scheduledFor.
// Resuming a blast that is not paused is a no-op, except for canceled blasts.
func (c *BlastController) Resume(ctx context.Context, companyID, blastID string) (*domain.Blast, error) {
	blast, err := c.getOwned(ctx, companyID, blastID)
	if err != nil {
		return nil, err
	}

	switch blast.Status {
	case domain.BlastStatusPaused:
	case domain.BlastStatusCanceled:
		return nil, fmt.Errorf("%w: cannot resume a canceled blast", domain.ErrInvalidTransition)
	default:
		return blast, nil
	}

	now := c.now()
	counts, err := c.jobs.BlastCounts(ctx, blast.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to count blast jobs: %w", err)
	}

	target := domain.BlastStatusScheduled
	if counts.Dispatched > 0 {
		target = domain.BlastStatusSending
	}
	if counts.Pending() == 0 {
		target = domain.BlastStatusCompleted
	}

	if err := c.blasts.UpdateStatus(ctx, blast.ID, []domain.BlastStatus{domain.BlastStatusPaused}, target, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return c.getOwned(ctx, companyID, blastID)
		}
		return nil, fmt.Errorf("failed to resume blast: %w", err)
	}

	observability.WithContextLogger(c.logger, ctx).Info("blast resumed",
		zap.String("blastId", blast.ID),
		zap.String("status", target.String()),
	)
	blast.Status = target
	blast.UpdatedAt = now
	return blast, nil
}

// Repace re-plans the blast's queued jobs from startAt using the company's
// current settings, keeping their relative order. Terminal jobs are untouched.
func (c *BlastController) Repace(ctx context.Context, companyID, blastID string, startAt time.Time) (*domain.Blast, error) {
	blast, err := c.getOwned(ctx, companyID, blastID)
	if err != nil {
		return nil, err
	}

	switch blast.Status {
	case domain.BlastStatusScheduled, domain.BlastStatusSending, domain.BlastStatusPaused:
	default:
		return nil, fmt.Errorf("%w: cannot re-pace a %s blast", domain.ErrInvalidTransition, blast.Status)
	}

	now := c.now()
	if startAt.IsZero() || startAt.Before(now) {
		startAt = now
	}

	queued, err := c.jobs.ListQueuedByBlast(ctx, blast.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued jobs: %w", err)
	}
	if len(queued) == 0 {
		return blast, nil
	}

	settings, err := c.settings.Get(ctx, companyID)
	if err != nil {
		return nil, err
	}
	windowEnd := blast.WindowEnd
	if windowEnd != nil && windowEnd.Before(startAt) {
		windowEnd = nil
	}
	plan, err := c.pace(ctx, settings, companyID, len(queued), startAt, windowEnd, now)
	if err != nil {
		return nil, err
	}

	schedule := make(map[string]time.Time, len(queued))
	for i := range queued {
		schedule[queued[i].ID] = plan.Times[i]
	}
	if err := c.jobs.RescheduleQueued(ctx, schedule, now); err != nil {
		return nil, fmt.Errorf("failed to reschedule jobs: %w", err)
	}

	times, err := c.jobs.ListScheduleTimes(ctx, blast.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule times: %w", err)
	}
	summary := pacing.Summarize(pacing.NewWindow(settings), times, windowEnd)
	if err := c.blasts.UpdatePacingSummary(ctx, blast.ID, summary, now); err != nil {
		return nil, fmt.Errorf("failed to update pacing summary: %w", err)
	}

	observability.WithContextLogger(c.logger, ctx).Info("blast re-paced",
		zap.String("blastId", blast.ID),
		zap.Int("jobs", len(queued)),
		zap.Time("startAt", startAt),
	)
	blast.PacingSummary = summary
	blast.UpdatedAt = now
	return blast, nil
}

// SyncStatus stores the status derived from the blast's job counts.
func (c *BlastController) SyncStatus(ctx context.Context, blastID string) error {
	blast, err := c.blasts.GetByID(ctx, blastID)
	if err != nil {
		return fmt.Errorf("failed to load blast: %w", err)
	}

	now := c.now()
	counts, err := c.jobs.BlastCounts(ctx, blast.ID, now)
	if err != nil {
		return fmt.Errorf("failed to count blast jobs: %w", err)
	}

	derived := domain.DeriveBlastStatus(blast.Status, counts)
	if derived == blast.Status {
		return nil
	}

	err = c.blasts.UpdateStatus(ctx, blast.ID, []domain.BlastStatus{blast.Status}, derived, now)
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("failed to update blast status: %w", err)
	}
	if err == nil && derived == domain.BlastStatusCompleted {
		c.logger.Info("blast completed",
			zap.String("blastId", blast.ID),
			zap.Int64("sent", counts.Sent),
			zap.Int64("failed", counts.Failed),
			zap.Int64("skipped", counts.Skipped),
		)
	}
	return nil
}
