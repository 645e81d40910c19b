package service

import (
	"context"
	"fmt"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"go.uber.org/zap"
)

const maxRecipientQueuedJobs = 500

// CancellationWatcher cancels a recipient's queued automation jobs once the
// reason they were created no longer holds.
type CancellationWatcher struct {
	jobs       repository.JobRepository
	recipients repository.RecipientRepository
	automation repository.AutomationRepository
	logger     *zap.Logger
	now        func() time.Time
}

func NewCancellationWatcher(
	jobs repository.JobRepository,
	recipients repository.RecipientRepository,
	automation repository.AutomationRepository,
	logger *zap.Logger,
) (*CancellationWatcher, error) {
	if jobs == nil || recipients == nil || automation == nil {
		return nil, fmt.Errorf("job, recipient and automation repositories are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CancellationWatcher{
		jobs:       jobs,
		recipients: recipients,
		automation: automation,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Evaluate re-checks every queued automation job of the recipient against its
// rule or schedule and cancels the ones that no longer apply.
func (w *CancellationWatcher) Evaluate(ctx context.Context, recipient *domain.Recipient) (int64, error) {
	queued, err := queuedAutomationJobs(ctx, w.jobs, recipient.CompanyID, recipient.Kind, recipient.ID)
	if err != nil {
		return 0, err
	}

	byCode := make(map[domain.ErrorCode][]string)
	for i := range queued {
		job := &queued[i]
		rule, schedule, err := loadEnrollment(ctx, w.automation, job)
		if err != nil {
			return 0, err
		}
		if code := domain.EnrollmentExitCode(job, recipient, rule, schedule); code != domain.CodeNone {
			byCode[code] = append(byCode[code], job.ID)
		}
	}

	now := w.now()
	var total int64
	for code, ids := range byCode {
		n, err := w.jobs.CancelQueued(ctx, ids, code, now)
		if err != nil {
			return total, fmt.Errorf("failed to cancel automation jobs: %w", err)
		}
		total += n
		w.logger.Info("automation jobs canceled",
			zap.String("recipientId", recipient.ID),
			zap.String("reason", code.String()),
			zap.Int64("count", n),
		)
	}
	return total, nil
}

// Unenroll removes the recipient from its follow-up schedule and cancels the
// schedule's queued jobs with SCHEDULE_UNENROLLED.
func (w *CancellationWatcher) Unenroll(ctx context.Context, companyID string, kind domain.RecipientKind, id string) (int64, error) {
	if err := validateRecipientRef(companyID, kind, id); err != nil {
		return 0, err
	}

	now := w.now()
	if err := w.recipients.SetSchedule(ctx, companyID, kind, id, nil, now); err != nil {
		return 0, err
	}

	n, err := cancelScheduleJobs(ctx, w.jobs, companyID, kind, id, domain.CodeScheduleUnenrolled, now)
	if err != nil {
		return 0, err
	}

	w.logger.Info("recipient unenrolled from schedule",
		zap.String("recipientId", id),
		zap.Int64("jobsCanceled", n),
	)
	return n, nil
}

func queuedAutomationJobs(ctx context.Context, jobs repository.JobRepository, companyID string, kind domain.RecipientKind, id string) ([]domain.EmailJob, error) {
	queued, err := jobs.List(ctx, repository.JobListParams{
		CompanyID:      companyID,
		RecipientID:    &id,
		RecipientKind:  &kind,
		AutomationOnly: true,
		Statuses:       []domain.JobStatus{domain.JobStatusQueued},
		Limit:          maxRecipientQueuedJobs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list queued automation jobs: %w", err)
	}
	return queued, nil
}

func cancelScheduleJobs(
	ctx context.Context,
	jobs repository.JobRepository,
	companyID string,
	kind domain.RecipientKind,
	id string,
	code domain.ErrorCode,
	now time.Time,
) (int64, error) {
	queued, err := queuedAutomationJobs(ctx, jobs, companyID, kind, id)
	if err != nil {
		return 0, err
	}

	var ids []string
	for _, job := range queued {
		if job.ScheduleID != nil {
			ids = append(ids, job.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := jobs.CancelQueued(ctx, ids, code, now)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel schedule jobs: %w", err)
	}
	return n, nil
}
