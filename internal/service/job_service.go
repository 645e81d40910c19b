package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/observability"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"go.uber.org/zap"
)

// JobService exposes operator actions on single jobs.
type JobService struct {
	jobs      repository.JobRepository
	blastSync BlastStatusSyncer
	logger    *zap.Logger
	now       func() time.Time
}

func NewJobService(jobs repository.JobRepository, blastSync BlastStatusSyncer, logger *zap.Logger) (*JobService, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobService{
		jobs:      jobs,
		blastSync: blastSync,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *JobService) List(ctx context.Context, params repository.JobListParams) ([]domain.EmailJob, error) {
	if strings.TrimSpace(params.CompanyID) == "" {
		return nil, fmt.Errorf("%w: companyId is required", domain.ErrValidation)
	}
	if !params.Bucket.IsValid() {
		return nil, fmt.Errorf("%w: invalid bucket %q", domain.ErrValidation, params.Bucket)
	}
	return s.jobs.List(ctx, params)
}

func (s *JobService) getQueued(ctx context.Context, companyID, jobID string) (*domain.EmailJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.CompanyID != companyID {
		return nil, domain.ErrNotFound
	}
	if job.Status != domain.JobStatusQueued {
		return nil, fmt.Errorf("%w: job is %s", domain.ErrInvalidTransition, job.Status)
	}
	return job, nil
}

// Cancel cancels one queued job with OPERATOR_CANCELED.
func (s *JobService) Cancel(ctx context.Context, companyID, jobID string) (*domain.EmailJob, error) {
	job, err := s.getQueued(ctx, companyID, jobID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	n, err := s.jobs.CancelQueued(ctx, []string{job.ID}, domain.CodeOperatorCanceled, now)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: job left the queue concurrently", domain.ErrConflict)
	}

	if job.BlastID != nil && s.blastSync != nil {
		if err := s.blastSync.SyncStatus(ctx, *job.BlastID); err != nil {
			s.logger.Error("failed to sync blast status", zap.String("blastId", *job.BlastID), zap.Error(err))
		}
	}

	observability.WithContextLogger(s.logger, ctx).Info("job canceled by operator", zap.String("jobId", job.ID))
	job.Status = domain.JobStatusCanceled
	job.LastError = domain.CodeOperatorCanceled
	job.UpdatedAt = now
	return job, nil
}

// Reschedule moves a queued job to a new time. Attempts are unchanged.
func (s *JobService) Reschedule(ctx context.Context, companyID, jobID string, scheduledFor time.Time) (*domain.EmailJob, error) {
	if scheduledFor.IsZero() {
		return nil, fmt.Errorf("%w: scheduledFor is required", domain.ErrValidation)
	}

	job, err := s.getQueued(ctx, companyID, jobID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.jobs.Reschedule(ctx, job.ID, scheduledFor.UTC(), now); err != nil {
		return nil, fmt.Errorf("failed to reschedule job: %w", err)
	}

	job.ScheduledFor = scheduledFor.UTC()
	job.UpdatedAt = now
	return job, nil
}
