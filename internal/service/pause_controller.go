package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"go.uber.org/zap"
)

const (
	activityUpcomingLimit = 50
	activityRecentLimit   = 20
)

// RecipientActivity is a contact's or realtor's email timeline.
type RecipientActivity struct {
	Paused   bool
	PausedAt *time.Time
	Upcoming []domain.EmailJob
	Recent   []domain.EmailJob
}

// PauseController flips recipient-level pause flags. The dispatcher reads the
// flags on every attempt, so no job is touched here.
type PauseController struct {
	recipients repository.RecipientRepository
	jobs       repository.JobRepository
	logger     *zap.Logger
	now        func() time.Time
}

func NewPauseController(recipients repository.RecipientRepository, jobs repository.JobRepository, logger *zap.Logger) (*PauseController, error) {
	if recipients == nil || jobs == nil {
		return nil, fmt.Errorf("recipient and job repositories are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PauseController{
		recipients: recipients,
		jobs:       jobs,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func validateRecipientRef(companyID string, kind domain.RecipientKind, id string) error {
	if strings.TrimSpace(companyID) == "" {
		return fmt.Errorf("%w: companyId is required", domain.ErrValidation)
	}
	if !kind.IsValid() {
		return fmt.Errorf("%w: invalid recipient kind %q", domain.ErrValidation, kind)
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: recipient id is required", domain.ErrValidation)
	}
	return nil
}

func (c *PauseController) SetPaused(ctx context.Context, companyID string, kind domain.RecipientKind, id string, paused bool) (*domain.Recipient, error) {
	if err := validateRecipientRef(companyID, kind, id); err != nil {
		return nil, err
	}

	recipient, err := c.recipients.SetPaused(ctx, companyID, kind, id, paused, c.now())
	if err != nil {
		return nil, err
	}

	c.logger.Info("recipient pause updated",
		zap.String("recipientId", id),
		zap.String("recipientKind", kind.String()),
		zap.Bool("paused", paused),
	)
	return recipient, nil
}

func (c *PauseController) Activity(ctx context.Context, companyID string, kind domain.RecipientKind, id string) (*RecipientActivity, error) {
	if err := validateRecipientRef(companyID, kind, id); err != nil {
		return nil, err
	}

	recipient, err := c.recipients.Get(ctx, companyID, kind, id)
	if err != nil {
		return nil, err
	}

	upcoming, err := c.jobs.List(ctx, repository.JobListParams{
		CompanyID:     companyID,
		RecipientID:   &id,
		RecipientKind: &kind,
		Bucket:        repository.JobBucketUpcoming,
		Limit:         activityUpcomingLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming jobs: %w", err)
	}

	recent, err := c.jobs.List(ctx, repository.JobListParams{
		CompanyID:     companyID,
		RecipientID:   &id,
		RecipientKind: &kind,
		Bucket:        repository.JobBucketHistory,
		Limit:         activityRecentLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent jobs: %w", err)
	}

	return &RecipientActivity{
		Paused:   recipient.Paused,
		PausedAt: recipient.PausedAt,
		Upcoming: upcoming,
		Recent:   recent,
	}, nil
}
