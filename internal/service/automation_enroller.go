package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/pacing"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"go.uber.org/zap"
)

// AutomationEnroller creates jobs for automation rules and follow-up schedules.
type AutomationEnroller struct {
	jobs        repository.JobRepository
	recipients  repository.RecipientRepository
	automation  repository.AutomationRepository
	settings    *SettingsService
	maxAttempts int
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
}

func NewAutomationEnroller(
	jobs repository.JobRepository,
	recipients repository.RecipientRepository,
	automation repository.AutomationRepository,
	settings *SettingsService,
	maxAttempts int,
	logger *zap.Logger,
) (*AutomationEnroller, error) {
	if jobs == nil || recipients == nil || automation == nil {
		return nil, fmt.Errorf("job, recipient and automation repositories are required")
	}
	if settings == nil {
		return nil, fmt.Errorf("settings service is required")
	}
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutomationEnroller{
		jobs:        jobs,
		recipients:  recipients,
		automation:  automation,
		settings:    settings,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}, nil
}

// EnrollRules queues one job per enabled rule the status change matches,
// skipping rules still inside their cooldown for this recipient.
func (e *AutomationEnroller) EnrollRules(ctx context.Context, recipient *domain.Recipient, previous, next string) ([]*domain.EmailJob, error) {
	if recipient.Kind != domain.RecipientContact {
		return nil, nil
	}

	rules, err := e.automation.ListRules(ctx, recipient.CompanyID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	now := e.now()
	var window *pacing.Window
	var jobs []*domain.EmailJob
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled || !rule.MatchesTransition(previous, next, recipient.CommunityIDs) {
			continue
		}

		if rule.CooldownMinutes > 0 {
			since := now.Add(-time.Duration(rule.CooldownMinutes) * time.Minute)
			recent, err := e.jobs.HasRuleJobSince(ctx, rule.ID, recipient.ID, since)
			if err != nil {
				return nil, fmt.Errorf("failed to check rule cooldown: %w", err)
			}
			if recent {
				e.logger.Info("rule in cooldown, not enrolling",
					zap.String("ruleId", rule.ID),
					zap.String("recipientId", recipient.ID),
				)
				continue
			}
		}

		if window == nil {
			w, err := e.window(ctx, recipient.CompanyID)
			if err != nil {
				return nil, err
			}
			window = &w
		}

		ruleID := rule.ID
		at := window.Align(now.Add(time.Duration(rule.DelayMinutes) * time.Minute))
		job := e.newJob(recipient, rule.TemplateID, at, now)
		job.RuleID = &ruleID
		jobs = append(jobs, job)
	}

	if len(jobs) == 0 {
		return nil, nil
	}
	if err := e.jobs.CreateBatch(ctx, jobs); err != nil {
		return nil, fmt.Errorf("failed to create rule jobs: %w", err)
	}

	e.logger.Info("recipient enrolled by rules",
		zap.String("recipientId", recipient.ID),
		zap.Int("jobs", len(jobs)),
	)
	return jobs, nil
}

// EnrollSchedule replaces the recipient's follow-up schedule: queued jobs of
// the previous enrollment are canceled and one job per step is queued.
func (e *AutomationEnroller) EnrollSchedule(ctx context.Context, companyID string, kind domain.RecipientKind, id, scheduleID string) ([]*domain.EmailJob, error) {
	if err := validateRecipientRef(companyID, kind, id); err != nil {
		return nil, err
	}

	schedule, err := e.automation.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if schedule.CompanyID != companyID {
		return nil, domain.ErrNotFound
	}

	recipient, err := e.recipients.Get(ctx, companyID, kind, id)
	if err != nil {
		return nil, err
	}

	now := e.now()
	code := domain.CodeScheduleReplaced
	if recipient.ScheduleID != nil && *recipient.ScheduleID == schedule.ID {
		code = domain.CodeScheduleReapplied
	}
	canceled, err := cancelScheduleJobs(ctx, e.jobs, companyID, kind, id, code, now)
	if err != nil {
		return nil, err
	}

	if err := e.recipients.SetSchedule(ctx, companyID, kind, id, &schedule.ID, now); err != nil {
		return nil, err
	}

	log := e.logger.With(
		zap.String("recipientId", id),
		zap.String("scheduleId", schedule.ID),
	)
	if canceled > 0 {
		log.Info("previous schedule jobs canceled", zap.String("reason", code.String()), zap.Int64("count", canceled))
	}
	if schedule.StopsOn(recipient.Status) {
		log.Info("recipient already in a stop status, no steps queued", zap.String("status", recipient.Status))
		return nil, nil
	}

	window, err := e.window(ctx, companyID)
	if err != nil {
		return nil, err
	}

	steps := schedule.OrderedSteps()
	jobs := make([]*domain.EmailJob, 0, len(steps))
	for _, step := range steps {
		job := e.newJob(recipient, step.TemplateID, window.Align(now.AddDate(0, 0, step.DayOffset)), now)
		job.ScheduleID = &schedule.ID
		if step.StepID != "" {
			stepID := step.StepID
			job.ScheduleStepID = &stepID
		}
		jobs = append(jobs, job)
	}

	if err := e.jobs.CreateBatch(ctx, jobs); err != nil {
		return nil, fmt.Errorf("failed to create schedule jobs: %w", err)
	}

	log.Info("recipient enrolled in schedule", zap.Int("jobs", len(jobs)))
	return jobs, nil
}

func (e *AutomationEnroller) window(ctx context.Context, companyID string) (pacing.Window, error) {
	settings, err := e.settings.Get(ctx, companyID)
	if err != nil {
		return pacing.Window{}, err
	}
	return pacing.NewWindow(settings), nil
}

func (e *AutomationEnroller) newJob(recipient *domain.Recipient, templateID string, at, now time.Time) *domain.EmailJob {
	return &domain.EmailJob{
		ID:            e.newID(),
		CompanyID:     recipient.CompanyID,
		RecipientID:   recipient.ID,
		RecipientKind: recipient.Kind,
		To:            domain.NormalizeEmail(recipient.Email),
		TemplateID:    templateID,
		ScheduledFor:  at,
		MaxAttempts:   e.maxAttempts,
		Status:        domain.JobStatusQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// isNotFound reports whether err means the referenced record is gone.
func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
