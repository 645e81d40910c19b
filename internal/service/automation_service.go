package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/repository"
)

// AutomationService manages rule and schedule definitions.
type AutomationService struct {
	repo  repository.AutomationRepository
	now   func() time.Time
	newID func() string
}

func NewAutomationService(repo repository.AutomationRepository) (*AutomationService, error) {
	if repo == nil {
		return nil, fmt.Errorf("automation repository is required")
	}
	return &AutomationService{
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}, nil
}

func (s *AutomationService) CreateRule(ctx context.Context, rule *domain.AutomationRule) (*domain.AutomationRule, error) {
	if rule == nil {
		return nil, fmt.Errorf("%w: rule is required", domain.ErrValidation)
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	rule.ID = s.newID()
	rule.FromStatus = strings.TrimSpace(rule.FromStatus)
	rule.ToStatus = strings.TrimSpace(rule.ToStatus)
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	return rule, nil
}

func (s *AutomationService) ListRules(ctx context.Context, companyID string) ([]domain.AutomationRule, error) {
	if strings.TrimSpace(companyID) == "" {
		return nil, fmt.Errorf("%w: companyId is required", domain.ErrValidation)
	}
	return s.repo.ListRules(ctx, companyID, false)
}

// SetRuleEnabled toggles a rule. Queued jobs of a disabled rule are canceled
// by the dispatcher when they come due.
func (s *AutomationService) SetRuleEnabled(ctx context.Context, companyID, id string, enabled bool) error {
	return s.repo.SetRuleEnabled(ctx, companyID, id, enabled, s.now())
}

func (s *AutomationService) CreateSchedule(ctx context.Context, schedule *domain.FollowUpSchedule) (*domain.FollowUpSchedule, error) {
	if schedule == nil {
		return nil, fmt.Errorf("%w: schedule is required", domain.ErrValidation)
	}
	if err := schedule.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	schedule.ID = s.newID()
	for i := range schedule.Steps {
		if strings.TrimSpace(schedule.Steps[i].StepID) == "" {
			schedule.Steps[i].StepID = s.newID()
		}
	}
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	if err := s.repo.CreateSchedule(ctx, schedule); err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}
	return schedule, nil
}

func (s *AutomationService) GetSchedule(ctx context.Context, companyID, id string) (*domain.FollowUpSchedule, error) {
	schedule, err := s.repo.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if schedule.CompanyID != companyID {
		return nil, domain.ErrNotFound
	}
	return schedule, nil
}
