package memory

import (
	"context"
	"sort"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
)

type AutomationRepo struct {
	s *Store
}

func (r *AutomationRepo) CreateRule(_ context.Context, rule *domain.AutomationRule) error {
	if rule == nil {
		return domain.ErrValidation
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.rules[rule.ID]; exists {
		return domain.ErrConflict
	}
	stored := *rule
	r.s.rules[rule.ID] = &stored
	return nil
}

func (r *AutomationRepo) GetRule(_ context.Context, id string) (*domain.AutomationRule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rule, ok := r.s.rules[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *rule
	return &out, nil
}

func (r *AutomationRepo) ListRules(_ context.Context, companyID string, enabledOnly bool) ([]domain.AutomationRule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.AutomationRule
	for _, rule := range r.s.rules {
		if rule.CompanyID != companyID || (enabledOnly && !rule.Enabled) {
			continue
		}
		out = append(out, *rule)
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (r *AutomationRepo) SetRuleEnabled(_ context.Context, companyID, id string, enabled bool, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rule, ok := r.s.rules[id]
	if !ok || rule.CompanyID != companyID {
		return domain.ErrNotFound
	}
	rule.Enabled = enabled
	rule.UpdatedAt = now
	return nil
}

func (r *AutomationRepo) CreateSchedule(_ context.Context, schedule *domain.FollowUpSchedule) error {
	if schedule == nil {
		return domain.ErrValidation
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.schedules[schedule.ID]; exists {
		return domain.ErrConflict
	}
	stored := *schedule
	r.s.schedules[schedule.ID] = &stored
	return nil
}

func (r *AutomationRepo) GetSchedule(_ context.Context, id string) (*domain.FollowUpSchedule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	schedule, ok := r.s.schedules[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *schedule
	return &out, nil
}

type SettingsRepo struct {
	s *Store
}

func (r *SettingsRepo) Get(_ context.Context, companyID string) (*domain.SendWindowSettings, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	settings, ok := r.s.settings[companyID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *settings
	return &out, nil
}

func (r *SettingsRepo) Upsert(_ context.Context, settings *domain.SendWindowSettings) error {
	if settings == nil {
		return domain.ErrValidation
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored := *settings
	r.s.settings[settings.CompanyID] = &stored
	return nil
}
