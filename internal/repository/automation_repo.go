package repository

import (
	"context"
	"errors"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
	"gorm.io/gorm"
)

type GormAutomationRepo struct {
	db *gorm.DB
}

func NewGormAutomationRepo(db *gorm.DB) *GormAutomationRepo {
	return &GormAutomationRepo{db: db}
}

var _ AutomationRepository = (*GormAutomationRepo)(nil)

func (r *GormAutomationRepo) CreateRule(ctx context.Context, rule *domain.AutomationRule) error {
	model := ruleModelFromDomain(rule)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if rule != nil {
		*rule = *ruleModelToDomain(model)
	}
	return nil
}

func (r *GormAutomationRepo) GetRule(ctx context.Context, id string) (*domain.AutomationRule, error) {
	var model AutomationRuleModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ruleModelToDomain(&model), nil
}

func (r *GormAutomationRepo) ListRules(ctx context.Context, companyID string, enabledOnly bool) ([]domain.AutomationRule, error) {
	query := r.db.WithContext(ctx).Where("company_id = ?", companyID)
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}

	var models []AutomationRuleModel
	if err := query.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	rules := make([]domain.AutomationRule, 0, len(models))
	for i := range models {
		rules = append(rules, *ruleModelToDomain(&models[i]))
	}
	return rules, nil
}

func (r *GormAutomationRepo) SetRuleEnabled(ctx context.Context, companyID, id string, enabled bool, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&AutomationRuleModel{}).
		Where("id = ? AND company_id = ?", id, companyID).
		Updates(map[string]any{
			"enabled":    enabled,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormAutomationRepo) CreateSchedule(ctx context.Context, schedule *domain.FollowUpSchedule) error {
	model := scheduleModelFromDomain(schedule)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if schedule != nil {
		*schedule = *scheduleModelToDomain(model)
	}
	return nil
}

func (r *GormAutomationRepo) GetSchedule(ctx context.Context, id string) (*domain.FollowUpSchedule, error) {
	var model FollowUpScheduleModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return scheduleModelToDomain(&model), nil
}
