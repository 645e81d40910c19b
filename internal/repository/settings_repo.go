package repository

import (
	"context"
	"errors"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormSettingsRepo struct {
	db *gorm.DB
}

func NewGormSettingsRepo(db *gorm.DB) *GormSettingsRepo {
	return &GormSettingsRepo{db: db}
}

var _ SettingsRepository = (*GormSettingsRepo)(nil)

func (r *GormSettingsRepo) Get(ctx context.Context, companyID string) (*domain.SendWindowSettings, error) {
	var model EmailSettingsModel
	err := r.db.WithContext(ctx).First(&model, "company_id = ?", companyID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return settingsModelToDomain(&model), nil
}

func (r *GormSettingsRepo) Upsert(ctx context.Context, settings *domain.SendWindowSettings) error {
	model := settingsModelFromDomain(settings)
	if model == nil {
		return domain.ErrValidation
	}
	model.UpdatedAt = time.Now().UTC()

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "company_id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}
