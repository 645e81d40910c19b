package repository

import (
	"context"
	"fmt"

	"github.com/zlammie/keepup-mailer/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormSuppressionRepo struct {
	db *gorm.DB
}

func NewGormSuppressionRepo(db *gorm.DB) *GormSuppressionRepo {
	return &GormSuppressionRepo{db: db}
}

var _ SuppressionRepository = (*GormSuppressionRepo)(nil)

func (r *GormSuppressionRepo) Add(ctx context.Context, s *domain.Suppression) error {
	if s == nil {
		return fmt.Errorf("%w: suppression is required", domain.ErrValidation)
	}
	model := SuppressionModel{
		CompanyID: s.CompanyID,
		Email:     domain.NormalizeEmail(s.Email),
		Reason:    s.Reason,
		CreatedAt: s.CreatedAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "company_id"}, {Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"reason"}),
		}).
		Create(&model).Error
}

func (r *GormSuppressionRepo) Remove(ctx context.Context, companyID, email string) error {
	result := r.db.WithContext(ctx).
		Where("company_id = ? AND email = ?", companyID, domain.NormalizeEmail(email)).
		Delete(&SuppressionModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormSuppressionRepo) IsSuppressed(ctx context.Context, companyID, email string) (bool, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&SuppressionModel{}).
		Where("company_id = ? AND email = ?", companyID, domain.NormalizeEmail(email)).
		Count(&total).Error
	return total > 0, err
}

func (r *GormSuppressionRepo) Suppressed(ctx context.Context, companyID string, emails []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(emails) == 0 {
		return found, nil
	}

	normalized := make([]string, 0, len(emails))
	for _, e := range emails {
		normalized = append(normalized, domain.NormalizeEmail(e))
	}

	var hits []string
	err := r.db.WithContext(ctx).
		Model(&SuppressionModel{}).
		Where("company_id = ? AND email IN ?", companyID, normalized).
		Pluck("email", &hits).Error
	if err != nil {
		return nil, err
	}
	for _, e := range hits {
		found[e] = true
	}
	return found, nil
}
