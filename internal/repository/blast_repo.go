package repository

import (
	"context"
	"errors"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
	"gorm.io/gorm"
)

type GormBlastRepo struct {
	db *gorm.DB
}

func NewGormBlastRepo(db *gorm.DB) *GormBlastRepo {
	return &GormBlastRepo{db: db}
}

var _ BlastRepository = (*GormBlastRepo)(nil)

func (r *GormBlastRepo) GetByID(ctx context.Context, id string) (*domain.Blast, error) {
	var model BlastModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return blastModelToDomain(&model), nil
}

func (r *GormBlastRepo) GetByRequestID(ctx context.Context, companyID, requestID string) (*domain.Blast, error) {
	var model BlastModel
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND request_id = ?", companyID, requestID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return blastModelToDomain(&model), nil
}

func (r *GormBlastRepo) List(ctx context.Context, companyID string, status *domain.BlastStatus, limit int) ([]domain.Blast, error) {
	query := r.db.WithContext(ctx).
		Model(&BlastModel{}).
		Where("company_id = ?", companyID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var models []BlastModel
	err := query.
		Order("created_at DESC").
		Limit(clampLimit(limit, 50, 200)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	blasts := make([]domain.Blast, 0, len(models))
	for i := range models {
		blasts = append(blasts, *blastModelToDomain(&models[i]))
	}
	return blasts, nil
}

func (r *GormBlastRepo) UpdateStatus(ctx context.Context, id string, from []domain.BlastStatus, to domain.BlastStatus, now time.Time) error {
	query := r.db.WithContext(ctx).
		Model(&BlastModel{}).
		Where("id = ?", id)
	if len(from) > 0 {
		query = query.Where("status IN ?", from)
	}

	result := query.Updates(map[string]any{
		"status":     to,
		"updated_at": now,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrConflict
	}
	return nil
}

func (r *GormBlastRepo) UpdatePacingSummary(ctx context.Context, id string, summary *domain.PacingSummary, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&BlastModel{ID: id}).
		Select("pacing_summary", "updated_at").
		Updates(&BlastModel{PacingSummary: summary, UpdatedAt: now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Materialize inserts the blast and its jobs in one transaction. A duplicate
// requestId for the company surfaces as ErrConflict.
func (r *GormBlastRepo) Materialize(ctx context.Context, blast *domain.Blast, jobs []*domain.EmailJob) error {
	model := blastModelFromDomain(blast)
	if model == nil {
		return domain.ErrValidation
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		return createJobs(tx, jobs)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrConflict
	}
	if err != nil {
		return err
	}

	*blast = *blastModelToDomain(model)
	return nil
}
