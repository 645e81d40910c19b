package repository

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormRecipientRepo struct {
	db *gorm.DB
}

func NewGormRecipientRepo(db *gorm.DB) *GormRecipientRepo {
	return &GormRecipientRepo{db: db}
}

var _ RecipientRepository = (*GormRecipientRepo)(nil)

func (r *GormRecipientRepo) scoped(ctx context.Context, companyID string, kind domain.RecipientKind) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&RecipientModel{}).
		Where("company_id = ? AND kind = ?", companyID, kind)
}

func (r *GormRecipientRepo) Get(ctx context.Context, companyID string, kind domain.RecipientKind, id string) (*domain.Recipient, error) {
	var model RecipientModel
	err := r.scoped(ctx, companyID, kind).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return recipientModelToDomain(&model), nil
}

func (r *GormRecipientRepo) Find(ctx context.Context, companyID string, kind domain.RecipientKind, filter domain.AudienceFilter) ([]domain.Recipient, error) {
	query := r.scoped(ctx, companyID, kind)
	if len(filter.RecipientIDs) > 0 {
		query = query.Where("id IN ?", filter.RecipientIDs)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, domain.NormalizeStatus(s))
		}
		query = query.Where("LOWER(status) IN ?", statuses)
	}

	var models []RecipientModel
	if err := query.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	recipients := make([]domain.Recipient, 0, len(models))
	for i := range models {
		if !inCommunities(models[i].CommunityIDs, filter.CommunityIDs) {
			continue
		}
		recipients = append(recipients, *recipientModelToDomain(&models[i]))
	}
	return recipients, nil
}

// community membership is stored as a json list, so it is matched here
func inCommunities(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, id := range want {
		if slices.Contains(have, id) {
			return true
		}
	}
	return false
}

func (r *GormRecipientRepo) Upsert(ctx context.Context, recipients []*domain.Recipient) error {
	models := make([]RecipientModel, 0, len(recipients))
	for _, rec := range recipients {
		if model := recipientModelFromDomain(rec); model != nil {
			models = append(models, *model)
		}
	}
	if len(models) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}, {Name: "kind"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"company_id", "email", "first_name", "last_name", "status",
				"realtor_id", "community_ids", "do_not_email", "updated_at",
			}),
		}).
		CreateInBatches(&models, 100).Error
}

func (r *GormRecipientRepo) SetPaused(ctx context.Context, companyID string, kind domain.RecipientKind, id string, paused bool, now time.Time) (*domain.Recipient, error) {
	var pausedAt *time.Time
	if paused {
		pausedAt = &now
	}

	result := r.scoped(ctx, companyID, kind).
		Where("id = ?", id).
		Updates(map[string]any{
			"paused":     paused,
			"paused_at":  pausedAt,
			"updated_at": now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrNotFound
	}
	return r.Get(ctx, companyID, kind, id)
}

func (r *GormRecipientRepo) UpdateStatus(ctx context.Context, companyID string, kind domain.RecipientKind, id, status string, now time.Time) (string, error) {
	var previous string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model RecipientModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("company_id = ? AND kind = ? AND id = ?", companyID, kind, id).
			First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		previous = model.Status
		return tx.Model(&model).Updates(map[string]any{
			"status":     status,
			"updated_at": now,
		}).Error
	})
	return previous, err
}

func (r *GormRecipientRepo) SetSchedule(ctx context.Context, companyID string, kind domain.RecipientKind, id string, scheduleID *string, now time.Time) error {
	result := r.scoped(ctx, companyID, kind).
		Where("id = ?", id).
		Updates(map[string]any{
			"schedule_id": scheduleID,
			"updated_at":  now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
