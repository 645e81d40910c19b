package repository

import (
	"context"
	"errors"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormJobRepo struct {
	db *gorm.DB
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db}
}

var _ JobRepository = (*GormJobRepo)(nil)

func (r *GormJobRepo) CreateBatch(ctx context.Context, jobs []*domain.EmailJob) error {
	return createJobs(r.db.WithContext(ctx), jobs)
}

func createJobs(tx *gorm.DB, jobs []*domain.EmailJob) error {
	models := make([]EmailJobModel, 0, len(jobs))
	modelIndexes := make([]int, 0, len(jobs))
	for i, j := range jobs {
		model := jobModelFromDomain(j)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	if err := tx.CreateInBatches(&models, 100).Error; err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(jobs) && jobs[idx] != nil {
			*jobs[idx] = *jobModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormJobRepo) GetByID(ctx context.Context, id string) (*domain.EmailJob, error) {
	var model EmailJobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model), nil
}

func (r *GormJobRepo) List(ctx context.Context, params JobListParams) ([]domain.EmailJob, error) {
	query := r.db.WithContext(ctx).Model(&EmailJobModel{})

	if params.CompanyID != "" {
		query = query.Where("company_id = ?", params.CompanyID)
	}
	if params.BlastID != nil {
		query = query.Where("blast_id = ?", *params.BlastID)
	}
	if params.RecipientID != nil {
		query = query.Where("recipient_id = ?", *params.RecipientID)
	}
	if params.RecipientKind != nil {
		query = query.Where("recipient_kind = ?", *params.RecipientKind)
	}
	if params.AutomationOnly {
		query = query.Where("blast_id IS NULL")
	}
	if len(params.Statuses) > 0 {
		query = query.Where("status IN ?", params.Statuses)
	}

	switch params.Bucket {
	case JobBucketUpcoming:
		query = query.
			Where("status IN ?", []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusProcessing}).
			Order("scheduled_for ASC")
	case JobBucketHistory:
		query = query.
			Where("status IN ?", []domain.JobStatus{domain.JobStatusSent, domain.JobStatusFailed, domain.JobStatusSkipped, domain.JobStatusCanceled}).
			Order("updated_at DESC")
	default:
		query = query.Order("scheduled_for ASC")
	}

	var models []EmailJobModel
	if err := query.Limit(clampLimit(params.Limit, 50, 500)).Find(&models).Error; err != nil {
		return nil, err
	}

	return jobModelsToDomain(models), nil
}

func jobModelsToDomain(models []EmailJobModel) []domain.EmailJob {
	jobs := make([]domain.EmailJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}
	return jobs
}

func (r *GormJobRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.EmailJob, error) {
	blocked := r.db.
		Model(&BlastModel{}).
		Select("id").
		Where("status IN ?", domain.NonDispatchableBlastStatuses())

	var models []EmailJobModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", domain.JobStatusQueued, now).
		Where("blast_id IS NULL OR blast_id NOT IN (?)", blocked).
		Order("scheduled_for ASC").
		Limit(clampLimit(limit, 25, 1000)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	return jobModelsToDomain(models), nil
}

func (r *GormJobRepo) Claim(ctx context.Context, id, workerID string, now time.Time) (*domain.EmailJob, error) {
	var model EmailJobModel
	result := r.db.WithContext(ctx).
		Model(&model).
		Clauses(clause.Returning{}).
		Where("id = ? AND status = ? AND scheduled_for <= ?", id, domain.JobStatusQueued, now).
		Updates(map[string]any{
			"status":        domain.JobStatusProcessing,
			"processing_at": now,
			"processing_by": workerID,
			"claimed_at":    gorm.Expr("COALESCE(claimed_at, ?)", now),
			"admitted_at":   nil,
			"updated_at":    now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, domain.ErrConflict
	}
	return jobModelToDomain(&model), nil
}

func (r *GormJobRepo) RecordOutcome(ctx context.Context, id, workerID string, outcome domain.JobOutcome, now time.Time) error {
	if err := outcome.Validate(); err != nil {
		return err
	}

	updates := map[string]any{
		"status":        outcome.Status,
		"last_error":    outcome.LastError,
		"processing_at": nil,
		"processing_by": nil,
		"admitted_at":   nil,
		"updated_at":    now,
	}
	if outcome.ScheduledFor != nil {
		updates["scheduled_for"] = *outcome.ScheduledFor
	}
	if outcome.IncrementAttempts {
		updates["attempts"] = gorm.Expr("attempts + 1")
	}
	if outcome.SentAt != nil {
		updates["sent_at"] = *outcome.SentAt
	}
	if outcome.ProviderMessageID != nil {
		updates["provider_message_id"] = *outcome.ProviderMessageID
	}

	result := r.db.WithContext(ctx).
		Model(&EmailJobModel{}).
		Where("id = ? AND status = ? AND processing_by = ?", id, domain.JobStatusProcessing, workerID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormJobRepo) CancelQueued(ctx context.Context, ids []string, code domain.ErrorCode, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&EmailJobModel{}).
		Where("id IN ? AND status = ?", ids, domain.JobStatusQueued).
		Updates(map[string]any{
			"status":     domain.JobStatusCanceled,
			"last_error": code,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}

func (r *GormJobRepo) CancelBlastJobs(ctx context.Context, blastID string, code domain.ErrorCode, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&EmailJobModel{}).
		Where("blast_id = ? AND status IN ?", blastID, []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusProcessing}).
		Updates(map[string]any{
			"status":        domain.JobStatusCanceled,
			"last_error":    code,
			"processing_at": nil,
			"processing_by": nil,
			"admitted_at":   nil,
			"updated_at":    now,
		})
	return result.RowsAffected, result.Error
}

func (r *GormJobRepo) RequeueStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&EmailJobModel{}).
		Where("status = ? AND processing_at < ?", domain.JobStatusProcessing, cutoff).
		Updates(map[string]any{
			"status":        domain.JobStatusQueued,
			"last_error":    domain.CodeStaleProcessing,
			"processing_at": nil,
			"processing_by": nil,
			"admitted_at":   nil,
			"updated_at":    now,
		})
	return result.RowsAffected, result.Error
}

func (r *GormJobRepo) Reschedule(ctx context.Context, id string, scheduledFor time.Time, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&EmailJobModel{}).
		Where("id = ? AND status = ?", id, domain.JobStatusQueued).
		Updates(map[string]any{
			"scheduled_for": scheduledFor,
			"updated_at":    now,
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

func (r *GormJobRepo) RescheduleQueued(ctx context.Context, schedule map[string]time.Time, now time.Time) error {
	if len(schedule) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, at := range schedule {
			err := tx.Model(&EmailJobModel{}).
				Where("id = ? AND status = ?", id, domain.JobStatusQueued).
				Updates(map[string]any{
					"scheduled_for": at,
					"updated_at":    now,
				}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

type blastCountRow struct {
	Status     domain.JobStatus `gorm:"column:status"`
	Count      int64            `gorm:"column:count"`
	DueNow     int64            `gorm:"column:due_now"`
	Retrying   int64            `gorm:"column:retrying"`
	Dispatched int64            `gorm:"column:dispatched"`
}

func (r *GormJobRepo) BlastCounts(ctx context.Context, blastID string, now time.Time) (domain.JobCounts, error) {
	var rows []blastCountRow
	err := r.db.WithContext(ctx).
		Model(&EmailJobModel{}).
		Select(
			"status, COUNT(*) AS count, "+
				"COUNT(*) FILTER (WHERE scheduled_for <= ?) AS due_now, "+
				"COUNT(*) FILTER (WHERE attempts > 0 AND last_error IN ?) AS retrying, "+
				"COUNT(*) FILTER (WHERE claimed_at IS NOT NULL) AS dispatched",
			now, domain.TransientCodes(),
		).
		Where("blast_id = ?", blastID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return domain.JobCounts{}, err
	}

	var counts domain.JobCounts
	for _, row := range rows {
		counts.Add(row.Status, row.Count)
		counts.Dispatched += row.Dispatched
		if row.Status == domain.JobStatusQueued {
			counts.DueNow += row.DueNow
			counts.Retrying += row.Retrying
		}
	}
	return counts, nil
}

func (r *GormJobRepo) ListQueuedByBlast(ctx context.Context, blastID string) ([]domain.EmailJob, error) {
	var models []EmailJobModel
	err := r.db.WithContext(ctx).
		Where("blast_id = ? AND status = ?", blastID, domain.JobStatusQueued).
		Order("scheduled_for ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return jobModelsToDomain(models), nil
}

func (r *GormJobRepo) ListScheduleTimes(ctx context.Context, blastID string) ([]time.Time, error) {
	var times []time.Time
	err := r.db.WithContext(ctx).
		Model(&EmailJobModel{}).
		Where("blast_id = ?", blastID).
		Order("scheduled_for ASC").
		Pluck("scheduled_for", &times).Error
	return times, err
}

// AdmitDaily takes one of the company's daily slots for a job this worker holds.
// Sent jobs and admitted in-flight jobs use slots; claimed jobs that were never
// admitted do not. The per-company advisory lock serializes concurrent workers.
func (r *GormJobRepo) AdmitDaily(ctx context.Context, jobID, workerID, companyID string, dayStart, dayEnd time.Time, limit int, now time.Time) (bool, error) {
	admitted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "daily-cap:"+companyID).Error; err != nil {
			return err
		}

		var used int64
		err := tx.Model(&EmailJobModel{}).
			Where("company_id = ? AND id <> ?", companyID, jobID).
			Where(
				r.db.Where("status = ? AND sent_at >= ? AND sent_at < ?", domain.JobStatusSent, dayStart, dayEnd).
					Or("status = ? AND admitted_at IS NOT NULL", domain.JobStatusProcessing),
			).
			Count(&used).Error
		if err != nil {
			return err
		}
		if used >= int64(limit) {
			return nil
		}

		result := tx.Model(&EmailJobModel{}).
			Where("id = ? AND status = ? AND processing_by = ?", jobID, domain.JobStatusProcessing, workerID).
			Updates(map[string]any{
				"admitted_at": now,
				"updated_at":  now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConflict
		}
		admitted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return admitted, nil
}

func (r *GormJobRepo) CountSentBetween(ctx context.Context, companyID string, from, to time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&EmailJobModel{}).
		Where("company_id = ? AND status = ? AND sent_at >= ? AND sent_at < ?", companyID, domain.JobStatusSent, from, to).
		Count(&total).Error
	return total, err
}

func (r *GormJobRepo) CountFailedBetween(ctx context.Context, companyID string, code domain.ErrorCode, from, to time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&EmailJobModel{}).
		Where("company_id = ? AND status = ? AND last_error = ?", companyID, domain.JobStatusFailed, code).
		Where("updated_at >= ? AND updated_at < ?", from, to).
		Count(&total).Error
	return total, err
}

func (r *GormJobRepo) HasRuleJobSince(ctx context.Context, ruleID, recipientID string, since time.Time) (bool, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&EmailJobModel{}).
		Where("rule_id = ? AND recipient_id = ? AND created_at >= ?", ruleID, recipientID, since).
		Where("status IN ?", []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusProcessing, domain.JobStatusSent}).
		Count(&total).Error
	return total > 0, err
}
