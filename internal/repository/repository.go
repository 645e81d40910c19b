package repository

import (
	"context"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
)

// JobBucket selects the upcoming or history slice of a job listing.
type JobBucket string

const (
	JobBucketAll      JobBucket = ""
	JobBucketUpcoming JobBucket = "upcoming"
	JobBucketHistory  JobBucket = "history"
)

func (b JobBucket) IsValid() bool {
	return b == JobBucketAll || b == JobBucketUpcoming || b == JobBucketHistory
}

// JobListParams filters List. AutomationOnly excludes blast jobs.
type JobListParams struct {
	CompanyID      string
	BlastID        *string
	RecipientID    *string
	RecipientKind  *domain.RecipientKind
	AutomationOnly bool
	Statuses       []domain.JobStatus
	Bucket         JobBucket
	Limit          int
}

// JobRepository is the durable job store. Every status change is a
// conditional update on the current status so concurrent writers cannot
// move a job along an edge the state machine does not allow.
type JobRepository interface {
	CreateBatch(ctx context.Context, jobs []*domain.EmailJob) error
	GetByID(ctx context.Context, id string) (*domain.EmailJob, error)
	List(ctx context.Context, params JobListParams) ([]domain.EmailJob, error)
	// ListDue returns queued jobs with scheduledFor <= now whose blast, if any,
	// is dispatchable, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.EmailJob, error)
	// Claim moves a due job from queued to processing for workerID. It returns
	// ErrConflict when the job is no longer claimable.
	Claim(ctx context.Context, id, workerID string, now time.Time) (*domain.EmailJob, error)
	// RecordOutcome writes the result of a claim. It returns ErrConflict when the
	// job is no longer processing under workerID, e.g. canceled in flight.
	RecordOutcome(ctx context.Context, id, workerID string, outcome domain.JobOutcome, now time.Time) error
	CancelQueued(ctx context.Context, ids []string, code domain.ErrorCode, now time.Time) (int64, error)
	CancelBlastJobs(ctx context.Context, blastID string, code domain.ErrorCode, now time.Time) (int64, error)
	RequeueStale(ctx context.Context, cutoff, now time.Time) (int64, error)
	Reschedule(ctx context.Context, id string, scheduledFor time.Time, now time.Time) error
	RescheduleQueued(ctx context.Context, schedule map[string]time.Time, now time.Time) error
	// ListQueuedByBlast returns every queued job of a blast in scheduledFor order.
	ListQueuedByBlast(ctx context.Context, blastID string) ([]domain.EmailJob, error)
	BlastCounts(ctx context.Context, blastID string, now time.Time) (domain.JobCounts, error)
	ListScheduleTimes(ctx context.Context, blastID string) ([]time.Time, error)
	// AdmitDaily counts the company's sent and admitted in-flight jobs for
	// [dayStart, dayEnd) and, when fewer than limit, marks the job held by
	// workerID admitted. Admission is atomic per company.
	AdmitDaily(ctx context.Context, jobID, workerID, companyID string, dayStart, dayEnd time.Time, limit int, now time.Time) (bool, error)
	CountSentBetween(ctx context.Context, companyID string, from, to time.Time) (int64, error)
	// CountFailedBetween counts jobs that failed with code and were last
	// updated in [from, to).
	CountFailedBetween(ctx context.Context, companyID string, code domain.ErrorCode, from, to time.Time) (int64, error)
	// HasRuleJobSince reports whether a queued, processing or sent job for the
	// rule and recipient was created at or after since.
	HasRuleJobSince(ctx context.Context, ruleID, recipientID string, since time.Time) (bool, error)
}

// BlastRepository stores blasts. Materialize persists a blast together with
// its jobs atomically.
type BlastRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Blast, error)
	GetByRequestID(ctx context.Context, companyID, requestID string) (*domain.Blast, error)
	List(ctx context.Context, companyID string, status *domain.BlastStatus, limit int) ([]domain.Blast, error)
	// UpdateStatus sets status to `to` only when the current status is one of from.
	UpdateStatus(ctx context.Context, id string, from []domain.BlastStatus, to domain.BlastStatus, now time.Time) error
	UpdatePacingSummary(ctx context.Context, id string, summary *domain.PacingSummary, now time.Time) error
	Materialize(ctx context.Context, blast *domain.Blast, jobs []*domain.EmailJob) error
}

type RecipientRepository interface {
	Get(ctx context.Context, companyID string, kind domain.RecipientKind, id string) (*domain.Recipient, error)
	Find(ctx context.Context, companyID string, kind domain.RecipientKind, filter domain.AudienceFilter) ([]domain.Recipient, error)
	Upsert(ctx context.Context, recipients []*domain.Recipient) error
	SetPaused(ctx context.Context, companyID string, kind domain.RecipientKind, id string, paused bool, now time.Time) (*domain.Recipient, error)
	// UpdateStatus stores the new status and returns the one it replaced.
	UpdateStatus(ctx context.Context, companyID string, kind domain.RecipientKind, id, status string, now time.Time) (string, error)
	SetSchedule(ctx context.Context, companyID string, kind domain.RecipientKind, id string, scheduleID *string, now time.Time) error
}

type SuppressionRepository interface {
	Add(ctx context.Context, s *domain.Suppression) error
	Remove(ctx context.Context, companyID, email string) error
	IsSuppressed(ctx context.Context, companyID, email string) (bool, error)
	// Suppressed returns the subset of emails that are suppressed, normalized.
	Suppressed(ctx context.Context, companyID string, emails []string) (map[string]bool, error)
}

type AutomationRepository interface {
	CreateRule(ctx context.Context, rule *domain.AutomationRule) error
	GetRule(ctx context.Context, id string) (*domain.AutomationRule, error)
	ListRules(ctx context.Context, companyID string, enabledOnly bool) ([]domain.AutomationRule, error)
	SetRuleEnabled(ctx context.Context, companyID, id string, enabled bool, now time.Time) error
	CreateSchedule(ctx context.Context, schedule *domain.FollowUpSchedule) error
	GetSchedule(ctx context.Context, id string) (*domain.FollowUpSchedule, error)
}

type SettingsRepository interface {
	// Get returns ErrNotFound when the company has no stored settings.
	Get(ctx context.Context, companyID string) (*domain.SendWindowSettings, error)
	Upsert(ctx context.Context, settings *domain.SendWindowSettings) error
}

// Repositories bundles one implementation of every store.
type Repositories struct {
	Jobs         JobRepository
	Blasts       BlastRepository
	Recipients   RecipientRepository
	Suppressions SuppressionRepository
	Automation   AutomationRepository
	Settings     SettingsRepository
}

func clampLimit(limit, fallback, ceiling int) int {
	if limit < 1 {
		limit = fallback
	}
	return min(limit, ceiling)
}
