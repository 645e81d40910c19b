package repository

import (
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
)

// EmailJobModel is the persistence model for the email_jobs table.
type EmailJobModel struct {
	ID                string               `gorm:"type:uuid;primaryKey"`
	CompanyID         string               `gorm:"type:varchar(64);not null"`
	BlastID           *string              `gorm:"type:uuid"`
	RuleID            *string              `gorm:"type:uuid"`
	ScheduleID        *string              `gorm:"type:uuid"`
	ScheduleStepID    *string              `gorm:"type:varchar(64)"`
	RecipientID       string               `gorm:"type:varchar(64);not null"`
	RecipientKind     domain.RecipientKind `gorm:"type:varchar(10);not null"`
	ToAddress         string               `gorm:"column:to_address;type:varchar(320);not null"`
	TemplateID        string               `gorm:"type:varchar(64);not null"`
	ScheduledFor      time.Time            `gorm:"type:timestamptz;not null"`
	Attempts          int                  `gorm:"not null;default:0"`
	MaxAttempts       int                  `gorm:"not null;default:3"`
	Status            domain.JobStatus     `gorm:"type:varchar(20);not null"`
	LastError         domain.ErrorCode     `gorm:"type:varchar(32);not null;default:''"`
	ProcessingAt      *time.Time           `gorm:"type:timestamptz"`
	ProcessingBy      *string              `gorm:"type:varchar(128)"`
	ClaimedAt         *time.Time           `gorm:"type:timestamptz"`
	AdmittedAt        *time.Time           `gorm:"type:timestamptz"`
	ProviderMessageID *string              `gorm:"type:varchar(255)"`
	SentAt            *time.Time           `gorm:"type:timestamptz"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (EmailJobModel) TableName() string {
	return "email_jobs"
}

// BlastModel is the persistence model for email_blasts.
type BlastModel struct {
	ID               string                     `gorm:"type:uuid;primaryKey"`
	CompanyID        string                     `gorm:"type:varchar(64);not null"`
	RequestID        *string                    `gorm:"type:varchar(80)"`
	Name             string                     `gorm:"type:varchar(255);not null"`
	TemplateID       string                     `gorm:"type:varchar(64);not null"`
	AudienceType     domain.AudienceType        `gorm:"type:varchar(20);not null"`
	Filters          domain.AudienceFilter      `gorm:"type:jsonb;serializer:json"`
	ScheduledFor     time.Time                  `gorm:"type:timestamptz;not null"`
	WindowEnd        *time.Time                 `gorm:"type:timestamptz"`
	Status           domain.BlastStatus         `gorm:"type:varchar(20);not null"`
	PacingSummary    *domain.PacingSummary      `gorm:"type:jsonb;serializer:json"`
	SnapshotCount    int                        `gorm:"not null;default:0"`
	ExcludedCount    int                        `gorm:"not null;default:0"`
	SettingsSnapshot *domain.SendWindowSettings `gorm:"type:jsonb;serializer:json"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (BlastModel) TableName() string {
	return "email_blasts"
}

// RecipientModel mirrors the contact and realtor fields the engine reads.
type RecipientModel struct {
	ID           string               `gorm:"type:varchar(64);primaryKey"`
	Kind         domain.RecipientKind `gorm:"type:varchar(10);primaryKey"`
	CompanyID    string               `gorm:"type:varchar(64);not null"`
	Email        string               `gorm:"type:varchar(320);not null;default:''"`
	FirstName    string               `gorm:"type:varchar(120);not null;default:''"`
	LastName     string               `gorm:"type:varchar(120);not null;default:''"`
	Status       string               `gorm:"type:varchar(64);not null;default:''"`
	RealtorID    *string              `gorm:"type:varchar(64)"`
	CommunityIDs []string             `gorm:"type:jsonb;serializer:json"`
	DoNotEmail   bool                 `gorm:"not null;default:false"`
	Paused       bool                 `gorm:"not null;default:false"`
	PausedAt     *time.Time           `gorm:"type:timestamptz"`
	ScheduleID   *string              `gorm:"type:uuid"`
	UpdatedAt    time.Time
}

func (RecipientModel) TableName() string {
	return "email_recipients"
}

// SuppressionModel is a company-level do-not-send address.
type SuppressionModel struct {
	CompanyID string                   `gorm:"type:varchar(64);primaryKey"`
	Email     string                   `gorm:"type:varchar(320);primaryKey"`
	Reason    domain.SuppressionReason `gorm:"type:varchar(20);not null"`
	CreatedAt time.Time
}

func (SuppressionModel) TableName() string {
	return "email_suppressions"
}

type AutomationRuleModel struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	CompanyID       string `gorm:"type:varchar(64);not null"`
	Name            string `gorm:"type:varchar(255);not null"`
	Enabled         bool   `gorm:"not null;default:true"`
	FromStatus      string `gorm:"type:varchar(64);not null;default:''"`
	ToStatus        string `gorm:"type:varchar(64);not null;default:''"`
	CommunityID     string `gorm:"type:varchar(64);not null;default:''"`
	TemplateID      string `gorm:"type:varchar(64);not null"`
	DelayMinutes    int    `gorm:"not null;default:0"`
	CooldownMinutes int    `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (AutomationRuleModel) TableName() string {
	return "automation_rules"
}

type FollowUpScheduleModel struct {
	ID             string                `gorm:"type:uuid;primaryKey"`
	CompanyID      string                `gorm:"type:varchar(64);not null"`
	Name           string                `gorm:"type:varchar(255);not null"`
	StopOnStatuses []string              `gorm:"type:jsonb;serializer:json"`
	Steps          []domain.ScheduleStep `gorm:"type:jsonb;serializer:json"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (FollowUpScheduleModel) TableName() string {
	return "followup_schedules"
}

// EmailSettingsModel stores one company's send window.
type EmailSettingsModel struct {
	CompanyID          string `gorm:"type:varchar(64);primaryKey"`
	Timezone           string `gorm:"type:varchar(64);not null"`
	AllowedDays        []int  `gorm:"type:jsonb;serializer:json"`
	AllowedStartTime   string `gorm:"type:varchar(5);not null"`
	AllowedEndTime     string `gorm:"type:varchar(5);not null"`
	QuietHoursEnabled  bool   `gorm:"not null;default:true"`
	DailyCap           int    `gorm:"not null;default:0"`
	RateLimitPerMinute int    `gorm:"not null;default:0"`

	SendingPaused       bool           `gorm:"not null;default:false"`
	SendingPausedAt     *time.Time     `gorm:"type:timestamptz"`
	SendingPausedBy     string         `gorm:"type:varchar(32)"`
	SendingPausedReason string         `gorm:"type:varchar(64)"`
	BounceRateThreshold float64        `gorm:"not null;default:0"`
	BounceMinSent       int            `gorm:"not null;default:0"`
	Warmup              *domain.Warmup `gorm:"type:jsonb;serializer:json"`

	UpdatedAt time.Time
}

func (EmailSettingsModel) TableName() string {
	return "email_settings"
}

func jobModelFromDomain(j *domain.EmailJob) *EmailJobModel {
	if j == nil {
		return nil
	}

	return &EmailJobModel{
		ID:                j.ID,
		CompanyID:         j.CompanyID,
		BlastID:           j.BlastID,
		RuleID:            j.RuleID,
		ScheduleID:        j.ScheduleID,
		ScheduleStepID:    j.ScheduleStepID,
		RecipientID:       j.RecipientID,
		RecipientKind:     j.RecipientKind,
		ToAddress:         j.To,
		TemplateID:        j.TemplateID,
		ScheduledFor:      j.ScheduledFor,
		Attempts:          j.Attempts,
		MaxAttempts:       j.MaxAttempts,
		Status:            j.Status,
		LastError:         j.LastError,
		ProcessingAt:      j.ProcessingAt,
		ProcessingBy:      j.ProcessingBy,
		ClaimedAt:         j.ClaimedAt,
		AdmittedAt:        j.AdmittedAt,
		ProviderMessageID: j.ProviderMessageID,
		SentAt:            j.SentAt,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
	}
}

func jobModelToDomain(m *EmailJobModel) *domain.EmailJob {
	if m == nil {
		return nil
	}

	return &domain.EmailJob{
		ID:                m.ID,
		CompanyID:         m.CompanyID,
		BlastID:           m.BlastID,
		RuleID:            m.RuleID,
		ScheduleID:        m.ScheduleID,
		ScheduleStepID:    m.ScheduleStepID,
		RecipientID:       m.RecipientID,
		RecipientKind:     m.RecipientKind,
		To:                m.ToAddress,
		TemplateID:        m.TemplateID,
		ScheduledFor:      m.ScheduledFor,
		Attempts:          m.Attempts,
		MaxAttempts:       m.MaxAttempts,
		Status:            m.Status,
		LastError:         m.LastError,
		ProcessingAt:      m.ProcessingAt,
		ProcessingBy:      m.ProcessingBy,
		ClaimedAt:         m.ClaimedAt,
		AdmittedAt:        m.AdmittedAt,
		ProviderMessageID: m.ProviderMessageID,
		SentAt:            m.SentAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func blastModelFromDomain(b *domain.Blast) *BlastModel {
	if b == nil {
		return nil
	}

	return &BlastModel{
		ID:               b.ID,
		CompanyID:        b.CompanyID,
		RequestID:        b.RequestID,
		Name:             b.Name,
		TemplateID:       b.TemplateID,
		AudienceType:     b.AudienceType,
		Filters:          b.Filters,
		ScheduledFor:     b.ScheduledFor,
		WindowEnd:        b.WindowEnd,
		Status:           b.Status,
		PacingSummary:    b.PacingSummary,
		SnapshotCount:    b.SnapshotCount,
		ExcludedCount:    b.ExcludedCount,
		SettingsSnapshot: b.SettingsSnapshot,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

func blastModelToDomain(m *BlastModel) *domain.Blast {
	if m == nil {
		return nil
	}

	return &domain.Blast{
		ID:               m.ID,
		CompanyID:        m.CompanyID,
		RequestID:        m.RequestID,
		Name:             m.Name,
		TemplateID:       m.TemplateID,
		AudienceType:     m.AudienceType,
		Filters:          m.Filters,
		ScheduledFor:     m.ScheduledFor,
		WindowEnd:        m.WindowEnd,
		Status:           m.Status,
		PacingSummary:    m.PacingSummary,
		SnapshotCount:    m.SnapshotCount,
		ExcludedCount:    m.ExcludedCount,
		SettingsSnapshot: m.SettingsSnapshot,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func recipientModelFromDomain(r *domain.Recipient) *RecipientModel {
	if r == nil {
		return nil
	}

	return &RecipientModel{
		ID:           r.ID,
		Kind:         r.Kind,
		CompanyID:    r.CompanyID,
		Email:        domain.NormalizeEmail(r.Email),
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Status:       r.Status,
		RealtorID:    r.RealtorID,
		CommunityIDs: r.CommunityIDs,
		DoNotEmail:   r.DoNotEmail,
		Paused:       r.Paused,
		PausedAt:     r.PausedAt,
		ScheduleID:   r.ScheduleID,
		UpdatedAt:    r.UpdatedAt,
	}
}

func recipientModelToDomain(m *RecipientModel) *domain.Recipient {
	if m == nil {
		return nil
	}

	return &domain.Recipient{
		ID:           m.ID,
		CompanyID:    m.CompanyID,
		Kind:         m.Kind,
		Email:        m.Email,
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		Status:       m.Status,
		RealtorID:    m.RealtorID,
		CommunityIDs: m.CommunityIDs,
		DoNotEmail:   m.DoNotEmail,
		Paused:       m.Paused,
		PausedAt:     m.PausedAt,
		ScheduleID:   m.ScheduleID,
		UpdatedAt:    m.UpdatedAt,
	}
}

func ruleModelFromDomain(r *domain.AutomationRule) *AutomationRuleModel {
	if r == nil {
		return nil
	}

	return &AutomationRuleModel{
		ID:              r.ID,
		CompanyID:       r.CompanyID,
		Name:            r.Name,
		Enabled:         r.Enabled,
		FromStatus:      r.FromStatus,
		ToStatus:        r.ToStatus,
		CommunityID:     r.CommunityID,
		TemplateID:      r.TemplateID,
		DelayMinutes:    r.DelayMinutes,
		CooldownMinutes: r.CooldownMinutes,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func ruleModelToDomain(m *AutomationRuleModel) *domain.AutomationRule {
	if m == nil {
		return nil
	}

	return &domain.AutomationRule{
		ID:              m.ID,
		CompanyID:       m.CompanyID,
		Name:            m.Name,
		Enabled:         m.Enabled,
		FromStatus:      m.FromStatus,
		ToStatus:        m.ToStatus,
		CommunityID:     m.CommunityID,
		TemplateID:      m.TemplateID,
		DelayMinutes:    m.DelayMinutes,
		CooldownMinutes: m.CooldownMinutes,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func scheduleModelFromDomain(s *domain.FollowUpSchedule) *FollowUpScheduleModel {
	if s == nil {
		return nil
	}

	return &FollowUpScheduleModel{
		ID:             s.ID,
		CompanyID:      s.CompanyID,
		Name:           s.Name,
		StopOnStatuses: s.StopOnStatuses,
		Steps:          s.Steps,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func scheduleModelToDomain(m *FollowUpScheduleModel) *domain.FollowUpSchedule {
	if m == nil {
		return nil
	}

	return &domain.FollowUpSchedule{
		ID:             m.ID,
		CompanyID:      m.CompanyID,
		Name:           m.Name,
		StopOnStatuses: m.StopOnStatuses,
		Steps:          m.Steps,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func settingsModelFromDomain(s *domain.SendWindowSettings) *EmailSettingsModel {
	if s == nil {
		return nil
	}

	return &EmailSettingsModel{
		CompanyID:          s.CompanyID,
		Timezone:           s.Timezone,
		AllowedDays:        s.AllowedDays,
		AllowedStartTime:   s.AllowedStartTime,
		AllowedEndTime:     s.AllowedEndTime,
		QuietHoursEnabled:  s.QuietHoursEnabled,
		DailyCap:           s.DailyCap,
		RateLimitPerMinute: s.RateLimitPerMinute,

		SendingPaused:       s.SendingPaused,
		SendingPausedAt:     s.SendingPausedAt,
		SendingPausedBy:     s.SendingPausedBy,
		SendingPausedReason: s.SendingPausedReason,
		BounceRateThreshold: s.BounceRateThreshold,
		BounceMinSent:       s.BounceMinSent,
		Warmup:              s.Warmup,
	}
}

func settingsModelToDomain(m *EmailSettingsModel) *domain.SendWindowSettings {
	if m == nil {
		return nil
	}

	return &domain.SendWindowSettings{
		CompanyID:          m.CompanyID,
		Timezone:           m.Timezone,
		AllowedDays:        m.AllowedDays,
		AllowedStartTime:   m.AllowedStartTime,
		AllowedEndTime:     m.AllowedEndTime,
		QuietHoursEnabled:  m.QuietHoursEnabled,
		DailyCap:           m.DailyCap,
		RateLimitPerMinute: m.RateLimitPerMinute,

		SendingPaused:       m.SendingPaused,
		SendingPausedAt:     m.SendingPausedAt,
		SendingPausedBy:     m.SendingPausedBy,
		SendingPausedReason: m.SendingPausedReason,
		BounceRateThreshold: m.BounceRateThreshold,
		BounceMinSent:       m.BounceMinSent,
		Warmup:              m.Warmup,
	}
}
