package domain

import (
	"fmt"
	"strings"
	"time"
)

// BlastStatus represents the lifecycle state of a blast.
type BlastStatus string

const (
	BlastStatusDraft     BlastStatus = "draft"
	BlastStatusScheduled BlastStatus = "scheduled"
	BlastStatusSending   BlastStatus = "sending"
	BlastStatusPaused    BlastStatus = "paused"
	BlastStatusCompleted BlastStatus = "completed"
	BlastStatusCanceled  BlastStatus = "canceled"
)

func (s BlastStatus) String() string { return string(s) }

func (s BlastStatus) IsValid() bool {
	switch s {
	case BlastStatusDraft, BlastStatusScheduled, BlastStatusSending, BlastStatusPaused, BlastStatusCompleted, BlastStatusCanceled:
		return true
	}
	return false
}

// Dispatchable reports whether the dispatcher may claim jobs of a blast in this status.
func (s BlastStatus) Dispatchable() bool {
	return s == BlastStatusScheduled || s == BlastStatusSending
}

func ParseBlastStatusFromString(s string) (BlastStatus, error) {
	st := BlastStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid blast status %q", ErrValidation, s)
	}
	return st, nil
}

// NonDispatchableBlastStatuses lists statuses whose jobs are never claimed.
func NonDispatchableBlastStatuses() []BlastStatus {
	return []BlastStatus{BlastStatusDraft, BlastStatusPaused, BlastStatusCompleted, BlastStatusCanceled}
}

// AudienceType selects which recipient records a blast targets.
type AudienceType string

const (
	AudienceContacts AudienceType = "contacts"
	AudienceRealtors AudienceType = "realtors"
)

func (a AudienceType) IsValid() bool {
	return a == AudienceContacts || a == AudienceRealtors
}

func (a AudienceType) RecipientKind() RecipientKind {
	if a == AudienceRealtors {
		return RecipientRealtor
	}
	return RecipientContact
}

func ParseAudienceTypeFromString(s string) (AudienceType, error) {
	a := AudienceType(strings.ToLower(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", fmt.Errorf("%w: invalid audience type %q", ErrValidation, s)
	}
	return a, nil
}

// AudienceFilter is passed through to the audience resolver.
type AudienceFilter struct {
	Statuses     []string `json:"statuses,omitempty"`
	CommunityIDs []string `json:"communityIds,omitempty"`
	RecipientIDs []string `json:"recipientIds,omitempty"`
}

// PacingSummary is a read-only projection over a blast's scheduled times.
type PacingSummary struct {
	FirstSendAt   time.Time      `json:"firstSendAt"`
	LastSendAt    time.Time      `json:"lastSendAt"`
	DaysSpanned   int            `json:"daysSpanned"`
	PerDayPlanned map[string]int `json:"perDayPlanned,omitempty"`
	Extended      bool           `json:"extended,omitempty"`
}

// Blast is a declared send intent.
type Blast struct {
	ID               string
	CompanyID        string
	RequestID        *string
	Name             string
	TemplateID       string
	AudienceType     AudienceType
	Filters          AudienceFilter
	ScheduledFor     time.Time
	WindowEnd        *time.Time
	Status           BlastStatus
	PacingSummary    *PacingSummary
	SnapshotCount    int
	ExcludedCount    int
	SettingsSnapshot *SendWindowSettings
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const (
	minRequestIDLength = 8
	maxRequestIDLength = 80
)

func (b *Blast) Validate() error {
	if strings.TrimSpace(b.CompanyID) == "" {
		return fmt.Errorf("%w: companyId is required", ErrValidation)
	}
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(b.TemplateID) == "" {
		return fmt.Errorf("%w: templateId is required", ErrValidation)
	}
	if !b.AudienceType.IsValid() {
		return fmt.Errorf("%w: invalid audience type %q", ErrValidation, b.AudienceType)
	}
	if b.RequestID != nil {
		n := len(strings.TrimSpace(*b.RequestID))
		if n < minRequestIDLength || n > maxRequestIDLength {
			return fmt.Errorf("%w: requestId must be %d-%d characters", ErrValidation, minRequestIDLength, maxRequestIDLength)
		}
	}
	if b.WindowEnd != nil && !b.ScheduledFor.IsZero() && b.WindowEnd.Before(b.ScheduledFor) {
		return fmt.Errorf("%w: windowEnd must not precede scheduledFor", ErrValidation)
	}
	return nil
}

// DeriveBlastStatus computes the reporting status from job aggregates.
// Paused, canceled and draft blasts keep their stored status.
func DeriveBlastStatus(stored BlastStatus, counts JobCounts) BlastStatus {
	switch stored {
	case BlastStatusPaused, BlastStatusCanceled, BlastStatusDraft:
		return stored
	}
	if counts.Pending() == 0 {
		return BlastStatusCompleted
	}
	if counts.Dispatched > 0 {
		return BlastStatusSending
	}
	return BlastStatusScheduled
}
