package domain

import (
	"fmt"
	"strings"
	"time"
)

// RecipientEventType enumerates upstream CRM changes the engine reacts to.
type RecipientEventType string

const (
	EventRecipientStatusChanged      RecipientEventType = "recipient.status_changed"
	EventRecipientScheduleUnenrolled RecipientEventType = "recipient.schedule_unenrolled"
)

func (t RecipientEventType) IsValid() bool {
	return t == EventRecipientStatusChanged || t == EventRecipientScheduleUnenrolled
}

// RecipientEvent describes a change on a contact or realtor record.
type RecipientEvent struct {
	Type           RecipientEventType `json:"type"`
	CompanyID      string             `json:"companyId"`
	RecipientID    string             `json:"recipientId"`
	RecipientKind  RecipientKind      `json:"recipientKind"`
	PreviousStatus string             `json:"previousStatus,omitempty"`
	NextStatus     string             `json:"nextStatus,omitempty"`
	ScheduleID     string             `json:"scheduleId,omitempty"`
}

func (e RecipientEvent) Validate() error {
	if !e.Type.IsValid() {
		return fmt.Errorf("%w: invalid event type %q", ErrValidation, e.Type)
	}
	if strings.TrimSpace(e.CompanyID) == "" {
		return fmt.Errorf("%w: companyId is required", ErrValidation)
	}
	if strings.TrimSpace(e.RecipientID) == "" {
		return fmt.Errorf("%w: recipientId is required", ErrValidation)
	}
	if !e.RecipientKind.IsValid() {
		return fmt.Errorf("%w: invalid recipient kind %q", ErrValidation, e.RecipientKind)
	}
	if e.Type == EventRecipientStatusChanged && strings.TrimSpace(e.NextStatus) == "" {
		return fmt.Errorf("%w: nextStatus is required", ErrValidation)
	}
	return nil
}

// JobEvent is published when a job reaches a terminal status.
type JobEvent struct {
	JobID         string        `json:"jobId"`
	CompanyID     string        `json:"companyId"`
	BlastID       *string       `json:"blastId,omitempty"`
	RecipientID   string        `json:"recipientId"`
	RecipientKind RecipientKind `json:"recipientKind"`
	Status        JobStatus     `json:"status"`
	LastError     ErrorCode     `json:"lastError,omitempty"`
	OccurredAt    time.Time     `json:"occurredAt"`
}

func (e JobEvent) Validate() error {
	if strings.TrimSpace(e.JobID) == "" {
		return fmt.Errorf("%w: jobId is required", ErrValidation)
	}
	if !e.Status.IsTerminal() {
		return fmt.Errorf("%w: job event status must be terminal, got %q", ErrValidation, e.Status)
	}
	return nil
}
