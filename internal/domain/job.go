package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of an email job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSent       JobStatus = "sent"
	JobStatusFailed     JobStatus = "failed"
	JobStatusSkipped    JobStatus = "skipped"
	JobStatusCanceled   JobStatus = "canceled"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusSent, JobStatusFailed, JobStatusSkipped, JobStatusCanceled:
		return true
	}
	return false
}

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSent, JobStatusFailed, JobStatusSkipped, JobStatusCanceled:
		return true
	}
	return false
}

// IsPending reports whether the job still counts against blast completion.
func (s JobStatus) IsPending() bool {
	return s == JobStatusQueued || s == JobStatusProcessing
}

func ParseJobStatusFromString(s string) (JobStatus, error) {
	st := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid job status %q", ErrValidation, s)
	}
	return st, nil
}

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued: {JobStatusProcessing, JobStatusCanceled},
	JobStatusProcessing: {
		JobStatusSent,
		JobStatusQueued,
		JobStatusFailed,
		JobStatusSkipped,
		JobStatusCanceled,
	},
}

// CanTransition reports whether a job may move from one status to another.
// Terminal statuses have no outgoing edges.
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RecipientKind distinguishes the CRM record a job is addressed to.
type RecipientKind string

const (
	RecipientContact RecipientKind = "contact"
	RecipientRealtor RecipientKind = "realtor"
)

func (k RecipientKind) String() string { return string(k) }

func (k RecipientKind) IsValid() bool {
	return k == RecipientContact || k == RecipientRealtor
}

func ParseRecipientKindFromString(s string) (RecipientKind, error) {
	k := RecipientKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid recipient kind %q", ErrValidation, s)
	}
	return k, nil
}

// EmailJob is one recipient's single scheduled delivery.
type EmailJob struct {
	ID                string
	CompanyID         string
	BlastID           *string
	RuleID            *string
	ScheduleID        *string
	ScheduleStepID    *string
	RecipientID       string
	RecipientKind     RecipientKind
	To                string
	TemplateID        string
	ScheduledFor      time.Time
	Attempts          int
	MaxAttempts       int
	Status            JobStatus
	LastError         ErrorCode
	ProcessingAt      *time.Time
	ProcessingBy      *string
	ClaimedAt         *time.Time
	AdmittedAt        *time.Time
	ProviderMessageID *string
	SentAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Reason describes why the job exists: the blast or automation that created it.
func (j *EmailJob) Reason() string {
	switch {
	case j.BlastID != nil:
		return "blast:" + *j.BlastID
	case j.RuleID != nil:
		return "rule:" + *j.RuleID
	case j.ScheduleID != nil:
		return "schedule:" + *j.ScheduleID
	}
	return ""
}

// IsAutomation reports whether the job was created by a rule or schedule.
func (j *EmailJob) IsAutomation() bool {
	return j.BlastID == nil && (j.RuleID != nil || j.ScheduleID != nil)
}

func (j *EmailJob) Validate() error {
	if strings.TrimSpace(j.CompanyID) == "" {
		return fmt.Errorf("%w: companyId is required", ErrValidation)
	}
	if strings.TrimSpace(j.RecipientID) == "" {
		return fmt.Errorf("%w: recipientId is required", ErrValidation)
	}
	if !j.RecipientKind.IsValid() {
		return fmt.Errorf("%w: invalid recipient kind %q", ErrValidation, j.RecipientKind)
	}
	if strings.TrimSpace(j.TemplateID) == "" {
		return fmt.Errorf("%w: templateId is required", ErrValidation)
	}
	if j.ScheduledFor.IsZero() {
		return fmt.Errorf("%w: scheduledFor is required", ErrValidation)
	}
	if j.BlastID == nil && j.RuleID == nil && j.ScheduleID == nil {
		return fmt.Errorf("%w: job must reference a blast, rule or schedule", ErrValidation)
	}
	return nil
}

// JobOutcome is the result a worker records for a job it holds.
type JobOutcome struct {
	Status            JobStatus
	LastError         ErrorCode
	ScheduledFor      *time.Time
	IncrementAttempts bool
	SentAt            *time.Time
	ProviderMessageID *string
}

func (o JobOutcome) Validate() error {
	if !CanTransition(JobStatusProcessing, o.Status) {
		return fmt.Errorf("%w: processing -> %s", ErrInvalidTransition, o.Status)
	}
	if !o.LastError.IsValid() {
		return fmt.Errorf("%w: invalid error code %q", ErrValidation, o.LastError)
	}
	if o.Status == JobStatusQueued && o.ScheduledFor == nil {
		return fmt.Errorf("%w: requeue requires scheduledFor", ErrValidation)
	}
	return nil
}

// JobCounts aggregates a blast's jobs by status plus derived reporting buckets.
type JobCounts struct {
	TotalJobs  int64
	Queued     int64
	Processing int64
	Sent       int64
	Failed     int64
	Skipped    int64
	Canceled   int64
	DueNow     int64
	Retrying   int64
	Dispatched int64
}

// Pending is the number of jobs still queued or processing.
func (c JobCounts) Pending() int64 {
	return c.Queued + c.Processing
}

// Add folds a per-status count into the aggregate.
func (c *JobCounts) Add(status JobStatus, n int64) {
	switch status {
	case JobStatusQueued:
		c.Queued += n
	case JobStatusProcessing:
		c.Processing += n
	case JobStatusSent:
		c.Sent += n
	case JobStatusFailed:
		c.Failed += n
	case JobStatusSkipped:
		c.Skipped += n
	case JobStatusCanceled:
		c.Canceled += n
	default:
		return
	}
	c.TotalJobs += n
}
