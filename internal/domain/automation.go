package domain

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// NormalizeStatus lowercases and trims a CRM status value for comparison.
func NormalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// AutomationRule enrolls a contact into a single email when its status changes.
type AutomationRule struct {
	ID              string
	CompanyID       string
	Name            string
	Enabled         bool
	FromStatus      string
	ToStatus        string
	CommunityID     string
	TemplateID      string
	DelayMinutes    int
	CooldownMinutes int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r *AutomationRule) Validate() error {
	if strings.TrimSpace(r.CompanyID) == "" {
		return fmt.Errorf("%w: companyId is required", ErrValidation)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(r.TemplateID) == "" {
		return fmt.Errorf("%w: templateId is required", ErrValidation)
	}
	if r.DelayMinutes < 0 || r.CooldownMinutes < 0 {
		return fmt.Errorf("%w: delayMinutes and cooldownMinutes must be >= 0", ErrValidation)
	}
	return nil
}

// MatchesTransition reports whether a status change triggers the rule.
func (r *AutomationRule) MatchesTransition(previous, next string, communityIDs []string) bool {
	if to := NormalizeStatus(r.ToStatus); to != "" && NormalizeStatus(next) != to {
		return false
	}
	if from := NormalizeStatus(r.FromStatus); from != "" && NormalizeStatus(previous) != from {
		return false
	}
	if r.CommunityID != "" && !slices.Contains(communityIDs, r.CommunityID) {
		return false
	}
	return true
}

// TargetsStatus reports whether a recipient in the given status is still a valid target.
func (r *AutomationRule) TargetsStatus(status string) bool {
	to := NormalizeStatus(r.ToStatus)
	return to == "" || NormalizeStatus(status) == to
}

// ScheduleStep is one email in a follow-up schedule.
type ScheduleStep struct {
	StepID     string `json:"stepId"`
	Order      int    `json:"order"`
	DayOffset  int    `json:"dayOffset"`
	TemplateID string `json:"templateId"`
}

// FollowUpSchedule is a multi-step automation a contact is enrolled into.
type FollowUpSchedule struct {
	ID             string
	CompanyID      string
	Name           string
	StopOnStatuses []string
	Steps          []ScheduleStep
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (s *FollowUpSchedule) Validate() error {
	if strings.TrimSpace(s.CompanyID) == "" {
		return fmt.Errorf("%w: companyId is required", ErrValidation)
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: at least one step is required", ErrValidation)
	}
	for i, step := range s.Steps {
		if strings.TrimSpace(step.TemplateID) == "" {
			return fmt.Errorf("%w: steps[%d].templateId is required", ErrValidation, i)
		}
		if step.DayOffset < 0 {
			return fmt.Errorf("%w: steps[%d].dayOffset must be >= 0", ErrValidation, i)
		}
	}
	return nil
}

// StopsOn reports whether reaching the given status ends the schedule.
func (s *FollowUpSchedule) StopsOn(status string) bool {
	normalized := NormalizeStatus(status)
	if normalized == "" {
		return false
	}
	for _, stop := range s.StopOnStatuses {
		if NormalizeStatus(stop) == normalized {
			return true
		}
	}
	return false
}

// OrderedSteps returns steps sorted by order, then day offset.
func (s *FollowUpSchedule) OrderedSteps() []ScheduleStep {
	steps := slices.Clone(s.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Order != steps[j].Order {
			return steps[i].Order < steps[j].Order
		}
		return steps[i].DayOffset < steps[j].DayOffset
	})
	return steps
}

// EnrollmentExitCode decides whether an automation job is still valid to send.
// It returns CodeNone when the job may proceed; rule and schedule are the
// records the job references, nil when they no longer exist.
func EnrollmentExitCode(job *EmailJob, recipient *Recipient, rule *AutomationRule, schedule *FollowUpSchedule) ErrorCode {
	if job == nil || !job.IsAutomation() || recipient == nil {
		return CodeNone
	}

	if job.RuleID != nil {
		if rule == nil || !rule.Enabled {
			return CodeRuleDisabled
		}
		if !rule.TargetsStatus(recipient.Status) {
			return CodeRuleStatusExit
		}
	}

	if job.ScheduleID != nil {
		if schedule == nil || recipient.ScheduleID == nil || *recipient.ScheduleID != *job.ScheduleID {
			return CodeScheduleUnenrolled
		}
		if schedule.StopsOn(recipient.Status) {
			return CodeScheduleStopStatus
		}
	}

	return CodeNone
}
