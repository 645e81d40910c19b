package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func IsValidEmail(email string) bool {
	return emailPattern.MatchString(NormalizeEmail(email))
}

// Recipient is the subset of a CRM contact or realtor the delivery engine reads.
type Recipient struct {
	ID           string
	CompanyID    string
	Kind         RecipientKind
	Email        string
	FirstName    string
	LastName     string
	Status       string
	RealtorID    *string
	CommunityIDs []string
	DoNotEmail   bool
	Paused       bool
	PausedAt     *time.Time
	ScheduleID   *string
	UpdatedAt    time.Time
}

// MergeData returns the fields templates may reference.
func (r *Recipient) MergeData() map[string]string {
	return map[string]string{
		"firstName": r.FirstName,
		"lastName":  r.LastName,
		"email":     r.Email,
		"status":    r.Status,
	}
}

func (r *Recipient) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: recipient id is required", ErrValidation)
	}
	if strings.TrimSpace(r.CompanyID) == "" {
		return fmt.Errorf("%w: companyId is required", ErrValidation)
	}
	if !r.Kind.IsValid() {
		return fmt.Errorf("%w: invalid recipient kind %q", ErrValidation, r.Kind)
	}
	return nil
}

// PauseState is the pause flag of one contact or realtor.
type PauseState struct {
	Paused   bool
	PausedAt *time.Time
}

// SuppressionReason enumerates why an address may not be emailed.
type SuppressionReason string

const (
	SuppressionUnsubscribe SuppressionReason = "unsubscribe"
	SuppressionBounce      SuppressionReason = "bounce"
	SuppressionComplaint   SuppressionReason = "complaint"
	SuppressionManual      SuppressionReason = "manual"
)

func (r SuppressionReason) IsValid() bool {
	switch r {
	case SuppressionUnsubscribe, SuppressionBounce, SuppressionComplaint, SuppressionManual:
		return true
	}
	return false
}

func ParseSuppressionReasonFromString(s string) (SuppressionReason, error) {
	r := SuppressionReason(strings.ToLower(strings.TrimSpace(s)))
	if r == "" {
		return SuppressionManual, nil
	}
	if !r.IsValid() {
		return "", fmt.Errorf("%w: invalid suppression reason %q", ErrValidation, s)
	}
	return r, nil
}

// Suppression is a company-level do-not-send entry.
type Suppression struct {
	CompanyID string
	Email     string
	Reason    SuppressionReason
	CreatedAt time.Time
}
