package audience

import (
	"context"
	"fmt"

	"github.com/zlammie/keepup-mailer/internal/domain"
)

// RecipientFinder is the subset of the recipient store the resolver reads.
type RecipientFinder interface {
	Find(ctx context.Context, companyID string, kind domain.RecipientKind, filter domain.AudienceFilter) ([]domain.Recipient, error)
}

type SuppressionChecker interface {
	Suppressed(ctx context.Context, companyID string, emails []string) (map[string]bool, error)
}

// Exclusions counts matched records left out of the send, by reason.
type Exclusions struct {
	NoEmail      int `json:"noEmail"`
	InvalidEmail int `json:"invalidEmail"`
	DoNotEmail   int `json:"doNotEmail"`
	Suppressed   int `json:"suppressed"`
	Duplicate    int `json:"duplicate"`
}

func (e Exclusions) Total() int {
	return e.NoEmail + e.InvalidEmail + e.DoNotEmail + e.Suppressed + e.Duplicate
}

// Result is a resolved audience snapshot.
type Result struct {
	Matched    int
	Recipients []domain.Recipient
	Excluded   Exclusions
	// Paused recipients stay in Recipients; their jobs defer at dispatch time.
	Paused int
}

type Resolver struct {
	recipients   RecipientFinder
	suppressions SuppressionChecker
}

func NewResolver(recipients RecipientFinder, suppressions SuppressionChecker) *Resolver {
	return &Resolver{recipients: recipients, suppressions: suppressions}
}

// Resolve turns a blast's audience type and filter into the concrete set of
// sendable recipients, one per distinct address.
func (r *Resolver) Resolve(ctx context.Context, companyID string, audienceType domain.AudienceType, filter domain.AudienceFilter) (*Result, error) {
	if !audienceType.IsValid() {
		return nil, fmt.Errorf("%w: invalid audience type %q", domain.ErrValidation, audienceType)
	}

	matched, err := r.recipients.Find(ctx, companyID, audienceType.RecipientKind(), filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find recipients: %w", err)
	}

	emails := make([]string, 0, len(matched))
	for _, rec := range matched {
		if rec.Email != "" {
			emails = append(emails, rec.Email)
		}
	}

	suppressed := map[string]bool{}
	if r.suppressions != nil && len(emails) > 0 {
		suppressed, err = r.suppressions.Suppressed(ctx, companyID, emails)
		if err != nil {
			return nil, fmt.Errorf("failed to check suppressions: %w", err)
		}
	}

	result := &Result{Matched: len(matched)}
	seen := make(map[string]bool, len(matched))
	for _, rec := range matched {
		email := domain.NormalizeEmail(rec.Email)
		switch {
		case email == "":
			result.Excluded.NoEmail++
		case !domain.IsValidEmail(email):
			result.Excluded.InvalidEmail++
		case rec.DoNotEmail:
			result.Excluded.DoNotEmail++
		case suppressed[email]:
			result.Excluded.Suppressed++
		case seen[email]:
			result.Excluded.Duplicate++
		default:
			seen[email] = true
			rec.Email = email
			if rec.Paused {
				result.Paused++
			}
			result.Recipients = append(result.Recipients, rec)
		}
	}

	return result, nil
}
