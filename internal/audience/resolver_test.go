package audience

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zlammie/keepup-mailer/internal/domain"
)

type fakeRecipientFinder struct {
	findFn func(ctx context.Context, companyID string, kind domain.RecipientKind, filter domain.AudienceFilter) ([]domain.Recipient, error)
}

func (f *fakeRecipientFinder) Find(ctx context.Context, companyID string, kind domain.RecipientKind, filter domain.AudienceFilter) ([]domain.Recipient, error) {
	return f.findFn(ctx, companyID, kind, filter)
}

type fakeSuppressionChecker struct {
	suppressed map[string]bool
}

func (f *fakeSuppressionChecker) Suppressed(_ context.Context, _ string, emails []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, e := range emails {
		if f.suppressed[domain.NormalizeEmail(e)] {
			out[domain.NormalizeEmail(e)] = true
		}
	}
	return out, nil
}

func TestResolverExcludesAndCountsReasons(t *testing.T) {
	t.Parallel()

	finder := &fakeRecipientFinder{
		findFn: func(_ context.Context, companyID string, kind domain.RecipientKind, _ domain.AudienceFilter) ([]domain.Recipient, error) {
			if companyID != "company-1" || kind != domain.RecipientRealtor {
				t.Fatalf("Find(%s, %s) unexpected arguments", companyID, kind)
			}
			return []domain.Recipient{
				{ID: "1", Email: "ok@example.com"},
				{ID: "2", Email: ""},
				{ID: "3", Email: "not-an-email"},
				{ID: "4", Email: "dne@example.com", DoNotEmail: true},
				{ID: "5", Email: "blocked@example.com"},
				{ID: "6", Email: "OK@example.com "},
				{ID: "7", Email: "paused@example.com", Paused: true},
			}, nil
		},
	}
	resolver := NewResolver(finder, &fakeSuppressionChecker{suppressed: map[string]bool{"blocked@example.com": true}})

	result, err := resolver.Resolve(context.Background(), "company-1", domain.AudienceRealtors, domain.AudienceFilter{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if result.Matched != 7 {
		t.Fatalf("Matched = %d, want 7", result.Matched)
	}
	if len(result.Recipients) != 2 {
		t.Fatalf("Recipients = %+v, want ok and paused", result.Recipients)
	}
	want := Exclusions{NoEmail: 1, InvalidEmail: 1, DoNotEmail: 1, Suppressed: 1, Duplicate: 1}
	if result.Excluded != want {
		t.Fatalf("Excluded = %+v, want %+v", result.Excluded, want)
	}
	if result.Paused != 1 {
		t.Fatalf("Paused = %d, want 1", result.Paused)
	}
}

func TestResolverRejectsUnknownAudience(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(&fakeRecipientFinder{}, nil)
	if _, err := resolver.Resolve(context.Background(), "c", domain.AudienceType("lenders"), domain.AudienceFilter{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Resolve() error = %v, want ErrValidation", err)
	}
}

func TestParseImportRows(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"Id,Email,FirstName,Status,Communities,DoNotEmail",
		"c-1, jane@example.com ,Jane,Lead,comm-1;comm-2,no",
		"c-2,,Nobody,Lead,,",
		"c-3,short",
		",bob@example.com,Bob,Prospect,,yes",
	}, "\n")

	rows, err := ParseImportRows(strings.NewReader(input), 0)
	if err != nil {
		t.Fatalf("ParseImportRows() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	recipients := ToRecipients("company-1", domain.RecipientContact, rows)
	jane := recipients[0]
	if jane.ID != "c-1" || jane.Email != "jane@example.com" || jane.Status != "Lead" {
		t.Fatalf("jane = %+v", jane)
	}
	if len(jane.CommunityIDs) != 2 || jane.CommunityIDs[1] != "comm-2" {
		t.Fatalf("CommunityIDs = %v", jane.CommunityIDs)
	}

	bob := recipients[1]
	if bob.ID == "" || !bob.DoNotEmail {
		t.Fatalf("bob = %+v, want derived id and doNotEmail", bob)
	}
	again := ToRecipients("company-1", domain.RecipientContact, rows[1:])
	if again[0].ID != bob.ID {
		t.Fatal("derived ids must be stable across imports")
	}
}

func TestParseImportRowsRequiresEmailColumn(t *testing.T) {
	t.Parallel()

	_, err := ParseImportRows(strings.NewReader("Name\nJane\n"), 0)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ParseImportRows() error = %v, want ErrValidation", err)
	}
}
