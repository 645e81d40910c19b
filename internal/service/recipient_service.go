package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zlammie/keepup-mailer/internal/audience"
	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"go.uber.org/zap"
)

const maxImportRows = 5000

// RecipientService manages recipient records and the suppression list.
type RecipientService struct {
	recipients   repository.RecipientRepository
	suppressions repository.SuppressionRepository
	logger       *zap.Logger
	now          func() time.Time
}

func NewRecipientService(recipients repository.RecipientRepository, suppressions repository.SuppressionRepository, logger *zap.Logger) (*RecipientService, error) {
	if recipients == nil || suppressions == nil {
		return nil, fmt.Errorf("recipient and suppression repositories are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecipientService{
		recipients:   recipients,
		suppressions: suppressions,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Import upserts the recipients of a CSV upload and returns how many rows
// were stored.
func (s *RecipientService) Import(ctx context.Context, companyID string, kind domain.RecipientKind, r io.Reader) (int, error) {
	if strings.TrimSpace(companyID) == "" {
		return 0, fmt.Errorf("%w: companyId is required", domain.ErrValidation)
	}
	if !kind.IsValid() {
		return 0, fmt.Errorf("%w: invalid recipient kind %q", domain.ErrValidation, kind)
	}

	rows, err := audience.ParseImportRows(r, maxImportRows)
	if err != nil {
		return 0, err
	}
	recipients := audience.ToRecipients(companyID, kind, rows)
	if len(recipients) == 0 {
		return 0, nil
	}

	now := s.now()
	for _, rec := range recipients {
		rec.UpdatedAt = now
	}
	if err := s.recipients.Upsert(ctx, recipients); err != nil {
		return 0, fmt.Errorf("failed to upsert recipients: %w", err)
	}

	s.logger.Info("recipients imported",
		zap.String("companyId", companyID),
		zap.String("recipientKind", kind.String()),
		zap.Int("count", len(recipients)),
	)
	return len(recipients), nil
}

func (s *RecipientService) Suppress(ctx context.Context, companyID, email string, reason domain.SuppressionReason) (*domain.Suppression, error) {
	if strings.TrimSpace(companyID) == "" {
		return nil, fmt.Errorf("%w: companyId is required", domain.ErrValidation)
	}
	if !domain.IsValidEmail(email) {
		return nil, fmt.Errorf("%w: invalid email %q", domain.ErrValidation, email)
	}
	if reason == "" {
		reason = domain.SuppressionManual
	}
	if !reason.IsValid() {
		return nil, fmt.Errorf("%w: invalid suppression reason %q", domain.ErrValidation, reason)
	}

	sup := &domain.Suppression{
		CompanyID: companyID,
		Email:     domain.NormalizeEmail(email),
		Reason:    reason,
		CreatedAt: s.now(),
	}
	if err := s.suppressions.Add(ctx, sup); err != nil {
		return nil, fmt.Errorf("failed to add suppression: %w", err)
	}
	return sup, nil
}

func (s *RecipientService) Unsuppress(ctx context.Context, companyID, email string) error {
	if strings.TrimSpace(companyID) == "" {
		return fmt.Errorf("%w: companyId is required", domain.ErrValidation)
	}
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("%w: email is required", domain.ErrValidation)
	}
	return s.suppressions.Remove(ctx, companyID, email)
}
