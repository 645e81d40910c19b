package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/repository"
)

// SettingsService reads and writes per-company send window settings.
type SettingsService struct {
	repo            repository.SettingsRepository
	defaultTimezone string
	now             func() time.Time
}

func NewSettingsService(repo repository.SettingsRepository, defaultTimezone string) (*SettingsService, error) {
	if repo == nil {
		return nil, fmt.Errorf("settings repository is required")
	}
	if strings.TrimSpace(defaultTimezone) == "" {
		defaultTimezone = domain.DefaultTimezone
	}
	return &SettingsService{
		repo:            repo,
		defaultTimezone: defaultTimezone,
		now:             func() time.Time { return time.Now().UTC() },
	}, nil
}

// Get returns the stored settings, or the defaults when none are stored.
func (s *SettingsService) Get(ctx context.Context, companyID string) (domain.SendWindowSettings, error) {
	if strings.TrimSpace(companyID) == "" {
		return domain.SendWindowSettings{}, fmt.Errorf("%w: companyId is required", domain.ErrValidation)
	}

	stored, err := s.repo.Get(ctx, companyID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.DefaultSendWindowSettings(companyID, s.defaultTimezone), nil
		}
		return domain.SendWindowSettings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	return *stored, nil
}

// Update replaces the company's settings. The sending pause is only changed
// through PauseSending and ResumeSending.
func (s *SettingsService) Update(ctx context.Context, settings domain.SendWindowSettings) (domain.SendWindowSettings, error) {
	if strings.TrimSpace(settings.CompanyID) == "" {
		return domain.SendWindowSettings{}, fmt.Errorf("%w: companyId is required", domain.ErrValidation)
	}
	current, err := s.Get(ctx, settings.CompanyID)
	if err != nil {
		return domain.SendWindowSettings{}, err
	}
	settings.SendingPaused = current.SendingPaused
	settings.SendingPausedAt = current.SendingPausedAt
	settings.SendingPausedBy = current.SendingPausedBy
	settings.SendingPausedReason = current.SendingPausedReason

	return s.save(ctx, settings)
}

// PauseSending stops all delivery for the company until ResumeSending. changed
// is false when sending was already paused.
func (s *SettingsService) PauseSending(ctx context.Context, companyID, reason, by string) (domain.SendWindowSettings, bool, error) {
	settings, err := s.Get(ctx, companyID)
	if err != nil {
		return domain.SendWindowSettings{}, false, err
	}
	if settings.SendingPaused {
		return settings, false, nil
	}

	if strings.TrimSpace(reason) == "" {
		reason = domain.PauseReasonManual
	}
	if strings.TrimSpace(by) == "" {
		by = domain.PausedByOperator
	}
	now := s.now()
	settings.SendingPaused = true
	settings.SendingPausedAt = &now
	settings.SendingPausedBy = by
	settings.SendingPausedReason = reason

	saved, err := s.save(ctx, settings)
	if err != nil {
		return domain.SendWindowSettings{}, false, err
	}
	return saved, true, nil
}

// ResumeSending lifts a company pause. changed is false when sending was not paused.
func (s *SettingsService) ResumeSending(ctx context.Context, companyID string) (domain.SendWindowSettings, bool, error) {
	settings, err := s.Get(ctx, companyID)
	if err != nil {
		return domain.SendWindowSettings{}, false, err
	}
	if !settings.SendingPaused {
		return settings, false, nil
	}

	settings.SendingPaused = false
	settings.SendingPausedAt = nil
	settings.SendingPausedBy = ""
	settings.SendingPausedReason = ""

	saved, err := s.save(ctx, settings)
	if err != nil {
		return domain.SendWindowSettings{}, false, err
	}
	return saved, true, nil
}

func (s *SettingsService) save(ctx context.Context, settings domain.SendWindowSettings) (domain.SendWindowSettings, error) {
	if strings.TrimSpace(settings.Timezone) == "" {
		settings.Timezone = s.defaultTimezone
	}
	if err := settings.Validate(); err != nil {
		return domain.SendWindowSettings{}, err
	}
	if err := s.repo.Upsert(ctx, &settings); err != nil {
		return domain.SendWindowSettings{}, fmt.Errorf("failed to save settings: %w", err)
	}
	return settings, nil
}
