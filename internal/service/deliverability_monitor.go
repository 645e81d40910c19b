package service

import (
	"context"
	"fmt"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/observability"
	"github.com/zlammie/keepup-mailer/internal/pacing"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"go.uber.org/zap"
)

// DeliverabilityMonitor pauses a company's sending once today's rejection rate
// reaches its configured bounce threshold. Permanent transport rejections stand
// in for bounces.
type DeliverabilityMonitor struct {
	jobs     repository.JobRepository
	settings *SettingsService
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewDeliverabilityMonitor(jobs repository.JobRepository, settings *SettingsService, logger *zap.Logger) (*DeliverabilityMonitor, error) {
	if jobs == nil || settings == nil {
		return nil, fmt.Errorf("job repository and settings service are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliverabilityMonitor{
		jobs:     jobs,
		settings: settings,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (m *DeliverabilityMonitor) SetMetrics(metrics *observability.Metrics) {
	if m == nil {
		return
	}
	m.metrics = metrics
}

// CheckBounceRate reports whether this call paused the company.
func (m *DeliverabilityMonitor) CheckBounceRate(ctx context.Context, companyID string) (bool, error) {
	settings, err := m.settings.Get(ctx, companyID)
	if err != nil {
		return false, err
	}
	if settings.SendingPaused || settings.BounceRateThreshold <= 0 {
		return false, nil
	}

	now := m.now()
	dayStart, dayEnd := pacing.NewWindow(settings).DayBounds(now)
	sent, err := m.jobs.CountSentBetween(ctx, companyID, dayStart, dayEnd)
	if err != nil {
		return false, fmt.Errorf("failed to count sent jobs: %w", err)
	}
	if sent == 0 || sent < int64(settings.BounceMinSent) {
		return false, nil
	}
	rejected, err := m.jobs.CountFailedBetween(ctx, companyID, domain.CodeTransportRejected, dayStart, dayEnd)
	if err != nil {
		return false, fmt.Errorf("failed to count rejected jobs: %w", err)
	}

	rate := float64(rejected) / float64(sent)
	if rate < settings.BounceRateThreshold {
		return false, nil
	}

	_, changed, err := m.settings.PauseSending(ctx, companyID, domain.PauseReasonBounceRate, domain.PausedBySystem)
	if err != nil {
		return false, err
	}
	if changed {
		m.metrics.IncSendingPaused(domain.PauseReasonBounceRate)
		m.logger.Warn("company sending paused on bounce rate",
			zap.String("companyId", companyID),
			zap.Int64("sentToday", sent),
			zap.Int64("rejectedToday", rejected),
			zap.Float64("bounceRate", rate),
			zap.Float64("threshold", settings.BounceRateThreshold),
		)
	}
	return changed, nil
}
