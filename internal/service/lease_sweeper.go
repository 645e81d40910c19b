package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zlammie/keepup-mailer/internal/observability"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultLeaseTimeout   = 10 * time.Minute
	defaultLeaseSweepSpec = "@every 1m"
)

// LeaseSweeper returns jobs whose worker lease expired to the queue. Attempts
// are left unchanged and the jobs are never failed on timeout alone.
type LeaseSweeper struct {
	jobs    repository.JobRepository
	lease   time.Duration
	spec    string
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewLeaseSweeper(jobs repository.JobRepository, lease time.Duration, spec string, logger *zap.Logger) (*LeaseSweeper, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if lease <= 0 {
		lease = defaultLeaseTimeout
	}
	if strings.TrimSpace(spec) == "" {
		spec = defaultLeaseSweepSpec
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid lease sweep spec %q: %w", spec, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeaseSweeper{
		jobs:   jobs,
		lease:  lease,
		spec:   spec,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *LeaseSweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start runs Sweep on the cron schedule until ctx is canceled and waits for a
// running sweep to finish before returning.
func (s *LeaseSweeper) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.spec, func() {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("lease sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule lease sweep: %w", err)
	}

	s.logger.Info("lease sweeper started",
		zap.String("spec", s.spec),
		zap.Duration("lease", s.lease),
	)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("lease sweeper stopped")
	return nil
}

func (s *LeaseSweeper) Sweep(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.jobs.RequeueStale(ctx, now.Add(-s.lease), now)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}

	if n > 0 {
		s.metrics.AddLeasesReclaimed(n)
		s.logger.Warn("stale processing jobs requeued", zap.Int64("count", n))
	}
	return n, nil
}
