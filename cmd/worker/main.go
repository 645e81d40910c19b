package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/zlammie/keepup-mailer/internal/audience"
	"github.com/zlammie/keepup-mailer/internal/config"
	"github.com/zlammie/keepup-mailer/internal/handler"
	"github.com/zlammie/keepup-mailer/internal/infra/postgresql"
	"github.com/zlammie/keepup-mailer/internal/infra/postgresql/migrations"
	infraredis "github.com/zlammie/keepup-mailer/internal/infra/redis"
	"github.com/zlammie/keepup-mailer/internal/observability"
	"github.com/zlammie/keepup-mailer/internal/provider"
	"github.com/zlammie/keepup-mailer/internal/queue"
	"github.com/zlammie/keepup-mailer/internal/ratelimit"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"github.com/zlammie/keepup-mailer/internal/sendwindow"
	"github.com/zlammie/keepup-mailer/internal/service"
	"github.com/zlammie/keepup-mailer/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rmq, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.RecipientEventsQueue, cfg.JobEventsQueue)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rmq.Close()

	publisher := queue.NewRabbitMQPublisher(rmq, cfg.JobEventsQueue)
	consumer := queue.NewRabbitMQConsumer(rmq, cfg.WorkerConcurrency, logger.Named("consumer"))

	limiter, err := newRateLimiter(cfg, rdb)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}
	sender, err := newTransport(cfg)
	if err != nil {
		logger.Fatal("transport initialization failed", zap.Error(err))
	}

	repos := repository.NewGormRepositories(db)
	metrics := observability.NewMetrics()

	settings, err := service.NewSettingsService(repos.Settings, cfg.DefaultTimezone)
	if err != nil {
		logger.Fatal("settings service initialization failed", zap.Error(err))
	}
	watcher, err := service.NewCancellationWatcher(repos.Jobs, repos.Recipients, repos.Automation, logger.Named("cancellation"))
	if err != nil {
		logger.Fatal("cancellation watcher initialization failed", zap.Error(err))
	}
	enroller, err := service.NewAutomationEnroller(repos.Jobs, repos.Recipients, repos.Automation, settings, cfg.MaxAttempts, logger.Named("enroller"))
	if err != nil {
		logger.Fatal("automation enroller initialization failed", zap.Error(err))
	}
	events, err := service.NewRecipientEventService(repos.Recipients, watcher, enroller, logger.Named("recipient-events"))
	if err != nil {
		logger.Fatal("recipient event service initialization failed", zap.Error(err))
	}
	events.SetMetrics(metrics)

	resolver := audience.NewResolver(repos.Recipients, repos.Suppressions)
	blasts, err := service.NewBlastController(repos.Blasts, repos.Jobs, resolver, settings, cfg.BlastConfirmThreshold, cfg.MaxAttempts, logger.Named("blasts"))
	if err != nil {
		logger.Fatal("blast controller initialization failed", zap.Error(err))
	}

	monitor, err := service.NewDeliverabilityMonitor(repos.Jobs, settings, logger.Named("deliverability"))
	if err != nil {
		logger.Fatal("deliverability monitor initialization failed", zap.Error(err))
	}
	monitor.SetMetrics(metrics)

	workerID := resolveWorkerID(cfg.WorkerID)
	dispatcher, err := service.NewDispatcher(service.DispatcherDeps{
		Jobs:         repos.Jobs,
		Blasts:       repos.Blasts,
		Recipients:   repos.Recipients,
		Suppressions: repos.Suppressions,
		Automation:   repos.Automation,
		Settings:     settings,
		Guard:        sendwindow.NewGuard(repos.Jobs, limiter, cfg.RateLimitBackoff()),
		Transport:    sender,
		Retry:        service.NewRetryPolicy(cfg.MaxAttempts, cfg.RetryBaseDelay(), cfg.RetryMaxDelay()),
		BlastSync:    blasts,
		Bounces:      monitor,
		Events:       publisher,
	}, service.DispatcherConfig{
		WorkerID:         workerID,
		Concurrency:      cfg.WorkerConcurrency,
		BatchSize:        cfg.DispatchBatchSize,
		PollInterval:     cfg.DispatchPollInterval(),
		TransportTimeout: cfg.TransportTimeout(),
		PauseRecheck:     cfg.PauseRecheck(),
		ReleaseDelay:     cfg.ReleaseDelay(),
	}, logger.Named("dispatcher"))
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	sweeper, err := service.NewLeaseSweeper(repos.Jobs, cfg.LeaseTimeout(), cfg.LeaseSweepSpec, logger.Named("lease-sweeper"))
	if err != nil {
		logger.Fatal("lease sweeper initialization failed", zap.Error(err))
	}
	sweeper.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "keepup-mailer-worker",
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	handler.RegisterHealthRoutes(app, map[string]handler.ReadinessCheck{
		"postgres": handler.PostgresCheck(sqlDB),
		"redis":    handler.RedisCheck(rdb),
		"rabbitmq": func(context.Context) error { return rmq.Ping() },
	}, metrics.Handler())

	logger.Info("keepup-mailer worker started",
		zap.String("worker_id", workerID),
		zap.String("transport", cfg.Transport),
		zap.String("rate_limit_backend", cfg.RateLimitBackend),
		zap.Int("concurrency", cfg.WorkerConcurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Start(gctx)
	})
	g.Go(func() error {
		return sweeper.Start(gctx)
	})
	g.Go(func() error {
		return consumer.Consume(gctx, cfg.RecipientEventsQueue, events.HandleEvent)
	})
	g.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", cfg.WorkerMetricsPort))
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", zap.Error(err))
		return
	}
	logger.Info("worker stopped")
}

func newRateLimiter(cfg *config.Config, rdb *goredis.Client) (ratelimit.RateLimiter, error) {
	if cfg.RateLimitBackend == config.RateLimitBackendLocal {
		return ratelimit.NewLocalLimiter(time.Minute), nil
	}
	return infraredis.NewRedisRateLimiter(rdb, time.Minute)
}

func newTransport(cfg *config.Config) (provider.Transport, error) {
	if cfg.Transport == config.TransportSMTP {
		templates, err := provider.NewTemplateSet(cfg.TemplateDir)
		if err != nil {
			return nil, err
		}
		return provider.NewSMTPTransport(provider.SMTPConfig{
			Host:          cfg.SMTPHost,
			Port:          cfg.SMTPPort,
			Username:      cfg.SMTPUsername,
			Password:      cfg.SMTPPassword,
			From:          cfg.SMTPFrom,
			RatePerSecond: cfg.SMTPSendPerSec,
		}, templates)
	}
	return provider.NewWebhookTransport(cfg.WebhookURL)
}

func resolveWorkerID(configured string) string {
	if id := strings.TrimSpace(configured); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
