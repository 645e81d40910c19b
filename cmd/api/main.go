package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/zlammie/keepup-mailer/internal/audience"
	"github.com/zlammie/keepup-mailer/internal/config"
	"github.com/zlammie/keepup-mailer/internal/handler"
	"github.com/zlammie/keepup-mailer/internal/infra/postgresql"
	"github.com/zlammie/keepup-mailer/internal/infra/postgresql/migrations"
	infraredis "github.com/zlammie/keepup-mailer/internal/infra/redis"
	"github.com/zlammie/keepup-mailer/internal/observability"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"github.com/zlammie/keepup-mailer/internal/service"
	"github.com/zlammie/keepup-mailer/internal/transport"
	"go.uber.org/zap"
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

	metrics := observability.NewMetrics()
	services, err := buildServices(cfg, repository.NewGormRepositories(db), metrics, logger)
	if err != nil {
		logger.Fatal("service initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "keepup-mailer-api",
		ErrorHandler: transport.ErrorHandler(logger),
		BodyLimit:    10 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, map[string]handler.ReadinessCheck{
		"postgres": handler.PostgresCheck(sqlDB),
		"redis":    handler.RedisCheck(rdb),
	}, metrics.Handler())
	if err := handler.RegisterRoutes(app, services); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("keepup-mailer api started", zap.Int("port", cfg.APIPort))
		errCh <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal("api server stopped", zap.Error(err))
		}
	}

	logger.Info("shutting down api")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}
}

func buildServices(cfg *config.Config, repos repository.Repositories, metrics *observability.Metrics, logger *zap.Logger) (handler.Services, error) {
	settings, err := service.NewSettingsService(repos.Settings, cfg.DefaultTimezone)
	if err != nil {
		return handler.Services{}, err
	}

	resolver := audience.NewResolver(repos.Recipients, repos.Suppressions)
	blasts, err := service.NewBlastController(repos.Blasts, repos.Jobs, resolver, settings, cfg.BlastConfirmThreshold, cfg.MaxAttempts, logger.Named("blasts"))
	if err != nil {
		return handler.Services{}, err
	}
	blasts.SetMetrics(metrics)

	jobs, err := service.NewJobService(repos.Jobs, blasts, logger.Named("jobs"))
	if err != nil {
		return handler.Services{}, err
	}
	pauses, err := service.NewPauseController(repos.Recipients, repos.Jobs, logger.Named("pauses"))
	if err != nil {
		return handler.Services{}, err
	}
	watcher, err := service.NewCancellationWatcher(repos.Jobs, repos.Recipients, repos.Automation, logger.Named("cancellation"))
	if err != nil {
		return handler.Services{}, err
	}
	enroller, err := service.NewAutomationEnroller(repos.Jobs, repos.Recipients, repos.Automation, settings, cfg.MaxAttempts, logger.Named("enroller"))
	if err != nil {
		return handler.Services{}, err
	}
	events, err := service.NewRecipientEventService(repos.Recipients, watcher, enroller, logger.Named("recipient-events"))
	if err != nil {
		return handler.Services{}, err
	}
	events.SetMetrics(metrics)

	recipients, err := service.NewRecipientService(repos.Recipients, repos.Suppressions, logger.Named("recipients"))
	if err != nil {
		return handler.Services{}, err
	}
	automation, err := service.NewAutomationService(repos.Automation)
	if err != nil {
		return handler.Services{}, err
	}

	return handler.Services{
		Blasts:     blasts,
		Jobs:       jobs,
		Pauses:     pauses,
		Statuses:   events,
		Enrollment: events,
		Recipients: recipients,
		Automation: automation,
		Settings:   settings,
	}, nil
}
