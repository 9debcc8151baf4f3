package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/apptype"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/conflict"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/identity"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/slots"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "prod", "api-server")
		boot.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env, "api-server")
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("api-server exited")
		os.Exit(1)
	}
	logger.Info().Msg("api-server stopped")
}

func run(cfg config.Config, logger zerolog.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection error: %w", err)
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.ClientOptions{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return fmt.Errorf("redis connection error: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	schedMetrics := metrics.NewSchedulingMetrics(reg)

	tz := timezone.NewNormalizer(cfg.ClinicOffset)
	users := identity.NewPgResolver(pgPool)
	types := apptype.NewCachedRegistry(apptype.NewPgRegistry(pgPool), rdb, cfg.TypeCacheTTL, logger)
	blocks := availability.NewPgStore(pgPool, cfg.AvailabilityPolicy)
	repo := appointment.NewPgRepository(pgPool)

	sinks := notify.Multi{
		notify.NewLogNotifier(logger),
		notify.NewRedisPublisher(rdb, cfg.NotifyChannel),
	}
	if cfg.SendGridAPIKey != "" {
		email, err := notify.NewEmailNotifier(notify.EmailConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  "Clinic Scheduling",
		}, users, logger)
		if err != nil {
			return fmt.Errorf("email notifier setup error: %w", err)
		}
		sinks = append(sinks, email)
		logger.Info().Msg("email notifications enabled")
	}
	dispatcher := notify.NewDispatcher(sinks, notify.DispatcherOptions{
		QueueSize: cfg.NotifyQueueSize,
		Metrics:   schedMetrics,
	}, logger)

	svc := appointment.NewService(appointment.Deps{
		Repo:     repo,
		Types:    types,
		Users:    users,
		Slots:    slots.NewGenerator(blocks, conflict.NewDetector(repo), tz),
		TZ:       tz,
		Notifier: dispatcher,
		Metrics:  schedMetrics,
		Logger:   logger,
	}, appointment.Options{
		MaxConfirmAttempts: cfg.ConfirmMaxAttempts,
		SlotInterval:       cfg.SlotInterval,
	})

	router := api.NewRouter(api.RouterConfig{
		Appointments:   svc,
		Availability:   availability.NewService(blocks, users, logger),
		Types:          types,
		Users:          users,
		TZ:             tz,
		PgPool:         pgPool,
		Redis:          rdb,
		Gatherer:       reg,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
		Env:            cfg.Env,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("notification queue not drained")
	}
	return serveErr
}
