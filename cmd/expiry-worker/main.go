package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

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

// sweepLockKey is shared by every worker replica; only the holder sweeps.
const sweepLockKey = "sweep:stale-requests"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "prod", "expiry-worker")
		boot.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env, "expiry-worker")
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("expiry-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	cancelPg()
	if err != nil {
		logger.Error().Err(err).Msg("postgres connection error")
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.ClientOptions{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Error().Err(err).Msg("redis connection error")
		pgPool.Close()
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	schedMetrics := metrics.NewSchedulingMetrics(prometheus.NewRegistry())
	tz := timezone.NewNormalizer(cfg.ClinicOffset)
	repo := appointment.NewPgRepository(pgPool)
	dispatcher := notify.NewDispatcher(notify.Multi{
		notify.NewLogNotifier(logger),
		notify.NewRedisPublisher(rdb, cfg.NotifyChannel),
	}, notify.DispatcherOptions{QueueSize: cfg.NotifyQueueSize, Metrics: schedMetrics}, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := dispatcher.Close(ctx); err != nil {
			logger.Warn().Err(err).Msg("notification queue not drained")
		}
	}()

	svc := appointment.NewService(appointment.Deps{
		Repo:     repo,
		Types:    apptype.NewPgRegistry(pgPool),
		Users:    identity.NewPgResolver(pgPool),
		Slots:    slots.NewGenerator(availability.NewPgStore(pgPool, cfg.AvailabilityPolicy), conflict.NewDetector(repo), tz),
		TZ:       tz,
		Notifier: dispatcher,
		Metrics:  schedMetrics,
		Logger:   logger,
	}, appointment.Options{MaxConfirmAttempts: cfg.ConfirmMaxAttempts, SlotInterval: cfg.SlotInterval})
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)

	// Run once at startup
	runOnce(rootCtx, svc, locker, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, locker, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, locker redisclient.Locker, logger zerolog.Logger) {
	start := time.Now()
	var cancelled int
	err := locker.WithLock(ctx, sweepLockKey, func(ctx context.Context) error {
		n, err := svc.ExpireStaleRequests(ctx)
		cancelled = n
		return err
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		logger.Debug().Msg("another worker holds the sweep lock")
	case err != nil:
		logger.Error().Err(err).Int("cancelled", cancelled).Msg("expiry run error")
	default:
		logger.Info().Int("cancelled", cancelled).Dur("took", time.Since(start)).Msg("expiry run complete")
	}
}
