package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pharmatech/medication-adherence/internal/config"
	"github.com/pharmatech/medication-adherence/internal/db"
	redisclient "github.com/pharmatech/medication-adherence/internal/redis"
	"github.com/pharmatech/medication-adherence/internal/regimen"
)

// The worker drives the three periodic duties of the core: extending the
// materialization horizon (day rollover), handing due doses to the
// notification channel, and retention housekeeping.
func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := newLogger(cfg.Env)
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Msg("reminder-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, "medadherence-reminder-worker")
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, "medadherence-reminder-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	repo := regimen.NewPgRepository(pgPool)
	locker := redisclient.NewRedisRegimenLocker(rdb, cfg.LockTTL)
	svc := regimen.NewService(repo, locker, nil, cfg, logger)

	// Run once at startup
	runOnce(rootCtx, svc, cfg, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	lastPurge := time.Now()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, cfg, logger)

			if time.Since(lastPurge) >= 24*time.Hour {
				runRetention(rootCtx, svc, cfg, logger)
				lastPurge = time.Now()
			}
		}
	}
}

func runOnce(ctx context.Context, svc *regimen.Service, cfg config.Config, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	start := time.Now()

	result, err := svc.MaterializeAll(runCtx, cfg.HorizonDays)
	if err != nil {
		logger.Error().Err(err).Msg("materialization pass failed")
	} else if result.Created > 0 {
		logger.Info().
			Int("created", result.Created).
			Int("skipped", result.Skipped).
			Msg("materialization pass complete")
	}

	dispatchDue(runCtx, svc, cfg, logger)

	logger.Debug().Dur("duration", time.Since(start)).Msg("worker pass complete")
}

// dispatchDue hands each due, unnotified dose to the notification channel.
// The actual push/alarm delivery lives outside this service; the worker's
// contract is to surface each dose exactly once.
func dispatchDue(ctx context.Context, svc *regimen.Service, cfg config.Config, logger zerolog.Logger) {
	due, err := svc.FindUnnotifiedDue(ctx, cfg.ReminderLeadTime)
	if err != nil {
		logger.Error().Err(err).Msg("find unnotified due failed")
		return
	}

	for _, ev := range due {
		logger.Info().
			Str("dose_event_id", ev.ID.String()).
			Str("owner_id", ev.OwnerID.String()).
			Str("medication", ev.MedicationName).
			Time("scheduled_at", ev.ScheduledAt).
			Msg("reminder due")

		if err := svc.MarkNotified(ctx, ev.ID); err != nil {
			logger.Error().
				Str("dose_event_id", ev.ID.String()).
				Err(err).
				Msg("mark notified failed")
		}
	}
}

func runRetention(ctx context.Context, svc *regimen.Service, cfg config.Config, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-cfg.HistoryRetention)

	purgedHistory, err := svc.PurgeHistoryOlderThan(runCtx, cutoff)
	if err != nil {
		logger.Error().Err(err).Msg("history purge failed")
	}

	purgedPending, err := svc.PurgeStalePending(runCtx, cutoff)
	if err != nil {
		logger.Error().Err(err).Msg("stale pending purge failed")
	}

	logger.Info().
		Int("history_purged", purgedHistory).
		Int("pending_purged", purgedPending).
		Time("cutoff", cutoff).
		Msg("retention pass complete")
}

func newLogger(env string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "dev" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}
