// Package main runs the spyglass analysis engine: a local HTTP server
// over a single SQLite database, with scheduled sync, alert, backup,
// and maintenance jobs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/spyglass/internal/cache"
	"github.com/aristath/spyglass/internal/config"
	"github.com/aristath/spyglass/internal/database"
	"github.com/aristath/spyglass/internal/modules/alerts"
	"github.com/aristath/spyglass/internal/modules/portfolio"
	"github.com/aristath/spyglass/internal/modules/scoring"
	"github.com/aristath/spyglass/internal/modules/trades"
	"github.com/aristath/spyglass/internal/providers/bridge"
	"github.com/aristath/spyglass/internal/reliability"
	"github.com/aristath/spyglass/internal/scheduler"
	"github.com/aristath/spyglass/internal/server"
	"github.com/aristath/spyglass/internal/store"
	"github.com/aristath/spyglass/internal/syncer"
	"github.com/aristath/spyglass/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Str("db", cfg.DBPath).Msg("starting spyglass")

	db, err := database.New(database.Config{Path: cfg.DBPath})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	conn := db.Conn()
	users := store.NewUserRepository(conn, log)
	accounts := store.NewAccountRepository(conn, log)
	positions := store.NewPositionRepository(conn, log)
	tradeRepo := store.NewTradeRepository(conn, log)
	snapshots := store.NewSnapshotRepository(conn, log)
	watchlist := store.NewWatchlistRepository(conn, log)
	bars := store.NewBarRepository(conn, log)
	syncLogs := store.NewSyncLogRepository(conn, log)
	alertRepo := store.NewAlertRepository(conn, log)

	multipliers, err := config.LoadMultipliers(cfg.MultipliersPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.MultipliersPath).
			Msg("failed to load multipliers, using defaults")
		multipliers = config.DefaultMultipliers()
	}

	c := cache.New(cfg.CacheTTL, log)

	gateway := bridge.New(cfg.BridgeURL, log)

	syncOpts := syncer.Options{
		Workers:       cfg.SyncWorkers,
		BarTimeout:    cfg.BarTimeout,
		BrokerTimeout: cfg.BrokerTimeout,
		RetryAttempts: cfg.RetryAttempts,
		RetryBase:     500 * time.Millisecond,
		KlineDays:     cfg.KlineDays,
	}
	sync := syncer.New(syncOpts, gateway, gateway, syncer.Stores{
		Accounts:  accounts,
		Positions: positions,
		Trades:    tradeRepo,
		Snapshots: snapshots,
		Watchlist: watchlist,
		Bars:      bars,
		SyncLogs:  syncLogs,
	}, c, log)

	scorer := scoring.NewScorer(scoring.DefaultConfig(), log)
	analyzer := portfolio.NewAnalyzer(portfolio.DefaultConfig(), log)
	pairer := trades.NewPairer(multipliers, log)
	evaluator := alerts.NewEvaluator(alertRepo, bars, log)

	var backups *reliability.BackupService
	if cfg.Backup.Enabled() {
		s3, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create backup client")
		}
		backups = reliability.NewBackupService(db, s3, cfg.DataDir, cfg.Backup.RetentionDays, log)
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("backups enabled")
	}

	sched := scheduler.New(log)
	addJob := func(schedule string, job scheduler.Job) {
		if err := sched.AddJob(schedule, job); err != nil {
			log.Fatal().Err(err).Str("job", job.Name()).Msg("failed to schedule job")
		}
	}
	addJob(cfg.SyncSchedule, scheduler.NewSyncJob(users, sync, log))
	addJob(cfg.AlertSchedule, scheduler.NewAlertJob(evaluator))
	addJob(cfg.BackupSchedule, reliability.NewMaintenance(db, cfg.DataDir, log))
	addJob("0 * * * *", scheduler.NewCachePurgeJob(c, log))
	if backups != nil {
		addJob(cfg.BackupSchedule, scheduler.NewBackupJob(backups, log))
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Deps{
		Cfg:       cfg,
		DB:        db,
		Users:     users,
		Accounts:  accounts,
		Positions: positions,
		Trades:    tradeRepo,
		Snapshots: snapshots,
		Watchlist: watchlist,
		Bars:      bars,
		SyncLogs:  syncLogs,
		Alerts:    alertRepo,
		Syncer:    sync,
		Scorer:    scorer,
		Analyzer:  analyzer,
		Pairer:    pairer,
		Evaluator: evaluator,
		Cache:     c,
		Backups:   backups,
		Log:       log,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shut down")
	}

	if err := db.WALCheckpoint("TRUNCATE"); err != nil {
		log.Warn().Err(err).Msg("final wal checkpoint failed")
	}
	log.Info().Msg("stopped")
}
