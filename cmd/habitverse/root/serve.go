package root

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/habitverse/habitverse-core/config"
	"github.com/habitverse/habitverse-core/internal/application/command"
	"github.com/habitverse/habitverse-core/internal/application/eventhandler"
	"github.com/habitverse/habitverse-core/internal/application/query"
	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/infrastructure/scheduler"
	"github.com/habitverse/habitverse-core/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/habitverse/habitverse-core/internal/interface/http"
	"github.com/habitverse/habitverse-core/pkg/logger"
)

func newServeCmd() *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, live updates and background jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if noScheduler {
				cfg.Scheduler.Enabled = false
			}

			log := newLogger(cfg, os.Stdout)
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, log)
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run background jobs in this process")
	return cmd
}

// app is a fully wired service.
type app struct {
	infra     *infra
	server    *httpapi.Server
	scheduler *scheduler.Scheduler
}

// buildApp wires handlers, live updates, HTTP and the scheduler on top of in.
func buildApp(in *infra) (*app, error) {
	cfg, log := in.cfg, in.log
	catalog := progress.DefaultCatalog()

	// ─────────────────────────────────────────────────────────────────────────
	// Application layer
	// ─────────────────────────────────────────────────────────────────────────

	initLedger := command.NewInitializeLedgerHandler(in.store, in.bus, log)
	applyReward := command.NewApplyRewardHandler(in.store, in.locker, in.ledgerCache, in.bus, cfg.Features, log,
		command.ApplyRewardHandlerConfig{
			Engine:          cfg.Rewards.Engine(),
			Catalog:         catalog,
			Location:        cfg.App.Location,
			HabitOncePerDay: cfg.Rewards.HabitOncePerDay,
			CacheTTL:        cfg.Redis.LedgerCacheTTL,
		})
	expireStreaks := command.NewExpireStreaksHandler(in.store, in.locker, in.ledgerCache, in.bus, cfg.App.Location, log).
		WithCacheTTL(cfg.Redis.LedgerCacheTTL)
	reconcile := command.NewReconcileAchievementsHandler(in.store, catalog, in.bus, cfg.Features, log)

	getLedger := query.NewGetLedgerHandler(in.store, in.ledgerCache, cfg.Rewards.Curve, cfg.Redis.LedgerCacheTTL, log)
	getAchievements := query.NewGetAchievementsHandler(in.store, catalog, cfg.Features, log)
	getHistory := query.NewGetRewardHistoryHandler(in.store)

	// ─────────────────────────────────────────────────────────────────────────
	// Live updates
	// ─────────────────────────────────────────────────────────────────────────

	hub := httpapi.NewHub(cfg.HTTP.CORSOrigins, log)
	if err := eventhandler.NewLiveUpdatesHandler(hub, cfg.Features, log).Register(in.bus); err != nil {
		return nil, fmt.Errorf("failed to register live updates: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// HTTP
	// ─────────────────────────────────────────────────────────────────────────

	server := httpapi.NewServer(httpapi.ConfigFrom(cfg.HTTP, cfg.App.Version), httpapi.Dependencies{
		InitializeLedger: initLedger,
		ApplyReward:      applyReward,
		GetLedger:        getLedger,
		GetAchievements:  getAchievements,
		GetRewardHistory: getHistory,
		Catalog:          catalog,
		Curve:            cfg.Rewards.Curve,
		Hub:              hub,
		HealthChecker:    in.health,
		Logger:           log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// Background jobs
	// ─────────────────────────────────────────────────────────────────────────

	schedCfg := scheduler.DefaultSchedulerConfig()
	schedCfg.Logger = log
	schedCfg.Timezone = cfg.App.Location
	if cfg.Scheduler.JobTimeout > 0 {
		schedCfg.JobTimeout = cfg.Scheduler.JobTimeout
	}
	sched := scheduler.NewScheduler(schedCfg)

	expireCfg := jobs.DefaultExpireStreaksConfig()
	reconcileCfg := jobs.DefaultReconcileAchievementsConfig()
	if cfg.Scheduler.BatchSize > 0 {
		expireCfg.BatchSize = cfg.Scheduler.BatchSize
		reconcileCfg.BatchSize = cfg.Scheduler.BatchSize
	}

	expireSchedule := scheduler.NewDailySchedule(cfg.Scheduler.StreakExpiryHour, cfg.Scheduler.StreakExpiryMinute, cfg.App.Location)
	if err := sched.Register(jobs.NewExpireStreaksJob(expireStreaks, log, expireCfg), expireSchedule); err != nil {
		return nil, err
	}

	var reconcileSchedule scheduler.Schedule = scheduler.NewIntervalSchedule(cfg.Scheduler.ReconcileInterval)
	if cfg.Scheduler.ReconcileCron != "" {
		cron, err := scheduler.ParseCron(cfg.Scheduler.ReconcileCron, cfg.App.Location)
		if err != nil {
			return nil, fmt.Errorf("invalid reconcile schedule: %w", err)
		}
		reconcileSchedule = cron
	}
	if err := sched.Register(jobs.NewReconcileAchievementsJob(reconcile, log, reconcileCfg), reconcileSchedule); err != nil {
		return nil, err
	}

	return &app{infra: in, server: server, scheduler: sched}, nil
}

// serve runs until ctx is cancelled or a component fails, then shuts down.
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info("starting habitverse",
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone),
	)

	in, err := openInfra(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer in.Close()

	a, err := buildApp(in)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Scheduler.Enabled {
		if err := a.scheduler.Start(gctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	g.Go(a.server.Start)

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		if cfg.Scheduler.Enabled {
			if err := a.scheduler.Stop(); err != nil {
				log.Error("failed to stop scheduler", logger.Err(err))
			}
		}
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("habitverse stopped with error", logger.Err(err))
		return err
	}
	log.Info("habitverse stopped")
	return nil
}
