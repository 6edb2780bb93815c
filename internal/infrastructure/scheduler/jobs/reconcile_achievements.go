package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/habitverse/habitverse-core/internal/application/command"
	"github.com/habitverse/habitverse-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE ACHIEVEMENTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// AchievementReconciler is the command the job drives.
type AchievementReconciler interface {
	Handle(ctx context.Context, cmd command.ReconcileAchievementsCommand) (*command.ReconcileAchievementsResult, error)
}

// ReconcileAchievementsJob records unlocks that live counters earned but that
// were never persisted.
type ReconcileAchievementsJob struct {
	handler AchievementReconciler
	logger  *logger.Logger
	config  ReconcileAchievementsConfig

	lastRunStats atomic.Value // *ReconcileAchievementsStats
}

// ReconcileAchievementsConfig contains configuration for the job.
type ReconcileAchievementsConfig struct {
	BatchSize int
	Timeout   time.Duration
}

// DefaultReconcileAchievementsConfig returns sensible defaults.
func DefaultReconcileAchievementsConfig() ReconcileAchievementsConfig {
	return ReconcileAchievementsConfig{
		BatchSize: 500,
		Timeout:   10 * time.Minute,
	}
}

// ReconcileAchievementsStats contains statistics from a run.
type ReconcileAchievementsStats struct {
	StartedAt       time.Time
	Duration        time.Duration
	Scanned         int
	UsersUpdated    int
	UnlocksRecorded int
	Failed          int
	Skipped         bool
}

// NewReconcileAchievementsJob creates a new reconcile job.
func NewReconcileAchievementsJob(handler AchievementReconciler, log *logger.Logger, config ReconcileAchievementsConfig) *ReconcileAchievementsJob {
	if log == nil {
		log = logger.NewNop()
	}
	return &ReconcileAchievementsJob{
		handler: handler,
		logger:  log.Named("reconcile_achievements_job"),
		config:  config,
	}
}

// Name returns the job name.
func (j *ReconcileAchievementsJob) Name() string {
	return "reconcile_achievements"
}

// Description returns a human-readable description.
func (j *ReconcileAchievementsJob) Description() string {
	return "Records achievement unlocks missing from the unlock table"
}

// Run executes the job.
func (j *ReconcileAchievementsJob) Run(ctx context.Context) error {
	stats := &ReconcileAchievementsStats{StartedAt: time.Now()}
	defer func() {
		stats.Duration = time.Since(stats.StartedAt)
		j.lastRunStats.Store(stats)
	}()

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	res, err := j.handler.Handle(ctx, command.ReconcileAchievementsCommand{
		BatchSize:     j.config.BatchSize,
		CorrelationID: "job-" + uuid.NewString(),
	})
	if res != nil {
		stats.Scanned = res.Scanned
		stats.UsersUpdated = res.UsersUpdated
		stats.UnlocksRecorded = res.UnlocksRecorded
		stats.Failed = res.Failed
		stats.Skipped = res.Skipped
	}
	if err != nil {
		return fmt.Errorf("reconcile achievements: %w", err)
	}

	if stats.Skipped {
		j.logger.Debug("sticky unlocks disabled, nothing to reconcile")
		return nil
	}
	j.logger.Info("reconcile_achievements job completed",
		logger.Int("scanned", stats.Scanned),
		logger.Int("unlocks_recorded", stats.UnlocksRecorded),
	)
	if stats.Failed > 0 {
		return fmt.Errorf("reconcile achievements: %d users failed", stats.Failed)
	}
	return nil
}

// LastRunStats returns statistics from the last run.
func (j *ReconcileAchievementsJob) LastRunStats() *ReconcileAchievementsStats {
	stats, _ := j.lastRunStats.Load().(*ReconcileAchievementsStats)
	return stats
}
