// Package jobs contains the scheduled jobs of the progress engine.
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
// EXPIRE STREAKS JOB
// ══════════════════════════════════════════════════════════════════════════════

// StreakExpirer is the command the job drives.
type StreakExpirer interface {
	Handle(ctx context.Context, cmd command.ExpireStreaksCommand) (*command.ExpireStreaksResult, error)
}

// ExpireStreaksJob resets streaks of users who skipped a whole day.
type ExpireStreaksJob struct {
	handler StreakExpirer
	logger  *logger.Logger
	config  ExpireStreaksConfig

	lastRunStats atomic.Value // *ExpireStreaksStats
}

// ExpireStreaksConfig contains configuration for the job.
type ExpireStreaksConfig struct {
	// BatchSize is the number of streaks loaded per page.
	BatchSize int

	// Timeout is the maximum duration for the job.
	Timeout time.Duration
}

// DefaultExpireStreaksConfig returns sensible defaults.
func DefaultExpireStreaksConfig() ExpireStreaksConfig {
	return ExpireStreaksConfig{
		BatchSize: 500,
		Timeout:   10 * time.Minute,
	}
}

// ExpireStreaksStats contains statistics from a run.
type ExpireStreaksStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Checked     int
	Expired     int
	Failed      int
}

// NewExpireStreaksJob creates a new expire streaks job.
func NewExpireStreaksJob(handler StreakExpirer, log *logger.Logger, config ExpireStreaksConfig) *ExpireStreaksJob {
	if log == nil {
		log = logger.NewNop()
	}
	return &ExpireStreaksJob{
		handler: handler,
		logger:  log.Named("expire_streaks_job"),
		config:  config,
	}
}

// Name returns the job name.
func (j *ExpireStreaksJob) Name() string {
	return "expire_streaks"
}

// Description returns a human-readable description.
func (j *ExpireStreaksJob) Description() string {
	return "Resets streaks of users who missed a whole day"
}

// Run executes the job.
func (j *ExpireStreaksJob) Run(ctx context.Context) error {
	stats := &ExpireStreaksStats{StartedAt: time.Now()}
	defer func() {
		stats.CompletedAt = time.Now()
		stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
		j.lastRunStats.Store(stats)
	}()

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	res, err := j.handler.Handle(ctx, command.ExpireStreaksCommand{
		BatchSize:     j.config.BatchSize,
		CorrelationID: "job-" + uuid.NewString(),
	})
	if res != nil {
		stats.Checked = res.Checked
		stats.Expired = res.Expired
		stats.Failed = res.Failed
	}
	if err != nil {
		return fmt.Errorf("expire streaks: %w", err)
	}

	j.logger.Info("expire_streaks job completed",
		logger.Int("checked", stats.Checked),
		logger.Int("expired", stats.Expired),
		logger.Int("failed", stats.Failed),
	)
	if stats.Failed > 0 {
		return fmt.Errorf("expire streaks: %d users failed", stats.Failed)
	}
	return nil
}

// LastRunStats returns statistics from the last run.
func (j *ExpireStreaksJob) LastRunStats() *ExpireStreaksStats {
	stats, _ := j.lastRunStats.Load().(*ExpireStreaksStats)
	return stats
}
