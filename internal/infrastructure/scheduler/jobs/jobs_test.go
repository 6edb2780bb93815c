package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitverse/habitverse-core/config"
	"github.com/habitverse/habitverse-core/internal/application/command"
	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/infrastructure/persistence/memory"
	"github.com/habitverse/habitverse-core/internal/infrastructure/scheduler"
)

type expirerFunc func(ctx context.Context, cmd command.ExpireStreaksCommand) (*command.ExpireStreaksResult, error)

func (f expirerFunc) Handle(ctx context.Context, cmd command.ExpireStreaksCommand) (*command.ExpireStreaksResult, error) {
	return f(ctx, cmd)
}

func TestExpireStreaksJob_PassesBatchAndRecordsStats(t *testing.T) {
	var got command.ExpireStreaksCommand
	job := NewExpireStreaksJob(expirerFunc(func(_ context.Context, cmd command.ExpireStreaksCommand) (*command.ExpireStreaksResult, error) {
		got = cmd
		return &command.ExpireStreaksResult{Checked: 4, Expired: 3}, nil
	}), nil, ExpireStreaksConfig{BatchSize: 50, Timeout: time.Second})

	assert.Nil(t, job.LastRunStats())
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, 50, got.BatchSize)
	assert.Contains(t, got.CorrelationID, "job-")
	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.Expired)
	assert.Equal(t, "expire_streaks", job.Name())
}

func TestExpireStreaksJob_ReportsFailures(t *testing.T) {
	job := NewExpireStreaksJob(expirerFunc(func(context.Context, command.ExpireStreaksCommand) (*command.ExpireStreaksResult, error) {
		return &command.ExpireStreaksResult{Checked: 2, Failed: 1}, nil
	}), nil, DefaultExpireStreaksConfig())
	assert.Error(t, job.Run(context.Background()))

	boom := errors.New("db down")
	job = NewExpireStreaksJob(expirerFunc(func(context.Context, command.ExpireStreaksCommand) (*command.ExpireStreaksResult, error) {
		return nil, boom
	}), nil, DefaultExpireStreaksConfig())
	assert.ErrorIs(t, job.Run(context.Background()), boom)
}

func TestReconcileAchievementsJob_ThroughScheduler(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	_, _, err := store.InitLedger(ctx, "u1", time.Now())
	require.NoError(t, err)
	require.NoError(t, store.WithinTx(ctx, func(tx progress.Tx) error {
		l, err := tx.LockLedger(ctx, "u1")
		if err != nil {
			return err
		}
		l.TotalJournalEntries = 1
		return tx.SaveLedger(ctx, l)
	}))

	handler := command.NewReconcileAchievementsHandler(store, nil, nil, config.NewFeatureFlags(), nil)
	job := NewReconcileAchievementsJob(handler, nil, DefaultReconcileAchievementsConfig())

	s := scheduler.NewScheduler(scheduler.DefaultSchedulerConfig())
	require.NoError(t, s.Register(job, scheduler.MustParseCron("30 3 * * *", time.UTC)))

	res, err := s.RunNow(ctx, "reconcile_achievements")
	require.NoError(t, err)
	assert.True(t, res.Success)

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.UnlocksRecorded)

	unlocks, err := store.GetUnlocks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, "first-journal", unlocks[0].AchievementID)
}
