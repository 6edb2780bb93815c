package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitverse/habitverse-core/internal/domain/progress"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.Database.UseMemory())
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Address())
	assert.Equal(t, progress.DefaultRewardTable(), cfg.Rewards.Table)
	assert.Equal(t, 1000, cfg.Rewards.Curve.XPPerLevel)
	assert.True(t, cfg.Rewards.HabitOncePerDay)
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.NotEmpty(t, cfg.App.InstanceID)
	assert.False(t, cfg.Features.IsEnabled(FeatureAutoInit, nil))
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_TIMEZONE", "Asia/Almaty")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "hv")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("HTTP_API_KEY_HASHES", " $2a$10$abc , ,$2a$10$def")
	t.Setenv("SCHEDULER_STREAK_HOUR", "3")
	t.Setenv("REDIS_LOCK_TTL", "4s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://hv:secret@db:5432/habitverse?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, []string{"$2a$10$abc", "$2a$10$def"}, cfg.HTTP.APIKeyHashes)
	assert.Equal(t, 3, cfg.Scheduler.StreakExpiryHour)
	assert.Equal(t, 4*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, "Asia/Almaty", cfg.App.Location.String())
}

func TestLoad_ValidationErrors(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("SCHEDULER_STREAK_HOUR", "25")
	t.Setenv("HTTP_PORT", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required in production")
	assert.Contains(t, err.Error(), "SCHEDULER_STREAK_HOUR must be 0-23")
	assert.Contains(t, err.Error(), "HTTP_PORT must be 1-65535")
}

func TestLoad_BadTimezone(t *testing.T) {
	t.Setenv("APP_TIMEZONE", "Mars/Olympus")

	_, err := Load()
	assert.ErrorContains(t, err, `APP_TIMEZONE: timeutil: unknown timezone "Mars/Olympus"`)
}

func TestParseRewards(t *testing.T) {
	doc := []byte(`
xp_per_level: 500
habit_once_per_day: false
rewards:
  task:
    xp: 80
  journal:
    coins: 7
`)

	cfg, err := ParseRewards(doc, DefaultRewardsConfig())
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Curve.XPPerLevel)
	assert.False(t, cfg.HabitOncePerDay)
	assert.Equal(t, progress.Reward{XP: 80, Coins: 10}, cfg.Table.Task)
	assert.Equal(t, progress.Reward{XP: 25, Coins: 5}, cfg.Table.Habit)
	assert.Equal(t, progress.Reward{XP: 20, Coins: 7}, cfg.Table.Journal)

	ev, err := cfg.Engine().EventFor(progress.KindTask)
	require.NoError(t, err)
	assert.Equal(t, 80, ev.XPGain)
}

func TestParseRewards_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown kind", "rewards:\n  workout: {xp: 10}\n"},
		{"negative xp", "rewards:\n  task: {xp: -5}\n"},
		{"zero level width", "xp_per_level: 0\n"},
		{"bad yaml", "rewards: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := DefaultRewardsConfig()
			cfg, err := ParseRewards([]byte(tt.doc), base)
			assert.Error(t, err)
			assert.Equal(t, base, cfg)
		})
	}
}

func TestLoadRewardsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewards.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rewards:\n  habit: {xp: 30, coins: 6}\n"), 0o600))

	t.Setenv("REWARDS_FILE", path)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Rewards.File)
	assert.Equal(t, progress.Reward{XP: 30, Coins: 6}, cfg.Rewards.Table.Habit)

	_, err = LoadRewardsFile(filepath.Join(t.TempDir(), "missing.yaml"), DefaultRewardsConfig())
	assert.Error(t, err)
}
