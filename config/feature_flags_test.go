package config

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureFlags_Defaults(t *testing.T) {
	ff := NewFeatureFlags()

	assert.True(t, ff.IsEnabled(FeatureStreaks, nil))
	assert.True(t, ff.IsEnabled(FeatureStickyUnlocks, ForUser("u1")))
	assert.True(t, ff.IsEnabled(FeatureLiveUpdates, nil))
	assert.False(t, ff.IsEnabled(FeatureAutoInit, nil))
	assert.False(t, ff.IsEnabled("unknown.flag", nil))
	assert.Len(t, ff.GetAllFeatures(), 4)
}

func TestFeatureFlags_EnvOverride(t *testing.T) {
	t.Setenv("FEATURE_REWARDS_AUTO_INIT", "true")
	t.Setenv("FEATURE_REWARDS_STREAKS", "false")
	t.Setenv("FEATURE_REWARDS_LIVE_UPDATES", "30")

	ff := LoadFeatureFlags()

	assert.True(t, ff.IsEnabled(FeatureAutoInit, nil))
	assert.False(t, ff.IsEnabled(FeatureStreaks, nil))

	var live int
	for i := 0; i < 1000; i++ {
		if ff.IsEnabled(FeatureLiveUpdates, ForUser(fmt.Sprintf("user-%d", i))) {
			live++
		}
	}
	assert.InDelta(t, 300, live, 80)
}

func TestFeatureFlags_RolloutIsStable(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureLiveUpdates, 50))

	ctx := ForUser("user-42")
	first := ff.IsEnabled(FeatureLiveUpdates, ctx)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ff.IsEnabled(FeatureLiveUpdates, ctx))
	}
}

func TestFeatureFlags_UserOverride(t *testing.T) {
	ff := NewFeatureFlags()

	ff.SetUserOverride("u1", FeatureAutoInit, true)
	assert.True(t, ff.IsEnabled(FeatureAutoInit, ForUser("u1")))
	assert.False(t, ff.IsEnabled(FeatureAutoInit, ForUser("u2")))

	ff.ClearUserOverrides("u1")
	assert.False(t, ff.IsEnabled(FeatureAutoInit, ForUser("u1")))

	assert.True(t, ff.IsEnabled(FeatureAutoInit, &FeatureContext{UserID: "admin", IsAdmin: true}))
}

func TestFeatureFlags_SetRolloutPercent(t *testing.T) {
	ff := NewFeatureFlags()

	assert.ErrorIs(t, ff.SetRolloutPercent("nope", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureStreaks, 101), ErrInvalidRolloutPercent)

	require.NoError(t, ff.DisableFeature(FeatureStreaks))
	assert.False(t, ff.IsEnabled(FeatureStreaks, nil))

	require.NoError(t, ff.EnableFeature(FeatureStreaks))
	assert.True(t, ff.IsEnabled(FeatureStreaks, nil))
}

func TestFeatureFlags_NilSafe(t *testing.T) {
	var ff *FeatureFlags
	assert.False(t, ff.IsEnabled(FeatureStreaks, nil))
}
