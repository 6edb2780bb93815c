package root

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/habitverse/habitverse-core/config"
	"github.com/habitverse/habitverse-core/internal/application/command"
	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/infrastructure/persistence/memory"
	"github.com/habitverse/habitverse-core/pkg/logger"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// memoryEnv points config.Load at the in-process implementations.
func memoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("REDIS_DISABLED", "true")
	t.Setenv("HTTP_RATE_LIMIT", "0")
	t.Setenv("LOG_LEVEL", "error")
}

func TestCatalogCmd_Table(t *testing.T) {
	out, err := execute(t, "catalog")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, len(progress.DefaultCatalog())+1)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, out, "first-task")
}

func TestCatalogCmd_JSON(t *testing.T) {
	out, err := execute(t, "catalog", "--json")
	require.NoError(t, err)

	var got progress.Catalog
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, progress.DefaultCatalog(), got)
}

func TestHashKeyCmd(t *testing.T) {
	out, err := execute(t, "hash-key", "s3cret")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))

	_, err = execute(t, "hash-key")
	assert.Error(t, err)
}

func TestLedgerCmd_RequiresDatabase(t *testing.T) {
	memoryEnv(t)

	_, err := execute(t, "ledger", "u1")
	assert.ErrorIs(t, err, errNoDatabase)
}

func TestMigrateCmd_RequiresDatabase(t *testing.T) {
	memoryEnv(t)

	_, err := execute(t, "migrate", "status")
	assert.ErrorIs(t, err, errNoDatabase)
}

func TestLedgerReport(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	cfg := &config.Config{
		Rewards:  config.DefaultRewardsConfig(),
		Features: config.NewFeatureFlags(),
	}

	_, err := command.NewInitializeLedgerHandler(store, nil, nil).
		Handle(ctx, command.InitializeLedgerCommand{UserID: "u1"})
	require.NoError(t, err)
	_, err = command.NewApplyRewardHandler(store, nil, nil, nil, cfg.Features, nil, command.ApplyRewardHandlerConfig{}).
		Handle(ctx, command.ApplyRewardCommand{UserID: "u1", Kind: "task", EntityID: "t1"})
	require.NoError(t, err)

	report, err := loadLedgerReport(ctx, store, cfg, logger.NewNop(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 50, report.Ledger.XP)
	assert.Equal(t, 950, report.Ledger.XPToNextLevel)
	assert.Equal(t, 1, report.Achievements.Summary.Unlocked)

	var out bytes.Buffer
	require.NoError(t, printLedgerReport(&out, report))
	assert.Contains(t, out.String(), "Level:    1 (5%, 950 XP to level 2)")
	assert.Contains(t, out.String(), "[x] first-task")

	_, err = loadLedgerReport(ctx, store, cfg, logger.NewNop(), "nobody")
	assert.ErrorIs(t, err, progress.ErrLedgerNotInitialized)
}

func TestBuildApp_InMemory(t *testing.T) {
	memoryEnv(t)
	cfg, err := config.Load()
	require.NoError(t, err)

	ctx := context.Background()
	in, err := openInfra(ctx, cfg, logger.NewNop(), true)
	require.NoError(t, err)
	defer in.Close()

	a, err := buildApp(in)
	require.NoError(t, err)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_ = a.server.Shutdown(shutdownCtx)
	}()

	assert.Len(t, a.scheduler.ListJobs(), 2)

	h := a.server.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/users/u1/ledger", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/users/u1/rewards",
		strings.NewReader(`{"kind":"journal","entity_id":"j1"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	res, err := a.scheduler.RunNow(ctx, "reconcile_achievements")
	require.NoError(t, err)
	assert.True(t, res.Success)
}
