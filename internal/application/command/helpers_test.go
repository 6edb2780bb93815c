package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/habitverse/habitverse-core/config"
	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
	"github.com/habitverse/habitverse-core/internal/infrastructure/persistence/memory"
)

var day1 = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

// recorder is an EventPublisher that keeps everything it is given.
type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(ev shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []shared.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.EventType()
	}
	return out
}

func (r *recorder) ofType(t shared.EventType) []shared.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.Event
	for _, ev := range r.events {
		if ev.EventType() == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type fixture struct {
	store  *memory.Store
	cache  *memory.LedgerCache
	events *recorder
	flags  *config.FeatureFlags
	clock  time.Time
	apply  *ApplyRewardHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:  memory.NewStore(),
		cache:  memory.NewLedgerCache(),
		events: &recorder{},
		flags:  config.NewFeatureFlags(),
		clock:  day1,
	}
	cfg := DefaultApplyRewardHandlerConfig()
	cfg.Clock = func() time.Time { return f.clock }
	cfg.CacheTTL = time.Minute
	f.apply = NewApplyRewardHandler(f.store, memory.NewLocker(time.Second), f.cache, f.events, f.flags, nil, cfg)
	return f
}

// lockerFailingFor refuses the lock for the listed users.
type lockerFailingFor map[shared.UserID]bool

var errLockRefused = errors.New("lock refused")

func (l lockerFailingFor) Acquire(_ context.Context, userID shared.UserID) (func(), error) {
	if l[userID] {
		return nil, errLockRefused
	}
	return func() {}, nil
}

func (f *fixture) init(t *testing.T, userID shared.UserID) {
	t.Helper()
	_, _, err := f.store.InitLedger(context.Background(), userID, f.clock)
	require.NoError(t, err)
}

func (f *fixture) reward(t *testing.T, userID string, kind progress.ActivityKind, entityID string) *ApplyRewardResult {
	t.Helper()
	res, err := f.apply.Handle(context.Background(), ApplyRewardCommand{UserID: userID, Kind: kind, EntityID: entityID})
	require.NoError(t, err)
	return res
}
