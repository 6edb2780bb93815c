// Package memory provides an in-process progress store. It backs the service
// when no database is configured and is the store used by the application
// tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
)

type claimKey struct {
	userID   shared.UserID
	kind     progress.ActivityKind
	entityID string
}

// Store implements progress.Store in memory. Transactions are serialized and
// staged: nothing written through a Tx is visible until fn returns nil.
type Store struct {
	mu      sync.RWMutex
	ledgers map[shared.UserID]progress.Ledger
	streaks map[shared.UserID]progress.Streak
	unlocks map[shared.UserID][]progress.Unlock
	claims  map[shared.UserID][]progress.RewardClaim
	claimed map[claimKey]struct{}

	// txMu serializes writers, standing in for row locks.
	txMu sync.Mutex
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		ledgers: make(map[shared.UserID]progress.Ledger),
		streaks: make(map[shared.UserID]progress.Streak),
		unlocks: make(map[shared.UserID][]progress.Unlock),
		claims:  make(map[shared.UserID][]progress.RewardClaim),
		claimed: make(map[claimKey]struct{}),
	}
}

var _ progress.Store = (*Store)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// Ledger lifecycle
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) InitLedger(ctx context.Context, userID shared.UserID, now time.Time) (progress.Ledger, bool, error) {
	if err := ctx.Err(); err != nil {
		return progress.Ledger{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.ledgers[userID]; ok {
		return l, false, nil
	}
	l := progress.NewLedger(userID, now.UTC())
	s.ledgers[userID] = l
	return l, true, nil
}

func (s *Store) GetLedger(ctx context.Context, userID shared.UserID) (progress.Ledger, error) {
	if err := ctx.Err(); err != nil {
		return progress.Ledger{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.ledgers[userID]
	if !ok {
		return progress.Ledger{}, progress.ErrLedgerNotInitialized
	}
	return l, nil
}

// DeleteLedger removes the ledger with its claims, unlocks and streak.
func (s *Store) DeleteLedger(ctx context.Context, userID shared.UserID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ledgers[userID]; !ok {
		return progress.ErrLedgerNotInitialized
	}
	delete(s.ledgers, userID)
	delete(s.streaks, userID)
	delete(s.unlocks, userID)
	for _, c := range s.claims[userID] {
		delete(s.claimed, claimKey{c.UserID, c.Kind, c.EntityID})
	}
	delete(s.claims, userID)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) GetUnlocks(ctx context.Context, userID shared.UserID) ([]progress.Unlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]progress.Unlock(nil), s.unlocks[userID]...), nil
}

func (s *Store) GetStreak(ctx context.Context, userID shared.UserID) (progress.Streak, error) {
	if err := ctx.Err(); err != nil {
		return progress.Streak{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.streaks[userID]; ok {
		return st, nil
	}
	return progress.NewStreak(userID), nil
}

func (s *Store) ListStaleStreaks(ctx context.Context, cutoff time.Time, afterUserID shared.UserID, limit int) ([]progress.Streak, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var out []progress.Streak
	for id, st := range s.streaks {
		if id > afterUserID && st.Current > 0 && st.LastActiveDate.Before(cutoff) {
			out = append(out, st)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListLedgers(ctx context.Context, afterUserID shared.UserID, limit int) ([]progress.Ledger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var out []progress.Ledger
	for id, l := range s.ledgers {
		if id > afterUserID {
			out = append(out, l)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListClaims(ctx context.Context, userID shared.UserID, limit int) ([]progress.RewardClaim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	claims := s.claims[userID]
	out := make([]progress.RewardClaim, 0, len(claims))
	// Claims are appended in commit order; walk backwards for newest first.
	for i := len(claims) - 1; i >= 0; i-- {
		out = append(out, claims[i])
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].ClaimedAt.After(out[j].ClaimedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Transactions
// ─────────────────────────────────────────────────────────────────────────────

// WithinTx runs fn with exclusive write access. Staged writes are applied
// only when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(tx progress.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{
		store:   s,
		ledgers: make(map[shared.UserID]progress.Ledger),
		streaks: make(map[shared.UserID]progress.Streak),
		claimed: make(map[claimKey]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	store *Store

	ledgers map[shared.UserID]progress.Ledger
	streaks map[shared.UserID]progress.Streak
	claims  []progress.RewardClaim
	claimed map[claimKey]struct{}
	unlocks []progress.Unlock
}

func (t *memTx) LockLedger(ctx context.Context, userID shared.UserID) (progress.Ledger, error) {
	if l, ok := t.ledgers[userID]; ok {
		return l, nil
	}
	return t.store.GetLedger(ctx, userID)
}

func (t *memTx) SaveLedger(ctx context.Context, l progress.Ledger) error {
	if _, err := t.LockLedger(ctx, l.UserID); err != nil {
		return err
	}
	t.ledgers[l.UserID] = l
	return nil
}

func (t *memTx) ClaimReward(ctx context.Context, c progress.RewardClaim) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	key := claimKey{c.UserID, c.Kind, c.EntityID}
	if _, ok := t.claimed[key]; ok {
		return false, nil
	}
	t.store.mu.RLock()
	_, taken := t.store.claimed[key]
	t.store.mu.RUnlock()
	if taken {
		return false, nil
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	t.claimed[key] = struct{}{}
	t.claims = append(t.claims, c)
	return true, nil
}

func (t *memTx) GetStreak(ctx context.Context, userID shared.UserID) (progress.Streak, error) {
	if st, ok := t.streaks[userID]; ok {
		return st, nil
	}
	return t.store.GetStreak(ctx, userID)
}

func (t *memTx) SaveStreak(ctx context.Context, st progress.Streak) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.streaks[st.UserID] = st
	return nil
}

func (t *memTx) GetUnlocks(ctx context.Context, userID shared.UserID) ([]progress.Unlock, error) {
	out, err := t.store.GetUnlocks(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, u := range t.unlocks {
		if u.UserID == userID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (t *memTx) SaveUnlocks(ctx context.Context, unlocks []progress.Unlock) (int, error) {
	inserted := 0
	for _, u := range unlocks {
		existing, err := t.GetUnlocks(ctx, u.UserID)
		if err != nil {
			return inserted, err
		}
		if hasUnlock(existing, u.AchievementID) {
			continue
		}
		t.unlocks = append(t.unlocks, u)
		inserted++
	}
	return inserted, nil
}

func (t *memTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, l := range t.ledgers {
		s.ledgers[id] = l
	}
	for id, st := range t.streaks {
		s.streaks[id] = st
	}
	for _, c := range t.claims {
		s.claims[c.UserID] = append(s.claims[c.UserID], c)
		s.claimed[claimKey{c.UserID, c.Kind, c.EntityID}] = struct{}{}
	}
	for _, u := range t.unlocks {
		s.unlocks[u.UserID] = append(s.unlocks[u.UserID], u)
	}
}

func hasUnlock(unlocks []progress.Unlock, id string) bool {
	for _, u := range unlocks {
		if u.AchievementID == id {
			return true
		}
	}
	return false
}
