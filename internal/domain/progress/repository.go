package progress

import (
	"context"
	"time"

	"github.com/habitverse/habitverse-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// ErrLedgerNotInitialized is returned when a user has no ledger row yet.
// It matches shared.ErrNotFound.
var ErrLedgerNotInitialized = shared.NewDomainError("progress", "GetLedger", shared.ErrNotFound, "ledger not initialized")

// RewardClaim records that an entity has been rewarded. The unique key is
// (UserID, Kind, EntityID).
type RewardClaim struct {
	ID        string        `json:"id"`
	UserID    shared.UserID `json:"user_id"`
	Kind      ActivityKind  `json:"kind"`
	EntityID  string        `json:"entity_id"`
	XPGain    int           `json:"xp_gain"`
	CoinGain  int           `json:"coin_gain"`
	ClaimedAt time.Time     `json:"claimed_at"`
}

// Store is the durable home of ledgers, claims, unlocks and streaks.
type Store interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Ledger lifecycle
	// ─────────────────────────────────────────────────────────────────────────

	// InitLedger creates the zero ledger for a user if none exists.
	// Returns the stored ledger and whether it was created by this call.
	InitLedger(ctx context.Context, userID shared.UserID, now time.Time) (Ledger, bool, error)

	// GetLedger returns the stored ledger.
	// Returns ErrLedgerNotInitialized if the user has none.
	GetLedger(ctx context.Context, userID shared.UserID) (Ledger, error)

	// DeleteLedger removes the ledger and all dependent rows (account deletion).
	DeleteLedger(ctx context.Context, userID shared.UserID) error

	// ─────────────────────────────────────────────────────────────────────────
	// Reads
	// ─────────────────────────────────────────────────────────────────────────

	// GetUnlocks returns the recorded unlocks of a user, oldest first.
	GetUnlocks(ctx context.Context, userID shared.UserID) ([]Unlock, error)

	// GetStreak returns the user's streak, or an empty one.
	GetStreak(ctx context.Context, userID shared.UserID) (Streak, error)

	// ListStaleStreaks returns running streaks whose last active day is before
	// cutoff, ordered by user id, starting after afterUserID.
	ListStaleStreaks(ctx context.Context, cutoff time.Time, afterUserID shared.UserID, limit int) ([]Streak, error)

	// ListLedgers pages through all ledgers ordered by user id, starting after afterUserID.
	ListLedgers(ctx context.Context, afterUserID shared.UserID, limit int) ([]Ledger, error)

	// ListClaims returns the most recent claims of a user, newest first.
	ListClaims(ctx context.Context, userID shared.UserID, limit int) ([]RewardClaim, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Transactions
	// ─────────────────────────────────────────────────────────────────────────

	// WithinTx runs fn in one transaction. A non-nil error from fn rolls back
	// every write made through the Tx. fn may be run again after a conflict,
	// so it must reset anything it records outside the Tx.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side of a Store, scoped to one transaction.
type Tx interface {
	// LockLedger reads the ledger and holds it against concurrent writers
	// until the transaction ends.
	LockLedger(ctx context.Context, userID shared.UserID) (Ledger, error)

	// SaveLedger overwrites the stored ledger.
	SaveLedger(ctx context.Context, l Ledger) error

	// ClaimReward inserts the claim. Returns false if the key was already claimed.
	ClaimReward(ctx context.Context, claim RewardClaim) (bool, error)

	GetStreak(ctx context.Context, userID shared.UserID) (Streak, error)
	SaveStreak(ctx context.Context, s Streak) error

	GetUnlocks(ctx context.Context, userID shared.UserID) ([]Unlock, error)

	// SaveUnlocks appends unlocks, skipping ones already recorded.
	// Returns how many rows were inserted.
	SaveUnlocks(ctx context.Context, unlocks []Unlock) (int, error)
}
