package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
	"github.com/habitverse/habitverse-core/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS STORE IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StoreConfig configures a ProgressStore.
type StoreConfig struct {
	// Location interprets DATE columns (streak days) as local days.
	Location *time.Location

	// QueryTimeout bounds every non-transactional query (0 = none).
	QueryTimeout time.Duration
}

// ProgressStore implements progress.Store for PostgreSQL.
type ProgressStore struct {
	conn         *Connection
	loc          *time.Location
	queryTimeout time.Duration
}

// NewProgressStore creates a new ProgressStore.
func NewProgressStore(conn *Connection, cfg StoreConfig) *ProgressStore {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &ProgressStore{conn: conn, loc: loc, queryTimeout: cfg.QueryTimeout}
}

var _ progress.Store = (*ProgressStore)(nil)

func (s *ProgressStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

const ledgerColumns = `
	user_id, level, xp, coins, streak,
	total_tasks_completed, total_habits_completed, total_journal_entries,
	created_at, updated_at`

// ─────────────────────────────────────────────────────────────────────────────
// Ledger lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// InitLedger inserts the zero ledger unless one exists.
func (s *ProgressStore) InitLedger(ctx context.Context, userID shared.UserID, now time.Time) (progress.Ledger, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	l := progress.NewLedger(userID, now.UTC())
	tag, err := s.conn.Exec(ctx, `
		INSERT INTO user_stats (user_id, level, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
	`, string(userID), l.Level, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return progress.Ledger{}, false, fmt.Errorf("failed to init ledger: %w", err)
	}

	stored, err := getLedger(ctx, s.conn, userID, false)
	if err != nil {
		return progress.Ledger{}, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

// GetLedger returns the stored ledger.
func (s *ProgressStore) GetLedger(ctx context.Context, userID shared.UserID) (progress.Ledger, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return getLedger(ctx, s.conn, userID, false)
}

// DeleteLedger removes the ledger; claims, unlocks and streak cascade.
func (s *ProgressStore) DeleteLedger(ctx context.Context, userID shared.UserID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.conn.Exec(ctx, `DELETE FROM user_stats WHERE user_id = $1`, string(userID))
	if err != nil {
		return fmt.Errorf("failed to delete ledger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return progress.ErrLedgerNotInitialized
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// GetUnlocks returns the recorded unlocks of a user, oldest first.
func (s *ProgressStore) GetUnlocks(ctx context.Context, userID shared.UserID) ([]progress.Unlock, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return getUnlocks(ctx, s.conn, userID)
}

// GetStreak returns the user's streak, or an empty one.
func (s *ProgressStore) GetStreak(ctx context.Context, userID shared.UserID) (progress.Streak, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return getStreak(ctx, s.conn, userID, s.loc)
}

// ListStaleStreaks pages through running streaks last active before cutoff's
// day, ordered by user id.
func (s *ProgressStore) ListStaleStreaks(ctx context.Context, cutoff time.Time, afterUserID shared.UserID, limit int) ([]progress.Streak, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.conn.Query(ctx, `
		SELECT user_id, current_streak, best_streak, last_active_date, start_date
		FROM streaks
		WHERE current_streak > 0 AND last_active_date < $1 AND user_id > $2
		ORDER BY user_id
		LIMIT $3
	`, civilDate(cutoff, s.loc), string(afterUserID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale streaks: %w", err)
	}
	defer rows.Close()

	var out []progress.Streak
	for rows.Next() {
		st, err := scanStreak(rows, s.loc)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ListLedgers pages through ledgers ordered by user id.
func (s *ProgressStore) ListLedgers(ctx context.Context, afterUserID shared.UserID, limit int) ([]progress.Ledger, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.conn.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM user_stats
		WHERE user_id > $1
		ORDER BY user_id
		LIMIT $2
	`, string(afterUserID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledgers: %w", err)
	}
	defer rows.Close()

	var out []progress.Ledger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListClaims returns the most recent claims of a user, newest first.
func (s *ProgressStore) ListClaims(ctx context.Context, userID shared.UserID, limit int) ([]progress.RewardClaim, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.conn.Query(ctx, `
		SELECT id, user_id, kind, entity_id, xp_gain, coin_gain, claimed_at
		FROM reward_claims
		WHERE user_id = $1
		ORDER BY claimed_at DESC, id
		LIMIT $2
	`, string(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var out []progress.RewardClaim
	for rows.Next() {
		var (
			c      progress.RewardClaim
			id     uuid.UUID
			userID string
			kind   string
		)
		if err := rows.Scan(&id, &userID, &kind, &c.EntityID, &c.XPGain, &c.CoinGain, &c.ClaimedAt); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		c.ID = id.String()
		c.UserID = shared.UserID(userID)
		c.Kind = progress.ActivityKind(kind)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Transactions
// ─────────────────────────────────────────────────────────────────────────────

// WithinTx runs fn in a read-committed transaction. A transaction that loses
// a deadlock or serialization check is rolled back and run again.
func (s *ProgressStore) WithinTx(ctx context.Context, fn func(tx progress.Tx) error) error {
	return retryConflicts(ctx, func(ctx context.Context) error {
		return s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			return fn(&progressTx{tx: tx, loc: s.loc})
		})
	})
}

// txAttempts bounds how often a conflicting transaction is run.
const txAttempts = 3

func retryConflicts(ctx context.Context, run func(context.Context) error) error {
	return retry.Do(ctx, run,
		retry.WithMaxAttempts(txAttempts),
		retry.WithInitialDelay(10*time.Millisecond),
		retry.WithMaxDelay(100*time.Millisecond),
		retry.WithRetryIf(IsSerializationFailure),
	)
}

// progressTx implements progress.Tx on a pgx transaction.
type progressTx struct {
	tx  pgx.Tx
	loc *time.Location
}

// LockLedger reads the ledger row with FOR UPDATE.
func (t *progressTx) LockLedger(ctx context.Context, userID shared.UserID) (progress.Ledger, error) {
	return getLedger(ctx, t.tx, userID, true)
}

// SaveLedger overwrites the stored ledger.
func (t *progressTx) SaveLedger(ctx context.Context, l progress.Ledger) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE user_stats SET
			level = $1,
			xp = $2,
			coins = $3,
			streak = $4,
			total_tasks_completed = $5,
			total_habits_completed = $6,
			total_journal_entries = $7,
			updated_at = $8
		WHERE user_id = $9
	`,
		l.Level, l.XP, l.Coins, l.Streak,
		l.TotalTasksCompleted, l.TotalHabitsCompleted, l.TotalJournalEntries,
		l.UpdatedAt, string(l.UserID),
	)
	if err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return progress.ErrLedgerNotInitialized
	}
	return nil
}

// ClaimReward inserts the claim unless the key is taken.
func (t *progressTx) ClaimReward(ctx context.Context, c progress.RewardClaim) (bool, error) {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}

	tag, err := t.tx.Exec(ctx, `
		INSERT INTO reward_claims (id, user_id, kind, entity_id, xp_gain, coin_gain, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, kind, entity_id) DO NOTHING
	`, id, string(c.UserID), string(c.Kind), c.EntityID, c.XPGain, c.CoinGain, c.ClaimedAt)
	if err != nil {
		return false, fmt.Errorf("failed to claim reward: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetStreak reads the streak inside the transaction.
func (t *progressTx) GetStreak(ctx context.Context, userID shared.UserID) (progress.Streak, error) {
	return getStreak(ctx, t.tx, userID, t.loc)
}

// SaveStreak upserts the streak row.
func (t *progressTx) SaveStreak(ctx context.Context, st progress.Streak) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO streaks (user_id, current_streak, best_streak, last_active_date, start_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			current_streak = EXCLUDED.current_streak,
			best_streak = EXCLUDED.best_streak,
			last_active_date = EXCLUDED.last_active_date,
			start_date = EXCLUDED.start_date,
			updated_at = NOW()
	`, string(st.UserID), st.Current, st.Best, civilDate(st.LastActiveDate, t.loc), civilDate(st.StartDate, t.loc))
	if err != nil {
		return fmt.Errorf("failed to save streak: %w", err)
	}
	return nil
}

// GetUnlocks reads unlocks inside the transaction.
func (t *progressTx) GetUnlocks(ctx context.Context, userID shared.UserID) ([]progress.Unlock, error) {
	return getUnlocks(ctx, t.tx, userID)
}

// SaveUnlocks appends unlocks in one batch, skipping recorded ones.
func (t *progressTx) SaveUnlocks(ctx context.Context, unlocks []progress.Unlock) (int, error) {
	if len(unlocks) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, u := range unlocks {
		batch.Queue(`
			INSERT INTO achievement_unlocks (user_id, achievement_id, unlocked_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, achievement_id) DO NOTHING
		`, string(u.UserID), u.AchievementID, u.UnlockedAt)
	}

	results := t.tx.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range unlocks {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to save unlock: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Shared query helpers
// ─────────────────────────────────────────────────────────────────────────────

func getLedger(ctx context.Context, q Querier, userID shared.UserID, forUpdate bool) (progress.Ledger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM user_stats WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	l, err := scanLedger(q.QueryRow(ctx, query, string(userID)))
	if err != nil {
		if IsNoRows(err) {
			return progress.Ledger{}, progress.ErrLedgerNotInitialized
		}
		return progress.Ledger{}, err
	}
	return l, nil
}

func scanLedger(row pgx.Row) (progress.Ledger, error) {
	var (
		l      progress.Ledger
		userID string
	)
	err := row.Scan(
		&userID, &l.Level, &l.XP, &l.Coins, &l.Streak,
		&l.TotalTasksCompleted, &l.TotalHabitsCompleted, &l.TotalJournalEntries,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return progress.Ledger{}, err
		}
		return progress.Ledger{}, fmt.Errorf("failed to scan ledger: %w", err)
	}
	l.UserID = shared.UserID(userID)
	return l, nil
}

func getUnlocks(ctx context.Context, q Querier, userID shared.UserID) ([]progress.Unlock, error) {
	rows, err := q.Query(ctx, `
		SELECT achievement_id, unlocked_at
		FROM achievement_unlocks
		WHERE user_id = $1
		ORDER BY unlocked_at, achievement_id
	`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get unlocks: %w", err)
	}
	defer rows.Close()

	var out []progress.Unlock
	for rows.Next() {
		u := progress.Unlock{UserID: userID}
		if err := rows.Scan(&u.AchievementID, &u.UnlockedAt); err != nil {
			return nil, fmt.Errorf("failed to scan unlock: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func getStreak(ctx context.Context, q Querier, userID shared.UserID, loc *time.Location) (progress.Streak, error) {
	row := q.QueryRow(ctx, `
		SELECT user_id, current_streak, best_streak, last_active_date, start_date
		FROM streaks
		WHERE user_id = $1
	`, string(userID))

	st, err := scanStreak(row, loc)
	if err != nil {
		if IsNoRows(err) {
			return progress.NewStreak(userID), nil
		}
		return progress.Streak{}, err
	}
	return st, nil
}

func scanStreak(row pgx.Row, loc *time.Location) (progress.Streak, error) {
	var (
		st          progress.Streak
		userID      string
		last, start pgtype.Date
	)
	if err := row.Scan(&userID, &st.Current, &st.Best, &last, &start); err != nil {
		if IsNoRows(err) {
			return progress.Streak{}, err
		}
		return progress.Streak{}, fmt.Errorf("failed to scan streak: %w", err)
	}
	st.UserID = shared.UserID(userID)
	st.LastActiveDate = localMidnight(last, loc)
	st.StartDate = localMidnight(start, loc)
	return st, nil
}

// civilDate converts a local-midnight time to a DATE parameter; zero means NULL.
func civilDate(t time.Time, loc *time.Location) pgtype.Date {
	if t.IsZero() {
		return pgtype.Date{}
	}
	local := t.In(loc)
	return pgtype.Date{
		Time:  time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC),
		Valid: true,
	}
}

// localMidnight maps a DATE back to midnight in loc.
func localMidnight(d pgtype.Date, loc *time.Location) time.Time {
	if !d.Valid {
		return time.Time{}
	}
	return time.Date(d.Time.Year(), d.Time.Month(), d.Time.Day(), 0, 0, 0, 0, loc)
}
