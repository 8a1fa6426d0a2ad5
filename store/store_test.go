package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "riskd.db")
	st, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return st, path
}

func TestOpenAppliesMigrations(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t)

	v, err := st.SchemaVersion(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestReopenIsIdempotent(t *testing.T) {
	t.Parallel()

	st, path := newTestStore(t)
	require.NoError(t, st.Close())

	st2, err := Open(path)
	require.NoError(t, err)
	defer st2.Close()

	v, err := st2.SchemaVersion(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestMigrateFromOlderVersion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "riskd.db")

	// A database left at schema version 1 by an older build.
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(migrations[0])
	require.NoError(t, err)
	_, err = db.Exec(`PRAGMA user_version = 1`)
	require.NoError(t, err)
	_, err = db.Exec(
		`INSERT INTO daily_pnl (account_id, date, realized_pnl, trade_count, created_at, updated_at)
		 VALUES ('A', '2026-02-02', -75, 3, '2026-02-02', '2026-02-02')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	st, err := Open(path)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	v, err := st.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)

	row, err := st.GetDayPnL(ctx, "A", "2026-02-02")
	require.NoError(t, err, "existing rows survive the upgrade")
	assert.Equal(t, 3, row.TradeCount)
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "riskd.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`PRAGMA user_version = 99`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path)
	assert.ErrorContains(t, err, "newer")
}

func TestLockoutUpsertReplaces(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	exp1 := now.Add(5 * time.Minute)
	require.NoError(t, st.UpsertLockout(ctx, LockoutRow{
		AccountID: "A", RuleID: "tiered_cooldown", Reason: "first",
		Type: "cooldown", LockedAt: now, ExpiresAt: &exp1, Active: true,
	}))

	exp2 := now.Add(30 * time.Minute)
	require.NoError(t, st.UpsertLockout(ctx, LockoutRow{
		AccountID: "A", RuleID: "tiered_cooldown", Reason: "second",
		Type: "cooldown", LockedAt: now, ExpiresAt: &exp2, Active: true,
	}))

	rows, err := st.ListActiveLockouts(ctx, "A")
	require.NoError(t, err)
	require.Len(t, rows, 1, "same (account, rule) must hold a single row")
	assert.Equal(t, "second", rows[0].Reason)
	assert.True(t, rows[0].ExpiresAt.Equal(exp2))
}

func TestGetLockoutNotFound(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t)

	_, err := st.GetLockout(context.Background(), "A", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeactivateAccountLockouts(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, rule := range []string{"r1", "r2"} {
		require.NoError(t, st.UpsertLockout(ctx, LockoutRow{
			AccountID: "A", RuleID: rule, Reason: "x",
			Type: "hard", LockedAt: now, Active: true,
		}))
	}

	require.NoError(t, st.DeactivateAccountLockouts(ctx, "A"))

	rows, err := st.ListActiveLockouts(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestResetLogUniquePerBoundary(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t)
	ctx := context.Background()
	boundary := time.Date(2026, 2, 2, 23, 0, 0, 0, time.UTC)

	inserted, err := st.InsertResetLog(ctx, "A", "daily", boundary, boundary.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = st.InsertResetLog(ctx, "A", "daily", boundary, boundary.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate boundary must be refused, not error")

	has, err := st.HasResetLog(ctx, "A", "daily", boundary)
	require.NoError(t, err)
	assert.True(t, has)

	entries, err := st.ListResetLog(ctx, "A", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPnLRowLifecycle(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := st.GetDayPnL(ctx, "A", "2026-02-02")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.AddTradePnL(ctx, "A", "2026-02-02", -50, now))
	require.NoError(t, st.AddTradePnL(ctx, "A", "2026-02-02", 120.5, now))

	row, err := st.GetDayPnL(ctx, "A", "2026-02-02")
	require.NoError(t, err)
	assert.InDelta(t, 70.5, row.RealizedPnL, 1e-9)
	assert.Equal(t, 2, row.TradeCount)

	require.NoError(t, st.ResetDayPnL(ctx, "A", "2026-02-02", now))

	row, err = st.GetDayPnL(ctx, "A", "2026-02-02")
	require.NoError(t, err, "reset keeps the row")
	assert.Zero(t, row.RealizedPnL)
	assert.Zero(t, row.TradeCount)
}
