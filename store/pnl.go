package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/riskd/metrics"
)

// PnLRow is the realized P&L accumulator for one account and calendar day.
// Date is "YYYY-MM-DD" in the account's local trading day.
type PnLRow struct {
	AccountID   string
	Date        string
	RealizedPnL float64
	TradeCount  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AddTradePnL folds one trade's realized P&L into the day's row inside a
// single transaction, creating the row on the first trade of the day.
// The running sum must survive restarts, so the read-modify-write never
// happens in memory.
func (s *Store) AddTradePnL(ctx context.Context, accountID, date string, pnl float64, now time.Time) error {
	defer func(start time.Time) {
		metrics.ObserveStoreLatency("add_trade_pnl", time.Since(start))
	}(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add pnl: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		realized float64
		count    int
	)
	err = tx.QueryRowContext(ctx,
		`SELECT realized_pnl, trade_count FROM daily_pnl WHERE account_id = ? AND date = ?`,
		accountID, date).Scan(&realized, &count)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO daily_pnl (account_id, date, realized_pnl, trade_count, created_at, updated_at)
			VALUES (?, ?, ?, 1, ?, ?)`,
			accountID, date, pnl, now.UTC(), now.UTC())
		if err != nil {
			return fmt.Errorf("add pnl: insert %s/%s: %w", accountID, date, err)
		}
	case err != nil:
		return fmt.Errorf("add pnl: read %s/%s: %w", accountID, date, err)
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE daily_pnl SET realized_pnl = ?, trade_count = ?, updated_at = ?
			WHERE account_id = ? AND date = ?`,
			realized+pnl, count+1, now.UTC(), accountID, date)
		if err != nil {
			return fmt.Errorf("add pnl: update %s/%s: %w", accountID, date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("add pnl: commit: %w", err)
	}
	return nil
}

// GetDayPnL returns the day's row, or ErrNotFound when the account has not
// traded that day.
func (s *Store) GetDayPnL(ctx context.Context, accountID, date string) (PnLRow, error) {
	var r PnLRow
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, date, realized_pnl, trade_count, created_at, updated_at
		FROM daily_pnl WHERE account_id = ? AND date = ?`,
		accountID, date).Scan(&r.AccountID, &r.Date, &r.RealizedPnL, &r.TradeCount, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PnLRow{}, ErrNotFound
	}
	if err != nil {
		return PnLRow{}, fmt.Errorf("get pnl %s/%s: %w", accountID, date, err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

// ResetDayPnL zeroes the day's accumulator in place. The row is kept so the
// audit trail shows the day existed; a missing row is already zero.
func (s *Store) ResetDayPnL(ctx context.Context, accountID, date string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE daily_pnl SET realized_pnl = 0, trade_count = 0, updated_at = ?
		WHERE account_id = ? AND date = ?`,
		now.UTC(), accountID, date)
	if err != nil {
		return fmt.Errorf("reset pnl %s/%s: %w", accountID, date, err)
	}
	return nil
}
