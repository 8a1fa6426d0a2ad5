package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/riskd/pkg/id"
)

// ResetLogRow records one triggered reset. The UNIQUE constraint on
// (account_id, reset_type, reset_time) is what makes reset execution
// idempotent per boundary.
type ResetLogRow struct {
	ID          string
	AccountID   string
	ResetType   string // "daily" or "weekly"
	ResetTime   time.Time
	TriggeredAt time.Time
}

// InsertResetLog appends an audit row for one boundary. It returns
// (false, nil) when a row for the same boundary already exists.
func (s *Store) InsertResetLog(ctx context.Context, accountID, resetType string, resetTime, triggeredAt time.Time) (bool, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reset_log (id, account_id, reset_type, reset_time, triggered_at)
		VALUES (?, ?, ?, ?, ?)`,
		id.New(), accountID, resetType, resetTime.UTC(), triggeredAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert reset log %s/%s: %w", accountID, resetType, err)
	}
	return true, nil
}

// HasResetLog reports whether the boundary has already been executed.
func (s *Store) HasResetLog(ctx context.Context, accountID, resetType string, resetTime time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM reset_log
		WHERE account_id = ? AND reset_type = ? AND reset_time = ?`,
		accountID, resetType, resetTime.UTC()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check reset log %s/%s: %w", accountID, resetType, err)
	}
	return n > 0, nil
}

// ListResetLog returns the most recent audit rows for an account, newest first.
func (s *Store) ListResetLog(ctx context.Context, accountID string, limit int) ([]ResetLogRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, reset_type, reset_time, triggered_at
		FROM reset_log WHERE account_id = ?
		ORDER BY reset_time DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reset log %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []ResetLogRow
	for rows.Next() {
		var r ResetLogRow
		if err := rows.Scan(&r.ID, &r.AccountID, &r.ResetType, &r.ResetTime, &r.TriggeredAt); err != nil {
			return nil, fmt.Errorf("scan reset log: %w", err)
		}
		r.ResetTime = r.ResetTime.UTC()
		r.TriggeredAt = r.TriggeredAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reset log %s: %w", accountID, err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
