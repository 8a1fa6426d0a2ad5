package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/riskd/metrics"
)

// LockoutRow is the persisted restriction state for one (account, rule) pair.
// ExpiresAt nil means indefinite (hard lockouts cleared only explicitly).
type LockoutRow struct {
	AccountID string
	RuleID    string
	Reason    string
	Type      string // "cooldown" or "hard"
	LockedAt  time.Time
	ExpiresAt *time.Time
	Active    bool
}

// UpsertLockout writes the row, replacing any prior record for the same
// (account_id, rule_id). At most one row per pair exists by schema.
func (s *Store) UpsertLockout(ctx context.Context, r LockoutRow) error {
	defer func(start time.Time) {
		metrics.ObserveStoreLatency("upsert_lockout", time.Since(start))
	}(time.Now())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lockouts (account_id, rule_id, reason, type, locked_at, expires_at, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, rule_id) DO UPDATE SET
			reason = excluded.reason,
			type = excluded.type,
			locked_at = excluded.locked_at,
			expires_at = excluded.expires_at,
			active = excluded.active`,
		r.AccountID, r.RuleID, r.Reason, r.Type, r.LockedAt.UTC(), nullableTime(r.ExpiresAt), boolInt(r.Active),
	)
	if err != nil {
		return fmt.Errorf("upsert lockout %s/%s: %w", r.AccountID, r.RuleID, err)
	}
	return nil
}

// ListActiveLockouts returns every row still flagged active for the account,
// including rows whose expiry has passed; callers apply lazy expiry.
func (s *Store) ListActiveLockouts(ctx context.Context, accountID string) ([]LockoutRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, rule_id, reason, type, locked_at, expires_at, active
		FROM lockouts
		WHERE account_id = ? AND active = 1
		ORDER BY locked_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list lockouts %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []LockoutRow
	for rows.Next() {
		r, err := scanLockout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list lockouts %s: %w", accountID, err)
	}
	return out, nil
}

// GetLockout returns the row for one (account, rule) pair or ErrNotFound.
func (s *Store) GetLockout(ctx context.Context, accountID, ruleID string) (LockoutRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT account_id, rule_id, reason, type, locked_at, expires_at, active
		FROM lockouts
		WHERE account_id = ? AND rule_id = ?`, accountID, ruleID)
	r, err := scanLockout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return LockoutRow{}, ErrNotFound
	}
	return r, err
}

// DeactivateLockout flips active off for one (account, rule) pair.
func (s *Store) DeactivateLockout(ctx context.Context, accountID, ruleID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE lockouts SET active = 0 WHERE account_id = ? AND rule_id = ?`,
		accountID, ruleID)
	if err != nil {
		return fmt.Errorf("deactivate lockout %s/%s: %w", accountID, ruleID, err)
	}
	return nil
}

// DeactivateAccountLockouts flips active off for every rule on the account.
func (s *Store) DeactivateAccountLockouts(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE lockouts SET active = 0 WHERE account_id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("clear lockouts %s: %w", accountID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLockout(r rowScanner) (LockoutRow, error) {
	var (
		row     LockoutRow
		expires sql.NullTime
		active  int
	)
	if err := r.Scan(&row.AccountID, &row.RuleID, &row.Reason, &row.Type, &row.LockedAt, &expires, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LockoutRow{}, err
		}
		return LockoutRow{}, fmt.Errorf("scan lockout: %w", err)
	}
	if expires.Valid {
		t := expires.Time.UTC()
		row.ExpiresAt = &t
	}
	row.LockedAt = row.LockedAt.UTC()
	row.Active = active != 0
	return row, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
