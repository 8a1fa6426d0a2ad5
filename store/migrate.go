package store

import (
	"database/sql"
	"fmt"
)

// migrations are applied in order; user_version records the last applied
// index + 1. Never edit an entry that has shipped, append instead.
var migrations = []string{
	// 1: initial schema
	`
CREATE TABLE IF NOT EXISTS lockouts (
	account_id TEXT NOT NULL,
	rule_id    TEXT NOT NULL,
	reason     TEXT NOT NULL,
	type       TEXT NOT NULL CHECK (type IN ('cooldown','hard')),
	locked_at  DATETIME NOT NULL,
	expires_at DATETIME,
	active     INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (account_id, rule_id)
);

CREATE TABLE IF NOT EXISTS daily_pnl (
	account_id   TEXT NOT NULL,
	date         TEXT NOT NULL,
	realized_pnl REAL NOT NULL DEFAULT 0,
	trade_count  INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	PRIMARY KEY (account_id, date)
);

CREATE TABLE IF NOT EXISTS reset_log (
	id           TEXT PRIMARY KEY,
	account_id   TEXT NOT NULL,
	reset_type   TEXT NOT NULL CHECK (reset_type IN ('daily','weekly')),
	reset_time   DATETIME NOT NULL,
	triggered_at DATETIME NOT NULL,
	UNIQUE (account_id, reset_type, reset_time)
);
`,
	// 2: lookups by account during lazy-expiry checks
	`
CREATE INDEX IF NOT EXISTS idx_lockouts_account ON lockouts(account_id, active);
CREATE INDEX IF NOT EXISTS idx_reset_log_account ON reset_log(account_id, reset_type);
`,
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("store schema version %d is newer than this build supports (%d)", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: begin: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		// PRAGMA does not accept bind parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: bump version: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", i+1, err)
		}
	}
	return nil
}
