// Package lockout tracks whether trading is restricted for an account.
// The persisted store row is the source of truth; a companion countdown
// timer only makes unlock notifications prompt while the process lives.
package lockout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/riskd/store"
	"github.com/rustyeddy/riskd/timer"
)

const (
	TypeCooldown = "cooldown"
	TypeHard     = "hard"
)

// Status describes the current restriction on an account.
type Status struct {
	AccountID        string
	RuleID           string
	Reason           string
	Type             string
	LockedAt         time.Time
	ExpiresAt        *time.Time
	RemainingSeconds float64
}

// UnlockFunc is called when a cooldown expires while the process is running.
type UnlockFunc func(accountID string)

// Manager drives the Unlocked -> {Cooldown, HardLocked} -> Unlocked state
// machine per (account, rule), persisting every transition.
type Manager struct {
	store  *store.Store
	timers *timer.Registry
	log    *zap.Logger

	mu       sync.Mutex
	nowFn    func() time.Time
	onUnlock UnlockFunc
}

func NewManager(st *store.Store, timers *timer.Registry, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store:  st,
		timers: timers,
		log:    log,
		nowFn:  time.Now,
	}
}

// SetNowFn overrides the clock (tests).
func (m *Manager) SetNowFn(fn func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn == nil {
		fn = time.Now
	}
	m.nowFn = fn
}

func (m *Manager) now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nowFn()
}

// OnUnlock registers a callback fired when a cooldown timer expires.
func (m *Manager) OnUnlock(fn UnlockFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnlock = fn
}

// SetCooldown restricts the account for the given duration, replacing any
// prior record for the same rule. The timer is best effort: if it is lost
// (restart), IsLockedOut still expires the record lazily on read.
func (m *Manager) SetCooldown(ctx context.Context, accountID, ruleID string, d time.Duration, reason string) error {
	if d <= 0 {
		return fmt.Errorf("set cooldown %s: non-positive duration %v", accountID, d)
	}

	now := m.now()
	expires := now.Add(d)
	row := store.LockoutRow{
		AccountID: accountID,
		RuleID:    ruleID,
		Reason:    reason,
		Type:      TypeCooldown,
		LockedAt:  now,
		ExpiresAt: &expires,
		Active:    true,
	}
	if err := m.store.UpsertLockout(ctx, row); err != nil {
		return fmt.Errorf("set cooldown: %w", err)
	}

	if m.timers != nil {
		name := timerName(accountID, ruleID)
		err := m.timers.Start(name, d, func() {
			m.expireCooldown(accountID, ruleID)
		})
		if err != nil {
			// Persistence already holds the truth; a failed timer only costs
			// unlock latency.
			m.log.Warn("cooldown timer not registered",
				zap.String("account_id", accountID),
				zap.String("rule_id", ruleID),
				zap.Error(err))
		}
	}

	m.log.Info("cooldown set",
		zap.String("account_id", accountID),
		zap.String("rule_id", ruleID),
		zap.Duration("duration", d),
		zap.String("reason", reason))
	return nil
}

// SetLockout applies a hard lockout, cleared only by ClearLockout or a
// scheduled reset. until nil means indefinite.
func (m *Manager) SetLockout(ctx context.Context, accountID, ruleID, reason string, until *time.Time) error {
	row := store.LockoutRow{
		AccountID: accountID,
		RuleID:    ruleID,
		Reason:    reason,
		Type:      TypeHard,
		LockedAt:  m.now(),
		ExpiresAt: until,
		Active:    true,
	}
	if err := m.store.UpsertLockout(ctx, row); err != nil {
		return fmt.Errorf("set lockout: %w", err)
	}

	m.log.Info("hard lockout set",
		zap.String("account_id", accountID),
		zap.String("rule_id", ruleID),
		zap.String("reason", reason))
	return nil
}

// IsLockedOut reports whether any active, unexpired restriction exists.
// Expired rows are deactivated as a side effect, so the answer is correct
// even when the companion timer never fired.
func (m *Manager) IsLockedOut(ctx context.Context, accountID string) (bool, error) {
	rows, err := m.store.ListActiveLockouts(ctx, accountID)
	if err != nil {
		return false, err
	}

	now := m.now()
	locked := false
	for _, r := range rows {
		if r.ExpiresAt != nil && !now.Before(*r.ExpiresAt) {
			if err := m.store.DeactivateLockout(ctx, r.AccountID, r.RuleID); err != nil {
				m.log.Warn("lazy expiry deactivate failed",
					zap.String("account_id", r.AccountID),
					zap.String("rule_id", r.RuleID),
					zap.Error(err))
			}
			continue
		}
		locked = true
	}
	return locked, nil
}

// ClearLockout deactivates every restriction on the account and cancels any
// pending cooldown timers for it.
func (m *Manager) ClearLockout(ctx context.Context, accountID string) error {
	rows, err := m.store.ListActiveLockouts(ctx, accountID)
	if err != nil {
		return err
	}
	if err := m.store.DeactivateAccountLockouts(ctx, accountID); err != nil {
		return err
	}
	if m.timers != nil {
		for _, r := range rows {
			m.timers.Cancel(timerName(r.AccountID, r.RuleID))
		}
	}
	m.log.Info("lockouts cleared", zap.String("account_id", accountID))
	return nil
}

// Info returns the most restrictive current restriction, or nil when the
// account is unrestricted. Remaining seconds are clamped at zero; hard
// lockouts without expiry report zero remaining and a nil ExpiresAt.
func (m *Manager) Info(ctx context.Context, accountID string) (*Status, error) {
	rows, err := m.store.ListActiveLockouts(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	var best *Status
	for _, r := range rows {
		if r.ExpiresAt != nil && !now.Before(*r.ExpiresAt) {
			continue
		}
		s := &Status{
			AccountID: r.AccountID,
			RuleID:    r.RuleID,
			Reason:    r.Reason,
			Type:      r.Type,
			LockedAt:  r.LockedAt,
			ExpiresAt: r.ExpiresAt,
		}
		if r.ExpiresAt != nil {
			if left := r.ExpiresAt.Sub(now).Seconds(); left > 0 {
				s.RemainingSeconds = left
			}
		}
		// Hard lockouts outrank cooldowns; among equals keep the newest.
		if best == nil || (s.Type == TypeHard && best.Type != TypeHard) {
			best = s
		}
	}
	return best, nil
}

func (m *Manager) expireCooldown(accountID, ruleID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row, err := m.store.GetLockout(ctx, accountID, ruleID)
	if err != nil {
		if err != store.ErrNotFound {
			m.log.Warn("cooldown expiry read failed",
				zap.String("account_id", accountID), zap.Error(err))
		}
		return
	}
	// A replacement lockout may have extended the window since this timer
	// was armed; let the newer record stand.
	if row.ExpiresAt != nil && row.ExpiresAt.After(m.now()) {
		return
	}
	if err := m.store.DeactivateLockout(ctx, accountID, ruleID); err != nil {
		m.log.Warn("cooldown expiry deactivate failed",
			zap.String("account_id", accountID), zap.Error(err))
		return
	}

	m.log.Info("cooldown expired",
		zap.String("account_id", accountID),
		zap.String("rule_id", ruleID))

	m.mu.Lock()
	fn := m.onUnlock
	m.mu.Unlock()
	if fn != nil {
		fn(accountID)
	}
}

func timerName(accountID, ruleID string) string {
	return "lockout:" + accountID + ":" + ruleID
}
