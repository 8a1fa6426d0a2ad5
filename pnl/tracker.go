// Package pnl accumulates realized profit/loss per account per calendar day.
// Every update is a durable transaction so the running sum is exact across
// restarts.
package pnl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/riskd/store"
)

// DayKey formats a calendar day the way the store keys it.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}

// Tracker owns the daily_pnl table through the store's typed methods.
type Tracker struct {
	store *store.Store
	loc   *time.Location
	log   *zap.Logger

	mu    sync.Mutex
	nowFn func() time.Time
}

// NewTracker keys trading days in loc (nil means UTC); the account's
// configured timezone decides when "today" rolls over.
func NewTracker(st *store.Store, loc *time.Location, log *zap.Logger) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		store: st,
		loc:   loc,
		log:   log,
		nowFn: time.Now,
	}
}

// SetNowFn overrides the clock (tests).
func (t *Tracker) SetNowFn(fn func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fn == nil {
		fn = time.Now
	}
	t.nowFn = fn
}

func (t *Tracker) now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nowFn()
}

// AddTradePnL folds one realized trade result into today's accumulator.
// The first trade of the day creates the row with a count of one.
func (t *Tracker) AddTradePnL(ctx context.Context, accountID string, pnl float64) error {
	now := t.now()
	return t.AddTradePnLOn(ctx, accountID, pnl, DayKey(now, t.loc))
}

// AddTradePnLOn is AddTradePnL for an explicit day key (backfill, tests).
func (t *Tracker) AddTradePnLOn(ctx context.Context, accountID string, pnl float64, day string) error {
	if accountID == "" {
		return errors.New("add trade pnl: empty account id")
	}
	if err := t.store.AddTradePnL(ctx, accountID, day, pnl, t.now()); err != nil {
		return err
	}
	t.log.Debug("trade pnl recorded",
		zap.String("account_id", accountID),
		zap.String("date", day),
		zap.Float64("pnl", pnl))
	return nil
}

// DailyPnL returns today's realized P&L, zero when the account has not traded.
// "Never traded" and "net zero" are indistinguishable by design.
func (t *Tracker) DailyPnL(ctx context.Context, accountID string) (float64, error) {
	row, err := t.store.GetDayPnL(ctx, accountID, DayKey(t.now(), t.loc))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.RealizedPnL, nil
}

// TradeCount returns today's trade count, zero default.
func (t *Tracker) TradeCount(ctx context.Context, accountID string) (int, error) {
	row, err := t.store.GetDayPnL(ctx, accountID, DayKey(t.now(), t.loc))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.TradeCount, nil
}

// Day returns the accumulator row for an explicit day key, zero-valued when
// absent.
func (t *Tracker) Day(ctx context.Context, accountID, day string) (store.PnLRow, error) {
	row, err := t.store.GetDayPnL(ctx, accountID, day)
	if errors.Is(err, store.ErrNotFound) {
		return store.PnLRow{AccountID: accountID, Date: day}, nil
	}
	return row, err
}

// ResetDaily zeroes today's accumulator in place, keeping the row.
func (t *Tracker) ResetDaily(ctx context.Context, accountID string) error {
	day := DayKey(t.now(), t.loc)
	if err := t.store.ResetDayPnL(ctx, accountID, day, t.now()); err != nil {
		return fmt.Errorf("reset daily pnl: %w", err)
	}
	t.log.Info("daily pnl reset",
		zap.String("account_id", accountID),
		zap.String("date", day))
	return nil
}
