package rules

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskd/broker"
	"github.com/rustyeddy/riskd/engine"
	"github.com/rustyeddy/riskd/event"
	"github.com/rustyeddy/riskd/lockout"
	"github.com/rustyeddy/riskd/pnl"
	"github.com/rustyeddy/riskd/store"
	"github.com/rustyeddy/riskd/timer"
)

type fixture struct {
	engine   *engine.Engine
	rctx     *engine.Context
	timers   *timer.Registry
	lockouts *lockout.Manager
	recorder *broker.Recorder
	now      time.Time
}

func newFixture(t *testing.T, rules ...engine.Rule) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "riskd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		timers:   timer.NewRegistry(nil),
		recorder: &broker.Recorder{},
		now:      time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC),
	}
	f.lockouts = lockout.NewManager(st, f.timers, nil)
	tracker := pnl.NewTracker(st, time.UTC, nil)
	f.rctx = engine.NewContext(f.timers, f.lockouts, tracker)

	f.setNow(f.now)

	f.engine = engine.New("ACC-1", f.rctx, f.recorder, nil, engine.Options{}, nil)
	for _, r := range rules {
		f.engine.Register(r)
	}
	return f
}

func (f *fixture) setNow(now time.Time) {
	f.now = now
	fn := func() time.Time { return now }
	f.timers.SetNowFn(fn)
	f.lockouts.SetNowFn(fn)
	f.rctx.PnL.SetNowFn(fn)
}

func (f *fixture) trade(t *testing.T, pnl float64) {
	t.Helper()
	f.engine.Process(context.Background(), event.RiskEvent{
		Type:      event.TradeClosed,
		Time:      f.now,
		AccountID: "ACC-1",
		Payload:   map[string]any{"pnl": pnl},
	})
}

func (f *fixture) position(t *testing.T, typ event.Type, symbol string, size int) {
	t.Helper()
	f.engine.Process(context.Background(), event.RiskEvent{
		Type:      typ,
		Time:      f.now,
		AccountID: "ACC-1",
		Payload:   map[string]any{"symbol": symbol, "size": size, "contract_id": "C-" + symbol},
	})
}

func TestRealizedPnLPrefersDirectField(t *testing.T) {
	t.Parallel()

	ev := event.RiskEvent{Type: event.TradeClosed, Payload: map[string]any{"pnl": -42.5, "ticks": 99.0}}
	got, err := realizedPnL(ev, nil)
	require.NoError(t, err)
	assert.Equal(t, -42.5, got)
}

func TestRealizedPnLTickFallback(t *testing.T) {
	t.Parallel()

	specs := Instruments{"ES": {TickSize: 0.25, TickValue: 12.5}}
	ev := event.RiskEvent{
		Type:    event.TradeClosed,
		Payload: map[string]any{"ticks": -8.0, "symbol": "ES", "size": 2},
	}
	got, err := realizedPnL(ev, specs)
	require.NoError(t, err)
	assert.Equal(t, -200.0, got, "-8 ticks x $12.50 x 2 contracts")
}

func TestRealizedPnLUnknownInstrument(t *testing.T) {
	t.Parallel()

	ev := event.RiskEvent{
		Type:    event.TradeClosed,
		Payload: map[string]any{"ticks": -8.0, "symbol": "CL", "size": 1},
	}
	_, err := realizedPnL(ev, Instruments{"ES": {TickSize: 0.25, TickValue: 12.5}})
	assert.ErrorContains(t, err, "CL")

	_, err = realizedPnL(event.RiskEvent{Type: event.TradeClosed, Payload: map[string]any{}}, nil)
	assert.Error(t, err, "neither pnl nor ticks present")
}

func TestTieredCooldownScenario(t *testing.T) {
	t.Parallel()

	rule := NewTieredCooldown([]CooldownTier{
		{LossThreshold: -100, Cooldown: 5 * time.Minute},
		{LossThreshold: -250, Cooldown: 30 * time.Minute},
	}, nil)
	f := newFixture(t, rule)
	ctx := context.Background()

	f.trade(t, -50)
	locked, err := f.lockouts.IsLockedOut(ctx, "ACC-1")
	require.NoError(t, err)
	assert.False(t, locked, "a $50 loss crosses no tier")

	f.trade(t, -150)
	locked, err = f.lockouts.IsLockedOut(ctx, "ACC-1")
	require.NoError(t, err)
	assert.True(t, locked)

	info, err := f.lockouts.Info(ctx, "ACC-1")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, lockout.TypeCooldown, info.Type)
	assert.InDelta(t, 300, info.RemainingSeconds, 1)

	// Both trades landed in the tracker regardless of the violation.
	day, err := f.rctx.PnL.DailyPnL(ctx, "ACC-1")
	require.NoError(t, err)
	assert.Equal(t, -200.0, day)
}

func TestTieredCooldownDeepestTierWins(t *testing.T) {
	t.Parallel()

	// Construction order is shallow-first to prove sorting, not config order,
	// decides the match.
	rule := NewTieredCooldown([]CooldownTier{
		{LossThreshold: -100, Cooldown: 5 * time.Minute},
		{LossThreshold: -250, Cooldown: 30 * time.Minute},
	}, nil)
	f := newFixture(t, rule)

	v, err := rule.Evaluate(context.Background(), event.RiskEvent{
		Type:      event.TradeClosed,
		AccountID: "ACC-1",
		Payload:   map[string]any{"pnl": -300.0},
	}, f.rctx)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, -250.0, v.Limit)
	assert.Equal(t, -300.0, v.Current)
	assert.Equal(t, 30*time.Minute, v.CooldownDuration)
}

func TestDailyLossLimitFlattensAndLocks(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		NewTieredCooldown(nil, nil), // keeps the tracker current
		NewDailyLossLimit(500),
	)
	ctx := context.Background()

	f.trade(t, -200)
	assert.Empty(t, f.recorder.Ops())

	f.trade(t, -350)
	assert.Equal(t, []string{"cancel_all_orders", "flatten_all"}, f.recorder.Ops())

	info, err := f.lockouts.Info(ctx, "ACC-1")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, lockout.TypeHard, info.Type)
	assert.Nil(t, info.ExpiresAt, "held until the scheduled reset clears it")
}

func TestMaxContractsReducesOversizedPosition(t *testing.T) {
	t.Parallel()

	f := newFixture(t, NewMaxContracts(5))

	f.position(t, event.PositionOpened, "ES", 3)
	assert.Empty(t, f.recorder.Calls)

	f.position(t, event.PositionUpdated, "ES", 7)
	require.Len(t, f.recorder.Calls, 1)
	assert.Equal(t, broker.Call{Op: "reduce_to_limit", Symbol: "ES", ContractID: "C-ES", TargetSize: 5}, f.recorder.Calls[0])
}

func TestMaxContractsCountsShortSize(t *testing.T) {
	t.Parallel()

	f := newFixture(t, NewMaxContracts(5))

	f.position(t, event.PositionOpened, "NQ", -9)
	require.Len(t, f.recorder.Calls, 1)
	assert.Equal(t, "reduce_to_limit", f.recorder.Calls[0].Op)
	assert.Equal(t, 5, f.recorder.Calls[0].TargetSize)
}

func TestTradeFrequencyBlocksAtMax(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		NewTieredCooldown(nil, nil),
		NewTradeFrequency(3),
	)
	ctx := context.Background()

	f.trade(t, 10)
	f.trade(t, -5)
	locked, err := f.lockouts.IsLockedOut(ctx, "ACC-1")
	require.NoError(t, err)
	assert.False(t, locked)

	f.trade(t, 20)
	locked, err = f.lockouts.IsLockedOut(ctx, "ACC-1")
	require.NoError(t, err)
	assert.True(t, locked, "third close reaches the cap")

	info, err := f.lockouts.Info(ctx, "ACC-1")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "trade_frequency", info.RuleID)
}

func TestProtectiveOrderClosesNakedPosition(t *testing.T) {
	t.Parallel()

	f := newFixture(t, NewProtectiveOrder(30*time.Second))

	f.position(t, event.PositionOpened, "ES", 2)
	assert.Empty(t, f.recorder.Calls)

	// Grace window elapses with no protective order.
	f.setNow(f.now.Add(31 * time.Second))
	f.timers.Sweep()

	// The breach surfaces on the next evaluation pass.
	f.engine.Process(context.Background(), event.RiskEvent{
		Type:      event.QuoteUpdated,
		Time:      f.now,
		AccountID: "ACC-1",
		Payload:   map[string]any{"symbol": "ES", "price": 5000.0},
	})
	require.Len(t, f.recorder.Calls, 1)
	assert.Equal(t, broker.Call{Op: "close_position", Symbol: "ES", ContractID: "C-ES"}, f.recorder.Calls[0])

	// Enforce cleared the breach; no duplicate close.
	f.engine.Process(context.Background(), event.RiskEvent{
		Type:      event.QuoteUpdated,
		Time:      f.now,
		AccountID: "ACC-1",
		Payload:   map[string]any{"symbol": "ES", "price": 5000.25},
	})
	assert.Len(t, f.recorder.Calls, 1)
}

func TestProtectiveOrderPlacedInTimeCancelsGrace(t *testing.T) {
	t.Parallel()

	f := newFixture(t, NewProtectiveOrder(30*time.Second))

	f.position(t, event.PositionOpened, "ES", 2)
	require.Equal(t, 1, f.timers.Len())

	f.engine.Process(context.Background(), event.RiskEvent{
		Type:      event.OrderPlaced,
		Time:      f.now,
		AccountID: "ACC-1",
		Payload:   map[string]any{"symbol": "ES", "purpose": "protective"},
	})
	assert.Equal(t, 0, f.timers.Len())

	f.setNow(f.now.Add(time.Minute))
	f.timers.Sweep()
	f.position(t, event.PositionUpdated, "ES", 2)
	assert.Empty(t, f.recorder.Calls)
}

func TestProtectiveOrderClosedPositionCancelsGrace(t *testing.T) {
	t.Parallel()

	f := newFixture(t, NewProtectiveOrder(30*time.Second))

	f.position(t, event.PositionOpened, "ES", 2)
	f.engine.Process(context.Background(), event.RiskEvent{
		Type:      event.PositionClosed,
		Time:      f.now,
		AccountID: "ACC-1",
		Payload:   map[string]any{"symbol": "ES"},
	})
	assert.Equal(t, 0, f.timers.Len())
}
