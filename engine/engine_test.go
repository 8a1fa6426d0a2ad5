package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskd/broker"
	"github.com/rustyeddy/riskd/event"
	"github.com/rustyeddy/riskd/lockout"
	"github.com/rustyeddy/riskd/pnl"
	"github.com/rustyeddy/riskd/store"
	"github.com/rustyeddy/riskd/timer"
)

type stubRule struct {
	name     string
	evaluate func(ctx context.Context, ev event.RiskEvent, rctx *Context) (*Violation, error)
	enforced int
}

func (s *stubRule) Name() string { return s.name }

func (s *stubRule) Evaluate(ctx context.Context, ev event.RiskEvent, rctx *Context) (*Violation, error) {
	if s.evaluate == nil {
		return nil, nil
	}
	return s.evaluate(ctx, ev, rctx)
}

func (s *stubRule) Enforce(context.Context, string, Violation, *Context) error {
	s.enforced++
	return nil
}

func newTestEngine(t *testing.T, rec *broker.Recorder, rules ...Rule) (*Engine, *Context) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "riskd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	timers := timer.NewRegistry(nil)
	lockouts := lockout.NewManager(st, timers, nil)
	tracker := pnl.NewTracker(st, time.UTC, nil)
	rctx := NewContext(timers, lockouts, tracker)

	var enf broker.Enforcer
	if rec != nil {
		enf = rec
	}
	e := New("ACC-1", rctx, enf, nil, Options{}, nil)
	for _, r := range rules {
		e.Register(r)
	}
	return e, rctx
}

func tradeEvent(pnl float64) event.RiskEvent {
	return event.RiskEvent{
		Type:      event.TradeClosed,
		Time:      time.Now().UTC(),
		AccountID: "ACC-1",
		Payload:   map[string]any{"pnl": pnl},
	}
}

func TestArbitratePriorityOrder(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, nil)

	in := []Violation{
		{RuleName: "a", Action: ActionCooldown},
		{RuleName: "b", Action: ActionFlatten},
		{RuleName: "c", Action: ActionBlock},
	}
	out := e.Arbitrate(in)

	require.Len(t, out, 3)
	assert.Equal(t, ActionFlatten, out[0].Action, "flatten outranks everything")
	assert.Equal(t, ActionCooldown, out[1].Action)
	assert.Equal(t, ActionBlock, out[2].Action)
}

func TestArbitrateKeepsEqualPriorities(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, nil)

	in := []Violation{
		{RuleName: "first", Action: ActionFlatten},
		{RuleName: "second", Action: ActionFlatten},
	}
	out := e.Arbitrate(in)

	require.Len(t, out, 2, "equal priorities are both surfaced, never merged")
	assert.Equal(t, "first", out[0].RuleName, "registration order among equals")
	assert.Equal(t, "second", out[1].RuleName)
}

func TestEvaluateRulesIsolatesFaults(t *testing.T) {
	t.Parallel()

	faulty := &stubRule{
		name: "faulty",
		evaluate: func(context.Context, event.RiskEvent, *Context) (*Violation, error) {
			return nil, errors.New("missing instrument economics")
		},
	}
	panicky := &stubRule{
		name: "panicky",
		evaluate: func(context.Context, event.RiskEvent, *Context) (*Violation, error) {
			panic("unexpected payload")
		},
	}
	healthy := &stubRule{
		name: "healthy",
		evaluate: func(context.Context, event.RiskEvent, *Context) (*Violation, error) {
			return &Violation{Action: ActionBlock, Message: "limit"}, nil
		},
	}

	e, _ := newTestEngine(t, nil, faulty, panicky, healthy)
	out := e.EvaluateRules(context.Background(), tradeEvent(-10))

	require.Len(t, out, 1, "faulting rules are skipped, not fatal")
	assert.Equal(t, "healthy", out[0].RuleName)
	assert.Equal(t, "ACC-1", out[0].AccountID, "account inherited from the event")
}

func TestFlattenEnforcementCancelsOrdersFirst(t *testing.T) {
	t.Parallel()

	rec := &broker.Recorder{}
	rule := &stubRule{
		name: "daily_loss_limit",
		evaluate: func(context.Context, event.RiskEvent, *Context) (*Violation, error) {
			return &Violation{Action: ActionFlatten, Message: "cap", HardLock: true}, nil
		},
	}

	e, rctx := newTestEngine(t, rec, rule)
	e.Process(context.Background(), tradeEvent(-500))

	assert.Equal(t, []string{"cancel_all_orders", "flatten_all"}, rec.Ops())
	assert.Equal(t, 1, rule.enforced, "rule's own enforce hook runs")

	locked, err := rctx.Lockouts.IsLockedOut(context.Background(), "ACC-1")
	require.NoError(t, err)
	assert.True(t, locked, "hard-lock flatten also restricts the account")
}

func TestReduceViolationCarriesTarget(t *testing.T) {
	t.Parallel()

	rec := &broker.Recorder{}
	rule := &stubRule{
		name: "max_contracts",
		evaluate: func(context.Context, event.RiskEvent, *Context) (*Violation, error) {
			return &Violation{
				Action:     ActionReduceToLimit,
				Symbol:     "ES",
				ContractID: "C1",
				TargetSize: 5,
			}, nil
		},
	}

	e, _ := newTestEngine(t, rec, rule)
	e.Process(context.Background(), tradeEvent(0))

	require.Len(t, rec.Calls, 1)
	assert.Equal(t, broker.Call{Op: "reduce_to_limit", Symbol: "ES", ContractID: "C1", TargetSize: 5}, rec.Calls[0])
}

func TestEnforcementFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	rec := &broker.Recorder{Fail: errors.New("venue rejected")}
	rule := &stubRule{
		name: "protective_order",
		evaluate: func(context.Context, event.RiskEvent, *Context) (*Violation, error) {
			return &Violation{Action: ActionClosePosition, Symbol: "ES"}, nil
		},
	}

	e, _ := newTestEngine(t, rec, rule)
	e.Process(context.Background(), tradeEvent(0))
	// A second qualifying event retries the same enforcement.
	e.Process(context.Background(), tradeEvent(0))

	assert.Len(t, rec.Calls, 2)
}

func TestCooldownViolationNeedsDuration(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, nil)
	err := e.HandleViolation(context.Background(), Violation{
		RuleName:  "bad",
		AccountID: "ACC-1",
		Action:    ActionCooldown,
	})
	assert.Error(t, err, "a cooldown without a duration cannot be committed")
}

func TestTrackFoldsPositionsAndPrices(t *testing.T) {
	t.Parallel()

	e, rctx := newTestEngine(t, nil)

	e.Process(context.Background(), event.RiskEvent{
		Type:      event.PositionOpened,
		AccountID: "ACC-1",
		Payload:   map[string]any{"symbol": "ES", "size": 3, "contract_id": "C1", "avg_price": 5000.25},
	})
	e.Process(context.Background(), event.RiskEvent{
		Type:      event.QuoteUpdated,
		AccountID: "ACC-1",
		Payload:   map[string]any{"symbol": "ES", "price": 5001.0},
	})

	pos, ok := rctx.Position("ES")
	require.True(t, ok)
	assert.Equal(t, 3, pos.Size)
	assert.Equal(t, 5001.0, rctx.Price("ES"))

	e.Process(context.Background(), event.RiskEvent{
		Type:      event.PositionClosed,
		AccountID: "ACC-1",
		Payload:   map[string]any{"symbol": "ES"},
	})
	_, ok = rctx.Position("ES")
	assert.False(t, ok)
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, nil)
	e.Start()
	e.Stop()
	e.Stop() // second Stop is a no-op
}
