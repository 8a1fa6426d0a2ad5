// Package engine orchestrates rule evaluation over normalized account
// events: every registered rule runs in order, violations are arbitrated by
// action priority, and the winners drive enforcement and lockout state.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/riskd/broker"
	"github.com/rustyeddy/riskd/event"
	"github.com/rustyeddy/riskd/metrics"
	"github.com/rustyeddy/riskd/sched"
)

// Engine evaluates events against the registered rule set. Rules are fixed
// after Start; there is no mid-run reconfiguration.
type Engine struct {
	accountID string
	rules     []Rule
	rctx      *Context
	enforcer  broker.Enforcer
	scheduler *sched.Scheduler
	log       *zap.Logger

	// evalMu serializes event processing so no event is partially enforced.
	evalMu sync.Mutex

	timerInterval time.Duration
	sweepInterval time.Duration

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// Options tune background sweep cadence.
type Options struct {
	TimerInterval time.Duration // timer registry sweep, default 1s
	SweepInterval time.Duration // reset scheduler sweep, default 15s
}

func New(accountID string, rctx *Context, enforcer broker.Enforcer, scheduler *sched.Scheduler, opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if enforcer == nil {
		enforcer = broker.Nop{Log: log}
	}
	if opts.TimerInterval <= 0 {
		opts.TimerInterval = time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 15 * time.Second
	}
	return &Engine{
		accountID:     accountID,
		rctx:          rctx,
		enforcer:      enforcer,
		scheduler:     scheduler,
		log:           log,
		timerInterval: opts.TimerInterval,
		sweepInterval: opts.SweepInterval,
	}
}

// Register appends a rule; registration order is evaluation order.
func (e *Engine) Register(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		e.log.Warn("rule registered after start ignored", zap.String("rule", r.Name()))
		return
	}
	e.rules = append(e.rules, r)
}

// Context exposes the rule context (status reporting, tests).
func (e *Engine) Context() *Context { return e.rctx }

// Attach subscribes the engine to every event type on the bus.
func (e *Engine) Attach(bus *event.Bus) {
	types := []event.Type{
		event.TradeClosed, event.PositionOpened, event.PositionUpdated,
		event.PositionClosed, event.OrderPlaced, event.OrderFilled,
		event.QuoteUpdated,
	}
	for _, t := range types {
		bus.Subscribe(t, func(ev event.RiskEvent) error {
			e.Process(context.Background(), ev)
			return nil
		})
	}
}

// Start launches the timer and reset sweeps.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	if e.rctx.Timers != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.rctx.Timers.Run(e.timerInterval)
		}()
	}
	if e.scheduler != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.scheduler.Run(e.sweepInterval)
		}()
	}
	e.log.Info("risk engine started",
		zap.String("account_id", e.accountID),
		zap.Int("rules", len(e.rules)))
}

// Stop cancels the background sweeps and waits for any in-flight evaluation.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if e.scheduler != nil {
		e.scheduler.Stop()
	}
	if e.rctx.Timers != nil {
		e.rctx.Timers.Stop()
	}
	e.wg.Wait()

	// Let an in-flight Process finish before returning.
	e.evalMu.Lock()
	e.evalMu.Unlock() //nolint:staticcheck // empty critical section is the fence

	e.log.Info("risk engine stopped", zap.String("account_id", e.accountID))
}

// Process runs the full pipeline for one event: evaluate, arbitrate,
// enforce. Violations for the event are fully collected before any
// enforcement happens.
func (e *Engine) Process(ctx context.Context, ev event.RiskEvent) {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	start := time.Now()
	e.track(ev)

	violations := e.EvaluateRules(ctx, ev)
	for _, v := range e.Arbitrate(violations) {
		if err := e.HandleViolation(ctx, v); err != nil {
			e.log.Error("violation handling failed",
				zap.String("rule", v.RuleName),
				zap.String("action", string(v.Action)),
				zap.Error(err))
		}
	}
	metrics.ObserveEvalLatency(time.Since(start))
}

// track folds position and price events into the rule context before rules
// see them, so every rule observes the same snapshot.
func (e *Engine) track(ev event.RiskEvent) {
	switch ev.Type {
	case event.PositionOpened, event.PositionUpdated, event.PositionClosed:
		symbol, err := ev.String("symbol")
		if err != nil {
			e.log.Warn("position event missing symbol", zap.Error(err))
			return
		}
		size := 0
		if ev.Type != event.PositionClosed {
			if size, err = ev.Int("size"); err != nil {
				e.log.Warn("position event missing size", zap.Error(err))
				return
			}
		}
		contractID, _ := ev.String("contract_id")
		avg, _ := ev.Float("avg_price")
		e.rctx.SetPosition(Position{
			Symbol:     symbol,
			ContractID: contractID,
			Size:       size,
			AvgPrice:   avg,
		})
	case event.QuoteUpdated:
		symbol, err := ev.String("symbol")
		if err != nil {
			return
		}
		if price, err := ev.Float("price"); err == nil {
			e.rctx.SetPrice(symbol, price)
		}
	}
}

// EvaluateRules runs every rule in registration order. A rule returning an
// error is logged and skipped; the remaining rules still run.
func (e *Engine) EvaluateRules(ctx context.Context, ev event.RiskEvent) []Violation {
	var out []Violation
	for _, r := range e.rules {
		v, err := e.evaluate(ctx, r, ev)
		if err != nil {
			metrics.IncRuleFaults(r.Name())
			e.log.Error("rule evaluation fault",
				zap.String("rule", r.Name()),
				zap.String("event_type", string(ev.Type)),
				zap.Error(err))
			continue
		}
		if v != nil {
			if v.RuleName == "" {
				v.RuleName = r.Name()
			}
			if v.AccountID == "" {
				v.AccountID = ev.AccountID
			}
			metrics.IncViolations(v.RuleName, string(v.Action))
			out = append(out, *v)
		}
	}
	return out
}

func (e *Engine) evaluate(ctx context.Context, r Rule, ev event.RiskEvent) (v *Violation, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			v = nil
			err = fmt.Errorf("rule panic: %v", rec)
		}
	}()
	return r.Evaluate(ctx, ev, e.rctx)
}

// Arbitrate orders violations by action priority, most restrictive first.
// Equal priorities keep registration order and are all surfaced; nothing is
// merged or dropped.
func (e *Engine) Arbitrate(violations []Violation) []Violation {
	out := make([]Violation, len(violations))
	copy(out, violations)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Action.Priority() < out[j].Action.Priority()
	})
	return out
}

// HandleViolation enforces one violation and commits any implied lockout
// transition. Enforcement failures are reported and retried on the next
// qualifying event; a failed lockout commit propagates because an unenforced
// restriction is a safety problem.
func (e *Engine) HandleViolation(ctx context.Context, v Violation) error {
	e.log.Warn("violation",
		zap.String("rule", v.RuleName),
		zap.String("action", string(v.Action)),
		zap.String("account_id", v.AccountID),
		zap.String("message", v.Message))

	if err := e.enforce(ctx, v); err != nil {
		metrics.IncEnforcementFailures(string(v.Action))
		e.log.Error("enforcement call failed",
			zap.String("action", string(v.Action)),
			zap.Error(err))
	}

	if err := e.commitRestriction(ctx, v); err != nil {
		return err
	}

	// Rule-specific follow-up (grace-timer bookkeeping and the like).
	for _, r := range e.rules {
		if r.Name() != v.RuleName {
			continue
		}
		if err := r.Enforce(ctx, v.AccountID, v, e.rctx); err != nil {
			e.log.Error("rule enforce hook failed",
				zap.String("rule", r.Name()),
				zap.Error(err))
		}
		break
	}
	return nil
}

func (e *Engine) enforce(ctx context.Context, v Violation) error {
	switch v.Action {
	case ActionFlatten:
		if err := e.enforcer.CancelAllOrders(ctx); err != nil {
			return fmt.Errorf("cancel orders: %w", err)
		}
		return e.enforcer.FlattenAll(ctx)
	case ActionReduceToLimit:
		return e.enforcer.ReducePositionToLimit(ctx, v.Symbol, v.ContractID, v.TargetSize)
	case ActionClosePosition:
		return e.enforcer.ClosePosition(ctx, v.Symbol, v.ContractID)
	case ActionCooldown, ActionBlock:
		// Restriction-only actions; no broker call.
		return nil
	}
	return fmt.Errorf("unknown action %q", v.Action)
}

func (e *Engine) commitRestriction(ctx context.Context, v Violation) error {
	if e.rctx.Lockouts == nil {
		return nil
	}
	switch v.Action {
	case ActionCooldown:
		if v.CooldownDuration <= 0 {
			return fmt.Errorf("cooldown violation from %s without duration", v.RuleName)
		}
		if err := e.rctx.Lockouts.SetCooldown(ctx, v.AccountID, v.RuleName, v.CooldownDuration, v.Message); err != nil {
			return err
		}
		metrics.SetLockedOut(v.AccountID, true)
	case ActionBlock:
		if err := e.rctx.Lockouts.SetLockout(ctx, v.AccountID, v.RuleName, v.Message, v.LockUntil); err != nil {
			return err
		}
		metrics.SetLockedOut(v.AccountID, true)
	case ActionFlatten:
		// Flatten on its own is a position correction; it restricts the
		// account only when the rule asked for a lock as well.
		if !v.HardLock && v.LockUntil == nil {
			return nil
		}
		if err := e.rctx.Lockouts.SetLockout(ctx, v.AccountID, v.RuleName, v.Message, v.LockUntil); err != nil {
			return err
		}
		metrics.SetLockedOut(v.AccountID, true)
	}
	return nil
}
