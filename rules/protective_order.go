package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/riskd/engine"
	"github.com/rustyeddy/riskd/event"
)

// ProtectiveOrder grants a grace period after a position opens for a
// protective (stop) order to appear. The window lives in the timer registry;
// when it expires without a protective order the position is closed on the
// next evaluation pass.
type ProtectiveOrder struct {
	grace time.Duration

	mu      sync.Mutex
	overdue map[string]engine.Position // symbol -> position at expiry
}

func NewProtectiveOrder(grace time.Duration) *ProtectiveOrder {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &ProtectiveOrder{
		grace:   grace,
		overdue: make(map[string]engine.Position),
	}
}

func (r *ProtectiveOrder) Name() string { return "protective_order" }

func (r *ProtectiveOrder) timerName(accountID, symbol string) string {
	return "grace:" + accountID + ":" + symbol
}

func (r *ProtectiveOrder) Evaluate(_ context.Context, ev event.RiskEvent, rctx *engine.Context) (*engine.Violation, error) {
	switch ev.Type {
	case event.PositionOpened:
		symbol, err := ev.String("symbol")
		if err != nil {
			return nil, err
		}
		name := r.timerName(ev.AccountID, symbol)
		err = rctx.Timers.Start(name, r.grace, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if pos, ok := rctx.Position(symbol); ok {
				r.overdue[symbol] = pos
			}
		})
		if err != nil {
			return nil, fmt.Errorf("start grace timer: %w", err)
		}

	case event.OrderPlaced:
		purpose, _ := ev.String("purpose")
		if purpose != "protective" {
			break
		}
		symbol, err := ev.String("symbol")
		if err != nil {
			return nil, err
		}
		rctx.Timers.Cancel(r.timerName(ev.AccountID, symbol))
		r.mu.Lock()
		delete(r.overdue, symbol)
		r.mu.Unlock()

	case event.PositionClosed:
		if symbol, err := ev.String("symbol"); err == nil {
			rctx.Timers.Cancel(r.timerName(ev.AccountID, symbol))
			r.mu.Lock()
			delete(r.overdue, symbol)
			r.mu.Unlock()
		}
	}

	// Any event may carry us past an expired grace window.
	r.mu.Lock()
	defer r.mu.Unlock()
	for symbol, pos := range r.overdue {
		if _, ok := rctx.Position(symbol); !ok {
			delete(r.overdue, symbol)
			continue
		}
		return &engine.Violation{
			Action:     engine.ActionClosePosition,
			Message:    fmt.Sprintf("no protective order for %s within %s of open", symbol, r.grace),
			Symbol:     symbol,
			ContractID: pos.ContractID,
		}, nil
	}
	return nil, nil
}

// Enforce clears the tracked breach once the close has been dispatched so
// the same expiry does not fire twice.
func (r *ProtectiveOrder) Enforce(_ context.Context, _ string, v engine.Violation, _ *engine.Context) error {
	r.mu.Lock()
	delete(r.overdue, v.Symbol)
	r.mu.Unlock()
	return nil
}
