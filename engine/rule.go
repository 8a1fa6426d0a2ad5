package engine

import (
	"context"
	"sync"

	"github.com/rustyeddy/riskd/event"
	"github.com/rustyeddy/riskd/lockout"
	"github.com/rustyeddy/riskd/pnl"
	"github.com/rustyeddy/riskd/timer"
)

// Rule is one unit of policy. Evaluate reads the event and the rule context
// and returns a violation or nil; "no violation" is never an error. Errors
// are reserved for genuinely exceptional conditions (missing event fields,
// unknown instrument economics) and are isolated per rule by the engine.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, e event.RiskEvent, rctx *Context) (*Violation, error)
	Enforce(ctx context.Context, accountID string, v Violation, rctx *Context) error
}

// Position is the engine's view of one open position.
type Position struct {
	Symbol     string
	ContractID string
	Size       int
	AvgPrice   float64
}

// Context is the narrow capability surface handed to rules: the three state
// managers plus position and price snapshots. Rules get this instead of the
// engine itself so no rule grows a back-reference to the orchestrator.
type Context struct {
	Timers   *timer.Registry
	Lockouts *lockout.Manager
	PnL      *pnl.Tracker

	mu        sync.RWMutex
	positions map[string]Position
	prices    map[string]float64
}

func NewContext(timers *timer.Registry, lockouts *lockout.Manager, tracker *pnl.Tracker) *Context {
	return &Context{
		Timers:    timers,
		Lockouts:  lockouts,
		PnL:       tracker,
		positions: make(map[string]Position),
		prices:    make(map[string]float64),
	}
}

// Position returns the tracked position for a symbol.
func (c *Context) Position(symbol string) (Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[symbol]
	return p, ok
}

// Positions returns a snapshot of every tracked position.
func (c *Context) Positions() []Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, p)
	}
	return out
}

// Price returns the last observed price for a symbol, zero when unseen.
func (c *Context) Price(symbol string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prices[symbol]
}

// SetPosition updates the tracked position; size zero removes it.
func (c *Context) SetPosition(p Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.Size == 0 {
		delete(c.positions, p.Symbol)
		return
	}
	c.positions[p.Symbol] = p
}

// SetPrice records the last observed price for a symbol.
func (c *Context) SetPrice(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = price
}
