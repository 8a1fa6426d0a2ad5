package rules

import (
	"context"
	"fmt"

	"github.com/rustyeddy/riskd/engine"
	"github.com/rustyeddy/riskd/event"
)

// TradeFrequency blocks further entries once the account has closed the
// configured number of trades in one day. Overtrading guard, cleared at the
// daily reset.
type TradeFrequency struct {
	maxTrades int
}

func NewTradeFrequency(maxTrades int) *TradeFrequency {
	return &TradeFrequency{maxTrades: maxTrades}
}

func (r *TradeFrequency) Name() string { return "trade_frequency" }

func (r *TradeFrequency) Evaluate(ctx context.Context, ev event.RiskEvent, rctx *engine.Context) (*engine.Violation, error) {
	if ev.Type != event.TradeClosed || r.maxTrades <= 0 {
		return nil, nil
	}

	count, err := rctx.PnL.TradeCount(ctx, ev.AccountID)
	if err != nil {
		return nil, fmt.Errorf("read trade count: %w", err)
	}
	if count < r.maxTrades {
		return nil, nil
	}

	return &engine.Violation{
		Action:  engine.ActionBlock,
		Message: fmt.Sprintf("trade count %d reached daily max %d", count, r.maxTrades),
		Limit:   float64(r.maxTrades),
		Current: float64(count),
	}, nil
}

func (r *TradeFrequency) Enforce(context.Context, string, engine.Violation, *engine.Context) error {
	return nil
}
