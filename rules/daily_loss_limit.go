package rules

import (
	"context"
	"fmt"

	"github.com/rustyeddy/riskd/engine"
	"github.com/rustyeddy/riskd/event"
)

// DailyLossLimit flattens the account and locks it for the rest of the
// trading day once realized daily losses reach the cap. The lockout is
// indefinite; the scheduled reset clears it at the next boundary.
type DailyLossLimit struct {
	limit float64 // positive cash amount
}

func NewDailyLossLimit(limit float64) *DailyLossLimit {
	return &DailyLossLimit{limit: limit}
}

func (r *DailyLossLimit) Name() string { return "daily_loss_limit" }

func (r *DailyLossLimit) Evaluate(ctx context.Context, ev event.RiskEvent, rctx *engine.Context) (*engine.Violation, error) {
	if ev.Type != event.TradeClosed || r.limit <= 0 {
		return nil, nil
	}

	day, err := rctx.PnL.DailyPnL(ctx, ev.AccountID)
	if err != nil {
		return nil, fmt.Errorf("read daily pnl: %w", err)
	}
	if day > -r.limit {
		return nil, nil
	}

	return &engine.Violation{
		Action:   engine.ActionFlatten,
		Message:  fmt.Sprintf("daily realized pnl %.2f breached loss limit -%.2f", day, r.limit),
		Limit:    -r.limit,
		Current:  day,
		HardLock: true,
	}, nil
}

func (r *DailyLossLimit) Enforce(context.Context, string, engine.Violation, *engine.Context) error {
	return nil
}
