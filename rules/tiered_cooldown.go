package rules

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rustyeddy/riskd/engine"
	"github.com/rustyeddy/riskd/event"
)

// CooldownTier pairs a per-trade loss threshold (negative) with the cooldown
// served when a single trade's loss reaches it.
type CooldownTier struct {
	LossThreshold float64
	Cooldown      time.Duration
}

// TieredCooldown records each closed trade's realized P&L into the daily
// tracker and serves an escalating cooldown when one trade's loss crosses a
// configured tier. The deepest crossed tier wins.
type TieredCooldown struct {
	tiers       []CooldownTier
	instruments Instruments
}

func NewTieredCooldown(tiers []CooldownTier, instruments Instruments) *TieredCooldown {
	sorted := make([]CooldownTier, len(tiers))
	copy(sorted, tiers)
	// Deepest loss first so the first match is the most severe tier.
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LossThreshold < sorted[j].LossThreshold
	})
	return &TieredCooldown{tiers: sorted, instruments: instruments}
}

func (r *TieredCooldown) Name() string { return "tiered_cooldown" }

func (r *TieredCooldown) Evaluate(ctx context.Context, ev event.RiskEvent, rctx *engine.Context) (*engine.Violation, error) {
	if ev.Type != event.TradeClosed {
		return nil, nil
	}

	pnl, err := realizedPnL(ev, r.instruments)
	if err != nil {
		return nil, err
	}

	// Legitimate manager write: the tracker's running sum is this rule's job
	// to keep current, violation or not.
	if err := rctx.PnL.AddTradePnL(ctx, ev.AccountID, pnl); err != nil {
		return nil, fmt.Errorf("record trade pnl: %w", err)
	}

	for _, tier := range r.tiers {
		if pnl <= tier.LossThreshold {
			return &engine.Violation{
				Action:           engine.ActionCooldown,
				Message:          fmt.Sprintf("trade loss %.2f breached tier %.2f, cooling down %s", pnl, tier.LossThreshold, tier.Cooldown),
				Limit:            tier.LossThreshold,
				Current:          pnl,
				CooldownDuration: tier.Cooldown,
			}, nil
		}
	}
	return nil, nil
}

func (r *TieredCooldown) Enforce(context.Context, string, engine.Violation, *engine.Context) error {
	// The engine's cooldown commit is the whole enforcement.
	return nil
}
