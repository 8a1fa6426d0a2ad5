// Package rules holds the concrete policies evaluated by the risk engine.
// Each rule is registered at startup; instrument economics arrive as an
// injected table, never as package-level state.
package rules

import (
	"fmt"

	"github.com/rustyeddy/riskd/event"
)

// InstrumentSpec carries the economics needed to turn tick moves into cash.
type InstrumentSpec struct {
	TickSize  float64
	TickValue float64
}

// Instruments maps symbol to its economics. Injected into the rules that
// need it at construction time.
type Instruments map[string]InstrumentSpec

// realizedPnL extracts a trade's realized P&L from the event, falling back
// to tick arithmetic when the venue only reports ticks. Unknown instrument
// economics is a loud boundary failure, never a silent zero.
func realizedPnL(ev event.RiskEvent, specs Instruments) (float64, error) {
	if _, ok := ev.Payload["pnl"]; ok {
		return ev.Float("pnl")
	}

	ticks, err := ev.Float("ticks")
	if err != nil {
		return 0, fmt.Errorf("trade event carries neither pnl nor ticks: %w", err)
	}
	symbol, err := ev.String("symbol")
	if err != nil {
		return 0, err
	}
	spec, ok := specs[symbol]
	if !ok {
		return 0, fmt.Errorf("no instrument economics for %q", symbol)
	}
	size, err := ev.Float("size")
	if err != nil {
		return 0, err
	}
	return ticks * spec.TickValue * size, nil
}
