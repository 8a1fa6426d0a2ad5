package rules

import (
	"context"
	"fmt"

	"github.com/rustyeddy/riskd/engine"
	"github.com/rustyeddy/riskd/event"
)

// MaxContracts trims any position whose absolute size exceeds the configured
// cap back down to the cap.
type MaxContracts struct {
	maxSize int
}

func NewMaxContracts(maxSize int) *MaxContracts {
	return &MaxContracts{maxSize: maxSize}
}

func (r *MaxContracts) Name() string { return "max_contracts" }

func (r *MaxContracts) Evaluate(_ context.Context, ev event.RiskEvent, rctx *engine.Context) (*engine.Violation, error) {
	if r.maxSize <= 0 {
		return nil, nil
	}
	if ev.Type != event.PositionOpened && ev.Type != event.PositionUpdated {
		return nil, nil
	}

	symbol, err := ev.String("symbol")
	if err != nil {
		return nil, err
	}
	pos, ok := rctx.Position(symbol)
	if !ok {
		return nil, nil
	}

	size := pos.Size
	if size < 0 {
		size = -size
	}
	if size <= r.maxSize {
		return nil, nil
	}

	return &engine.Violation{
		Action:     engine.ActionReduceToLimit,
		Message:    fmt.Sprintf("position %s size %d exceeds max %d", symbol, pos.Size, r.maxSize),
		Limit:      float64(r.maxSize),
		Current:    float64(pos.Size),
		Symbol:     symbol,
		ContractID: pos.ContractID,
		TargetSize: r.maxSize,
	}, nil
}

func (r *MaxContracts) Enforce(context.Context, string, engine.Violation, *engine.Context) error {
	return nil
}
