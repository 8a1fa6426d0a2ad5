// Package broker defines the enforcement side of the risk engine. The
// connectivity layer implements Enforcer against the real venue; the engine
// only ever sees this interface.
package broker

import (
	"context"

	"go.uber.org/zap"
)

// Enforcer executes corrective actions against the account. Implementations
// return an error for broker-side failures rather than panicking; the engine
// reports failures and retries on the next qualifying event.
type Enforcer interface {
	ClosePosition(ctx context.Context, symbol string, contractID string) error
	FlattenAll(ctx context.Context) error
	ReducePositionToLimit(ctx context.Context, symbol string, contractID string, targetSize int) error
	CancelAllOrders(ctx context.Context) error
}

// Nop logs requested actions without touching any venue. Useful for dry runs
// and as the default when no connectivity layer is wired.
type Nop struct {
	Log *zap.Logger
}

func (n Nop) logger() *zap.Logger {
	if n.Log == nil {
		return zap.NewNop()
	}
	return n.Log
}

func (n Nop) ClosePosition(_ context.Context, symbol, contractID string) error {
	n.logger().Info("dry-run: close position",
		zap.String("symbol", symbol), zap.String("contract_id", contractID))
	return nil
}

func (n Nop) FlattenAll(_ context.Context) error {
	n.logger().Info("dry-run: flatten all")
	return nil
}

func (n Nop) ReducePositionToLimit(_ context.Context, symbol, contractID string, targetSize int) error {
	n.logger().Info("dry-run: reduce position",
		zap.String("symbol", symbol),
		zap.String("contract_id", contractID),
		zap.Int("target_size", targetSize))
	return nil
}

func (n Nop) CancelAllOrders(_ context.Context) error {
	n.logger().Info("dry-run: cancel all orders")
	return nil
}
