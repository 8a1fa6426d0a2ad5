package broker

import (
	"context"
	"fmt"
	"sync"
)

// Call is one recorded enforcement action.
type Call struct {
	Op         string
	Symbol     string
	ContractID string
	TargetSize int
}

// Recorder captures enforcement calls for assertions. Fail, when set, is
// returned from every call to exercise failure paths.
type Recorder struct {
	mu    sync.Mutex
	Calls []Call
	Fail  error
}

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, c)
	return r.Fail
}

// Ops returns the recorded operation names in order.
func (r *Recorder) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		out[i] = c.Op
	}
	return out
}

func (r *Recorder) ClosePosition(_ context.Context, symbol, contractID string) error {
	return r.record(Call{Op: "close_position", Symbol: symbol, ContractID: contractID})
}

func (r *Recorder) FlattenAll(_ context.Context) error {
	return r.record(Call{Op: "flatten_all"})
}

func (r *Recorder) ReducePositionToLimit(_ context.Context, symbol, contractID string, targetSize int) error {
	if targetSize < 0 {
		return fmt.Errorf("reduce position: negative target size %d", targetSize)
	}
	return r.record(Call{Op: "reduce_to_limit", Symbol: symbol, ContractID: contractID, TargetSize: targetSize})
}

func (r *Recorder) CancelAllOrders(_ context.Context) error {
	return r.record(Call{Op: "cancel_all_orders"})
}
