// Package timer provides named in-memory countdown timers. Handles are not
// persisted: anything that must survive a restart belongs in the store, and
// timers only exist to fire callbacks promptly while the process is alive.
package timer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNegativeDuration = errors.New("timer: negative duration")
	ErrNilCallback      = errors.New("timer: nil callback")
)

// Callback runs when a timer expires. Callbacks run on the sweep goroutine;
// long work should be handed off by the callback itself.
type Callback func()

type handle struct {
	name      string
	duration  time.Duration
	expiresAt time.Time
	fn        Callback
}

// Registry tracks named countdown timers and fires each exactly once from a
// background sweep. Starting a timer under an existing name replaces it.
type Registry struct {
	mu      sync.Mutex
	timers  map[string]*handle
	nowFn   func() time.Time
	log     *zap.Logger
	stop    chan struct{}
	done    chan struct{}
	started bool
}

func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		timers: make(map[string]*handle),
		nowFn:  time.Now,
		log:    log,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// SetNowFn overrides the clock (tests).
func (r *Registry) SetNowFn(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		fn = time.Now
	}
	r.nowFn = fn
}

func (r *Registry) now() time.Time {
	return r.nowFn()
}

// Start registers a timer. A zero duration runs the callback synchronously
// before returning, so callers never special-case "already due".
func (r *Registry) Start(name string, d time.Duration, fn Callback) error {
	if d < 0 {
		return fmt.Errorf("start timer %q: %w", name, ErrNegativeDuration)
	}
	if fn == nil {
		return fmt.Errorf("start timer %q: %w", name, ErrNilCallback)
	}

	if d == 0 {
		r.invoke(name, fn)
		return nil
	}

	r.mu.Lock()
	r.timers[name] = &handle{
		name:      name,
		duration:  d,
		expiresAt: r.nowFn().Add(d),
		fn:        fn,
	}
	r.mu.Unlock()
	return nil
}

// Cancel removes a timer without firing it. Unknown names are a no-op.
func (r *Registry) Cancel(name string) {
	r.mu.Lock()
	delete(r.timers, name)
	r.mu.Unlock()
}

// Remaining reports time until expiry, zero for unknown or already-due timers.
func (r *Registry) Remaining(name string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.timers[name]
	if !ok {
		return 0
	}
	left := h.expiresAt.Sub(r.nowFn())
	if left < 0 {
		return 0
	}
	return left
}

// Len reports the number of pending timers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Run starts the background sweep and blocks until Stop is called. interval
// defaults to one second.
func (r *Registry) Run(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}

	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	defer close(r.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Stop asks the sweep loop to exit and waits for it.
func (r *Registry) Stop() {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()

	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	if started {
		<-r.done
	}
}

// Sweep fires every timer whose expiry has passed, removing each entry
// unconditionally so a faulty callback cannot wedge the registry. Exposed so
// tests can drive the clock without the background loop.
func (r *Registry) Sweep() {
	now := r.now()

	r.mu.Lock()
	var due []*handle
	for name, h := range r.timers {
		if !h.expiresAt.After(now) {
			due = append(due, h)
			delete(r.timers, name)
		}
	}
	r.mu.Unlock()

	for _, h := range due {
		r.invoke(h.name, h.fn)
	}
}

func (r *Registry) invoke(name string, fn Callback) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("timer callback panicked",
				zap.String("timer", name),
				zap.Any("panic", rec))
		}
	}()
	fn()
}
