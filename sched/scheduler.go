// Package sched computes timezone-aware daily and weekly reset boundaries
// and triggers the reset sequence exactly once per boundary. Schedules live
// in memory and are re-registered from configuration at startup; the reset
// audit log in the store is what makes triggering idempotent.
package sched

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/riskd/lockout"
	"github.com/rustyeddy/riskd/metrics"
	"github.com/rustyeddy/riskd/pnl"
	"github.com/rustyeddy/riskd/store"
)

const (
	ResetDaily  = "daily"
	ResetWeekly = "weekly"
)

// Schedule is one registered reset boundary rule for an account.
type Schedule struct {
	AccountID string
	Type      string // ResetDaily or ResetWeekly
	Hour      int
	Minute    int
	Weekday   time.Weekday // weekly only
	Location  *time.Location

	next time.Time // next boundary, UTC
}

// Scheduler sweeps registered schedules and fires resets at their
// boundaries. All boundary arithmetic happens in the schedule's location so
// daylight-saving shifts move the UTC instant, never the local trigger time.
type Scheduler struct {
	store    *store.Store
	tracker  *pnl.Tracker
	lockouts *lockout.Manager
	log      *zap.Logger

	mu        sync.Mutex
	schedules []*Schedule
	nowFn     func() time.Time

	stop    chan struct{}
	done    chan struct{}
	started bool
}

func New(st *store.Store, tracker *pnl.Tracker, lockouts *lockout.Manager, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		store:    st,
		tracker:  tracker,
		lockouts: lockouts,
		log:      log,
		nowFn:    time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetNowFn overrides the clock (tests).
func (s *Scheduler) SetNowFn(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = time.Now
	}
	s.nowFn = fn
}

func (s *Scheduler) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowFn()
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(tod string) (hour, minute int, err error) {
	parts := strings.Split(tod, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time of day %q: want HH:MM", tod)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time of day %q: bad hour", tod)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time of day %q: bad minute", tod)
	}
	return hour, minute, nil
}

// ScheduleDailyReset registers a daily boundary at tod local time in loc.
func (s *Scheduler) ScheduleDailyReset(accountID, tod string, loc *time.Location) error {
	hour, minute, err := ParseTimeOfDay(tod)
	if err != nil {
		return fmt.Errorf("schedule daily reset %s: %w", accountID, err)
	}
	s.register(&Schedule{
		AccountID: accountID,
		Type:      ResetDaily,
		Hour:      hour,
		Minute:    minute,
		Location:  orUTC(loc),
	})
	return nil
}

// ScheduleWeeklyReset registers a weekly boundary on day at tod local time.
func (s *Scheduler) ScheduleWeeklyReset(accountID string, day time.Weekday, tod string, loc *time.Location) error {
	hour, minute, err := ParseTimeOfDay(tod)
	if err != nil {
		return fmt.Errorf("schedule weekly reset %s: %w", accountID, err)
	}
	s.register(&Schedule{
		AccountID: accountID,
		Type:      ResetWeekly,
		Hour:      hour,
		Minute:    minute,
		Weekday:   day,
		Location:  orUTC(loc),
	})
	return nil
}

func (s *Scheduler) register(sc *Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc.next = nextBoundary(sc, s.nowFn())

	// One schedule per (account, type); re-registration replaces.
	for i, old := range s.schedules {
		if old.AccountID == sc.AccountID && old.Type == sc.Type {
			s.schedules[i] = sc
			return
		}
	}
	s.schedules = append(s.schedules, sc)

	s.log.Info("reset scheduled",
		zap.String("account_id", sc.AccountID),
		zap.String("type", sc.Type),
		zap.Time("next", sc.next))
}

// NextResetTime returns the next boundary (UTC) for the account and type.
func (s *Scheduler) NextResetTime(accountID, typ string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.schedules {
		if sc.AccountID == accountID && sc.Type == typ {
			return nextBoundary(sc, s.nowFn()), nil
		}
	}
	return time.Time{}, fmt.Errorf("no %s reset schedule for account %s", typ, accountID)
}

// nextBoundary computes the first boundary strictly after now. The target
// wall-clock time is re-anchored in the schedule's location each step, so the
// local trigger time holds across DST transitions.
func nextBoundary(sc *Schedule, now time.Time) time.Time {
	local := now.In(sc.Location)
	c := time.Date(local.Year(), local.Month(), local.Day(), sc.Hour, sc.Minute, 0, 0, sc.Location)

	switch sc.Type {
	case ResetWeekly:
		for c.Weekday() != sc.Weekday {
			c = addDays(c, 1, sc.Location)
		}
		if !c.After(local) {
			c = addDays(c, 7, sc.Location)
		}
	default:
		if !c.After(local) {
			c = addDays(c, 1, sc.Location)
		}
	}
	return c.UTC()
}

// addDays advances by calendar days, re-normalizing the wall clock in loc.
// Plain Add(24h) would drift the local trigger time across a DST change.
func addDays(t time.Time, days int, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+days, t.Hour(), t.Minute(), 0, 0, loc)
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// Run starts the sweep loop and blocks until Stop. interval is clamped to
// [1s, 60s].
func (s *Scheduler) Run(interval time.Duration) {
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.CheckResetTimes(context.Background())
		}
	}
}

// Stop asks the sweep loop to exit and waits for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	if started {
		<-s.done
	}
}

// CheckResetTimes fires every schedule whose boundary has been reached.
// Exposed so tests can drive the clock without the background loop.
func (s *Scheduler) CheckResetTimes(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*Schedule
	for _, sc := range s.schedules {
		if !sc.next.After(now) {
			due = append(due, sc)
		}
	}
	s.mu.Unlock()

	for _, sc := range due {
		boundary := sc.next
		if err := s.TriggerReset(ctx, sc.AccountID, sc.Type, boundary); err != nil {
			// Keep the boundary so the next sweep retries it; reset_log
			// uniqueness makes the retry idempotent.
			s.log.Error("reset trigger failed",
				zap.String("account_id", sc.AccountID),
				zap.String("type", sc.Type),
				zap.Time("boundary", boundary),
				zap.Error(err))
			continue
		}
		s.mu.Lock()
		sc.next = nextBoundary(sc, now)
		s.mu.Unlock()
	}
}

// TriggerReset executes the reset sequence for one boundary: zero the P&L
// accumulator, clear lockouts, append the audit row. The audit table's
// uniqueness on (account, type, boundary) makes the whole sequence
// exactly-once; a failing sub-step is logged and the rest still run.
func (s *Scheduler) TriggerReset(ctx context.Context, accountID, typ string, boundary time.Time) error {
	done, err := s.store.HasResetLog(ctx, accountID, typ, boundary)
	if err != nil {
		return fmt.Errorf("trigger reset: %w", err)
	}
	if done {
		s.log.Debug("reset already executed for boundary",
			zap.String("account_id", accountID),
			zap.Time("boundary", boundary))
		return nil
	}

	if err := s.tracker.ResetDaily(ctx, accountID); err != nil {
		s.log.Error("reset sub-step failed: pnl",
			zap.String("account_id", accountID), zap.Error(err))
	}
	if err := s.lockouts.ClearLockout(ctx, accountID); err != nil {
		s.log.Error("reset sub-step failed: lockouts",
			zap.String("account_id", accountID), zap.Error(err))
	} else {
		metrics.SetLockedOut(accountID, false)
	}

	inserted, err := s.store.InsertResetLog(ctx, accountID, typ, boundary, s.now())
	if err != nil {
		return fmt.Errorf("trigger reset: audit: %w", err)
	}
	if !inserted {
		// Lost a race with another sweep pass for the same boundary.
		return nil
	}

	metrics.IncResets(accountID, typ)
	s.log.Info("reset executed",
		zap.String("account_id", accountID),
		zap.String("type", typ),
		zap.Time("boundary", boundary))
	return nil
}
