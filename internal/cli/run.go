package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/riskd/broker"
	"github.com/rustyeddy/riskd/config"
	"github.com/rustyeddy/riskd/engine"
	"github.com/rustyeddy/riskd/event"
	"github.com/rustyeddy/riskd/lockout"
	"github.com/rustyeddy/riskd/metrics"
	"github.com/rustyeddy/riskd/pnl"
	"github.com/rustyeddy/riskd/rules"
	"github.com/rustyeddy/riskd/sched"
	"github.com/rustyeddy/riskd/store"
	"github.com/rustyeddy/riskd/timer"
)

func newRunCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the risk daemon until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.Load()
			if err != nil {
				return err
			}
			log, err := rc.Logger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			bus, eng, st, err := Build(cfg, broker.Nop{Log: log}, log)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			_ = bus // the connectivity layer publishes normalized events here

			eng.Start()
			defer eng.Stop()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			s := <-sig
			log.Info("shutting down", zap.String("signal", s.String()))
			return nil
		},
	}
}

// Build wires the full daemon from configuration: store, managers,
// scheduler, rules, engine, bus. The caller owns Start/Stop and store Close.
func Build(cfg *config.Config, enforcer broker.Enforcer, log *zap.Logger) (*event.Bus, *engine.Engine, *store.Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, nil, err
	}
	timerInterval, sweepInterval, err := cfg.Durations()
	if err != nil {
		return nil, nil, nil, err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, nil, err
	}

	timers := timer.NewRegistry(log.Named("timer"))
	lockouts := lockout.NewManager(st, timers, log.Named("lockout"))
	lockouts.OnUnlock(func(accountID string) {
		metrics.SetLockedOut(accountID, false)
		log.Info("account unlocked", zap.String("account_id", accountID))
	})
	tracker := pnl.NewTracker(st, loc, log.Named("pnl"))
	scheduler := sched.New(st, tracker, lockouts, log.Named("sched"))

	account := cfg.Account.ID
	if cfg.Schedules.DailyReset != "" {
		if err := scheduler.ScheduleDailyReset(account, cfg.Schedules.DailyReset, loc); err != nil {
			_ = st.Close()
			return nil, nil, nil, err
		}
	}
	if cfg.Schedules.WeeklyReset != "" {
		day, tod, err := cfg.WeeklyReset()
		if err != nil {
			_ = st.Close()
			return nil, nil, nil, err
		}
		if err := scheduler.ScheduleWeeklyReset(account, day, tod, loc); err != nil {
			_ = st.Close()
			return nil, nil, nil, err
		}
	}

	rctx := engine.NewContext(timers, lockouts, tracker)
	eng := engine.New(account, rctx, enforcer, scheduler, engine.Options{
		TimerInterval: timerInterval,
		SweepInterval: sweepInterval,
	}, log.Named("engine"))

	for _, r := range buildRules(cfg) {
		eng.Register(r)
	}

	bus := event.NewBus(log.Named("bus"))
	eng.Attach(bus)
	return bus, eng, st, nil
}

func buildRules(cfg *config.Config) []engine.Rule {
	var out []engine.Rule

	instruments := make(rules.Instruments, len(cfg.Rules.Instruments))
	for sym, spec := range cfg.Rules.Instruments {
		instruments[sym] = rules.InstrumentSpec{TickSize: spec.TickSize, TickValue: spec.TickValue}
	}

	tiers := make([]rules.CooldownTier, 0, len(cfg.Rules.CooldownTiers))
	for _, t := range cfg.Rules.CooldownTiers {
		d, err := time.ParseDuration(t.Cooldown)
		if err != nil {
			continue // Validate already rejected bad configs
		}
		tiers = append(tiers, rules.CooldownTier{LossThreshold: t.Loss, Cooldown: d})
	}
	// Always registered, even with no tiers: this rule folds every closed
	// trade into the daily tracker, which the loss-limit and frequency
	// rules read.
	out = append(out, rules.NewTieredCooldown(tiers, instruments))
	if cfg.Rules.DailyLossLimit > 0 {
		out = append(out, rules.NewDailyLossLimit(cfg.Rules.DailyLossLimit))
	}
	if cfg.Rules.MaxContracts > 0 {
		out = append(out, rules.NewMaxContracts(cfg.Rules.MaxContracts))
	}
	if cfg.Rules.MaxDailyTrades > 0 {
		out = append(out, rules.NewTradeFrequency(cfg.Rules.MaxDailyTrades))
	}
	if cfg.Rules.ProtectiveGrace != "" {
		if d, err := time.ParseDuration(cfg.Rules.ProtectiveGrace); err == nil {
			out = append(out, rules.NewProtectiveOrder(d))
		}
	}
	return out
}
