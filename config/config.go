package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete riskd configuration.
type Config struct {
	Account   AccountConfig   `json:"account" yaml:"account"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	Schedules SchedulesConfig `json:"schedules" yaml:"schedules"`
	Rules     RulesConfig     `json:"rules" yaml:"rules"`
}

// AccountConfig identifies the single account this instance owns.
type AccountConfig struct {
	ID       string `json:"id" yaml:"id"`
	Timezone string `json:"timezone" yaml:"timezone"` // IANA name, e.g. "America/Chicago"
}

// StoreConfig locates the embedded database.
type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

// EngineConfig tunes the background sweeps.
type EngineConfig struct {
	TimerInterval string `json:"timer_interval,omitempty" yaml:"timer_interval,omitempty"` // default 1s
	SweepInterval string `json:"sweep_interval,omitempty" yaml:"sweep_interval,omitempty"` // default 15s
	LogLevel      string `json:"log_level,omitempty" yaml:"log_level,omitempty"`           // debug|info|warn|error
}

// SchedulesConfig declares the reset boundaries, local to the account's
// timezone.
type SchedulesConfig struct {
	DailyReset  string `json:"daily_reset,omitempty" yaml:"daily_reset,omitempty"`   // "HH:MM"
	WeeklyReset string `json:"weekly_reset,omitempty" yaml:"weekly_reset,omitempty"` // "Sunday 17:00"
}

// RulesConfig declares the policy limits. Zero values disable a rule.
type RulesConfig struct {
	CooldownTiers   []TierConfig                `json:"cooldown_tiers,omitempty" yaml:"cooldown_tiers,omitempty"`
	DailyLossLimit  float64                     `json:"daily_loss_limit,omitempty" yaml:"daily_loss_limit,omitempty"`
	MaxContracts    int                         `json:"max_contracts,omitempty" yaml:"max_contracts,omitempty"`
	MaxDailyTrades  int                         `json:"max_daily_trades,omitempty" yaml:"max_daily_trades,omitempty"`
	ProtectiveGrace string                      `json:"protective_grace,omitempty" yaml:"protective_grace,omitempty"`
	Instruments     map[string]InstrumentConfig `json:"instruments,omitempty" yaml:"instruments,omitempty"`
}

// TierConfig is one loss threshold -> cooldown pairing.
type TierConfig struct {
	Loss     float64 `json:"loss" yaml:"loss"`         // negative
	Cooldown string  `json:"cooldown" yaml:"cooldown"` // e.g. "5m"
}

// InstrumentConfig carries instrument economics, injected into the rules
// that need them rather than living in a package-level table.
type InstrumentConfig struct {
	TickSize  float64 `json:"tick_size" yaml:"tick_size"`
	TickValue float64 `json:"tick_value" yaml:"tick_value"`
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Location resolves the account's timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Account.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Account.Timezone)
	if err != nil {
		return nil, fmt.Errorf("account.timezone: %w", err)
	}
	return loc, nil
}

// Durations resolves the sweep intervals with defaults applied.
func (c *Config) Durations() (timerInterval, sweepInterval time.Duration, err error) {
	timerInterval = time.Second
	sweepInterval = 15 * time.Second
	if c.Engine.TimerInterval != "" {
		if timerInterval, err = time.ParseDuration(c.Engine.TimerInterval); err != nil {
			return 0, 0, fmt.Errorf("engine.timer_interval: %w", err)
		}
	}
	if c.Engine.SweepInterval != "" {
		if sweepInterval, err = time.ParseDuration(c.Engine.SweepInterval); err != nil {
			return 0, 0, fmt.Errorf("engine.sweep_interval: %w", err)
		}
	}
	return timerInterval, sweepInterval, nil
}

// WeeklyReset splits the "Weekday HH:MM" form.
func (c *Config) WeeklyReset() (time.Weekday, string, error) {
	fields := strings.Fields(c.Schedules.WeeklyReset)
	if len(fields) != 2 {
		return 0, "", fmt.Errorf("schedules.weekly_reset %q: want \"Weekday HH:MM\"", c.Schedules.WeeklyReset)
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(fields[0], d.String()) {
			return d, fields[1], nil
		}
	}
	return 0, "", fmt.Errorf("schedules.weekly_reset: unknown weekday %q", fields[0])
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Account.ID == "" {
		return fmt.Errorf("account.id is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, _, err := c.Durations(); err != nil {
		return err
	}
	if c.Schedules.DailyReset != "" {
		if err := checkTimeOfDay(c.Schedules.DailyReset); err != nil {
			return fmt.Errorf("schedules.daily_reset: %w", err)
		}
	}
	if c.Schedules.WeeklyReset != "" {
		_, tod, err := c.WeeklyReset()
		if err != nil {
			return err
		}
		if err := checkTimeOfDay(tod); err != nil {
			return fmt.Errorf("schedules.weekly_reset: %w", err)
		}
	}
	for i, tier := range c.Rules.CooldownTiers {
		if tier.Loss >= 0 {
			return fmt.Errorf("rules.cooldown_tiers[%d].loss must be negative", i)
		}
		if _, err := time.ParseDuration(tier.Cooldown); err != nil {
			return fmt.Errorf("rules.cooldown_tiers[%d].cooldown: %w", i, err)
		}
	}
	if c.Rules.DailyLossLimit < 0 {
		return fmt.Errorf("rules.daily_loss_limit must be >= 0 (cash amount)")
	}
	if c.Rules.ProtectiveGrace != "" {
		if _, err := time.ParseDuration(c.Rules.ProtectiveGrace); err != nil {
			return fmt.Errorf("rules.protective_grace: %w", err)
		}
	}
	for sym, spec := range c.Rules.Instruments {
		if spec.TickSize <= 0 || spec.TickValue <= 0 {
			return fmt.Errorf("rules.instruments[%s]: tick_size and tick_value must be positive", sym)
		}
	}
	return nil
}

func checkTimeOfDay(tod string) error {
	var h, m int
	if _, err := fmt.Sscanf(tod, "%d:%d", &h, &m); err != nil {
		return fmt.Errorf("%q: want HH:MM", tod)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return fmt.Errorf("%q: out of range", tod)
	}
	return nil
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			ID:       "SIM-001",
			Timezone: "America/Chicago",
		},
		Store: StoreConfig{
			Path: "./riskd.sqlite",
		},
		Engine: EngineConfig{
			TimerInterval: "1s",
			SweepInterval: "15s",
			LogLevel:      "info",
		},
		Schedules: SchedulesConfig{
			DailyReset: "17:00",
		},
		Rules: RulesConfig{
			CooldownTiers: []TierConfig{
				{Loss: -100, Cooldown: "5m"},
				{Loss: -250, Cooldown: "30m"},
			},
			DailyLossLimit:  1000,
			MaxContracts:    5,
			MaxDailyTrades:  20,
			ProtectiveGrace: "30s",
			Instruments: map[string]InstrumentConfig{
				"ES": {TickSize: 0.25, TickValue: 12.50},
				"NQ": {TickSize: 0.25, TickValue: 5.00},
			},
		},
	}
}
