package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rustyeddy/riskd/config"
)

// RootConfig carries persistent flag state shared by subcommands.
type RootConfig struct {
	ConfigPath string
	DBPath     string
	LogLevel   string
}

// Load resolves the effective configuration: file when given, defaults
// otherwise, with flag overrides applied on top.
func (rc *RootConfig) Load() (*config.Config, error) {
	cfg := config.Default()
	if rc.ConfigPath != "" {
		loaded, err := config.LoadFromFile(rc.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if rc.DBPath != "" {
		cfg.Store.Path = rc.DBPath
	}
	if rc.LogLevel != "" {
		cfg.Engine.LogLevel = rc.LogLevel
	}
	return cfg, nil
}

// Logger builds the process logger at the configured level.
func (rc *RootConfig) Logger(cfg *config.Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Engine.LogLevel != "" {
		if err := level.Set(cfg.Engine.LogLevel); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Engine.LogLevel, err)
		}
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func NewRootCmd() *cobra.Command {
	rc := &RootConfig{}

	cmd := &cobra.Command{
		Use:           "riskd",
		Short:         "riskd — temporal risk-state engine for a single trading account",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&rc.ConfigPath, "config", "", "Path to config file (optional)")
	cmd.PersistentFlags().StringVar(&rc.DBPath, "db", "", "SQLite state database (overrides config)")
	cmd.PersistentFlags().StringVar(&rc.LogLevel, "log-level", "", "Log level: debug|info|warn|error")

	cmd.AddCommand(
		newRunCmd(rc),
		newStatusCmd(rc),
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("riskd (dev)")
		},
	})

	return cmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
