package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/riskd/lockout"
	"github.com/rustyeddy/riskd/pnl"
	"github.com/rustyeddy/riskd/store"
)

func newStatusCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the account's persisted risk state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.Load()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			account := cfg.Account.ID
			lockouts := lockout.NewManager(st, nil, zap.NewNop())
			tracker := pnl.NewTracker(st, loc, zap.NewNop())

			fmt.Printf("account: %s\n", account)

			locked, err := lockouts.IsLockedOut(ctx, account)
			if err != nil {
				return err
			}
			if locked {
				info, err := lockouts.Info(ctx, account)
				if err != nil {
					return err
				}
				fmt.Printf("locked:  yes (%s by %s: %s", info.Type, info.RuleID, info.Reason)
				if info.ExpiresAt != nil {
					fmt.Printf(", %.0fs remaining", info.RemainingSeconds)
				}
				fmt.Println(")")
			} else {
				fmt.Println("locked:  no")
			}

			dayPnL, err := tracker.DailyPnL(ctx, account)
			if err != nil {
				return err
			}
			trades, err := tracker.TradeCount(ctx, account)
			if err != nil {
				return err
			}
			fmt.Printf("today:   %.2f realized over %d trades\n", dayPnL, trades)

			entries, err := st.ListResetLog(ctx, account, 5)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("reset:   %s %s boundary, triggered %s\n",
					e.ResetType,
					e.ResetTime.In(loc).Format("2006-01-02 15:04"),
					e.TriggeredAt.In(loc).Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}
