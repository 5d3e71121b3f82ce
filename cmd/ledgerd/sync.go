package main

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/hendripermana/permoney/internal/ledger"
	"github.com/hendripermana/permoney/internal/syncer"
)

var (
	flagSyncFrom string
	flagSyncTo   string
)

var syncCmd = &cobra.Command{
	Use:   "sync <account|family> <id>",
	Short: "Run a sync for an account or family now",
	Long: `Schedule and execute a sync synchronously, without the daemon.

The window flags accept YYYY-MM-DD dates or natural language:

  ledgerd sync account acc-1
  ledgerd sync account acc-1 --from 2026-01-01 --to 2026-06-30
  ledgerd sync family fam-1 --from "3 months ago"

Omitting a flag leaves that side of the window unbounded: the engine
resolves it to the account's earliest entry and today respectively.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := parseRef(args[0], args[1])
		if err != nil {
			return err
		}

		window, err := parseWindow(flagSyncFrom, flagSyncTo)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		engine := syncer.New(st, syncer.Config{Logger: newLogger("[sync] ")})
		sync, err := engine.SyncNow(cmd.Context(), ref, window)
		if err != nil {
			return err
		}

		fmt.Printf("Sync %s for %s finished as %s\n", sync.ID, ref, sync.Status)
		if sync.Error != "" {
			fmt.Printf("Error: %s\n", sync.Error)
		}
		if sync.Stats.BalancesWritten > 0 {
			fmt.Printf("Balances written: %d (%s to %s)\n",
				sync.Stats.BalancesWritten, sync.Stats.WindowStart, sync.Stats.WindowEnd)
		}
		if sync.Stats.ChildrenSpawned > 0 {
			fmt.Printf("Child syncs: %d\n", sync.Stats.ChildrenSpawned)
		}
		if sync.Status == ledger.SyncStatusFailed {
			return fmt.Errorf("sync failed")
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&flagSyncFrom, "from", "", "window start (date or natural language)")
	syncCmd.Flags().StringVar(&flagSyncTo, "to", "", "window end (date or natural language)")
	rootCmd.AddCommand(syncCmd)
}

func parseRef(typeArg, id string) (ledger.SyncableRef, error) {
	switch typeArg {
	case "account":
		return ledger.SyncableRef{Type: ledger.SyncableTypeAccount, ID: id}, nil
	case "family":
		return ledger.SyncableRef{Type: ledger.SyncableTypeFamily, ID: id}, nil
	}
	return ledger.SyncableRef{}, fmt.Errorf("unknown syncable type %q (want account or family)", typeArg)
}

func parseWindow(from, to string) (ledger.Window, error) {
	var w ledger.Window
	if from != "" {
		t, err := parseDateArg(from)
		if err != nil {
			return w, fmt.Errorf("invalid --from: %w", err)
		}
		w.Start = &t
	}
	if to != "" {
		t, err := parseDateArg(to)
		if err != nil {
			return w, fmt.Errorf("invalid --to: %w", err)
		}
		w.End = &t
	}
	if err := w.Validate(); err != nil {
		return w, err
	}
	return w, nil
}

// parseDateArg accepts a canonical date first, then natural language
// ("yesterday", "3 months ago", "last monday").
func parseDateArg(s string) (time.Time, error) {
	if t, err := ledger.ParseDate(s); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	result, err := w.Parse(s, time.Now())
	if err != nil {
		return time.Time{}, err
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("cannot interpret %q as a date", s)
	}
	return ledger.Day(result.Time), nil
}
