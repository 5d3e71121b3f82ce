package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hendripermana/permoney/internal/ledger"
)

var flagStatusLimit int

var statusCmd = &cobra.Command{
	Use:   "status <account|family> <id>",
	Short: "Show sync state for an account or family",
	Long: `Show whether the syncable is currently syncing and list its recent
syncs, newest first. "Syncing" means an incomplete sync created within
the visibility window; older stuck syncs do not count.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := parseRef(args[0], args[1])
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

		ctx := cmd.Context()
		since := time.Now().UTC().Add(-cfg.Sync.VisibilityWindow.Duration)
		syncing, err := st.HasVisibleIncompleteSync(ctx, ref, since)
		if err != nil {
			return err
		}
		if syncing {
			fmt.Printf("%s: syncing\n", ref)
		} else {
			fmt.Printf("%s: idle\n", ref)
		}

		syncs, err := st.ListRecentSyncs(ctx, ref, flagStatusLimit)
		if err != nil {
			return err
		}
		if len(syncs) == 0 {
			fmt.Println("No syncs recorded.")
			return nil
		}

		fmt.Printf("\n%-36s  %-9s  %-24s  %s\n", "ID", "STATUS", "WINDOW", "CREATED")
		for _, s := range syncs {
			fmt.Printf("%-36s  %-9s  %-24s  %s\n",
				s.ID, s.Status, s.Window, s.CreatedAt.Local().Format(time.RFC3339))
			if s.Error != "" {
				fmt.Printf("    error: %s\n", s.Error)
			}
			printStats(s.Stats)
		}
		return nil
	},
}

func printStats(stats ledger.SyncStats) {
	if stats.BalancesWritten > 0 {
		fmt.Printf("    balances: %d (%s to %s), %dms\n",
			stats.BalancesWritten, stats.WindowStart, stats.WindowEnd, stats.DurationMS)
	}
	if stats.ChildrenSpawned > 0 {
		fmt.Printf("    children: %d\n", stats.ChildrenSpawned)
	}
}

func init() {
	statusCmd.Flags().IntVar(&flagStatusLimit, "limit", 10, "number of recent syncs to show")
	rootCmd.AddCommand(statusCmd)
}
