package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hendripermana/permoney/internal/syncer"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Mark abandoned syncs stale and prune old finalized syncs",
	Long: `Run one reaper pass: incomplete syncs past the staleness thresholds
are marked stale, and finalized syncs past the retention period are
pruned. The serve daemon runs this periodically; this command covers
cron-style setups without a daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		minDate, err := cfg.Sync.MinSupportedDateTime()
		if err != nil {
			return fmt.Errorf("invalid min_supported_date: %w", err)
		}

		engine := syncer.New(st, syncer.Config{
			StaleAfter:        cfg.Sync.StaleAfter.Duration,
			SyncingStaleAfter: cfg.Sync.SyncingStaleAfter.Duration,
			MinimumStaleAge:   cfg.Sync.MinimumStaleAge.Duration,
			RetentionPeriod:   cfg.Sync.RetentionPeriod.Duration,
			MinSupportedDate:  minDate,
			Logger:            newLogger("[clean] "),
		})

		if err := engine.Clean(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Clean pass complete.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}
