package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hendripermana/permoney/internal/importer"
	"github.com/hendripermana/permoney/internal/syncer"
)

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import a CSV entry file and sync the affected accounts",
	Long: `Import ledger entries from a CSV file and run syncs for every
account the file touched, each over the window of its imported dates.

Expected columns (with header row):

  account_id,date,kind,amount,currency,name

kind is transaction, valuation, or transfer. Amounts follow the raw
signed convention: negative = money in, positive = money out. For
valuations the amount is the account's balance on that date.`,
	Args: cobra.ExactArgs(1),
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

		logger := newLogger("[import] ")
		engine := syncer.New(st, syncer.Config{Logger: logger})
		im := importer.New(st, engine.Scheduler(), logger)

		ctx := cmd.Context()
		result, err := im.ImportFile(ctx, args[0])
		if err != nil {
			return err
		}
		if result.Entries == 0 {
			fmt.Println("No entries found.")
			return nil
		}

		fmt.Printf("Imported %d entries into %d accounts (%s)\n",
			result.Entries, len(result.Accounts), strings.Join(result.Accounts, ", "))

		// The importer schedules debounced syncs meant for the daemon;
		// run them to completion here instead.
		for _, accountID := range result.Accounts {
			ref, _ := parseRef("account", accountID)
			sync, err := engine.SyncNow(ctx, ref, result.Window)
			if err != nil {
				return err
			}
			fmt.Printf("  %s: sync %s %s\n", accountID, sync.ID, sync.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
