// ledgerd is the personal-finance ledger engine daemon and CLI.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/hendripermana/permoney/internal/config"
	"github.com/hendripermana/permoney/internal/store"
)

var (
	flagConfig string
	flagDB     string
)

var rootCmd = &cobra.Command{
	Use:   "ledgerd",
	Short: "Personal finance ledger engine",
	Long: `ledgerd maintains daily account balances derived from ledger entries.

Entry changes schedule syncs; a background engine recomputes balance
series over the affected date windows, fans family syncs out to their
accounts, and finalizes parent syncs once all children finish.

Run 'ledgerd serve' for the background engine, or use the one-shot
commands (sync, import, clean) without a running daemon.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config.toml (default: user config dir)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "path to the SQLite database (overrides config)")
}

// loadConfig loads the TOML config and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagDB != "" {
		cfg.Database.Path = flagDB
	}
	return cfg, nil
}

// openStore opens the configured database with the schema initialized.
func openStore(cfg config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Database.Path, err)
	}
	if err := st.InitSchema(); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return st, nil
}

func newLogger(prefix string) *log.Logger {
	return log.New(os.Stderr, prefix, log.LstdFlags)
}
