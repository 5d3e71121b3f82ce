package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hendripermana/permoney/internal/ledger"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts and families",
}

var (
	flagAccountFamily   string
	flagAccountType     string
	flagAccountCurrency string
	flagAccountID       string
)

var accountAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create an account",
	Long: `Create an account in a family. Types: depository, credit_card, loan,
investment, metal, bnpl, lending, property. The family is created if it
does not exist.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountType := ledger.AccountType(flagAccountType)
		switch accountType {
		case ledger.AccountTypeDepository, ledger.AccountTypeCreditCard,
			ledger.AccountTypeLoan, ledger.AccountTypeInvestment,
			ledger.AccountTypeMetal, ledger.AccountTypeBNPL,
			ledger.AccountTypeLending, ledger.AccountTypeProperty:
		default:
			return fmt.Errorf("unknown account type %q", flagAccountType)
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
		now := time.Now().UTC()

		family := &ledger.Family{
			ID:        flagAccountFamily,
			Name:      flagAccountFamily,
			Currency:  flagAccountCurrency,
			CreatedAt: now,
		}
		if err := st.UpsertFamily(ctx, family); err != nil {
			return err
		}

		id := flagAccountID
		if id == "" {
			id = uuid.NewString()
		}
		account := &ledger.Account{
			ID:        id,
			FamilyID:  family.ID,
			Name:      args[0],
			Type:      accountType,
			Currency:  flagAccountCurrency,
			CreatedAt: now,
		}
		if err := st.UpsertAccount(ctx, account); err != nil {
			return err
		}

		fmt.Printf("Created %s account %s (%s) in family %s\n",
			account.Type, account.Name, account.ID, family.ID)
		return nil
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list <family-id>",
	Short: "List a family's accounts",
	Args:  cobra.ExactArgs(1),
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

		accounts, err := st.ListFamilyAccounts(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			fmt.Println("No accounts.")
			return nil
		}

		fmt.Printf("%-36s  %-12s  %-9s  %-4s  %s\n", "ID", "TYPE", "CLASS", "CCY", "NAME")
		for _, a := range accounts {
			fmt.Printf("%-36s  %-12s  %-9s  %-4s  %s\n",
				a.ID, a.Type, a.Classification(), a.Currency, a.Name)
		}
		return nil
	},
}

var (
	flagBalancesFrom string
	flagBalancesTo   string
)

var balancesCmd = &cobra.Command{
	Use:   "balances <account-id>",
	Short: "Show an account's daily balances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		window, err := parseWindow(flagBalancesFrom, flagBalancesTo)
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

		start := time.Time{}
		if window.Start != nil {
			start = *window.Start
		}
		end := ledger.Day(time.Now().UTC())
		if window.End != nil {
			end = *window.End
		}

		balances, err := st.BalancesInWindow(cmd.Context(), args[0], start, end)
		if err != nil {
			return err
		}
		if len(balances) == 0 {
			fmt.Println("No balances. Run 'ledgerd sync account <id>' first.")
			return nil
		}

		fmt.Printf("%-10s  %14s  %14s  %14s\n", "DATE", "CASH", "NON-CASH", "TOTAL")
		for _, b := range balances {
			fmt.Printf("%-10s  %14s  %14s  %14s\n",
				b.Date.Format(ledger.DateLayout),
				b.EndCashBalance.StringFixed(2),
				b.EndNonCashBalance.StringFixed(2),
				b.EndBalance.StringFixed(2))
		}
		return nil
	},
}

func init() {
	accountAddCmd.Flags().StringVar(&flagAccountFamily, "family", "default", "family the account belongs to")
	accountAddCmd.Flags().StringVar(&flagAccountType, "type", "depository", "account type")
	accountAddCmd.Flags().StringVar(&flagAccountCurrency, "currency", "USD", "account currency")
	accountAddCmd.Flags().StringVar(&flagAccountID, "id", "", "explicit account ID (default: random)")

	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountListCmd)
	rootCmd.AddCommand(accountCmd)

	balancesCmd.Flags().StringVar(&flagBalancesFrom, "from", "", "window start (date or natural language)")
	balancesCmd.Flags().StringVar(&flagBalancesTo, "to", "", "window end (date or natural language)")
	rootCmd.AddCommand(balancesCmd)
}
