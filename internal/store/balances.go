package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hendripermana/permoney/internal/ledger"
	"github.com/shopspring/decimal"
)

const balanceColumns = `account_id, date, balance, cash_balance,
	start_balance, end_balance,
	start_cash_balance, end_cash_balance,
	start_non_cash_balance, end_non_cash_balance,
	cash_inflows, cash_outflows, non_cash_inflows, non_cash_outflows,
	net_market_flows, cash_adjustments, non_cash_adjustments,
	flows_factor, currency`

// ReplaceBalances writes the given balance rows in a single transaction,
// replacing any existing row for the same (account, date). Rows are
// never partially patched; each day is a full replace-or-insert.
func (s *Store) ReplaceBalances(ctx context.Context, balances []*ledger.Balance) error {
	if len(balances) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT OR REPLACE INTO balances (` + balanceColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare balance insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range balances {
		_, err := stmt.ExecContext(ctx,
			b.AccountID,
			b.Date.Format(ledger.DateLayout),
			b.Balance.String(),
			b.CashBalance.String(),
			b.StartBalance.String(),
			b.EndBalance.String(),
			b.StartCashBalance.String(),
			b.EndCashBalance.String(),
			b.StartNonCashBalance.String(),
			b.EndNonCashBalance.String(),
			b.CashInflows.String(),
			b.CashOutflows.String(),
			b.NonCashInflows.String(),
			b.NonCashOutflows.String(),
			b.NetMarketFlows.String(),
			b.CashAdjustments.String(),
			b.NonCashAdjustments.String(),
			b.FlowsFactor,
			b.Currency,
		)
		if err != nil {
			return fmt.Errorf("failed to write balance for %s on %s: %w",
				b.AccountID, b.Date.Format(ledger.DateLayout), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit balances: %w", err)
	}
	return nil
}

// LatestBalanceBefore returns the most recent balance row strictly
// before the given date, or nil if none exists. This supplies the
// prior-day context a window computation starts from.
func (s *Store) LatestBalanceBefore(ctx context.Context, accountID string, date time.Time) (*ledger.Balance, error) {
	query := `
	SELECT ` + balanceColumns + `
	FROM balances
	WHERE account_id = ? AND date < ?
	ORDER BY date DESC
	LIMIT 1
	`
	row := s.conn.QueryRowContext(ctx, query, accountID, date.Format(ledger.DateLayout))
	b, err := scanBalanceRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query prior balance: %w", err)
	}
	return b, nil
}

// BalancesInWindow returns the account's balance rows within
// [start, end] inclusive, in ascending date order.
func (s *Store) BalancesInWindow(ctx context.Context, accountID string, start, end time.Time) ([]*ledger.Balance, error) {
	query := `
	SELECT ` + balanceColumns + `
	FROM balances
	WHERE account_id = ? AND date >= ? AND date <= ?
	ORDER BY date ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, accountID,
		start.Format(ledger.DateLayout), end.Format(ledger.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []*ledger.Balance
	for rows.Next() {
		b, err := scanBalanceRow(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBalanceRow(row scanner) (*ledger.Balance, error) {
	var b ledger.Balance
	var dateStr string
	amounts := make([]string, 15)
	dest := []any{&b.AccountID, &dateStr}
	for i := range amounts {
		dest = append(dest, &amounts[i])
	}
	dest = append(dest, &b.FlowsFactor, &b.Currency)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	date, err := ledger.ParseDate(dateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance date %q: %w", dateStr, err)
	}
	b.Date = date

	fields := []*decimal.Decimal{
		&b.Balance, &b.CashBalance,
		&b.StartBalance, &b.EndBalance,
		&b.StartCashBalance, &b.EndCashBalance,
		&b.StartNonCashBalance, &b.EndNonCashBalance,
		&b.CashInflows, &b.CashOutflows,
		&b.NonCashInflows, &b.NonCashOutflows,
		&b.NetMarketFlows, &b.CashAdjustments, &b.NonCashAdjustments,
	}
	for i, f := range fields {
		d, err := decimal.NewFromString(amounts[i])
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance amount %q: %w", amounts[i], err)
		}
		*f = d
	}
	return &b, nil
}
