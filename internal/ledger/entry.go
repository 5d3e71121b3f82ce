package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical storage format for ledger dates.
// Entries and balances are dated, not timestamped.
const DateLayout = "2006-01-02"

// Day truncates a time to its calendar day in UTC.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a canonical YYYY-MM-DD date string.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// EntryKind distinguishes the three event types that touch an account.
type EntryKind string

const (
	// EntryKindTransaction is a regular cash flow (income or expense).
	EntryKindTransaction EntryKind = "transaction"

	// EntryKindValuation is an anchor: it fixes the account's ending
	// balance on its date, overriding flow-derived computation.
	EntryKindValuation EntryKind = "valuation"

	// EntryKindTransfer is one leg of a transfer between two accounts.
	// For balance purposes it behaves like a transaction.
	EntryKindTransfer EntryKind = "transfer"
)

// Entry is a dated monetary event on an account.
//
// Amount follows the raw signed convention: negative = inflow (income,
// money in), positive = outflow (expense, money out), independent of the
// account's classification. For valuations, Amount holds the anchored
// ending balance instead of a flow.
type Entry struct {
	ID        string
	AccountID string
	Date      time.Time
	Amount    decimal.Decimal
	Currency  string
	Kind      EntryKind
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAnchor reports whether the entry fixes the balance on its date.
func (e Entry) IsAnchor() bool {
	return e.Kind == EntryKindValuation
}
