package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is one account's state for one calendar day.
//
// Rows are owned exclusively by their account, keyed by (AccountID, Date),
// and fully replaced whenever their date falls inside a recomputed window.
// All amounts are in the account's currency, major units, exact decimals.
type Balance struct {
	AccountID string
	Date      time.Time

	// Balance is the ending total balance, CashBalance its cash component.
	Balance     decimal.Decimal
	CashBalance decimal.Decimal

	StartBalance decimal.Decimal
	EndBalance   decimal.Decimal

	StartCashBalance    decimal.Decimal
	EndCashBalance      decimal.Decimal
	StartNonCashBalance decimal.Decimal
	EndNonCashBalance   decimal.Decimal

	// Inflows/outflows are absolute values; the flows factor decides how
	// they move the balance.
	CashInflows     decimal.Decimal
	CashOutflows    decimal.Decimal
	NonCashInflows  decimal.Decimal
	NonCashOutflows decimal.Decimal

	// NetMarketFlows is the valuation-driven value change for investment
	// accounts; adjustments absorb anchor corrections elsewhere.
	NetMarketFlows     decimal.Decimal
	CashAdjustments    decimal.Decimal
	NonCashAdjustments decimal.Decimal

	// FlowsFactor is +1 for asset accounts, -1 for liability accounts.
	FlowsFactor int

	Currency string
}
