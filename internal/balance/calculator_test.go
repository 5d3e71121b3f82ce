package balance

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/hendripermana/permoney/internal/ledger"
	"github.com/hendripermana/permoney/internal/store"
)

func newTestCalculator(t *testing.T) (*Calculator, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	calc := New(st, &Config{
		MinSupportedDate: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		Logger:           log.New(io.Discard, "", 0),
	})
	return calc, st
}

func seedAccount(t *testing.T, st *store.Store, accountType ledger.AccountType) *ledger.Account {
	t.Helper()
	ctx := context.Background()
	if err := st.UpsertFamily(ctx, &ledger.Family{ID: "fam-1", Name: "Family", Currency: "USD"}); err != nil {
		t.Fatal(err)
	}
	account := &ledger.Account{
		ID: "acc-1", FamilyID: "fam-1", Name: "Test", Type: accountType, Currency: "USD",
	}
	if err := st.UpsertAccount(ctx, account); err != nil {
		t.Fatal(err)
	}
	return account
}

func addEntry(t *testing.T, st *store.Store, id, date, amount string, kind ledger.EntryKind) {
	t.Helper()
	d, err := ledger.ParseDate(date)
	if err != nil {
		t.Fatal(err)
	}
	err = st.InsertEntry(context.Background(), &ledger.Entry{
		ID: id, AccountID: "acc-1", Date: d,
		Amount:   decimal.RequireFromString(amount),
		Currency: "USD", Kind: kind,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func window(t *testing.T, start, end string) ledger.Window {
	t.Helper()
	var w ledger.Window
	if start != "" {
		d, err := ledger.ParseDate(start)
		if err != nil {
			t.Fatal(err)
		}
		w.Start = &d
	}
	if end != "" {
		d, err := ledger.ParseDate(end)
		if err != nil {
			t.Fatal(err)
		}
		w.End = &d
	}
	return w
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// endBalances extracts date -> ending total balance for compact asserts.
func endBalances(rows []*ledger.Balance) map[string]string {
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Date.Format(ledger.DateLayout)] = r.EndBalance.String()
	}
	return out
}

func TestCalculateAssetSignConvention(t *testing.T) {
	calc, st := newTestCalculator(t)
	account := seedAccount(t, st, ledger.AccountTypeDepository)

	// Raw negative = inflow. A deposit of 100 then a purchase of 30.
	addEntry(t, st, "e1", "2026-01-01", "-100", ledger.EntryKindTransaction)
	addEntry(t, st, "e2", "2026-01-02", "30", ledger.EntryKindTransaction)

	rows, err := calc.Calculate(context.Background(), account, window(t, "2026-01-01", "2026-01-03"))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	want := map[string]string{
		"2026-01-01": "100",
		"2026-01-02": "70",
		"2026-01-03": "70", // no entries: carries forward
	}
	if diff := cmp.Diff(want, endBalances(rows)); diff != "" {
		t.Errorf("end balances mismatch (-want +got):\n%s", diff)
	}

	first := rows[0]
	if !first.StartBalance.IsZero() {
		t.Errorf("day 1 start = %s, want 0", first.StartBalance)
	}
	if !first.CashInflows.Equal(dec("100")) || !first.CashOutflows.IsZero() {
		t.Errorf("day 1 flows: in=%s out=%s", first.CashInflows, first.CashOutflows)
	}
	if first.FlowsFactor != 1 {
		t.Errorf("flows factor = %d, want 1", first.FlowsFactor)
	}
}

func TestCalculateLiabilitySignConvention(t *testing.T) {
	calc, st := newTestCalculator(t)
	account := seedAccount(t, st, ledger.AccountTypeCreditCard)

	// A charge (outflow, raw positive) grows credit card debt; a payment
	// (inflow, raw negative) shrinks it.
	addEntry(t, st, "e1", "2026-01-01", "200", ledger.EntryKindTransaction)
	addEntry(t, st, "e2", "2026-01-02", "-50", ledger.EntryKindTransaction)

	rows, err := calc.Calculate(context.Background(), account, window(t, "2026-01-01", "2026-01-02"))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	want := map[string]string{
		"2026-01-01": "200",
		"2026-01-02": "150",
	}
	if diff := cmp.Diff(want, endBalances(rows)); diff != "" {
		t.Errorf("end balances mismatch (-want +got):\n%s", diff)
	}
	if rows[0].FlowsFactor != -1 {
		t.Errorf("flows factor = %d, want -1", rows[0].FlowsFactor)
	}
	// Inflows/outflows stay absolute regardless of the factor.
	if !rows[0].CashOutflows.Equal(dec("200")) || !rows[1].CashInflows.Equal(dec("50")) {
		t.Errorf("flows: out=%s in=%s", rows[0].CashOutflows, rows[1].CashInflows)
	}
}

func TestCalculateDayStartIsPriorDayEnd(t *testing.T) {
	calc, st := newTestCalculator(t)
	account := seedAccount(t, st, ledger.AccountTypeDepository)

	addEntry(t, st, "e1", "2026-01-01", "-100", ledger.EntryKindTransaction)
	addEntry(t, st, "e2", "2026-01-05", "-50", ledger.EntryKindTransaction)

	rows, err := calc.Calculate(context.Background(), account, window(t, "2026-01-01", "2026-01-05"))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	for i := 1; i < len(rows); i++ {
		if !rows[i].StartBalance.Equal(rows[i-1].EndBalance) {
			t.Errorf("day %s start %s != prior day end %s",
				rows[i].Date.Format(ledger.DateLayout),
				rows[i].StartBalance, rows[i-1].EndBalance)
		}
	}
}

func TestCalculatePartialWindowUsesPriorBalance(t *testing.T) {
	calc, st := newTestCalculator(t)
	account := seedAccount(t, st, ledger.AccountTypeDepository)
	ctx := context.Background()

	addEntry(t, st, "e1", "2026-01-01", "-100", ledger.EntryKindTransaction)
	addEntry(t, st, "e2", "2026-01-10", "-50", ledger.EntryKindTransaction)

	// Full pass establishes history.
	if _, err := calc.Calculate(ctx, account, window(t, "2026-01-01", "2026-01-10")); err != nil {
		t.Fatalf("full Calculate: %v", err)
	}

	// Recomputing only the tail must pick up the balance from Jan 9,
	// not restart the account at zero.
	rows, err := calc.Calculate(ctx, account, window(t, "2026-01-10", "2026-01-10"))
	if err != nil {
		t.Fatalf("partial Calculate: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if !rows[0].StartBalance.Equal(dec("100")) {
		t.Errorf("start = %s, want 100 (carried from prior row)", rows[0].StartBalance)
	}
	if !rows[0].EndBalance.Equal(dec("150")) {
		t.Errorf("end = %s, want 150", rows[0].EndBalance)
	}
}

func TestCalculateIdempotent(t *testing.T) {
	calc, st := newTestCalculator(t)
	account := seedAccount(t, st, ledger.AccountTypeDepository)
	ctx := context.Background()

	addEntry(t, st, "e1", "2026-01-01", "-100.55", ledger.EntryKindTransaction)
	addEntry(t, st, "e2", "2026-01-03", "25.10", ledger.EntryKindTransaction)

	w := window(t, "2026-01-01", "2026-01-05")
	first, err := calc.Calculate(ctx, account, w)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	second, err := calc.Calculate(ctx, account, w)
	if err != nil {
		t.Fatalf("Calculate (rerun): %v", err)
	}

	if diff := cmp.Diff(endBalances(first), endBalances(second)); diff != "" {
		t.Errorf("recomputation over unchanged entries differed:\n%s", diff)
	}

	stored, err := st.BalancesInWindow(ctx, account.ID, *w.Start, *w.End)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 5 {
		t.Errorf("stored %d rows, want 5 (one per day, no duplicates)", len(stored))
	}
}

func TestCalculateExactDecimalMath(t *testing.T) {
	calc, st := newTestCalculator(t)
	account := seedAccount(t, st, ledger.AccountTypeDepository)

	// 0.1 + 0.2 style additions must stay exact.
	addEntry(t, st, "e1", "2026-01-01", "-0.1", ledger.EntryKindTransaction)
	addEntry(t, st, "e2", "2026-01-01", "-0.2", ledger.EntryKindTransaction)

	rows, err := calc.Calculate(context.Background(), account, window(t, "2026-01-01", "2026-01-01"))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !rows[0].EndBalance.Equal(dec("0.3")) {
		t.Errorf("end = %s, want exactly 0.3", rows[0].EndBalance)
	}
}

func TestCalculateValuationAnchorsCashAccount(t *testing.T) {
	calc, st := newTestCalculator(t)
	account := seedAccount(t, st, ledger.AccountTypeDepository)

	addEntry(t, st, "e1", "2026-01-01", "-100", ledger.EntryKindTransaction)
	// Statement says the balance on Jan 2 was actually 130.
	addEntry(t, st, "v1", "2026-01-02", "130", ledger.EntryKindValuation)
	addEntry(t, st, "e2", "2026-01-03", "10", ledger.EntryKindTransaction)

	rows, err := calc.Calculate(context.Background(), account, window(t, "2026-01-01", "2026-01-03"))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	want := map[string]string{
		"2026-01-01": "100",
		"2026-01-02": "130", // anchor overrides the flow-derived 100
		"2026-01-03": "120", // flows resume from the anchored value
	}
	if diff := cmp.Diff(want, endBalances(rows)); diff != "" {
		t.Errorf("end balances mismatch (-want +got):\n%s", diff)
	}

	day2 := rows[1]
	if !day2.CashAdjustments.Equal(dec("30")) {
		t.Errorf("cash adjustments = %s, want 30", day2.CashAdjustments)
	}
	if !day2.NetMarketFlows.IsZero() || !day2.NonCashAdjustments.IsZero() {
		t.Errorf("cash account must not record market flows: nmf=%s nca=%s",
			day2.NetMarketFlows, day2.NonCashAdjustments)
	}
}

func TestCalculateValuationOnWindowStartApplies(t *testing.T) {
	calc, st := newTestCalculator(t)
	account := seedAccount(t, st, ledger.AccountTypeDepository)

	// Anchor dated exactly on the window's first day must be honored:
	// the entry query's lower bound is inclusive.
	addEntry(t, st, "v1", "2026-01-01", "500", ledger.EntryKindValuation)

	rows, err := calc.Calculate(context.Background(), account, window(t, "2026-01-01", "2026-01-02"))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !rows[0].EndBalance.Equal(dec("500")) {
		t.Errorf("day 1 end = %s, want 500", rows[0].EndBalance)
	}
	if !rows[1].EndBalance.Equal(dec("500")) {
		t.Errorf("day 2 end = %s, want 500 (carried)", rows[1].EndBalance)
	}
}

func TestCalculateInvestmentAnchorBecomesMarketFlows(t *testing.T) {
	calc, st := newTestCalculator(t)
	account := seedAccount(t, st, ledger.AccountTypeInvestment)

	// Deposit 1000 cash into the brokerage, then a valuation says total
	// account value is 1150: the 150 the cash flows don't explain is
	// market movement held in the non-cash component.
	addEntry(t, st, "e1", "2026-01-01", "-1000", ledger.EntryKindTransaction)
	addEntry(t, st, "v1", "2026-01-05", "1150", ledger.EntryKindValuation)

	rows, err := calc.Calculate(context.Background(), account, window(t, "2026-01-01", "2026-01-05"))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	last := rows[len(rows)-1]
	if !last.EndBalance.Equal(dec("1150")) {
		t.Errorf("end total = %s, want 1150", last.EndBalance)
	}
	if !last.EndCashBalance.Equal(dec("1000")) {
		t.Errorf("end cash = %s, want 1000 (anchor must not rewrite cash)", last.EndCashBalance)
	}
	if !last.EndNonCashBalance.Equal(dec("150")) {
		t.Errorf("end non-cash = %s, want 150", last.EndNonCashBalance)
	}
	if !last.NetMarketFlows.Equal(dec("150")) {
		t.Errorf("net market flows = %s, want 150", last.NetMarketFlows)
	}
	if !last.CashAdjustments.IsZero() && !last.NonCashAdjustments.IsZero() {
		t.Errorf("adjustments should be zero: cash=%s noncash=%s",
			last.CashAdjustments, last.NonCashAdjustments)
	}
}

func TestCalculatePropertyAnchorBecomesAdjustment(t *testing.T) {
	calc, st := newTestCalculator(t)
	account := seedAccount(t, st, ledger.AccountTypeProperty)

	addEntry(t, st, "v1", "2026-01-01", "350000", ledger.EntryKindValuation)

	rows, err := calc.Calculate(context.Background(), account, window(t, "2026-01-01", "2026-01-01"))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	row := rows[0]
	if !row.EndNonCashBalance.Equal(dec("350000")) {
		t.Errorf("end non-cash = %s, want 350000", row.EndNonCashBalance)
	}
	// Property revaluations are appraisal adjustments, not market flows.
	if !row.NonCashAdjustments.Equal(dec("350000")) || !row.NetMarketFlows.IsZero() {
		t.Errorf("adjustment=%s market=%s", row.NonCashAdjustments, row.NetMarketFlows)
	}
}

func TestCalculateLastAnchorOnDayWins(t *testing.T) {
	calc, st := newTestCalculator(t)
	account := seedAccount(t, st, ledger.AccountTypeDepository)
	ctx := context.Background()

	d, _ := ledger.ParseDate("2026-01-01")
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	for i, amount := range []string{"100", "250"} {
		err := st.InsertEntry(ctx, &ledger.Entry{
			ID: "v" + string(rune('1'+i)), AccountID: "acc-1", Date: d,
			Amount: decimal.RequireFromString(amount), Currency: "USD",
			Kind:      ledger.EntryKindValuation,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	rows, err := calc.Calculate(ctx, account, window(t, "2026-01-01", "2026-01-01"))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !rows[0].EndBalance.Equal(dec("250")) {
		t.Errorf("end = %s, want 250 (latest anchor wins)", rows[0].EndBalance)
	}
}

func TestCalculateUnboundedWindowResolution(t *testing.T) {
	calc, st := newTestCalculator(t)
	account := seedAccount(t, st, ledger.AccountTypeDepository)
	ctx := context.Background()

	today := ledger.Day(time.Now().UTC())
	earliest := today.AddDate(0, 0, -5)
	addEntry(t, st, "e1", earliest.Format(ledger.DateLayout), "-100", ledger.EntryKindTransaction)

	rows, err := calc.Calculate(ctx, account, ledger.Window{})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if len(rows) != 6 {
		t.Fatalf("got %d rows, want 6 (earliest entry through today)", len(rows))
	}
	if got := rows[0].Date; !got.Equal(earliest) {
		t.Errorf("first day = %s, want earliest entry date %s", got, earliest)
	}
	if got := rows[len(rows)-1].Date; !got.Equal(today) {
		t.Errorf("last day = %s, want today %s", got, today)
	}
}

func TestCalculateNoEntriesNoBoundsIsEmpty(t *testing.T) {
	calc, st := newTestCalculator(t)
	account := seedAccount(t, st, ledger.AccountTypeDepository)

	rows, err := calc.Calculate(context.Background(), account, ledger.Window{})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if rows != nil {
		t.Errorf("got %d rows, want none", len(rows))
	}
}

func TestCalculateClampsToMinSupportedDate(t *testing.T) {
	calc, st := newTestCalculator(t)
	account := seedAccount(t, st, ledger.AccountTypeDepository)

	addEntry(t, st, "e1", "1995-06-01", "-100", ledger.EntryKindTransaction)

	rows, err := calc.Calculate(context.Background(), account, window(t, "1995-06-01", "2000-01-03"))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if got := rows[0].Date.Format(ledger.DateLayout); got != "2000-01-01" {
		t.Errorf("first day = %s, want clamped 2000-01-01", got)
	}
}

func TestCalculateRejectsInvalidWindow(t *testing.T) {
	calc, st := newTestCalculator(t)
	account := seedAccount(t, st, ledger.AccountTypeDepository)

	_, err := calc.Calculate(context.Background(), account, window(t, "2026-06-01", "2026-01-01"))
	if err != ledger.ErrInvalidWindow {
		t.Errorf("error = %v, want ErrInvalidWindow", err)
	}
}
