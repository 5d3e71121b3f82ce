package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hendripermana/permoney/internal/ledger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedAccount(t *testing.T, st *Store, id string, accountType ledger.AccountType) *ledger.Account {
	t.Helper()
	ctx := context.Background()
	if err := st.UpsertFamily(ctx, &ledger.Family{ID: "fam-1", Name: "Test Family", Currency: "USD"}); err != nil {
		t.Fatalf("failed to seed family: %v", err)
	}
	account := &ledger.Account{
		ID:       id,
		FamilyID: "fam-1",
		Name:     "Test " + id,
		Type:     accountType,
		Currency: "USD",
	}
	if err := st.UpsertAccount(ctx, account); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	return account
}

func seedEntry(t *testing.T, st *Store, accountID, date, amount string, kind ledger.EntryKind) {
	t.Helper()
	d, err := ledger.ParseDate(date)
	if err != nil {
		t.Fatalf("bad date %s: %v", date, err)
	}
	entry := &ledger.Entry{
		ID:        accountID + "-" + date + "-" + amount,
		AccountID: accountID,
		Date:      d,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "USD",
		Kind:      kind,
	}
	if err := st.InsertEntry(context.Background(), entry); err != nil {
		t.Fatalf("failed to insert entry: %v", err)
	}
}

func TestAccountRoundtrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, st, "acc-1", ledger.AccountTypeDepository)

	got, err := st.GetAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.FamilyID != "fam-1" || got.Type != ledger.AccountTypeDepository || got.Currency != "USD" {
		t.Errorf("GetAccount returned %+v", got)
	}
	if got.LastSyncedAt != nil {
		t.Errorf("expected nil LastSyncedAt, got %v", got.LastSyncedAt)
	}

	if _, err := st.GetAccount(ctx, "missing"); err != sql.ErrNoRows {
		t.Errorf("GetAccount(missing) error = %v, want sql.ErrNoRows", err)
	}
}

func TestTouchSyncableSyncedAt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, st, "acc-1", ledger.AccountTypeDepository)

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ref := ledger.SyncableRef{Type: ledger.SyncableTypeAccount, ID: "acc-1"}
	if err := st.TouchSyncableSyncedAt(ctx, ref, at); err != nil {
		t.Fatalf("TouchSyncableSyncedAt: %v", err)
	}

	got, err := st.GetAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.LastSyncedAt == nil || !got.LastSyncedAt.Equal(at) {
		t.Errorf("LastSyncedAt = %v, want %v", got.LastSyncedAt, at)
	}

	famRef := ledger.SyncableRef{Type: ledger.SyncableTypeFamily, ID: "fam-1"}
	if err := st.TouchSyncableSyncedAt(ctx, famRef, at); err != nil {
		t.Fatalf("TouchSyncableSyncedAt(family): %v", err)
	}
	fam, err := st.GetFamily(ctx, "fam-1")
	if err != nil {
		t.Fatalf("GetFamily: %v", err)
	}
	if fam.LastSyncedAt == nil || !fam.LastSyncedAt.Equal(at) {
		t.Errorf("family LastSyncedAt = %v, want %v", fam.LastSyncedAt, at)
	}
}

func TestEntriesInWindowBoundsInclusive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, st, "acc-1", ledger.AccountTypeDepository)

	seedEntry(t, st, "acc-1", "2026-01-31", "-10", ledger.EntryKindTransaction)
	seedEntry(t, st, "acc-1", "2026-02-01", "-20", ledger.EntryKindTransaction)
	seedEntry(t, st, "acc-1", "2026-02-28", "-30", ledger.EntryKindTransaction)
	seedEntry(t, st, "acc-1", "2026-03-01", "-40", ledger.EntryKindTransaction)

	start, _ := ledger.ParseDate("2026-02-01")
	end, _ := ledger.ParseDate("2026-02-28")
	entries, err := st.EntriesInWindow(ctx, "acc-1", start, end)
	if err != nil {
		t.Fatalf("EntriesInWindow: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	// Both boundary dates included, neighbors excluded.
	if entries[0].Date.Format(ledger.DateLayout) != "2026-02-01" ||
		entries[1].Date.Format(ledger.DateLayout) != "2026-02-28" {
		t.Errorf("unexpected entry dates: %s, %s", entries[0].Date, entries[1].Date)
	}
}

func TestEarliestEntryDate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, st, "acc-1", ledger.AccountTypeDepository)

	if _, ok, err := st.EarliestEntryDate(ctx, "acc-1"); err != nil || ok {
		t.Fatalf("EarliestEntryDate(empty) = ok=%v err=%v, want ok=false", ok, err)
	}

	seedEntry(t, st, "acc-1", "2026-03-15", "-10", ledger.EntryKindTransaction)
	seedEntry(t, st, "acc-1", "2026-01-02", "-10", ledger.EntryKindTransaction)

	earliest, ok, err := st.EarliestEntryDate(ctx, "acc-1")
	if err != nil || !ok {
		t.Fatalf("EarliestEntryDate = ok=%v err=%v", ok, err)
	}
	if earliest.Format(ledger.DateLayout) != "2026-01-02" {
		t.Errorf("earliest = %s, want 2026-01-02", earliest.Format(ledger.DateLayout))
	}
}

func TestLatestBalanceBeforeIsStrict(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, st, "acc-1", ledger.AccountTypeDepository)

	write := func(date string, end decimal.Decimal) {
		d, _ := ledger.ParseDate(date)
		b := &ledger.Balance{
			AccountID:      account.ID,
			Date:           d,
			Balance:        end,
			CashBalance:    end,
			EndBalance:     end,
			EndCashBalance: end,
			FlowsFactor:    1,
			Currency:       "USD",
		}
		if err := st.ReplaceBalances(ctx, []*ledger.Balance{b}); err != nil {
			t.Fatalf("ReplaceBalances: %v", err)
		}
	}
	write("2026-02-01", decimal.NewFromInt(100))
	write("2026-02-02", decimal.NewFromInt(200))

	// Strictly before: a row on the query date itself must not count.
	d, _ := ledger.ParseDate("2026-02-02")
	prior, err := st.LatestBalanceBefore(ctx, account.ID, d)
	if err != nil {
		t.Fatalf("LatestBalanceBefore: %v", err)
	}
	if prior == nil {
		t.Fatal("expected a prior balance")
	}
	if !prior.EndCashBalance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("prior end cash = %s, want 100", prior.EndCashBalance)
	}

	first, _ := ledger.ParseDate("2026-02-01")
	prior, err = st.LatestBalanceBefore(ctx, account.ID, first)
	if err != nil {
		t.Fatalf("LatestBalanceBefore: %v", err)
	}
	if prior != nil {
		t.Errorf("expected nil prior before first row, got %+v", prior)
	}
}

func TestReplaceBalancesOverwrites(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, st, "acc-1", ledger.AccountTypeDepository)

	d, _ := ledger.ParseDate("2026-02-01")
	row := &ledger.Balance{
		AccountID: account.ID, Date: d,
		Balance: decimal.NewFromInt(100), CashBalance: decimal.NewFromInt(100),
		EndBalance: decimal.NewFromInt(100), EndCashBalance: decimal.NewFromInt(100),
		FlowsFactor: 1, Currency: "USD",
	}
	if err := st.ReplaceBalances(ctx, []*ledger.Balance{row}); err != nil {
		t.Fatalf("ReplaceBalances: %v", err)
	}

	row.EndBalance = decimal.NewFromInt(250)
	row.Balance = decimal.NewFromInt(250)
	if err := st.ReplaceBalances(ctx, []*ledger.Balance{row}); err != nil {
		t.Fatalf("ReplaceBalances (second): %v", err)
	}

	got, err := st.BalancesInWindow(ctx, account.ID, d, d)
	if err != nil {
		t.Fatalf("BalancesInWindow: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1 (replace, not duplicate)", len(got))
	}
	if !got[0].EndBalance.Equal(decimal.NewFromInt(250)) {
		t.Errorf("end balance = %s, want 250", got[0].EndBalance)
	}
}
