package importer

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/hendripermana/permoney/internal/ledger"
	"github.com/hendripermana/permoney/internal/store"
)

type recordingScheduler struct {
	requests map[ledger.SyncableRef]ledger.Window
}

func (r *recordingScheduler) RequestDebounced(ref ledger.SyncableRef, window ledger.Window) error {
	if r.requests == nil {
		r.requests = make(map[ledger.SyncableRef]ledger.Window)
	}
	r.requests[ref] = window
	return nil
}

func newTestImporter(t *testing.T) (*Importer, *store.Store, *recordingScheduler) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	if err := st.UpsertFamily(ctx, &ledger.Family{ID: "fam-1", Name: "Family", Currency: "USD"}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"acc-1", "acc-2"} {
		err := st.UpsertAccount(ctx, &ledger.Account{
			ID: id, FamilyID: "fam-1", Name: id,
			Type: ledger.AccountTypeDepository, Currency: "USD",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	scheduler := &recordingScheduler{}
	im := New(st, scheduler, log.New(io.Discard, "", 0))
	return im, st, scheduler
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entries.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportFile(t *testing.T) {
	im, st, scheduler := newTestImporter(t)

	path := writeCSV(t, `account_id,date,kind,amount,currency,name
acc-1,2026-01-05,transaction,-100.50,USD,Salary
acc-1,2026-01-20,transaction,42.00,USD,Groceries
acc-2,2026-01-10,valuation,5000,USD,Statement balance
`)

	result, err := im.ImportFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if result.Entries != 3 {
		t.Errorf("entries = %d, want 3", result.Entries)
	}
	if len(result.Accounts) != 2 {
		t.Errorf("accounts = %v, want 2", result.Accounts)
	}

	// Each account got a sync request over the window of its own dates.
	ref1 := ledger.SyncableRef{Type: ledger.SyncableTypeAccount, ID: "acc-1"}
	if got := scheduler.requests[ref1].String(); got != "[2026-01-05, 2026-01-20]" {
		t.Errorf("acc-1 window = %s, want [2026-01-05, 2026-01-20]", got)
	}
	ref2 := ledger.SyncableRef{Type: ledger.SyncableTypeAccount, ID: "acc-2"}
	if got := scheduler.requests[ref2].String(); got != "[2026-01-10, 2026-01-10]" {
		t.Errorf("acc-2 window = %s, want [2026-01-10, 2026-01-10]", got)
	}

	start, _ := ledger.ParseDate("2026-01-01")
	end, _ := ledger.ParseDate("2026-01-31")
	entries, err := st.EntriesInWindow(context.Background(), "acc-1", start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("stored %d acc-1 entries, want 2", len(entries))
	}
	if entries[0].Amount.String() != "-100.5" || entries[0].Name != "Salary" {
		t.Errorf("entry = %s %q", entries[0].Amount, entries[0].Name)
	}

	valuations, err := st.EntriesInWindow(context.Background(), "acc-2", start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(valuations) != 1 || valuations[0].Kind != ledger.EntryKindValuation {
		t.Errorf("acc-2 entries = %+v", valuations)
	}
}

func TestImportFileRejectsBadRows(t *testing.T) {
	im, st, scheduler := newTestImporter(t)

	tests := []struct {
		name string
		csv  string
	}{
		{"bad date", "account_id,date,kind,amount,currency,name\nacc-1,01/05/2026,transaction,-1,USD,x\n"},
		{"bad kind", "account_id,date,kind,amount,currency,name\nacc-1,2026-01-05,deposit,-1,USD,x\n"},
		{"bad amount", "account_id,date,kind,amount,currency,name\nacc-1,2026-01-05,transaction,ten,USD,x\n"},
		{"empty account", "account_id,date,kind,amount,currency,name\n,2026-01-05,transaction,-1,USD,x\n"},
		{"wrong header", "id,when,type,value,ccy,label\nacc-1,2026-01-05,transaction,-1,USD,x\n"},
		{"short row", "account_id,date,kind,amount,currency,name\nacc-1,2026-01-05,transaction\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCSV(t, tt.csv)
			if _, err := im.ImportFile(context.Background(), path); err == nil {
				t.Error("expected an error")
			}
		})
	}

	// Nothing was half-imported and no syncs were scheduled.
	start, _ := ledger.ParseDate("2026-01-01")
	end, _ := ledger.ParseDate("2026-12-31")
	entries, err := st.EntriesInWindow(context.Background(), "acc-1", start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("%d entries stored from rejected files", len(entries))
	}
	if len(scheduler.requests) != 0 {
		t.Errorf("syncs scheduled from rejected files: %v", scheduler.requests)
	}
}

func TestImportFileEmpty(t *testing.T) {
	im, _, scheduler := newTestImporter(t)

	path := writeCSV(t, "account_id,date,kind,amount,currency,name\n")
	result, err := im.ImportFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if result.Entries != 0 || len(scheduler.requests) != 0 {
		t.Errorf("result = %+v, requests = %v", result, scheduler.requests)
	}
}
