// Package importer ingests CSV entry files dropped into a watched
// directory. Each successfully imported file triggers a debounced sync
// for every account it touched, so a multi-account file schedules each
// account exactly once.
package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hendripermana/permoney/internal/ledger"
	"github.com/hendripermana/permoney/internal/store"
)

// Scheduler is the slice of the sync engine the importer needs.
type Scheduler interface {
	RequestDebounced(ref ledger.SyncableRef, window ledger.Window) error
}

// Importer parses entry CSV files and schedules syncs for the accounts
// they touch.
type Importer struct {
	store     *store.Store
	scheduler Scheduler
	logger    *log.Logger
}

// New creates an importer writing through the store.
func New(st *store.Store, scheduler Scheduler, logger *log.Logger) *Importer {
	if logger == nil {
		logger = log.Default()
	}
	return &Importer{store: st, scheduler: scheduler, logger: logger}
}

// Result summarizes one file import.
type Result struct {
	Entries  int
	Accounts []string
	Window   ledger.Window
}

// csv column layout, fixed order with a header row:
// account_id,date,kind,amount,currency,name
const expectedColumns = 6

// ImportFile parses one CSV file and inserts its entries. The whole
// file is validated row by row; a bad row aborts the import with its
// line number so nothing half-imported triggers a sync.
func (im *Importer) ImportFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	entries, err := im.parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if len(entries) == 0 {
		return &Result{}, nil
	}

	touched := make(map[string]ledger.Window)
	for _, e := range entries {
		if err := im.store.InsertEntry(ctx, e); err != nil {
			return nil, fmt.Errorf("failed to insert entry for account %s: %w", e.AccountID, err)
		}
		d := e.Date
		w := touched[e.AccountID]
		if w.Start == nil || d.Before(*w.Start) {
			w.Start = &d
		}
		if w.End == nil || d.After(*w.End) {
			w.End = &d
		}
		touched[e.AccountID] = w
	}

	result := &Result{Entries: len(entries)}
	for accountID, window := range touched {
		result.Accounts = append(result.Accounts, accountID)
		if result.Window.Start == nil {
			result.Window = window
		} else {
			result.Window = result.Window.Widen(window)
		}

		ref := ledger.SyncableRef{Type: ledger.SyncableTypeAccount, ID: accountID}
		if err := im.scheduler.RequestDebounced(ref, window); err != nil {
			im.logger.Printf("Warning: failed to schedule sync for %s: %v", ref, err)
		}
	}

	im.logger.Printf("Imported %d entries across %d accounts from %s",
		result.Entries, len(result.Accounts), filepath.Base(path))
	return result, nil
}

func (im *Importer) parse(r io.Reader) ([]*ledger.Entry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = expectedColumns
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if !strings.EqualFold(header[0], "account_id") {
		return nil, fmt.Errorf("unexpected header %q, want account_id,date,kind,amount,currency,name", header[0])
	}

	var entries []*ledger.Entry
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		entry, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseRecord(record []string) (*ledger.Entry, error) {
	accountID := strings.TrimSpace(record[0])
	if accountID == "" {
		return nil, fmt.Errorf("empty account_id")
	}

	date, err := ledger.ParseDate(strings.TrimSpace(record[1]))
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", record[1], err)
	}

	kind := ledger.EntryKind(strings.TrimSpace(record[2]))
	switch kind {
	case ledger.EntryKindTransaction, ledger.EntryKindValuation, ledger.EntryKindTransfer:
	default:
		return nil, fmt.Errorf("invalid kind %q", record[2])
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(record[3]))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", record[3], err)
	}

	currency := strings.ToUpper(strings.TrimSpace(record[4]))
	if currency == "" {
		return nil, fmt.Errorf("empty currency")
	}

	now := time.Now().UTC()
	return &ledger.Entry{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Date:      date,
		Amount:    amount,
		Currency:  currency,
		Kind:      kind,
		Name:      strings.TrimSpace(record[5]),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
