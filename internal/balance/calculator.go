// Package balance implements the windowed forward balance calculator.
//
// Given an account and an inclusive date window, the calculator rebuilds
// one Balance row per day from the account's entries: each day's starting
// balance is the previous day's ending balance, signed flows are applied
// through the account's flows factor, and valuation entries anchor the
// ending balance on their date. Output is written via full replace-or-
// insert per (account, date) and is byte-identical across re-runs over
// unchanged entries.
package balance

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hendripermana/permoney/internal/ledger"
	"github.com/hendripermana/permoney/internal/store"
	"github.com/shopspring/decimal"
)

// Calculator recomputes per-day balances for accounts.
type Calculator struct {
	store *store.Store

	// minSupportedDate clamps how far back a window may reach.
	minSupportedDate time.Time

	logger *log.Logger
}

// Config holds calculator configuration.
type Config struct {
	// MinSupportedDate is the fixed historical horizon; windows are
	// clamped so they never start before it.
	MinSupportedDate time.Time

	// Logger for calculator activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MinSupportedDate: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		Logger:           log.New(os.Stderr, "[balance] ", log.LstdFlags),
	}
}

// New creates a Calculator backed by the given store.
func New(st *store.Store, config *Config) *Calculator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[balance] ", log.LstdFlags)
	}
	return &Calculator{
		store:            st,
		minSupportedDate: ledger.Day(config.MinSupportedDate),
		logger:           config.Logger,
	}
}

// Calculate recomputes and writes the account's balance rows for the
// given window, returning the rows written in ascending date order.
//
// Unbounded window sides resolve at execution time: a nil start becomes
// the account's earliest entry date, a nil end becomes today. The
// resolved start is clamped to the minimum supported date.
//
// The first day's starting balance comes from the most recent balance
// row strictly before the window - a window is never computed as if the
// account started it at zero.
func (c *Calculator) Calculate(ctx context.Context, account *ledger.Account, window ledger.Window) ([]*ledger.Balance, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}

	start, end, empty, err := c.resolveWindow(ctx, account, window)
	if err != nil {
		return nil, err
	}
	if empty {
		c.logger.Printf("Account %s has no entries and no window bounds; nothing to compute", account.ID)
		return nil, nil
	}

	entries, err := c.store.EntriesInWindow(ctx, account.ID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}

	prior, err := c.store.LatestBalanceBefore(ctx, account.ID, start)
	if err != nil {
		return nil, fmt.Errorf("failed to load prior balance: %w", err)
	}

	byDay := groupByDay(entries)

	var (
		rows      []*ledger.Balance
		startCash = decimal.Zero
		startNon  = decimal.Zero
	)
	if prior != nil {
		startCash = prior.EndCashBalance
		startNon = prior.EndNonCashBalance
	}

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		row := computeDay(account, day, startCash, startNon, byDay[day.Format(ledger.DateLayout)])
		rows = append(rows, row)

		// Next day starts where this one ended.
		startCash = row.EndCashBalance
		startNon = row.EndNonCashBalance
	}

	if err := c.store.ReplaceBalances(ctx, rows); err != nil {
		return nil, fmt.Errorf("failed to write balances: %w", err)
	}

	c.logger.Printf("Computed %d balance rows for account %s over %s to %s",
		len(rows), account.ID, start.Format(ledger.DateLayout), end.Format(ledger.DateLayout))
	return rows, nil
}

// resolveWindow turns a possibly-unbounded window into concrete dates.
// empty is true when the account has no entries and no explicit bounds.
func (c *Calculator) resolveWindow(ctx context.Context, account *ledger.Account, window ledger.Window) (start, end time.Time, empty bool, err error) {
	if window.End != nil {
		end = ledger.Day(*window.End)
	} else {
		end = ledger.Day(time.Now().UTC())
	}

	if window.Start != nil {
		start = ledger.Day(*window.Start)
	} else {
		earliest, ok, err := c.store.EarliestEntryDate(ctx, account.ID)
		if err != nil {
			return time.Time{}, time.Time{}, false, err
		}
		if !ok {
			return time.Time{}, time.Time{}, true, nil
		}
		start = earliest
	}

	if start.Before(c.minSupportedDate) {
		start = c.minSupportedDate
	}
	if end.Before(start) {
		end = start
	}
	return start, end, false, nil
}

// groupByDay buckets entries by their canonical date string.
func groupByDay(entries []*ledger.Entry) map[string][]*ledger.Entry {
	byDay := make(map[string][]*ledger.Entry)
	for _, e := range entries {
		key := e.Date.Format(ledger.DateLayout)
		byDay[key] = append(byDay[key], e)
	}
	return byDay
}

// computeDay builds the balance row for one day from the day's entries
// and the prior day's ending state.
//
// Sign convention: an entry's raw amount is negative for inflows and
// positive for outflows regardless of account classification. The flows
// factor (+1 asset, -1 liability) converts the net flow into a balance
// delta: assets grow with inflows, liabilities grow with outflows.
func computeDay(account *ledger.Account, day time.Time, startCash, startNonCash decimal.Decimal, entries []*ledger.Entry) *ledger.Balance {
	factor := decimal.NewFromInt(int64(account.FlowsFactor()))

	var (
		cashInflows  = decimal.Zero
		cashOutflows = decimal.Zero
		anchor       *decimal.Decimal
	)

	for _, e := range entries {
		if e.IsAnchor() {
			// Last anchor on the day wins; entries arrive ordered by
			// creation time.
			v := e.Amount
			anchor = &v
			continue
		}
		if e.Amount.IsNegative() {
			cashInflows = cashInflows.Add(e.Amount.Abs())
		} else {
			cashOutflows = cashOutflows.Add(e.Amount)
		}
	}

	// Flow-derived ending state before any anchor override.
	netFlow := cashInflows.Sub(cashOutflows).Mul(factor)
	endCash := startCash.Add(netFlow)
	endNonCash := startNonCash

	var (
		netMarketFlows = decimal.Zero
		cashAdj        = decimal.Zero
		nonCashAdj     = decimal.Zero
	)

	if anchor != nil {
		if account.HoldsNonCash() {
			// The anchor fixes total value; the non-cash component
			// absorbs whatever the cash flows don't explain.
			newNonCash := anchor.Sub(endCash)
			diff := newNonCash.Sub(endNonCash)
			if account.Type == ledger.AccountTypeInvestment {
				netMarketFlows = diff
			} else {
				nonCashAdj = diff
			}
			endNonCash = newNonCash
		} else {
			cashAdj = anchor.Sub(endCash)
			endCash = *anchor
		}
	}

	endTotal := endCash.Add(endNonCash)

	return &ledger.Balance{
		AccountID:           account.ID,
		Date:                day,
		Balance:             endTotal,
		CashBalance:         endCash,
		StartBalance:        startCash.Add(startNonCash),
		EndBalance:          endTotal,
		StartCashBalance:    startCash,
		EndCashBalance:      endCash,
		StartNonCashBalance: startNonCash,
		EndNonCashBalance:   endNonCash,
		CashInflows:         cashInflows,
		CashOutflows:        cashOutflows,
		NonCashInflows:      decimal.Zero,
		NonCashOutflows:     decimal.Zero,
		NetMarketFlows:      netMarketFlows,
		CashAdjustments:     cashAdj,
		NonCashAdjustments:  nonCashAdj,
		FlowsFactor:         account.FlowsFactor(),
		Currency:            account.Currency,
	}
}
