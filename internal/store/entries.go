package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hendripermana/permoney/internal/ledger"
	"github.com/shopspring/decimal"
)

// InsertEntry inserts or updates a single entry.
func (s *Store) InsertEntry(ctx context.Context, e *ledger.Entry) error {
	query := `
	INSERT INTO entries (id, account_id, date, amount, currency, kind, name, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		account_id = excluded.account_id,
		date = excluded.date,
		amount = excluded.amount,
		currency = excluded.currency,
		kind = excluded.kind,
		name = excluded.name,
		updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := e.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}
	_, err := s.conn.ExecContext(ctx, query,
		e.ID, e.AccountID,
		e.Date.Format(ledger.DateLayout),
		e.Amount.String(),
		e.Currency, string(e.Kind), e.Name,
		createdAt.Format(time.RFC3339),
		updatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry %s: %w", e.ID, err)
	}
	return nil
}

// DeleteEntry removes an entry. Returns nil if it doesn't exist.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	return nil
}

// EntriesInWindow returns all entries for an account dated within
// [start, end] inclusive, ordered by date then creation time. The
// inclusive lower bound matters: a valuation dated exactly on the
// window start must be returned.
func (s *Store) EntriesInWindow(ctx context.Context, accountID string, start, end time.Time) ([]*ledger.Entry, error) {
	query := `
	SELECT id, account_id, date, amount, currency, kind, name, created_at, updated_at
	FROM entries
	WHERE account_id = ? AND date >= ? AND date <= ?
	ORDER BY date ASC, created_at ASC, id ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, accountID,
		start.Format(ledger.DateLayout), end.Format(ledger.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query entries for account %s: %w", accountID, err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// EarliestEntryDate returns the date of the account's first entry.
// ok is false if the account has no entries.
func (s *Store) EarliestEntryDate(ctx context.Context, accountID string) (time.Time, bool, error) {
	var dateStr sql.NullString
	err := s.conn.QueryRowContext(ctx,
		"SELECT MIN(date) FROM entries WHERE account_id = ?", accountID).Scan(&dateStr)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query earliest entry date: %w", err)
	}
	if !dateStr.Valid {
		return time.Time{}, false, nil
	}
	t, err := ledger.ParseDate(dateStr.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse earliest entry date %q: %w", dateStr.String, err)
	}
	return t, true, nil
}

// scanEntries reads entry rows into domain records.
func scanEntries(rows *sql.Rows) ([]*ledger.Entry, error) {
	var entries []*ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var dateStr, amountStr, kind, createdAt, updatedAt string
		if err := rows.Scan(&e.ID, &e.AccountID, &dateStr, &amountStr, &e.Currency, &kind, &e.Name, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}

		date, err := ledger.ParseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse entry date %q: %w", dateStr, err)
		}
		e.Date = date

		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse entry amount %q: %w", amountStr, err)
		}
		e.Amount = amount

		e.Kind = ledger.EntryKind(kind)
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			e.UpdatedAt = t
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}
	return entries, nil
}
