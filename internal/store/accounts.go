package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hendripermana/permoney/internal/ledger"
)

// UpsertFamily inserts or updates a family.
func (s *Store) UpsertFamily(ctx context.Context, f *ledger.Family) error {
	query := `
	INSERT INTO families (id, name, currency, created_at, last_synced_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		currency = excluded.currency
	`
	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.conn.ExecContext(ctx, query,
		f.ID, f.Name, f.Currency,
		createdAt.Format(time.RFC3339),
		timeToNullString(f.LastSyncedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert family %s: %w", f.ID, err)
	}
	return nil
}

// UpsertAccount inserts or updates an account.
func (s *Store) UpsertAccount(ctx context.Context, a *ledger.Account) error {
	query := `
	INSERT INTO accounts (id, family_id, name, type, currency, created_at, last_synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		family_id = excluded.family_id,
		name = excluded.name,
		type = excluded.type,
		currency = excluded.currency
	`
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.conn.ExecContext(ctx, query,
		a.ID, a.FamilyID, a.Name, string(a.Type), a.Currency,
		createdAt.Format(time.RFC3339),
		timeToNullString(a.LastSyncedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account %s: %w", a.ID, err)
	}
	return nil
}

// GetAccount retrieves a single account by ID.
// Returns sql.ErrNoRows if the account is not found.
func (s *Store) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	query := `
	SELECT id, family_id, name, type, currency, created_at, last_synced_at
	FROM accounts WHERE id = ?
	`
	row := s.conn.QueryRowContext(ctx, query, id)

	var a ledger.Account
	var typ, createdAt string
	var lastSynced sql.NullString
	if err := row.Scan(&a.ID, &a.FamilyID, &a.Name, &typ, &a.Currency, &createdAt, &lastSynced); err != nil {
		return nil, err
	}
	a.Type = ledger.AccountType(typ)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		a.CreatedAt = t
	}
	a.LastSyncedAt = nullStringToTime(lastSynced)
	return &a, nil
}

// GetFamily retrieves a single family by ID.
// Returns sql.ErrNoRows if the family is not found.
func (s *Store) GetFamily(ctx context.Context, id string) (*ledger.Family, error) {
	query := `
	SELECT id, name, currency, created_at, last_synced_at
	FROM families WHERE id = ?
	`
	row := s.conn.QueryRowContext(ctx, query, id)

	var f ledger.Family
	var createdAt string
	var lastSynced sql.NullString
	if err := row.Scan(&f.ID, &f.Name, &f.Currency, &createdAt, &lastSynced); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		f.CreatedAt = t
	}
	f.LastSyncedAt = nullStringToTime(lastSynced)
	return &f, nil
}

// ListFamilyAccounts returns all accounts belonging to a family,
// ordered by creation time.
func (s *Store) ListFamilyAccounts(ctx context.Context, familyID string) ([]*ledger.Account, error) {
	query := `
	SELECT id, family_id, name, type, currency, created_at, last_synced_at
	FROM accounts WHERE family_id = ?
	ORDER BY created_at ASC, id ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts for family %s: %w", familyID, err)
	}
	defer rows.Close()

	var accounts []*ledger.Account
	for rows.Next() {
		var a ledger.Account
		var typ, createdAt string
		var lastSynced sql.NullString
		if err := rows.Scan(&a.ID, &a.FamilyID, &a.Name, &typ, &a.Currency, &createdAt, &lastSynced); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.Type = ledger.AccountType(typ)
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			a.CreatedAt = t
		}
		a.LastSyncedAt = nullStringToTime(lastSynced)
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

// TouchSyncableSyncedAt updates the syncable's last sync activity
// timestamp. Called when a sync is created or widened for it.
func (s *Store) TouchSyncableSyncedAt(ctx context.Context, ref ledger.SyncableRef, at time.Time) error {
	table := "accounts"
	if ref.Type == ledger.SyncableTypeFamily {
		table = "families"
	}
	query := fmt.Sprintf("UPDATE %s SET last_synced_at = ? WHERE id = ?", table)
	if _, err := s.conn.ExecContext(ctx, query, at.UTC().Format(time.RFC3339), ref.ID); err != nil {
		return fmt.Errorf("failed to touch %s: %w", ref, err)
	}
	return nil
}
