package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hendripermana/permoney/internal/balance"
	"github.com/hendripermana/permoney/internal/ledger"
	"github.com/hendripermana/permoney/internal/store"
)

// Syncable is implemented by anything the engine can recompute.
// PerformSync does the actual work while the sync is in the syncing
// state; PerformPostSync and BroadcastSyncComplete run at finalization
// and must be idempotent (they may fire more than once across retries).
type Syncable interface {
	Ref() ledger.SyncableRef
	PerformSync(ctx context.Context, sync *ledger.Sync) (ledger.SyncStats, error)
	PerformPostSync(ctx context.Context) error
	BroadcastSyncComplete(status ledger.SyncStatus)
}

// Broadcaster receives sync lifecycle notifications for UI fan-out.
// The dashboard server implements it; a no-op is used when no dashboard
// is running.
type Broadcaster interface {
	SyncCompleted(ref ledger.SyncableRef, status ledger.SyncStatus)
}

// NopBroadcaster discards all notifications.
type NopBroadcaster struct{}

func (NopBroadcaster) SyncCompleted(ledger.SyncableRef, ledger.SyncStatus) {}

// Resolver constructs Syncable implementations from persistent refs.
type Resolver struct {
	store       *store.Store
	calculator  *balance.Calculator
	scheduler   *Scheduler
	broadcaster Broadcaster
}

// Resolve looks up the referenced entity and wraps it in its Syncable
// implementation. Dispatch is by syncable type, not runtime inspection.
func (r *Resolver) Resolve(ctx context.Context, ref ledger.SyncableRef) (Syncable, error) {
	switch ref.Type {
	case ledger.SyncableTypeAccount:
		account, err := r.store.GetAccount(ctx, ref.ID)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("account %s not found", ref.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load account %s: %w", ref.ID, err)
		}
		return &accountSyncable{
			account:     account,
			store:       r.store,
			calculator:  r.calculator,
			broadcaster: r.broadcaster,
		}, nil

	case ledger.SyncableTypeFamily:
		family, err := r.store.GetFamily(ctx, ref.ID)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("family %s not found", ref.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load family %s: %w", ref.ID, err)
		}
		return &familySyncable{
			family:      family,
			store:       r.store,
			scheduler:   r.scheduler,
			broadcaster: r.broadcaster,
		}, nil

	default:
		return nil, fmt.Errorf("unknown syncable type %q", ref.Type)
	}
}

// accountSyncable recomputes one account's balances over the sync window.
type accountSyncable struct {
	account     *ledger.Account
	store       *store.Store
	calculator  *balance.Calculator
	broadcaster Broadcaster
}

func (a *accountSyncable) Ref() ledger.SyncableRef {
	return ledger.SyncableRef{Type: ledger.SyncableTypeAccount, ID: a.account.ID}
}

func (a *accountSyncable) PerformSync(ctx context.Context, sync *ledger.Sync) (ledger.SyncStats, error) {
	started := time.Now()

	rows, err := a.calculator.Calculate(ctx, a.account, sync.Window)
	if err != nil {
		return ledger.SyncStats{}, err
	}

	stats := ledger.SyncStats{
		BalancesWritten: len(rows),
		DurationMS:      time.Since(started).Milliseconds(),
	}
	if len(rows) > 0 {
		stats.WindowStart = rows[0].Date.Format(ledger.DateLayout)
		stats.WindowEnd = rows[len(rows)-1].Date.Format(ledger.DateLayout)
	}
	return stats, nil
}

func (a *accountSyncable) PerformPostSync(ctx context.Context) error {
	return a.store.TouchSyncableSyncedAt(ctx, a.Ref(), time.Now().UTC())
}

func (a *accountSyncable) BroadcastSyncComplete(status ledger.SyncStatus) {
	a.broadcaster.SyncCompleted(a.Ref(), status)
}

// familySyncable fans out one child sync per account in the family.
// The family sync itself stays in syncing until the finalizer sees all
// children terminal.
type familySyncable struct {
	family      *ledger.Family
	store       *store.Store
	scheduler   *Scheduler
	broadcaster Broadcaster
}

func (f *familySyncable) Ref() ledger.SyncableRef {
	return ledger.SyncableRef{Type: ledger.SyncableTypeFamily, ID: f.family.ID}
}

func (f *familySyncable) PerformSync(ctx context.Context, sync *ledger.Sync) (ledger.SyncStats, error) {
	started := time.Now()

	accounts, err := f.store.ListFamilyAccounts(ctx, f.family.ID)
	if err != nil {
		return ledger.SyncStats{}, fmt.Errorf("failed to list family accounts: %w", err)
	}

	refs := make([]ledger.SyncableRef, 0, len(accounts))
	for _, account := range accounts {
		refs = append(refs, ledger.SyncableRef{Type: ledger.SyncableTypeAccount, ID: account.ID})
	}

	children, err := f.scheduler.SpawnChildren(ctx, sync.ID, refs, sync.Window)
	if err != nil {
		return ledger.SyncStats{}, fmt.Errorf("failed to spawn child syncs: %w", err)
	}

	return ledger.SyncStats{
		ChildrenSpawned: len(children),
		DurationMS:      time.Since(started).Milliseconds(),
	}, nil
}

func (f *familySyncable) PerformPostSync(ctx context.Context) error {
	return f.store.TouchSyncableSyncedAt(ctx, f.Ref(), time.Now().UTC())
}

func (f *familySyncable) BroadcastSyncComplete(status ledger.SyncStatus) {
	f.broadcaster.SyncCompleted(f.Ref(), status)
}
