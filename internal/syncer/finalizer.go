package syncer

import (
	"context"
	"database/sql"
	"log"

	"github.com/hendripermana/permoney/internal/ledger"
	"github.com/hendripermana/permoney/internal/store"
)

// Finalizer moves syncs to their terminal status once all their
// children are terminal, runs post-sync hooks, and propagates the check
// up the parent chain.
//
// Deadlock safety rests on two rules:
//   - the finalization claim is a single atomic conditional UPDATE that
//     either wins immediately or gives up (no blocking waits), and
//   - parent and child are never claimed in the same transaction, so no
//     process ever holds one sync's claim while waiting on another's.
//
// A lost claim is not an error: the next trigger (a sibling finishing,
// or the executor's poll) retries. Finalization may be delayed but is
// never skipped permanently.
type Finalizer struct {
	store    *store.Store
	resolver *Resolver
	logger   *log.Logger
}

// Finalize finalizes the sync if all of its children are terminal, then
// recurses to its parent. Safe to call concurrently for the same sync:
// exactly one caller wins the claim and runs the hooks.
func (f *Finalizer) Finalize(ctx context.Context, syncID string) error {
	sync, err := f.store.GetSync(ctx, syncID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	// Fast precheck without the claim: skip the write path entirely
	// when the sync obviously isn't finalizable. The claim re-checks
	// atomically, so a state change between here and there is safe.
	if sync.FinalizedAt != nil {
		return f.finalizeParent(ctx, sync)
	}
	if !finalizable(sync.Status) {
		return nil
	}

	incomplete, err := f.store.IncompleteChildCount(ctx, syncID)
	if err != nil {
		return err
	}
	if incomplete > 0 {
		return nil
	}

	childFailed, err := f.store.HasFailedChild(ctx, syncID)
	if err != nil {
		return err
	}

	target := ledger.SyncStatusCompleted
	if sync.Status == ledger.SyncStatusFailed || childFailed {
		target = ledger.SyncStatusFailed
	}

	claimed, err := f.store.ClaimFinalize(ctx, syncID, target)
	if err != nil {
		return err
	}
	if !claimed {
		// Another process won the claim (or the state moved under us).
		// Give up immediately; a later trigger retries if needed.
		f.logger.Printf("Finalization of sync %s already claimed elsewhere", syncID)
		return nil
	}

	f.logger.Printf("Finalized sync %s for %s as %s", syncID, sync.Syncable, target)
	f.runPostSyncHooks(ctx, sync, target)

	return f.finalizeParent(ctx, sync)
}

// finalizeParent recurses upward, outside the child's claim.
func (f *Finalizer) finalizeParent(ctx context.Context, sync *ledger.Sync) error {
	if sync.ParentID == "" {
		return nil
	}
	return f.Finalize(ctx, sync.ParentID)
}

// runPostSyncHooks invokes the syncable's post-sync hook and broadcast.
// Hook failures are logged, never propagated: the sync is already
// terminal and the hooks are idempotent.
func (f *Finalizer) runPostSyncHooks(ctx context.Context, sync *ledger.Sync, status ledger.SyncStatus) {
	syncable, err := f.resolver.Resolve(ctx, sync.Syncable)
	if err != nil {
		f.logger.Printf("Warning: cannot run post-sync hooks for %s: %v", sync.Syncable, err)
		return
	}
	if err := syncable.PerformPostSync(ctx); err != nil {
		f.logger.Printf("Warning: post-sync hook for %s failed: %v", sync.Syncable, err)
	}
	syncable.BroadcastSyncComplete(status)
}

// finalizable states are those the claim may move to a terminal status:
// pending and syncing complete normally; failed re-finalizes in place
// so its parent still gets unblocked.
func finalizable(status ledger.SyncStatus) bool {
	switch status {
	case ledger.SyncStatusPending, ledger.SyncStatusSyncing, ledger.SyncStatusFailed:
		return true
	}
	return false
}
