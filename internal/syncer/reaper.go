package syncer

import (
	"context"
	"log"
	"time"

	"github.com/hendripermana/permoney/internal/store"
)

// Reaper marks abandoned syncs stale and prunes old finalized rows.
// Two independent thresholds catch different failure modes: a blanket
// age cutoff for syncs that never progressed, and a tighter cutoff for
// syncs stuck mid-execution (a crashed worker leaves the row in
// syncing forever; no process will ever touch it again).
type Reaper struct {
	store     *store.Store
	finalizer *Finalizer
	logger    *log.Logger

	staleAfter        time.Duration
	syncingStaleAfter time.Duration
	minimumStaleAge   time.Duration
	retentionPeriod   time.Duration
	interval          time.Duration
}

// Clean runs one reaping pass: mark stale, then prune finalized syncs
// past the retention period. Stale rows keep finalized_at unset so they
// survive pruning until a later pass finds them finalized by hand.
func (r *Reaper) Clean(ctx context.Context) error {
	now := time.Now().UTC()

	aged, err := r.store.MarkStaleOlderThan(ctx, now.Add(-r.staleAfter))
	if err != nil {
		return err
	}

	// Stuck-in-syncing needs both cutoffs: recently created syncs get
	// the benefit of the doubt even if they have been syncing a while.
	stuck, err := r.store.MarkStuckSyncing(ctx,
		now.Add(-r.syncingStaleAfter),
		now.Add(-r.minimumStaleAge))
	if err != nil {
		return err
	}

	if aged+stuck > 0 {
		r.logger.Printf("Marked %d syncs stale (%d aged out, %d stuck in syncing)", aged+stuck, aged, stuck)
	}

	// A staled child never triggers finalization on its own (the worker
	// that would have finished it is gone), so settle its parent here.
	// Stale children poison the parent to failed; the finalizer skips
	// any parent that still has incomplete children.
	parents, err := r.store.ListParentsWithStaleChildren(ctx)
	if err != nil {
		return err
	}
	for _, id := range parents {
		if err := r.finalizer.Finalize(ctx, id); err != nil {
			r.logger.Printf("Error finalizing parent %s of stale sync: %v", id, err)
		}
	}

	if r.retentionPeriod > 0 {
		pruned, err := r.store.PruneFinalizedBefore(ctx, now.Add(-r.retentionPeriod))
		if err != nil {
			return err
		}
		if pruned > 0 {
			r.logger.Printf("Pruned %d finalized syncs older than %s", pruned, r.retentionPeriod)
		}
	}
	return nil
}

// run cleans on a ticker until ctx is cancelled.
func (r *Reaper) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Clean(ctx); err != nil {
				r.logger.Printf("Error cleaning syncs: %v", err)
			}
		}
	}
}
