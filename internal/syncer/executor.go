package syncer

import (
	"context"
	"log"
	"time"

	"github.com/hendripermana/permoney/internal/ledger"
	"github.com/hendripermana/permoney/internal/store"
)

// ErrorReporter receives execution errors with contextual tags, the way
// an error-tracking service would. The default implementation logs.
type ErrorReporter interface {
	ReportError(err error, tags map[string]string)
}

// LogReporter writes reported errors to a logger.
type LogReporter struct {
	Logger *log.Logger
}

func (r LogReporter) ReportError(err error, tags map[string]string) {
	r.Logger.Printf("Reported error: %v (tags: %v)", err, tags)
}

// Executor runs syncs on a pool of workers. IDs arrive on the queue
// channel from the Scheduler; a polling loop additionally picks up
// pending rows whose enqueue was lost (process restart, full channel).
// The pending-only start claim makes duplicate delivery harmless.
type Executor struct {
	store     *store.Store
	resolver  *Resolver
	finalizer *Finalizer
	reporter  ErrorReporter
	logger    *log.Logger

	queue         <-chan string
	workers       int
	pollInterval  time.Duration
	maxDailySyncs int
}

// run starts the worker pool and poll loop, blocking until ctx is done.
func (e *Executor) run(ctx context.Context) {
	done := make(chan struct{})
	for i := 0; i < e.workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			e.workerLoop(ctx)
		}()
	}
	e.pollLoop(ctx)
	for i := 0; i < e.workers; i++ {
		<-done
	}
}

func (e *Executor) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-e.queue:
			e.Process(ctx, id)
		}
	}
}

// pollLoop periodically re-enqueues pending syncs as a catch-up path.
func (e *Executor) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := e.store.ListPendingSyncIDs(ctx, 100)
			if err != nil {
				e.logger.Printf("Error polling pending syncs: %v", err)
				continue
			}
			for _, id := range ids {
				e.Process(ctx, id)
			}
		}
	}
}

// Process runs one sync end to end: claim the pending->syncing
// transition, execute the syncable's work, record the outcome, and
// trigger finalization. Safe to call with an ID that is no longer
// pending; the claim fails and the call is a logged no-op.
//
// The sync row is read only after the claim succeeds. Reading first
// would execute a stale snapshot: a request widening the still-pending
// window between the read and the claim would be silently dropped,
// with the sync finalizing as completed over the narrow window. After
// the claim the row is frozen (widens land on a fresh pending sync),
// so the post-claim read is the window of record.
func (e *Executor) Process(ctx context.Context, id string) {
	claimed, err := e.store.ClaimStart(ctx, id)
	if err != nil {
		e.logger.Printf("Error claiming sync %s: %v", id, err)
		return
	}
	if !claimed {
		// Missing row, re-delivered job or already-started sync; the
		// pending-only guard makes this a no-op.
		e.logger.Printf("Sync %s is not pending, skipping", id)
		return
	}

	sync, err := e.store.GetSync(ctx, id)
	if err != nil {
		// The claim succeeded, so the row exists; this is a transient
		// read failure. Leave the sync in syncing for the reaper.
		e.logger.Printf("Error loading claimed sync %s: %v", id, err)
		return
	}

	e.warnOnExcessiveSyncs(ctx, sync.Syncable)
	e.execute(ctx, sync)

	if err := e.finalizer.Finalize(ctx, id); err != nil {
		e.logger.Printf("Error finalizing sync %s: %v", id, err)
	}
}

// execute delegates to the syncable's sync routine. Any error is caught
// here: it is recorded on the sync, reported with context, and the sync
// transitions to failed - it never propagates, so finalization always
// runs and the parent tree cannot deadlock on a sync that will never
// complete.
func (e *Executor) execute(ctx context.Context, sync *ledger.Sync) {
	syncable, err := e.resolver.Resolve(ctx, sync.Syncable)
	if err != nil {
		e.fail(ctx, sync, err)
		return
	}

	stats, err := syncable.PerformSync(ctx, sync)
	if err != nil {
		e.fail(ctx, sync, err)
		return
	}

	if err := e.store.RecordSyncStats(ctx, sync.ID, stats); err != nil {
		e.logger.Printf("Warning: failed to record stats for sync %s: %v", sync.ID, err)
	}
}

func (e *Executor) fail(ctx context.Context, sync *ledger.Sync, cause error) {
	e.logger.Printf("Sync %s failed: %v", sync.ID, cause)
	e.reporter.ReportError(cause, map[string]string{
		"sync_id":  sync.ID,
		"syncable": sync.Syncable.String(),
		"window":   sync.Window.String(),
	})

	if _, err := e.store.MarkFailed(ctx, sync.ID, cause.Error()); err != nil {
		e.logger.Printf("Error marking sync %s failed: %v", sync.ID, err)
	}
}

// warnOnExcessiveSyncs emits a diagnostic when a syncable has been
// synced an unusual number of times today. That signals a scheduling
// bug upstream (a trigger loop), not a fatal condition.
func (e *Executor) warnOnExcessiveSyncs(ctx context.Context, ref ledger.SyncableRef) {
	if e.maxDailySyncs <= 0 {
		return
	}
	dayStart := ledger.Day(time.Now().UTC())
	count, err := e.store.CountSyncsSince(ctx, ref, dayStart)
	if err != nil {
		e.logger.Printf("Error counting daily syncs for %s: %v", ref, err)
		return
	}
	if count > e.maxDailySyncs {
		e.logger.Printf("Warning: %s has been synced %d times today (threshold %d); check for a scheduling loop",
			ref, count, e.maxDailySyncs)
	}
}
