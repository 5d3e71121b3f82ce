package syncer

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/hendripermana/permoney/internal/ledger"
	"github.com/hendripermana/permoney/internal/store"
)

// Scheduler turns "resync syncable S over window W" requests into the
// single canonical pending Sync row per syncable, and hands new rows to
// the executor. Enqueue happens only after the row is durably committed
// so a worker can never pick up a sync it cannot read.
type Scheduler struct {
	store  *store.Store
	queue  chan<- string
	logger *log.Logger

	debounceInterval time.Duration

	// Debounce state: per-syncable accumulated window and timer.
	mu      sync.Mutex
	pending map[ledger.SyncableRef]*debounced
}

type debounced struct {
	window ledger.Window
	timer  *time.Timer
}

func newScheduler(st *store.Store, queue chan<- string, debounce time.Duration, logger *log.Logger) *Scheduler {
	return &Scheduler{
		store:            st,
		queue:            queue,
		logger:           logger,
		debounceInterval: debounce,
		pending:          make(map[ledger.SyncableRef]*debounced),
	}
}

// Request finds or creates the pending sync for the syncable, widening
// an existing pending window instead of duplicating it. On creation the
// sync is enqueued for asynchronous execution and the syncable's last
// sync activity timestamp is touched.
//
// Returns ledger.ErrInvalidWindow for a window whose start is after its
// end; validation errors never enter the async pipeline.
func (s *Scheduler) Request(ctx context.Context, ref ledger.SyncableRef, window ledger.Window) (*ledger.Sync, error) {
	sync, created, err := s.store.CreateOrWidenSync(ctx, ref, window)
	if err != nil {
		return nil, err
	}

	if err := s.store.TouchSyncableSyncedAt(ctx, ref, time.Now().UTC()); err != nil {
		s.logger.Printf("Warning: failed to touch %s: %v", ref, err)
	}

	if created {
		s.logger.Printf("Scheduled sync %s for %s window %s", sync.ID, ref, sync.Window)
		s.enqueue(sync.ID)
	} else {
		s.logger.Printf("Widened pending sync %s for %s to window %s", sync.ID, ref, sync.Window)
	}
	return sync, nil
}

// SpawnChildren creates one child sync per ref under the parent, in a
// single transaction, then enqueues them. Children are always fresh
// rows (never widened into) so the parent's finalization accounts for
// exactly the rows it spawned.
func (s *Scheduler) SpawnChildren(ctx context.Context, parentID string, refs []ledger.SyncableRef, window ledger.Window) ([]*ledger.Sync, error) {
	syncs, err := s.store.CreateChildSyncs(ctx, parentID, refs, window)
	if err != nil {
		return nil, err
	}
	for _, sync := range syncs {
		s.logger.Printf("Scheduled child sync %s for %s under %s", sync.ID, sync.Syncable, parentID)
		s.enqueue(sync.ID)
	}
	return syncs, nil
}

// RequestDebounced coalesces rapid-fire requests for the same syncable:
// the window accumulates (widens) while requests keep arriving, and one
// Request fires once they go quiet for the debounce interval. Safe for
// per-edit triggers; a late wider request subsumes earlier narrower ones.
func (s *Scheduler) RequestDebounced(ref ledger.SyncableRef, window ledger.Window) error {
	if err := window.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.pending[ref]; ok {
		d.window = d.window.Widen(window)
		d.timer.Reset(s.debounceInterval)
		return nil
	}

	d := &debounced{window: window}
	d.timer = time.AfterFunc(s.debounceInterval, func() {
		s.mu.Lock()
		w := d.window
		delete(s.pending, ref)
		s.mu.Unlock()

		if _, err := s.Request(context.Background(), ref, w); err != nil {
			s.logger.Printf("Error scheduling debounced sync for %s: %v", ref, err)
		}
	})
	s.pending[ref] = d
	return nil
}

// enqueue hands a sync ID to the worker pool without blocking. A full
// queue is not an error: the executor's poll loop picks up any pending
// sync the channel missed.
func (s *Scheduler) enqueue(id string) {
	select {
	case s.queue <- id:
	default:
		s.logger.Printf("Warning: sync queue full, %s will be picked up by polling", id)
	}
}
