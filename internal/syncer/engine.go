package syncer

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/hendripermana/permoney/internal/balance"
	"github.com/hendripermana/permoney/internal/ledger"
	"github.com/hendripermana/permoney/internal/store"
)

// Config controls the sync engine's concurrency, timing thresholds and
// collaborators. Zero values are filled from DefaultConfig.
type Config struct {
	// Workers is the number of concurrent sync executors.
	Workers int

	// QueueSize bounds the in-memory sync ID channel. Overflow is safe:
	// the poll loop picks up anything the channel dropped.
	QueueSize int

	// PollInterval is how often the executor sweeps for pending syncs
	// that missed the queue.
	PollInterval time.Duration

	// DebounceInterval coalesces rapid-fire sync requests per syncable.
	DebounceInterval time.Duration

	// StaleAfter is the age past which any incomplete sync is abandoned.
	StaleAfter time.Duration

	// SyncingStaleAfter marks a sync stuck in syncing for this long,
	// provided it is also older than MinimumStaleAge overall.
	SyncingStaleAfter time.Duration
	MinimumStaleAge   time.Duration

	// CleanInterval is how often the reaper runs.
	CleanInterval time.Duration

	// VisibilityWindow is how far back IsSyncing looks for incomplete
	// syncs; older ones are presumed abandoned and not shown as activity.
	VisibilityWindow time.Duration

	// MaxDailySyncs triggers a warning when one syncable exceeds it in a
	// day. Zero disables the check.
	MaxDailySyncs int

	// RetentionPeriod prunes finalized syncs older than this. Zero keeps
	// everything.
	RetentionPeriod time.Duration

	// MinSupportedDate clamps how far back balance windows may reach.
	MinSupportedDate time.Time

	Logger      *log.Logger
	Broadcaster Broadcaster
	Reporter    ErrorReporter
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	logger := log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	return Config{
		Workers:           4,
		QueueSize:         256,
		PollInterval:      30 * time.Second,
		DebounceInterval:  2 * time.Second,
		StaleAfter:        24 * time.Hour,
		SyncingStaleAfter: 10 * time.Minute,
		MinimumStaleAge:   1 * time.Hour,
		CleanInterval:     1 * time.Hour,
		VisibilityWindow:  5 * time.Minute,
		MaxDailySyncs:     10,
		RetentionPeriod:   90 * 24 * time.Hour,
		MinSupportedDate:  time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		Logger:            logger,
		Broadcaster:       NopBroadcaster{},
		Reporter:          LogReporter{Logger: logger},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = d.DebounceInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.SyncingStaleAfter <= 0 {
		c.SyncingStaleAfter = d.SyncingStaleAfter
	}
	if c.MinimumStaleAge <= 0 {
		c.MinimumStaleAge = d.MinimumStaleAge
	}
	if c.CleanInterval <= 0 {
		c.CleanInterval = d.CleanInterval
	}
	if c.VisibilityWindow <= 0 {
		c.VisibilityWindow = d.VisibilityWindow
	}
	if c.MinSupportedDate.IsZero() {
		c.MinSupportedDate = d.MinSupportedDate
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if c.Broadcaster == nil {
		c.Broadcaster = d.Broadcaster
	}
	if c.Reporter == nil {
		c.Reporter = LogReporter{Logger: c.Logger}
	}
	return c
}

// Engine owns the full sync pipeline: scheduler, worker pool, finalizer
// and reaper, all sharing one store and one in-memory queue.
type Engine struct {
	store     *store.Store
	config    Config
	scheduler *Scheduler
	executor  *Executor
	finalizer *Finalizer
	reaper    *Reaper

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an engine around the store. Nothing runs until Start.
func New(st *store.Store, config Config) *Engine {
	config = config.withDefaults()

	queue := make(chan string, config.QueueSize)
	calculator := balance.New(st, &balance.Config{
		MinSupportedDate: config.MinSupportedDate,
		Logger:           config.Logger,
	})

	scheduler := newScheduler(st, queue, config.DebounceInterval, config.Logger)
	resolver := &Resolver{
		store:       st,
		calculator:  calculator,
		scheduler:   scheduler,
		broadcaster: config.Broadcaster,
	}
	finalizer := &Finalizer{
		store:    st,
		resolver: resolver,
		logger:   config.Logger,
	}
	executor := &Executor{
		store:         st,
		resolver:      resolver,
		finalizer:     finalizer,
		reporter:      config.Reporter,
		logger:        config.Logger,
		queue:         queue,
		workers:       config.Workers,
		pollInterval:  config.PollInterval,
		maxDailySyncs: config.MaxDailySyncs,
	}
	reaper := &Reaper{
		store:             st,
		finalizer:         finalizer,
		logger:            config.Logger,
		staleAfter:        config.StaleAfter,
		syncingStaleAfter: config.SyncingStaleAfter,
		minimumStaleAge:   config.MinimumStaleAge,
		retentionPeriod:   config.RetentionPeriod,
		interval:          config.CleanInterval,
	}

	return &Engine{
		store:     st,
		config:    config,
		scheduler: scheduler,
		executor:  executor,
		finalizer: finalizer,
		reaper:    reaper,
	}
}

// Scheduler exposes the request API for callers that trigger syncs.
func (e *Engine) Scheduler() *Scheduler {
	return e.scheduler
}

// Start launches the workers, poll loop and reaper. It returns
// immediately; the background goroutines run until Stop or ctx
// cancellation.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.executor.run(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.reaper.run(ctx)
	}()

	e.config.Logger.Printf("Sync engine started with %d workers", e.config.Workers)
}

// Stop cancels the background goroutines and waits for them to drain.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.config.Logger.Printf("Sync engine stopped")
}

// IsSyncing reports whether the syncable has a recent incomplete sync.
// Only syncs created within the visibility window count: an old stuck
// sync should not make the UI spin forever.
func (e *Engine) IsSyncing(ctx context.Context, ref ledger.SyncableRef) (bool, error) {
	since := time.Now().UTC().Add(-e.config.VisibilityWindow)
	return e.store.HasVisibleIncompleteSync(ctx, ref, since)
}

// Finalize exposes the finalizer for callers that need to re-trigger
// finalization out of band.
func (e *Engine) Finalize(ctx context.Context, syncID string) error {
	return e.finalizer.Finalize(ctx, syncID)
}

// maxDrainPasses bounds SyncNow's child drain loop.
const maxDrainPasses = 10

// SyncNow schedules a sync and executes it in the calling goroutine,
// then drains any pending syncs it spawned. For one-shot CLI use
// without the background workers running. Pending syncs for other
// syncables are left for the daemon.
func (e *Engine) SyncNow(ctx context.Context, ref ledger.SyncableRef, window ledger.Window) (*ledger.Sync, error) {
	sync, err := e.scheduler.Request(ctx, ref, window)
	if err != nil {
		return nil, err
	}

	e.executor.Process(ctx, sync.ID)

	// Family syncs spawn children into the queue; with no workers
	// running, drain this sync's own children from the pending table.
	// The pass count is bounded: a child that stays pending through a
	// pass (a transient claim error, say) gets a retry, but a child
	// that never leaves pending cannot spin this loop forever. The
	// pending-only claim makes the retries harmless.
	for pass := 0; pass < maxDrainPasses; pass++ {
		ids, err := e.store.ListPendingChildIDs(ctx, sync.ID)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			e.executor.Process(ctx, id)
		}
	}

	return e.store.GetSync(ctx, sync.ID)
}

// Clean runs one reaper pass immediately.
func (e *Engine) Clean(ctx context.Context) error {
	return e.reaper.Clean(ctx)
}
