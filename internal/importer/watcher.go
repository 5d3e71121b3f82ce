package importer

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a drop directory for CSV files and runs the importer
// on each one. Processed files move to a done/ subdirectory; files that
// fail to import move to failed/ so they don't retry forever.
type Watcher struct {
	importer *Importer
	logger   *log.Logger

	dir     string
	watcher *fsnotify.Watcher

	// settle delays processing after the last write event so a file
	// still being copied in is not read half-written.
	settle time.Duration

	mu      sync.Mutex
	running bool
	timers  map[string]*time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher creates a watcher over dir. The done/ and failed/
// subdirectories are created on Start.
func NewWatcher(im *Importer, dir string, logger *log.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{
		importer: im,
		logger:   logger,
		dir:      dir,
		watcher:  fw,
		settle:   500 * time.Millisecond,
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching the drop directory. Files already present are
// imported immediately; new files import after they stop changing.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	for _, sub := range []string{w.dir, filepath.Join(w.dir, "done"), filepath.Join(w.dir, "failed")} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", sub, err)
		}
	}

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents(ctx)

	// Catch up on files dropped while the watcher was down.
	existing, err := filepath.Glob(filepath.Join(w.dir, "*.csv"))
	if err == nil {
		for _, path := range existing {
			w.scheduleLocked(ctx, path)
		}
	}

	w.logger.Printf("Watching %s for entry CSV files", w.dir)
	return nil
}

// Stop stops watching and waits for in-flight imports to finish.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	close(w.done)
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()
	return nil
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isCSV(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.mu.Lock()
				if w.running {
					w.scheduleLocked(ctx, event.Name)
				}
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Watcher error: %v", err)
		}
	}
}

// scheduleLocked (re)arms the settle timer for a file. Caller holds mu.
func (w *Watcher) scheduleLocked(ctx context.Context, path string) {
	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.process(ctx, path)
	})
}

func (w *Watcher) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		return // moved or deleted before the timer fired
	}

	if _, err := w.importer.ImportFile(ctx, path); err != nil {
		w.logger.Printf("Error importing %s: %v", filepath.Base(path), err)
		w.archive(path, "failed")
		return
	}
	w.archive(path, "done")
}

func (w *Watcher) archive(path, sub string) {
	dest := filepath.Join(w.dir, sub, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		w.logger.Printf("Warning: failed to move %s to %s: %v", filepath.Base(path), sub, err)
	}
}

func isCSV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".csv")
}
