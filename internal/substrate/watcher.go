// Package substrate implements the persistent pattern memory that survives
// engine instances. This file watches a seeds directory and replants
// matching seed documents as they appear.
package substrate

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"recap/internal/logging"
)

// WatcherStats tracks watcher activity.
type WatcherStats struct {
	Events        int
	Imports       int
	Replanted     int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// Watcher monitors a seeds directory for documents matching the
// configured glob patterns and replants them into the engine. Rapid
// rewrites of the same file are debounced.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	replanter   *Replanter
	seedsDir    string
	patterns    []string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// NewWatcher creates a watcher over seedsDir. Empty patterns default to
// "**/*.seed.json".
func NewWatcher(seedsDir string, patterns []string, replanter *Replanter) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		patterns = []string{"**/*.seed.json"}
	}
	return &Watcher{
		watcher:     fsw,
		replanter:   replanter,
		seedsDir:    seedsDir,
		patterns:    patterns,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// SetDebounce adjusts how long a seed file must stay quiet before import.
// Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if d > 0 {
		w.debounceDur = d
	}
}

// Start begins watching. Non-blocking; the loop runs in its own
// goroutine until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.seedsDir, 0755); err != nil {
		logging.SeedWarn("failed to create seeds dir %s: %v", w.seedsDir, err)
	}
	if err := w.watcher.Add(w.seedsDir); err != nil {
		logging.SeedWarn("initial watch failed: %v", err)
	} else {
		logging.Seed("watching %s for %v", w.seedsDir, w.patterns)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the loop to drain. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.SeedWarn("error closing watcher: %v", err)
	}
	logging.Seed("watcher stopped")
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.SeedWarn("watch error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-debounceTicker.C:
			w.processDebounced()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !w.matches(event.Name) {
		return
	}
	logging.SeedDebug("seed event: %s", event.Name)

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventPath = event.Name
	w.stats.LastEventTime = time.Now()
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) matches(path string) bool {
	rel, err := filepath.Rel(w.seedsDir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// processDebounced imports and replants files whose last event has gone
// quiet for the debounce window.
func (w *Watcher) processDebounced() {
	w.mu.Lock()
	var ready []string
	now := time.Now()
	for path, last := range w.debounceMap {
		if now.Sub(last) >= w.debounceDur {
			ready = append(ready, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		records, err := ImportSeeds(path)
		if err != nil {
			logging.SeedWarn("import %s: %v", path, err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
			continue
		}
		planted, err := w.replanter.Replant(records)
		if err != nil {
			logging.SeedWarn("replant %s: %v", path, err)
		}
		w.mu.Lock()
		w.stats.Imports++
		w.stats.Replanted += planted
		w.mu.Unlock()
		logging.Seed("replanted %d seeds from %s", planted, path)
	}
}
