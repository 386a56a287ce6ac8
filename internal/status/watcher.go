package status

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher watches the collector's local status file and calls OnChange,
// debounced, whenever it is written or recreated. The collector rewrites the
// whole file on every run, so a burst of events collapses into one refresh.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func()

	mu            sync.Mutex
	debounceTimer *time.Timer
	watcher       *fsnotify.Watcher
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// NewWatcher creates a watcher for path. onChange must be safe to call from
// any goroutine.
func NewWatcher(path string, debounce time.Duration, onChange func()) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		path:     path,
		debounce: debounce,
		onChange: onChange,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins watching the file's directory. Watching the directory rather
// than the file survives rename-over-write updates.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify init: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("fsnotify add %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = fw

	log.Info().Str("path", w.path).Msg("Watching status file")
	go w.loop(ctx)
	return nil
}

// Stop ends the watch loop and cancels any pending debounced call.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if w.watcher != nil {
		<-w.doneCh
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	defer w.watcher.Close()

	name := filepath.Base(w.path)
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
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.trigger()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", w.path).Msg("status watcher error")
		}
	}
}

func (w *Watcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		w.onChange()
	})
}
