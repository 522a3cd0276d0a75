package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SettingsEvent reports a reload of Settings.ini
type SettingsEvent struct {
	Settings []InstanceSettings
	Error    error
}

// Watcher reloads a Store when its file changes on disk.
// The parent directory is watched because editors replace files on save.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	events   chan SettingsEvent
	debounce time.Duration
}

// NewWatcher creates a new settings file watcher
func NewWatcher(store *Store) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		store:    store,
		watcher:  fsWatcher,
		events:   make(chan SettingsEvent, 10),
		debounce: 250 * time.Millisecond,
	}, nil
}

// WithDebounce sets how long writes must settle before a reload
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Events returns the channel that receives reload events.
// It is closed when the watcher stops.
func (w *Watcher) Events() <-chan SettingsEvent {
	return w.events
}

// Start begins watching; the watcher stops when ctx is done
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.events)
	defer w.watcher.Close()

	target := filepath.Clean(w.store.Path())
	var pending time.Time
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.Now()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.emit(ctx, SettingsEvent{Error: err})

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < w.debounce {
				continue
			}
			pending = time.Time{}
			if err := w.store.Reload(); err != nil {
				w.emit(ctx, SettingsEvent{Error: err})
				continue
			}
			w.emit(ctx, SettingsEvent{Settings: w.store.All()})
		}
	}
}

func (w *Watcher) emit(ctx context.Context, ev SettingsEvent) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}
