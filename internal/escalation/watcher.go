package escalation

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc re-reads one configuration file.
type ReloadFunc func(path string) error

// ConfigWatcher hot-reloads policy and schedule files on change. A bad
// file logs the parse error and keeps the previous contents.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]ReloadFunc // absolute path -> reload
	debounce time.Duration
}

// NewConfigWatcher creates a watcher over the given file->reload pairs.
// Parent directories are watched so editors that replace files whole
// (rename + create) still trigger a reload.
func NewConfigWatcher(files map[string]ReloadFunc) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	abs := make(map[string]ReloadFunc, len(files))
	dirs := make(map[string]bool)
	for path, reload := range files {
		p, err := filepath.Abs(path)
		if err != nil {
			watcher.Close()
			return nil, fmt.Errorf("resolve %s: %w", path, err)
		}
		abs[p] = reload
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	return &ConfigWatcher{
		watcher:  watcher,
		files:    abs,
		debounce: 250 * time.Millisecond,
	}, nil
}

// Run processes filesystem events until ctx is cancelled.
func (w *ConfigWatcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	// Pending reloads, debounced so a burst of writes reloads once.
	pending := make(map[string]bool)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			path, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			if _, watched := w.files[path]; !watched {
				continue
			}
			pending[path] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config watcher error: %v", err)
		case <-timerC:
			timerC = nil
			for path := range pending {
				delete(pending, path)
				if err := w.files[path](path); err != nil {
					log.Printf("config reload failed for %s: %v", path, err)
					continue
				}
				log.Printf("config reloaded: %s", path)
			}
		}
	}
}
