package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads a Store when its menu file changes on disk. The parent
// directory is watched so editors that replace the file atomically are seen.
type Watcher struct {
	store    *Store
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	log      *zap.Logger
	reloaded chan ReloadOutcome
}

func NewWatcher(store *Store, path string, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve menu path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		store:    store,
		path:     abs,
		debounce: defaultDebounce,
		watcher:  fw,
		log:      log.Named("catalog.watcher"),
		reloaded: make(chan ReloadOutcome, 1),
	}, nil
}

// Reloaded delivers the outcome of each watcher-triggered reload. Outcomes
// are dropped when nobody is reading.
func (w *Watcher) Reloaded() <-chan ReloadOutcome { return w.reloaded }

// Run blocks until ctx is done, reloading the store after each burst of
// writes to the menu file.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		case <-fire:
			fire = nil
			out := w.store.Reload()
			w.log.Info("menu reloaded from disk", zap.Bool("ok", out.OK), zap.Int("pizzas", out.Pizzas))
			select {
			case w.reloaded <- out:
			default:
			}
		}
	}
}
