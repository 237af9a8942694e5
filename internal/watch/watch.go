// Package watch reports writes to the reminder database made by other processes.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces the burst of events a single SQLite commit produces.
const DefaultDebounce = 250 * time.Millisecond

// DBWatcher watches a SQLite database and its WAL file.
type DBWatcher struct {
	watcher  *fsnotify.Watcher
	names    map[string]struct{}
	onChange func()
	debounce time.Duration
	logger   *zap.Logger
	done     chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// New starts watching dbPath. onChange runs once per burst of writes,
// on its own goroutine.
func New(dbPath string, debounce time.Duration, logger *zap.Logger, onChange func()) (*DBWatcher, error) {
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, err
	}
	// Event names carry the resolved directory.
	if dir, err := filepath.EvalSymlinks(filepath.Dir(absPath)); err == nil {
		absPath = filepath.Join(dir, filepath.Base(absPath))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: SQLite replaces and recreates the -wal file.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &DBWatcher{
		watcher: watcher,
		names: map[string]struct{}{
			absPath:          {},
			absPath + "-wal": {},
		},
		onChange: onChange,
		debounce: debounce,
		logger:   logger,
		done:     make(chan struct{}),
	}

	go w.watch()
	return w, nil
}

func (w *DBWatcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if _, ok := w.names[event.Name]; !ok {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			w.logger.Warn("watch error", zap.Error(err))

		case <-w.done:
			return
		}
	}
}

func (w *DBWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}
		w.logger.Debug("database changed")
		w.onChange()
	})
}

func (w *DBWatcher) Close() error {
	close(w.done)

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	return w.watcher.Close()
}

// Foreign wraps onChange so that it runs only when version differs from
// the last value seen. Used with SQLite's data_version it drops events
// caused by this process's own commits.
func Foreign(ctx context.Context, version func(context.Context) (int64, error), logger *zap.Logger, onChange func()) (func(), error) {
	last, err := version(ctx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	return func() {
		mu.Lock()
		v, err := version(ctx)
		if err != nil {
			mu.Unlock()
			logger.Warn("failed to read data version", zap.Error(err))
			onChange()
			return
		}
		changed := v != last
		last = v
		mu.Unlock()

		if changed {
			onChange()
		}
	}, nil
}
