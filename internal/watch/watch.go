// Package watch reports batches of changed paths under a project tree.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rjeczalik/notify"
)

const (
	DefaultDebounce = 500 * time.Millisecond
	eventBufferSize = 64
)

// FilterCallback returns true for paths whose events should be dropped.
type FilterCallback func(path string) bool

// Watcher collects filesystem events under root and emits them as one batch once
// the tree has been quiet for the debounce period.
type Watcher struct {
	root     string
	debounce time.Duration
	filter   FilterCallback

	raw     chan notify.EventInfo
	changes chan []string
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func New(root string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		root:     root,
		debounce: debounce,
		done:     make(chan struct{}),
	}
}

// FilterPaths must be called before Start.
func (w *Watcher) FilterPaths(cb FilterCallback) {
	w.filter = cb
}

func (w *Watcher) Start(ctx context.Context) error {
	w.raw = make(chan notify.EventInfo, eventBufferSize)
	w.changes = make(chan []string, 1)

	recursivePath := filepath.Join(w.root, "...")
	if err := notify.Watch(recursivePath, w.raw, notify.Write, notify.Create, notify.Remove, notify.Rename); err != nil {
		return err
	}
	slog.Info("watch start", "dir", w.root)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.done)
		if w.raw != nil {
			notify.Stop(w.raw)
		}
		w.wg.Wait()
		slog.Debug("watch stopped", "dir", w.root)
	})
}

// Changes yields sorted batches of changed paths. It is closed when the watcher stops.
func (w *Watcher) Changes() <-chan []string {
	return w.changes
}

func (w *Watcher) loop(ctx context.Context) {
	defer func() {
		close(w.changes)
		w.wg.Done()
	}()

	pending := mapset.NewThreadUnsafeSet[string]()
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case ev := <-w.raw:
			path := ev.Path()
			if w.filter != nil && w.filter(path) {
				continue
			}
			pending.Add(path)
			timer.Reset(w.debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			batch := pending.ToSlice()
			sort.Strings(batch)
			pending.Clear()

			select {
			case w.changes <- batch:
			default:
				// an undelivered batch already triggers a fresh fingerprint
				slog.Debug("watch batch merged", "paths", len(batch))
			}
		}
	}
}
