package fcp

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ///////////////////////////////////////////////
// Watcher
// ///////////////////////////////////////////////

// DefaultPollInterval is the stat period used when fsnotify is unavailable.
const DefaultPollInterval = 2 * time.Second

// Watcher signals when any of a set of context files changes. It watches
// the parent directories, since preference files are replaced by rename
// rather than rewritten in place, and falls back to polling modification
// times when fsnotify cannot be used.
type Watcher struct {
	// files maps each cleaned file path to its parent directory.
	files map[string]string
	// events delivers one signal per burst of changes. Buffered to 1 so
	// back-to-back writes coalesce.
	events chan struct{}
	// done is closed by [Watcher.Close] to stop the goroutine.
	done chan struct{}
	// stopped is closed when the goroutine has exited.
	stopped chan struct{}
	// once makes [Watcher.Close] idempotent.
	once sync.Once
	// polling is true once the watcher has fallen back to stat polling.
	polling atomic.Bool
	// pollInterval is the period between stats in polling mode.
	pollInterval time.Duration
	log          *slog.Logger
}

// NewWatcher watches files for writes, creations and renames. Files that
// do not exist yet are picked up when they appear, as long as their
// directory exists; otherwise the watcher polls.
func NewWatcher(files []string, pollInterval time.Duration, logger *slog.Logger) *Watcher {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		files:        make(map[string]string, len(files)),
		events:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		pollInterval: pollInterval,
		log:          logger,
	}
	for _, f := range files {
		if f == "" {
			continue
		}
		f = filepath.Clean(f)
		w.files[f] = filepath.Dir(f)
	}

	fsw, err := w.native()
	if err != nil {
		w.log.Info("fsnotify unavailable, falling back to polling", "error", err)
		w.polling.Store(true)
		go w.poll(w.modTimes())
		return w
	}
	go w.watch(fsw)
	return w
}

// native sets up fsnotify on every parent directory.
func (w *Watcher) native() (*fsnotify.Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	added := make(map[string]bool)
	for _, dir := range w.files {
		if added[dir] {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		added[dir] = true
	}
	return fsw, nil
}

// Polling reports whether the watcher is polling instead of using fsnotify.
func (w *Watcher) Polling() bool {
	return w.polling.Load()
}

// Events returns a channel that receives a signal after a watched file changes.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	w.once.Do(func() { close(w.done) })
	<-w.stopped
	return nil
}

// watch forwards relevant fsnotify events. On an fsnotify error it switches
// to polling for the rest of the watcher's life.
func (w *Watcher) watch(fsw *fsnotify.Watcher) {
	defer func() {
		if fsw != nil {
			fsw.Close()
		}
	}()
	for {
		select {
		case <-w.done:
			close(w.stopped)
			return
		case event, ok := <-fsw.Events:
			if !ok {
				close(w.stopped)
				return
			}
			if _, watched := w.files[filepath.Clean(event.Name)]; !watched {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.notify()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				close(w.stopped)
				return
			}
			w.log.Info("fsnotify error, switching to polling", "error", err)
			last := w.modTimes()
			fsw.Close()
			fsw = nil
			w.polling.Store(true)
			w.poll(last)
			return
		}
	}
}

// poll stats every file each interval and signals when any modification
// time advances past last or a file appears. The baseline is taken by the
// caller so writes made before the goroutine runs are not absorbed into it.
func (w *Watcher) poll(last map[string]time.Time) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			cur := w.modTimes()
			for f, mod := range cur {
				if mod.After(last[f]) {
					w.notify()
					break
				}
			}
			last = cur
		}
	}
}

// modTimes returns the modification time of every existing watched file.
func (w *Watcher) modTimes() map[string]time.Time {
	out := make(map[string]time.Time, len(w.files))
	for f := range w.files {
		if info, err := os.Stat(f); err == nil {
			out[f] = info.ModTime()
		}
	}
	return out
}

// notify sends a single signal. If one is already pending the call is a
// no-op.
func (w *Watcher) notify() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}
