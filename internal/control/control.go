// Package control watches the run's signal directory for kill and pause
// requests dropped by an operator.
package control

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	// KillFile stops the run when created.
	KillFile = "kill"
	// PauseFile holds the agent loop between turns while it exists.
	PauseFile = "pause"
)

// pollInterval is the fallback re-check while paused.
const pollInterval = 500 * time.Millisecond

// SignalsDir returns the signal directory for a repository.
func SignalsDir(repoPath string) string {
	return filepath.Join(repoPath, ".verifix", "signals")
}

// Watcher tracks kill and pause signal files.
type Watcher struct {
	dir    string
	onKill func()
	logger *zap.Logger

	mu      sync.RWMutex
	stopped bool
	paused  bool
	changed chan struct{}

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewWatcher creates the signal directory under repoPath and starts watching
// it. onKill, if set, is called once from the watch goroutine when a kill file
// appears. If the platform watcher cannot start, signals are still picked up
// by the direct file checks in ShouldStop and Paused.
func NewWatcher(repoPath string, onKill func(), logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := SignalsDir(repoPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	w := &Watcher{
		dir:     dir,
		onKill:  onKill,
		logger:  logger.Named("control"),
		changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("signal watcher unavailable, falling back to polling", zap.Error(err))
		return w, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		w.logger.Warn("signal watcher unavailable, falling back to polling", zap.Error(err))
		return w, nil
	}
	w.watcher = watcher

	w.wg.Add(1)
	go w.watchSignals()

	return w, nil
}

// watchSignals monitors the signals directory for kill/pause files.
func (w *Watcher) watchSignals() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Debug("signal watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	created := event.Has(fsnotify.Create) || event.Has(fsnotify.Write)
	removed := event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)

	var fireKill bool
	w.mu.Lock()
	switch filepath.Base(event.Name) {
	case KillFile:
		if created && !w.stopped {
			w.stopped = true
			fireKill = true
		}
	case PauseFile:
		if created {
			w.paused = true
		} else if removed {
			w.paused = false
		}
	}
	w.mu.Unlock()

	if fireKill {
		w.logger.Info("kill signal received")
		if w.onKill != nil {
			w.onKill()
		}
	}
	w.notify()
}

func (w *Watcher) notify() {
	select {
	case w.changed <- struct{}{}:
	default:
	}
}

// ShouldStop returns true if a kill signal has been received.
func (w *Watcher) ShouldStop() bool {
	if _, err := os.Stat(filepath.Join(w.dir, KillFile)); err == nil {
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stopped
}

// Paused returns true while the pause file exists.
func (w *Watcher) Paused() bool {
	_, err := os.Stat(filepath.Join(w.dir, PauseFile))
	paused := err == nil

	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = paused
	return paused
}

// WaitWhilePaused blocks until the pause file is removed, a kill signal
// arrives, or ctx ends.
func (w *Watcher) WaitWhilePaused(ctx context.Context) error {
	logged := false
	for w.Paused() && !w.ShouldStop() {
		if !logged {
			w.logger.Info("paused", zap.String("signal", filepath.Join(w.dir, PauseFile)))
			logged = true
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.changed:
		case <-time.After(pollInterval):
		}
	}
	if logged {
		w.logger.Info("resumed")
	}
	return nil
}

// SendKill creates a kill signal file.
func (w *Watcher) SendKill() error {
	return writeSignal(filepath.Join(w.dir, KillFile))
}

// SendPause creates a pause signal file.
func (w *Watcher) SendPause() error {
	return writeSignal(filepath.Join(w.dir, PauseFile))
}

// Resume removes the pause signal file.
func (w *Watcher) Resume() error {
	err := os.Remove(filepath.Join(w.dir, PauseFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ClearSignals removes all signal files and resets signal state.
func (w *Watcher) ClearSignals() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = false
	w.paused = false

	os.Remove(filepath.Join(w.dir, KillFile))
	os.Remove(filepath.Join(w.dir, PauseFile))
}

// Dir returns the watched signal directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Close stops the watch goroutine and waits for it to exit.
func (w *Watcher) Close() {
	w.once.Do(func() {
		close(w.done)
		if w.watcher != nil {
			w.watcher.Close()
		}
		w.wg.Wait()
	})
}

func writeSignal(path string) error {
	return os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)), 0644)
}
