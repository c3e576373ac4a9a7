// Package signals lets another process stop a running solve by creating a
// file under the state directory.
package signals

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// StopFileName is the file whose creation requests a stop.
const StopFileName = "stop"

// pollInterval backs up the watcher on filesystems that drop events.
const pollInterval = 2 * time.Second

// Dir returns the signals directory inside stateDir.
func Dir(stateDir string) string {
	return filepath.Join(stateDir, "signals")
}

// StopPath returns the stop file path inside stateDir.
func StopPath(stateDir string) string {
	return filepath.Join(Dir(stateDir), StopFileName)
}

// RequestStop creates the stop file for stateDir.
func RequestStop(stateDir string) error {
	if err := os.MkdirAll(Dir(stateDir), 0755); err != nil {
		return fmt.Errorf("create signals dir: %w", err)
	}
	return os.WriteFile(StopPath(stateDir), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// StopWatcher reports when the stop file appears.
type StopWatcher struct {
	path string
	log  *zap.SugaredLogger

	watcher *fsnotify.Watcher
	stopped chan struct{}
	once    sync.Once
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewStopWatcher prepares the signals directory and removes a stop file
// left by an earlier run. Watching starts with Start.
func NewStopWatcher(stateDir string, log *zap.SugaredLogger) (*StopWatcher, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	dir := Dir(stateDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create signals dir: %w", err)
	}
	path := StopPath(stateDir)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("clear stale stop file: %w", err)
	}

	sw := &StopWatcher{
		path:    path,
		log:     log.Named("signals"),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Continue without watcher - polling still notices the file.
		sw.log.Warnw("file watcher unavailable, polling for stop file", "error", err)
		return sw, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		sw.log.Warnw("cannot watch signals dir, polling for stop file", "dir", dir, "error", err)
		return sw, nil
	}
	sw.watcher = watcher
	return sw, nil
}

// Path returns the watched stop file path.
func (sw *StopWatcher) Path() string {
	return sw.path
}

// Stopped is closed once a stop has been requested.
func (sw *StopWatcher) Stopped() <-chan struct{} {
	return sw.stopped
}

// Start watches until ctx ends or Close is called, calling onStop once when
// the stop file appears.
func (sw *StopWatcher) Start(ctx context.Context, onStop func()) {
	sw.wg.Add(1)
	go func() {
		defer sw.wg.Done()
		sw.watch(ctx, onStop)
	}()
}

func (sw *StopWatcher) watch(ctx context.Context, onStop func()) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if sw.watcher != nil {
		events = sw.watcher.Events
		errs = sw.watcher.Errors
	}

	trigger := func() {
		sw.once.Do(func() {
			sw.log.Infow("stop file detected, cancelling run", "path", sw.path)
			close(sw.stopped)
			if onStop != nil {
				onStop()
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.done:
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(event.Name) == StopFileName && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				trigger()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			sw.log.Debugw("watcher error", "error", err)
		case <-ticker.C:
			if _, err := os.Stat(sw.path); err == nil {
				trigger()
			}
		}
	}
}

// Close stops watching and waits for the watch goroutine to exit.
func (sw *StopWatcher) Close() error {
	select {
	case <-sw.done:
		return nil
	default:
		close(sw.done)
	}
	sw.wg.Wait()
	if sw.watcher != nil {
		return sw.watcher.Close()
	}
	return nil
}
