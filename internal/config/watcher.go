package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDelay = 200 * time.Millisecond

// Watcher reloads a config file when it changes on disk and emits each
// successfully validated version.
type Watcher struct {
	path string

	fsWatcher *fsnotify.Watcher
	configs   chan *Config
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once

	delay time.Duration
	mu    sync.Mutex
	timer *time.Timer

	wg sync.WaitGroup
}

// Watch starts watching path with the default reload delay.
func Watch(path string) (*Watcher, error) {
	return WatchWithDelay(path, defaultReloadDelay)
}

// WatchWithDelay starts watching path. Bursts of events within delay
// produce a single reload.
func WatchWithDelay(path string, delay time.Duration) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("abs config path: %w", err)
	}

	// Editors replace the file, so watch the directory.
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("ensure config dir exists: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		path:      abs,
		fsWatcher: fsw,
		configs:   make(chan *Config, 4),
		errors:    make(chan error, 4),
		done:      make(chan struct{}),
		delay:     delay,
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run()
	}()
	return w, nil
}

// Configs returns reloaded configurations.
func (w *Watcher) Configs() <-chan *Config { return w.configs }

// Errors returns load and watch errors.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	w.closeOnce.Do(func() {
		close(w.done)
	})

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case evt, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != w.path {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	if _, err := os.Stat(w.path); err != nil {
		// Renamed away; the replacement triggers another reload.
		return
	}

	cfg, err := LoadFrom(w.path)
	if err != nil {
		w.emitError(err)
		return
	}
	select {
	case w.configs <- cfg:
	default:
		// Best-effort: drop if consumer is stalled.
	}
}

func (w *Watcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}
