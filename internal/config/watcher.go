package config

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher monitors a file for content changes and invokes a reload callback
// when the file is modified. It uses polling (not fsnotify) to keep
// dependencies minimal; a SHA-256 content hash filters out touch-only mtime
// updates. The gateway uses it to hot-reload the channels credentials file.
type Watcher struct {
	path     string
	interval time.Duration
	reload   func() error

	done     chan struct{}
	stopOnce sync.Once

	// last known file state for change detection
	mu        sync.Mutex
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher creates a file watcher over path and starts polling in a
// background goroutine. The file must exist; its current content becomes the
// change-detection baseline. reload runs once per content change and should
// re-read the file itself. A failed reload is retried on the next poll.
func NewWatcher(path string, reload func() error, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		reload:   reload,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	// Record the baseline state.
	hash, mtime, err := w.hashFile()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.lastHash = hash
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// Stop stops the file watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

// poll runs in a background goroutine, checking the file periodically.
func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reads the file and, if its content has changed, runs the reload
// callback. The baseline only advances after a successful reload, so a
// broken file keeps being retried until it parses again.
func (w *Watcher) check() {
	// Quick mtime check first to avoid hashing unchanged files.
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	// Mtime changed — read and hash.
	hash, newMtime, err := w.hashFile()
	if err != nil {
		slog.Warn("config watcher: cannot read file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		// File was touched but content is identical.
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	if w.reload != nil {
		if err := w.reload(); err != nil {
			slog.Warn("config watcher: reload failed", "path", w.path, "err", err)
			return
		}
	}

	w.mu.Lock()
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	slog.Info("config watcher: file reloaded", "path", w.path)
}

// hashFile reads the watched file and returns its SHA-256 hash alongside the
// file's modification time.
func (w *Watcher) hashFile() ([sha256.Size]byte, time.Time, error) {
	var zeroHash [sha256.Size]byte

	data, err := os.ReadFile(w.path)
	if err != nil {
		return zeroHash, time.Time{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return zeroHash, time.Time{}, err
	}
	return sha256.Sum256(data), info.ModTime(), nil
}
