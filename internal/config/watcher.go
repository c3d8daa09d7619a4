package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file and calls a callback when its content changes
// to another valid configuration. Only the fields reported by [Diff] as hot
// reloadable are meant to be applied by the callback.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	current *Config
	seen    snapshot
}

// snapshot identifies one version of the file on disk.
type snapshot struct {
	mtime time.Time
	sum   [sha256.Size]byte
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

// WithWatcherLogger sets the logger for reload messages.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher loads the file at path and polls it until [Watcher.Stop]. The
// initial load must succeed.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.seen = cfg, snap

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Go(func() { w.poll(ctx) })
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-flight callback to return. It is
// safe to call more than once.
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Watcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	seen := w.seen
	w.mu.Unlock()
	if info.ModTime().Equal(seen.mtime) {
		return
	}

	cfg, snap, err := readSnapshot(w.path)
	if err != nil {
		// Warn once per edit, not on every tick.
		w.mu.Lock()
		w.seen.mtime = info.ModTime()
		w.mu.Unlock()
		w.logger.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	touched := snap.sum == w.seen.sum
	w.seen = snap
	old := w.current
	if !touched {
		w.current = cfg
	}
	w.mu.Unlock()
	if touched {
		return
	}

	w.logger.Info("config watcher: configuration reloaded", "path", w.path)
	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// readSnapshot parses and validates the file and fingerprints its bytes.
func readSnapshot(path string) (*Config, snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, snapshot{}, err
	}
	return cfg, snapshot{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
