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

// DefaultWatchInterval is how often [Watcher.Run] re-reads the config file.
const DefaultWatchInterval = 5 * time.Second

// Watcher keeps a running bot in step with its config file. [Watcher.Run]
// polls the file and [Watcher.Reload] checks it on demand. Each new, valid
// version is handed to the callback with the version it replaces; a broken
// edit is reported once and the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	env      LookupFunc
	onChange func(old, next *Config)

	mu      sync.Mutex
	current *Config
	seen    [sha256.Size]byte // last content examined, valid or not
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval of [Watcher.Run].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithEnv sets the environment lookup applied on every reload. The default
// is [os.LookupEnv].
func WithEnv(env LookupFunc) WatcherOption {
	return func(w *Watcher) { w.env = env }
}

// NewWatcher loads the config at path. It does not poll until Run is called.
func NewWatcher(path string, onChange func(old, next *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		env:      os.LookupEnv,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := Parse(bytes.NewReader(data), w.env)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.seen = sha256.Sum256(data)
	return w, nil
}

// Current returns the most recently applied config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Reload(); err != nil {
				slog.Warn("config: keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Reload reads the file now. It reports whether a new config was applied.
// Content that was already examined, whether it was applied or rejected,
// is skipped with (false, nil), so a broken edit yields one error.
func (w *Watcher) Reload() (bool, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return false, fmt.Errorf("config: read %s: %w", w.path, err)
	}
	sum := sha256.Sum256(data)

	w.mu.Lock()
	if sum == w.seen {
		w.mu.Unlock()
		return false, nil
	}
	w.seen = sum
	cfg, err := Parse(bytes.NewReader(data), w.env)
	if err != nil {
		w.mu.Unlock()
		return false, err
	}
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config: reloaded", "path", w.path)
	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}
