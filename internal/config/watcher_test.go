package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vnutour/tourbot/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
discord:
  token: t
`

const watcherUpdatedYAML = `
server:
  log_level: debug
discord:
  token: t
  dj_role_id: "42"
`

const watcherInvalidYAML = `
server:
  log_level: bananas
discord:
  token: t
`

func noEnv(string) (string, bool) { return "", false }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// changeRecorder collects watcher callbacks.
type changeRecorder struct {
	mu    sync.Mutex
	pairs [][2]*config.Config
	ch    chan struct{}
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{ch: make(chan struct{}, 8)}
}

func (r *changeRecorder) OnChange(old, next *config.Config) {
	r.mu.Lock()
	r.pairs = append(r.pairs, [2]*config.Config{old, next})
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *changeRecorder) Calls() [][2]*config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]*config.Config(nil), r.pairs...)
}

func newTestWatcher(t *testing.T, content string, rec *changeRecorder) (*config.Watcher, string) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, content)
	w, err := config.NewWatcher(cfgPath, rec.OnChange,
		config.WithInterval(20*time.Millisecond), config.WithEnv(noEnv))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w, cfgPath
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	w, _ := newTestWatcher(t, watcherValidYAML, newChangeRecorder())
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level = %q, want %q", got, config.LogInfo)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestWatcher_ReloadAppliesChange(t *testing.T) {
	t.Parallel()

	rec := newChangeRecorder()
	w, cfgPath := newTestWatcher(t, watcherValidYAML, rec)

	writeFile(t, cfgPath, watcherUpdatedYAML)
	changed, err := w.Reload()
	if err != nil || !changed {
		t.Fatalf("Reload = %v, %v; want true, nil", changed, err)
	}

	calls := rec.Calls()
	if len(calls) != 1 {
		t.Fatalf("callbacks = %d, want 1", len(calls))
	}
	d := config.Diff(calls[0][0], calls[0][1])
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.DJRoleChanged || d.NewDJRoleID != "42" {
		t.Errorf("dj role diff = %+v", d)
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current() log_level = %q, want debug", got)
	}
}

func TestWatcher_UnchangedContentIsSkipped(t *testing.T) {
	t.Parallel()

	rec := newChangeRecorder()
	w, cfgPath := newTestWatcher(t, watcherValidYAML, rec)

	// Rewriting the same bytes bumps the mtime only.
	writeFile(t, cfgPath, watcherValidYAML)
	if changed, err := w.Reload(); changed || err != nil {
		t.Errorf("Reload = %v, %v; want false, nil", changed, err)
	}
	if n := len(rec.Calls()); n != 0 {
		t.Errorf("callbacks = %d, want 0", n)
	}
}

func TestWatcher_InvalidEditReportedOnce(t *testing.T) {
	t.Parallel()

	rec := newChangeRecorder()
	w, cfgPath := newTestWatcher(t, watcherValidYAML, rec)

	writeFile(t, cfgPath, watcherInvalidYAML)
	if _, err := w.Reload(); err == nil {
		t.Fatal("Reload of invalid config returned nil error")
	}
	if changed, err := w.Reload(); changed || err != nil {
		t.Errorf("second Reload of the same invalid content = %v, %v; want false, nil", changed, err)
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() log_level = %q, want the previous config", got)
	}

	// Fixing the file applies it.
	writeFile(t, cfgPath, watcherUpdatedYAML)
	if changed, err := w.Reload(); !changed || err != nil {
		t.Errorf("Reload after fix = %v, %v; want true, nil", changed, err)
	}
	if n := len(rec.Calls()); n != 1 {
		t.Errorf("callbacks = %d, want 1", n)
	}
}

func TestWatcher_RunPollsUntilCancelled(t *testing.T) {
	t.Parallel()

	rec := newChangeRecorder()
	w, cfgPath := newTestWatcher(t, watcherValidYAML, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	writeFile(t, cfgPath, watcherUpdatedYAML)
	select {
	case <-rec.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not pick up the edit")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
