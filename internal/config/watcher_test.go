package config_test

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/hark/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
audio:
  sink: none
wake:
  engine: energy
  wake_words: [{phrase: hey hark}]
recognition:
  recognizer_order: [whisper]
  backends: {whisper: {base_url: "http://localhost:8081"}}
`

const watcherUpdatedYAML = `
server:
  log_level: debug
audio:
  sink: none
wake:
  engine: energy
  sensitivity: 0.8
  wake_words: [{phrase: hey hark}]
recognition:
  recognizer_order: [whisper]
  backends: {whisper: {base_url: "http://localhost:8081"}}
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var mu sync.Mutex
	var diff config.ConfigDiff
	called := make(chan struct{}, 1)

	w, err := config.NewWatcher(cfgPath, func(ch config.Change) {
		mu.Lock()
		diff = ch.Diff()
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithInterval(50*time.Millisecond), config.WithSettle(100*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, cfgPath, watcherUpdatedYAML)
	// Guarantee an mtime change on filesystems with coarse timestamps.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(cfgPath, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if !diff.LogLevelChanged || diff.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", diff)
	}
	if !diff.SensitivityChanged || diff.NewSensitivity != 0.8 {
		t.Errorf("sensitivity diff = %+v", diff)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", cur.Server.LogLevel, config.LogDebug)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	callCount := 0
	var mu sync.Mutex

	w, err := config.NewWatcher(cfgPath, func(config.Change) {
		mu.Lock()
		callCount++
		mu.Unlock()
	}, config.WithInterval(50*time.Millisecond), config.WithSettle(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, cfgPath, watcherInvalidYAML)
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	calls := callCount
	mu.Unlock()
	if calls != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", calls)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", cur.Server.LogLevel)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	_, err := config.NewWatcher("/nonexistent/path.yaml", nil)
	if err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/hark.yaml", []byte(watcherValidYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w, err := config.NewWatcher("/hark.yaml", nil, config.WithFS(fs), config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Stop()
	w.Stop()
	w.Stop()
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/hark.yaml", []byte(watcherValidYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	callCount := 0
	var mu sync.Mutex
	w, err := config.NewWatcher("/hark.yaml", func(config.Change) {
		mu.Lock()
		callCount++
		mu.Unlock()
	}, config.WithFS(fs), config.WithInterval(50*time.Millisecond), config.WithSettle(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	now := time.Now().Add(time.Second)
	if err := fs.Chtimes("/hark.yaml", now, now); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	calls := callCount
	mu.Unlock()
	if calls != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", calls)
	}
}

const watcherAssetsYAML = `
audio:
  sink: none
wake:
  wake_words:
    - {phrase: hey hark, templates: [/wake/hark-1.wav, /wake/hark-2.wav]}
    - {phrase: computer, templates: [/wake/computer.wav]}
recognition:
  recognizer_order: [whisper]
  backends: {whisper: {base_url: "http://localhost:8081"}}
skills:
  plugin_dir: /plugins
`

// assetWatcher starts a watcher over watcherAssetsYAML on an in-memory
// filesystem and forwards every reported change to the returned channel.
func assetWatcher(t *testing.T, settle time.Duration) (afero.Fs, <-chan config.Change) {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, content := range map[string]string{
		"/hark.yaml":          watcherAssetsYAML,
		"/wake/hark-1.wav":    "take one",
		"/wake/hark-2.wav":    "take two",
		"/wake/computer.wav":  "computer",
		"/plugins/lights.yml": "name: lights",
	} {
		if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	changes := make(chan config.Change, 16)
	w, err := config.NewWatcher("/hark.yaml", func(ch config.Change) { changes <- ch },
		config.WithFS(fs), config.WithInterval(20*time.Millisecond), config.WithSettle(settle))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return fs, changes
}

// rewrite replaces a file's content and moves its mtime forward so the
// change is visible regardless of clock resolution.
func rewrite(t *testing.T, fs afero.Fs, path, content string, step int) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	mtime := time.Now().Add(time.Duration(step) * time.Second)
	if err := fs.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func waitChange(t *testing.T, changes <-chan config.Change) config.Change {
	t.Helper()
	select {
	case ch := <-changes:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported within timeout")
		return config.Change{}
	}
}

func TestWatcher_TemplateChange(t *testing.T) {
	t.Parallel()
	fs, changes := assetWatcher(t, 0)

	rewrite(t, fs, "/wake/hark-2.wav", "take two, re-recorded", 1)
	ch := waitChange(t, changes)

	if len(ch.Templates) != 1 || ch.Templates[0] != "hey hark" {
		t.Errorf("Templates = %v, want [hey hark]", ch.Templates)
	}
	if ch.PluginsChanged {
		t.Error("PluginsChanged = true for a template edit")
	}
	if d := ch.Diff(); d.Changed() {
		t.Errorf("config diff = %+v, want none", d)
	}
	if ch.Old == nil || ch.New == nil {
		t.Fatalf("change is missing configs: %+v", ch)
	}
}

func TestWatcher_PluginManifests(t *testing.T) {
	t.Parallel()
	fs, changes := assetWatcher(t, 0)

	rewrite(t, fs, "/plugins/README.md", "not a manifest", 1)
	select {
	case ch := <-changes:
		t.Fatalf("non-manifest file reported: %+v", ch)
	case <-time.After(150 * time.Millisecond):
	}

	rewrite(t, fs, "/plugins/weather.yaml", "name: weather", 2)
	ch := waitChange(t, changes)
	if !ch.PluginsChanged {
		t.Error("PluginsChanged = false after adding a manifest")
	}
	if len(ch.Templates) != 0 {
		t.Errorf("Templates = %v, want none", ch.Templates)
	}

	if err := fs.Remove("/plugins/lights.yml"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ch := waitChange(t, changes); !ch.PluginsChanged {
		t.Error("PluginsChanged = false after removing a manifest")
	}
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	t.Parallel()
	fs, changes := assetWatcher(t, 200*time.Millisecond)

	// A re-enrolment session: every template rewritten in quick succession.
	paths := []string{"/wake/hark-1.wav", "/wake/hark-2.wav", "/wake/computer.wav"}
	for i := range 6 {
		rewrite(t, fs, paths[i%len(paths)], fmt.Sprintf("take %d", i), i+1)
		time.Sleep(40 * time.Millisecond)
	}

	ch := waitChange(t, changes)
	if want := []string{"hey hark", "computer"}; !slices.Equal(ch.Templates, want) {
		t.Errorf("Templates = %v, want %v", ch.Templates, want)
	}
	select {
	case extra := <-changes:
		t.Errorf("burst reported more than once, extra change: %+v", extra)
	case <-time.After(400 * time.Millisecond):
	}
}
