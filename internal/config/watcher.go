package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Change is one reload reported by a [Watcher].
type Change struct {
	Old, New *Config

	// Templates names the wake phrases, in config order, whose template
	// recordings changed on disk.
	Templates []string

	// PluginsChanged reports that manifests in skills.plugin_dir were added,
	// removed, or edited.
	PluginsChanged bool
}

// Diff compares the two configs of c.
func (c Change) Diff() ConfigDiff { return Diff(c.Old, c.New) }

// Watcher polls the config file and the files it points at: each wake
// phrase's template recordings and the plugin manifest directory. A change is
// reported only after the watched set has looked the same for the settle
// period, so re-enrolling several templates or copying in a batch of
// manifests produces one reload.
//
// The config file is compared by content hash, so touching it is not a
// change. Templates and manifests are compared by size and mtime.
type Watcher struct {
	path     string
	fs       afero.Fs
	interval time.Duration
	settle   time.Duration
	onChange func(Change)

	mu       sync.Mutex
	current  *Config
	done     chan struct{}
	stopOnce sync.Once

	// Owned by the poll goroutine.
	applied      snapshot
	pending      *snapshot
	pendingSince time.Time
	badSum       [sha256.Size]byte
}

// snapshot fingerprints everything a Watcher watches.
type snapshot struct {
	cfg       *Config
	sum       [sha256.Size]byte
	templates map[string]string
	plugins   string
}

func (s snapshot) same(o snapshot) bool {
	return s.sum == o.sum && s.plugins == o.plugins && maps.Equal(s.templates, o.templates)
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

// WithSettle sets how long the watched files must stay unchanged before a
// change is reported. The default is 1 second; zero reports on the first
// poll that sees the change.
func WithSettle(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d >= 0 {
			w.settle = d
		}
	}
}

// WithFS reads the config and the files it references through fs instead of
// the OS filesystem.
func WithFS(fs afero.Fs) WatcherOption {
	return func(w *Watcher) { w.fs = fs }
}

// NewWatcher loads the config at path and starts polling it in a background
// goroutine. onChange runs on that goroutine.
func NewWatcher(path string, onChange func(Change), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		fs:       afero.NewOsFs(),
		interval: 5 * time.Second,
		settle:   time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.snapshot()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = snap.cfg
	w.applied = snap

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			w.check(now)
		}
	}
}

// check reports the watched set once it has settled on a new state. An
// invalid config file is logged once per content and the previous config
// stays current.
func (w *Watcher) check(now time.Time) {
	snap, err := w.snapshot()
	if err != nil {
		if snap.sum != w.badSum {
			w.badSum = snap.sum
			slog.Warn("config watcher: failed to load config", "path", w.path, "err", err)
		}
		w.pending = nil
		return
	}
	w.badSum = [sha256.Size]byte{}
	if snap.same(w.applied) {
		w.pending = nil
		return
	}
	if w.pending == nil || !snap.same(*w.pending) {
		w.pending = &snap
		w.pendingSince = now
	}
	if now.Sub(w.pendingSince) < w.settle {
		return
	}
	w.report(snap)
}

func (w *Watcher) report(snap snapshot) {
	ch := Change{New: snap.cfg, PluginsChanged: snap.plugins != w.applied.plugins}
	for _, ww := range snap.cfg.Wake.WakeWords {
		if prev, ok := w.applied.templates[ww.Phrase]; ok && prev != snap.templates[ww.Phrase] {
			ch.Templates = append(ch.Templates, ww.Phrase)
		}
	}
	w.applied = snap
	w.pending = nil

	w.mu.Lock()
	ch.Old = w.current
	w.current = snap.cfg
	w.mu.Unlock()

	slog.Info("config watcher: change detected", "path", w.path,
		"templates", ch.Templates, "plugins_changed", ch.PluginsChanged)

	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(ch)
	}
}

// snapshot reads and validates the config, then fingerprints the template
// files and plugin manifests it references. On a parse error the returned
// snapshot still carries the content hash.
func (w *Watcher) snapshot() (snapshot, error) {
	data, err := afero.ReadFile(w.fs, w.path)
	if err != nil {
		return snapshot{}, err
	}
	s := snapshot{sum: sha256.Sum256(data)}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return s, err
	}
	s.cfg = cfg
	s.templates = make(map[string]string, len(cfg.Wake.WakeWords))
	for _, ww := range cfg.Wake.WakeWords {
		s.templates[ww.Phrase] = w.stamp(ww.Templates)
	}
	if dir := cfg.Skills.PluginDir; dir != "" {
		s.plugins = w.manifestStamp(dir)
	}
	return s, nil
}

// stamp fingerprints files by size and modification time.
func (w *Watcher) stamp(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		info, err := w.fs.Stat(p)
		if err != nil {
			fmt.Fprintf(&b, "%s:missing;", p)
			continue
		}
		fmt.Fprintf(&b, "%s:%d:%d;", p, info.Size(), info.ModTime().UnixNano())
	}
	return b.String()
}

// manifestStamp fingerprints the *.yaml and *.yml files in dir, the same set
// the plugin loader reads.
func (w *Watcher) manifestStamp(dir string) string {
	entries, err := afero.ReadDir(w.fs, dir)
	if err != nil {
		return "unreadable"
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return w.stamp(paths)
}
