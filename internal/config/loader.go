package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/hark/internal/skill/plugin"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultSampleRate           = 16000
	DefaultFrameMs              = 20
	DefaultQueueCapacity        = 100
	DefaultSensitivity          = 0.5
	DefaultCooldownMs           = 1500
	DefaultBackendTimeoutMs     = 4000
	DefaultAcceptanceConfidence = 0.6
	DefaultSilenceTimeoutMs     = 1500
	DefaultMaxCaptureMs         = 10000
	DefaultCaptureTimeoutMs     = 5000
	DefaultMinSpeechMs          = 300
	DefaultVADThreshold         = 0.5
	DefaultInvocationTimeoutMs  = 5000
	DefaultContextExpiryMs      = 300000
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":    {"whisper", "whisper-native", "deepgram", "openai"},
	"tts":    {"coqui", "elevenlabs", "polly"},
	"vad":    {"energy", "spectral"},
	"source": {"portaudio", "file"},
	"sink":   {"portaudio", "none"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Audio
	if a.Source == "" {
		a.Source = "portaudio"
		if a.File != "" {
			a.Source = "file"
		}
	}
	if a.Sink == "" {
		a.Sink = "portaudio"
	}
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.Channels == 0 {
		a.Channels = 1
	}
	if a.FrameMs == 0 {
		a.FrameMs = DefaultFrameMs
	}
	if a.QueueCapacity == 0 {
		a.QueueCapacity = DefaultQueueCapacity
	}

	w := &cfg.Wake
	if w.Sensitivity == 0 {
		w.Sensitivity = DefaultSensitivity
	}
	if w.CooldownMs == 0 {
		w.CooldownMs = DefaultCooldownMs
	}
	if w.Engine == "" {
		w.Engine = WakeTemplate
	}

	r := &cfg.Recognition
	if r.PerBackendTimeoutMs == 0 {
		r.PerBackendTimeoutMs = DefaultBackendTimeoutMs
	}
	for label, b := range r.Backends {
		if b.Name == "" {
			b.Name = label
			r.Backends[label] = b
		}
	}

	c := &cfg.Capture
	if c.VAD.Name == "" {
		c.VAD.Name = "spectral"
	}
	if c.SilenceTimeoutMs == 0 {
		c.SilenceTimeoutMs = DefaultSilenceTimeoutMs
	}
	if c.MaxCaptureMs == 0 {
		c.MaxCaptureMs = DefaultMaxCaptureMs
	}
	if c.CaptureTimeoutMs == 0 {
		c.CaptureTimeoutMs = DefaultCaptureTimeoutMs
	}
	if c.MinSpeechMs == 0 {
		c.MinSpeechMs = DefaultMinSpeechMs
	}
	if c.VADThreshold == 0 {
		c.VADThreshold = DefaultVADThreshold
	}

	s := &cfg.Skills
	if s.InvocationTimeoutMs == 0 {
		s.InvocationTimeoutMs = DefaultInvocationTimeoutMs
	}
	if s.ContextExpiryMs == 0 {
		s.ContextExpiryMs = DefaultContextExpiryMs
	}

	j := &cfg.Journal
	if j.Backend == "" {
		j.Backend = JournalMemory
		if j.PostgresDSN != "" {
			j.Backend = JournalPostgres
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	validateProviderName("source", cfg.Audio.Source)
	validateProviderName("sink", cfg.Audio.Sink)
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 2]", cfg.Audio.Channels))
	}
	if cfg.Audio.FrameMs < 0 || cfg.Audio.FrameMs > 100 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is out of range [1, 100]", cfg.Audio.FrameMs))
	}
	if cfg.Audio.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("audio.queue_capacity %d must be positive", cfg.Audio.QueueCapacity))
	}
	if cfg.Audio.Source == "file" && cfg.Audio.File == "" {
		errs = append(errs, errors.New("audio.file is required when audio.source is file"))
	}

	// Wake
	if len(cfg.Wake.WakeWords) == 0 {
		errs = append(errs, errors.New("wake.wake_words must list at least one phrase"))
	}
	if cfg.Wake.Engine != "" && !cfg.Wake.Engine.IsValid() {
		errs = append(errs, fmt.Errorf("wake.engine %q is invalid; valid values: template, energy", cfg.Wake.Engine))
	}
	if cfg.Wake.Sensitivity < 0 || cfg.Wake.Sensitivity > 1 {
		errs = append(errs, fmt.Errorf("wake.sensitivity %.2f is out of range [0, 1]", cfg.Wake.Sensitivity))
	}
	phrases := make(map[string]int, len(cfg.Wake.WakeWords))
	for i, ww := range cfg.Wake.WakeWords {
		prefix := fmt.Sprintf("wake.wake_words[%d]", i)
		if ww.Phrase == "" {
			errs = append(errs, fmt.Errorf("%s.phrase is required", prefix))
		} else {
			if prev, ok := phrases[ww.Phrase]; ok {
				errs = append(errs, fmt.Errorf("%s.phrase %q is a duplicate of wake.wake_words[%d]", prefix, ww.Phrase, prev))
			}
			phrases[ww.Phrase] = i
		}
		if cfg.Wake.Engine == WakeTemplate && len(ww.Templates) == 0 {
			errs = append(errs, fmt.Errorf("%s.templates is required for the template engine", prefix))
		}
	}

	// Recognition
	r := cfg.Recognition
	if len(r.RecognizerOrder) == 0 {
		errs = append(errs, errors.New("recognition.recognizer_order must list at least one backend"))
	}
	seen := make(map[string]bool, len(r.RecognizerOrder))
	for i, label := range r.RecognizerOrder {
		if seen[label] {
			errs = append(errs, fmt.Errorf("recognition.recognizer_order[%d] %q is listed twice", i, label))
		}
		seen[label] = true
		b, ok := r.Backends[label]
		if !ok {
			errs = append(errs, fmt.Errorf("recognition.recognizer_order[%d] %q has no entry in recognition.backends", i, label))
			continue
		}
		validateProviderName("stt", b.Name)
	}
	for label := range r.Backends {
		if !seen[label] {
			slog.Warn("recognition backend is configured but not in recognizer_order; it will not be used", "backend", label)
		}
	}
	if r.PerBackendTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("recognition.per_backend_timeout_ms %d must be positive", r.PerBackendTimeoutMs))
	}
	if a := r.Acceptance(); a < 0 || a > 1 {
		errs = append(errs, fmt.Errorf("recognition.acceptance_confidence %.2f is out of range [0, 1]", a))
	}

	// Capture
	c := cfg.Capture
	validateProviderName("vad", c.VAD.Name)
	for name, v := range map[string]int{
		"silence_timeout_ms": c.SilenceTimeoutMs,
		"max_capture_ms":     c.MaxCaptureMs,
		"capture_timeout_ms": c.CaptureTimeoutMs,
		"min_speech_ms":      c.MinSpeechMs,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("capture.%s %d must not be negative", name, v))
		}
	}
	if c.MaxCaptureMs > 0 && c.SilenceTimeoutMs >= c.MaxCaptureMs {
		errs = append(errs, fmt.Errorf("capture.silence_timeout_ms %d must be below capture.max_capture_ms %d", c.SilenceTimeoutMs, c.MaxCaptureMs))
	}
	if c.VADThreshold < 0 || c.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("capture.vad_threshold %.2f is out of range [0, 1]", c.VADThreshold))
	}

	// Skills
	if cfg.Skills.InvocationTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("skills.skill_invocation_timeout_ms %d must be positive", cfg.Skills.InvocationTimeoutMs))
	}
	servers := make(map[string]bool, len(cfg.Skills.MCPServers))
	for i, srv := range cfg.Skills.MCPServers {
		prefix := fmt.Sprintf("skills.mcp_servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if servers[srv.Name] {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate", prefix, srv.Name))
		}
		servers[srv.Name] = true
		if !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == plugin.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == plugin.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}
	if len(cfg.Skills.MCPServers) > 0 && cfg.Skills.PluginDir == "" {
		slog.Warn("skills.mcp_servers are configured but skills.plugin_dir is empty; no plugin can call them")
	}

	// Response
	if cfg.Response.TTS.Name == "" && cfg.Audio.Sink != "none" {
		errs = append(errs, errors.New("response.tts.name is required unless audio.sink is none"))
	}
	validateProviderName("tts", cfg.Response.TTS.Name)
	for i, fb := range cfg.Response.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("response.fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", fb.Name)
	}
	for intentName, byStatus := range cfg.Response.Templates {
		for status := range byStatus {
			if status != "success" && status != "failure" && !strings.HasPrefix(status, "success_") {
				errs = append(errs, fmt.Errorf("response.templates.%s.%s: status must be success, failure, or success_<status>", intentName, status))
			}
		}
	}

	// Journal
	j := cfg.Journal
	if j.Backend != "" && !j.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("journal.backend %q is invalid; valid values: memory, file, postgres", j.Backend))
	}
	if j.Backend == JournalFile && j.Path == "" {
		errs = append(errs, errors.New("journal.path is required when journal.backend is file"))
	}
	if j.Backend == JournalPostgres && j.PostgresDSN == "" {
		errs = append(errs, errors.New("journal.postgres_dsn is required when journal.backend is postgres"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
