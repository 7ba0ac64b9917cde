// Package config provides the configuration schema, loader, file watcher, and
// provider registry for hark.
package config

import (
	"time"

	"github.com/MrWong99/hark/internal/skill/plugin"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// WakeEngine selects how wake phrases are spotted.
type WakeEngine string

const (
	// WakeTemplate matches enrolment recordings of each phrase.
	WakeTemplate WakeEngine = "template"

	// WakeEnergy fires on any short utterance. Meant for demos.
	WakeEnergy WakeEngine = "energy"
)

// IsValid reports whether e is a recognised wake engine.
func (e WakeEngine) IsValid() bool {
	return e == WakeTemplate || e == WakeEnergy
}

// JournalBackend selects the command journal store.
type JournalBackend string

const (
	JournalMemory   JournalBackend = "memory"
	JournalFile     JournalBackend = "file"
	JournalPostgres JournalBackend = "postgres"
)

// IsValid reports whether b is a recognised journal backend.
func (b JournalBackend) IsValid() bool {
	switch b {
	case JournalMemory, JournalFile, JournalPostgres:
		return true
	}
	return false
}

// Config is the root configuration structure for hark.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Audio       AudioConfig       `yaml:"audio"`
	Wake        WakeConfig        `yaml:"wake"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Capture     CaptureConfig     `yaml:"capture"`
	Skills      SkillsConfig      `yaml:"skills"`
	Response    ResponseConfig    `yaml:"response"`
	Journal     JournalConfig     `yaml:"journal"`
}

// ServerConfig holds the health/metrics listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health and metrics server
	// (e.g., ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig selects the microphone and speaker and fixes the frame format.
type AudioConfig struct {
	// Source names a registered frame source ("portaudio" or "file").
	Source string `yaml:"source"`

	// Sink names a registered playback sink ("portaudio" or "none").
	Sink string `yaml:"sink"`

	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// FrameMs is the duration of one frame. Default 20.
	FrameMs int `yaml:"frame_ms"`

	// Device is reserved for selecting a non-default input device.
	Device string `yaml:"device"`

	// File is the WAV file replayed by the "file" source.
	File string `yaml:"file"`

	// Realtime paces the "file" source at the frame rate instead of
	// delivering frames as fast as they are read.
	Realtime bool `yaml:"realtime"`

	// QueueCapacity bounds the frame queue between the source and the
	// pipeline. Default 100.
	QueueCapacity int `yaml:"queue_capacity"`

	// DumpDir, when set, receives a WAV file per captured command.
	DumpDir string `yaml:"dump_dir"`
}

// WakeConfig configures wake-phrase spotting.
type WakeConfig struct {
	WakeWords []WakeWordConfig `yaml:"wake_words"`

	// Sensitivity is the detection threshold in [0, 1]. Hot-reloadable.
	Sensitivity float64 `yaml:"sensitivity"`

	// CooldownMs suppresses re-detection after an event. Default 1500.
	CooldownMs int `yaml:"cooldown_ms"`

	// Engine selects the spotter. Default "template".
	Engine WakeEngine `yaml:"engine"`
}

// WakeWordConfig is one wake phrase and its enrolment recordings.
type WakeWordConfig struct {
	Phrase    string   `yaml:"phrase"`
	Templates []string `yaml:"templates"`
}

// RecognitionConfig configures speech-to-text arbitration.
type RecognitionConfig struct {
	// RecognizerOrder lists keys of Backends in preference order. Offline
	// engines should come first.
	RecognizerOrder []string `yaml:"recognizer_order"`

	// PerBackendTimeoutMs bounds each engine attempt. Default 4000.
	PerBackendTimeoutMs int `yaml:"per_backend_timeout_ms"`

	// AcceptanceConfidence is the confidence at which a result is taken
	// without trying further engines. Nil means 0.6. Hot-reloadable.
	AcceptanceConfidence *float64 `yaml:"acceptance_confidence"`

	// Backends maps engine labels to provider entries. An entry without a
	// name uses its label as the registered provider name.
	Backends map[string]ProviderEntry `yaml:"backends"`

	// Vocabulary lists terms the transcript corrector repairs.
	Vocabulary []string `yaml:"vocabulary"`
}

// Acceptance returns the acceptance confidence with its default applied.
func (r RecognitionConfig) Acceptance() float64 {
	if r.AcceptanceConfidence == nil {
		return DefaultAcceptanceConfidence
	}
	return *r.AcceptanceConfidence
}

// CaptureConfig configures end-of-speech detection.
type CaptureConfig struct {
	// VAD selects the voice activity detector ("energy" or "spectral").
	VAD ProviderEntry `yaml:"vad"`

	SilenceTimeoutMs int `yaml:"silence_timeout_ms"`
	MaxCaptureMs     int `yaml:"max_capture_ms"`
	CaptureTimeoutMs int `yaml:"capture_timeout_ms"`
	MinSpeechMs      int `yaml:"min_speech_ms"`

	// VADThreshold is the speech probability threshold. Default 0.5.
	VADThreshold float64 `yaml:"vad_threshold"`
}

// SkillsConfig configures skill dispatch and plugins.
type SkillsConfig struct {
	// InvocationTimeoutMs bounds a single handler call. Default 5000.
	InvocationTimeoutMs int `yaml:"skill_invocation_timeout_ms"`

	// PluginDir holds YAML plugin manifests. Empty disables plugins.
	PluginDir string `yaml:"plugin_dir"`

	// ContextExpiryMs is how long the last successful intent stays
	// available for follow-ups such as "cancel it". Default 300000.
	ContextExpiryMs int `yaml:"context_expiry_ms"`

	// MCPServers are the tool servers plugins may call.
	MCPServers []MCPServerConfig `yaml:"mcp_servers"`

	// StopExits makes the "stop" command shut hark down after the reply is
	// spoken. By default stop only acknowledges.
	StopExits bool `yaml:"stop_exits"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name identifies the server in plugin manifests and logs.
	Name string `yaml:"name"`

	// Transport is "stdio" or "streamable-http".
	Transport plugin.Transport `yaml:"transport"`

	// Command is the executable (with optional arguments) launched for the
	// stdio transport.
	Command string `yaml:"command"`

	// URL is the endpoint for the streamable-http transport.
	URL string `yaml:"url"`

	// Env holds additional environment variables for stdio subprocesses.
	Env map[string]string `yaml:"env"`
}

// ServerConfig converts c to the plugin package form.
func (c MCPServerConfig) ServerConfig() plugin.ServerConfig {
	return plugin.ServerConfig{
		Name:      c.Name,
		Transport: c.Transport,
		Command:   c.Command,
		URL:       c.URL,
		Env:       c.Env,
	}
}

// ResponseConfig configures speech output.
type ResponseConfig struct {
	// TTS is the primary speech synthesizer.
	TTS ProviderEntry `yaml:"tts"`

	// Fallbacks are tried in order while the primary is failing.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	Voice VoiceConfig `yaml:"voice"`

	// Templates reword skill results, keyed by intent and then by status
	// ("success", "failure", or "success_<status>"). Values are Go
	// text/template sources over the result's data.
	Templates map[string]map[string]string `yaml:"templates"`
}

// VoiceConfig selects the synthesizer voice.
type VoiceConfig struct {
	// ID is the provider-specific voice identifier.
	ID string `yaml:"id"`

	// Language is a BCP-47 tag passed to providers that need one.
	Language string `yaml:"language"`
}

// JournalConfig selects where finished sessions are recorded.
type JournalConfig struct {
	// Backend defaults to "postgres" when PostgresDSN is set, otherwise to
	// "memory".
	Backend JournalBackend `yaml:"backend"`

	// Path is the JSON-lines file used by the "file" backend.
	Path string `yaml:"path"`

	// PostgresDSN is the connection string for the "postgres" backend.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Capacity bounds the "memory" backend.
	Capacity int `yaml:"capacity"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper", "polly").
	Name string `yaml:"name"`

	// APIKey is the authentication key for online providers.
	APIKey string `yaml:"api_key"`

	// BaseURL is the server address for local HTTP providers, or overrides
	// the default endpoint of online ones.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider, or the model file path for
	// in-process engines.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// StringOption returns Options[key] when it is a string.
func (e ProviderEntry) StringOption(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// FloatOption returns Options[key] as a float64, accepting YAML integers.
func (e ProviderEntry) FloatOption(key string) (float64, bool) {
	switch v := e.Options[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Millis converts a millisecond config value to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
