package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/hark/internal/config"
)

func ptr[T any](v T) *T { return &v }

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LiveFields(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:      config.ServerConfig{LogLevel: config.LogInfo},
		Wake:        config.WakeConfig{Sensitivity: 0.5},
		Recognition: config.RecognitionConfig{AcceptanceConfidence: ptr(0.6)},
	}
	new := &config.Config{
		Server:      config.ServerConfig{LogLevel: config.LogDebug},
		Wake:        config.WakeConfig{Sensitivity: 0.7},
		Recognition: config.RecognitionConfig{AcceptanceConfidence: ptr(0.8)},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v %q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.SensitivityChanged || d.NewSensitivity != 0.7 {
		t.Errorf("sensitivity diff = %v %v", d.SensitivityChanged, d.NewSensitivity)
	}
	if !d.AcceptanceChanged || d.NewAcceptance != 0.8 {
		t.Errorf("acceptance diff = %v %v", d.AcceptanceChanged, d.NewAcceptance)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("live-only change requires restart of %v", d.RestartRequired)
	}
}

func TestDiff_AcceptanceDefaultEqualsExplicit(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	new := &config.Config{Recognition: config.RecognitionConfig{AcceptanceConfidence: ptr(config.DefaultAcceptanceConfidence)}}
	if d := config.Diff(old, new); d.Changed() {
		t.Errorf("expected no change, got %+v", d)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, sampleYAML)
	new := mustLoad(t, sampleYAML)
	new.Capture.SilenceTimeoutMs = 900
	new.Recognition.Vocabulary = append(new.Recognition.Vocabulary, "garage")
	new.Wake.Sensitivity = 0.9

	d := config.Diff(old, new)
	if !d.SensitivityChanged {
		t.Error("expected SensitivityChanged")
	}
	want := []string{"recognition", "capture"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
}
