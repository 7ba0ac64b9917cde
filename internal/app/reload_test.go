package app

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/pkg/audio"
	audiomock "github.com/MrWong99/hark/pkg/audio/mock"
	"github.com/MrWong99/hark/pkg/audio/wavfile"
	"github.com/MrWong99/hark/pkg/provider/stt"
	sttmock "github.com/MrWong99/hark/pkg/provider/stt/mock"
	vadmock "github.com/MrWong99/hark/pkg/provider/vad/mock"
)

const reloadYAML = `
audio:
  sink: none
wake:
  engine: energy
  wake_words:
    - phrase: computer
recognition:
  recognizer_order: [mock]
  backends:
    mock: {}
`

func reloadApp(t *testing.T, lv *slog.LevelVar) (*App, *config.Config) {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(reloadYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	a, err := New(context.Background(), cfg, &Providers{
		Source:      &audiomock.Source{},
		Recognizers: []stt.Recognizer{&sttmock.Recognizer{EngineName: "mock"}},
		VAD:         &vadmock.Engine{},
	}, WithFS(afero.NewMemMapFs()), WithMetrics(m), WithLevelVar(lv))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, cfg
}

func TestApplyChange_LiveFields(t *testing.T) {
	t.Parallel()

	lv := new(slog.LevelVar)
	a, old := reloadApp(t, lv)

	next := *old
	next.Server.LogLevel = config.LogDebug
	next.Wake.Sensitivity = 0.8
	zero := 0.0
	next.Recognition.AcceptanceConfidence = &zero

	a.ApplyChange(config.Change{Old: old, New: &next})

	if got := lv.Level(); got != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", got)
	}
	if got := a.wake.Sensitivity(); got != 0.8 {
		t.Errorf("sensitivity = %v, want 0.8", got)
	}
	if got := a.arbitrator.AcceptanceConfidence(); got != 0 {
		t.Errorf("acceptance = %v, want 0", got)
	}
}

func TestApplyChange_RestartOnlyChangeLeavesLiveState(t *testing.T) {
	t.Parallel()

	a, old := reloadApp(t, new(slog.LevelVar))

	next := *old
	next.Capture.SilenceTimeoutMs = old.Capture.SilenceTimeoutMs + 500

	a.ApplyChange(config.Change{Old: old, New: &next})

	if got := a.wake.Sensitivity(); got != old.Wake.Sensitivity {
		t.Errorf("sensitivity = %v, want unchanged %v", got, old.Wake.Sensitivity)
	}
	if got := a.arbitrator.AcceptanceConfidence(); got != old.Recognition.Acceptance() {
		t.Errorf("acceptance = %v, want unchanged %v", got, old.Recognition.Acceptance())
	}
}

const templateReloadYAML = `
audio:
  sink: none
wake:
  wake_words:
    - {phrase: computer, templates: [/wake/computer.wav]}
recognition:
  recognizer_order: [mock]
  backends:
    mock: {}
`

// sweep renders two 300 ms tones back to back at 16 kHz.
func sweep(first, second float64) []byte {
	const n = 16000 * 300 / 1000
	s := make([]int16, 0, 2*n)
	for _, f := range []float64{first, second} {
		for i := range n {
			s = append(s, int16(0.3*32767*math.Sin(2*math.Pi*f*float64(i)/16000)))
		}
	}
	return audio.Bytes(s)
}

// feedPhrase plays pcm through the wake detector in 20 ms frames and reports
// whether the final frame triggered.
func feedPhrase(a *App, pcm []byte) bool {
	const size = 16000 / 50 * 2
	a.wake.Reset()
	var hit bool
	for i := 0; i+size <= len(pcm); i += size {
		_, hit = a.wake.Feed(audio.AudioFrame{
			Data:       pcm[i : i+size],
			SampleRate: 16000,
			Channels:   1,
			Timestamp:  time.Duration(i/size) * 20 * time.Millisecond,
		})
	}
	return hit
}

func TestApplyChange_ReloadsWakeTemplates(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	if err := wavfile.Encode(fs, "/wake/computer.wav", sweep(500, 1500), 16000, 1); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	cfg, err := config.LoadFromReader(strings.NewReader(templateReloadYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	a, err := New(context.Background(), cfg, &Providers{
		Source:      &audiomock.Source{},
		Recognizers: []stt.Recognizer{&sttmock.Recognizer{EngineName: "mock"}},
		VAD:         &vadmock.Engine{},
	}, WithFS(fs), WithMetrics(testReloadMetrics(t)))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	reenrolled := sweep(1500, 500)
	if feedPhrase(a, reenrolled) {
		t.Fatal("reversed phrase woke the detector before re-enrolment")
	}

	if err := wavfile.Encode(fs, "/wake/computer.wav", reenrolled, 16000, 1); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	a.ApplyChange(config.Change{Old: cfg, New: cfg, Templates: []string{"computer"}})
	if !feedPhrase(a, reenrolled) {
		t.Error("re-enrolled phrase did not wake the detector after reload")
	}

	// A broken recording leaves the working spotter in place.
	if err := afero.WriteFile(fs, "/wake/computer.wav", []byte("not a wav"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	a.ApplyChange(config.Change{Old: cfg, New: cfg, Templates: []string{"computer"}})
	if !feedPhrase(a, reenrolled) {
		t.Error("failed reload replaced the working spotter")
	}
}

func testReloadMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestNew_SpeechDisabledWithoutSink(t *testing.T) {
	t.Parallel()

	a, _ := reloadApp(t, nil)
	if a.speaker != nil {
		t.Error("speaker built without a sink")
	}
	if a.composer == nil {
		t.Error("composer not built")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := SlogLevel(tt.in); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
