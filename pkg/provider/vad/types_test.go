package vad_test

import (
	"testing"

	"github.com/MrWong99/hark/pkg/provider/vad"
)

func TestHysteresis(t *testing.T) {
	t.Parallel()

	h := vad.Hysteresis{Speech: 0.5, Silence: 0.3}
	steps := []struct {
		p    float64
		want vad.VADEventType
	}{
		{0.1, vad.VADSilence},
		{0.6, vad.VADSpeechStart},
		{0.4, vad.VADSpeechContinue}, // between thresholds: stays in speech
		{0.9, vad.VADSpeechContinue},
		{0.2, vad.VADSpeechEnd},
		{0.4, vad.VADSilence}, // between thresholds: stays silent
		{0.5, vad.VADSpeechStart},
	}
	for i, s := range steps {
		if got := h.Step(s.p).Type; got != s.want {
			t.Errorf("step %d (p=%v): got %v, want %v", i, s.p, got, s.want)
		}
	}
	h.Reset()
	if got := h.Step(0.4).Type; got != vad.VADSilence {
		t.Errorf("after Reset: got %v, want VADSilence", got)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := vad.Config{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 0.5, SilenceThreshold: 0.35}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if got := valid.FrameBytes(); got != 640 {
		t.Errorf("FrameBytes = %d, want 640", got)
	}

	bad := []vad.Config{
		{SampleRate: 0, FrameSizeMs: 20, SpeechThreshold: 0.5, SilenceThreshold: 0.3},
		{SampleRate: 16000, FrameSizeMs: 0, SpeechThreshold: 0.5, SilenceThreshold: 0.3},
		{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 1.5, SilenceThreshold: 0.3},
		{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 0.3, SilenceThreshold: 0.5},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}
