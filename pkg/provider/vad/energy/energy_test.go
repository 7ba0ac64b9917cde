package energy_test

import (
	"math"
	"testing"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/vad"
	"github.com/MrWong99/hark/pkg/provider/vad/energy"
)

var cfg = vad.Config{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 0.5, SilenceThreshold: 0.35}

func tone(amp float64) []byte {
	s := make([]int16, 320)
	for i := range s {
		s[i] = int16(amp * 32767 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return audio.Bytes(s)
}

func TestEnergy_SpeechThenSilence(t *testing.T) {
	t.Parallel()

	sess, err := energy.New().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	want := []vad.VADEventType{vad.VADSilence, vad.VADSpeechStart, vad.VADSpeechContinue, vad.VADSpeechEnd}
	frames := [][]byte{tone(0), tone(0.3), tone(0.3), tone(0)}
	for i, f := range frames {
		ev, err := sess.ProcessFrame(f)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if ev.Type != want[i] {
			t.Errorf("frame %d: got %v, want %v (p=%.3f)", i, ev.Type, want[i], ev.Probability)
		}
	}
}

func TestEnergy_RefLevel(t *testing.T) {
	t.Parallel()

	// A quiet tone (RMS ≈ 0.007) is silence by default but speech with a
	// lower reference level.
	quiet := tone(0.01)
	def, _ := energy.New().NewSession(cfg)
	if ev, _ := def.ProcessFrame(quiet); ev.Type != vad.VADSilence {
		t.Errorf("default ref: got %v, want silence", ev.Type)
	}
	sensitive, _ := energy.New(energy.WithRefLevel(0.01)).NewSession(cfg)
	if ev, _ := sensitive.ProcessFrame(quiet); ev.Type != vad.VADSpeechStart {
		t.Errorf("low ref: got %v, want speech start", ev.Type)
	}
}

func TestEnergy_Errors(t *testing.T) {
	t.Parallel()

	if _, err := energy.New().NewSession(vad.Config{}); err == nil {
		t.Error("expected invalid config error")
	}
	sess, _ := energy.New().NewSession(cfg)
	if _, err := sess.ProcessFrame(make([]byte, 10)); err == nil {
		t.Error("expected wrong frame size error")
	}
	_ = sess.Close()
	if _, err := sess.ProcessFrame(tone(0)); err == nil {
		t.Error("expected error after Close")
	}
}
