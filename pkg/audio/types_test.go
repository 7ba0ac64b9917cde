package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/hark/pkg/audio"
)

func TestAudioFrame_Duration(t *testing.T) {
	t.Parallel()
	f := audio.AudioFrame{Data: make([]byte, 640), SampleRate: 16000, Channels: 1}
	if got := f.Samples(); got != 320 {
		t.Errorf("Samples() = %d, want 320", got)
	}
	if got := f.Duration(); got != 20*time.Millisecond {
		t.Errorf("Duration() = %v, want 20ms", got)
	}
}

func TestSegment(t *testing.T) {
	t.Parallel()

	var seg audio.Segment
	if !seg.Empty() {
		t.Fatal("zero segment should be empty")
	}
	seg.Append(audio.AudioFrame{Data: audio.Bytes([]int16{1, 2}), SampleRate: 16000, Channels: 1})
	seg.Append(audio.AudioFrame{Data: audio.Bytes([]int16{3}), SampleRate: 16000, Channels: 1})

	if seg.SampleRate != 16000 || seg.Channels != 1 {
		t.Errorf("format = %d/%d, want 16000/1", seg.SampleRate, seg.Channels)
	}
	if seg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", seg.Len())
	}
	equalSamples(t, audio.Int16s(seg.PCM()), []int16{1, 2, 3})
}

func TestRMSAndPeak(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	pcm := audio.Bytes([]int16{16384, -16384, 16384, -16384})
	if got := audio.RMS(pcm); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS = %v, want 0.5", got)
	}
	if got := audio.Peak(audio.Bytes([]int16{3, -900, 12})); got != 900 {
		t.Errorf("Peak = %d, want 900", got)
	}
}

func TestFloat32s(t *testing.T) {
	t.Parallel()
	got := audio.Float32s(audio.Bytes([]int16{0, -32768, 16384}))
	want := []float32{0, -1, 0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}
