package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/hark/pkg/provider/tts"
	ttsmock "github.com/MrWong99/hark/pkg/provider/tts/mock"
)

func TestTTSFallback_Synthesize(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("polly down")}
	secondary := &ttsmock.Provider{Speech: tts.Speech{PCM: []byte{1, 2}, SampleRate: 16000, Channels: 1}}

	fb := NewTTSFallback(CircuitBreakerConfig{MaxFailures: 3})
	fb.Add("polly", primary)
	fb.Add("coqui", secondary)

	speech, err := fb.Synthesize(context.Background(), "Timer cancelled.", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(speech.PCM) != 2 {
		t.Errorf("PCM = %v, want secondary audio", speech.PCM)
	}
	if got := primary.Texts(); len(got) != 1 || got[0] != "Timer cancelled." {
		t.Errorf("primary texts = %v", got)
	}
	if got := secondary.Texts(); len(got) != 1 {
		t.Errorf("secondary texts = %v", got)
	}
}

func TestTTSFallback_ListVoices(t *testing.T) {
	primary := &ttsmock.Provider{ListVoicesResult: []tts.VoiceProfile{{ID: "Joanna"}}}
	fb := NewTTSFallback(CircuitBreakerConfig{})
	fb.Add("polly", primary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "Joanna" {
		t.Errorf("voices = %+v", voices)
	}
}
