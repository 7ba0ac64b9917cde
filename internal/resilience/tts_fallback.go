package resilience

import (
	"context"

	"github.com/MrWong99/hark/pkg/provider/tts"
)

var _ tts.Provider = (*TTSFallback)(nil)

// TTSFallback implements [tts.Provider] by failing over across several TTS
// backends in registration order.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// NewTTSFallback creates an empty TTSFallback. Backends are added with Add.
func NewTTSFallback(cfg CircuitBreakerConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup[tts.Provider](cfg)}
}

// Add registers a backend. The first backend added is the primary.
func (f *TTSFallback) Add(name string, p tts.Provider) {
	f.group.Add(name, p)
}

// Synthesize renders text with the first healthy backend. The voice is passed
// to every backend unchanged, so voice IDs should be valid for each or empty.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Speech, error) {
	return Do(f.group, func(_ string, p tts.Provider) (tts.Speech, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices returns the voices of the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return Do(f.group, func(_ string, p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
