// Package tts defines the Provider interface for text-to-speech backends.
//
// hark speaks one short response per command, so providers are batch-shaped:
// Synthesize turns a complete message into PCM that the response speaker
// plays through an [audio.Sink].
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice. Returns an error if the
	// backend is unreachable, rejects the voice, or ctx is cancelled.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (Speech, error)

	// ListVoices returns the voices the backend currently offers.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
