package tts

import "time"

// VoiceProfile selects and shapes the synthesis voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default). Providers
	// that cannot change rate ignore it.
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string
}

// Speech is synthesized int16 PCM audio.
type Speech struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the speech.
func (s Speech) Duration() time.Duration {
	if s.SampleRate <= 0 || s.Channels <= 0 {
		return 0
	}
	samples := len(s.PCM) / (2 * s.Channels)
	return time.Duration(samples) * time.Second / time.Duration(s.SampleRate)
}
