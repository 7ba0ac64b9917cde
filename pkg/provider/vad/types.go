package vad

// VADEvent is the detection result for a single audio frame.
type VADEvent struct {
	Type VADEventType

	// Probability is the speech score in [0, 1] that produced Type.
	Probability float64
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart indicates speech has just begun.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech.
	VADSpeechContinue

	// VADSpeechEnd indicates speech has just ended.
	VADSpeechEnd

	// VADSilence indicates no speech detected.
	VADSilence
)

// IsSpeech reports whether the event belongs to an active speech run.
func (t VADEventType) IsSpeech() bool {
	return t == VADSpeechStart || t == VADSpeechContinue
}

// Hysteresis turns per-frame speech probabilities into start/continue/end
// events using the two thresholds of a [Config].
type Hysteresis struct {
	Speech, Silence float64
	speaking        bool
}

// Step classifies the next probability.
func (h *Hysteresis) Step(p float64) VADEvent {
	switch {
	case !h.speaking && p >= h.Speech:
		h.speaking = true
		return VADEvent{Type: VADSpeechStart, Probability: p}
	case h.speaking && p < h.Silence:
		h.speaking = false
		return VADEvent{Type: VADSpeechEnd, Probability: p}
	case h.speaking:
		return VADEvent{Type: VADSpeechContinue, Probability: p}
	default:
		return VADEvent{Type: VADSilence, Probability: p}
	}
}

// Reset returns the tracker to the not-speaking state.
func (h *Hysteresis) Reset() { h.speaking = false }
