package stt

import "time"

// Result is a single transcription produced by a Recognizer.
type Result struct {
	// Text is the transcribed speech content with surrounding whitespace
	// removed.
	Text string

	// Confidence is the engine's overall confidence in [0, 1]. Engines that do
	// not report confidence use a configured default.
	Confidence float64

	// Words contains per-word detail when the engine provides it.
	Words []WordDetail
}

// WordDetail holds per-word metadata from engines that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Clamp01 bounds a confidence value to [0, 1].
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
