// Package vad defines the Engine interface for voice activity detection.
//
// The pipeline uses VAD while capturing a command: speech onset marks the
// start of the segment and a run of silent frames marks its end. An Engine
// hands out stateful per-stream sessions; a session classifies one fixed-size
// PCM frame at a time and never blocks.
//
// Two engines ship with hark: package energy thresholds the frame RMS level,
// and package spectral measures energy in the speech band via an FFT so that hum and
// hiss do not hold a capture open.
package vad

import "fmt"

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame. ProcessFrame rejects
	// frames of any other length.
	FrameSizeMs int

	// SpeechThreshold is the probability at or above which a frame counts as
	// speech. Range: [0.0, 1.0]. Typical: 0.5.
	SpeechThreshold float64

	// SilenceThreshold is the probability below which an active speech run is
	// considered ended. Must be ≤ SpeechThreshold. Typical: 0.35.
	SilenceThreshold float64
}

// Validate checks the config for internal consistency.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("vad: sample rate must be positive, got %d", c.SampleRate)
	case c.FrameSizeMs <= 0:
		return fmt.Errorf("vad: frame size must be positive, got %d ms", c.FrameSizeMs)
	case c.SpeechThreshold < 0 || c.SpeechThreshold > 1:
		return fmt.Errorf("vad: speech threshold %v out of range [0,1]", c.SpeechThreshold)
	case c.SilenceThreshold < 0 || c.SilenceThreshold > c.SpeechThreshold:
		return fmt.Errorf("vad: silence threshold %v must be in [0, speech threshold]", c.SilenceThreshold)
	}
	return nil
}

// FrameBytes returns the byte length of one mono int16 frame.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// SessionHandle is an active VAD session for a single audio stream. It is not
// safe for concurrent use.
type SessionHandle interface {
	// ProcessFrame classifies one mono int16 frame of the configured size.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears accumulated state so the next frame starts a fresh stream.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions. Implementations must be safe for
// concurrent use.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}
