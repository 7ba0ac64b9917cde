// Package energy implements a level-based VAD engine. A frame's speech
// probability is its RMS level scaled so that RefLevel maps to 1.0.
package energy

import (
	"errors"
	"fmt"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/vad"
)

// DefaultRefLevel is the normalised RMS level treated as certain speech
// (about -26 dBFS).
const DefaultRefLevel = 0.05

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

// Engine creates energy VAD sessions.
type Engine struct {
	refLevel float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithRefLevel overrides [DefaultRefLevel].
func WithRefLevel(l float64) Option {
	return func(e *Engine) {
		if l > 0 {
			e.refLevel = l
		}
	}
}

// New returns an energy Engine.
func New(opts ...Option) *Engine {
	e := &Engine{refLevel: DefaultRefLevel}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &session{
		ref:        e.refLevel,
		frameBytes: cfg.FrameBytes(),
		hyst:       vad.Hysteresis{Speech: cfg.SpeechThreshold, Silence: cfg.SilenceThreshold},
	}, nil
}

type session struct {
	ref        float64
	frameBytes int
	hyst       vad.Hysteresis
	closed     bool
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, errors.New("energy vad: session closed")
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}
	p := audio.RMS(frame) / s.ref
	if p > 1 {
		p = 1
	}
	return s.hyst.Step(p), nil
}

func (s *session) Reset() { s.hyst.Reset() }

func (s *session) Close() error {
	s.closed = true
	return nil
}
