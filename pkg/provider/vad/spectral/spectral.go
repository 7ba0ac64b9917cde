// Package spectral implements a VAD engine that scores frames by their energy
// in the voice band (300 to 3400 Hz). Each frame is Hann-windowed and
// transformed with go-dsp's real FFT; energy outside the band (mains hum,
// fan hiss) does not count towards speech.
package spectral

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/vad"
)

const (
	bandLowHz  = 300.0
	bandHighHz = 3400.0

	// DefaultRefLevel is the band RMS treated as certain speech.
	DefaultRefLevel = 0.04
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

// Engine creates spectral VAD sessions.
type Engine struct {
	refLevel float64
}

// New returns a spectral Engine. refLevel ≤ 0 selects DefaultRefLevel.
func New(refLevel float64) *Engine {
	if refLevel <= 0 {
		refLevel = DefaultRefLevel
	}
	return &Engine{refLevel: refLevel}
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := cfg.FrameBytes() / 2
	return &session{
		ref:        e.refLevel,
		sampleRate: cfg.SampleRate,
		frameBytes: cfg.FrameBytes(),
		win:        window.Hann(n),
		hyst:       vad.Hysteresis{Speech: cfg.SpeechThreshold, Silence: cfg.SilenceThreshold},
	}, nil
}

type session struct {
	ref        float64
	sampleRate int
	frameBytes int
	win        []float64
	hyst       vad.Hysteresis
	closed     bool
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, errors.New("spectral vad: session closed")
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("spectral vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}
	p := BandLevel(audio.Float64s(frame), s.win, s.sampleRate) / s.ref
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

// BandLevel returns the RMS-equivalent level of x restricted to the voice
// band. win must have len(x) coefficients.
func BandLevel(x, win []float64, sampleRate int) float64 {
	n := len(x)
	if n == 0 {
		return 0
	}
	w := make([]float64, n)
	for i := range x {
		w[i] = x[i] * win[i]
	}
	spec := fft.FFTReal(w)

	binHz := float64(sampleRate) / float64(n)
	lo := int(math.Ceil(bandLowHz / binHz))
	hi := min(int(bandHighHz/binHz), n/2)

	// Parseval: sum of |X|² over both half-spectra equals n·Σx². The Hann
	// window's mean-square gain of 3/8 is divided back out.
	var energy float64
	for k := lo; k <= hi; k++ {
		m := cmplx.Abs(spec[k])
		energy += 2 * m * m
	}
	return math.Sqrt(energy / float64(n*n) / 0.375)
}
