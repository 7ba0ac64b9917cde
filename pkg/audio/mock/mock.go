// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for unit tests.
//
// Both mocks are safe for concurrent use and record every call so tests can
// assert on call counts and arguments.
//
// Typical usage:
//
//	src := &mock.Source{Frames: frames, BlockWhenDrained: true}
//	sink := &mock.Sink{}
//	ctrl := pipeline.New(src, ...)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hark/pkg/audio"
)

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source] that replays Frames in
// order.
type Source struct {
	mu sync.Mutex

	// Frames are returned by NextFrame in order.
	Frames []audio.AudioFrame

	// BlockWhenDrained makes NextFrame block until ctx is cancelled or Close is
	// called once Frames is exhausted. When false, NextFrame returns
	// [audio.ErrSourceClosed] instead.
	BlockWhenDrained bool

	// NextFrameErr, when non-nil, is returned by every NextFrame call.
	NextFrameErr error

	// CloseErr is returned by Close.
	CloseErr error

	// CallCountNextFrame records how many times NextFrame was called.
	CallCountNextFrame int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	pos    int
	closed chan struct{}
}

func (s *Source) done() chan struct{} {
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
	return s.closed
}

// NextFrame implements [audio.Source].
func (s *Source) NextFrame(ctx context.Context) (audio.AudioFrame, error) {
	s.mu.Lock()
	s.CallCountNextFrame++
	if s.NextFrameErr != nil {
		err := s.NextFrameErr
		s.mu.Unlock()
		return audio.AudioFrame{}, err
	}
	done := s.done()
	select {
	case <-done:
		s.mu.Unlock()
		return audio.AudioFrame{}, audio.ErrSourceClosed
	default:
	}
	if s.pos < len(s.Frames) {
		f := s.Frames[s.pos]
		s.pos++
		s.mu.Unlock()
		return f, nil
	}
	block := s.BlockWhenDrained
	s.mu.Unlock()

	if !block {
		return audio.AudioFrame{}, audio.ErrSourceClosed
	}
	select {
	case <-ctx.Done():
		return audio.AudioFrame{}, ctx.Err()
	case <-done:
		return audio.AudioFrame{}, audio.ErrSourceClosed
	}
}

// Close implements [audio.Source]. It unblocks pending NextFrame calls.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	done := s.done()
	select {
	case <-done:
	default:
		close(done)
	}
	return s.CloseErr
}

// ─── Sink ────────────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single Play invocation.
type PlayCall struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// PlayErr is returned by Play.
	PlayErr error

	// CloseErr is returned by Close.
	CloseErr error

	// PlayCalls records every Play invocation in order.
	PlayCalls []PlayCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Play implements [audio.Sink].
func (s *Sink) Play(_ context.Context, pcm []byte, sampleRate, channels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlayCalls = append(s.PlayCalls, PlayCall{
		PCM:        append([]byte(nil), pcm...),
		SampleRate: sampleRate,
		Channels:   channels,
	})
	return s.PlayErr
}

// Calls returns a snapshot of the recorded Play calls.
func (s *Sink) Calls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayCall, len(s.PlayCalls))
	copy(out, s.PlayCalls)
	return out
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseErr
}
