// Package portaudio implements [audio.Source] and [audio.Sink] on top of the
// system's default PortAudio input and output devices.
//
// PortAudio must be initialised once per process. Each Source and Sink calls
// portaudio.Initialize when opened and portaudio.Terminate when closed; the
// library reference-counts these calls internally.
package portaudio

import (
	"context"
	"fmt"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/hark/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Source = (*Source)(nil)
	_ audio.Sink   = (*Sink)(nil)
)

// ─── Source ──────────────────────────────────────────────────────────────────

// Source reads fixed-size mono or multi-channel frames from the default
// input device. NextFrame must be called from a single goroutine.
type Source struct {
	mu         sync.Mutex
	stream     *pa.Stream
	buf        []int16
	sampleRate int
	channels   int
	frameDur   time.Duration
	read       int64
	closed     bool
}

// OpenSource initialises PortAudio, opens the default input device and starts
// the stream. frameMs sets the duration of each frame returned by NextFrame.
func OpenSource(sampleRate, channels, frameMs int) (*Source, error) {
	if sampleRate <= 0 || channels <= 0 || frameMs <= 0 {
		return nil, fmt.Errorf("portaudio: invalid source format %d Hz, %d ch, %d ms", sampleRate, channels, frameMs)
	}
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	perBuffer := sampleRate * frameMs / 1000
	buf := make([]int16, perBuffer*channels)
	stream, err := pa.OpenDefaultStream(channels, 0, float64(sampleRate), perBuffer, buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}
	return &Source{
		stream:     stream,
		buf:        buf,
		sampleRate: sampleRate,
		channels:   channels,
		frameDur:   time.Duration(frameMs) * time.Millisecond,
	}, nil
}

// NextFrame implements [audio.Source]. It blocks for one frame period.
func (s *Source) NextFrame(ctx context.Context) (audio.AudioFrame, error) {
	if err := ctx.Err(); err != nil {
		return audio.AudioFrame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.AudioFrame{}, audio.ErrSourceClosed
	}
	if err := s.stream.Read(); err != nil {
		// Input overflow is reported when the consumer falls behind; the
		// buffer still holds a usable frame.
		if err != pa.InputOverflowed {
			return audio.AudioFrame{}, fmt.Errorf("portaudio: read: %w", err)
		}
	}
	ts := time.Duration(s.read) * s.frameDur
	s.read++
	return audio.AudioFrame{
		Data:       audio.Bytes(s.buf),
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Timestamp:  ts,
	}, nil
}

// Close implements [audio.Source]. It stops the stream and releases PortAudio.
// Calling Close more than once is safe.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	termErr := pa.Terminate()
	switch {
	case stopErr != nil:
		return fmt.Errorf("portaudio: stop input: %w", stopErr)
	case closeErr != nil:
		return fmt.Errorf("portaudio: close input: %w", closeErr)
	case termErr != nil:
		return fmt.Errorf("portaudio: terminate: %w", termErr)
	}
	return nil
}

// ─── Sink ────────────────────────────────────────────────────────────────────

// Sink writes PCM to the default output device. Play calls are serialised.
type Sink struct {
	mu         sync.Mutex
	stream     *pa.Stream
	buf        []int16
	sampleRate int
	channels   int
	closed     bool
}

// OpenSink initialises PortAudio and opens the default output device with the
// given format. PCM passed to Play in another format is converted first.
func OpenSink(sampleRate, channels int) (*Sink, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	perBuffer := sampleRate / 50
	buf := make([]int16, perBuffer*channels)
	stream, err := pa.OpenDefaultStream(0, channels, float64(sampleRate), perBuffer, buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: start output stream: %w", err)
	}
	return &Sink{stream: stream, buf: buf, sampleRate: sampleRate, channels: channels}, nil
}

// Play implements [audio.Sink]. Playback stops early when ctx is cancelled.
func (s *Sink) Play(ctx context.Context, pcm []byte, sampleRate, channels int) error {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: s.sampleRate, Channels: s.channels}}
	frame := conv.Convert(audio.AudioFrame{Data: pcm, SampleRate: sampleRate, Channels: channels})
	samples := audio.Int16s(frame.Data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("portaudio: sink closed")
	}
	for off := 0; off < len(samples); off += len(s.buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(s.buf, samples[off:])
		clear(s.buf[n:])
		if err := s.stream.Write(); err != nil && err != pa.OutputUnderflowed {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.stream.Stop()
	if err := s.stream.Close(); err != nil {
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: close output: %w", err)
	}
	return pa.Terminate()
}
