// Package audio defines the frame and segment types that flow through the hark
// pipeline, and the narrow interfaces behind which audio devices live.
//
// A [Source] produces fixed-size [AudioFrame] values at a steady rate. The
// pipeline groups frames of one spoken command into a [Segment] and hands it to
// the recognizers. A [Sink] receives synthesized speech for playback.
//
// All PCM in this package is signed 16-bit little-endian.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrSourceClosed is returned by [Source.NextFrame] after the source has been
// closed or has run out of audio.
var ErrSourceClosed = errors.New("audio: source closed")

// AudioFrame is a single block of PCM audio. Frames are immutable once
// produced; consumers must copy Data before modifying it.
type AudioFrame struct {
	// Data holds little-endian int16 PCM samples, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz (16000 for the default pipeline configuration).
	SampleRate int

	// Channels is the interleaved channel count. The pipeline runs mono.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel in the frame.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return len(f.Data) / 2
	}
	return len(f.Data) / (2 * f.Channels)
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// Segment is an ordered, bounded run of frames holding one spoken command.
// It is owned by the capture stage until handed to recognition.
type Segment struct {
	Frames     []AudioFrame
	SampleRate int
	Channels   int
}

// Append adds a frame to the segment. The first frame fixes the segment format.
func (s *Segment) Append(f AudioFrame) {
	if len(s.Frames) == 0 {
		s.SampleRate = f.SampleRate
		s.Channels = f.Channels
	}
	s.Frames = append(s.Frames, f)
}

// Len returns the number of frames in the segment.
func (s Segment) Len() int { return len(s.Frames) }

// Empty reports whether the segment carries no PCM data.
func (s Segment) Empty() bool {
	for _, f := range s.Frames {
		if len(f.Data) > 0 {
			return false
		}
	}
	return true
}

// Duration returns the summed duration of all frames.
func (s Segment) Duration() time.Duration {
	var d time.Duration
	for _, f := range s.Frames {
		d += f.Duration()
	}
	return d
}

// PCM concatenates the frames into one contiguous PCM buffer.
func (s Segment) PCM() []byte {
	n := 0
	for _, f := range s.Frames {
		n += len(f.Data)
	}
	out := make([]byte, 0, n)
	for _, f := range s.Frames {
		out = append(out, f.Data...)
	}
	return out
}

// Source supplies a continuous, rate-paced sequence of frames.
//
// NextFrame blocks until a frame is available, ctx is cancelled, or the source
// is exhausted (in which case it returns [ErrSourceClosed]). Close releases the
// underlying capture resource and unblocks any pending NextFrame call.
type Source interface {
	NextFrame(ctx context.Context) (AudioFrame, error)
	Close() error
}

// Sink plays PCM audio. Play blocks until the audio has been handed to the
// device or ctx is cancelled.
type Sink interface {
	Play(ctx context.Context, pcm []byte, sampleRate, channels int) error
	Close() error
}
