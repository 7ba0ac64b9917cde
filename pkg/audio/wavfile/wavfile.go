// Package wavfile reads and writes 16-bit PCM WAV files through an [afero.Fs].
//
// It provides three things to the pipeline:
//
//   - [Source], an [audio.Source] that replays a recording frame by frame,
//     optionally paced to real time. Useful for demos and integration tests.
//   - [LoadPCM], which decodes a file into the pipeline format. Wake-phrase
//     templates are enrolled this way.
//   - [Dumper], which writes captured command segments to disk for debugging.
package wavfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/MrWong99/hark/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// LoadPCM decodes the WAV file at path and converts it to target. Only 16-bit
// PCM files are accepted.
func LoadPCM(fs afero.Fs, path string, target audio.Format) ([]byte, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wavfile: %q is not a valid WAV file", path)
	}
	if dec.BitDepth != 16 {
		return nil, fmt.Errorf("wavfile: %q has bit depth %d, want 16", path, dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode %q: %w", path, err)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	conv := audio.FormatConverter{Target: target}
	frame := conv.Convert(audio.AudioFrame{
		Data:       audio.Bytes(samples),
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	})
	return frame.Data, nil
}

// Encode writes pcm as a 16-bit WAV file at path, creating or truncating it.
func Encode(fs afero.Fs, path string, pcm []byte, sampleRate, channels int) error {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("wavfile: create %q: %w", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	samples := audio.Int16s(pcm)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wavfile: encode %q: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wavfile: finalize %q: %w", path, err)
	}
	return nil
}

// ─── Source ──────────────────────────────────────────────────────────────────

// Option configures a [Source].
type Option func(*Source)

// WithRealtime paces NextFrame to the frame duration so the file plays back
// at the speed a microphone would deliver it.
func WithRealtime() Option {
	return func(s *Source) { s.realtime = true }
}

// WithLoop restarts the recording from the beginning once exhausted.
func WithLoop() Option {
	return func(s *Source) { s.loop = true }
}

// WithTrailingSilence appends d of silence after the recording so that the
// capture stage can observe end-of-speech.
func WithTrailingSilence(d time.Duration) Option {
	return func(s *Source) { s.trailing = d }
}

// Source replays a WAV file as fixed-size frames in the pipeline format.
type Source struct {
	mu       sync.Mutex
	pcm      []byte
	format   audio.Format
	frameLen int
	frameDur time.Duration
	pos      int
	emitted  int64
	realtime bool
	loop     bool
	trailing time.Duration
	closed   bool
	next     time.Time
}

// Open decodes the file at path into target format and returns a Source that
// yields frameMs-long frames.
func Open(fs afero.Fs, path string, target audio.Format, frameMs int, opts ...Option) (*Source, error) {
	if frameMs <= 0 {
		return nil, fmt.Errorf("wavfile: frame duration must be positive, got %d ms", frameMs)
	}
	pcm, err := LoadPCM(fs, path, target)
	if err != nil {
		return nil, err
	}
	s := &Source{
		pcm:      pcm,
		format:   target,
		frameLen: target.SampleRate * frameMs / 1000 * target.Channels * 2,
		frameDur: time.Duration(frameMs) * time.Millisecond,
	}
	for _, o := range opts {
		o(s)
	}
	if s.trailing > 0 {
		n := int(s.trailing/time.Millisecond) * target.SampleRate / 1000 * target.Channels * 2
		s.pcm = append(s.pcm, make([]byte, n)...)
	}
	return s, nil
}

// NextFrame implements [audio.Source]. The last partial frame is zero-padded.
func (s *Source) NextFrame(ctx context.Context) (audio.AudioFrame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return audio.AudioFrame{}, audio.ErrSourceClosed
	}
	if s.pos >= len(s.pcm) {
		if !s.loop || len(s.pcm) == 0 {
			s.mu.Unlock()
			return audio.AudioFrame{}, audio.ErrSourceClosed
		}
		s.pos = 0
	}
	data := make([]byte, s.frameLen)
	n := copy(data, s.pcm[s.pos:])
	s.pos += n
	ts := time.Duration(s.emitted) * s.frameDur
	s.emitted++

	var wait time.Duration
	if s.realtime {
		now := time.Now()
		if s.next.IsZero() {
			s.next = now
		}
		wait = s.next.Sub(now)
		s.next = s.next.Add(s.frameDur)
	}
	s.mu.Unlock()

	if wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return audio.AudioFrame{}, ctx.Err()
		case <-t.C:
		}
	}
	return audio.AudioFrame{
		Data:       data,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Timestamp:  ts,
	}, nil
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Marshal returns pcm wrapped in a 16-bit WAV container, for uploading a
// segment to an HTTP recognizer.
func Marshal(pcm []byte, sampleRate, channels int) ([]byte, error) {
	fs := afero.NewMemMapFs()
	if err := Encode(fs, "segment.wav", pcm, sampleRate, channels); err != nil {
		return nil, err
	}
	return afero.ReadFile(fs, "segment.wav")
}

// Unmarshal decodes an in-memory 16-bit WAV file, typically an HTTP response
// body from a TTS server, and returns its PCM and format.
func Unmarshal(data []byte) ([]byte, audio.Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, audio.Format{}, errors.New("wavfile: invalid WAV data")
	}
	if dec.BitDepth != 16 {
		return nil, audio.Format{}, fmt.Errorf("wavfile: bit depth %d, want 16", dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("wavfile: decode: %w", err)
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return audio.Bytes(samples), audio.Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}, nil
}
