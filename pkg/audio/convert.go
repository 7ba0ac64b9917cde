package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	switch {
	case f.Channels == 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case f.Channels == 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// FormatConverter normalises frames from a device or file into the pipeline
// format. Create one per source; it is not safe for concurrent use.
type FormatConverter struct {
	Target Format

	warnMismatch sync.Once
	warnOdd      sync.Once
}

// Convert returns frame in the target format. Frames that already match are
// returned as-is. Frames with an odd byte count are dropped (empty Data).
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	if len(frame.Data)%2 != 0 {
		c.warnOdd.Do(func() {
			slog.Warn("audio: odd byte count in PCM frame, dropping", "bytes", len(frame.Data))
		})
		return AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}
	src := Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	if src == c.Target {
		return frame
	}
	c.warnMismatch.Do(func() {
		slog.Info("audio: converting source format", "from", src.String(), "to", c.Target.String())
	})

	pcm := frame.Data
	// Down-mix before resampling so only one channel is interpolated.
	if src.Channels == 2 && c.Target.Channels == 1 {
		pcm = StereoToMono(pcm)
		src.Channels = 1
	}
	if src.SampleRate != c.Target.SampleRate {
		pcm = Resample16(pcm, src.Channels, src.SampleRate, c.Target.SampleRate)
		src.SampleRate = c.Target.SampleRate
	}
	if src.Channels == 1 && c.Target.Channels == 2 {
		pcm = MonoToStereo(pcm)
		src.Channels = 2
	}
	return AudioFrame{Data: pcm, SampleRate: src.SampleRate, Channels: src.Channels, Timestamp: frame.Timestamp}
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	in := Int16s(pcm)
	out := make([]int16, 0, len(in)*2)
	for _, s := range in {
		out = append(out, s, s)
	}
	return Bytes(out)
}

// StereoToMono averages each L+R pair. The average of two int16 values always
// fits in int16.
func StereoToMono(pcm []byte) []byte {
	in := Int16s(pcm)
	out := make([]int16, len(in)/2)
	for i := range out {
		out[i] = int16((int32(in[2*i]) + int32(in[2*i+1])) / 2)
	}
	return Bytes(out)
}

// Resample16 converts interleaved int16 PCM with the given channel count from
// srcRate to dstRate by linear interpolation.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || channels <= 0 {
		return pcm
	}
	in := Int16s(pcm)
	srcFrames := len(in) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}
	out := make([]int16, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := float64(in[idx*channels+ch])
			s1 := float64(in[next*channels+ch])
			out[i*channels+ch] = int16(s0*(1-frac) + s1*frac)
		}
	}
	return Bytes(out)
}
