package wake

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"time"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"github.com/spf13/afero"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/audio/wavfile"
)

// Feature extraction parameters. 25 ms analysis windows every 10 ms, folded
// into log-energy bands between 100 Hz and 4 kHz.
const (
	analysisMs = 25
	hopMs      = 10
	numBands   = 20
	bandLowHz  = 100.0
	bandHighHz = 4000.0

	// minTemplateRMS rejects enrolment recordings that are effectively silent.
	minTemplateRMS = 0.005
)

var _ Spotter = (*TemplateSpotter)(nil)

// TemplateSpotter compares the buffered audio with enrolled recordings of a
// phrase. Both sides are reduced to band log-energy frames with the mean
// removed per band, and aligned with dynamic time warping using cosine
// distance. The score is one minus the path-normalised distance.
type TemplateSpotter struct {
	sampleRate int
	templates  [][][]float64
	window     time.Duration
	gateRMS    float64
}

// NewTemplateSpotter builds a spotter from raw mono PCM templates at
// sampleRate.
func NewTemplateSpotter(templates [][]byte, sampleRate int) (*TemplateSpotter, error) {
	if len(templates) == 0 {
		return nil, errors.New("wake: no templates")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wake: invalid sample rate %d", sampleRate)
	}
	s := &TemplateSpotter{sampleRate: sampleRate, gateRMS: minTemplateRMS}
	for i, pcm := range templates {
		if audio.RMS(pcm) < minTemplateRMS {
			return nil, fmt.Errorf("wake: template %d is silent", i)
		}
		feats := features(pcm, sampleRate)
		if len(feats) < 2 {
			return nil, fmt.Errorf("wake: template %d is too short", i)
		}
		s.templates = append(s.templates, feats)
		d := time.Duration(len(pcm)/2) * time.Second / time.Duration(sampleRate)
		if d > s.window {
			s.window = d
		}
	}
	return s, nil
}

// LoadTemplateSpotter reads WAV templates from fsys, converting them to mono
// at sampleRate.
func LoadTemplateSpotter(fsys afero.Fs, paths []string, sampleRate int) (*TemplateSpotter, error) {
	if len(paths) == 0 {
		return nil, errors.New("wake: no template paths")
	}
	target := audio.Format{SampleRate: sampleRate, Channels: 1}
	pcms := make([][]byte, 0, len(paths))
	for _, p := range paths {
		pcm, err := wavfile.LoadPCM(fsys, p, target)
		if err != nil {
			return nil, fmt.Errorf("wake: load template: %w", err)
		}
		pcms = append(pcms, pcm)
	}
	return NewTemplateSpotter(pcms, sampleRate)
}

// Window implements Spotter. It is the duration of the longest template.
func (s *TemplateSpotter) Window() time.Duration { return s.window }

// Score implements Spotter.
func (s *TemplateSpotter) Score(pcm []byte, sampleRate int) float64 {
	if sampleRate != s.sampleRate || audio.RMS(pcm) < s.gateRMS {
		return 0
	}
	input := features(pcm, sampleRate)
	if len(input) < 2 {
		return 0
	}
	best := 0.0
	for _, tmpl := range s.templates {
		score := 1 - dtw(tmpl, input)
		if score > best {
			best = score
		}
	}
	return math.Max(0, math.Min(1, best))
}

// features returns mean-normalised band log-energies for each analysis frame.
func features(pcm []byte, sampleRate int) [][]float64 {
	samples := audio.Float64s(pcm)
	winLen := sampleRate * analysisMs / 1000
	hop := sampleRate * hopMs / 1000
	if winLen <= 0 || hop <= 0 || len(samples) < winLen {
		return nil
	}
	nfft := 1
	for nfft < winLen {
		nfft <<= 1
	}
	hann := window.Hann(winLen)
	edges := bandEdges(nfft, sampleRate)

	var out [][]float64
	buf := make([]float64, nfft)
	for start := 0; start+winLen <= len(samples); start += hop {
		for i := range buf {
			buf[i] = 0
		}
		for i := 0; i < winLen; i++ {
			buf[i] = samples[start+i] * hann[i]
		}
		spec := fft.FFTReal(buf)
		frame := make([]float64, numBands)
		for b := 0; b < numBands; b++ {
			var e float64
			for k := edges[b]; k < edges[b+1] && k <= nfft/2; k++ {
				m := cmplx.Abs(spec[k])
				e += m * m
			}
			frame[b] = math.Log(e + 1e-10)
		}
		out = append(out, frame)
	}

	mean := make([]float64, numBands)
	for _, f := range out {
		for b, v := range f {
			mean[b] += v
		}
	}
	for b := range mean {
		mean[b] /= float64(len(out))
	}
	for _, f := range out {
		for b := range f {
			f[b] -= mean[b]
		}
	}
	return out
}

// bandEdges splits [bandLowHz, bandHighHz) into numBands log-spaced FFT bin
// ranges. Every band covers at least one bin.
func bandEdges(nfft, sampleRate int) []int {
	binHz := float64(sampleRate) / float64(nfft)
	high := math.Min(bandHighHz, float64(sampleRate)/2)
	edges := make([]int, numBands+1)
	ratio := math.Pow(high/bandLowHz, 1.0/numBands)
	f := bandLowHz
	for b := 0; b <= numBands; b++ {
		k := int(math.Round(f / binHz))
		if b > 0 && k <= edges[b-1] {
			k = edges[b-1] + 1
		}
		edges[b] = k
		f *= ratio
	}
	return edges
}

func cosineDistance(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/math.Sqrt(na*nb)
}

// dtw returns the alignment cost of a and b divided by len(a)+len(b). With
// cosine distance the result lies in [0, 2]; identical inputs give 0.
func dtw(a, b [][]float64) float64 {
	n, m := len(a), len(b)
	prev := make([]float64, m+1)
	cur := make([]float64, m+1)
	for j := 1; j <= m; j++ {
		prev[j] = math.Inf(1)
	}
	for i := 1; i <= n; i++ {
		cur[0] = math.Inf(1)
		for j := 1; j <= m; j++ {
			best := prev[j-1]
			if prev[j] < best {
				best = prev[j]
			}
			if cur[j-1] < best {
				best = cur[j-1]
			}
			cur[j] = cosineDistance(a[i-1], b[j-1]) + best
		}
		prev, cur = cur, prev
	}
	return prev[m] / float64(n+m)
}
