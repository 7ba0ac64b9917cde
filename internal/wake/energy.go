package wake

import (
	"time"

	"github.com/MrWong99/hark/pkg/audio"
)

var _ Spotter = (*EnergySpotter)(nil)

// EnergySpotter fires on any utterance-shaped burst of sound: a quiet lead-in,
// one voiced run whose length falls in [MinVoiced, MaxVoiced], and a quiet
// tail. It cannot tell phrases apart and is meant for demos and tests where
// no enrolment recording exists.
type EnergySpotter struct {
	// Span is the inspected window. Default 1.5 s.
	Span time.Duration

	// MinVoiced and MaxVoiced bound the voiced run. Defaults 250 ms and 1 s.
	MinVoiced, MaxVoiced time.Duration

	// Level is the RMS above which a 10 ms block counts as voiced. Default 0.02.
	Level float64
}

// Window implements Spotter.
func (s *EnergySpotter) Window() time.Duration {
	if s.Span <= 0 {
		return 1500 * time.Millisecond
	}
	return s.Span
}

// Score implements Spotter. A matching envelope scores between 0.5 and 1
// depending on how far the peak block exceeds Level; anything else is 0.
func (s *EnergySpotter) Score(pcm []byte, sampleRate int) float64 {
	minV, maxV, level := s.MinVoiced, s.MaxVoiced, s.Level
	if minV <= 0 {
		minV = 250 * time.Millisecond
	}
	if maxV <= 0 {
		maxV = time.Second
	}
	if level <= 0 {
		level = 0.02
	}

	block := sampleRate / 100 * 2
	if block <= 0 {
		return 0
	}
	var (
		first, last = -1, -1
		runs        int
		inRun       bool
		peak        float64
	)
	n := len(pcm) / block
	for i := 0; i < n; i++ {
		rms := audio.RMS(pcm[i*block : (i+1)*block])
		voiced := rms >= level
		if voiced && !inRun {
			runs++
			if first < 0 {
				first = i
			}
		}
		if voiced {
			last = i
			if rms > peak {
				peak = rms
			}
		}
		inRun = voiced
	}
	// Short gaps inside a word split the run; only the overall span counts,
	// but more than a few bursts is babble rather than a phrase.
	if first <= 0 || last >= n-1 || runs > 4 {
		return 0
	}
	voiced := time.Duration(last-first+1) * 10 * time.Millisecond
	if voiced < minV || voiced > maxV {
		return 0
	}
	over := peak/level - 1
	if over > 1 {
		over = 1
	}
	return 0.5 + 0.5*over
}
