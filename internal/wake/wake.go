// Package wake spots configured wake phrases in a continuous audio stream.
//
// A [Detector] keeps a rolling buffer of the most recent audio, sized to the
// longest phrase it listens for, and asks each phrase's [Spotter] for a match
// score after every frame. Scores above the sensitivity threshold produce a
// single [Event]; the buffer is then cleared and further matches are
// suppressed for a cooldown interval so one utterance triggers once.
//
// Feed never blocks and performs no I/O: all templates are loaded when the
// spotters are built.
package wake

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hark/pkg/audio"
)

// Event reports a detected wake phrase.
type Event struct {
	// Phrase is the configured phrase that matched.
	Phrase string

	// Confidence is the spotter score in [0, 1].
	Confidence float64

	// Timestamp is the stream time of the frame that completed the match.
	Timestamp time.Duration
}

// Spotter scores how well the tail of the buffered audio matches one phrase.
// Implementations must be cheap enough to run once per frame.
type Spotter interface {
	// Window is the amount of audio the spotter inspects.
	Window() time.Duration

	// Score returns a match score in [0, 1] for mono int16 PCM whose length
	// equals Window at the given sample rate.
	Score(pcm []byte, sampleRate int) float64
}

// Phrase pairs a wake phrase with the spotter that recognises it.
type Phrase struct {
	Name    string
	Spotter Spotter
}

// Option configures a [Detector].
type Option func(*Detector)

// WithSensitivity sets the score threshold in [0, 1]. Defaults to 0.5.
func WithSensitivity(s float64) Option {
	return func(d *Detector) { d.SetSensitivity(s) }
}

// WithCooldown sets how long detection is suppressed after an event.
// Defaults to 1.5 s.
func WithCooldown(c time.Duration) Option {
	return func(d *Detector) { d.cooldown = c }
}

// WithSampleRate sets the rate that frames are converted to before spotting.
// Defaults to 16 kHz.
func WithSampleRate(rate int) Option {
	return func(d *Detector) { d.format.SampleRate = rate }
}

// Detector implements wake phrase spotting over a rolling buffer.
//
// Feed must be called from a single goroutine. SetSensitivity and
// ReplaceSpotter may be called concurrently.
type Detector struct {
	phrases     []Phrase
	sensitivity atomic.Uint64
	cooldown    time.Duration
	format      audio.Format
	conv        *audio.FormatConverter

	buf           []byte
	maxBytes      int
	cooldownUntil time.Duration
	coolingDown   bool

	mu      sync.Mutex
	pending map[string]Spotter
	swapped atomic.Bool
}

// New creates a Detector for phrases. Phrase order is significant: when two
// phrases score equally in the same call, the earlier one wins.
func New(phrases []Phrase, opts ...Option) (*Detector, error) {
	if len(phrases) == 0 {
		return nil, errors.New("wake: at least one phrase is required")
	}
	d := &Detector{
		phrases:  append([]Phrase(nil), phrases...),
		cooldown: 1500 * time.Millisecond,
		format:   audio.Format{SampleRate: 16000, Channels: 1},
	}
	d.SetSensitivity(0.5)
	for _, o := range opts {
		o(d)
	}
	if d.format.SampleRate <= 0 {
		return nil, fmt.Errorf("wake: invalid sample rate %d", d.format.SampleRate)
	}

	for i, p := range d.phrases {
		if p.Name == "" || p.Spotter == nil {
			return nil, fmt.Errorf("wake: phrase %d needs a name and a spotter", i)
		}
	}
	if d.maxBytes = d.longestWindow(); d.maxBytes <= 0 {
		return nil, errors.New("wake: spotter windows must be positive")
	}
	d.buf = make([]byte, 0, d.maxBytes)
	d.conv = &audio.FormatConverter{Target: d.format}
	return d, nil
}

// longestWindow returns the buffer size in bytes needed by the widest spotter.
func (d *Detector) longestWindow() int {
	var longest time.Duration
	for _, p := range d.phrases {
		if w := p.Spotter.Window(); w > longest {
			longest = w
		}
	}
	return bytesFor(longest, d.format.SampleRate)
}

func bytesFor(d time.Duration, rate int) int {
	return int(d*time.Duration(rate)/time.Second) * 2
}

// Sensitivity returns the current threshold.
func (d *Detector) Sensitivity() float64 {
	return math.Float64frombits(d.sensitivity.Load())
}

// SetSensitivity changes the threshold. Values are clamped to [0, 1].
func (d *Detector) SetSensitivity(s float64) {
	s = math.Max(0, math.Min(1, s))
	d.sensitivity.Store(math.Float64bits(s))
}

// Phrases returns the configured phrase names in order.
func (d *Detector) Phrases() []string {
	out := make([]string, len(d.phrases))
	for i, p := range d.phrases {
		out[i] = p.Name
	}
	return out
}

// ReplaceSpotter swaps the spotter of the named phrase, for example after its
// template recordings were re-enrolled. The swap takes effect on the next
// Feed call.
func (d *Detector) ReplaceSpotter(name string, s Spotter) error {
	if s == nil || s.Window() <= 0 {
		return fmt.Errorf("wake: replacement spotter for %q needs a positive window", name)
	}
	if !slices.Contains(d.Phrases(), name) {
		return fmt.Errorf("wake: unknown phrase %q", name)
	}
	d.mu.Lock()
	if d.pending == nil {
		d.pending = make(map[string]Spotter)
	}
	d.pending[name] = s
	d.mu.Unlock()
	d.swapped.Store(true)
	return nil
}

// applyReplacements installs spotters queued by ReplaceSpotter. It runs on
// the Feed goroutine so phrases is never read and written concurrently.
func (d *Detector) applyReplacements() {
	if !d.swapped.Swap(false) {
		return
	}
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	for i := range d.phrases {
		if s, ok := pending[d.phrases[i].Name]; ok {
			d.phrases[i].Spotter = s
		}
	}
	d.maxBytes = d.longestWindow()
	if over := len(d.buf) - d.maxBytes; over > 0 {
		n := copy(d.buf, d.buf[over:])
		d.buf = d.buf[:n]
	}
}

// Feed appends frame to the rolling buffer and returns an event if a phrase
// scored above the sensitivity threshold.
func (d *Detector) Feed(frame audio.AudioFrame) (Event, bool) {
	d.applyReplacements()
	frame = d.conv.Convert(frame)
	d.push(frame.Data)

	if d.coolingDown {
		if frame.Timestamp < d.cooldownUntil {
			return Event{}, false
		}
		d.coolingDown = false
	}

	threshold := d.Sensitivity()
	best, bestScore := -1, 0.0
	for i, p := range d.phrases {
		n := bytesFor(p.Spotter.Window(), d.format.SampleRate)
		if n == 0 || len(d.buf) < n {
			continue
		}
		score := p.Spotter.Score(d.buf[len(d.buf)-n:], d.format.SampleRate)
		if score > threshold && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return Event{}, false
	}

	d.buf = d.buf[:0]
	d.coolingDown = d.cooldown > 0
	d.cooldownUntil = frame.Timestamp + d.cooldown
	return Event{Phrase: d.phrases[best].Name, Confidence: bestScore, Timestamp: frame.Timestamp}, true
}

// Reset clears the buffer and any cooldown.
func (d *Detector) Reset() {
	d.buf = d.buf[:0]
	d.coolingDown = false
}

func (d *Detector) push(pcm []byte) {
	if len(pcm) >= d.maxBytes {
		d.buf = append(d.buf[:0], pcm[len(pcm)-d.maxBytes:]...)
		return
	}
	if over := len(d.buf) + len(pcm) - d.maxBytes; over > 0 {
		n := copy(d.buf, d.buf[over:])
		d.buf = d.buf[:n]
	}
	d.buf = append(d.buf, pcm...)
}
