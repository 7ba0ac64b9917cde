// Package recognition turns a captured command segment into a transcript by
// arbitrating between several speech-to-text engines.
//
// Engines are tried strictly in configured order, offline engines first, so
// that audio only leaves the machine when the local options could not produce
// an acceptable result. Every attempt runs under its own timeout and is
// abandoned, not awaited, once the timeout fires. The first result at or
// above the acceptance confidence wins; otherwise the most confident
// non-empty result seen across all attempts is used.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

// Attempt outcomes, also used as the "outcome" metric attribute.
const (
	OutcomeAccepted      = "accepted"
	OutcomeLowConfidence = "low_confidence"
	OutcomeEmpty         = "empty"
	OutcomeTimeout       = "timeout"
	OutcomeUnavailable   = "unavailable"
	OutcomeSkipped       = "skipped"
)

// Transcript is the arbitrated result for one segment.
type Transcript struct {
	Text       string
	Engine     string
	Confidence float64

	// Latency is the time from the start of arbitration until this
	// transcript was selected.
	Latency time.Duration

	// Attempts lists every engine consulted, in order.
	Attempts []Attempt
}

// Attempt records one engine's contribution.
type Attempt struct {
	Engine     string
	Outcome    string
	Confidence float64
	Latency    time.Duration
	Err        error
}

// Option configures an [Arbitrator].
type Option func(*Arbitrator)

// WithBackendTimeout sets the budget of each engine attempt. Default 4 s.
func WithBackendTimeout(d time.Duration) Option {
	return func(a *Arbitrator) { a.timeout = d }
}

// WithAcceptanceConfidence sets the confidence at which a result is taken
// without consulting further engines. Default 0.6.
func WithAcceptanceConfidence(c float64) Option {
	return func(a *Arbitrator) { a.SetAcceptanceConfidence(c) }
}

// WithMetrics records per-attempt latency to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Arbitrator) { a.metrics = m }
}

// Arbitrator implements the ordered multi-engine recognition policy. It is
// safe for concurrent use, although the pipeline only ever runs one
// transcription at a time.
type Arbitrator struct {
	engines    []stt.Recognizer
	timeout    time.Duration
	acceptance atomic.Uint64
	metrics    *observe.Metrics
}

// New creates an Arbitrator over engines in preference order.
func New(engines []stt.Recognizer, opts ...Option) (*Arbitrator, error) {
	if len(engines) == 0 {
		return nil, errors.New("recognition: at least one engine is required")
	}
	seen := make(map[string]bool, len(engines))
	for _, e := range engines {
		if seen[e.Name()] {
			return nil, fmt.Errorf("recognition: engine %q configured twice", e.Name())
		}
		seen[e.Name()] = true
	}
	a := &Arbitrator{engines: append([]stt.Recognizer(nil), engines...), timeout: 4 * time.Second}
	a.SetAcceptanceConfidence(0.6)
	for _, o := range opts {
		o(a)
	}
	if a.timeout <= 0 {
		return nil, fmt.Errorf("recognition: backend timeout must be positive, got %v", a.timeout)
	}
	return a, nil
}

// AcceptanceConfidence returns the current acceptance threshold.
func (a *Arbitrator) AcceptanceConfidence() float64 {
	return math.Float64frombits(a.acceptance.Load())
}

// SetAcceptanceConfidence updates the acceptance threshold, clamped to [0, 1].
func (a *Arbitrator) SetAcceptanceConfidence(c float64) {
	a.acceptance.Store(math.Float64bits(stt.Clamp01(c)))
}

// Engines returns the engine names in preference order.
func (a *Arbitrator) Engines() []string {
	out := make([]string, len(a.engines))
	for i, e := range a.engines {
		out[i] = e.Name()
	}
	return out
}

// Transcribe runs the arbitration policy for seg. It returns (nil, nil) when
// no engine produced text. An error is returned only when ctx is cancelled;
// if ctx merely reaches its deadline the best result so far is returned.
func (a *Arbitrator) Transcribe(ctx context.Context, seg audio.Segment) (*Transcript, error) {
	start := time.Now()
	log := observe.Logger(ctx)
	threshold := a.AcceptanceConfidence()

	var (
		best     *Transcript
		attempts []Attempt
	)
	finish := func(t *Transcript) *Transcript {
		if t != nil {
			t.Latency = time.Since(start)
			t.Attempts = attempts
		}
		return t
	}

	for i, eng := range a.engines {
		if err := ctx.Err(); err != nil {
			for _, rest := range a.engines[i:] {
				attempts = append(attempts, Attempt{Engine: rest.Name(), Outcome: OutcomeSkipped, Err: err})
			}
			if errors.Is(err, context.Canceled) {
				return nil, fmt.Errorf("recognition: %w", err)
			}
			log.Debug("recognition deadline passed, not trying remaining engines", "remaining", len(a.engines)-i)
			return finish(best), nil
		}

		res, took, err := a.attempt(ctx, eng, seg)
		at := Attempt{Engine: eng.Name(), Latency: took, Confidence: res.Confidence, Err: err}
		text := strings.TrimSpace(res.Text)
		switch {
		case err != nil:
			at.Outcome = outcomeFor(err)
		case text == "":
			at.Outcome = OutcomeEmpty
		case res.Confidence >= threshold:
			at.Outcome = OutcomeAccepted
		default:
			at.Outcome = OutcomeLowConfidence
		}
		attempts = append(attempts, at)
		if a.metrics != nil {
			a.metrics.RecordRecognition(ctx, at.Engine, at.Outcome, took)
		}
		log.Debug("recognition attempt",
			"engine", at.Engine, "outcome", at.Outcome,
			"confidence", res.Confidence, "latency", took, "err", err)

		switch at.Outcome {
		case OutcomeAccepted:
			return finish(&Transcript{Text: text, Engine: at.Engine, Confidence: res.Confidence}), nil
		case OutcomeLowConfidence:
			if best == nil || res.Confidence > best.Confidence {
				best = &Transcript{Text: text, Engine: at.Engine, Confidence: res.Confidence}
			}
		}
	}

	if best == nil {
		log.Info("no engine produced a transcript", "engines", len(a.engines))
	}
	return finish(best), nil
}

type attemptResult struct {
	res stt.Result
	err error
}

// attempt runs one engine under the per-engine timeout. The engine call runs
// in its own goroutine so an engine that ignores ctx cannot hold up the
// arbitration; its late answer is discarded.
func (a *Arbitrator) attempt(ctx context.Context, eng stt.Recognizer, seg audio.Segment) (stt.Result, time.Duration, error) {
	actx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: stt.Unavailable(eng.Name(), fmt.Errorf("panic: %v", r))}
			}
		}()
		res, err := eng.Transcribe(actx, seg)
		done <- attemptResult{res: res, err: err}
	}()

	select {
	case r := <-done:
		return r.res, time.Since(start), stt.Classify(actx, eng.Name(), r.err)
	case <-actx.Done():
		return stt.Result{}, time.Since(start), stt.Classify(actx, eng.Name(), actx.Err())
	}
}

func outcomeFor(err error) string {
	kind, ok := stt.KindOf(err)
	if !ok {
		return OutcomeUnavailable
	}
	switch kind {
	case stt.KindTimeout:
		return OutcomeTimeout
	case stt.KindEmptyInput:
		return OutcomeEmpty
	default:
		return OutcomeUnavailable
	}
}
