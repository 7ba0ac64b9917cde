package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

var _ stt.Recognizer = (*Guard)(nil)

// Guard wraps a recognizer with a [CircuitBreaker]. While the breaker is open
// Transcribe fails immediately with an [stt.KindUnavailable] error, so the
// arbitrator does not wait on an engine that keeps failing.
//
// Empty-input errors and caller cancellation do not count as failures.
type Guard struct {
	rec     stt.Recognizer
	breaker *CircuitBreaker
}

// NewGuard wraps rec. cfg.Name defaults to the recognizer name and
// cfg.IsFailure is replaced.
func NewGuard(rec stt.Recognizer, cfg CircuitBreakerConfig) *Guard {
	if cfg.Name == "" {
		cfg.Name = rec.Name()
	}
	cfg.IsFailure = countsAgainstEngine
	return &Guard{rec: rec, breaker: NewCircuitBreaker(cfg)}
}

func countsAgainstEngine(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	kind, ok := stt.KindOf(err)
	return !ok || kind != stt.KindEmptyInput
}

// Name returns the wrapped recognizer's name.
func (g *Guard) Name() string { return g.rec.Name() }

// Breaker exposes the underlying breaker for health reporting.
func (g *Guard) Breaker() *CircuitBreaker { return g.breaker }

// Transcribe implements stt.Recognizer.
func (g *Guard) Transcribe(ctx context.Context, seg audio.Segment) (stt.Result, error) {
	var res stt.Result
	err := g.breaker.Execute(func() error {
		var err error
		res, err = g.rec.Transcribe(ctx, seg)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return stt.Result{}, stt.Unavailable(g.rec.Name(), err)
	}
	return res, err
}
