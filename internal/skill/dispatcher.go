package skill

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/MrWong99/hark/internal/intent"
	"github.com/MrWong99/hark/internal/observe"
)

// Dispatch outcomes, also used as the "outcome" metric attribute.
const (
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeError        = "error"
	OutcomeTimeout      = "timeout"
	OutcomePanic        = "panic"
	OutcomeMalformed    = "malformed"
	OutcomeUnrecognized = "unrecognized"
)

// DefaultTimeout is the skill invocation budget when none is configured.
const DefaultTimeout = 5 * time.Second

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithTimeout sets the per-invocation deadline.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// WithDispatchMetrics records one dispatch counter sample per call.
func WithDispatchMetrics(m *observe.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithMemory sets the follow-up memory. Without it a fresh Memory with the
// default expiry is used.
func WithMemory(m *Memory) DispatcherOption {
	return func(d *Dispatcher) { d.memory = m }
}

// Dispatcher invokes skills from a frozen [Registry].
type Dispatcher struct {
	reg     *Registry
	timeout time.Duration
	metrics *observe.Metrics
	memory  *Memory
}

// NewDispatcher creates a Dispatcher over reg.
func NewDispatcher(reg *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{reg: reg, timeout: DefaultTimeout}
	for _, o := range opts {
		o(d)
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	if d.memory == nil {
		d.memory = NewMemory(DefaultContextExpiry, nil)
	}
	return d
}

// Memory returns the follow-up memory used by the dispatcher.
func (d *Dispatcher) Memory() *Memory { return d.memory }

// Dispatch serves m and always returns a speakable Result.
//
// An [intent.Unrecognized] match with blank Raw text yields [MsgNotCaught];
// any other intent without a bound skill yields [MsgUnrecognized]. Handler
// errors, timeouts, panics, and empty messages yield [MsgFailure].
func (d *Dispatcher) Dispatch(ctx context.Context, m intent.Match) Result {
	log := observe.Logger(ctx).With("intent", m.Intent)

	if m.Intent == intent.Unrecognized || m.Intent == "" {
		d.record(ctx, m.Intent, OutcomeUnrecognized)
		if strings.TrimSpace(m.Raw) == "" {
			return Failed(MsgNotCaught)
		}
		log.Info("no intent matched", "text", m.Raw)
		return Failed(MsgUnrecognized)
	}

	s, ok := d.reg.Lookup(m.Intent)
	if !ok {
		d.record(ctx, m.Intent, OutcomeUnrecognized)
		log.Warn("no skill bound to intent")
		return Failed(MsgUnrecognized)
	}
	log = log.With("skill", s.Name())

	hctx := ctx
	if prev, ok := d.memory.Recall(); ok {
		hctx = WithPrevious(ctx, prev)
	}

	res, outcome, err := d.invoke(hctx, s, m)
	d.record(ctx, m.Intent, outcome)
	switch outcome {
	case OutcomeSuccess, OutcomeFailure:
		log.Debug("skill handled intent", "success", res.Success)
		if res.Success {
			d.memory.Remember(m)
		}
		return res
	default:
		log.Warn("skill failed", "outcome", outcome, "err", err)
		return Failed(MsgFailure)
	}
}

type invocation struct {
	res   Result
	err   error
	panic bool
}

// invoke runs the handler in its own goroutine so a handler that ignores ctx
// cannot hold up the cycle. A late answer is discarded.
func (d *Dispatcher) invoke(ctx context.Context, s Skill, m intent.Match) (Result, string, error) {
	ictx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invocation{err: fmt.Errorf("skill: %s panicked: %v\n%s", s.Name(), r, debug.Stack()), panic: true}
			}
		}()
		res, err := s.Handle(ictx, m)
		done <- invocation{res: res, err: err}
	}()

	select {
	case inv := <-done:
		switch {
		case inv.panic:
			return Result{}, OutcomePanic, inv.err
		case inv.err != nil && errors.Is(inv.err, context.DeadlineExceeded) && ictx.Err() != nil:
			return Result{}, OutcomeTimeout, inv.err
		case inv.err != nil:
			return Result{}, OutcomeError, inv.err
		case strings.TrimSpace(inv.res.Message) == "":
			return Result{}, OutcomeMalformed, errors.New("skill: empty message")
		case inv.res.Success:
			return inv.res, OutcomeSuccess, nil
		default:
			return inv.res, OutcomeFailure, nil
		}
	case <-ictx.Done():
		return Result{}, OutcomeTimeout, fmt.Errorf("skill: %s: %w", s.Name(), ictx.Err())
	}
}

func (d *Dispatcher) record(ctx context.Context, intentName, outcome string) {
	if d.metrics != nil {
		d.metrics.RecordDispatch(ctx, intentName, outcome)
	}
}
