// Package pipeline runs the listen, capture, transcribe, parse, dispatch, and
// respond cycle.
//
// A [Controller] owns two goroutines while running. The pump reads frames
// from the [audio.Source] into a bounded queue that drops its oldest frame
// when full, so a stalled consumer never blocks the device. The loop drains
// the queue, feeds every frame to the wake detector, and accumulates the
// command segment while capturing. Once a segment is complete the loop hands
// it to a worker goroutine that transcribes, parses, dispatches, and speaks,
// keeping slow recognizers and skills off the audio path. Frames that arrive
// while the worker is busy are seen by the wake detector and then discarded.
//
// At most one [Session] is active. A wake event during capture does not
// start a new session; it restarts the capture timeout instead.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hark/internal/intent"
	"github.com/MrWong99/hark/internal/journal"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/recognition"
	"github.com/MrWong99/hark/internal/respond"
	"github.com/MrWong99/hark/internal/skill"
	"github.com/MrWong99/hark/internal/transcript"
	"github.com/MrWong99/hark/internal/wake"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/vad"
)

// ErrAlreadyRunning is returned by [Controller.Run] when called concurrently.
var ErrAlreadyRunning = errors.New("pipeline: controller already running")

// DefaultQueueCapacity is the frame queue size used when none is configured.
// At 20 ms frames it holds two seconds of audio.
const DefaultQueueCapacity = 100

// WakeDetector spots wake phrases in a frame stream. Implemented by
// [wake.Detector].
type WakeDetector interface {
	Feed(frame audio.AudioFrame) (wake.Event, bool)
}

// Recognizer turns a captured segment into a transcript. It returns a nil
// transcript when no engine produced text, and an error only on
// cancellation. Implemented by [recognition.Arbitrator].
type Recognizer interface {
	Transcribe(ctx context.Context, seg audio.Segment) (*recognition.Transcript, error)
}

// Corrector repairs vocabulary terms in a transcript. Implemented by
// [transcript.Corrector].
type Corrector interface {
	Correct(text string) transcript.Corrected
}

// Parser extracts an intent. Implemented by [intent.Parser].
type Parser interface {
	Parse(text string) (intent.Match, bool)
}

// Dispatcher routes a match to its skill. Implemented by [skill.Dispatcher].
type Dispatcher interface {
	Dispatch(ctx context.Context, m intent.Match) skill.Result
}

// Composer shapes a result for speech. Implemented by [respond.Composer].
type Composer interface {
	Compose(result skill.Result) respond.Response
	ComposeFor(intentName string, result skill.Result) respond.Response
}

// Speaker renders a response. Implemented by [respond.Speaker].
type Speaker interface {
	Speak(ctx context.Context, r respond.Response) error
}

// SegmentDumper persists captured segments for debugging. Implemented by
// [wavfile.Dumper].
type SegmentDumper interface {
	Dump(name string, seg audio.Segment) (string, error)
}

// Timing holds the capture timeouts. They are measured in stream time, the
// summed duration of the frames consumed, so capture behaves the same for a
// live microphone and a file replayed faster than real time.
type Timing struct {
	// SilenceTimeout is the run of silence after speech that ends a capture.
	SilenceTimeout time.Duration

	// MaxCapture caps a capture. Speech still running at the cap is cut and
	// transcribed; a capture that never heard speech returns to IDLE.
	MaxCapture time.Duration

	// CaptureTimeout ends a capture in which no speech started.
	CaptureTimeout time.Duration

	// MinSpeech is the speech needed before silence may end the capture.
	// Shorter bursts are treated as noise.
	MinSpeech time.Duration
}

// DefaultTiming returns the stock capture timeouts.
func DefaultTiming() Timing {
	return Timing{
		SilenceTimeout: 1500 * time.Millisecond,
		MaxCapture:     10 * time.Second,
		CaptureTimeout: 5 * time.Second,
		MinSpeech:      300 * time.Millisecond,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.SilenceTimeout <= 0 {
		t.SilenceTimeout = d.SilenceTimeout
	}
	if t.MaxCapture <= 0 {
		t.MaxCapture = d.MaxCapture
	}
	if t.CaptureTimeout <= 0 {
		t.CaptureTimeout = d.CaptureTimeout
	}
	if t.MinSpeech < 0 {
		t.MinSpeech = 0
	}
	return t
}

// Config wires a Controller. Source, Wake, VAD, Recognizer, Parser,
// Dispatcher, and Composer are required.
type Config struct {
	Source     audio.Source
	Wake       WakeDetector
	VAD        vad.Engine
	VADConfig  vad.Config
	Recognizer Recognizer
	Corrector  Corrector
	Parser     Parser
	Dispatcher Dispatcher
	Composer   Composer

	// Speaker plays responses. Without one, responses are only logged.
	Speaker Speaker

	// Journal records every finished session.
	Journal journal.Store

	// Dumper writes each captured segment when set.
	Dumper SegmentDumper

	Metrics *observe.Metrics
	Timing  Timing

	// QueueCapacity bounds the frame queue. Defaults to [DefaultQueueCapacity].
	QueueCapacity int

	// Now is the wall clock for session timestamps. Defaults to time.Now.
	Now func() time.Time
}

func (c Config) validate() error {
	var errs []error
	if c.Source == nil {
		errs = append(errs, errors.New("source is required"))
	}
	if c.Wake == nil {
		errs = append(errs, errors.New("wake detector is required"))
	}
	if c.VAD == nil {
		errs = append(errs, errors.New("vad engine is required"))
	}
	if c.Recognizer == nil {
		errs = append(errs, errors.New("recognizer is required"))
	}
	if c.Parser == nil {
		errs = append(errs, errors.New("parser is required"))
	}
	if c.Dispatcher == nil {
		errs = append(errs, errors.New("dispatcher is required"))
	}
	if c.Composer == nil {
		errs = append(errs, errors.New("composer is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("pipeline: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Controller is the command-cycle state machine.
type Controller struct {
	cfg     Config
	vadSess vad.SessionHandle

	mu           sync.Mutex
	state        State
	session      *Session
	onTransition func(Transition)

	// cap is owned by the loop goroutine.
	cap capture

	workers sync.WaitGroup
	running atomic.Bool
	dropped atomic.Int64
}

// capture accumulates one command while in CAPTURING.
type capture struct {
	segment audio.Segment
	elapsed time.Duration

	// quiet is the time without speech since the wake event or the last
	// debounced wake event.
	quiet time.Duration

	onset   bool
	speech  time.Duration
	silence time.Duration
}

// New validates cfg and opens the VAD session.
func New(cfg Config) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Timing = cfg.Timing.withDefaults()
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	sess, err := cfg.VAD.NewSession(cfg.VADConfig)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open vad session: %w", err)
	}
	return &Controller{cfg: cfg, vadSess: sess}, nil
}

// OnTransition registers fn to be called after every state change. fn runs
// synchronously on the goroutine that made the change and must not block.
// Call it before Run.
func (c *Controller) OnTransition(fn func(Transition)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTransition = fn
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns a snapshot of the active session.
func (c *Controller) Current() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Running reports whether Run is executing.
func (c *Controller) Running() bool { return c.running.Load() }

// Dropped returns the number of frames dropped on queue overflow.
func (c *Controller) Dropped() int64 { return c.dropped.Load() }

// Run processes audio until ctx is cancelled or the source is exhausted.
// Cancellation is a normal shutdown and returns nil; an in-flight cycle is
// interrupted and the controller is left in IDLE. When the source runs out,
// a capture in progress is completed and Run waits for its cycle to finish.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	slog.Info("pipeline started",
		"queue_capacity", c.cfg.QueueCapacity,
		"silence_timeout", c.cfg.Timing.SilenceTimeout,
		"max_capture", c.cfg.Timing.MaxCapture,
		"capture_timeout", c.cfg.Timing.CaptureTimeout)

	frames := make(chan audio.AudioFrame, c.cfg.QueueCapacity)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.pump(gctx, frames) })
	g.Go(func() error { return c.loop(gctx, frames) })
	err := g.Wait()
	c.workers.Wait()
	c.abort()

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = nil
	}
	slog.Info("pipeline stopped", "frames_dropped", c.Dropped(), "err", err)
	return err
}

// Close releases the VAD session.
func (c *Controller) Close() error {
	return c.vadSess.Close()
}

// pump moves frames from the source into the queue.
func (c *Controller) pump(ctx context.Context, frames chan audio.AudioFrame) error {
	defer close(frames)
	for {
		f, err := c.cfg.Source.NextFrame(ctx)
		if err != nil {
			if errors.Is(err, audio.ErrSourceClosed) {
				slog.Info("audio source exhausted")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("pipeline: read frame: %w", err)
		}
		c.offer(ctx, frames, f)
	}
}

// offer enqueues f, dropping the oldest queued frame when the queue is full.
// The pump is the only sender, so after one receive the send succeeds unless
// the loop refilled nothing, in which case the frame itself is dropped.
func (c *Controller) offer(ctx context.Context, frames chan audio.AudioFrame, f audio.AudioFrame) {
	select {
	case frames <- f:
		return
	default:
	}
	select {
	case <-frames:
		c.drop(ctx)
	default:
	}
	select {
	case frames <- f:
	default:
		c.drop(ctx)
	}
}

func (c *Controller) drop(ctx context.Context) {
	n := c.dropped.Add(1)
	c.cfg.Metrics.RecordFrameDropped(ctx)
	if n == 1 || n%50 == 0 {
		slog.Warn("frame queue full, dropping oldest frame", "dropped_total", n)
	}
}

func (c *Controller) loop(ctx context.Context, frames <-chan audio.AudioFrame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				c.endOfStream(ctx)
				return ctx.Err()
			}
			c.handleFrame(ctx, f)
		}
	}
}

func (c *Controller) handleFrame(ctx context.Context, f audio.AudioFrame) {
	ev, woke := c.cfg.Wake.Feed(f)
	switch c.State() {
	case StateIdle:
		if woke {
			c.begin(ctx, ev)
		}
	case StateCapturing:
		if woke {
			c.debounce(ev)
		}
		c.capture(ctx, f)
	default:
		if woke {
			slog.Debug("wake event ignored while a command is in progress", "phrase", ev.Phrase)
		}
	}
}

func (c *Controller) begin(ctx context.Context, ev wake.Event) {
	sess := &Session{ID: uuid.NewString(), StartedAt: c.cfg.Now(), Wake: ev}
	c.cap = capture{}
	c.vadSess.Reset()
	c.cfg.Metrics.RecordWake(ctx, ev.Phrase)
	slog.Info("wake phrase detected",
		"session_id", sess.ID, "phrase", ev.Phrase, "confidence", ev.Confidence)

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	c.advance(ctx, StateCapturing, nil)
}

// debounce absorbs a wake event that arrives during capture.
func (c *Controller) debounce(ev wake.Event) {
	c.cap.quiet = 0
	c.mu.Lock()
	id := ""
	if c.session != nil {
		c.session.Debounced++
		id = c.session.ID
	}
	c.mu.Unlock()
	slog.Debug("wake event during capture, capture timeout restarted", "session_id", id, "phrase", ev.Phrase)
}

func (c *Controller) capture(ctx context.Context, f audio.AudioFrame) {
	cp := &c.cap
	d := f.Duration()
	cp.segment.Append(f)
	cp.elapsed += d

	ev, err := c.vadSess.ProcessFrame(f.Data)
	if err != nil {
		slog.Debug("vad rejected frame, treating as silence", "err", err)
		ev = vad.VADEvent{Type: vad.VADSilence}
	}

	switch {
	case ev.Type.IsSpeech():
		cp.onset = true
		cp.speech += d
		cp.silence = 0
	case cp.onset:
		cp.silence += d
	default:
		cp.quiet += d
	}

	t := c.cfg.Timing
	switch {
	case cp.onset && cp.silence >= t.SilenceTimeout && cp.speech >= t.MinSpeech:
		c.finishCapture(ctx, "silence")
	case cp.onset && cp.silence >= t.SilenceTimeout:
		slog.Debug("speech burst too short, still listening", "speech", cp.speech)
		cp.onset, cp.speech, cp.silence = false, 0, 0
	case cp.elapsed >= t.MaxCapture && cp.onset:
		c.finishCapture(ctx, "max_capture")
	case cp.elapsed >= t.MaxCapture:
		c.abandon(ctx, "max_capture", true)
	case !cp.onset && cp.quiet >= t.CaptureTimeout:
		c.abandon(ctx, "capture_timeout", true)
	}
}

// endOfStream settles a capture cut short by the source running dry, then
// waits for the last cycle.
func (c *Controller) endOfStream(ctx context.Context) {
	if ctx.Err() == nil && c.State() == StateCapturing {
		if c.cap.onset {
			c.finishCapture(ctx, "end_of_stream")
		} else {
			c.abandon(ctx, "end_of_stream", false)
		}
	}
	c.workers.Wait()
}

// finishCapture hands the segment to a worker.
func (c *Controller) finishCapture(ctx context.Context, reason string) {
	seg := c.cap.segment
	c.cap = capture{}
	sess := c.advance(ctx, StateTranscribing, func(s *Session) { s.Segment = &seg })
	slog.Info("command captured",
		"session_id", sess.ID, "reason", reason, "duration", seg.Duration(), "frames", seg.Len())

	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		c.process(ctx, sess)
	}()
}

// abandon ends a capture that produced no segment. With prompt set, the user
// is told that no command was heard.
func (c *Controller) abandon(ctx context.Context, reason string, prompt bool) {
	c.cap = capture{}
	snap := c.advance(ctx, StateIdle, nil)
	slog.Info("no command heard", "session_id", snap.ID, "reason", reason)

	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		c.record(ctx, snap, journal.OutcomeNoSpeech)
		if prompt && c.cfg.Speaker != nil {
			r := c.cfg.Composer.Compose(skill.Failed(skill.MsgNoCommand))
			if err := c.cfg.Speaker.Speak(ctx, r); err != nil {
				slog.Warn("speaking capture-timeout prompt failed", "session_id", snap.ID, "err", err)
			}
		}
	}()
}

// abort returns the controller to IDLE after shutdown interrupted a cycle.
func (c *Controller) abort() {
	c.cap = capture{}
	c.mu.Lock()
	from, sess := c.state, c.session
	c.state, c.session = StateIdle, nil
	c.mu.Unlock()
	if from != StateIdle && sess != nil {
		slog.Info("cycle interrupted by shutdown", "session_id", sess.ID, "state", from.String())
	}
}

// advance fills the session under the lock, moves to the next state, and
// returns a snapshot of the session taken at the boundary.
func (c *Controller) advance(ctx context.Context, to State, fill func(*Session)) Session {
	c.mu.Lock()
	from := c.state
	var snap Session
	if c.session != nil {
		if fill != nil {
			fill(c.session)
		}
		snap = *c.session
	}
	c.state = to
	if to == StateIdle {
		c.session = nil
	}
	hook := c.onTransition
	c.mu.Unlock()

	c.cfg.Metrics.RecordTransition(ctx, from.String(), to.String())
	slog.Debug("pipeline transition", "session_id", snap.ID, "from", from.String(), "to", to.String())
	if hook != nil {
		hook(Transition{From: from, To: to, Session: snap})
	}
	return snap
}
