package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/hark/internal/intent"
	"github.com/MrWong99/hark/internal/journal"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/recognition"
	"github.com/MrWong99/hark/internal/respond"
	"github.com/MrWong99/hark/internal/skill"
	"github.com/MrWong99/hark/internal/transcript"
)

// journalTimeout bounds the journal write at the end of a cycle. The write is
// detached from the run context so a shutdown does not lose the last entry.
const journalTimeout = 2 * time.Second

// process runs everything after capture for one session: transcription,
// correction, parsing, dispatch, and speech. It ends by returning the
// controller to IDLE. Only shutdown skips the spoken reply; a recognizer
// failure is answered like an empty transcript.
func (c *Controller) process(ctx context.Context, sess Session) {
	ctx, span := observe.StartStage(ctx, observe.StageCycle, sess.ID)
	defer span.End()
	log := observe.Logger(ctx)

	if c.cfg.Dumper != nil && sess.Segment != nil {
		if path, err := c.cfg.Dumper.Dump(sess.ID, *sess.Segment); err != nil {
			log.Warn("dump segment failed", "err", err)
		} else {
			log.Debug("segment dumped", "path", path)
		}
	}

	tr, err := c.transcribe(ctx, sess)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("cycle aborted during transcription", "err", err)
			snap := c.advance(ctx, StateIdle, nil)
			c.record(ctx, snap, journal.OutcomeAborted)
			return
		}
		log.Warn("transcription failed", "err", err)
		tr = nil
	}

	text := ""
	if tr != nil {
		text = tr.Text
	}
	var corrected *transcript.Corrected
	if c.cfg.Corrector != nil && text != "" {
		cr := c.cfg.Corrector.Correct(text)
		if cr.Changed() {
			log.Info("transcript corrected", "from", cr.Original, "to", cr.Text, "corrections", len(cr.Corrections))
		}
		corrected = &cr
		text = cr.Text
	}
	c.advance(ctx, StateParsing, func(s *Session) {
		s.Transcript = tr
		s.Corrected = corrected
	})

	m, ok := c.cfg.Parser.Parse(text)
	if !ok {
		m = intent.Match{Intent: intent.Unrecognized, Entities: map[string]string{}, Raw: text}
	}
	log.Info("intent parsed", "intent", m.Intent, "entities", m.Entities)
	c.advance(ctx, StateDispatching, func(s *Session) { s.Match = &m })

	result := c.dispatch(ctx, sess.ID, m)
	resp := c.cfg.Composer.ComposeFor(m.Intent, result)
	c.advance(ctx, StateResponding, func(s *Session) {
		s.Result = &result
		s.Response = &resp
	})

	c.speak(ctx, sess.ID, resp)

	snap := c.advance(ctx, StateIdle, nil)
	outcome := journal.OutcomeCompleted
	if ctx.Err() != nil {
		outcome = journal.OutcomeAborted
	}
	c.record(ctx, snap, outcome)
}

func (c *Controller) transcribe(ctx context.Context, sess Session) (*recognition.Transcript, error) {
	ctx, span := observe.StartStage(ctx, observe.StageTranscribe, sess.ID)
	defer span.End()
	if sess.Segment == nil {
		return nil, nil
	}
	tr, err := c.cfg.Recognizer.Transcribe(ctx, *sess.Segment)
	if err != nil {
		observe.Fail(span, err)
		return nil, fmt.Errorf("pipeline: transcribe: %w", err)
	}
	log := observe.Logger(ctx)
	if tr == nil {
		log.Info("no transcript produced")
		return nil, nil
	}
	log.Info("transcript", "text", tr.Text, "engine", tr.Engine,
		"confidence", tr.Confidence, "latency", tr.Latency)
	return tr, nil
}

func (c *Controller) dispatch(ctx context.Context, sessionID string, m intent.Match) skill.Result {
	ctx, span := observe.StartStage(ctx, observe.StageDispatch, sessionID)
	defer span.End()
	res := c.cfg.Dispatcher.Dispatch(ctx, m)
	observe.Logger(ctx).Info("dispatch result",
		"intent", m.Intent, "success", res.Success, "message", res.Message)
	return res
}

func (c *Controller) speak(ctx context.Context, sessionID string, resp respond.Response) {
	log := observe.Logger(ctx)
	if c.cfg.Speaker == nil {
		log.Info("response", "message", resp.Message)
		return
	}
	ctx, span := observe.StartStage(ctx, observe.StageRespond, sessionID)
	defer span.End()
	if err := c.cfg.Speaker.Speak(ctx, resp); err != nil {
		observe.Fail(span, err)
		log.Warn("speaking response failed", "message", resp.Message, "err", err)
	}
}

// record writes the journal entry and session metrics for a finished cycle.
func (c *Controller) record(ctx context.Context, sess Session, outcome string) {
	total := c.cfg.Now().Sub(sess.StartedAt)
	c.cfg.Metrics.RecordSession(ctx, outcome, total)
	if c.cfg.Journal == nil {
		return
	}

	e := entryFor(sess, outcome, total)
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := c.cfg.Journal.Append(jctx, e); err != nil {
		observe.Logger(observe.WithSession(ctx, sess.ID)).Warn("journal append failed", "err", err)
	}
}

func entryFor(sess Session, outcome string, total time.Duration) journal.Entry {
	e := journal.Entry{
		SessionID:      sess.ID,
		StartedAt:      sess.StartedAt,
		Outcome:        outcome,
		WakePhrase:     sess.Wake.Phrase,
		WakeConfidence: sess.Wake.Confidence,
		TotalDuration:  total,
	}
	if sess.Segment != nil {
		e.CaptureDuration = sess.Segment.Duration()
	}
	if tr := sess.Transcript; tr != nil {
		e.Transcript = tr.Text
		e.Engine = tr.Engine
		e.TranscriptConfidence = tr.Confidence
		e.RecognitionLatency = tr.Latency
	}
	if sess.Corrected != nil {
		e.Transcript = sess.Corrected.Text
	}
	if m := sess.Match; m != nil {
		e.Intent = m.Intent
		e.Entities = m.Entities
	}
	if r := sess.Result; r != nil {
		e.Success = r.Success
		e.Message = r.Message
	}
	if sess.Response != nil {
		e.Message = sess.Response.Message
	}
	return e
}
