// Package stt defines the Recognizer interface implemented by every
// speech-to-text backend hark can arbitrate between.
//
// A Recognizer takes one captured [audio.Segment] holding a single spoken
// command and returns its best transcription with a confidence score. Backends
// range from fully offline (whisper.cpp in-process or as a local server) to
// online APIs (Deepgram, OpenAI). They are deliberately batch-shaped: the
// pipeline only transcribes once end-of-speech has been detected.
//
// Failures are reported as *[RecognitionError] so that the arbitrator can tell
// an unreachable engine from a slow one or from a segment that held no audio.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/hark/pkg/audio"
)

// Recognizer is the abstraction over any STT backend.
type Recognizer interface {
	// Name returns the engine identifier used in configuration, logs and
	// metrics (e.g. "whisper-native", "deepgram").
	Name() string

	// Transcribe converts seg to text. It must honour ctx cancellation on a
	// best-effort basis; the caller abandons the attempt once ctx is done
	// regardless of whether Transcribe has returned.
	Transcribe(ctx context.Context, seg audio.Segment) (Result, error)
}

// ErrorKind classifies recognition failures.
type ErrorKind int

const (
	// KindUnavailable means the engine could not be reached or failed
	// internally. Trying another engine may succeed.
	KindUnavailable ErrorKind = iota

	// KindTimeout means the engine did not answer within its budget.
	KindTimeout

	// KindEmptyInput means the segment held no usable audio, or the engine
	// heard nothing it could transcribe.
	KindEmptyInput
)

// String returns the lower-case name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	case KindEmptyInput:
		return "empty_input"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// RecognitionError is the error type returned by Recognizer implementations.
type RecognitionError struct {
	Engine string
	Kind   ErrorKind
	Err    error
}

func (e *RecognitionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stt: %s: %s", e.Engine, e.Kind)
	}
	return fmt.Sprintf("stt: %s: %s: %v", e.Engine, e.Kind, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// Unavailable wraps err as a [KindUnavailable] failure of engine.
func Unavailable(engine string, err error) error {
	return &RecognitionError{Engine: engine, Kind: KindUnavailable, Err: err}
}

// EmptyInput returns a [KindEmptyInput] failure of engine.
func EmptyInput(engine string) error {
	return &RecognitionError{Engine: engine, Kind: KindEmptyInput}
}

// Classify converts an arbitrary backend error into a *RecognitionError. An
// error caused by ctx's deadline becomes [KindTimeout]; errors that already
// are a *RecognitionError pass through unchanged.
func Classify(ctx context.Context, engine string, err error) error {
	if err == nil {
		return nil
	}
	var re *RecognitionError
	if errors.As(err, &re) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &RecognitionError{Engine: engine, Kind: KindTimeout, Err: err}
	}
	return Unavailable(engine, err)
}

// KindOf reports the kind of a recognition failure. ok is false when err is not
// (and does not wrap) a *RecognitionError.
func KindOf(err error) (kind ErrorKind, ok bool) {
	var re *RecognitionError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}

// CheckSegment returns an EmptyInput error when seg carries no PCM. Backends
// call it before spending any work on a request.
func CheckSegment(engine string, seg audio.Segment) error {
	if seg.Empty() {
		return EmptyInput(engine)
	}
	return nil
}
