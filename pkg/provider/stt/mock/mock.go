// Package mock provides a test double for [stt.Recognizer].
//
// Recognizer returns a scripted Result or error, optionally after a delay, and
// records every segment it was asked to transcribe.
//
// Example:
//
//	slow := &mock.Recognizer{EngineName: "offline", Delay: time.Second}
//	fast := &mock.Recognizer{EngineName: "online", Result: stt.Result{Text: "what time is it", Confidence: 0.9}}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

var _ stt.Recognizer = (*Recognizer)(nil)

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// EngineName is returned by Name. Defaults to "mock".
	EngineName string

	// Result is returned by Transcribe when Err is nil.
	Result stt.Result

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Delay makes Transcribe wait before answering. A ctx cancelled during the
	// delay yields a Timeout or Unavailable RecognitionError.
	Delay time.Duration

	// PanicWith, if non-nil, makes Transcribe panic with this value.
	PanicWith any

	// Calls records every segment passed to Transcribe.
	Calls []audio.Segment
}

// Name implements stt.Recognizer.
func (r *Recognizer) Name() string {
	if r.EngineName == "" {
		return "mock"
	}
	return r.EngineName
}

// Transcribe implements stt.Recognizer.
func (r *Recognizer) Transcribe(ctx context.Context, seg audio.Segment) (stt.Result, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, seg)
	res, err, delay, p := r.Result, r.Err, r.Delay, r.PanicWith
	r.mu.Unlock()

	if p != nil {
		panic(p)
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return stt.Result{}, stt.Classify(ctx, r.Name(), ctx.Err())
		case <-t.C:
		}
	}
	if err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

// CallCount returns how many times Transcribe was called.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}
