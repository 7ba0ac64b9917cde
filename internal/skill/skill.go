// Package skill binds intents to handlers and invokes them in isolation.
//
// A [Skill] declares the intents it serves. The [Registry] indexes skills by
// intent name and rejects a second binding for the same name. The
// [Dispatcher] looks up the handler for an [intent.Match], runs it under a
// timeout, and turns every failure mode into a spoken-safe [Result]: a handler
// may return an error, exceed its deadline, panic, or return an empty message,
// and the caller still gets a Result it can speak.
package skill

import (
	"context"

	"github.com/MrWong99/hark/internal/intent"
)

// Fallback messages spoken when a cycle cannot produce a skill answer.
const (
	MsgUnrecognized = "I'm not sure how to help with that."
	MsgNotCaught    = "Sorry, I didn't catch that."
	MsgFailure      = "Sorry, something went wrong while handling that."
	MsgNoCommand    = "I didn't hear a command. Please try again."
)

// Result is the normalized outcome of one dispatch.
type Result struct {
	// Success is false for every failure, including unknown intents.
	Success bool

	// Message is the text to speak. Never empty after dispatch.
	Message string

	// Data carries skill-specific structured output. May be nil.
	Data map[string]any
}

// Failed returns an unsuccessful Result with message.
func Failed(message string) Result {
	return Result{Success: false, Message: message}
}

// Succeeded returns a successful Result with message and optional data.
func Succeeded(message string, data map[string]any) Result {
	return Result{Success: true, Message: message, Data: data}
}

// Skill handles one or more intents. Handle must respect ctx cancellation when
// it performs I/O; the dispatcher abandons a handler once its deadline passes.
type Skill interface {
	// Name identifies the skill in logs and metrics.
	Name() string

	// Intents lists the intent names this skill serves. The list must not
	// change after registration.
	Intents() []string

	// Handle serves a matched intent.
	Handle(ctx context.Context, m intent.Match) (Result, error)
}

// Canceler is implemented by skills that own cancellable state. When the user
// says a bare "cancel" shortly after talking to such a skill, the system skill
// asks it to cancel whatever the previous match started.
type Canceler interface {
	// CancelFor cancels the activity started by last. It returns false when
	// last is not something this skill can cancel.
	CancelFor(ctx context.Context, last intent.Match) (Result, bool)
}

// Announcer speaks a message outside of a command cycle, for example when a
// timer fires.
type Announcer interface {
	Announce(ctx context.Context, message string) error
}

// AnnouncerFunc adapts a function to [Announcer].
type AnnouncerFunc func(ctx context.Context, message string) error

// Announce implements [Announcer].
func (f AnnouncerFunc) Announce(ctx context.Context, message string) error {
	return f(ctx, message)
}
