package pipeline

import (
	"fmt"
	"time"

	"github.com/MrWong99/hark/internal/intent"
	"github.com/MrWong99/hark/internal/recognition"
	"github.com/MrWong99/hark/internal/respond"
	"github.com/MrWong99/hark/internal/skill"
	"github.com/MrWong99/hark/internal/transcript"
	"github.com/MrWong99/hark/internal/wake"
	"github.com/MrWong99/hark/pkg/audio"
)

// State is a controller state. The controller starts in [StateIdle] and
// cycles until shut down; there is no terminal state.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateTranscribing
	StateParsing
	StateDispatching
	StateResponding
)

var stateNames = [...]string{"IDLE", "CAPTURING", "TRANSCRIBING", "PARSING", "DISPATCHING", "RESPONDING"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Session is the record of one command cycle. It is created on a wake event
// and discarded when the controller returns to IDLE.
//
// Each stage result is nil until the stage that produces it has run, so on
// entering a state every earlier field is set and every later one is nil:
//
//	CAPTURING     ID, StartedAt, Wake
//	TRANSCRIBING  + Segment
//	PARSING       + Transcript (nil when every engine failed), Corrected
//	DISPATCHING   + Match
//	RESPONDING    + Result, Response
type Session struct {
	ID        string
	StartedAt time.Time
	Wake      wake.Event

	// Debounced counts wake events absorbed while capturing.
	Debounced int

	Segment    *audio.Segment
	Transcript *recognition.Transcript

	// Corrected is set when a vocabulary corrector ran on a non-empty
	// transcript.
	Corrected *transcript.Corrected

	Match    *intent.Match
	Result   *skill.Result
	Response *respond.Response
}

// Transition describes one state change. Session is a snapshot of the cycle
// taken at the boundary; for the final change into IDLE it is the session
// that just ended.
type Transition struct {
	From, To State
	Session  Session
}
