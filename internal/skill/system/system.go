// Package system serves the help, stop, and cancel intents.
package system

import (
	"context"
	"strings"

	"github.com/MrWong99/hark/internal/intent"
	"github.com/MrWong99/hark/internal/skill"
)

var _ skill.Skill = (*Skill)(nil)

// Skill answers help requests and resolves bare "cancel" follow-ups against
// the skill that handled the previous command.
type Skill struct {
	reg    *skill.Registry
	onStop func()
}

// Option configures a system [Skill].
type Option func(*Skill)

// WithStopper makes "stop" end the assistant: fn is called once the command
// is acknowledged. Without it, stop only acknowledges.
func WithStopper(fn func()) Option {
	return func(s *Skill) { s.onStop = fn }
}

// New returns a system Skill that describes and consults reg.
func New(reg *skill.Registry, opts ...Option) *Skill {
	s := &Skill{reg: reg}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name implements skill.Skill.
func (s *Skill) Name() string { return "system" }

// Intents implements skill.Skill.
func (s *Skill) Intents() []string { return []string{intent.Help, intent.Stop, intent.Cancel} }

// Handle implements skill.Skill.
func (s *Skill) Handle(ctx context.Context, m intent.Match) (skill.Result, error) {
	switch m.Intent {
	case intent.Help:
		return s.help(), nil
	case intent.Stop:
		if s.onStop != nil {
			s.onStop()
			return skill.Succeeded("Goodbye! Shutting down.", map[string]any{"action": "stop", "exit": true}), nil
		}
		return skill.Succeeded("Okay, stopping.", map[string]any{"action": "stop", "exit": false}), nil
	default:
		return s.cancel(ctx), nil
	}
}

func (s *Skill) help() skill.Result {
	var topics []string
	for _, name := range s.reg.Intents() {
		switch name {
		case intent.Help, intent.Stop, intent.Cancel:
			continue
		}
		topics = append(topics, strings.ReplaceAll(name, "_", " "))
	}
	if len(topics) == 0 {
		return skill.Succeeded("I don't have any skills installed yet.", nil)
	}
	return skill.Succeeded("You can ask me to: "+strings.Join(topics, ", ")+".", map[string]any{"intents": topics})
}

// cancel asks the skill behind the previous command to undo it. Without a
// fresh previous command it simply acknowledges.
func (s *Skill) cancel(ctx context.Context) skill.Result {
	prev, ok := skill.Previous(ctx)
	if ok {
		if owner, found := s.reg.Lookup(prev.Intent); found {
			if c, ok := owner.(skill.Canceler); ok {
				if res, handled := c.CancelFor(ctx, prev); handled {
					return res
				}
			}
		}
	}
	return skill.Succeeded("Okay, never mind.", map[string]any{"action": "cancel"})
}
