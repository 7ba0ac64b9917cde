// Package clock answers time and date questions.
package clock

import (
	"context"
	"time"

	"github.com/MrWong99/hark/internal/intent"
	"github.com/MrWong99/hark/internal/skill"
)

var _ skill.Skill = (*Skill)(nil)

// Option configures a [Skill].
type Option func(*Skill)

// WithNow injects the clock. Default: time.Now.
func WithNow(now func() time.Time) Option {
	return func(s *Skill) { s.now = now }
}

// WithLocation sets the zone used when speaking times. Default: time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Skill) { s.loc = loc }
}

// Skill serves the "time" and "date" intents.
type Skill struct {
	now func() time.Time
	loc *time.Location
}

// New returns a clock Skill.
func New(opts ...Option) *Skill {
	s := &Skill{now: time.Now, loc: time.Local}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name implements skill.Skill.
func (s *Skill) Name() string { return "clock" }

// Intents implements skill.Skill.
func (s *Skill) Intents() []string { return []string{intent.Time, intent.Date} }

// Handle implements skill.Skill.
func (s *Skill) Handle(_ context.Context, m intent.Match) (skill.Result, error) {
	now := s.now().In(s.loc)
	switch m.Intent {
	case intent.Time:
		return skill.Succeeded("It's currently "+now.Format("03:04 PM")+".", map[string]any{
			"hour":   now.Hour(),
			"minute": now.Minute(),
		}), nil
	case intent.Date:
		return skill.Succeeded("Today is "+now.Format("Monday, January 02, 2006")+".", map[string]any{
			"date": now.Format(time.DateOnly),
		}), nil
	}
	return skill.Failed("I can only tell the time or the date."), nil
}
