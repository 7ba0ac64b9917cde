// Package timer implements countdown timers and wall-clock alarms.
//
// The skill keeps at most one timer and one alarm. Setting a new one replaces
// the old one. When a timer or alarm fires, the skill speaks an announcement
// through a [skill.Announcer], outside of any command cycle.
package timer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/hark/internal/intent"
	"github.com/MrWong99/hark/internal/skill"
)

var (
	_ skill.Skill    = (*Skill)(nil)
	_ skill.Canceler = (*Skill)(nil)
)

const announceTimeout = 15 * time.Second

// Clock abstracts time so tests can fire timers deterministically.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f in its own goroutine after d. The returned function
	// stops the pending call and reports whether it was still pending.
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Option configures a [Skill].
type Option func(*Skill)

// WithClock injects the clock. Default: the system clock.
func WithClock(c Clock) Option {
	return func(s *Skill) { s.clock = c }
}

// WithAnnouncer sets where expiry announcements are spoken. Without one they
// are only logged.
func WithAnnouncer(a skill.Announcer) Option {
	return func(s *Skill) { s.announcer = a }
}

type kind string

const (
	kindTimer kind = "timer"
	kindAlarm kind = "alarm"
)

// pending is one scheduled timer or alarm.
type pending struct {
	id     uint64
	kind   kind
	due    time.Time
	total  time.Duration
	stop   func() bool
	fired  bool
	notice string
}

// Skill serves set_timer, check_timer, cancel_timer, and set_alarm.
type Skill struct {
	clock     Clock
	announcer skill.Announcer

	mu     sync.Mutex
	seq    uint64
	slots  map[kind]*pending
	closed bool
}

// New returns a timer Skill.
func New(opts ...Option) *Skill {
	s := &Skill{clock: realClock{}, slots: make(map[kind]*pending, 2)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name implements skill.Skill.
func (s *Skill) Name() string { return "timer" }

// Intents implements skill.Skill.
func (s *Skill) Intents() []string {
	return []string{intent.SetTimer, intent.CheckTimer, intent.CancelTimer, intent.SetAlarm}
}

// Handle implements skill.Skill.
func (s *Skill) Handle(_ context.Context, m intent.Match) (skill.Result, error) {
	switch m.Intent {
	case intent.SetTimer:
		return s.setTimer(entity(m, "duration")), nil
	case intent.CheckTimer:
		return s.checkTimer(), nil
	case intent.CancelTimer:
		return s.cancel(kindTimer), nil
	case intent.SetAlarm:
		return s.setAlarm(entity(m, "time")), nil
	}
	return skill.Result{}, errors.New("timer: unhandled intent " + m.Intent)
}

// CancelFor implements skill.Canceler. It cancels the timer or alarm that the
// previous command set or asked about.
func (s *Skill) CancelFor(_ context.Context, last intent.Match) (skill.Result, bool) {
	switch last.Intent {
	case intent.SetTimer, intent.CheckTimer:
		return s.cancel(kindTimer), true
	case intent.SetAlarm:
		return s.cancel(kindAlarm), true
	}
	return skill.Result{}, false
}

// Close stops every pending timer and alarm. Handle keeps working but new
// timers never fire.
func (s *Skill) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, p := range s.slots {
		p.stop()
		delete(s.slots, k)
	}
	s.closed = true
	return nil
}

// entity reads the named slot, falling back to the first positional group so
// plugin-defined patterns without named groups still work.
func entity(m intent.Match, name string) string {
	if v := m.Entity(name); v != "" {
		return v
	}
	return m.Entity("entity_1")
}

func (s *Skill) setTimer(text string) skill.Result {
	if text == "" {
		return skill.Failed("I didn't catch how long to set the timer for.")
	}
	d, err := ParseDuration(text)
	if err != nil {
		return skill.Failed("I couldn't understand that duration.")
	}
	p := s.schedule(kindTimer, s.clock.Now().Add(d), d, "Your timer for "+Speak(d)+" is done.")
	slog.Info("timer set", "duration", d, "due", p.due)
	return skill.Succeeded("Timer set for "+Speak(d)+".", map[string]any{
		"action":        "set_timer",
		"minutes":       int(d / time.Minute),
		"seconds":       int(d % time.Minute / time.Second),
		"total_seconds": int(d / time.Second),
	})
}

func (s *Skill) checkTimer() skill.Result {
	s.mu.Lock()
	p, ok := s.slots[kindTimer]
	var (
		fired bool
		due   time.Time
	)
	if ok {
		fired, due = p.fired, p.due
	}
	s.mu.Unlock()

	if !ok {
		return skill.Failed("No timer is currently set.")
	}
	remaining := due.Sub(s.clock.Now())
	if fired || remaining <= 0 {
		return skill.Succeeded("The timer has finished.", map[string]any{"status": "finished", "remaining": 0.0})
	}
	// Round up so a timer never reports "0 seconds" while still running.
	remaining = (remaining + time.Second - 1).Truncate(time.Second)
	return skill.Succeeded("Timer has "+Speak(remaining)+" remaining.", map[string]any{
		"status":    "running",
		"remaining": remaining.Seconds(),
	})
}

func (s *Skill) setAlarm(text string) skill.Result {
	if text == "" {
		return skill.Failed("I didn't catch what time to set the alarm for.")
	}
	now := s.clock.Now()
	at, err := ParseClock(text, now)
	if err != nil {
		return skill.Failed("I couldn't understand that time format.")
	}
	spoken := at.Format("03:04 PM")
	s.schedule(kindAlarm, at, at.Sub(now), "It's "+spoken+". This is your alarm.")
	slog.Info("alarm set", "at", at)
	return skill.Succeeded("Alarm set for "+spoken+".", map[string]any{
		"action":    "set_alarm",
		"time":      spoken,
		"hour":      at.Hour(),
		"minute":    at.Minute(),
		"timestamp": at.Unix(),
	})
}

func (s *Skill) cancel(k kind) skill.Result {
	s.mu.Lock()
	p, ok := s.slots[k]
	if ok {
		p.stop()
		delete(s.slots, k)
	}
	s.mu.Unlock()

	if !ok || p.fired {
		return skill.Failed("No " + string(k) + " is currently set.")
	}
	slog.Info(string(k)+" cancelled", "due", p.due)
	return skill.Succeeded(capitalize(string(k))+" cancelled.", map[string]any{"action": "cancel_" + string(k)})
}

// schedule replaces the slot for k with a new pending entry.
func (s *Skill) schedule(k kind, due time.Time, total time.Duration, announcement string) *pending {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.slots[k]; ok {
		old.stop()
	}
	s.seq++
	p := &pending{id: s.seq, kind: k, due: due, total: total, notice: announcement}
	s.slots[k] = p
	if s.closed {
		p.stop = func() bool { return false }
		return p
	}
	id := p.id
	p.stop = s.clock.AfterFunc(total, func() { s.fire(k, id) })
	return p
}

func (s *Skill) fire(k kind, id uint64) {
	s.mu.Lock()
	p, ok := s.slots[k]
	if !ok || p.id != id || p.fired {
		s.mu.Unlock()
		return
	}
	p.fired = true
	if k == kindAlarm {
		delete(s.slots, k)
	}
	message := p.notice
	s.mu.Unlock()

	slog.Info(string(k)+" fired", "due", p.due)
	if s.announcer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()
	if err := s.announcer.Announce(ctx, message); err != nil {
		slog.Warn("failed to announce "+string(k), "err", err)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
