package skill

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

var (
	// ErrDuplicateIntent is returned when an intent name is already bound.
	ErrDuplicateIntent = errors.New("skill: duplicate intent")

	// ErrRegistryFrozen is returned by Register after Freeze.
	ErrRegistryFrozen = errors.New("skill: registry frozen")

	// ErrInvalidSkill is returned for a nil skill or one without intents.
	ErrInvalidSkill = errors.New("skill: invalid skill")
)

// Registry indexes skills by intent name. It is built at startup and frozen
// before the pipeline starts; lookups after Freeze take no write lock.
type Registry struct {
	mu       sync.RWMutex
	byIntent map[string]Skill
	skills   []Skill
	frozen   bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byIntent: make(map[string]Skill)}
}

// Register binds every intent of s. Registration is atomic: when any intent
// collides, nothing is bound and the error names every collision.
func (r *Registry) Register(s Skill) error {
	if s == nil || len(s.Intents()) == 0 {
		return ErrInvalidSkill
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}

	var errs []error
	seen := make(map[string]struct{}, len(s.Intents()))
	for _, name := range s.Intents() {
		if name == "" {
			errs = append(errs, fmt.Errorf("%w: %s declares an empty intent", ErrInvalidSkill, s.Name()))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("%w: %q declared twice by %s", ErrDuplicateIntent, name, s.Name()))
			continue
		}
		seen[name] = struct{}{}
		if owner, ok := r.byIntent[name]; ok {
			errs = append(errs, fmt.Errorf("%w: %q already bound to %s, cannot bind to %s", ErrDuplicateIntent, name, owner.Name(), s.Name()))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	for name := range seen {
		r.byIntent[name] = s
	}
	r.skills = append(r.skills, s)
	slog.Debug("skill registered", "skill", s.Name(), "intents", s.Intents())
	return nil
}

// MustRegister is like Register but panics on error. It is meant for wiring
// built-in skills whose intents are known not to collide.
func (r *Registry) MustRegister(s Skill) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Lookup returns the skill bound to intentName.
func (r *Registry) Lookup(intentName string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byIntent[intentName]
	return s, ok
}

// Skills returns the registered skills in registration order.
func (r *Registry) Skills() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.skills)
}

// Intents returns every bound intent name, sorted.
func (r *Registry) Intents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byIntent))
	for name := range r.byIntent {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
