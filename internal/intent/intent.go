// Package intent maps transcripts to named intents with extracted entities.
//
// A [Parser] holds an ordered list of [Pattern] values. Each pattern is a
// regular expression matched at the start of the normalized transcript and
// ending on a word boundary, so "what time is it now" still matches
// `what time is it`. A pattern that needs an exact utterance ends in `$`.
// Patterns are tried in registration order and the first match wins, so more
// specific patterns must be registered before more general ones.
//
// Named capture groups become entity slots under their own name. Unnamed
// groups become "entity_N", where N is the 1-based group index. Groups that
// did not participate in the match are omitted.
//
//	p := intent.NewParser()
//	_ = p.Add("set_timer", `set (?:a )?timer for (?P<duration>.+)`)
//	m, ok := p.Parse("Set a timer for 5 minutes.")
//	// m.Intent == "set_timer", m.Entities["duration"] == "5 minutes"
package intent

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrFrozen is returned by [Parser.Add] after [Parser.Freeze].
	ErrFrozen = errors.New("intent: parser frozen")

	// ErrEmptyIntent is returned when a pattern has no intent name.
	ErrEmptyIntent = errors.New("intent: empty intent name")
)

// Unrecognized is the synthetic intent used when no pattern matches.
const Unrecognized = "unrecognized"

// Pattern binds an intent name to a compiled match rule. Patterns are
// immutable once compiled.
type Pattern struct {
	// Intent is the intent name produced on a match.
	Intent string

	// Expr is the regular expression as written, before anchoring.
	Expr string

	// Slots lists the entity keys this pattern can produce, in group order.
	Slots []string

	re *regexp.Regexp
}

// Compile builds a Pattern. expr is anchored at the start and must end at a
// word break or the end of text. It is matched against normalized (lowercase)
// text, so it should be written in lowercase.
func Compile(intentName, expr string) (Pattern, error) {
	if strings.TrimSpace(intentName) == "" {
		return Pattern{}, ErrEmptyIntent
	}
	re, err := regexp.Compile(`^(?:` + expr + `)(?:\s|$)`)
	if err != nil {
		return Pattern{}, fmt.Errorf("intent: compile %q for %q: %w", expr, intentName, err)
	}
	p := Pattern{Intent: intentName, Expr: expr, re: re}
	for i, name := range re.SubexpNames() {
		if i == 0 {
			continue
		}
		p.Slots = append(p.Slots, slotName(i, name))
	}
	return p, nil
}

// MustCompile is like [Compile] but panics on error. It is meant for
// package-level pattern tables.
func MustCompile(intentName, expr string) Pattern {
	p, err := Compile(intentName, expr)
	if err != nil {
		panic(err)
	}
	return p
}

func slotName(index int, name string) string {
	if name != "" {
		return name
	}
	return "entity_" + strconv.Itoa(index)
}

// match returns the entities extracted from text, or false.
func (p Pattern) match(text string) (map[string]string, bool) {
	idx := p.re.FindStringSubmatchIndex(text)
	if idx == nil {
		return nil, false
	}
	entities := make(map[string]string, len(p.Slots))
	names := p.re.SubexpNames()
	for i := 1; i < len(names); i++ {
		start, end := idx[2*i], idx[2*i+1]
		if start < 0 {
			continue
		}
		if v := strings.TrimSpace(text[start:end]); v != "" {
			entities[slotName(i, names[i])] = v
		}
	}
	return entities, true
}

// Match is the result of a successful parse.
type Match struct {
	// Intent is the matched intent name.
	Intent string

	// Entities maps slot names to extracted values. Never nil.
	Entities map[string]string

	// Raw is the transcript as received, before normalization.
	Raw string
}

// Entity returns the named entity, or "".
func (m Match) Entity(name string) string {
	return m.Entities[name]
}

// Parser evaluates patterns in registration order. Add must not be called
// concurrently with Parse; after Freeze the Parser is read-only and safe for
// concurrent use.
type Parser struct {
	mu       sync.RWMutex
	patterns []Pattern
	frozen   bool
}

// NewParser returns a Parser holding patterns in the given order.
func NewParser(patterns ...Pattern) *Parser {
	return &Parser{patterns: append([]Pattern(nil), patterns...)}
}

// Add compiles expr and appends it after all existing patterns.
func (p *Parser) Add(intentName, expr string) error {
	pat, err := Compile(intentName, expr)
	if err != nil {
		return err
	}
	return p.AddPattern(pat)
}

// AddPattern appends an already compiled pattern.
func (p *Parser) AddPattern(pat Pattern) error {
	if pat.re == nil {
		return fmt.Errorf("intent: pattern for %q was not compiled", pat.Intent)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return ErrFrozen
	}
	p.patterns = append(p.patterns, pat)
	return nil
}

// Freeze makes the Parser read-only.
func (p *Parser) Freeze() {
	p.mu.Lock()
	p.frozen = true
	p.mu.Unlock()
}

// Patterns returns a copy of the registered patterns in order.
func (p *Parser) Patterns() []Pattern {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Pattern(nil), p.patterns...)
}

// Intents returns every distinct intent name in first-registration order.
func (p *Parser) Intents() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	seen := make(map[string]struct{}, len(p.patterns))
	var out []string
	for _, pat := range p.patterns {
		if _, ok := seen[pat.Intent]; ok {
			continue
		}
		seen[pat.Intent] = struct{}{}
		out = append(out, pat.Intent)
	}
	return out
}

// Parse returns the first pattern match for text. Empty or blank text never
// matches.
func (p *Parser) Parse(text string) (Match, bool) {
	norm := Normalize(text)
	if norm == "" {
		return Match{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, pat := range p.patterns {
		if entities, ok := pat.match(norm); ok {
			return Match{Intent: pat.Intent, Entities: entities, Raw: text}, true
		}
	}
	return Match{}, false
}

// Normalize lowercases text, collapses whitespace, drops commas, and trims
// trailing sentence punctuation. Apostrophes and colons are kept so that
// "what's" and "7:30" survive.
func Normalize(text string) string {
	text = strings.ToLower(text)
	text = strings.ReplaceAll(text, ",", " ")
	text = strings.Join(strings.Fields(text), " ")
	return strings.TrimRight(text, ".!?;")
}
