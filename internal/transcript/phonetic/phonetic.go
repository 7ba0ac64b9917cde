// Package phonetic snaps misheard words onto a known command vocabulary.
//
// Candidates are first filtered by Double Metaphone code overlap and ranked by
// Jaro-Winkler similarity. When no candidate sounds alike, a stricter pure
// string-similarity threshold is applied instead.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a candidate
// that shares a Double Metaphone code with the input. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a candidate that
// shares no phonetic code with the input. Default: 0.90.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher with the supplied options applied.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Term is one prepared vocabulary entry.
type Term struct {
	// Text is the entry as configured, returned verbatim on a match.
	Text string

	lower  string
	tokens []string
	codes  map[string]struct{}
}

// Words returns the number of whitespace-separated words in the term.
func (t Term) Words() int { return len(t.tokens) }

// Vocabulary is a prepared, immutable word list.
type Vocabulary struct {
	terms []Term
	exact map[string]struct{}
}

// Prepare computes phonetic codes for every entry once. Blank entries are
// dropped.
func Prepare(words []string) *Vocabulary {
	v := &Vocabulary{exact: make(map[string]struct{}, len(words))}
	for _, w := range words {
		lower := strings.ToLower(strings.TrimSpace(w))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		v.terms = append(v.terms, Term{
			Text:   strings.TrimSpace(w),
			lower:  strings.Join(tokens, " "),
			tokens: tokens,
			codes:  codesFor(tokens),
		})
		for _, tok := range tokens {
			v.exact[tok] = struct{}{}
		}
	}
	return v
}

// Len returns the number of terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// Terms returns the prepared entries in configuration order.
func (v *Vocabulary) Terms() []Term { return v.terms }

// Known reports whether token is, case-insensitively, a word of any term.
func (v *Vocabulary) Known(token string) bool {
	_, ok := v.exact[strings.ToLower(token)]
	return ok
}

// Match finds the vocabulary term most similar to phrase. Only terms with the
// same word count as phrase are considered, so a match never swallows
// neighbouring words.
//
// When matched is false, corrected equals phrase and confidence is 0.
func (m *Matcher) Match(phrase string, v *Vocabulary) (corrected string, confidence float64, matched bool) {
	if v == nil || v.Len() == 0 || strings.TrimSpace(phrase) == "" {
		return phrase, 0, false
	}
	tokens := strings.Fields(strings.ToLower(phrase))
	lower := strings.Join(tokens, " ")
	codes := codesFor(tokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range v.terms {
		if len(t.tokens) != len(tokens) {
			continue
		}
		score := similarity(lower, t.lower, tokens, t.tokens)
		if overlaps(codes, t.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = t.Text, score, true
			}
			continue
		}
		if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = t.Text, score
		}
	}
	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, 2*len(tokens))
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity compares the full phrases and, for multi-word phrases, the
// space-stripped forms, so a word boundary heard in the wrong place costs
// little.
func similarity(a, b string, aTokens, bTokens []string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	if len(aTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}
	return score
}
