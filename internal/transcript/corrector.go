package transcript

import (
	"log/slog"
	"strings"

	"github.com/MrWong99/hark/internal/transcript/phonetic"
)

const defaultMinTokenLen = 3

// Option configures a [Corrector].
type Option func(*Corrector)

// WithMatcher replaces the default phonetic matcher.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(c *Corrector) {
		c.matcher = m
	}
}

// WithMinTokenLen sets the shortest single word that may be corrected.
// Short function words ("on", "it") sound like too many things. Default: 3.
func WithMinTokenLen(n int) Option {
	return func(c *Corrector) {
		c.minTokenLen = n
	}
}

// Corrector snaps misheard words onto a fixed vocabulary. It is immutable after
// construction and safe for concurrent use. A Corrector with an empty
// vocabulary returns every transcript unchanged.
type Corrector struct {
	matcher     *phonetic.Matcher
	vocab       *phonetic.Vocabulary
	maxWords    int
	minTokenLen int
}

// NewCorrector prepares vocabulary for matching.
func NewCorrector(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		vocab:       phonetic.Prepare(vocabulary),
		minTokenLen: defaultMinTokenLen,
	}
	for _, o := range opts {
		o(c)
	}
	if c.matcher == nil {
		c.matcher = phonetic.New()
	}
	for _, t := range c.vocab.Terms() {
		c.maxWords = max(c.maxWords, t.Words())
	}
	return c
}

// Correct returns text with misheard vocabulary replaced.
//
// At each position the longest window is tried first so that multi-word terms
// win over partial single-word matches. A window made only of vocabulary words
// is left alone.
func (c *Corrector) Correct(text string) Corrected {
	out := Corrected{Original: text, Text: text, Corrections: []Correction{}}
	tokens := strings.Fields(text)
	if len(tokens) == 0 || c.maxWords == 0 {
		return out
	}

	result := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		n := c.matchAt(tokens[i:], &out)
		if n == 0 {
			result = append(result, tokens[i])
			i++
			continue
		}
		last := out.Corrections[len(out.Corrections)-1]
		result = append(result, last.Corrected)
		i += n
	}
	out.Text = strings.Join(result, " ")
	if out.Changed() {
		slog.Debug("transcript corrected", "original", text, "corrected", out.Text, "corrections", len(out.Corrections))
	}
	return out
}

// matchAt tries windows starting at tokens[0], longest first, and returns the
// number of tokens consumed by a match (0 when none matched).
func (c *Corrector) matchAt(tokens []string, out *Corrected) int {
	for n := min(c.maxWords, len(tokens)); n >= 1; n-- {
		window := tokens[:n]
		if !c.eligible(window) {
			continue
		}
		phrase := strings.Join(window, " ")
		term, conf, ok := c.matcher.Match(phrase, c.vocab)
		if !ok {
			continue
		}
		out.Corrections = append(out.Corrections, Correction{
			Original:   phrase,
			Corrected:  term,
			Confidence: conf,
		})
		return n
	}
	return 0
}

// eligible rejects windows made only of vocabulary words and windows too short
// to carry a reliable phonetic code.
func (c *Corrector) eligible(window []string) bool {
	letters, known := 0, 0
	for _, w := range window {
		if c.vocab.Known(w) {
			known++
		}
		letters += len(w)
	}
	return known < len(window) && letters >= c.minTokenLen
}
