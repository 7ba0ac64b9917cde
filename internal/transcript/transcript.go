// Package transcript repairs recognizer output before intent parsing.
//
// Recognizers routinely mishear product names, room names, and other words a
// household configures for its skills. The [Corrector] walks a transcript and
// replaces word windows that sound like a configured vocabulary term with the
// term itself. A word that already appears in the vocabulary is never replaced
// on its own.
package transcript

// Correction captures a single substitution.
type Correction struct {
	// Original is the text as produced by the recognizer.
	Original string

	// Corrected is the vocabulary term that replaced it.
	Corrected string

	// Confidence is the similarity score of the substitution (0.0 to 1.0).
	Confidence float64
}

// Corrected is the output of [Corrector.Correct].
type Corrected struct {
	// Original is the transcript text as received.
	Original string

	// Text is the transcript with all substitutions applied.
	Text string

	// Corrections lists the substitutions in transcript order. Empty (non-nil)
	// when nothing changed.
	Corrections []Correction
}

// Changed reports whether any substitution was made.
func (c Corrected) Changed() bool { return len(c.Corrections) > 0 }
