// Package respond turns dispatch results into speech.
//
// The [Composer] shapes a [skill.Result] into a [Response] carrying the text
// to speak and the voice to speak it with. Optional per-intent [Templates]
// reword a result from its structured data. The [Speaker] synthesizes a
// Response through a [tts.Provider] and plays it on an [audio.Sink]. The
// Speaker doubles as the [skill.Announcer] used by skills that need to talk
// outside of a command cycle, such as a firing timer.
package respond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"text/template"

	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/skill"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/tts"
)

// Response is the payload handed to speech synthesis.
type Response struct {
	Message string
	Voice   tts.VoiceProfile
}

// Templates reword results per intent. The outer key is an intent name. The
// inner key is a status: "success", "failure", or "success_<status>" for a
// successful result whose Data["status"] is a string, e.g. "success_running"
// for a running timer.
//
// A template sees the result's Data plus "message" (the skill's own text) and
// "intent".
type Templates map[string]map[string]*template.Template

// CompileTemplates parses template sources laid out like [Templates].
func CompileTemplates(src map[string]map[string]string) (Templates, error) {
	out := make(Templates, len(src))
	for intentName, byStatus := range src {
		out[intentName] = make(map[string]*template.Template, len(byStatus))
		for status, text := range byStatus {
			t, err := template.New(intentName + "/" + status).Option("missingkey=error").Parse(text)
			if err != nil {
				return nil, fmt.Errorf("respond: template %s/%s: %w", intentName, status, err)
			}
			out[intentName][status] = t
		}
	}
	return out, nil
}

// lookup picks the template for result, most specific status first.
func (t Templates) lookup(intentName string, result skill.Result) *template.Template {
	byStatus := t[intentName]
	if byStatus == nil {
		return nil
	}
	if !result.Success {
		return byStatus["failure"]
	}
	if st, ok := result.Data["status"].(string); ok {
		if tmpl := byStatus["success_"+st]; tmpl != nil {
			return tmpl
		}
	}
	return byStatus["success"]
}

// ComposerOption configures a [Composer].
type ComposerOption func(*Composer)

// WithTemplates rewords results for the intents t covers.
func WithTemplates(t Templates) ComposerOption {
	return func(c *Composer) { c.templates = t }
}

// Composer builds Responses with a fixed voice.
type Composer struct {
	voice     tts.VoiceProfile
	templates Templates
}

// NewComposer returns a Composer that speaks with voice.
func NewComposer(voice tts.VoiceProfile, opts ...ComposerOption) *Composer {
	c := &Composer{voice: voice}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Compose returns the Response for result. Whitespace is collapsed, and an
// empty message is replaced with the generic failure message so that a cycle
// never ends in silence.
func (c *Composer) Compose(result skill.Result) Response {
	return c.Text(result.Message)
}

// ComposeFor is like [Composer.Compose] but applies the template configured
// for intentName. A template that fails to render, for example because it
// names a key the result does not carry, falls back to the skill's message.
func (c *Composer) ComposeFor(intentName string, result skill.Result) Response {
	tmpl := c.templates.lookup(intentName, result)
	if tmpl == nil {
		return c.Compose(result)
	}
	data := make(map[string]any, len(result.Data)+2)
	for k, v := range result.Data {
		data[k] = v
	}
	data["message"] = result.Message
	data["intent"] = intentName

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		slog.Warn("response template failed, using skill message", "template", tmpl.Name(), "err", err)
		return c.Compose(result)
	}
	return c.Text(b.String())
}

// Text returns the Response for a bare message.
func (c *Composer) Text(message string) Response {
	msg := strings.Join(strings.Fields(message), " ")
	if msg == "" {
		msg = skill.MsgFailure
	}
	return Response{Message: msg, Voice: c.voice}
}

// ErrNoSink is returned by [Speaker.Speak] when no sink is configured.
var ErrNoSink = errors.New("respond: no audio sink")

// SpeakerOption configures a [Speaker].
type SpeakerOption func(*Speaker)

// WithMetrics records one provider request per synthesis.
func WithMetrics(m *observe.Metrics) SpeakerOption {
	return func(s *Speaker) { s.metrics = m }
}

// WithProviderName labels the synthesis metrics. Defaults to "tts".
func WithProviderName(name string) SpeakerOption {
	return func(s *Speaker) { s.providerName = name }
}

var _ skill.Announcer = (*Speaker)(nil)

// Speaker synthesizes Responses and plays them. Playback is serialized: a
// timer announcement that arrives while a command response is playing waits
// for it to finish.
type Speaker struct {
	provider     tts.Provider
	sink         audio.Sink
	composer     *Composer
	metrics      *observe.Metrics
	providerName string

	playMu sync.Mutex
}

// NewSpeaker returns a Speaker that renders with provider, plays on sink,
// and shapes announcements with composer.
func NewSpeaker(provider tts.Provider, sink audio.Sink, composer *Composer, opts ...SpeakerOption) *Speaker {
	s := &Speaker{
		provider:     provider,
		sink:         sink,
		composer:     composer,
		providerName: "tts",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Speak synthesizes r and plays it. It blocks until playback has been handed
// to the sink or ctx is cancelled.
func (s *Speaker) Speak(ctx context.Context, r Response) error {
	if s.sink == nil {
		return ErrNoSink
	}
	speech, err := s.provider.Synthesize(ctx, r.Message, r.Voice)
	s.record(ctx, err)
	if err != nil {
		return fmt.Errorf("respond: synthesize: %w", err)
	}
	if len(speech.PCM) == 0 {
		observe.Logger(ctx).Warn("tts returned no audio", "message", r.Message)
		return nil
	}

	s.playMu.Lock()
	defer s.playMu.Unlock()
	if err := s.sink.Play(ctx, speech.PCM, speech.SampleRate, speech.Channels); err != nil {
		return fmt.Errorf("respond: play: %w", err)
	}
	observe.Logger(ctx).Debug("response spoken", "chars", len(r.Message), "duration", speech.Duration())
	return nil
}

// Announce implements [skill.Announcer].
func (s *Speaker) Announce(ctx context.Context, message string) error {
	slog.Info("announcement", "message", message)
	return s.Speak(ctx, s.composer.Text(message))
}

func (s *Speaker) record(ctx context.Context, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordProviderRequest(ctx, s.providerName, "tts", status)
}
