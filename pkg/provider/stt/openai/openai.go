// Package openai provides an online recognizer backed by the OpenAI audio
// transcription API (whisper-1, gpt-4o-transcribe and compatible servers).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/audio/wavfile"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = oai.AudioModelWhisper1

// defaultConfidence is reported for models that return no log-probabilities.
const defaultConfidence = 0.85

var _ stt.Recognizer = (*Provider)(nil)

// Provider implements stt.Recognizer using the OpenAI API.
type Provider struct {
	client   oai.Client
	model    string
	language string
	prompt   string
}

type config struct {
	baseURL  string
	language string
	prompt   string
	timeout  time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Any server that
// implements POST /audio/transcriptions works.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets the ISO-639-1 language hint.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithPrompt biases recognition towards the given vocabulary.
func WithPrompt(prompt string) Option {
	return func(c *config) { c.prompt = prompt }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI transcription Provider. If model is empty,
// DefaultModel is used.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// The arbitrator owns retry policy; a retried request would blow the
		// per-backend budget.
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
		prompt:   cfg.prompt,
	}, nil
}

// Name implements stt.Recognizer.
func (p *Provider) Name() string { return "openai" }

// Transcribe implements stt.Recognizer.
func (p *Provider) Transcribe(ctx context.Context, seg audio.Segment) (stt.Result, error) {
	if err := stt.CheckSegment(p.Name(), seg); err != nil {
		return stt.Result{}, err
	}
	wav, err := wavfile.Marshal(seg.PCM(), seg.SampleRate, seg.Channels)
	if err != nil {
		return stt.Result{}, stt.Unavailable(p.Name(), fmt.Errorf("openai stt: encode wav: %w", err))
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: p.model,
	}
	if p.language != "" {
		params.Language = oai.String(p.language)
	}
	if p.prompt != "" {
		params.Prompt = oai.String(p.prompt)
	}
	if supportsLogprobs(p.model) {
		params.Include = []oai.TranscriptionInclude{oai.TranscriptionIncludeLogprobs}
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, stt.Classify(ctx, p.Name(), fmt.Errorf("openai stt: transcribe: %w", err))
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return stt.Result{}, stt.EmptyInput(p.Name())
	}
	return stt.Result{Text: text, Confidence: confidence(resp.Logprobs)}, nil
}

// supportsLogprobs reports whether the model can return token logprobs.
func supportsLogprobs(model string) bool {
	return strings.HasPrefix(model, "gpt-4o")
}

// confidence is the geometric-mean token probability, exp(mean logprob).
func confidence(lps []oai.TranscriptionLogprob) float64 {
	if len(lps) == 0 {
		return defaultConfidence
	}
	var sum float64
	for _, lp := range lps {
		sum += lp.Logprob
	}
	return stt.Clamp01(math.Exp(sum / float64(len(lps))))
}
