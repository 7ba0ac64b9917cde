// Package whisper provides offline speech recognition backed by whisper.cpp.
//
// Two recognizers are available:
//
//   - [Provider] talks to a local whisper-server binary over its REST API
//     (POST /inference). The audio never leaves the machine.
//   - [NativeProvider] loads a ggml model in-process through the CGO bindings
//     and avoids the HTTP hop entirely.
//
// Both implement [stt.Recognizer] and transcribe one captured command segment
// per call. whisper.cpp is a batch engine, which fits the pipeline's
// transcribe-after-end-of-speech flow.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	res, err := p.Transcribe(ctx, segment)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/audio/wavfile"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

const (
	defaultLanguage = "en"

	// defaultConfidence is reported when the server response carries no
	// per-segment log-probabilities (older whisper-server builds).
	defaultConfidence = 0.8
)

// Compile-time assertion that Provider implements stt.Recognizer.
var _ stt.Recognizer = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithDefaultConfidence sets the confidence reported when the server does not
// return log-probabilities.
func WithDefaultConfidence(c float64) Option {
	return func(p *Provider) { p.defaultConfidence = stt.Clamp01(c) }
}

// WithHTTPClient replaces the HTTP client. The per-call deadline comes from
// the context passed to Transcribe.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Recognizer backed by a local whisper.cpp HTTP server.
type Provider struct {
	serverURL         string
	model             string
	language          string
	defaultConfidence float64
	httpClient        *http.Client
}

// New creates a Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:         strings.TrimSuffix(serverURL, "/"),
		language:          defaultLanguage,
		defaultConfidence: defaultConfidence,
		httpClient:        &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Recognizer.
func (p *Provider) Name() string { return "whisper" }

// Transcribe implements stt.Recognizer. The segment is uploaded as a WAV file
// with response_format=verbose_json so the server reports per-segment
// log-probabilities, which are turned into a confidence score.
func (p *Provider) Transcribe(ctx context.Context, seg audio.Segment) (stt.Result, error) {
	if err := stt.CheckSegment(p.Name(), seg); err != nil {
		return stt.Result{}, err
	}
	res, err := p.infer(ctx, seg)
	if err != nil {
		return stt.Result{}, stt.Classify(ctx, p.Name(), err)
	}
	if res.Text == "" {
		return stt.Result{}, stt.EmptyInput(p.Name())
	}
	return res, nil
}

// inferenceResponse covers both the plain {"text": ...} response and the
// verbose_json variant.
type inferenceResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text       string  `json:"text"`
		AvgLogprob *float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func (p *Provider) infer(ctx context.Context, seg audio.Segment) (stt.Result, error) {
	wav, err := wavfile.Marshal(seg.PCM(), seg.SampleRate, seg.Channels)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: encode wav: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := map[string]string{
		"response_format": "verbose_json",
		"language":        p.language,
		"model":           p.model,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Result{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: read response body: %w", err)
	}
	var parsed inferenceResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return stt.Result{
		Text:       strings.TrimSpace(parsed.Text),
		Confidence: p.confidence(parsed),
	}, nil
}

// confidence maps the mean segment avg_logprob to [0, 1] via exp.
func (p *Provider) confidence(r inferenceResponse) float64 {
	var sum float64
	n := 0
	for _, s := range r.Segments {
		if s.AvgLogprob == nil {
			continue
		}
		sum += *s.AvgLogprob
		n++
	}
	if n == 0 {
		return p.defaultConfidence
	}
	return stt.Clamp01(math.Exp(sum / float64(n)))
}
