// Package coqui provides a TTS provider backed by a locally running Coqui TTS
// server, keeping response synthesis offline.
//
// Two server flavours are supported:
//
//   - [APIModeStandard] talks to the stock "tts-server" (GET /api/tts).
//   - [APIModeXTTS] talks to an xtts-api-server (POST /tts_to_audio/) where the
//     voice ID names a studio speaker or reference WAV.
//
// Both return WAV, which is decoded and optionally resampled to the output
// rate configured with [WithOutputSampleRate].
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/audio/wavfile"
	"github.com/MrWong99/hark/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	xttsEndpoint           = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"
)

// APIMode selects the server API flavour.
type APIMode string

const (
	// APIModeXTTS targets xtts-api-server.
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the stock Coqui tts-server. This is the default.
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the synthesis language. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the HTTP client timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode selects the server flavour.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithOutputSampleRate resamples synthesized audio to rate. 0 keeps the
// server's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// Provider implements tts.Provider against a Coqui server.
type Provider struct {
	serverURL  string
	language   string
	apiMode    APIMode
	outputRate int
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Speech, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Speech{}, errors.New("coqui: text must not be empty")
	}

	var (
		req *http.Request
		err error
	)
	switch p.apiMode {
	case APIModeXTTS:
		if voice.ID == "" {
			return tts.Speech{}, errors.New("coqui: voice.ID must not be empty in XTTS mode")
		}
		body, _ := json.Marshal(map[string]string{
			"text":        text,
			"speaker_wav": voice.ID,
			"language":    p.language,
		})
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsEndpoint, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		q := url.Values{}
		q.Set("text", text)
		if voice.ID != "" {
			q.Set("speaker_id", voice.ID)
		}
		if p.language != "" {
			q.Set("language_id", p.language)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+q.Encode(), nil)
	}
	if err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return tts.Speech{}, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	pcm, format, err := wavfile.Unmarshal(data)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: %w", err)
	}
	if p.outputRate > 0 && format.SampleRate != p.outputRate {
		pcm = audio.Resample16(pcm, format.Channels, format.SampleRate, p.outputRate)
		format.SampleRate = p.outputRate
	}
	return tts.Speech{PCM: pcm, SampleRate: format.SampleRate, Channels: format.Channels}, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if p.apiMode == APIModeXTTS {
		var raw map[string]json.RawMessage
		if err := p.getJSON(ctx, studioSpeakersEndpoint, &raw); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(raw))
		for name := range raw {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]tts.VoiceProfile, 0, len(names))
		for _, n := range names {
			out = append(out, tts.VoiceProfile{ID: n, Name: n, Provider: "coqui", Metadata: map[string]string{"type": "studio"}})
		}
		return out, nil
	}

	var details struct {
		ModelName string   `json:"model_name"`
		Speakers  []string `json:"speakers"`
	}
	if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
		return nil, err
	}
	if len(details.Speakers) == 0 {
		name := details.ModelName
		if name == "" {
			name = "default"
		}
		return []tts.VoiceProfile{{ID: name, Name: name, Provider: "coqui", Metadata: map[string]string{"type": "single-speaker"}}}, nil
	}
	speakers := append([]string(nil), details.Speakers...)
	sort.Strings(speakers)
	out := make([]tts.VoiceProfile, 0, len(speakers))
	for _, s := range speakers {
		out = append(out, tts.VoiceProfile{
			ID:       s,
			Name:     s,
			Provider: "coqui",
			Metadata: map[string]string{"type": "speaker", "model_name": details.ModelName},
		})
	}
	return out, nil
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", endpoint, err)
	}
	return nil
}
