// Package deepgram provides an online recognizer backed by the Deepgram
// streaming WebSocket API.
//
// Each Transcribe call opens one WebSocket session, streams the captured
// segment in 100 ms chunks, asks Deepgram to flush with a CloseStream message
// and collects every final result until the server closes the connection.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkMs is the amount of audio sent per WebSocket binary message.
	chunkMs = 100
)

var _ stt.Recognizer = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g., "nova-3", "nova-2"). Defaults to
// "nova-3".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the recognition language. Defaults to "en".
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithKeywords boosts recognition of the given words, typically the command
// vocabulary ("timer", "alarm").
func WithKeywords(keywords ...string) Option {
	return func(p *Provider) { p.keywords = append(p.keywords, keywords...) }
}

// WithEndpoint overrides the WebSocket endpoint. Used by tests and for
// self-hosted Deepgram deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements stt.Recognizer using Deepgram.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	language string
	keywords []string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Recognizer.
func (p *Provider) Name() string { return "deepgram" }

// Transcribe implements stt.Recognizer.
func (p *Provider) Transcribe(ctx context.Context, seg audio.Segment) (stt.Result, error) {
	if err := stt.CheckSegment(p.Name(), seg); err != nil {
		return stt.Result{}, err
	}
	res, err := p.transcribe(ctx, seg)
	if err != nil {
		return stt.Result{}, stt.Classify(ctx, p.Name(), err)
	}
	if res.Text == "" {
		return stt.Result{}, stt.EmptyInput(p.Name())
	}
	return res, nil
}

func (p *Provider) transcribe(ctx context.Context, seg audio.Segment) (stt.Result, error) {
	wsURL, err := p.buildURL(seg.SampleRate, seg.Channels)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: build URL: %w", err)
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	writeErr := make(chan error, 1)
	go func() { writeErr <- p.send(ctx, conn, seg) }()

	var (
		parts []string
		words []stt.WordDetail
		conf  float64
		n     int
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return stt.Result{}, fmt.Errorf("deepgram: read: %w", err)
		}
		r, ok := parseDeepgramResponse(msg)
		if !ok || !r.final {
			continue
		}
		if r.Text != "" {
			parts = append(parts, r.Text)
			words = append(words, r.Words...)
			conf += r.Confidence
			n++
		}
	}
	if err := <-writeErr; err != nil {
		return stt.Result{}, err
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")

	res := stt.Result{Text: strings.TrimSpace(strings.Join(parts, " ")), Words: words}
	if n > 0 {
		res.Confidence = stt.Clamp01(conf / float64(n))
	}
	return res, nil
}

// send streams seg and then asks the server to flush and close.
func (p *Provider) send(ctx context.Context, conn *websocket.Conn, seg audio.Segment) error {
	pcm := seg.PCM()
	step := seg.SampleRate * seg.Channels * 2 * chunkMs / 1000
	if step <= 0 {
		step = len(pcm)
	}
	for off := 0; off < len(pcm); off += step {
		end := min(off+step, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: write close stream: %w", err)
	}
	return nil
}

// buildURL constructs the streaming endpoint URL for the segment format.
func (p *Provider) buildURL(sampleRate, channels int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	if channels > 0 {
		q.Set("channels", strconv.Itoa(channels))
	}
	for _, kw := range p.keywords {
		q.Add("keyterm", kw)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- response parsing ------------------------------------------------------

// deepgramResponse is the JSON shape of a Deepgram Results message.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type result struct {
	stt.Result
	final bool
}

// parseDeepgramResponse decodes a Results message. Other message types
// (Metadata, SpeechStarted, UtteranceEnd) return ok=false.
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}
	alt := resp.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}
	return result{
		Result: stt.Result{
			Text:       strings.TrimSpace(alt.Transcript),
			Confidence: alt.Confidence,
			Words:      words,
		},
		final: resp.IsFinal,
	}, true
}
