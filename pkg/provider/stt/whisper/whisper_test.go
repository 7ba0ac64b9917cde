package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/stt"
	"github.com/MrWong99/hark/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// speechSegment returns a 200 ms, 440 Hz sine segment at 16 kHz mono.
func speechSegment() audio.Segment {
	samples := make([]int16, 3200)
	for i := range samples {
		samples[i] = int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	var seg audio.Segment
	seg.Append(audio.AudioFrame{Data: audio.Bytes(samples), SampleRate: 16000, Channels: 1})
	return seg
}

// newMockServer responds to POST /inference with body and records the parsed
// form fields of the last request.
func newMockServer(t *testing.T, body any, fields *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		if fields != nil {
			fields.Store(r.MultipartForm.Value)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions(t *testing.T) {
	p, err := whisper.New("http://localhost:8080/",
		whisper.WithModel("small"),
		whisper.WithLanguage("de"),
		whisper.WithDefaultConfidence(0.6),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "whisper" {
		t.Errorf("Name() = %q, want whisper", p.Name())
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_PlainResponse_UsesDefaultConfidence(t *testing.T) {
	t.Parallel()

	var fields atomic.Value
	srv := newMockServer(t, map[string]string{"text": "  what time is it \n"}, &fields)
	p, _ := whisper.New(srv.URL, whisper.WithDefaultConfidence(0.7), whisper.WithLanguage("en"))

	res, err := p.Transcribe(context.Background(), speechSegment())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "what time is it" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Confidence != 0.7 {
		t.Errorf("Confidence = %v, want 0.7", res.Confidence)
	}
	got := fields.Load().(map[string][]string)
	if got["response_format"][0] != "verbose_json" || got["language"][0] != "en" {
		t.Errorf("unexpected form fields: %v", got)
	}
	if _, ok := got["model"]; ok {
		t.Error("model field should be omitted when unset")
	}
}

func TestTranscribe_VerboseResponse_DerivesConfidence(t *testing.T) {
	t.Parallel()

	body := map[string]any{
		"text": "set a timer for five minutes",
		"segments": []map[string]any{
			{"text": "set a timer", "avg_logprob": -0.1},
			{"text": "for five minutes", "avg_logprob": -0.3},
		},
	}
	srv := newMockServer(t, body, nil)
	p, _ := whisper.New(srv.URL)

	res, err := p.Transcribe(context.Background(), speechSegment())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if want := math.Exp(-0.2); math.Abs(res.Confidence-want) > 1e-9 {
		t.Errorf("Confidence = %v, want %v", res.Confidence, want)
	}
}

func TestTranscribe_EmptySegment_ReturnsEmptyInput(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), audio.Segment{})
	if kind, ok := stt.KindOf(err); !ok || kind != stt.KindEmptyInput {
		t.Fatalf("err = %v, want EmptyInput", err)
	}
	if calls.Load() != 0 {
		t.Error("server should not be called for an empty segment")
	}
}

func TestTranscribe_EmptyText_ReturnsEmptyInput(t *testing.T) {
	t.Parallel()

	srv := newMockServer(t, map[string]string{"text": "   "}, nil)
	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), speechSegment())
	if kind, ok := stt.KindOf(err); !ok || kind != stt.KindEmptyInput {
		t.Fatalf("err = %v, want EmptyInput", err)
	}
}

func TestTranscribe_ServerError_ReturnsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), speechSegment())
	if kind, ok := stt.KindOf(err); !ok || kind != stt.KindUnavailable {
		t.Fatalf("err = %v, want Unavailable", err)
	}
}

func TestTranscribe_SlowServer_ReturnsTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	p, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Transcribe(ctx, speechSegment())
	if kind, ok := stt.KindOf(err); !ok || kind != stt.KindTimeout {
		t.Fatalf("err = %v, want Timeout", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped DeadlineExceeded, got %v", err)
	}
}
