package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

func segment(ms int) audio.Segment {
	var seg audio.Segment
	seg.Append(audio.AudioFrame{Data: make([]byte, 32*ms), SampleRate: 16000, Channels: 1})
	seg.Frames[0].Data[0] = 1
	return seg
}

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	raw, err := p.buildURL(16000, 1)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	assertEqual(t, "host", "api.deepgram.com", u.Host)
	assertEqual(t, "model", defaultModel, q.Get("model"))
	assertEqual(t, "language", defaultLanguage, q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_Keywords(t *testing.T) {
	p, _ := New("k", WithKeywords("timer", "alarm"), WithModel("nova-2"), WithLanguage("de"))
	raw, _ := p.buildURL(16000, 1)
	u, _ := url.Parse(raw)
	q := u.Query()
	assertEqual(t, "model", "nova-2", q.Get("model"))
	assertEqual(t, "language", "de", q.Get("language"))
	kws := q["keyterm"]
	if len(kws) != 2 || kws[0] != "timer" || kws[1] != "alarm" {
		t.Errorf("keyterm = %v", kws)
	}
}

func TestParseDeepgramResponse_Final(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [{
				"transcript": " what time is it ",
				"confidence": 0.95,
				"words": [
					{"word": "what", "start": 0.1, "end": 0.3, "confidence": 0.97},
					{"word": "time", "start": 0.3, "end": 0.6, "confidence": 0.93}
				]
			}]
		}
	}`)
	r, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true for valid Results message")
	}
	if !r.final {
		t.Error("expected final=true")
	}
	assertEqual(t, "text", "what time is it", r.Text)
	if r.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", r.Confidence)
	}
	if len(r.Words) != 2 || r.Words[0].Start != 100*time.Millisecond {
		t.Errorf("unexpected words: %+v", r.Words)
	}
}

func TestParseDeepgramResponse_Ignored(t *testing.T) {
	for name, raw := range map[string]string{
		"metadata":     `{"type":"Metadata","request_id":"x"}`,
		"no alts":      `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
		"invalid json": `{not json`,
	} {
		if _, ok := parseDeepgramResponse([]byte(raw)); ok {
			t.Errorf("%s: expected ok=false", name)
		}
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// newFakeDeepgram serves a WebSocket that consumes audio until CloseStream and
// then replies with the given messages before closing normally.
func newFakeDeepgram(t *testing.T, replies []string, gotBytes *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			typ, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				gotBytes.Add(int64(len(msg)))
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				break
			}
		}
		for _, m := range replies {
			if err := conn.Write(ctx, websocket.MessageText, []byte(m)); err != nil {
				return
			}
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTranscribe_CollectsFinals(t *testing.T) {
	var got atomic.Int64
	srv := newFakeDeepgram(t, []string{
		`{"type":"Metadata"}`,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"set a","confidence":0.5}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"set a timer","confidence":0.9}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"for five minutes","confidence":0.7}]}}`,
	}, &got)

	p, _ := New("secret", WithEndpoint(wsURL(srv)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := p.Transcribe(ctx, segment(250))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "set a timer for five minutes", res.Text)
	if res.Confidence < 0.799 || res.Confidence > 0.801 {
		t.Errorf("confidence = %v, want 0.8", res.Confidence)
	}
	if got.Load() != 32*250 {
		t.Errorf("server received %d bytes, want %d", got.Load(), 32*250)
	}
}

func TestTranscribe_NoSpeech_ReturnsEmptyInput(t *testing.T) {
	var got atomic.Int64
	srv := newFakeDeepgram(t, []string{
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"","confidence":0}]}}`,
	}, &got)
	p, _ := New("secret", WithEndpoint(wsURL(srv)))

	_, err := p.Transcribe(context.Background(), segment(100))
	if kind, ok := stt.KindOf(err); !ok || kind != stt.KindEmptyInput {
		t.Fatalf("err = %v, want EmptyInput", err)
	}
}

func TestTranscribe_Unauthorized_ReturnsUnavailable(t *testing.T) {
	var got atomic.Int64
	srv := newFakeDeepgram(t, nil, &got)
	p, _ := New("wrong", WithEndpoint(wsURL(srv)))

	_, err := p.Transcribe(context.Background(), segment(100))
	if kind, ok := stt.KindOf(err); !ok || kind != stt.KindUnavailable {
		t.Fatalf("err = %v, want Unavailable", err)
	}
}

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
