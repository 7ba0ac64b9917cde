// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Recognizer.
var _ stt.Recognizer = (*NativeProvider)(nil)

// NativeProvider implements stt.Recognizer using the whisper.cpp Go bindings.
// The model is loaded once at startup. whisper contexts are not thread-safe,
// so inference is serialised; a voice pipeline transcribes one command at a
// time anyway.
type NativeProvider struct {
	mu       sync.Mutex
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language code for transcription. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative loads the whisper.cpp model at modelPath. A missing model is a
// load-time error. The caller must call Close when the provider is no longer
// needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Recognizer.
func (p *NativeProvider) Name() string { return "whisper-native" }

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Recognizer. Inference runs in a goroutine so that
// the call returns as soon as ctx is done; the abandoned inference finishes in
// the background and its result is discarded.
func (p *NativeProvider) Transcribe(ctx context.Context, seg audio.Segment) (stt.Result, error) {
	if err := stt.CheckSegment(p.Name(), seg); err != nil {
		return stt.Result{}, err
	}
	mono := seg.PCM()
	if seg.Channels == 2 {
		mono = audio.StereoToMono(mono)
	}
	samples := audio.Float32s(mono)

	type outcome struct {
		res stt.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := p.infer(samples)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		return stt.Result{}, stt.Classify(ctx, p.Name(), ctx.Err())
	case o := <-done:
		if o.err != nil {
			return stt.Result{}, stt.Unavailable(p.Name(), o.err)
		}
		if o.res.Text == "" {
			return stt.Result{}, stt.EmptyInput(p.Name())
		}
		return o.res, nil
	}
}

// infer runs whisper.cpp on a fresh context and returns the concatenated
// segment text with the mean token probability as confidence.
func (p *NativeProvider) infer(samples []float32) (stt.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", p.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts  []string
		probs  float64
		tokens int
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
		for _, tok := range segment.Tokens {
			probs += float64(tok.P)
			tokens++
		}
	}
	conf := defaultConfidence
	if tokens > 0 {
		conf = stt.Clamp01(probs / float64(tokens))
	}
	return stt.Result{Text: strings.Join(parts, " "), Confidence: conf}, nil
}
