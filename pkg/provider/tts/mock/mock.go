// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return canned speech and to verify the text and voice the
// response stage passes to the TTS backend.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hark/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Speech is returned from Synthesize. When Speech.PCM is nil, one 10 ms
	// silent mono frame at 16 kHz is returned.
	Speech tts.Speech

	// SynthesizeErr, if non-nil, is returned from Synthesize.
	SynthesizeErr error

	// ListVoicesResult is returned from ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned from ListVoices.
	ListVoicesErr error

	// --- Recorded calls ---

	SynthesizeCalls     []SynthesizeCall
	CallCountListVoices int
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(_ context.Context, text string, voice tts.VoiceProfile) (tts.Speech, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	if p.SynthesizeErr != nil {
		return tts.Speech{}, p.SynthesizeErr
	}
	if p.Speech.PCM == nil {
		return tts.Speech{PCM: make([]byte, 320), SampleRate: 16000, Channels: 1}, nil
	}
	return p.Speech, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountListVoices++
	return p.ListVoicesResult, p.ListVoicesErr
}

// Texts returns the texts passed to Synthesize in call order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}
