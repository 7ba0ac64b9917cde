package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/stt"
	"github.com/MrWong99/hark/pkg/provider/tts"
	"github.com/MrWong99/hark/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned when a config names a provider that
// has no registered factory.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories holds the constructors of one provider kind. C is the config
// section the constructor receives.
type factories[C, T any] struct {
	kind   string
	byName map[string]func(C) (T, error)
}

func newFactories[C, T any](kind string) factories[C, T] {
	return factories[C, T]{kind: kind, byName: make(map[string]func(C) (T, error))}
}

// lookup returns the factory for name, or an error naming what is available.
func (f factories[C, T]) lookup(name string) (func(C) (T, error), error) {
	if fn, ok := f.byName[name]; ok {
		return fn, nil
	}
	known := make([]string, 0, len(f.byName))
	for n := range f.byName {
		known = append(known, n)
	}
	slices.Sort(known)
	return nil, fmt.Errorf("%w: %s/%q (registered: %s)", ErrProviderNotRegistered, f.kind, name, strings.Join(known, ", "))
}

func (f factories[C, T]) check(name string) error {
	_, err := f.lookup(name)
	return err
}

// Registry maps the provider names used in a hark config to constructors:
// recognizers and speech synthesizers by [ProviderEntry.Name], the VAD by
// capture.vad.name, and the microphone and speaker by audio.source and
// audio.sink. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	stt    factories[ProviderEntry, stt.Recognizer]
	tts    factories[ProviderEntry, tts.Provider]
	vad    factories[ProviderEntry, vad.Engine]
	source factories[AudioConfig, audio.Source]
	sink   factories[AudioConfig, audio.Sink]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:    newFactories[ProviderEntry, stt.Recognizer]("stt"),
		tts:    newFactories[ProviderEntry, tts.Provider]("tts"),
		vad:    newFactories[ProviderEntry, vad.Engine]("vad"),
		source: newFactories[AudioConfig, audio.Source]("source"),
		sink:   newFactories[AudioConfig, audio.Sink]("sink"),
	}
}

func register[C, T any](r *Registry, f factories[C, T], name string, fn func(C) (T, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.byName[name] = fn
}

func create[C, T any](r *Registry, f factories[C, T], name string, cfg C) (T, error) {
	r.mu.RLock()
	fn, err := f.lookup(name)
	r.mu.RUnlock()
	if err != nil {
		var zero T
		return zero, err
	}
	return fn(cfg)
}

// RegisterSTT registers a recognizer factory under name. A later
// registration with the same name replaces the earlier one; the same holds
// for every Register method.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Recognizer, error)) {
	register(r, r.stt, name, factory)
}

// RegisterTTS registers a speech synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	register(r, r.tts, name, factory)
}

// RegisterVAD registers a voice activity detector factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	register(r, r.vad, name, factory)
}

// RegisterSource registers a microphone factory under name.
func (r *Registry) RegisterSource(name string, factory func(AudioConfig) (audio.Source, error)) {
	register(r, r.source, name, factory)
}

// RegisterSink registers a speaker factory under name.
func (r *Registry) RegisterSink(name string, factory func(AudioConfig) (audio.Sink, error)) {
	register(r, r.sink, name, factory)
}

// CreateSTT builds the recognizer registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Recognizer, error) {
	return create(r, r.stt, entry.Name, entry)
}

// CreateTTS builds the speech synthesizer registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, entry.Name, entry)
}

// CreateVAD builds the voice activity detector registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	return create(r, r.vad, entry.Name, entry)
}

// CreateSource builds the microphone named by cfg.Source.
func (r *Registry) CreateSource(cfg AudioConfig) (audio.Source, error) {
	return create(r, r.source, cfg.Source, cfg)
}

// CreateSink builds the speaker named by cfg.Sink.
func (r *Registry) CreateSink(cfg AudioConfig) (audio.Sink, error) {
	return create(r, r.sink, cfg.Sink, cfg)
}

// Check reports every provider cfg names that has no factory, before any
// device is opened or model loaded. Speech synthesizers and the sink are
// only checked when audio.sink is not "none".
func (r *Registry) Check(cfg *Config) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, label := range cfg.Recognition.RecognizerOrder {
		if err := r.stt.check(cfg.Recognition.Backends[label].Name); err != nil {
			errs = append(errs, fmt.Errorf("recognition.backends.%s: %w", label, err))
		}
	}
	if cfg.Audio.Sink != "none" {
		for _, entry := range append([]ProviderEntry{cfg.Response.TTS}, cfg.Response.Fallbacks...) {
			errs = append(errs, r.tts.check(entry.Name))
		}
		errs = append(errs, r.sink.check(cfg.Audio.Sink))
	}
	errs = append(errs, r.vad.check(cfg.Capture.VAD.Name), r.source.check(cfg.Audio.Source))
	return errors.Join(errs...)
}
