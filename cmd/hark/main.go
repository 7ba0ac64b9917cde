// Command hark is the main entry point for the hark voice command assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/hark/internal/app"
	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/audio/portaudio"
	"github.com/MrWong99/hark/pkg/audio/wavfile"
	"github.com/MrWong99/hark/pkg/provider/stt"
	"github.com/MrWong99/hark/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/hark/pkg/provider/stt/openai"
	"github.com/MrWong99/hark/pkg/provider/stt/whisper"
	"github.com/MrWong99/hark/pkg/provider/tts"
	"github.com/MrWong99/hark/pkg/provider/tts/coqui"
	"github.com/MrWong99/hark/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/hark/pkg/provider/tts/polly"
	"github.com/MrWong99/hark/pkg/provider/vad"
	"github.com/MrWong99/hark/pkg/provider/vad/energy"
	"github.com/MrWong99/hark/pkg/provider/vad/spectral"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload live settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hark: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hark: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	slog.Info("hark starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	phrases := make([]string, 0, len(cfg.Wake.WakeWords))
	for _, w := range cfg.Wake.WakeWords {
		phrases = append(phrases, w.Phrase)
	}
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		Version:     version,
		WakePhrases: phrases,
		Recognizers: cfg.Recognition.RecognizerOrder,
		AudioSource: cfg.Audio.Source,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	// New owns the providers from here on and closes them if it fails.
	application, err := app.New(ctx, cfg, providers, app.WithLevelVar(levelVar))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, application.ApplyChange)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("listening for wake words, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with hark. Used for startup logging.
var builtinProviders = map[string][]string{
	"stt":    {"whisper", "whisper-native", "deepgram", "openai"},
	"tts":    {"coqui", "elevenlabs", "polly"},
	"vad":    {"energy", "spectral"},
	"source": {"portaudio", "file"},
	"sink":   {"portaudio", "none"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives its config block and constructs the provider from
// the real implementation package.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if c, ok := entry.FloatOption("default_confidence"); ok {
			opts = append(opts, whisper.WithDefaultConfidence(c))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.StringOption("model_path")
		}
		var opts []whisper.NativeOption
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if kw := optStrings(entry.Options, "keywords"); len(kw) > 0 {
			opts = append(opts, deepgram.WithKeywords(kw...))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		if prompt := entry.StringOption("prompt"); prompt != "" {
			opts = append(opts, oastt.WithPrompt(prompt))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.StringOption("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if rate, ok := entry.FloatOption("output_sample_rate"); ok {
			opts = append(opts, coqui.WithOutputSampleRate(int(rate)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.StringOption("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("polly", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []polly.Option
		if region := entry.StringOption("region"); region != "" {
			opts = append(opts, polly.WithRegion(region))
		}
		if engine := entry.StringOption("engine"); engine != "" {
			opts = append(opts, polly.WithEngine(engine))
		}
		if rate, ok := entry.FloatOption("sample_rate"); ok {
			opts = append(opts, polly.WithSampleRate(int(rate)))
		}
		return polly.New(opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if ref, ok := entry.FloatOption("ref_level"); ok {
			opts = append(opts, energy.WithRefLevel(ref))
		}
		return energy.New(opts...), nil
	})

	reg.RegisterVAD("spectral", func(entry config.ProviderEntry) (vad.Engine, error) {
		ref, _ := entry.FloatOption("ref_level")
		return spectral.New(ref), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterSource("portaudio", func(ac config.AudioConfig) (audio.Source, error) {
		return portaudio.OpenSource(ac.SampleRate, ac.Channels, ac.FrameMs)
	})

	reg.RegisterSource("file", func(ac config.AudioConfig) (audio.Source, error) {
		var opts []wavfile.Option
		if ac.Realtime {
			opts = append(opts, wavfile.WithRealtime())
		}
		target := audio.Format{SampleRate: ac.SampleRate, Channels: ac.Channels}
		return wavfile.Open(afero.NewOsFs(), ac.File, target, ac.FrameMs, opts...)
	})

	reg.RegisterSink("portaudio", func(ac config.AudioConfig) (audio.Sink, error) {
		return portaudio.OpenSink(ac.SampleRate, ac.Channels)
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// Unknown provider names are all reported before anything is opened; on a
// later error, whatever was already opened is closed again.
func buildProviders(cfg *config.Config, reg *config.Registry) (_ *app.Providers, err error) {
	if err := reg.Check(cfg); err != nil {
		return nil, err
	}
	ps := &app.Providers{}
	defer func() {
		if err == nil {
			return
		}
		if cerr := ps.Close(); cerr != nil {
			slog.Warn("closing partially built providers", "err", cerr)
		}
	}()

	for _, label := range cfg.Recognition.RecognizerOrder {
		entry := cfg.Recognition.Backends[label]
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", label, err)
		}
		ps.Recognizers = append(ps.Recognizers, p)
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "label", label)
	}

	if cfg.Audio.Sink != "none" {
		for _, entry := range append([]config.ProviderEntry{cfg.Response.TTS}, cfg.Response.Fallbacks...) {
			p, err := reg.CreateTTS(entry)
			if err != nil {
				return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
			}
			ps.TTS = append(ps.TTS, app.NamedTTS{Name: entry.Name, Provider: p})
			slog.Info("provider created", "kind", "tts", "name", entry.Name)
		}

		sink, err := reg.CreateSink(cfg.Audio)
		if err != nil {
			return nil, fmt.Errorf("create sink %q: %w", cfg.Audio.Sink, err)
		}
		ps.Sink = sink
		slog.Info("provider created", "kind", "sink", "name", cfg.Audio.Sink)
	}

	v, err := reg.CreateVAD(cfg.Capture.VAD)
	if err != nil {
		return nil, fmt.Errorf("create vad %q: %w", cfg.Capture.VAD.Name, err)
	}
	ps.VAD = v
	slog.Info("provider created", "kind", "vad", "name", cfg.Capture.VAD.Name)

	src, err := reg.CreateSource(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("create source %q: %w", cfg.Audio.Source, err)
	}
	ps.Source = src
	slog.Info("provider created", "kind", "source", "name", cfg.Audio.Source)

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          hark, startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	for _, ww := range cfg.Wake.WakeWords {
		printRow("Wake phrase", ww.Phrase)
	}
	printRow("Wake engine", string(cfg.Wake.Engine))
	for i, label := range cfg.Recognition.RecognizerOrder {
		printRow(fmt.Sprintf("STT #%d", i+1), label+" / "+cfg.Recognition.Backends[label].Name)
	}
	printRow("VAD", cfg.Capture.VAD.Name)
	if cfg.Audio.Sink == "none" {
		printRow("TTS", "(disabled)")
	} else {
		printRow("TTS", cfg.Response.TTS.Name)
	}
	printRow("Source", cfg.Audio.Source)
	printRow("Journal", string(cfg.Journal.Backend))
	fmt.Printf("║  Plugin dir      : %-19s ║\n", orNone(cfg.Skills.PluginDir))
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.Skills.MCPServers))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optStrings extracts a string list from a provider Options map. Non-string
// elements are skipped.
func optStrings(opts map[string]any, key string) []string {
	list, ok := opts[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
