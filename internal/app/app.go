// Package app wires all hark subsystems into a running voice assistant.
//
// The App struct owns the full lifecycle: New builds the wake detector,
// recognizer chain, skills, and pipeline from the config; Run drives the
// pipeline and the health/metrics server; ApplyChange applies hot-reloaded
// settings and wake templates; and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithJournal,
// WithToolCaller, WithFS, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/internal/health"
	"github.com/MrWong99/hark/internal/intent"
	"github.com/MrWong99/hark/internal/journal"
	"github.com/MrWong99/hark/internal/journal/postgres"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/pipeline"
	"github.com/MrWong99/hark/internal/recognition"
	"github.com/MrWong99/hark/internal/resilience"
	"github.com/MrWong99/hark/internal/respond"
	"github.com/MrWong99/hark/internal/skill"
	"github.com/MrWong99/hark/internal/skill/clock"
	"github.com/MrWong99/hark/internal/skill/plugin"
	"github.com/MrWong99/hark/internal/skill/system"
	"github.com/MrWong99/hark/internal/skill/timer"
	"github.com/MrWong99/hark/internal/transcript"
	"github.com/MrWong99/hark/internal/wake"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/audio/wavfile"
	"github.com/MrWong99/hark/pkg/provider/stt"
	"github.com/MrWong99/hark/pkg/provider/tts"
	"github.com/MrWong99/hark/pkg/provider/vad"
)

// NamedTTS is a speech synthesizer together with the name it was configured
// under.
type NamedTTS struct {
	Name     string
	Provider tts.Provider
}

// Providers holds the instantiated provider implementations. Populated by
// main.go via the config registry.
type Providers struct {
	Source audio.Source

	// Sink is nil when audio.sink is "none"; responses are then only logged.
	Sink audio.Sink

	// Recognizers are in recognition.recognizer_order.
	Recognizers []stt.Recognizer

	// TTS lists the primary synthesizer first, then its fallbacks.
	TTS []NamedTTS

	VAD vad.Engine
}

// Close releases the source, the sink, and every recognizer or synthesizer
// that holds resources of its own (a loaded whisper model, for one).
func (p *Providers) Close() error {
	var errs []error
	if p.Source != nil {
		errs = append(errs, p.Source.Close())
	}
	if p.Sink != nil {
		errs = append(errs, p.Sink.Close())
	}
	for _, r := range p.Recognizers {
		if c, ok := r.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	for _, t := range p.TTS {
		if c, ok := t.Provider.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// App owns all subsystem lifetimes and orchestrates the hark pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	fs       afero.Fs
	metrics  *observe.Metrics
	levelVar *slog.LevelVar
	now      func() time.Time

	// Subsystems, initialised in New and torn down in Shutdown.
	journal    journal.Store
	wake       *wake.Detector
	arbitrator *recognition.Arbitrator
	corrector  *transcript.Corrector
	composer   *respond.Composer
	speaker    *respond.Speaker
	tools      plugin.ToolCaller
	parser     *intent.Parser
	registry   *skill.Registry
	dispatcher *skill.Dispatcher
	timers     *timer.Skill
	controller *pipeline.Controller
	health     *health.Handler

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once

	// exitRequested is set by the stop command when skills.stop_exits is on;
	// the run ends once the controller is back in IDLE.
	exitRequested atomic.Bool
	runMu         sync.Mutex
	cancelRun     context.CancelFunc
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithFS reads wake templates, plugin manifests, and dumps segments through
// fs instead of the OS filesystem.
func WithFS(fs afero.Fs) Option {
	return func(a *App) { a.fs = fs }
}

// WithJournal injects a journal store instead of creating one from config.
func WithJournal(s journal.Store) Option {
	return func(a *App) { a.journal = s }
}

// WithToolCaller injects the MCP tool caller used by plugins instead of
// connecting to skills.mcp_servers.
func WithToolCaller(c plugin.ToolCaller) Option {
	return func(a *App) { a.tools = c }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets ApplyChange change the log level of the handler built
// around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithNow overrides the wall clock used by the clock skill and session
// timestamps.
func WithNow(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry) and is owned by the
// App from here on: Shutdown closes it. Any load-time fault (missing wake
// template, duplicate intent, malformed plugin, unreachable journal) is
// returned after the providers and the partially built subsystems are
// released.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		fs:        afero.NewOsFs(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.closers = append(a.closers, providers.Close)

	if err := a.init(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Journal ───────────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		return fmt.Errorf("app: init journal: %w", err)
	}

	// ── 2. Wake detector ─────────────────────────────────────────────────
	if err := a.initWake(); err != nil {
		return fmt.Errorf("app: init wake: %w", err)
	}

	// ── 3. Recognition ───────────────────────────────────────────────────
	if err := a.initRecognition(); err != nil {
		return fmt.Errorf("app: init recognition: %w", err)
	}

	// ── 4. Response ──────────────────────────────────────────────────────
	if err := a.initResponse(); err != nil {
		return fmt.Errorf("app: init response: %w", err)
	}

	// ── 5. Skills and plugins ────────────────────────────────────────────
	if err := a.initSkills(ctx); err != nil {
		return fmt.Errorf("app: init skills: %w", err)
	}

	// ── 6. Pipeline ──────────────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 7. Health checks ─────────────────────────────────────────────────
	checkers := []health.Checker{health.Running("pipeline", a.controller.Running)}
	if p, ok := a.journal.(health.Pinger); ok {
		checkers = append(checkers, health.Ping("journal", p))
	}
	a.health = health.New(checkers...)
	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initJournal opens the configured journal store unless one was injected.
func (a *App) initJournal(ctx context.Context) error {
	if a.journal != nil {
		return nil
	}

	jc := a.cfg.Journal
	switch jc.Backend {
	case config.JournalFile:
		a.journal = journal.NewFileStore(a.fs, jc.Path)
	case config.JournalPostgres:
		store, err := postgres.Open(ctx, jc.PostgresDSN)
		if err != nil {
			return err
		}
		a.journal = store
	default:
		a.journal = journal.NewMemoryStore(jc.Capacity)
	}
	a.closers = append(a.closers, a.journal.Close)
	slog.Info("journal ready", "backend", jc.Backend)
	return nil
}

// initWake loads a spotter per configured phrase and builds the detector.
func (a *App) initWake() error {
	wc := a.cfg.Wake
	phrases := make([]wake.Phrase, 0, len(wc.WakeWords))
	for _, ww := range wc.WakeWords {
		var spotter wake.Spotter
		switch wc.Engine {
		case config.WakeEnergy:
			spotter = &wake.EnergySpotter{}
		default:
			ts, err := wake.LoadTemplateSpotter(a.fs, ww.Templates, a.cfg.Audio.SampleRate)
			if err != nil {
				return fmt.Errorf("phrase %q: %w", ww.Phrase, err)
			}
			spotter = ts
		}
		phrases = append(phrases, wake.Phrase{Name: ww.Phrase, Spotter: spotter})
	}

	d, err := wake.New(phrases,
		wake.WithSensitivity(wc.Sensitivity),
		wake.WithCooldown(config.Millis(wc.CooldownMs)),
		wake.WithSampleRate(a.cfg.Audio.SampleRate),
	)
	if err != nil {
		return err
	}
	a.wake = d
	slog.Info("wake detector ready", "phrases", d.Phrases(), "engine", wc.Engine, "sensitivity", wc.Sensitivity)
	return nil
}

// initRecognition guards each recognizer with a circuit breaker and builds
// the arbitrator and, when a vocabulary is configured, the corrector.
func (a *App) initRecognition() error {
	engines := make([]stt.Recognizer, 0, len(a.providers.Recognizers))
	for _, rec := range a.providers.Recognizers {
		engines = append(engines, resilience.NewGuard(rec, resilience.CircuitBreakerConfig{
			Name:          rec.Name(),
			OnStateChange: a.breakerChanged,
		}))
	}

	rc := a.cfg.Recognition
	arb, err := recognition.New(engines,
		recognition.WithBackendTimeout(config.Millis(rc.PerBackendTimeoutMs)),
		recognition.WithAcceptanceConfidence(rc.Acceptance()),
		recognition.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.arbitrator = arb

	if len(rc.Vocabulary) > 0 {
		a.corrector = transcript.NewCorrector(rc.Vocabulary)
	}
	slog.Info("recognition ready", "engines", arb.Engines(), "acceptance", rc.Acceptance())
	return nil
}

func (a *App) breakerChanged(name string, from, to resilience.State) {
	slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
	a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
}

// initResponse builds the composer and, when both a synthesizer and a sink
// are available, the speaker.
func (a *App) initResponse() error {
	templates, err := respond.CompileTemplates(a.cfg.Response.Templates)
	if err != nil {
		return err
	}
	voice := tts.VoiceProfile{ID: a.cfg.Response.Voice.ID}
	if len(a.providers.TTS) > 0 {
		voice.Provider = a.providers.TTS[0].Name
	}
	if lang := a.cfg.Response.Voice.Language; lang != "" {
		voice.Metadata = map[string]string{"language": lang}
	}
	a.composer = respond.NewComposer(voice, respond.WithTemplates(templates))

	if len(a.providers.TTS) == 0 || a.providers.Sink == nil {
		slog.Info("speech output disabled; responses are logged only")
		return nil
	}

	primary := a.providers.TTS[0]
	provider := primary.Provider
	if len(a.providers.TTS) > 1 {
		fb := resilience.NewTTSFallback(resilience.CircuitBreakerConfig{
			Name:          "tts",
			OnStateChange: a.breakerChanged,
		})
		for _, p := range a.providers.TTS {
			fb.Add(p.Name, p.Provider)
		}
		provider = fb
	}
	a.speaker = respond.NewSpeaker(provider, a.providers.Sink, a.composer,
		respond.WithMetrics(a.metrics),
		respond.WithProviderName(primary.Name),
	)
	return nil
}

// initSkills connects MCP servers, loads plugins, and builds the parser,
// registry, and dispatcher. Built-in patterns precede plugin patterns.
func (a *App) initSkills(ctx context.Context) error {
	sc := a.cfg.Skills

	if a.tools == nil && len(sc.MCPServers) > 0 {
		caller := plugin.NewMCPCaller()
		a.closers = append(a.closers, caller.Close)
		for _, srv := range sc.MCPServers {
			if err := caller.Connect(ctx, srv.ServerConfig()); err != nil {
				return fmt.Errorf("connect mcp server %q: %w", srv.Name, err)
			}
			slog.Info("mcp server connected", "name", srv.Name, "transport", srv.Transport)
		}
		a.tools = caller
	}

	var plugins []*plugin.Plugin
	if sc.PluginDir != "" {
		var opts []plugin.LoadOption
		if a.tools != nil {
			opts = append(opts, plugin.WithToolCaller(a.tools))
		}
		loaded, err := plugin.Load(a.fs, sc.PluginDir, opts...)
		if err != nil {
			return err
		}
		plugins = loaded
	}

	a.parser = intent.NewBuiltinParser()
	for _, p := range plugins {
		for _, pat := range p.Patterns() {
			if err := a.parser.AddPattern(pat); err != nil {
				return fmt.Errorf("plugin %q: %w", p.Name(), err)
			}
		}
	}
	a.parser.Freeze()

	announcer := skill.Announcer(skill.AnnouncerFunc(func(_ context.Context, message string) error {
		slog.Info("announcement", "message", message)
		return nil
	}))
	if a.speaker != nil {
		announcer = a.speaker
	}
	a.timers = timer.New(timer.WithAnnouncer(announcer))
	a.closers = append(a.closers, a.timers.Close)

	var sysOpts []system.Option
	if sc.StopExits {
		sysOpts = append(sysOpts, system.WithStopper(func() { a.exitRequested.Store(true) }))
	}
	a.registry = skill.NewRegistry()
	if err := a.registry.Register(system.New(a.registry, sysOpts...)); err != nil {
		return err
	}
	if err := a.registry.Register(clock.New(clock.WithNow(a.now))); err != nil {
		return err
	}
	if err := a.registry.Register(a.timers); err != nil {
		return err
	}
	for _, p := range plugins {
		if err := a.registry.Register(p); err != nil {
			return fmt.Errorf("plugin %q: %w", p.Name(), err)
		}
	}
	a.registry.Freeze()

	a.dispatcher = skill.NewDispatcher(a.registry,
		skill.WithTimeout(config.Millis(sc.InvocationTimeoutMs)),
		skill.WithDispatchMetrics(a.metrics),
		skill.WithMemory(skill.NewMemory(config.Millis(sc.ContextExpiryMs), a.now)),
	)
	return nil
}

// initPipeline assembles the controller from the subsystems built above.
func (a *App) initPipeline() error {
	cc := a.cfg.Capture
	pc := pipeline.Config{
		Source:     a.providers.Source,
		Wake:       a.wake,
		VAD:        a.providers.VAD,
		Recognizer: a.arbitrator,
		Parser:     a.parser,
		Dispatcher: a.dispatcher,
		Composer:   a.composer,
		Journal:    a.journal,
		Metrics:    a.metrics,
		VADConfig: vad.Config{
			SampleRate:       a.cfg.Audio.SampleRate,
			FrameSizeMs:      a.cfg.Audio.FrameMs,
			SpeechThreshold:  cc.VADThreshold,
			SilenceThreshold: cc.VADThreshold * 0.7,
		},
		Timing: pipeline.Timing{
			SilenceTimeout: config.Millis(cc.SilenceTimeoutMs),
			MaxCapture:     config.Millis(cc.MaxCaptureMs),
			CaptureTimeout: config.Millis(cc.CaptureTimeoutMs),
			MinSpeech:      config.Millis(cc.MinSpeechMs),
		},
		QueueCapacity: a.cfg.Audio.QueueCapacity,
		Now:           a.now,
	}
	// Interface fields stay nil unless set, so a typed nil never reaches the
	// controller.
	if a.corrector != nil {
		pc.Corrector = a.corrector
	}
	if a.speaker != nil {
		pc.Speaker = a.speaker
	}
	if dir := a.cfg.Audio.DumpDir; dir != "" {
		d, err := wavfile.NewDumper(a.fs, dir)
		if err != nil {
			return err
		}
		pc.Dumper = d
	}

	ctrl, err := pipeline.New(pc)
	if err != nil {
		return err
	}
	ctrl.OnTransition(a.onTransition)
	a.controller = ctrl
	a.closers = append(a.closers, ctrl.Close)
	return nil
}

// onTransition ends the run after a stop command once its reply is done.
func (a *App) onTransition(tr pipeline.Transition) {
	if tr.To != pipeline.StateIdle || !a.exitRequested.Swap(false) {
		return
	}
	slog.Info("stop command received, shutting down", "session_id", tr.Session.ID)
	a.runMu.Lock()
	cancel := a.cancelRun
	a.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Controller returns the pipeline controller.
func (a *App) Controller() *pipeline.Controller { return a.controller }

// Journal returns the journal store sessions are recorded to.
func (a *App) Journal() journal.Store { return a.journal }

// Handler returns the HTTP handler serving health probes and metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run drives the pipeline and, when server.listen_addr is set, the health and
// metrics server. It blocks until ctx is cancelled, the audio source is
// exhausted, a stop command ends it (skills.stop_exits), or either component
// fails.
func (a *App) Run(ctx context.Context) error {
	var ln net.Listener
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", addr, err)
		}
		ln = l
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	a.runMu.Lock()
	a.cancelRun = cancelRun
	a.runMu.Unlock()

	g, gctx := errgroup.WithContext(runCtx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	g.Go(func() error {
		// A drained file source ends the run and takes the server down with it.
		defer stopServer()
		return a.controller.Run(gctx)
	})

	if ln != nil {
		srv := &http.Server{
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		slog.Info("health server listening", "addr", ln.Addr().String())

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-serverCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyChange applies a change reported by the config watcher. Log level,
// wake sensitivity, and acceptance confidence take effect at once, as do
// re-recorded wake templates. Other config edits and new plugin manifests are
// logged and take effect after a restart.
func (a *App) ApplyChange(ch config.Change) {
	d := ch.Diff()
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SensitivityChanged {
		a.wake.SetSensitivity(d.NewSensitivity)
		slog.Info("wake sensitivity changed", "sensitivity", d.NewSensitivity)
	}
	if d.AcceptanceChanged {
		a.arbitrator.SetAcceptanceConfidence(d.NewAcceptance)
		slog.Info("acceptance confidence changed", "acceptance", d.NewAcceptance)
	}
	if len(ch.Templates) > 0 {
		a.reloadTemplates(ch.New, ch.Templates)
	}
	if ch.PluginsChanged {
		slog.Warn("plugin manifests changed, restart to load them", "dir", ch.New.Skills.PluginDir)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// reloadTemplates rebuilds the template spotters of the named phrases from
// cfg. A phrase whose recordings fail to load keeps its current spotter.
func (a *App) reloadTemplates(cfg *config.Config, phrases []string) {
	if a.cfg.Wake.Engine != config.WakeTemplate {
		return
	}
	for _, ww := range cfg.Wake.WakeWords {
		if !slices.Contains(phrases, ww.Phrase) {
			continue
		}
		ts, err := wake.LoadTemplateSpotter(a.fs, ww.Templates, a.cfg.Audio.SampleRate)
		if err == nil {
			err = a.wake.ReplaceSpotter(ww.Phrase, ts)
		}
		if err != nil {
			slog.Warn("wake templates not reloaded", "phrase", ww.Phrase, "err", err)
			continue
		}
		slog.Info("wake templates reloaded", "phrase", ww.Phrase, "templates", len(ww.Templates))
	}
}

// SlogLevel maps a config log level to its slog equivalent. Unknown levels map
// to info.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever a failed New managed to open.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Debug("close after failed init", "err", err)
		}
	}
}
