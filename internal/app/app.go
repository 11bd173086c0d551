// Package app wires the nihara subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the UI until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithBackend,
// WithProvider, WithHistoryStore, etc.). When an option is not provided, New
// creates the real implementation from the config.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/nihara/internal/capture"
	"github.com/MrWong99/nihara/internal/companion"
	"github.com/MrWong99/nihara/internal/config"
	"github.com/MrWong99/nihara/internal/health"
	"github.com/MrWong99/nihara/internal/history"
	"github.com/MrWong99/nihara/internal/history/postgres"
	livectl "github.com/MrWong99/nihara/internal/live"
	"github.com/MrWong99/nihara/internal/observe"
	"github.com/MrWong99/nihara/internal/resilience"
	"github.com/MrWong99/nihara/internal/ui"
	"github.com/MrWong99/nihara/internal/voicecmd"
	"github.com/MrWong99/nihara/pkg/audio"
	"github.com/MrWong99/nihara/pkg/audio/malgo"
	"github.com/MrWong99/nihara/pkg/provider/live"
	"github.com/MrWong99/nihara/pkg/provider/live/gemini"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// Injected or created in New.
	backend   audio.Backend
	provider  live.Provider
	history   history.Store
	metrics   *observe.Metrics
	levelVar  *slog.LevelVar
	listener  net.Listener
	watcher   *config.Watcher
	metricsFn http.Handler

	// Subsystems.
	store      *companion.Store
	dispatcher *voicecmd.Dispatcher
	guarded    *history.Guarded
	ctrl       *livectl.Controller
	hub        *ui.Hub
	server     *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBackend injects the audio device backend instead of opening the system
// devices.
func WithBackend(b audio.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithProvider injects the live speech provider instead of dialling Gemini.
func WithProvider(p live.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithHistoryStore injects the history store instead of creating one from
// config. The app closes it on Shutdown.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets hot reload adjust the log level of the installed handler.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithListener serves on l instead of listening on cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithConfigWatcher applies the watcher's reloads while Run is active.
// Create the watcher with [App.ApplyConfig] as its callback.
func WithConfigWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithMetricsHandler overrides the /metrics handler. Default: promhttp.Handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsFn = h }
}

// New creates an App by wiring all subsystems together. The audio backend
// and provider are created from config unless injected.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initBackend(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}
	a.initProvider()
	if err := a.initHistory(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	a.initSession()
	a.initServer()

	return a, nil
}

func (a *App) initBackend() error {
	if a.backend != nil {
		return nil
	}
	b, err := malgo.New()
	if err != nil {
		return err
	}
	a.backend = b
	a.closers = append(a.closers, b.Close)
	return nil
}

func (a *App) initProvider() {
	if a.provider != nil {
		return
	}
	var opts []gemini.Option
	if a.cfg.Gemini.Model != "" {
		opts = append(opts, gemini.WithModel(a.cfg.Gemini.Model))
	}
	if a.cfg.Gemini.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(a.cfg.Gemini.BaseURL))
	}
	if a.cfg.Gemini.Keepalive != 0 {
		opts = append(opts, gemini.WithKeepalive(a.cfg.Gemini.Keepalive))
	}
	if a.cfg.Gemini.APIKey == "" {
		slog.Warn("no Gemini API key configured; sessions will fail until NIHARA_GEMINI_API_KEY is set")
	}
	a.provider = gemini.New(a.cfg.Gemini.APIKey, opts...)
}

// initHistory opens PostgreSQL when a DSN is configured and falls back to
// the in-memory store otherwise. Writes go through a circuit breaker.
func (a *App) initHistory(ctx context.Context) error {
	hc := a.cfg.History
	if a.history == nil {
		if hc.PostgresDSN != "" {
			store, err := postgres.NewStore(ctx, hc.PostgresDSN)
			if err != nil {
				return err
			}
			a.history = store
			slog.Info("chat history stored in postgres")
		} else {
			a.history = history.NewMemoryStore(hc.MemoryCapacity)
			slog.Info("chat history kept in memory", "capacity", hc.MemoryCapacity)
		}
	}
	a.closers = append(a.closers, a.history.Close)

	maxFailures := hc.MaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}
	a.guarded = history.NewGuarded(a.history,
		history.WithBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "history",
			MaxFailures:  maxFailures,
			ResetTimeout: hc.ResetTimeout,
		})),
		history.WithWriteTimeout(hc.WriteTimeout),
		history.WithGuardMetrics(a.metrics),
	)
	return nil
}

func (a *App) initSession() {
	a.store = companion.NewStore(
		companion.WithProfiles(a.cfg.Profiles()),
		companion.WithPreferences(a.cfg.Preferences()),
		companion.WithPersona(a.cfg.Session.Persona),
		companion.WithMode(a.cfg.Session.Mode),
	)

	a.hub = ui.NewHub(a.store,
		ui.WithHubMetrics(a.metrics),
		ui.WithMeterInterval(a.cfg.Audio.MeterInterval),
		ui.WithAllowedOrigins(a.cfg.Server.AllowedOrigins...),
	)
	sink := livectl.MultiSink{livectl.LogSink{}, a.hub}

	a.dispatcher = voicecmd.New(a.store,
		voicecmd.WithStatus(sink.ActionStatus),
		voicecmd.WithStatusTTL(a.cfg.Session.StatusTTL),
		voicecmd.WithMetrics(a.metrics),
	)

	opts := []livectl.Option{
		livectl.WithStatusSink(sink),
		livectl.WithHistory(a.guarded),
		livectl.WithMetrics(a.metrics),
		livectl.WithCaptureConfig(capture.Config{
			FrameSize: a.cfg.Audio.FrameSize,
			FFTSize:   a.cfg.Audio.FFTSize,
			Smoothing: a.cfg.Audio.Smoothing,
		}),
		livectl.WithOutboxCapacity(a.cfg.Audio.OutboxFrames),
	}
	if a.cfg.Gemini.Model != "" {
		opts = append(opts, livectl.WithModel(a.cfg.Gemini.Model))
	}
	a.ctrl = livectl.New(a.backend, a.provider, a.store, a.dispatcher, opts...)
	a.hub.Attach(a.ctrl)
}

func (a *App) initServer() {
	checks := health.New(
		health.Ping("history", a.history),
		health.Configured("gemini_api_key", func() string { return a.cfg.Gemini.APIKey }),
	)
	serverOpts := []ui.ServerOption{
		ui.WithHealth(checks),
		ui.WithServerMetrics(a.metrics),
	}
	if !a.cfg.Telemetry.DisableMetrics {
		h := a.metricsFn
		if h == nil {
			h = promhttp.Handler()
		}
		serverOpts = append(serverOpts, ui.WithMetricsHandler(h))
	}

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           ui.NewServer(a.hub, a.history, serverOpts...),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// Controller returns the live session controller.
func (a *App) Controller() *livectl.Controller { return a.ctrl }

// Store returns the companion settings store.
func (a *App) Store() *companion.Store { return a.store }

// Run serves HTTP, pushes meter updates and applies config reloads until
// ctx is cancelled. With session.autostart a live session is opened once the
// listener is up.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
		}
	}
	if t := a.cfg.Server.TLS; t != nil {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("app: load tls key pair: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("ui listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.hub.Run(gctx) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	if a.cfg.Session.Autostart {
		g.Go(func() error {
			if err := a.ctrl.Start(gctx); err != nil {
				slog.Warn("autostart failed", "err", err)
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// ApplyConfig applies the hot-reloadable differences between old and new.
// It is meant as the [config.Watcher] callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PersonaChanged {
		if err := a.store.SetPersona(d.NewPersona); err != nil {
			slog.Warn("config reload: persona", "err", err)
		}
	}
	if d.ModeChanged {
		if err := a.store.SetMode(d.NewMode); err != nil {
			slog.Warn("config reload: mode", "err", err)
		}
	}
	if d.PreferencesChanged {
		if err := a.store.SetPreferences(d.NewPreferences); err != nil {
			slog.Warn("config reload: preferences", "err", err)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: some changes need a restart", "keys", d.RestartRequired)
	}
}

// Shutdown stops the live session, disconnects UI clients and closes the
// history store and audio devices. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop the session first so its last turn reaches history.
		if err := a.ctrl.Close(); err != nil {
			slog.Warn("session close error", "err", err)
		}
		a.dispatcher.Close()
		a.hub.Close()
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// close releases what New had acquired before failing.
func (a *App) close() {
	for _, closer := range a.closers {
		_ = closer()
	}
}
