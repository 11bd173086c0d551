// Command nihara runs the voice companion: it opens the microphone and
// speakers, talks to the Gemini Live service and serves the browser UI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/MrWong99/nihara/internal/app"
	"github.com/MrWong99/nihara/internal/config"
	"github.com/MrWong99/nihara/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the environment overlay")
	logLevel := flag.String("log-level", "", "override server.log_level (debug, info, warn, error)")
	autostart := flag.Bool("autostart", false, "start a live session as soon as the server is up")
	flag.Parse()

	// A missing .env is normal outside development.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "nihara: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nihara: %v\n", err)
		return 1
	}
	if *autostart {
		cfg.Session.Autostart = true
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	slog.Info("nihara starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"persona", cfg.Session.Persona,
		"mode", cfg.Session.Mode,
		"history", historyKind(cfg),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		LiveModel:      cfg.Gemini.Model,
		DisableMetrics: cfg.Telemetry.DisableMetrics,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	var application *app.App
	opts := []app.Option{app.WithLevelVar(levelVar)}
	if *configPath != "" {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			if application != nil {
				application.ApplyConfig(old, new)
			}
		}, config.WithTransform(func(c *config.Config) error {
			if err := config.ApplyEnv(c); err != nil {
				return err
			}
			if *logLevel != "" {
				c.Server.LogLevel = config.LogLevel(*logLevel)
			}
			return nil
		}))
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		opts = append(opts, app.WithConfigWatcher(w))
	}

	application, err = app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	return code
}

// loadConfig reads the file (or the defaults), overlays the environment and
// the -log-level flag, and validates the result.
func loadConfig(path, logLevel string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(logLevel)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func historyKind(cfg *config.Config) string {
	if cfg.History.PostgresDSN != "" {
		return "postgres"
	}
	return "memory"
}
