package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/nihara/internal/companion"
)

// EnvPrefix prefixes every environment variable read by [ApplyEnv].
const EnvPrefix = "NIHARA"

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate]. An empty
// path returns [Default].
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected. An empty document yields [Default].
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOverlay lists the settings that may come from the environment. With
// [EnvPrefix] the API key is read from NIHARA_GEMINI_API_KEY, falling back to
// GEMINI_API_KEY.
type envOverlay struct {
	ListenAddr  string `envconfig:"LISTEN_ADDR"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	APIKey      string `envconfig:"GEMINI_API_KEY"`
	Model       string `envconfig:"GEMINI_MODEL"`
	BaseURL     string `envconfig:"GEMINI_BASE_URL"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`
	UserName    string `envconfig:"SESSION_USER_NAME"`
	Voice       string `envconfig:"SESSION_VOICE"`
	Language    string `envconfig:"SESSION_LANGUAGE"`
}

// ApplyEnv overlays non-empty environment variables onto cfg. Call
// [Validate] afterwards.
func ApplyEnv(cfg *Config) error {
	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Server.ListenAddr, env.ListenAddr)
	if env.LogLevel != "" {
		cfg.Server.LogLevel = LogLevel(env.LogLevel)
	}
	set(&cfg.Gemini.APIKey, env.APIKey)
	set(&cfg.Gemini.Model, env.Model)
	set(&cfg.Gemini.BaseURL, env.BaseURL)
	set(&cfg.History.PostgresDSN, env.PostgresDSN)
	set(&cfg.Session.UserName, env.UserName)
	set(&cfg.Session.Voice, env.Voice)
	set(&cfg.Session.Language, env.Language)
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found. A missing
// API key is not an error here; readiness reports it instead.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Audio
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must not be negative", cfg.Audio.FrameSize))
	}
	if n := cfg.Audio.FFTSize; n != 0 && (n < 32 || n&(n-1) != 0) {
		errs = append(errs, fmt.Errorf("audio.fft_size %d must be a power of two >= 32", n))
	}
	if s := cfg.Audio.Smoothing; s < 0 || s >= 1 {
		errs = append(errs, fmt.Errorf("audio.smoothing %g must be in [0, 1)", s))
	}
	if cfg.Audio.OutboxFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.outbox_frames %d must not be negative", cfg.Audio.OutboxFrames))
	}

	// Session
	if p := cfg.Session.Persona; p != "" && !p.Valid() {
		errs = append(errs, fmt.Errorf("session.persona %q is invalid; valid values: %v", p, companion.Personas()))
	}
	if m := cfg.Session.Mode; m != "" && !m.Valid() {
		errs = append(errs, fmt.Errorf("session.mode %q is invalid; valid values: %v", m, companion.Modes()))
	}
	if v := cfg.Session.Voice; v != "" && !companion.ValidVoice(v) {
		errs = append(errs, fmt.Errorf("session.voice %q is not a known voice", v))
	}
	if cfg.Session.StatusTTL < 0 {
		errs = append(errs, fmt.Errorf("session.status_ttl %s must not be negative", cfg.Session.StatusTTL))
	}

	// Personas
	seen := make(map[companion.Persona]bool, len(cfg.Personas))
	for i, p := range cfg.Personas {
		prefix := fmt.Sprintf("personas[%d]", i)
		if !p.Name.Valid() {
			errs = append(errs, fmt.Errorf("%s.name %q is invalid; valid values: %v", prefix, p.Name, companion.Personas()))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("%s.name %q is duplicated", prefix, p.Name))
		}
		seen[p.Name] = true
	}

	// History
	if cfg.History.MemoryCapacity < 0 {
		errs = append(errs, fmt.Errorf("history.memory_capacity %d must not be negative", cfg.History.MemoryCapacity))
	}
	if cfg.History.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("history.max_failures %d must not be negative", cfg.History.MaxFailures))
	}
	if cfg.History.WriteTimeout < 0 || cfg.History.ResetTimeout < 0 {
		errs = append(errs, errors.New("history timeouts must not be negative"))
	}

	return errors.Join(errs...)
}
