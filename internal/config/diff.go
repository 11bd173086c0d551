package config

import (
	"maps"
	"slices"

	"github.com/MrWong99/nihara/internal/companion"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes get their own fields; everything else that changed
// is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PersonaChanged bool
	NewPersona     companion.Persona

	ModeChanged bool
	NewMode     companion.Mode

	// PreferencesChanged is true when voice, language, user name or the
	// mega pro flag changed. They apply to the next live session.
	PreferencesChanged bool
	NewPreferences     companion.Preferences

	// RestartRequired lists the YAML keys whose change only takes effect
	// after a restart, sorted.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PersonaChanged || d.ModeChanged ||
		d.PreferencesChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Session.Persona != new.Session.Persona {
		d.PersonaChanged = true
		d.NewPersona = new.Session.Persona
	}
	if old.Session.Mode != new.Session.Mode {
		d.ModeChanged = true
		d.NewMode = new.Session.Mode
	}
	if old.Preferences() != new.Preferences() {
		d.PreferencesChanged = true
		d.NewPreferences = new.Preferences()
	}

	restart := map[string]bool{
		"server.listen_addr":      old.Server.ListenAddr != new.Server.ListenAddr,
		"server.tls":              !equalTLS(old.Server.TLS, new.Server.TLS),
		"server.allowed_origins":  !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins),
		"gemini":                  old.Gemini != new.Gemini,
		"audio":                   old.Audio != new.Audio,
		"session.status_ttl":      old.Session.StatusTTL != new.Session.StatusTTL,
		"personas":                !maps.Equal(old.Profiles(), new.Profiles()),
		"history":                 old.History != new.History,
		"telemetry":               old.Telemetry != new.Telemetry,
		"server.shutdown_timeout": old.Server.ShutdownTimeout != new.Server.ShutdownTimeout,
	}
	for key, changed := range restart {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	slices.Sort(d.RestartRequired)

	return d
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
