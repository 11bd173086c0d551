package live

import (
	"log/slog"

	"github.com/MrWong99/nihara/internal/transcript"
)

// MicrophoneAlert is shown when the microphone cannot be acquired.
const MicrophoneAlert = "Could not access microphone. Please check permissions."

// StatusSink receives everything the controller reports to the UI.
//
// Methods may be called from the controller's goroutines while it holds
// internal locks, so implementations must not block and must not call back
// into the [Controller].
type StatusSink interface {
	// SessionState reports every state transition.
	SessionState(s State)

	// Transcript reports the in-progress turn after every delta and an empty
	// snapshot after each flushed turn.
	Transcript(snap transcript.Snapshot)

	// ActionStatus shows a transient confirmation. An empty text clears it.
	ActionStatus(text string)

	// Alert shows a user-facing failure message.
	Alert(message string)
}

// LogSink writes status updates to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

var _ StatusSink = LogSink{}

func (l LogSink) log() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l LogSink) SessionState(s State) {
	l.log().Info("live: state", "state", s.String())
}

func (l LogSink) Transcript(snap transcript.Snapshot) {
	l.log().Debug("live: transcript", "user", snap.User, "assistant", snap.Assistant)
}

func (l LogSink) ActionStatus(text string) {
	if text != "" {
		l.log().Info("live: action status", "text", text)
	}
}

func (l LogSink) Alert(message string) {
	l.log().Warn("live: alert", "message", message)
}

// MultiSink fans every update out to all of its sinks in order.
type MultiSink []StatusSink

var _ StatusSink = MultiSink(nil)

func (m MultiSink) SessionState(s State) {
	for _, sink := range m {
		sink.SessionState(s)
	}
}

func (m MultiSink) Transcript(snap transcript.Snapshot) {
	for _, sink := range m {
		sink.Transcript(snap)
	}
}

func (m MultiSink) ActionStatus(text string) {
	for _, sink := range m {
		sink.ActionStatus(text)
	}
}

func (m MultiSink) Alert(message string) {
	for _, sink := range m {
		sink.Alert(message)
	}
}
