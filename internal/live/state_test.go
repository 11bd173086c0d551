package live_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/MrWong99/nihara/internal/live"
	"github.com/MrWong99/nihara/internal/transcript"
)

func TestState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state  live.State
		name   string
		active bool
	}{
		{live.StateIdle, "idle", false},
		{live.StateConnecting, "connecting", true},
		{live.StateListening, "listening", true},
		{live.StateThinking, "thinking", true},
		{live.StateSpeaking, "speaking", true},
		{live.StateClosed, "closed", false},
		{live.StateErrored, "errored", false},
		{live.State(99), "unknown", false},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.name {
			t.Errorf("String() = %q, want %q", got, tt.name)
		}
		if got := tt.state.Active(); got != tt.active {
			t.Errorf("%s.Active() = %v, want %v", tt.name, got, tt.active)
		}
		text, err := tt.state.MarshalText()
		if err != nil || string(text) != tt.name {
			t.Errorf("MarshalText() = %q, %v", text, err)
		}
	}
}

func TestMultiSink(t *testing.T) {
	t.Parallel()

	a, b := &recordingSink{}, &recordingSink{}
	m := live.MultiSink{a, b}
	m.SessionState(live.StateSpeaking)
	m.Transcript(transcript.Snapshot{User: "hi"})
	m.ActionStatus("Mode switched to Chat")
	m.Alert("oops")

	for i, s := range []*recordingSink{a, b} {
		if len(s.States()) != 1 || len(s.Transcripts()) != 1 || len(s.Alerts()) != 1 {
			t.Errorf("sink %d missed updates", i)
		}
	}
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := live.LogSink{Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	sink.SessionState(live.StateListening)
	sink.ActionStatus("")
	sink.Alert(live.MicrophoneAlert)

	out := buf.String()
	if !strings.Contains(out, "state=listening") {
		t.Errorf("log missing state: %s", out)
	}
	if strings.Contains(out, "action status") {
		t.Errorf("empty action status was logged: %s", out)
	}
	if !strings.Contains(out, "Could not access microphone") {
		t.Errorf("log missing alert: %s", out)
	}
}
