// Package ui serves the browser surface of the companion: a websocket that
// streams session status and accepts user commands, plus a small JSON API.
package ui

import (
	"github.com/MrWong99/nihara/internal/companion"
	"github.com/MrWong99/nihara/internal/transcript"
)

// Event types sent to clients.
const (
	EventState        = "state"
	EventTranscript   = "transcript"
	EventActionStatus = "action_status"
	EventAlert        = "alert"
	EventMeter        = "meter"
	EventPreferences  = "preferences"
	EventError        = "error"
)

// Command types accepted from clients.
const (
	CmdStart       = "start"
	CmdStop        = "stop"
	CmdSetVoice    = "set_voice"
	CmdSetLanguage = "set_language"
	CmdSetPersona  = "set_persona"
	CmdSetMode     = "set_mode"
	CmdSetUserName = "set_user_name"
	CmdSetMegaPro  = "set_mega_pro"
)

// Event is one server-to-client message. Only the fields relevant to Type
// are set.
type Event struct {
	Type       string               `json:"type"`
	State      string               `json:"state,omitempty"`
	Transcript *transcript.Snapshot `json:"transcript,omitempty"`
	Text       string               `json:"text,omitempty"`
	Level      *float64             `json:"level,omitempty"`
	Settings   *companion.Snapshot  `json:"settings,omitempty"`
}

// Command is one client-to-server message.
type Command struct {
	Type    string `json:"type"`
	Value   string `json:"value,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`
}
