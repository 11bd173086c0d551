// Package live defines the Provider interface for duplex voice backends.
//
// A live provider wraps a real-time conversational service that accepts
// microphone audio and answers with synthesised speech, transcripts of both
// sides, and function calls, all over one stateful connection.
//
// Everything the service sends is surfaced as an ordered stream of [Event]
// values on [SessionHandle.Events], so consumers observe audio, interruptions,
// transcript deltas, turn boundaries and tool calls in exactly the order they
// arrived on the wire.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"fmt"

	"github.com/MrWong99/nihara/pkg/audio"
)

// EventKind classifies an inbound [Event].
type EventKind int

const (
	// EventOpen is emitted once the connection is established.
	EventOpen EventKind = iota

	// EventReady is emitted when the service has accepted the session
	// configuration and is ready to receive audio.
	EventReady

	// EventAudio carries one fragment of model speech in [Event.Audio].
	EventAudio

	// EventInterrupted signals that the user started speaking over the
	// model; any queued model audio must be discarded.
	EventInterrupted

	// EventInputTranscript carries a delta of the user's transcribed speech.
	EventInputTranscript

	// EventOutputTranscript carries a delta of the model's transcribed speech.
	EventOutputTranscript

	// EventTurnComplete marks the end of the model's turn.
	EventTurnComplete

	// EventToolCall carries one or more function calls in [Event.Calls].
	EventToolCall

	// EventError reports a fatal error in [Event.Err]. It is the last event
	// before the channel closes.
	EventError

	// EventClose reports that the remote side closed the session normally.
	// It is the last event before the channel closes.
	EventClose
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventReady:
		return "ready"
	case EventAudio:
		return "audio"
	case EventInterrupted:
		return "interrupted"
	case EventInputTranscript:
		return "input_transcript"
	case EventOutputTranscript:
		return "output_transcript"
	case EventTurnComplete:
		return "turn_complete"
	case EventToolCall:
		return "tool_call"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one inbound message from the service.
type Event struct {
	Kind EventKind

	// Audio is set for [EventAudio]: base64 PCM plus its MIME type,
	// e.g. "audio/pcm;rate=24000".
	Audio audio.EncodedChunk

	// Text is set for transcript events.
	Text string

	// Calls is set for [EventToolCall].
	Calls []FunctionCall

	// Err is set for [EventError].
	Err error
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	// ID correlates the call with its [ToolResponse].
	ID string

	// Name is the declared function name.
	Name string

	// Args holds the decoded JSON arguments.
	Args map[string]any
}

// ToolResponse answers exactly one [FunctionCall].
type ToolResponse struct {
	ID     string
	Name   string
	Result string
}

// ToolDefinition declares a callable function to the model. Parameters is a
// JSON-schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// SessionConfig is the configuration sent when a session opens.
type SessionConfig struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Voice is the prebuilt voice name, e.g. "Zephyr".
	Voice string

	// LanguageCode is an optional BCP-47 code for speech output, e.g. "en-US".
	LanguageCode string

	// Instructions is the system instruction text.
	Instructions string

	// Tools declared to the model.
	Tools []ToolDefinition

	// Transcription enables transcripts of both user input and model output.
	Transcription bool
}

// TransportError is a connection-level failure. It terminates the session and
// is never retried automatically.
type TransportError struct {
	// Op names the failed step: "dial", "setup", "read", "write" or "server".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("live: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SessionHandle is an open live session. Only the session's owner may call
// its send methods.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio sends one encoded microphone chunk.
	SendAudio(chunk audio.EncodedChunk) error

	// SendToolResponse answers a function call. Exactly one response must be
	// sent per [FunctionCall.ID].
	SendToolResponse(resp ToolResponse) error

	// Events returns the ordered inbound event stream. The channel is closed
	// after [EventError] or [EventClose], or after Close.
	Events() <-chan Event

	// Err returns the error that terminated the session, if any.
	Err() error

	// Close terminates the session and closes the Events channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider opens live sessions.
type Provider interface {
	// Connect dials the service and sends cfg. The handle's event stream starts
	// with [EventOpen]; [EventReady] follows once the service accepted cfg.
	// Connection failures are returned as *[TransportError].
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
