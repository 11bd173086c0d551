// Package live binds microphone capture, the live transport and gapless
// playback into one session state machine.
//
// A [Controller] owns at most one session at a time. Each session runs its
// own event loop goroutine that processes inbound transport events strictly in
// arrival order; the microphone callback only encodes frames and hands them to
// a bounded outbound queue, which a sender goroutine drains once the service
// has accepted the session setup.
//
//	idle → connecting → {listening, errored}
//	listening ⇄ speaking ⇄ thinking
//	any open state → {closed, errored}
//
// Status is reported through a [StatusSink]; state, transcript snapshots,
// action status strings and user-facing alerts never flow back into the
// caller's stack as errors.
package live

// State is the lifecycle state of the live session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateListening
	StateThinking
	StateSpeaking
	StateClosed
	StateErrored
)

// String returns the lower-case status word shown in the UI.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Active reports whether a session is open or being opened in this state.
func (s State) Active() bool {
	switch s {
	case StateConnecting, StateListening, StateThinking, StateSpeaking:
		return true
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
