package audio

// InterruptReason identifies why scheduled playback was cut short.
type InterruptReason int

const (
	// UserBargeIn indicates the service reported that the user started
	// speaking over the assistant.
	UserBargeIn InterruptReason = iota

	// SessionStop indicates the user explicitly ended the session.
	SessionStop

	// SessionFailure indicates the session terminated on a transport error
	// or remote close.
	SessionFailure
)

// String returns the human-readable name of the interrupt reason.
func (r InterruptReason) String() string {
	switch r {
	case UserBargeIn:
		return "USER_BARGE_IN"
	case SessionStop:
		return "SESSION_STOP"
	case SessionFailure:
		return "SESSION_FAILURE"
	default:
		return "UNKNOWN"
	}
}
