// Package transcript accumulates the streamed transcription deltas of one
// conversational turn and turns them into finished chat entries.
package transcript

import (
	"strings"
	"sync"
)

// Role identifies the speaker of an [Entry].
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one finished utterance.
type Entry struct {
	Role Role
	Text string
}

// Snapshot is the in-progress text of the current turn. Text is untrimmed and
// exactly the concatenation of the deltas received so far.
type Snapshot struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Accumulator buffers user and assistant transcript deltas until the turn
// completes. The zero value is ready to use and all methods are safe for
// concurrent use.
type Accumulator struct {
	mu        sync.Mutex
	user      strings.Builder
	assistant strings.Builder
}

// AppendUser appends a delta of the user's transcribed speech.
func (a *Accumulator) AppendUser(delta string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user.WriteString(delta)
}

// AppendAssistant appends a delta of the model's transcribed speech.
func (a *Accumulator) AppendAssistant(delta string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.assistant.WriteString(delta)
}

// Snapshot returns the current turn's text without modifying it.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{User: a.user.String(), Assistant: a.assistant.String()}
}

// Flush ends the turn. It returns the trimmed user entry followed by the
// trimmed assistant entry, omitting sides that are blank, and resets both
// buffers.
func (a *Accumulator) Flush() []Entry {
	a.mu.Lock()
	user := strings.TrimSpace(a.user.String())
	assistant := strings.TrimSpace(a.assistant.String())
	a.user.Reset()
	a.assistant.Reset()
	a.mu.Unlock()

	entries := make([]Entry, 0, 2)
	if user != "" {
		entries = append(entries, Entry{Role: RoleUser, Text: user})
	}
	if assistant != "" {
		entries = append(entries, Entry{Role: RoleAssistant, Text: assistant})
	}
	return entries
}

// Reset discards the current turn.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user.Reset()
	a.assistant.Reset()
}
