// Package history persists finished conversation turns.
//
// The live controller flushes the transcript accumulator on every turn
// completion and hands the resulting entries to a [Sink]. The in-memory
// [MemoryStore] is used when no database is configured; the postgres
// sub-package provides durable storage. [Guarded] wraps any sink in a circuit
// breaker so that storage outages never block the conversation.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/nihara/internal/companion"
	"github.com/MrWong99/nihara/internal/transcript"
)

// ErrClosed is returned by stores after Close.
var ErrClosed = errors.New("history: store closed")

// Entry is one persisted chat message.
type Entry struct {
	ID        uuid.UUID         `json:"id"`
	SessionID string            `json:"session_id"`
	Role      transcript.Role   `json:"role"`
	Text      string            `json:"text"`
	Persona   companion.Persona `json:"persona"`
	Mode      companion.Mode    `json:"mode"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewEntries stamps the flushed transcript entries of one turn with fresh IDs,
// the session they belong to and the persona and mode active at the time.
func NewEntries(sessionID string, snap companion.Snapshot, turn []transcript.Entry, now time.Time) []Entry {
	out := make([]Entry, 0, len(turn))
	for i, e := range turn {
		out = append(out, Entry{
			ID:        uuid.New(),
			SessionID: sessionID,
			Role:      e.Role,
			Text:      e.Text,
			Persona:   snap.Persona,
			Mode:      snap.Mode,
			// Keep user before assistant when ordering by time.
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		})
	}
	return out
}

// Sink receives finished chat entries.
type Sink interface {
	// Append stores entries in order. Implementations must be safe for
	// concurrent use.
	Append(ctx context.Context, entries ...Entry) error
}

// Store is a Sink that can also be queried.
type Store interface {
	Sink

	// Recent returns at most limit entries, oldest first, ending with the
	// most recent one. A limit <= 0 returns an empty slice.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases resources. It is safe to call more than once.
	Close() error
}
