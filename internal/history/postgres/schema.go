// Package postgres provides a PostgreSQL-backed chat history store.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Append(ctx, entries...)
//	recent, _ := store.Recent(ctx, 50)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlChatEntries = `
CREATE TABLE IF NOT EXISTS chat_entries (
    id          UUID         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    persona     TEXT         NOT NULL DEFAULT '',
    mode        TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chat_entries_created_at
    ON chat_entries (created_at);

CREATE INDEX IF NOT EXISTS idx_chat_entries_session_created
    ON chat_entries (session_id, created_at);
`

// Migrate creates the chat_entries table and its indexes if they do not exist.
// It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlChatEntries); err != nil {
		return fmt.Errorf("postgres migrate: chat_entries: %w", err)
	}
	return nil
}
