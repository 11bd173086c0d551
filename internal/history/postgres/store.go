package postgres

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/nihara/internal/companion"
	"github.com/MrWong99/nihara/internal/history"
	"github.com/MrWong99/nihara/internal/transcript"
)

var _ history.Store = (*Store)(nil)

// Store is a [history.Store] backed by a chat_entries table.
// All methods are safe for concurrent use.
type Store struct {
	pool      *pgxpool.Pool
	closeOnce sync.Once
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Append implements [history.Sink]. All entries are written in one batch
// inside a single transaction.
func (s *Store) Append(ctx context.Context, entries ...history.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	const q = `
		INSERT INTO chat_entries (id, session_id, role, text, persona, mode, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(q, e.ID, e.SessionID, string(e.Role), e.Text, string(e.Persona), string(e.Mode), e.CreatedAt)
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("history postgres: append: %w", err)
	}
	return nil
}

// Recent implements [history.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	if limit <= 0 {
		return []history.Entry{}, nil
	}
	const q = `
		SELECT id, session_id, role, text, persona, mode, created_at
		FROM   chat_entries
		ORDER  BY created_at DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("history postgres: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Entry, error) {
		var (
			e                   history.Entry
			role, persona, mode string
		)
		if err := row.Scan(&e.ID, &e.SessionID, &role, &e.Text, &persona, &mode, &e.CreatedAt); err != nil {
			return history.Entry{}, err
		}
		e.Role = transcript.Role(role)
		e.Persona = companion.Persona(persona)
		e.Mode = companion.Mode(mode)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history postgres: scan rows: %w", err)
	}
	if entries == nil {
		return []history.Entry{}, nil
	}
	slices.Reverse(entries)
	return entries, nil
}

// Ping implements [history.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [history.Store].
func (s *Store) Close() error {
	s.closeOnce.Do(s.pool.Close)
	return nil
}
