package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Schema is the SQL DDL for the entity tables. Execute it via [Store.Migrate]
// or apply it manually during deployment. The pgvector transcript index has
// its own schema in the index package.
const Schema = `
CREATE TABLE IF NOT EXISTS audio_files (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL,
    stored_path      TEXT NOT NULL,
    mime_type        TEXT NOT NULL DEFAULT '',
    size_bytes       BIGINT NOT NULL DEFAULT 0,
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    status           TEXT NOT NULL DEFAULT 'uploaded',
    failure_reason   TEXT NOT NULL DEFAULT '',
    confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transcripts (
    audio_file_id    TEXT PRIMARY KEY REFERENCES audio_files(id) ON DELETE CASCADE,
    text             TEXT NOT NULL,
    language         TEXT NOT NULL DEFAULT '',
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
    segments         JSONB NOT NULL DEFAULT '[]',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS conversations (
    id            TEXT PRIMARY KEY,
    audio_file_id TEXT NOT NULL REFERENCES audio_files(id) ON DELETE CASCADE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversations_file ON conversations(audio_file_id, created_at DESC);

CREATE TABLE IF NOT EXISTS messages (
    id              BIGSERIAL PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    sources         JSONB NOT NULL DEFAULT '[]',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
`

// DB is the database interface used by the sub-stores. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the central PostgreSQL-backed entity store. It owns a single
// [pgxpool.Pool] and exposes the entity sub-stores:
//
//   - [Store.AudioFiles] for uploaded assets
//   - [Store.Transcripts] for transcription results
//   - [Store.Conversations] for per-file chat history
//
// All operations are safe for concurrent use.
type Store struct {
	pool          *pgxpool.Pool
	files         *AudioFileStore
	transcripts   *TranscriptStore
	conversations *ConversationStore
}

// New creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and runs
// [Store.Migrate] to ensure the entity tables exist.
//
// pgvector types are registered here because the semantic index shares this
// pool via [Store.Pool].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	s := NewWithDB(pool)
	s.pool = pool

	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB creates a Store over an existing connection or pool without
// connecting or migrating. Useful in tests.
func NewWithDB(db DB) *Store {
	return &Store{
		files:         &AudioFileStore{db: db},
		transcripts:   &TranscriptStore{db: db},
		conversations: &ConversationStore{db: db},
	}
}

// Migrate executes the [Schema] DDL, creating tables and indexes if they do
// not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.files.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// AudioFiles returns the audio file sub-store.
func (s *Store) AudioFiles() *AudioFileStore { return s.files }

// Transcripts returns the transcript sub-store.
func (s *Store) Transcripts() *TranscriptStore { return s.transcripts }

// Conversations returns the conversation sub-store.
func (s *Store) Conversations() *ConversationStore { return s.conversations }

// Pool returns the underlying connection pool, or nil when the store was
// created with [NewWithDB]. The semantic index reuses it.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases all connections held by the pool, if the store owns one.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
