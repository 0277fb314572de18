// Package postgres implements the persistent semantic index on PostgreSQL
// with pgvector.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/echoscribe/internal/index"
)

// DB is the database interface used by [Index]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface. Connections must have pgvector types
// registered (the entity store's pool does this on connect).
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Index is a [index.SemanticIndex] backed by a transcript_chunks table with a
// pgvector HNSW index for approximate nearest-neighbour search.
type Index struct {
	db DB
}

// Compile-time interface check.
var _ index.SemanticIndex = (*Index)(nil)

// New creates an Index over db. Call [Migrate] before issuing queries.
func New(db DB) *Index {
	return &Index{db: db}
}

// Schema returns the SQL DDL for the chunks table. The embedding dimension is
// baked into the column type, so changing the embedding model after the first
// migration requires a manual schema change.
func Schema(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS transcript_chunks (
    id            TEXT PRIMARY KEY,
    audio_file_id TEXT NOT NULL,
    position      INT NOT NULL,
    content       TEXT NOT NULL,
    embedding     vector(%d) NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcript_chunks_file ON transcript_chunks(audio_file_id);
CREATE INDEX IF NOT EXISTS idx_transcript_chunks_embedding
    ON transcript_chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate executes the [Schema] DDL against db.
func Migrate(ctx context.Context, db DB, embeddingDimensions int) error {
	if _, err := db.Exec(ctx, Schema(embeddingDimensions)); err != nil {
		return fmt.Errorf("semantic index: migrate: %w", err)
	}
	return nil
}

// Replace implements [index.SemanticIndex]. The file's previous chunks are
// removed before the new set is inserted.
func (ix *Index) Replace(ctx context.Context, audioFileID string, chunks []index.Chunk) error {
	if err := ix.Delete(ctx, audioFileID); err != nil {
		return err
	}

	const q = `
		INSERT INTO transcript_chunks (id, audio_file_id, position, content, embedding)
		VALUES ($1, $2, $3, $4, $5)`

	for _, c := range chunks {
		vec := pgvector.NewVector(c.Embedding)
		if _, err := ix.db.Exec(ctx, q, c.ID, audioFileID, c.Position, c.Content, vec); err != nil {
			return fmt.Errorf("semantic index: insert chunk %q: %w", c.ID, err)
		}
	}
	return nil
}

// Search implements [index.SemanticIndex]. Results are ordered by ascending
// cosine distance.
func (ix *Index) Search(ctx context.Context, audioFileID string, embedding []float32, topK int) ([]index.Result, error) {
	const q = `
		SELECT id, audio_file_id, position, content, embedding,
		       embedding <=> $2 AS distance
		FROM   transcript_chunks
		WHERE  audio_file_id = $1
		ORDER  BY distance
		LIMIT  $3`

	rows, err := ix.db.Query(ctx, q, audioFileID, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("semantic index: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (index.Result, error) {
		var (
			r   index.Result
			vec pgvector.Vector
		)
		if err := row.Scan(
			&r.Chunk.ID,
			&r.Chunk.AudioFileID,
			&r.Chunk.Position,
			&r.Chunk.Content,
			&vec,
			&r.Distance,
		); err != nil {
			return index.Result{}, err
		}
		r.Chunk.Embedding = vec.Slice()
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("semantic index: scan rows: %w", err)
	}
	if results == nil {
		results = []index.Result{}
	}
	return results, nil
}

// Exists implements [index.SemanticIndex].
func (ix *Index) Exists(ctx context.Context, audioFileID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM transcript_chunks WHERE audio_file_id = $1)`

	var exists bool
	if err := ix.db.QueryRow(ctx, q, audioFileID).Scan(&exists); err != nil {
		return false, fmt.Errorf("semantic index: exists: %w", err)
	}
	return exists, nil
}

// Delete implements [index.SemanticIndex].
func (ix *Index) Delete(ctx context.Context, audioFileID string) error {
	const q = `DELETE FROM transcript_chunks WHERE audio_file_id = $1`
	if _, err := ix.db.Exec(ctx, q, audioFileID); err != nil {
		return fmt.Errorf("semantic index: delete %q: %w", audioFileID, err)
	}
	return nil
}
