// Package index defines the persistent semantic index over transcripts and
// the chunking and embedding pipeline that feeds it. Each audio file's
// transcript is split into overlapping chunks, embedded, and stored under the
// file's ID so searches never leak passages across files.
package index

import "context"

// Chunk is one embedded slice of a transcript.
type Chunk struct {
	// ID is unique per chunk, derived from the audio file ID and position.
	ID string

	// AudioFileID namespaces the chunk to its source file.
	AudioFileID string

	// Position is the zero-based order of the chunk within the transcript.
	Position int

	Content   string
	Embedding []float32
}

// Result is a search hit.
type Result struct {
	Chunk Chunk

	// Distance is the cosine distance to the query; smaller is more similar.
	Distance float64
}

// SemanticIndex stores embedded transcript chunks and serves nearest
// neighbour queries, namespaced by audio file.
type SemanticIndex interface {
	// Replace atomically swaps all chunks of an audio file for the given set.
	Replace(ctx context.Context, audioFileID string, chunks []Chunk) error

	// Search returns the topK chunks of one audio file closest to the query
	// embedding, most similar first.
	Search(ctx context.Context, audioFileID string, embedding []float32, topK int) ([]Result, error)

	// Exists reports whether any chunks are stored for the audio file.
	Exists(ctx context.Context, audioFileID string) (bool, error)

	// Delete removes all chunks of an audio file. Deleting a file that was
	// never indexed is not an error.
	Delete(ctx context.Context, audioFileID string) error
}
