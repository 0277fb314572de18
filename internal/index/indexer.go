package index

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/echoscribe/internal/observe"
	"github.com/MrWong99/echoscribe/pkg/provider/embeddings"
)

// Indexer turns transcripts into embedded chunks and maintains them in a
// [SemanticIndex].
type Indexer struct {
	emb embeddings.Provider
	idx SemanticIndex

	chunkSize    int
	chunkOverlap int
}

// NewIndexer creates an Indexer.
func NewIndexer(emb embeddings.Provider, idx SemanticIndex, chunkSize, chunkOverlap int) *Indexer {
	return &Indexer{
		emb:          emb,
		idx:          idx,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Build chunks and embeds the transcript text and replaces the audio file's
// chunks in the index. An empty transcript clears the file's index entries.
func (ix *Indexer) Build(ctx context.Context, audioFileID, text string) error {
	ctx, span := observe.StartSpan(ctx, "index.Build")
	defer span.End()
	start := time.Now()

	parts := SplitText(text, ix.chunkSize, ix.chunkOverlap)
	if len(parts) == 0 {
		return ix.idx.Delete(ctx, audioFileID)
	}

	vectors, err := ix.emb.EmbedBatch(ctx, parts)
	if err != nil {
		return fmt.Errorf("index: embed %d chunks for %q: %w", len(parts), audioFileID, err)
	}
	if len(vectors) != len(parts) {
		return fmt.Errorf("index: embedding count mismatch: %d chunks, %d vectors", len(parts), len(vectors))
	}

	chunks := make([]Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = Chunk{
			ID:          fmt.Sprintf("%s:%d", audioFileID, i),
			AudioFileID: audioFileID,
			Position:    i,
			Content:     p,
			Embedding:   vectors[i],
		}
	}

	if err := ix.idx.Replace(ctx, audioFileID, chunks); err != nil {
		return err
	}

	observe.Logger(ctx).Info("transcript indexed",
		"audio_file_id", audioFileID,
		"chunks", len(chunks),
		"duration", time.Since(start))
	return nil
}

// Query embeds the question and returns the topK most similar chunks of the
// audio file.
func (ix *Indexer) Query(ctx context.Context, audioFileID, question string, topK int) ([]Result, error) {
	vec, err := ix.emb.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("index: embed query: %w", err)
	}

	return ix.idx.Search(ctx, audioFileID, vec, topK)
}

// Exists reports whether the audio file has persistent index entries.
func (ix *Indexer) Exists(ctx context.Context, audioFileID string) (bool, error) {
	return ix.idx.Exists(ctx, audioFileID)
}

// Delete removes the audio file's index entries.
func (ix *Indexer) Delete(ctx context.Context, audioFileID string) error {
	return ix.idx.Delete(ctx, audioFileID)
}
