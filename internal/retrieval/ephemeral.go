package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/MrWong99/echoscribe/internal/index"
	"github.com/MrWong99/echoscribe/pkg/provider/embeddings"
)

// EphemeralIndex is an in-process vector index over one transcript. It exists
// so questions can be answered semantically before the persistent index is
// built, at the cost of embedding the transcript once per process.
type EphemeralIndex struct {
	emb     embeddings.Provider
	chunks  []string
	vectors [][]float32
}

// BuildEphemeral chunks and embeds text into a new [EphemeralIndex].
// Returns [ErrNoContent] when the text yields no chunks.
func BuildEphemeral(ctx context.Context, emb embeddings.Provider, text string, chunkSize, chunkOverlap int) (*EphemeralIndex, error) {
	chunks := index.SplitText(text, chunkSize, chunkOverlap)
	if len(chunks) == 0 {
		return nil, ErrNoContent
	}

	vectors, err := emb.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed transcript: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("retrieval: embedding count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}

	return &EphemeralIndex{emb: emb, chunks: chunks, vectors: vectors}, nil
}

// Search returns the topK chunks most similar to the question, best first.
func (e *EphemeralIndex) Search(ctx context.Context, question string, topK int) ([]Passage, error) {
	qvec, err := e.emb.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(e.vectors))
	for i, v := range e.vectors {
		scores[i] = scored{idx: i, score: cosineSimilarity(qvec, v)}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].score > scores[j].score
	})

	if topK > len(scores) {
		topK = len(scores)
	}
	passages := make([]Passage, topK)
	for i := 0; i < topK; i++ {
		passages[i] = Passage{Text: e.chunks[scores[i].idx], Score: scores[i].score}
	}
	return passages, nil
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector is zero or the dimensions differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
