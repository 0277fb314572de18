// Package embeddings defines the Provider interface for text-embedding
// backends used by the semantic retrieval layer.
//
// A provider maps text to dense float32 vectors. Both the persistent pgvector
// index and the in-process ephemeral index consume the same interface, so one
// configured provider serves every retrieval tier.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors from one Provider instance share the dimensionality reported by
// Dimensions. Vectors from different providers (or different models) must not
// be compared against each other.
type Provider interface {
	// Embed computes the embedding for a single text, typically a search
	// query. The result has length Dimensions().
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds a slice of texts in one provider call. The i-th
	// result corresponds to texts[i]. On error no partial results are
	// returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length produced by this provider.
	Dimensions() int

	// ModelID returns the provider-specific model identifier, for logging
	// and for verifying index/model consistency.
	ModelID() string
}
