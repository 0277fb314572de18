// Package mock provides a deterministic embeddings.Provider for tests.
package mock

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/MrWong99/echoscribe/pkg/provider/embeddings"
)

// Compile-time assertion that Provider implements embeddings.Provider.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a deterministic in-process embeddings provider. Each text is
// hashed into a fixed-dimension vector, so identical texts always produce
// identical embeddings and similarity comparisons are stable across runs.
//
// Set Err to force every call to fail. Safe for concurrent use.
type Provider struct {
	// Dim is the vector dimensionality. Defaults to 8 when zero.
	Dim int

	// Err, when non-nil, is returned by Embed and EmbedBatch.
	Err error

	mu         sync.Mutex
	EmbedCalls []string
}

func (p *Provider) dim() int {
	if p.Dim <= 0 {
		return 8
	}
	return p.Dim
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}
	return hashVector(text, p.dim()), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.dim() }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return "mock-embed" }

// hashVector folds word hashes into a small dense vector. Texts sharing words
// end up with similar vectors, which is enough structure for ranking tests.
func hashVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	h := fnv.New32a()
	word := make([]byte, 0, 16)
	flush := func() {
		if len(word) == 0 {
			return
		}
		h.Reset()
		h.Write(word)
		sum := h.Sum32()
		vec[int(sum)%dim] += 1
		word = word[:0]
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == ' ' || c == '\n' || c == '\t' {
			flush()
			continue
		}
		// lowercase ASCII so "Cats" and "cats" collide
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		word = append(word, c)
	}
	flush()
	return vec
}
