// Package retrieval selects the transcript passages most relevant to a
// question. Three strategies are layered by fidelity:
//
//  1. semantic: the persistent pgvector index, when the file is indexed
//  2. ephemeral: an in-process vector index built on the fly and cached
//  3. keyword: term-overlap paragraph scoring, needing no embeddings at all
//
// The engine always answers with the best strategy currently available, so a
// question never fails just because indexing has not caught up yet.
package retrieval

import "errors"

// Strategy identifies which retrieval tier produced a result set.
type Strategy string

const (
	StrategySemantic  Strategy = "semantic"
	StrategyEphemeral Strategy = "ephemeral"
	StrategyKeyword   Strategy = "keyword"
)

// ErrNoContent is returned when the transcript has no usable text to search.
var ErrNoContent = errors.New("retrieval: transcript has no content")

// Passage is one retrieved span of transcript text.
type Passage struct {
	Text string

	// Score is strategy-specific: cosine similarity for vector strategies,
	// matched-term count for keyword search. Only comparable within one
	// result set.
	Score float64
}
