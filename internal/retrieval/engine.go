package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/echoscribe/internal/index"
	"github.com/MrWong99/echoscribe/internal/observe"
	"github.com/MrWong99/echoscribe/internal/task"
	"github.com/MrWong99/echoscribe/pkg/provider/embeddings"
)

// Config tunes an [Engine].
type Config struct {
	TopK         int
	ChunkSize    int
	ChunkOverlap int

	// CacheMaxEntries bounds the ephemeral index cache.
	CacheMaxEntries int
}

// Engine answers passage queries with the best available strategy. The
// persistent index and embeddings provider are both optional; with neither,
// every search degrades to keyword matching.
type Engine struct {
	indexer *index.Indexer
	emb     embeddings.Provider
	tasks   *task.Runner
	metrics *observe.Metrics
	cache   *ephemeralCache
	cfg     Config

	mu       sync.Mutex
	building map[string]struct{}
}

// NewEngine creates an Engine. indexer, emb, tasks, and metrics may each be
// nil; the engine skips the strategies it cannot serve.
func NewEngine(indexer *index.Indexer, emb embeddings.Provider, tasks *task.Runner, metrics *observe.Metrics, cfg Config) *Engine {
	return &Engine{
		indexer:  indexer,
		emb:      emb,
		tasks:    tasks,
		metrics:  metrics,
		cache:    newEphemeralCache(cfg.CacheMaxEntries),
		cfg:      cfg,
		building: map[string]struct{}{},
	}
}

// Search returns the passages of the transcript most relevant to question,
// along with the strategy that produced them.
//
// Strategy errors are logged and demoted to the next tier rather than
// returned, except from the final keyword tier.
func (e *Engine) Search(ctx context.Context, audioFileID, transcriptText, question string) ([]Passage, Strategy, error) {
	ctx, span := observe.StartSpan(ctx, "retrieval.Search")
	defer span.End()
	log := observe.Logger(ctx).With("audio_file_id", audioFileID)

	if passages, ok := e.searchSemantic(ctx, log, audioFileID, transcriptText, question); ok {
		e.observe(ctx, StrategySemantic)
		return passages, StrategySemantic, nil
	}

	if passages, ok := e.searchEphemeral(ctx, log, audioFileID, transcriptText, question); ok {
		e.observe(ctx, StrategyEphemeral)
		return passages, StrategyEphemeral, nil
	}

	passages, err := KeywordSearch(transcriptText, question, e.cfg.TopK)
	if err != nil {
		return nil, StrategyKeyword, err
	}
	e.observe(ctx, StrategyKeyword)
	return passages, StrategyKeyword, nil
}

// searchSemantic queries the persistent index. When the file is not indexed
// yet, a background build is scheduled and the search falls through.
func (e *Engine) searchSemantic(ctx context.Context, log *slog.Logger, audioFileID, transcriptText, question string) ([]Passage, bool) {
	if e.indexer == nil {
		return nil, false
	}

	exists, err := e.indexer.Exists(ctx, audioFileID)
	if err != nil {
		log.Warn("persistent index unavailable", "error", err)
		return nil, false
	}
	if !exists {
		e.scheduleBuild(ctx, audioFileID, transcriptText)
		return nil, false
	}

	results, err := e.indexer.Query(ctx, audioFileID, question, e.cfg.TopK)
	if err != nil {
		log.Warn("persistent index query failed", "error", err)
		return nil, false
	}
	if len(results) == 0 {
		return nil, false
	}

	passages := make([]Passage, len(results))
	for i, r := range results {
		// Cosine distance to similarity.
		passages[i] = Passage{Text: r.Chunk.Content, Score: 1 - r.Distance}
	}
	return passages, true
}

// searchEphemeral serves from the in-process index, building it on first use.
func (e *Engine) searchEphemeral(ctx context.Context, log *slog.Logger, audioFileID, transcriptText, question string) ([]Passage, bool) {
	if e.emb == nil {
		return nil, false
	}

	idx, ok := e.cache.get(audioFileID)
	if !ok {
		var err error
		idx, err = BuildEphemeral(ctx, e.emb, transcriptText, e.cfg.ChunkSize, e.cfg.ChunkOverlap)
		if err != nil {
			if !errors.Is(err, ErrNoContent) {
				log.Warn("ephemeral index build failed", "error", err)
			}
			return nil, false
		}
		e.cache.put(audioFileID, idx)
	}

	passages, err := idx.Search(ctx, question, e.cfg.TopK)
	if err != nil {
		log.Warn("ephemeral index search failed", "error", err)
		return nil, false
	}
	return passages, len(passages) > 0
}

// scheduleBuild kicks off a persistent index build for the file, at most one
// at a time per file.
func (e *Engine) scheduleBuild(ctx context.Context, audioFileID, transcriptText string) {
	if e.tasks == nil {
		return
	}

	e.mu.Lock()
	if _, inFlight := e.building[audioFileID]; inFlight {
		e.mu.Unlock()
		return
	}
	e.building[audioFileID] = struct{}{}
	e.mu.Unlock()

	started := e.tasks.Go(ctx, "index.build", func(ctx context.Context) error {
		defer func() {
			e.mu.Lock()
			delete(e.building, audioFileID)
			e.mu.Unlock()
		}()
		return e.indexer.Build(ctx, audioFileID, transcriptText)
	})
	if !started {
		e.mu.Lock()
		delete(e.building, audioFileID)
		e.mu.Unlock()
	}
}

// Invalidate drops the file's cached ephemeral index. Call after transcript
// regeneration or file deletion.
func (e *Engine) Invalidate(audioFileID string) {
	e.cache.drop(audioFileID)
}

func (e *Engine) observe(ctx context.Context, strategy Strategy) {
	if e.metrics == nil {
		return
	}
	e.metrics.RetrievalSearches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", string(strategy)),
	))
}
