// Package pipeline drives an uploaded audio file through transcription: size
// gating, segmentation, per-chunk retries, transcript assembly, persistence,
// and follow-up indexing. It owns the uploaded -> transcribing ->
// completed/failed lifecycle of an audio file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/echoscribe/internal/index"
	"github.com/MrWong99/echoscribe/internal/observe"
	"github.com/MrWong99/echoscribe/internal/resilience"
	"github.com/MrWong99/echoscribe/internal/retrieval"
	"github.com/MrWong99/echoscribe/internal/segment"
	"github.com/MrWong99/echoscribe/internal/store"
	"github.com/MrWong99/echoscribe/internal/task"
	"github.com/MrWong99/echoscribe/pkg/provider/transcribe"
)

// ErrEmptyResult is returned when transcription succeeds technically but
// yields no text at all. The file is marked failed so the transcript can be
// regenerated rather than silently indexed empty.
var ErrEmptyResult = errors.New("pipeline: transcription produced no text")

// FileStore is the audio file persistence needed by the pipeline.
// *store.AudioFileStore satisfies it.
type FileStore interface {
	Get(ctx context.Context, id string) (*store.AudioFile, error)
	SetStatus(ctx context.Context, id string, status store.Status, failureReason string) error
	SetResult(ctx context.Context, id string, durationSeconds, confidence float64) error
}

// TranscriptStore is the transcript persistence needed by the pipeline.
// *store.TranscriptStore satisfies it.
type TranscriptStore interface {
	Upsert(ctx context.Context, t *store.Transcript) error
}

// Splitter probes and splits oversized audio files. *segment.Segmenter
// satisfies it.
type Splitter interface {
	Probe(ctx context.Context, path string) (float64, error)
	Split(ctx context.Context, path string) ([]segment.Chunk, error)
}

// Pipeline transcribes audio files end to end.
type Pipeline struct {
	stt         transcribe.Provider
	splitter    Splitter
	files       FileStore
	transcripts TranscriptStore

	// Optional follow-up wiring; each may be nil.
	indexer *index.Indexer
	engine  *retrieval.Engine
	tasks   *task.Runner
	metrics *observe.Metrics

	retry resilience.RetryConfig
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithIndexer enables fire-and-forget semantic indexing after completion.
// tasks must be non-nil for the build to be scheduled.
func WithIndexer(ix *index.Indexer, tasks *task.Runner) Option {
	return func(p *Pipeline) {
		p.indexer = ix
		p.tasks = tasks
	}
}

// WithRetrievalEngine lets the pipeline invalidate cached ephemeral indexes
// when a transcript is regenerated.
func WithRetrievalEngine(e *retrieval.Engine) Option {
	return func(p *Pipeline) {
		p.engine = e
	}
}

// WithMetrics enables pipeline metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithRetryConfig overrides the per-call retry policy, mainly for tests.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(p *Pipeline) {
		p.retry = cfg
	}
}

// New creates a Pipeline.
func New(stt transcribe.Provider, splitter Splitter, files FileStore, transcripts TranscriptStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		stt:         stt,
		splitter:    splitter,
		files:       files,
		transcripts: transcripts,
		retry: resilience.RetryConfig{
			Name:      "transcribe",
			Retryable: func(err error) bool { return transcribe.KindOf(err).Retryable() },
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run transcribes the audio file with the given ID. The file's status is
// updated as the pipeline progresses; on any failure it ends up failed with a
// reason, on success completed with a stored transcript. The returned error
// mirrors what was recorded.
func (p *Pipeline) Run(ctx context.Context, audioFileID string) error {
	ctx, span := observe.StartSpan(ctx, "pipeline.Run")
	defer span.End()
	log := observe.Logger(ctx).With("audio_file_id", audioFileID)
	start := time.Now()

	file, err := p.files.Get(ctx, audioFileID)
	if err != nil {
		return err
	}

	if err := p.files.SetStatus(ctx, audioFileID, store.StatusTranscribing, ""); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.ActiveTranscriptions.Add(ctx, 1)
		defer p.metrics.ActiveTranscriptions.Add(ctx, -1)
	}

	transcript, err := p.transcribeFile(ctx, file)
	if err != nil {
		p.finish(ctx, "failed", start)
		if statusErr := p.files.SetStatus(ctx, audioFileID, store.StatusFailed, err.Error()); statusErr != nil {
			log.Error("record failure status", "error", statusErr)
		}
		log.Error("transcription failed", "error", err, "duration", time.Since(start))
		return err
	}

	if err := p.transcripts.Upsert(ctx, transcript); err != nil {
		p.finish(ctx, "failed", start)
		if statusErr := p.files.SetStatus(ctx, audioFileID, store.StatusFailed, err.Error()); statusErr != nil {
			log.Error("record failure status", "error", statusErr)
		}
		return err
	}
	if err := p.files.SetResult(ctx, audioFileID, transcript.DurationSeconds, transcript.Confidence); err != nil {
		log.Error("record transcript result", "error", err)
	}
	if err := p.files.SetStatus(ctx, audioFileID, store.StatusCompleted, ""); err != nil {
		// Leaving the row in transcribing would strand the file; record the
		// failure so it can be regenerated.
		if statusErr := p.files.SetStatus(ctx, audioFileID, store.StatusFailed, err.Error()); statusErr != nil {
			log.Error("record failure status", "error", statusErr)
		}
		return err
	}

	p.finish(ctx, "completed", start)
	log.Info("transcription completed",
		"confidence", transcript.Confidence,
		"segments", len(transcript.Segments),
		"duration", time.Since(start))

	if p.engine != nil {
		p.engine.Invalidate(audioFileID)
	}
	if p.indexer != nil && p.tasks != nil {
		text := transcript.Text
		p.tasks.Go(ctx, "index.build", func(ctx context.Context) error {
			return p.indexer.Build(ctx, audioFileID, text)
		})
	}
	return nil
}

// transcribeFile picks the direct or segmented path based on file size.
func (p *Pipeline) transcribeFile(ctx context.Context, file *store.AudioFile) (*store.Transcript, error) {
	if file.SizeBytes <= transcribe.MaxPayloadBytes {
		return p.transcribeDirect(ctx, file)
	}
	return p.transcribeSegmented(ctx, file)
}

// transcribeDirect sends the whole file in a single provider call.
func (p *Pipeline) transcribeDirect(ctx context.Context, file *store.AudioFile) (*store.Transcript, error) {
	result, err := p.transcribeOnce(ctx, file.StoredPath, file.Name)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(result.Text) == "" {
		return nil, ErrEmptyResult
	}

	return &store.Transcript{
		AudioFileID:     file.ID,
		Text:            strings.TrimSpace(result.Text),
		Language:        result.Language,
		DurationSeconds: result.Duration,
		Confidence:      result.Confidence(),
		Segments:        convertSegments(result.Segments, 0),
	}, nil
}

// chunkResult pairs one chunk with its transcription outcome.
type chunkResult struct {
	chunk  segment.Chunk
	result *transcribe.Result
}

// transcribeSegmented splits the file and transcribes chunks sequentially.
// Chunks that exhaust their retries are skipped; an authentication error
// aborts the whole run since later chunks would fail identically.
func (p *Pipeline) transcribeSegmented(ctx context.Context, file *store.AudioFile) (*store.Transcript, error) {
	log := observe.Logger(ctx).With("audio_file_id", file.ID)

	duration, err := p.splitter.Probe(ctx, file.StoredPath)
	if err != nil {
		return nil, err
	}

	chunks, splitErr := p.splitter.Split(ctx, file.StoredPath)
	defer func() {
		if err := segment.Cleanup(chunks); err != nil {
			log.Warn("chunk cleanup incomplete", "error", err)
		}
	}()
	if splitErr != nil {
		var encErr *segment.EncodeError
		if !errors.As(splitErr, &encErr) || len(chunks) == 0 {
			return nil, splitErr
		}
		// Partial split: transcribe what encoded and note the gaps.
		log.Warn("continuing with partial chunk set", "failed_chunks", encErr.FailedIndices)
	}

	var (
		results []chunkResult
		skipped int
	)
	for _, c := range chunks {
		name := fmt.Sprintf("%s (part %d)", file.Name, c.Index+1)
		result, err := p.transcribeOnce(ctx, c.Path, name)
		if err != nil {
			if errors.Is(err, resilience.ErrAborted) {
				return nil, fmt.Errorf("chunk %d: %w", c.Index, err)
			}
			skipped++
			if p.metrics != nil {
				p.metrics.ChunksSkipped.Add(ctx, 1)
			}
			log.Warn("chunk skipped after retries", "chunk", c.Index, "error", err)
			continue
		}
		results = append(results, chunkResult{chunk: c, result: result})
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("pipeline: all %d chunks failed", len(chunks))
	}
	if skipped > 0 {
		log.Warn("transcript has gaps", "skipped_chunks", skipped, "total_chunks", len(chunks))
	}

	return assembleTranscript(file.ID, duration, results)
}

// transcribeOnce wraps a single provider call in the retry policy.
func (p *Pipeline) transcribeOnce(ctx context.Context, path, displayName string) (*transcribe.Result, error) {
	start := time.Now()
	result, err := resilience.Retry(ctx, p.retry, func(ctx context.Context) (*transcribe.Result, error) {
		return p.stt.TranscribeOnce(ctx, path, displayName)
	})
	if p.metrics != nil {
		p.metrics.ChunkTranscriptionDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			p.metrics.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("provider", "transcription"),
				attribute.String("kind", transcribe.KindOf(err).String()),
			))
		}
	}
	return result, err
}

// assembleTranscript joins chunk results in chunk order: texts concatenated
// with single spaces, segment timestamps shifted by chunk offset, and
// confidence weighted by each chunk's text length.
func assembleTranscript(audioFileID string, duration float64, results []chunkResult) (*store.Transcript, error) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].chunk.Index < results[j].chunk.Index
	})

	var (
		texts       []string
		segments    []store.Segment
		language    string
		weightedSum float64
		totalWeight float64
	)
	for _, r := range results {
		text := strings.TrimSpace(r.result.Text)
		if text == "" {
			continue
		}
		texts = append(texts, text)
		segments = append(segments, convertSegments(r.result.Segments, r.chunk.Offset)...)
		if language == "" {
			language = r.result.Language
		}
		weight := float64(len(text))
		weightedSum += r.result.Confidence() * weight
		totalWeight += weight
	}

	if len(texts) == 0 {
		return nil, ErrEmptyResult
	}

	confidence := 0.0
	if totalWeight > 0 {
		confidence = weightedSum / totalWeight
	}

	return &store.Transcript{
		AudioFileID:     audioFileID,
		Text:            strings.Join(texts, " "),
		Language:        language,
		DurationSeconds: duration,
		Confidence:      confidence,
		Segments:        segments,
	}, nil
}

// convertSegments maps provider segments into stored segments, shifting
// timestamps by the chunk's offset within the source audio.
func convertSegments(segs []transcribe.Segment, offset float64) []store.Segment {
	out := make([]store.Segment, 0, len(segs))
	for _, s := range segs {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		out = append(out, store.Segment{
			Start: s.Start + offset,
			End:   s.End + offset,
			Text:  text,
		})
	}
	return out
}

func (p *Pipeline) finish(ctx context.Context, status string, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	p.metrics.TranscriptionsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}
