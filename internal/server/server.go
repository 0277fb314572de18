// Package server exposes the EchoScribe HTTP API: audio upload and
// management, transcript access, retrieval-augmented chat, and the admin
// endpoints for the semantic index. Long-running work (transcription,
// indexing) is handed to the task runner so handlers return promptly.
package server

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/echoscribe/internal/agent"
	"github.com/MrWong99/echoscribe/internal/observe"
	"github.com/MrWong99/echoscribe/internal/retrieval"
	"github.com/MrWong99/echoscribe/internal/store"
	"github.com/MrWong99/echoscribe/internal/task"
)

// MaxUploadBytes caps the size of a multipart upload request.
const MaxUploadBytes = 100 << 20

// FileStore is the audio file persistence the server needs.
// *store.AudioFileStore satisfies it.
type FileStore interface {
	Create(ctx context.Context, f *store.AudioFile) error
	Get(ctx context.Context, id string) (*store.AudioFile, error)
	List(ctx context.Context) ([]store.AudioFile, error)
	Delete(ctx context.Context, id string) error
}

// TranscriptStore is the transcript persistence the server needs.
// *store.TranscriptStore satisfies it.
type TranscriptStore interface {
	Get(ctx context.Context, audioFileID string) (*store.Transcript, error)
}

// Transcriber runs the transcription pipeline for one file.
// *pipeline.Pipeline satisfies it.
type Transcriber interface {
	Run(ctx context.Context, audioFileID string) error
}

// Index is the persistent semantic index surface the admin endpoints need.
// *index.Indexer satisfies it.
type Index interface {
	Build(ctx context.Context, audioFileID, text string) error
	Exists(ctx context.Context, audioFileID string) (bool, error)
	Delete(ctx context.Context, audioFileID string) error
}

// Answerer answers chat questions about a file. *agent.Agent satisfies it.
type Answerer interface {
	AnswerQuestion(ctx context.Context, audioFileID, question string) (*agent.Answer, error)
}

// Config holds the server's own settings.
type Config struct {
	// UploadDir is where uploaded audio files are stored.
	UploadDir string
}

// Server implements the HTTP API.
type Server struct {
	files       FileStore
	transcripts TranscriptStore
	pipeline    Transcriber
	agent       Answerer
	tasks       *task.Runner
	cfg         Config

	// Optional wiring; each may be nil.
	index   Index
	engine  *retrieval.Engine
	metrics *observe.Metrics
}

// Option configures a [Server].
type Option func(*Server)

// WithIndex enables the semantic index admin endpoints and cascade deletion
// of index entries.
func WithIndex(ix Index) Option {
	return func(s *Server) { s.index = ix }
}

// WithRetrievalEngine lets the server invalidate cached ephemeral indexes on
// file deletion and regeneration.
func WithRetrievalEngine(e *retrieval.Engine) Option {
	return func(s *Server) { s.engine = e }
}

// WithMetrics enables HTTP request metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a Server.
func New(files FileStore, transcripts TranscriptStore, pipeline Transcriber, answerer Answerer, tasks *task.Runner, cfg Config, opts ...Option) *Server {
	s := &Server{
		files:       files,
		transcripts: transcripts,
		pipeline:    pipeline,
		agent:       answerer,
		tasks:       tasks,
		cfg:         cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the full API handler, wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/files", s.handleUpload)
	mux.HandleFunc("GET /api/files", s.handleListFiles)
	mux.HandleFunc("GET /api/files/{id}", s.handleGetFile)
	mux.HandleFunc("DELETE /api/files/{id}", s.handleDeleteFile)
	mux.HandleFunc("GET /api/files/{id}/transcript", s.handleGetTranscript)
	mux.HandleFunc("POST /api/files/{id}/regenerate", s.handleRegenerate)
	mux.HandleFunc("POST /api/files/{id}/chat", s.handleChat)
	mux.HandleFunc("GET /api/files/{id}/index", s.handleIndexStatus)
	mux.HandleFunc("POST /api/files/{id}/reindex", s.handleReindex)

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(mux, s.metrics)
}
