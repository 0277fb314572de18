// Package app wires all EchoScribe subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in reverse-init order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/echoscribe/internal/agent"
	"github.com/MrWong99/echoscribe/internal/config"
	"github.com/MrWong99/echoscribe/internal/email"
	"github.com/MrWong99/echoscribe/internal/index"
	indexpg "github.com/MrWong99/echoscribe/internal/index/postgres"
	"github.com/MrWong99/echoscribe/internal/observe"
	"github.com/MrWong99/echoscribe/internal/pipeline"
	"github.com/MrWong99/echoscribe/internal/resilience"
	"github.com/MrWong99/echoscribe/internal/retrieval"
	"github.com/MrWong99/echoscribe/internal/segment"
	"github.com/MrWong99/echoscribe/internal/server"
	"github.com/MrWong99/echoscribe/internal/store"
	"github.com/MrWong99/echoscribe/internal/task"
	"github.com/MrWong99/echoscribe/internal/websearch"
	"github.com/MrWong99/echoscribe/pkg/provider/embeddings"
	"github.com/MrWong99/echoscribe/pkg/provider/llm"
	"github.com/MrWong99/echoscribe/pkg/provider/transcribe"
)

// Version is the build version string, settable via -ldflags.
var Version = "dev"

// Providers holds the external AI providers built by main from the config.
type Providers struct {
	// Transcription is the speech-to-text backend. Required.
	Transcription transcribe.Provider

	// LLM is the chat-completion failover chain. Required.
	LLM *resilience.FallbackGroup[llm.Provider]

	// Embeddings backs semantic retrieval. Nil disables the persistent and
	// ephemeral index tiers; searches then fall back to keyword matching.
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics    *observe.Metrics
	store      *store.Store
	tasks      *task.Runner
	engine     *retrieval.Engine
	httpServer *http.Server

	mailer agent.Mailer
	search agent.Searcher

	// closers run in reverse-append order during Shutdown.
	closers  []func(ctx context.Context) error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMailer injects a summary mailer instead of building one from config.
func WithMailer(m agent.Mailer) Option {
	return func(a *App) { a.mailer = m }
}

// WithSearcher injects a web searcher instead of the DuckDuckGo client.
func WithSearcher(s agent.Searcher) Option {
	return func(a *App) { a.search = s }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main (built from the config).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers.Transcription == nil {
		return nil, errors.New("app: a transcription provider is required")
	}
	if providers.LLM == nil {
		return nil, errors.New("app: an llm provider is required")
	}

	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}

	if err := a.initTelemetry(); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	a.tasks = task.NewRunner(a.metrics)

	indexer, err := a.initIndexer(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: init semantic index: %w", err)
	}

	a.engine = retrieval.NewEngine(indexer, providers.Embeddings, a.tasks, a.metrics, retrieval.Config{
		TopK:            cfg.Retrieval.TopK,
		ChunkSize:       cfg.Retrieval.ChunkSize,
		ChunkOverlap:    cfg.Retrieval.ChunkOverlap,
		CacheMaxEntries: cfg.Retrieval.CacheMaxEntries,
	})

	pipe := a.buildPipeline(indexer)

	if err := a.initTools(); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	answerer := agent.New(providers.LLM, a.engine, a.store.Transcripts(), a.store.Conversations(),
		agent.WithSearcher(a.search),
		agent.WithMailer(a.mailer),
		agent.WithMetrics(a.metrics),
	)

	srvOpts := []server.Option{
		server.WithRetrievalEngine(a.engine),
		server.WithMetrics(a.metrics),
	}
	if indexer != nil {
		srvOpts = append(srvOpts, server.WithIndex(indexer))
	}
	srv := server.New(a.store.AudioFiles(), a.store.Transcripts(), pipe, answerer, a.tasks,
		server.Config{UploadDir: cfg.Storage.UploadDir}, srvOpts...)

	a.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initTelemetry installs the global meter and tracer providers.
func (a *App) initTelemetry() error {
	shutdown, err := observe.InitProvider(observe.ProviderConfig{
		ServiceVersion: Version,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdown)
	a.metrics = observe.DefaultMetrics()
	return nil
}

// initStore connects to PostgreSQL and migrates the entity tables.
func (a *App) initStore(ctx context.Context) error {
	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		return errors.New("storage.postgres_dsn is required")
	}

	st, err := store.New(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, func(context.Context) error {
		st.Close()
		return nil
	})
	return nil
}

// initIndexer migrates the pgvector table and builds the indexer, or returns
// nil when no embeddings provider is configured.
func (a *App) initIndexer(ctx context.Context) (*index.Indexer, error) {
	if a.providers.Embeddings == nil {
		slog.Info("no embeddings provider configured, semantic retrieval disabled")
		return nil, nil
	}

	dims := a.cfg.Storage.EmbeddingDimensions
	if err := indexpg.Migrate(ctx, a.store.Pool(), dims); err != nil {
		return nil, err
	}
	idx := indexpg.New(a.store.Pool())
	return index.NewIndexer(a.providers.Embeddings, idx,
		a.cfg.Retrieval.ChunkSize, a.cfg.Retrieval.ChunkOverlap), nil
}

// buildPipeline assembles the transcription pipeline with its follow-up
// wiring.
func (a *App) buildPipeline(indexer *index.Indexer) *pipeline.Pipeline {
	opts := []pipeline.Option{
		pipeline.WithRetrievalEngine(a.engine),
		pipeline.WithMetrics(a.metrics),
	}
	if indexer != nil {
		opts = append(opts, pipeline.WithIndexer(indexer, a.tasks))
	}
	return pipeline.New(a.providers.Transcription, segment.New(),
		a.store.AudioFiles(), a.store.Transcripts(), opts...)
}

// initTools builds the mailer and web searcher unless injected.
func (a *App) initTools() error {
	if a.mailer == nil {
		sender, err := email.NewSender(a.cfg.Email)
		if err != nil {
			return err
		}
		a.mailer = summaryMailer{sender: sender}
	}
	if a.search == nil {
		a.search = websearch.New()
	}
	return nil
}

// Run serves HTTP until ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.httpServer.ListenAndServe()
	}()

	slog.Info("app running", "listen_addr", a.httpServer.Addr)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	}
}

// Shutdown stops the HTTP server, waits for background tasks, and tears down
// the remaining subsystems in reverse-init order. It respects the context
// deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if err := a.httpServer.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
			shutdownErr = err
		}
		if err := a.tasks.Shutdown(ctx); err != nil {
			slog.Warn("background tasks did not finish", "err", err)
			shutdownErr = err
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// summaryMailer adapts an email.Sender to the agent's Mailer interface.
type summaryMailer struct {
	sender email.Sender
}

func (m summaryMailer) Send(ctx context.Context, to, subject, body string) error {
	return m.sender.Send(ctx, email.Message{To: to, Subject: subject, Body: body})
}
