// Command echoscribe is the main entry point for the EchoScribe server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/echoscribe/internal/app"
	"github.com/MrWong99/echoscribe/internal/config"
	"github.com/MrWong99/echoscribe/internal/resilience"
	"github.com/MrWong99/echoscribe/pkg/provider/embeddings"
	oaembed "github.com/MrWong99/echoscribe/pkg/provider/embeddings/openai"
	"github.com/MrWong99/echoscribe/pkg/provider/llm"
	"github.com/MrWong99/echoscribe/pkg/provider/llm/anyllm"
	"github.com/MrWong99/echoscribe/pkg/provider/transcribe"
	"github.com/MrWong99/echoscribe/pkg/provider/transcribe/groq"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "echoscribe: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "echoscribe: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("echoscribe starting",
		"version", app.Version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders instantiates the transcription, LLM, and embeddings
// providers named in cfg.
func buildProviders(cfg *config.Config) (*app.Providers, error) {
	ps := &app.Providers{}

	stt, err := buildTranscription(cfg.Providers.Transcription)
	if err != nil {
		return nil, fmt.Errorf("create transcription provider: %w", err)
	}
	ps.Transcription = stt
	slog.Info("provider created", "kind", "transcription", "name", cfg.Providers.Transcription.Name)

	group, err := buildLLMGroup(cfg.Providers.LLM, cfg.Providers.LLMFallbacks)
	if err != nil {
		return nil, fmt.Errorf("create llm provider: %w", err)
	}
	ps.LLM = group

	if entry := cfg.Providers.Embeddings; entry.Name != "" {
		emb, err := buildEmbeddings(entry)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", entry.Name, err)
		}
		ps.Embeddings = emb
		slog.Info("provider created", "kind", "embeddings", "name", entry.Name, "model", entry.Model)
	}

	return ps, nil
}

func buildTranscription(entry config.ProviderEntry) (transcribe.Provider, error) {
	name := entry.Name
	if name == "" {
		name = "groq"
	}
	if name != "groq" {
		return nil, fmt.Errorf("unknown transcription provider %q", name)
	}

	var opts []groq.Option
	if entry.Model != "" {
		opts = append(opts, groq.WithModel(entry.Model))
	}
	if entry.BaseURL != "" {
		opts = append(opts, groq.WithBaseURL(entry.BaseURL))
	}
	return groq.New(entry.APIKey, opts...)
}

// buildLLMGroup builds the primary LLM provider plus its failover chain, each
// guarded by its own circuit breaker.
func buildLLMGroup(primary config.ProviderEntry, fallbacks []config.ProviderEntry) (*resilience.FallbackGroup[llm.Provider], error) {
	if primary.Name == "" {
		return nil, errors.New("providers.llm.name is required")
	}

	p, err := buildLLM(primary)
	if err != nil {
		return nil, err
	}
	group := resilience.NewFallbackGroup[llm.Provider](p, primary.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		},
	})
	slog.Info("provider created", "kind", "llm", "name", primary.Name, "model", primary.Model)

	for _, entry := range fallbacks {
		fb, err := buildLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", entry.Name, err)
		}
		group.AddFallback(entry.Name, fb)
		slog.Info("llm fallback registered", "name", entry.Name, "model", entry.Model)
	}
	return group, nil
}

func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

func buildEmbeddings(entry config.ProviderEntry) (embeddings.Provider, error) {
	if entry.Name != "openai" {
		return nil, fmt.Errorf("unknown embeddings provider %q", entry.Name)
	}
	var opts []oaembed.Option
	if entry.BaseURL != "" {
		opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
	}
	return oaembed.New(entry.APIKey, entry.Model, opts...)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
