package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per concern. [Validate] warns
// about unrecognised names instead of failing, so new providers can be rolled
// out without a lock-step config change.
var ValidProviderNames = map[string][]string{
	"transcription": {"groq"},
	"llm":           {"groq", "openai", "anthropic", "ollama", "mistral"},
	"embeddings":    {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests with string-literal configs.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("transcription", cfg.Providers.Transcription.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, fb := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.Transcription.Name == "" {
		errs = append(errs, errors.New("providers.transcription.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; chat answers will be unavailable")
	}
	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("no embeddings provider configured; retrieval degrades to keyword search")
	}

	if cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required"))
	}
	if cfg.Storage.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("storage.embedding_dimensions %d must be positive", cfg.Storage.EmbeddingDimensions))
	}

	if cfg.Retrieval.ChunkOverlap >= cfg.Retrieval.ChunkSize {
		errs = append(errs, fmt.Errorf("retrieval.chunk_overlap %d must be smaller than retrieval.chunk_size %d",
			cfg.Retrieval.ChunkOverlap, cfg.Retrieval.ChunkSize))
	}
	if cfg.Retrieval.TopK < 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k %d must be positive", cfg.Retrieval.TopK))
	}

	if !cfg.Email.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("email.mode %q is invalid; valid values: console, smtp", cfg.Email.Mode))
	}
	if cfg.Email.Mode == EmailSMTP {
		if cfg.Email.Host == "" {
			errs = append(errs, errors.New("email.host is required when email.mode is smtp"))
		}
		if cfg.Email.From == "" {
			errs = append(errs, errors.New("email.from is required when email.mode is smtp"))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName warns (does not error) about unknown provider names.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if !slices.Contains(ValidProviderNames[kind], name) {
		slog.Warn("unrecognised provider name",
			"kind", kind,
			"name", name,
			"known", ValidProviderNames[kind])
	}
}
