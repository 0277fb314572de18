// Package groq provides a transcription provider backed by the Groq audio API.
//
// Groq exposes an OpenAI-compatible REST endpoint at
// POST /openai/v1/audio/transcriptions that runs Whisper models at high
// throughput. The provider submits the audio file as a multipart form with
// response_format=verbose_json so that per-segment timing and avg_logprob
// values are returned for confidence scoring.
//
// HTTP failures are classified into [transcribe.Kind] values at this boundary:
// 401/403 → auth, 429 → rate limit, 5xx and transport errors → transient.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/echoscribe/pkg/provider/transcribe"
)

const (
	// DefaultBaseURL is the Groq OpenAI-compatible API root.
	DefaultBaseURL = "https://api.groq.com/openai/v1"

	// DefaultModel is the Whisper model used when none is configured.
	DefaultModel = "whisper-large-v3"

	defaultTimeout = 5 * time.Minute
)

// Compile-time assertion that Provider implements transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// mimeTypes maps audio file extensions to their MIME types for the multipart
// file part. Unknown extensions fall back to audio/mpeg.
var mimeTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the default Groq API base URL. Useful for tests and
// for pointing the provider at any OpenAI-compatible transcription server.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithModel selects the Whisper model (e.g., "whisper-large-v3-turbo").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the ISO-639-1 language hint sent with every request.
// Empty lets the model auto-detect. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Large files at the 25 MB
// limit can take minutes to transcribe; the default is 5 minutes.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements transcribe.Provider against the Groq audio API.
// Safe for concurrent use.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider with the given API key. apiKey must be non-empty;
// without it every request would fail with an auth error anyway.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("groq: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		language:   "en",
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// verboseResponse mirrors the verbose_json response schema of the
// OpenAI-compatible transcription endpoint.
type verboseResponse struct {
	Text     string               `json:"text"`
	Language string               `json:"language"`
	Duration float64              `json:"duration"`
	Segments []transcribe.Segment `json:"segments"`
}

// errorResponse is the JSON error envelope returned on non-2xx statuses.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// TranscribeOnce implements transcribe.Provider.
func (p *Provider) TranscribeOnce(ctx context.Context, filePath, displayName string) (*transcribe.Result, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, transcribe.NewError(transcribe.KindUnknown, fmt.Errorf("groq: open %q: %w", filePath, err))
	}
	defer f.Close()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	part, err := createAudioPart(mw, displayName, filePath)
	if err != nil {
		return nil, transcribe.NewError(transcribe.KindUnknown, fmt.Errorf("groq: build form: %w", err))
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, transcribe.NewError(transcribe.KindUnknown, fmt.Errorf("groq: read audio: %w", err))
	}

	fields := map[string]string{
		"model":           p.model,
		"response_format": "verbose_json",
	}
	if p.language != "" {
		fields["language"] = p.language
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, transcribe.NewError(transcribe.KindUnknown, fmt.Errorf("groq: write field %q: %w", k, err))
		}
	}
	if err := mw.Close(); err != nil {
		return nil, transcribe.NewError(transcribe.KindUnknown, fmt.Errorf("groq: finalise form: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return nil, transcribe.NewError(transcribe.KindUnknown, fmt.Errorf("groq: build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, transcribe.NewError(transcribe.KindTransient, fmt.Errorf("groq: request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp)
	}

	var vr verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, transcribe.NewError(transcribe.KindUnknown, fmt.Errorf("groq: decode response: %w", err))
	}

	return &transcribe.Result{
		Text:     strings.TrimSpace(vr.Text),
		Language: vr.Language,
		Duration: vr.Duration,
		Segments: vr.Segments,
	}, nil
}

// createAudioPart adds the file form part with an explicit Content-Type, which
// some Whisper-compatible servers validate.
func createAudioPart(mw *multipart.Writer, displayName, filePath string) (io.Writer, error) {
	mimeType, ok := mimeTypes[strings.ToLower(filepath.Ext(filePath))]
	if !ok {
		mimeType = "audio/mpeg"
	}
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, displayName),
	}
	header["Content-Type"] = []string{mimeType}
	return mw.CreatePart(header)
}

// classifyStatus maps a non-2xx HTTP response to a classified error.
func classifyStatus(resp *http.Response) error {
	msg := readErrorMessage(resp.Body)

	var kind transcribe.Kind
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		kind = transcribe.KindAuth
	case resp.StatusCode == http.StatusTooManyRequests:
		kind = transcribe.KindRateLimit
	case resp.StatusCode >= 500:
		kind = transcribe.KindTransient
	default:
		kind = transcribe.KindUnknown
	}
	return transcribe.NewError(kind, fmt.Errorf("groq: http %d: %s", resp.StatusCode, msg))
}

// readErrorMessage extracts the provider error message from an error body,
// falling back to the raw body when it is not the expected JSON envelope.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "no error body"
	}
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Error.Message != "" {
		return er.Error.Message
	}
	return string(raw)
}
