package pipeline

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/echoscribe/internal/resilience"
	"github.com/MrWong99/echoscribe/internal/segment"
	"github.com/MrWong99/echoscribe/internal/store"
	"github.com/MrWong99/echoscribe/pkg/provider/transcribe"
	sttmock "github.com/MrWong99/echoscribe/pkg/provider/transcribe/mock"
)

// ---------------------------------------------------------------------------
// Test fakes
// ---------------------------------------------------------------------------

type fakeFiles struct {
	file     *store.AudioFile
	statuses []store.Status
	reason   string
	duration float64
	conf     float64

	// failOn makes SetStatus return statusErr for that status.
	failOn    store.Status
	statusErr error
}

func (f *fakeFiles) Get(_ context.Context, id string) (*store.AudioFile, error) {
	if f.file == nil || f.file.ID != id {
		return nil, store.ErrNotFound
	}
	cp := *f.file
	return &cp, nil
}

func (f *fakeFiles) SetStatus(_ context.Context, _ string, status store.Status, reason string) error {
	if f.statusErr != nil && status == f.failOn {
		return f.statusErr
	}
	f.statuses = append(f.statuses, status)
	if status == store.StatusFailed {
		f.reason = reason
	}
	return nil
}

func (f *fakeFiles) SetResult(_ context.Context, _ string, duration, confidence float64) error {
	f.duration = duration
	f.conf = confidence
	return nil
}

func (f *fakeFiles) lastStatus() store.Status {
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

type fakeTranscripts struct {
	upserts []*store.Transcript
}

func (f *fakeTranscripts) Upsert(_ context.Context, t *store.Transcript) error {
	f.upserts = append(f.upserts, t)
	return nil
}

type fakeSplitter struct {
	duration float64
	chunks   []segment.Chunk
	splitErr error
}

func (f *fakeSplitter) Probe(_ context.Context, _ string) (float64, error) {
	return f.duration, nil
}

func (f *fakeSplitter) Split(_ context.Context, _ string) ([]segment.Chunk, error) {
	return f.chunks, f.splitErr
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		Name:        "transcribe",
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Retryable:   func(err error) bool { return transcribe.KindOf(err).Retryable() },
	}
}

// resultWithConfidence builds a provider result whose Confidence() equals
// conf, carrying text and a single segment spanning [0, 10].
func resultWithConfidence(text string, conf float64) *transcribe.Result {
	return &transcribe.Result{
		Text:     text,
		Language: "en",
		Duration: 10,
		Segments: []transcribe.Segment{
			{Start: 0, End: 10, Text: text, AvgLogprob: math.Log(conf)},
		},
	}
}

func smallFile() *store.AudioFile {
	return &store.AudioFile{
		ID:         "af-1",
		Name:       "talk.mp3",
		StoredPath: "/data/talk.mp3",
		SizeBytes:  1024,
	}
}

func largeFile() *store.AudioFile {
	f := smallFile()
	f.SizeBytes = transcribe.MaxPayloadBytes + 1
	return f
}

func testChunks(t *testing.T, n int) []segment.Chunk {
	t.Helper()
	dir := t.TempDir()
	chunks := make([]segment.Chunk, n)
	for i := range chunks {
		chunks[i] = segment.Chunk{
			Index:    i,
			Path:     filepath.Join(dir, "chunk.mp3"),
			Offset:   float64(i) * 600,
			Duration: 600,
		}
	}
	return chunks
}

// ---------------------------------------------------------------------------
// Direct path
// ---------------------------------------------------------------------------

func TestRun_DirectSuccess(t *testing.T) {
	files := &fakeFiles{file: smallFile()}
	transcripts := &fakeTranscripts{}
	stt := &sttmock.Provider{Script: []sttmock.Response{
		{Result: resultWithConfidence("hello world", 0.9)},
	}}

	p := New(stt, &fakeSplitter{}, files, transcripts, WithRetryConfig(fastRetry()))
	if err := p.Run(context.Background(), "af-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if files.lastStatus() != store.StatusCompleted {
		t.Fatalf("status = %q, want completed", files.lastStatus())
	}
	if len(transcripts.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(transcripts.upserts))
	}
	tr := transcripts.upserts[0]
	if tr.Text != "hello world" || tr.Language != "en" {
		t.Fatalf("transcript = %+v", tr)
	}
	if math.Abs(tr.Confidence-0.9) > 1e-9 {
		t.Fatalf("confidence = %v, want 0.9", tr.Confidence)
	}
	if math.Abs(files.conf-0.9) > 1e-9 {
		t.Fatalf("file confidence = %v, want 0.9", files.conf)
	}
	if stt.CallCount() != 1 {
		t.Fatalf("provider calls = %d, want 1", stt.CallCount())
	}
}

func TestRun_DirectEmptyTextFails(t *testing.T) {
	files := &fakeFiles{file: smallFile()}
	stt := &sttmock.Provider{Script: []sttmock.Response{
		{Result: &transcribe.Result{Text: "   ", Segments: []transcribe.Segment{{Text: "  "}}}},
	}}

	p := New(stt, &fakeSplitter{}, files, &fakeTranscripts{}, WithRetryConfig(fastRetry()))
	err := p.Run(context.Background(), "af-1")
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("err = %v, want ErrEmptyResult", err)
	}
	if files.lastStatus() != store.StatusFailed {
		t.Fatalf("status = %q, want failed", files.lastStatus())
	}
	if files.reason == "" {
		t.Fatal("failure reason not recorded")
	}
}

func TestRun_RetriesTransientErrors(t *testing.T) {
	files := &fakeFiles{file: smallFile()}
	transient := transcribe.NewError(transcribe.KindTransient, errors.New("503"))
	stt := &sttmock.Provider{Script: []sttmock.Response{
		{Err: transient},
		{Result: resultWithConfidence("recovered", 0.8)},
	}}

	p := New(stt, &fakeSplitter{}, files, &fakeTranscripts{}, WithRetryConfig(fastRetry()))
	if err := p.Run(context.Background(), "af-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stt.CallCount() != 2 {
		t.Fatalf("provider calls = %d, want 2", stt.CallCount())
	}
	if files.lastStatus() != store.StatusCompleted {
		t.Fatalf("status = %q, want completed", files.lastStatus())
	}
}

// ---------------------------------------------------------------------------
// Segmented path
// ---------------------------------------------------------------------------

func TestRun_SegmentedAssemblesInOrder(t *testing.T) {
	files := &fakeFiles{file: largeFile()}
	transcripts := &fakeTranscripts{}
	splitter := &fakeSplitter{duration: 1200, chunks: testChunks(t, 2)}
	stt := &sttmock.Provider{Script: []sttmock.Response{
		{Result: resultWithConfidence("first part", 0.9)},
		{Result: resultWithConfidence("second part", 0.9)},
	}}

	p := New(stt, splitter, files, transcripts, WithRetryConfig(fastRetry()))
	if err := p.Run(context.Background(), "af-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	tr := transcripts.upserts[0]
	if tr.Text != "first part second part" {
		t.Fatalf("text = %q", tr.Text)
	}
	if tr.DurationSeconds != 1200 {
		t.Fatalf("duration = %v, want probed 1200", tr.DurationSeconds)
	}
	// The second chunk's segment timestamps are shifted by its offset.
	if len(tr.Segments) != 2 || tr.Segments[1].Start != 600 || tr.Segments[1].End != 610 {
		t.Fatalf("segments = %+v", tr.Segments)
	}
}

func TestRun_SegmentedWeightsConfidenceByLength(t *testing.T) {
	files := &fakeFiles{file: largeFile()}
	transcripts := &fakeTranscripts{}
	splitter := &fakeSplitter{duration: 1200, chunks: testChunks(t, 2)}
	stt := &sttmock.Provider{Script: []sttmock.Response{
		{Result: resultWithConfidence(strings.Repeat("a", 100), 0.9)},
		{Result: resultWithConfidence(strings.Repeat("b", 300), 0.5)},
	}}

	p := New(stt, splitter, files, transcripts, WithRetryConfig(fastRetry()))
	if err := p.Run(context.Background(), "af-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// (0.9*100 + 0.5*300) / 400 = 0.6
	got := transcripts.upserts[0].Confidence
	if math.Abs(got-0.6) > 1e-9 {
		t.Fatalf("confidence = %v, want 0.6", got)
	}
}

func TestRun_AuthErrorAbortsRun(t *testing.T) {
	files := &fakeFiles{file: largeFile()}
	splitter := &fakeSplitter{duration: 1800, chunks: testChunks(t, 3)}
	authErr := transcribe.NewError(transcribe.KindAuth, errors.New("401"))
	stt := &sttmock.Provider{Script: []sttmock.Response{{Err: authErr}}}

	p := New(stt, splitter, files, &fakeTranscripts{}, WithRetryConfig(fastRetry()))
	err := p.Run(context.Background(), "af-1")
	if !errors.Is(err, resilience.ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	// No retries, no further chunks.
	if stt.CallCount() != 1 {
		t.Fatalf("provider calls = %d, want 1", stt.CallCount())
	}
	if files.lastStatus() != store.StatusFailed {
		t.Fatalf("status = %q, want failed", files.lastStatus())
	}
}

func TestRun_SkipsExhaustedChunk(t *testing.T) {
	files := &fakeFiles{file: largeFile()}
	transcripts := &fakeTranscripts{}
	splitter := &fakeSplitter{duration: 1200, chunks: testChunks(t, 2)}
	transient := transcribe.NewError(transcribe.KindTransient, errors.New("502"))
	stt := &sttmock.Provider{Script: []sttmock.Response{
		{Err: transient}, {Err: transient}, {Err: transient}, // chunk 0 exhausts retries
		{Result: resultWithConfidence("surviving chunk", 0.7)},
	}}

	p := New(stt, splitter, files, transcripts, WithRetryConfig(fastRetry()))
	if err := p.Run(context.Background(), "af-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if files.lastStatus() != store.StatusCompleted {
		t.Fatalf("status = %q, want completed", files.lastStatus())
	}
	if got := transcripts.upserts[0].Text; got != "surviving chunk" {
		t.Fatalf("text = %q", got)
	}
	if stt.CallCount() != 4 {
		t.Fatalf("provider calls = %d, want 4", stt.CallCount())
	}
}

func TestRun_AllChunksFail(t *testing.T) {
	files := &fakeFiles{file: largeFile()}
	splitter := &fakeSplitter{duration: 1200, chunks: testChunks(t, 2)}
	transient := transcribe.NewError(transcribe.KindTransient, errors.New("502"))
	stt := &sttmock.Provider{Script: []sttmock.Response{{Err: transient}}}

	p := New(stt, splitter, files, &fakeTranscripts{}, WithRetryConfig(fastRetry()))
	err := p.Run(context.Background(), "af-1")
	if err == nil {
		t.Fatal("expected error when all chunks fail")
	}
	if files.lastStatus() != store.StatusFailed {
		t.Fatalf("status = %q, want failed", files.lastStatus())
	}
}

func TestRun_CompletedStatusWriteFailureMarksFailed(t *testing.T) {
	files := &fakeFiles{
		file:      smallFile(),
		failOn:    store.StatusCompleted,
		statusErr: errors.New("connection reset"),
	}
	stt := &sttmock.Provider{Script: []sttmock.Response{
		{Result: resultWithConfidence("hello world", 0.9)},
	}}

	p := New(stt, &fakeSplitter{}, files, &fakeTranscripts{}, WithRetryConfig(fastRetry()))
	err := p.Run(context.Background(), "af-1")
	if err == nil {
		t.Fatal("expected error when the completed status cannot be recorded")
	}
	// The file must not be stranded in transcribing.
	if files.lastStatus() != store.StatusFailed {
		t.Fatalf("status = %q, want failed", files.lastStatus())
	}
	if files.reason == "" {
		t.Fatal("failure reason not recorded")
	}
}

func TestRun_UnknownFile(t *testing.T) {
	p := New(&sttmock.Provider{}, &fakeSplitter{}, &fakeFiles{}, &fakeTranscripts{}, WithRetryConfig(fastRetry()))
	if err := p.Run(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
