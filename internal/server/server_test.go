package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/echoscribe/internal/agent"
	"github.com/MrWong99/echoscribe/internal/store"
	"github.com/MrWong99/echoscribe/internal/task"
)

// ---------------------------------------------------------------------------
// Test fakes
// ---------------------------------------------------------------------------

type fakeFiles struct {
	mu      sync.Mutex
	files   map[string]*store.AudioFile
	deleted []string
}

func newFakeFiles(files ...*store.AudioFile) *fakeFiles {
	f := &fakeFiles{files: map[string]*store.AudioFile{}}
	for _, file := range files {
		f.files[file.ID] = file
	}
	return f
}

func (f *fakeFiles) Create(_ context.Context, file *store.AudioFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	file.Status = store.StatusUploaded
	f.files[file.ID] = file
	return nil
}

func (f *fakeFiles) Get(_ context.Context, id string) (*store.AudioFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return file, nil
}

func (f *fakeFiles) List(_ context.Context) ([]store.AudioFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.AudioFile
	for _, file := range f.files {
		out = append(out, *file)
	}
	return out, nil
}

func (f *fakeFiles) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeTranscripts struct {
	transcript *store.Transcript
}

func (f *fakeTranscripts) Get(_ context.Context, id string) (*store.Transcript, error) {
	if f.transcript == nil || f.transcript.AudioFileID != id {
		return nil, store.ErrNotFound
	}
	return f.transcript, nil
}

type fakePipeline struct {
	mu   sync.Mutex
	runs []string
}

func (f *fakePipeline) Run(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, id)
	return nil
}

func (f *fakePipeline) ranFor(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r == id {
			return true
		}
	}
	return false
}

type fakeIndex struct {
	mu      sync.Mutex
	exists  bool
	builds  []string
	deletes []string
}

func (f *fakeIndex) Build(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds = append(f.builds, id)
	return nil
}

func (f *fakeIndex) Exists(_ context.Context, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, nil
}

func (f *fakeIndex) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return nil
}

type fakeAnswerer struct {
	answer *agent.Answer
	err    error
}

func (f *fakeAnswerer) AnswerQuestion(_ context.Context, _, _ string) (*agent.Answer, error) {
	return f.answer, f.err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fixture struct {
	server   *Server
	files    *fakeFiles
	pipeline *fakePipeline
	index    *fakeIndex
	tasks    *task.Runner
}

func newFixture(t *testing.T, transcript *store.Transcript, answerer Answerer, files ...*store.AudioFile) *fixture {
	t.Helper()
	fx := &fixture{
		files:    newFakeFiles(files...),
		pipeline: &fakePipeline{},
		index:    &fakeIndex{},
		tasks:    task.NewRunner(nil),
	}
	fx.server = New(fx.files, &fakeTranscripts{transcript: transcript}, fx.pipeline, answerer, fx.tasks,
		Config{UploadDir: t.TempDir()},
		WithIndex(fx.index))
	return fx
}

// drain waits for all scheduled background tasks to finish.
func (fx *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fx.tasks.Shutdown(ctx); err != nil {
		t.Fatalf("task shutdown: %v", err)
	}
}

func (fx *fixture) do(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	return rec
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestUpload_StoresFileAndSchedulesPipeline(t *testing.T) {
	fx := newFixture(t, nil, nil)

	body, contentType := multipartUpload(t, "meeting.mp3", []byte("not really audio"))
	rec := fx.do(t, http.MethodPost, "/api/files", body, contentType)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}

	resp := decode[fileResponse](t, rec)
	if resp.ID == "" || resp.Name != "meeting.mp3" || resp.MimeType != "audio/mpeg" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Status != string(store.StatusUploaded) {
		t.Fatalf("status = %q, want uploaded", resp.Status)
	}

	file, err := fx.files.Get(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("file record missing: %v", err)
	}
	data, err := os.ReadFile(file.StoredPath)
	if err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if string(data) != "not really audio" || file.SizeBytes != int64(len(data)) {
		t.Fatalf("stored %q size %d", data, file.SizeBytes)
	}

	fx.drain(t)
	if !fx.pipeline.ranFor(resp.ID) {
		t.Fatal("pipeline was not scheduled for the upload")
	}
}

func TestUpload_RejectsUnsupportedType(t *testing.T) {
	fx := newFixture(t, nil, nil)

	body, contentType := multipartUpload(t, "notes.txt", []byte("text"))
	rec := fx.do(t, http.MethodPost, "/api/files", body, contentType)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rec.Code)
	}
	if len(fx.files.files) != 0 {
		t.Fatal("rejected upload created a file record")
	}
}

func TestUpload_MissingFileField(t *testing.T) {
	fx := newFixture(t, nil, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("name", "x")
	_ = mw.Close()

	rec := fx.do(t, http.MethodPost, "/api/files", &buf, mw.FormDataContentType())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetFile(t *testing.T) {
	file := &store.AudioFile{ID: "af-1", Name: "a.mp3", Status: store.StatusCompleted}
	fx := newFixture(t, nil, nil, file)

	rec := fx.do(t, http.MethodGet, "/api/files/af-1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decode[fileResponse](t, rec); resp.ID != "af-1" {
		t.Fatalf("response = %+v", resp)
	}

	if rec := fx.do(t, http.MethodGet, "/api/files/nope", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListFiles(t *testing.T) {
	fx := newFixture(t, nil, nil,
		&store.AudioFile{ID: "af-1"},
		&store.AudioFile{ID: "af-2"})

	rec := fx.do(t, http.MethodGet, "/api/files", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decode[[]fileResponse](t, rec); len(resp) != 2 {
		t.Fatalf("files = %d, want 2", len(resp))
	}
}

func TestDeleteFile_Cascades(t *testing.T) {
	dir := t.TempDir()
	storedPath := filepath.Join(dir, "af-1.mp3")
	if err := os.WriteFile(storedPath, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write stored file: %v", err)
	}

	fx := newFixture(t, nil, nil, &store.AudioFile{ID: "af-1", StoredPath: storedPath})
	rec := fx.do(t, http.MethodDelete, "/api/files/af-1", nil, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}

	if len(fx.files.deleted) != 1 || fx.files.deleted[0] != "af-1" {
		t.Fatalf("deleted = %v", fx.files.deleted)
	}
	if len(fx.index.deletes) != 1 || fx.index.deletes[0] != "af-1" {
		t.Fatalf("index deletes = %v", fx.index.deletes)
	}
	if _, err := os.Stat(storedPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stored file still present: %v", err)
	}
}

func TestGetTranscript(t *testing.T) {
	transcript := &store.Transcript{
		AudioFileID: "af-1",
		Text:        "hello world",
		Segments:    []store.Segment{{Start: 0, End: 2, Text: "hello world"}},
	}
	fx := newFixture(t, transcript, nil, &store.AudioFile{ID: "af-1"})

	rec := fx.do(t, http.MethodGet, "/api/files/af-1/transcript", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[transcriptResponse](t, rec)
	if resp.Text != "hello world" || len(resp.Segments) != 1 {
		t.Fatalf("response = %+v", resp)
	}

	if rec := fx.do(t, http.MethodGet, "/api/files/other/transcript", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRegenerate_SchedulesPipeline(t *testing.T) {
	fx := newFixture(t, nil, nil, &store.AudioFile{ID: "af-1"})

	rec := fx.do(t, http.MethodPost, "/api/files/af-1/regenerate", nil, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	fx.drain(t)
	if !fx.pipeline.ranFor("af-1") {
		t.Fatal("pipeline was not scheduled")
	}
}

func TestChat(t *testing.T) {
	answer := &agent.Answer{
		ConversationID: "conv-1",
		Content:        "Bob likes dogs.",
		Sources:        []string{"Bob likes dogs.", "Alice likes cats."},
		Strategy:       "keyword",
	}
	fx := newFixture(t, nil, &fakeAnswerer{answer: answer}, &store.AudioFile{ID: "af-1"})

	body := bytes.NewBufferString(`{"question":"What does Bob like?"}`)
	rec := fx.do(t, http.MethodPost, "/api/files/af-1/chat", body, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	resp := decode[chatResponse](t, rec)
	if resp.ConversationID != "conv-1" || resp.Answer != "Bob likes dogs." {
		t.Fatalf("response = %+v", resp)
	}
	if len(resp.Sources) != 2 || resp.Sources[0] != "Bob likes dogs." {
		t.Fatalf("sources = %v", resp.Sources)
	}
}

func TestChat_FallbackAnswerHasEmptySources(t *testing.T) {
	answer := &agent.Answer{ConversationID: "conv-1", Content: agent.FallbackAnswer, Fallback: true}
	fx := newFixture(t, nil, &fakeAnswerer{answer: answer}, &store.AudioFile{ID: "af-1"})

	body := bytes.NewBufferString(`{"question":"anything"}`)
	rec := fx.do(t, http.MethodPost, "/api/files/af-1/chat", body, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	// The sources field is present as an empty list, never null.
	if !strings.Contains(rec.Body.String(), `"sources":[]`) {
		t.Fatalf("body = %q, want empty sources list", rec.Body.String())
	}
	resp := decode[chatResponse](t, rec)
	if !resp.Fallback || len(resp.Sources) != 0 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestChat_EmptyQuestion(t *testing.T) {
	fx := newFixture(t, nil, &fakeAnswerer{}, &store.AudioFile{ID: "af-1"})

	body := bytes.NewBufferString(`{"question":"   "}`)
	if rec := fx.do(t, http.MethodPost, "/api/files/af-1/chat", body, "application/json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChat_TranscriptMissing(t *testing.T) {
	fx := newFixture(t, nil, &fakeAnswerer{err: store.ErrNotFound}, &store.AudioFile{ID: "af-1"})

	body := bytes.NewBufferString(`{"question":"anything"}`)
	if rec := fx.do(t, http.MethodPost, "/api/files/af-1/chat", body, "application/json"); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestIndexStatus(t *testing.T) {
	fx := newFixture(t, nil, nil, &store.AudioFile{ID: "af-1"})
	fx.index.exists = true

	rec := fx.do(t, http.MethodGet, "/api/files/af-1/index", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decode[map[string]bool](t, rec); !resp["indexed"] {
		t.Fatalf("response = %v", resp)
	}
}

func TestReindex_SchedulesBuild(t *testing.T) {
	transcript := &store.Transcript{AudioFileID: "af-1", Text: "some text"}
	fx := newFixture(t, transcript, nil, &store.AudioFile{ID: "af-1"})

	rec := fx.do(t, http.MethodPost, "/api/files/af-1/reindex", nil, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	fx.drain(t)
	if len(fx.index.builds) != 1 || fx.index.builds[0] != "af-1" {
		t.Fatalf("builds = %v", fx.index.builds)
	}
}

func TestReindex_WithoutIndexConfigured(t *testing.T) {
	fx := &fixture{
		files:    newFakeFiles(),
		pipeline: &fakePipeline{},
		tasks:    task.NewRunner(nil),
	}
	fx.server = New(fx.files, &fakeTranscripts{}, fx.pipeline, nil, fx.tasks, Config{UploadDir: t.TempDir()})

	if rec := fx.do(t, http.MethodPost, "/api/files/af-1/reindex", nil, ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	fx := newFixture(t, nil, nil)
	rec := fx.do(t, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	fx := newFixture(t, nil, nil)
	rec := fx.do(t, http.MethodGet, "/metrics", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
