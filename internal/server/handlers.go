package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/echoscribe/internal/observe"
	"github.com/MrWong99/echoscribe/internal/retrieval"
	"github.com/MrWong99/echoscribe/internal/store"
)

// allowedAudioTypes maps accepted upload extensions to the mime type recorded
// for the file.
var allowedAudioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
}

// fileResponse is the JSON shape of an audio file.
type fileResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	MimeType        string    `json:"mime_type"`
	SizeBytes       int64     `json:"size_bytes"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Status          string    `json:"status"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	Confidence      float64   `json:"confidence,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toFileResponse(f *store.AudioFile) fileResponse {
	return fileResponse{
		ID:              f.ID,
		Name:            f.Name,
		MimeType:        f.MimeType,
		SizeBytes:       f.SizeBytes,
		DurationSeconds: f.DurationSeconds,
		Status:          string(f.Status),
		FailureReason:   f.FailureReason,
		Confidence:      f.Confidence,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}
}

// transcriptResponse is the JSON shape of a transcript.
type transcriptResponse struct {
	AudioFileID     string          `json:"audio_file_id"`
	Text            string          `json:"text"`
	Language        string          `json:"language,omitempty"`
	DurationSeconds float64         `json:"duration_seconds"`
	Confidence      float64         `json:"confidence"`
	Segments        []store.Segment `json:"segments"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// chatRequest is the body of a chat question.
type chatRequest struct {
	Question string `json:"question"`
}

// chatResponse is the agent's reply.
type chatResponse struct {
	ConversationID string             `json:"conversation_id"`
	Answer         string             `json:"answer"`
	Sources        []string           `json:"sources"`
	Strategy       retrieval.Strategy `json:"strategy,omitempty"`
	Fallback       bool               `json:"fallback,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart request: "+err.Error())
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, `missing "file" form field`)
		return
	}
	defer part.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	mimeType, ok := allowedAudioTypes[ext]
	if !ok {
		respondError(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("unsupported audio type %q", ext))
		return
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		s.internalError(w, r, "create upload dir", err)
		return
	}

	id := uuid.NewString()
	storedPath := filepath.Join(s.cfg.UploadDir, id+ext)
	size, err := writeUpload(storedPath, part)
	if err != nil {
		s.internalError(w, r, "store upload", err)
		return
	}

	file := &store.AudioFile{
		ID:         id,
		Name:       header.Filename,
		StoredPath: storedPath,
		MimeType:   mimeType,
		SizeBytes:  size,
	}
	if err := s.files.Create(r.Context(), file); err != nil {
		_ = os.Remove(storedPath)
		s.internalError(w, r, "create file record", err)
		return
	}

	s.scheduleTranscription(r.Context(), id)
	respondJSON(w, http.StatusAccepted, toFileResponse(file))
}

// writeUpload copies the uploaded part to path, removing the partial file on
// failure.
func writeUpload(path string, src io.Reader) (int64, error) {
	dst, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	size, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return size, nil
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.files.List(r.Context())
	if err != nil {
		s.internalError(w, r, "list files", err)
		return
	}

	out := make([]fileResponse, len(files))
	for i := range files {
		out[i] = toFileResponse(&files[i])
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	file, err := s.files.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, r, "get file", err)
		return
	}
	respondJSON(w, http.StatusOK, toFileResponse(file))
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	log := observe.Logger(ctx).With("audio_file_id", id)

	file, err := s.files.Get(ctx, id)
	if err != nil {
		s.storeError(w, r, "get file", err)
		return
	}

	// Row deletion cascades to the transcript and conversations.
	if err := s.files.Delete(ctx, id); err != nil {
		s.internalError(w, r, "delete file", err)
		return
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, id); err != nil {
			log.Warn("delete index entries", "error", err)
		}
	}
	if s.engine != nil {
		s.engine.Invalidate(id)
	}
	if err := os.Remove(file.StoredPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("remove stored audio", "path", file.StoredPath, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	t, err := s.transcripts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, r, "get transcript", err)
		return
	}
	respondJSON(w, http.StatusOK, transcriptResponse{
		AudioFileID:     t.AudioFileID,
		Text:            t.Text,
		Language:        t.Language,
		DurationSeconds: t.DurationSeconds,
		Confidence:      t.Confidence,
		Segments:        t.Segments,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.files.Get(r.Context(), id); err != nil {
		s.storeError(w, r, "get file", err)
		return
	}

	if s.engine != nil {
		s.engine.Invalidate(id)
	}
	s.scheduleTranscription(r.Context(), id)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		respondError(w, http.StatusBadRequest, "question must not be empty")
		return
	}

	answer, err := s.agent.AnswerQuestion(r.Context(), r.PathValue("id"), req.Question)
	if err != nil {
		s.storeError(w, r, "answer question", err)
		return
	}
	sources := answer.Sources
	if sources == nil {
		sources = []string{}
	}
	respondJSON(w, http.StatusOK, chatResponse{
		ConversationID: answer.ConversationID,
		Answer:         answer.Content,
		Sources:        sources,
		Strategy:       answer.Strategy,
		Fallback:       answer.Fallback,
	})
}

func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		respondError(w, http.StatusServiceUnavailable, "semantic index not configured")
		return
	}

	indexed, err := s.index.Exists(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, r, "query index status", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"indexed": indexed})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		respondError(w, http.StatusServiceUnavailable, "semantic index not configured")
		return
	}

	id := r.PathValue("id")
	t, err := s.transcripts.Get(r.Context(), id)
	if err != nil {
		s.storeError(w, r, "get transcript", err)
		return
	}

	text := t.Text
	s.tasks.Go(r.Context(), "index.build", func(ctx context.Context) error {
		return s.index.Build(ctx, id, text)
	})
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) scheduleTranscription(ctx context.Context, id string) {
	s.tasks.Go(ctx, "pipeline.run", func(ctx context.Context) error {
		return s.pipeline.Run(ctx, id)
	})
}

// storeError maps store lookup failures onto HTTP statuses.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	s.internalError(w, r, op, err)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	observe.Logger(r.Context()).Error(op, "error", err)
	respondError(w, http.StatusInternalServerError, "internal error")
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
