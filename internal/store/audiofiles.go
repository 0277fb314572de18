package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// AudioFileStore persists [AudioFile] rows.
type AudioFileStore struct {
	db DB
}

const audioFileColumns = `id, name, stored_path, mime_type, size_bytes,
       duration_seconds, status, failure_reason, confidence, created_at, updated_at`

// Create inserts a new audio file record. Returns an error if the ID already
// exists.
func (s *AudioFileStore) Create(ctx context.Context, f *AudioFile) error {
	const query = `
		INSERT INTO audio_files (id, name, stored_path, mime_type, size_bytes, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	status := f.Status
	if status == "" {
		status = StatusUploaded
	}
	err := s.db.QueryRow(ctx, query,
		f.ID, f.Name, f.StoredPath, f.MimeType, f.SizeBytes, status,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("store: audio file %q already exists", f.ID)
		}
		return fmt.Errorf("store: create audio file: %w", err)
	}
	f.Status = status
	return nil
}

// Get retrieves an audio file by ID. Returns [ErrNotFound] if it does not
// exist.
func (s *AudioFileStore) Get(ctx context.Context, id string) (*AudioFile, error) {
	const query = `
		SELECT ` + audioFileColumns + `
		FROM audio_files
		WHERE id = $1`

	var f AudioFile
	err := s.db.QueryRow(ctx, query, id).Scan(
		&f.ID, &f.Name, &f.StoredPath, &f.MimeType, &f.SizeBytes,
		&f.DurationSeconds, &f.Status, &f.FailureReason, &f.Confidence,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: audio file %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("store: get audio file %q: %w", id, err)
	}
	return &f, nil
}

// List returns all audio files, newest first.
func (s *AudioFileStore) List(ctx context.Context) ([]AudioFile, error) {
	const query = `
		SELECT ` + audioFileColumns + `
		FROM audio_files
		ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list audio files: %w", err)
	}
	defer rows.Close()

	var files []AudioFile
	for rows.Next() {
		var f AudioFile
		if err := rows.Scan(
			&f.ID, &f.Name, &f.StoredPath, &f.MimeType, &f.SizeBytes,
			&f.DurationSeconds, &f.Status, &f.FailureReason, &f.Confidence,
			&f.CreatedAt, &f.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: list audio files scan: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list audio files: %w", err)
	}
	return files, nil
}

// SetStatus transitions the file's lifecycle status. failureReason is stored
// only for [StatusFailed] and cleared otherwise.
func (s *AudioFileStore) SetStatus(ctx context.Context, id string, status Status, failureReason string) error {
	if status != StatusFailed {
		failureReason = ""
	}
	const query = `
		UPDATE audio_files
		SET status = $2, failure_reason = $3, updated_at = now()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, status, failureReason)
	if err != nil {
		return fmt.Errorf("store: set status of %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: audio file %q", ErrNotFound, id)
	}
	return nil
}

// SetResult records the probed duration and aggregate confidence after a
// successful transcription.
func (s *AudioFileStore) SetResult(ctx context.Context, id string, durationSeconds, confidence float64) error {
	const query = `
		UPDATE audio_files
		SET duration_seconds = $2, confidence = $3, updated_at = now()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, durationSeconds, confidence)
	if err != nil {
		return fmt.Errorf("store: set result of %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: audio file %q", ErrNotFound, id)
	}
	return nil
}

// Delete removes the audio file row. Transcripts, conversations, and messages
// cascade via foreign keys. Deleting a non-existent file is not an error.
func (s *AudioFileStore) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM audio_files WHERE id = $1`
	if _, err := s.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("store: delete audio file %q: %w", id, err)
	}
	return nil
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
