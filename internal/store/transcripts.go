package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TranscriptStore persists [Transcript] rows, one per audio file.
type TranscriptStore struct {
	db DB
}

// Upsert creates or replaces the transcript of an audio file. Regeneration
// replaces the previous transcript in place.
func (s *TranscriptStore) Upsert(ctx context.Context, t *Transcript) error {
	segJSON, err := json.Marshal(emptySegments(t.Segments))
	if err != nil {
		return fmt.Errorf("store: marshal segments: %w", err)
	}

	const query = `
		INSERT INTO transcripts (audio_file_id, text, language, duration_seconds, confidence, segments)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (audio_file_id) DO UPDATE SET
			text = EXCLUDED.text,
			language = EXCLUDED.language,
			duration_seconds = EXCLUDED.duration_seconds,
			confidence = EXCLUDED.confidence,
			segments = EXCLUDED.segments,
			updated_at = now()
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		t.AudioFileID, t.Text, t.Language, t.DurationSeconds, t.Confidence, segJSON,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert transcript for %q: %w", t.AudioFileID, err)
	}
	return nil
}

// Get retrieves the transcript of an audio file. Returns [ErrNotFound] if no
// transcript exists yet.
func (s *TranscriptStore) Get(ctx context.Context, audioFileID string) (*Transcript, error) {
	const query = `
		SELECT audio_file_id, text, language, duration_seconds, confidence, segments, created_at, updated_at
		FROM transcripts
		WHERE audio_file_id = $1`

	var (
		t       Transcript
		segJSON []byte
	)
	err := s.db.QueryRow(ctx, query, audioFileID).Scan(
		&t.AudioFileID, &t.Text, &t.Language, &t.DurationSeconds,
		&t.Confidence, &segJSON, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: transcript for %q", ErrNotFound, audioFileID)
		}
		return nil, fmt.Errorf("store: get transcript for %q: %w", audioFileID, err)
	}

	if err := json.Unmarshal(segJSON, &t.Segments); err != nil {
		return nil, fmt.Errorf("store: unmarshal segments: %w", err)
	}
	return &t, nil
}

// Delete removes the transcript of an audio file. Deleting a non-existent
// transcript is not an error.
func (s *TranscriptStore) Delete(ctx context.Context, audioFileID string) error {
	const query = `DELETE FROM transcripts WHERE audio_file_id = $1`
	if _, err := s.db.Exec(ctx, query, audioFileID); err != nil {
		return fmt.Errorf("store: delete transcript for %q: %w", audioFileID, err)
	}
	return nil
}

// emptySegments returns s if non-nil, otherwise an empty non-nil slice so
// JSON marshalling produces "[]" instead of "null".
func emptySegments(s []Segment) []Segment {
	if s == nil {
		return []Segment{}
	}
	return s
}
