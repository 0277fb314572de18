// Package store persists EchoScribe's entities in PostgreSQL: uploaded audio
// files, their transcripts, and per-file chat conversations. The semantic
// index lives in the same database but is managed by the index package; both
// share one [pgxpool.Pool] created here.
package store

import "time"

// Status tracks an audio file through the transcription lifecycle.
type Status string

const (
	// StatusUploaded means the file is stored but processing has not started.
	StatusUploaded Status = "uploaded"

	// StatusTranscribing means the pipeline is currently running.
	StatusTranscribing Status = "transcribing"

	// StatusCompleted means a transcript exists for this file.
	StatusCompleted Status = "completed"

	// StatusFailed means the pipeline gave up; FailureReason explains why.
	StatusFailed Status = "failed"
)

// IsTerminal reports whether the status is a pipeline end state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AudioFile is an uploaded audio asset.
type AudioFile struct {
	// ID is a UUID string assigned at upload time.
	ID string

	// Name is the user-visible file name.
	Name string

	// StoredPath is the absolute path of the file on disk.
	StoredPath string

	// MimeType is the declared content type of the upload.
	MimeType string

	// SizeBytes is the stored file size.
	SizeBytes int64

	// DurationSeconds is the probed audio duration, 0 until known.
	DurationSeconds float64

	Status Status

	// FailureReason is set when Status is [StatusFailed].
	FailureReason string

	// Confidence is the aggregate transcription confidence in [0, 1],
	// 0 until a transcript exists.
	Confidence float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Segment is one timestamped span of a transcript.
type Segment struct {
	// Start and End are offsets into the audio, in seconds.
	Start float64 `json:"start"`
	End   float64 `json:"end"`

	Text string `json:"text"`
}

// Transcript is the full transcription of one audio file. There is at most
// one transcript per file; regeneration replaces it.
type Transcript struct {
	AudioFileID string

	// Text is the full transcript with chunk texts joined in order.
	Text string

	// Language is the detected language code, if the provider reported one.
	Language string

	DurationSeconds float64

	// Confidence is the length-weighted aggregate confidence in [0, 1].
	Confidence float64

	// Segments carries the timestamped spans, ordered by start time.
	Segments []Segment

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Conversation groups chat messages about one audio file. Questions always
// land in the file's most recent conversation.
type Conversation struct {
	ID          string
	AudioFileID string
	CreatedAt   time.Time
}

// Message is a single chat turn inside a conversation. Messages are
// append-only.
type Message struct {
	ID             int64
	ConversationID string

	// Role is "user" or "assistant".
	Role string

	Content string

	// Sources holds the transcript snippets an assistant turn was grounded
	// on. Empty for user turns and for fallback answers.
	Sources []string

	CreatedAt time.Time
}
