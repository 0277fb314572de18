// Package transcribe defines the Provider interface for batch speech-to-text
// backends.
//
// A transcription provider wraps a remote Whisper-style API (e.g., the Groq
// audio transcription endpoint) and exposes a single-shot interface: one audio
// file in, one transcription result out. Streaming recognition is deliberately
// out of scope; EchoScribe transcribes uploaded files, not live audio.
//
// Providers classify their failures into structured error kinds (see [Error])
// so that retry drivers can decide whether an attempt is worth repeating
// without inspecting error message text.
//
// Implementations must be safe for concurrent use; the pipeline may transcribe
// several assets at once through a shared Provider instance.
package transcribe

import (
	"context"
	"math"
)

// MaxPayloadBytes is the hard request-size limit of the Whisper-compatible
// transcription APIs (25 MB). Callers must check file size against this limit
// before calling [Provider.TranscribeOnce]; oversized audio has to be
// segmented first. The provider itself does not enforce it.
const MaxPayloadBytes = 25 * 1024 * 1024

// Segment is one timed span of recognised speech within a transcription
// result. Segments are never mutated after creation.
type Segment struct {
	// Start and End are offsets in seconds from the beginning of the
	// transcribed file.
	Start float64 `json:"start"`
	End   float64 `json:"end"`

	// Text is the recognised speech for this span.
	Text string `json:"text"`

	// AvgLogprob is the provider-reported average log-probability of the
	// tokens in this segment. Values are ≤ 0; exp(AvgLogprob) yields a
	// linear confidence in (0, 1].
	AvgLogprob float64 `json:"avg_logprob"`
}

// Result is the outcome of a single transcription call.
type Result struct {
	// Text is the full transcribed text.
	Text string

	// Language is the BCP-47 language tag reported by the provider.
	Language string

	// Duration is the audio duration in seconds as reported by the provider.
	// Zero when the provider does not report it.
	Duration float64

	// Segments are the timed spans making up Text, in ascending time order.
	Segments []Segment
}

// Confidence derives a scalar confidence in [0, 1] for the whole result: the
// mean of exp(avg_logprob) over all segments, clamped to 1. A result with no
// segments has confidence 0, so the caller cannot tell how reliable it is.
func (r *Result) Confidence() float64 {
	if len(r.Segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range r.Segments {
		sum += math.Exp(s.AvgLogprob)
	}
	return math.Min(sum/float64(len(r.Segments)), 1)
}

// Provider is the abstraction over any batch speech-to-text backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// TranscribeOnce submits the audio file at filePath for transcription and
	// waits for the result. displayName is the filename presented to the
	// provider (some APIs validate the extension); it does not have to match
	// the on-disk name.
	//
	// The file must be within [MaxPayloadBytes]; the provider does not check.
	// Failures are returned as *[Error] so callers can branch on [Kind].
	TranscribeOnce(ctx context.Context, filePath, displayName string) (*Result, error)
}
