package transcribe

import (
	"errors"
	"fmt"
)

// Kind classifies a transcription failure for retry decisions.
type Kind int

const (
	// KindUnknown is the default classification. Unknown failures are
	// retried; a transient cause is more likely than a permanent one.
	KindUnknown Kind = iota

	// KindAuth marks invalid or missing credentials. Never retried; the
	// pipeline aborts the whole asset because every further call would fail
	// the same way.
	KindAuth

	// KindRateLimit marks a provider rate-limit rejection (HTTP 429).
	// Retryable with backoff.
	KindRateLimit

	// KindTransient marks network failures and provider 5xx responses.
	// Retryable with backoff.
	KindTransient
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Retryable reports whether a failure of this kind may succeed on a later
// attempt.
func (k Kind) Retryable() bool {
	return k != KindAuth
}

// Error is a classified transcription failure. All errors returned by
// [Provider.TranscribeOnce] implementations wrap their cause in an Error so
// that retry drivers can branch on [Kind] instead of matching message text.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcribe: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with the given kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the [Kind] from err. Errors that do not wrap an [Error]
// are classified as [KindUnknown].
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}
