package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/MrWong99/echoscribe/internal/store"
)

// maxTimestampMatches caps how many segment hits a timestamp lookup returns.
const maxTimestampMatches = 5

// TimestampMatch is one segment containing a looked-up phrase.
type TimestampMatch struct {
	Start float64
	End   float64
	Text  string
}

// Timestamp renders the match's start as m:ss or h:mm:ss.
func (m TimestampMatch) Timestamp() string {
	total := int(m.Start)
	h := total / 3600
	min := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, min, s)
	}
	return fmt.Sprintf("%d:%02d", min, s)
}

// LookupTimestamps finds segments whose text contains phrase, case
// insensitively. At most [maxTimestampMatches] hits are returned, in segment
// order.
func LookupTimestamps(segments []store.Segment, phrase string) []TimestampMatch {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if phrase == "" {
		return nil
	}

	var matches []TimestampMatch
	for _, s := range segments {
		if !strings.Contains(strings.ToLower(s.Text), phrase) {
			continue
		}
		matches = append(matches, TimestampMatch{Start: s.Start, End: s.End, Text: s.Text})
		if len(matches) == maxTimestampMatches {
			break
		}
	}
	return matches
}

var (
	emailIntentRe  = regexp.MustCompile(`(?i)\b(e-?mail|send .{0,40}(summary|transcript))\b`)
	searchIntentRe = regexp.MustCompile(`(?i)\b(search the web|web search|look up online|google)\b`)
	addressRe      = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	quoteRe        = regexp.MustCompile(`"([^"]+)"|“([^”]+)”`)
)

// wantsEmail reports whether the question asks for a summary mail.
func wantsEmail(question string) bool {
	return emailIntentRe.MatchString(question)
}

// wantsWebSearch reports whether the question asks for a web lookup instead
// of a transcript answer.
func wantsWebSearch(question string) bool {
	return searchIntentRe.MatchString(question)
}

// findEmailAddress extracts the first mail address from the question.
func findEmailAddress(question string) string {
	return addressRe.FindString(question)
}

// quotedPhrase returns the first quoted phrase in the question, if any.
func quotedPhrase(question string) string {
	m := quoteRe.FindStringSubmatch(question)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}
