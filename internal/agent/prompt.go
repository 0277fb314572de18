package agent

import (
	"fmt"
	"strings"

	"github.com/MrWong99/echoscribe/internal/retrieval"
	"github.com/MrWong99/echoscribe/internal/websearch"
)

// promptContext collects everything that goes into the system prompt for one
// question.
type promptContext struct {
	passages         []retrieval.Passage
	webResult        *websearch.Result
	timestampPhrase  string
	timestampMatches []TimestampMatch
}

const basePrompt = `You are an assistant answering questions about an audio recording based on its transcript. Answer using the provided context. If the context does not contain the answer, say so honestly instead of guessing. Keep answers concise.`

// buildSystemPrompt assembles the system prompt from the base instructions
// and whatever context sections are present.
func buildSystemPrompt(pc promptContext) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	if len(pc.passages) > 0 {
		b.WriteString("\n\nRelevant transcript passages:\n")
		for i, p := range pc.passages {
			fmt.Fprintf(&b, "\n[%d] %s\n", i+1, p.Text)
		}
	}

	if pc.timestampPhrase != "" {
		b.WriteString("\n\nTimestamp lookup for \"" + pc.timestampPhrase + "\":")
		if len(pc.timestampMatches) == 0 {
			b.WriteString(" no matches found in the transcript.\n")
		} else {
			b.WriteString("\n")
			for _, m := range pc.timestampMatches {
				fmt.Fprintf(&b, "- [%s] %s\n", m.Timestamp(), m.Text)
			}
		}
	}

	if pc.webResult != nil {
		b.WriteString("\n\nWeb search result:\n")
		b.WriteString(pc.webResult.Summary)
		if pc.webResult.Source != "" {
			b.WriteString("\nSource: " + pc.webResult.Source)
		}
		b.WriteString("\n")
	}

	return b.String()
}
