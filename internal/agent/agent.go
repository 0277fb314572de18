// Package agent answers questions about transcribed audio. It combines the
// retrieval engine's transcript passages with conversation history into a
// single chat-completion call, failing over between LLM providers, and
// handles the side-channel intents a question may carry (web lookups, mailing
// a summary, timestamp lookups).
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/echoscribe/internal/observe"
	"github.com/MrWong99/echoscribe/internal/resilience"
	"github.com/MrWong99/echoscribe/internal/retrieval"
	"github.com/MrWong99/echoscribe/internal/store"
	"github.com/MrWong99/echoscribe/internal/websearch"
	"github.com/MrWong99/echoscribe/pkg/provider/llm"
)

// FallbackAnswer is returned when every LLM provider fails. The conversation
// still records the turn so the user can simply retry.
const FallbackAnswer = "I'm sorry, I wasn't able to generate an answer right now. Please try again in a moment."

// maxHistoryTurns bounds how much prior conversation is replayed to the model.
const maxHistoryTurns = 20

// sourceSnippetLen is how many runes of each retrieved passage are cited back
// as a source.
const sourceSnippetLen = 100

// TranscriptReader is the transcript access the agent needs.
// *store.TranscriptStore satisfies it.
type TranscriptReader interface {
	Get(ctx context.Context, audioFileID string) (*store.Transcript, error)
}

// ConversationStore is the chat persistence the agent needs.
// *store.ConversationStore satisfies it.
type ConversationStore interface {
	Create(ctx context.Context, c *store.Conversation) error
	Latest(ctx context.Context, audioFileID string) (*store.Conversation, error)
	AppendMessage(ctx context.Context, m *store.Message) error
	Messages(ctx context.Context, conversationID string) ([]store.Message, error)
}

// Searcher performs web lookups. *websearch.Client satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string) (*websearch.Result, error)
}

// Mailer sends summary mails.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Answer is the agent's reply to one question.
type Answer struct {
	ConversationID string
	Content        string

	// Sources are short snippets of the transcript passages the answer was
	// grounded on. Empty when retrieval was skipped or the answer is the
	// canned fallback.
	Sources []string

	// Strategy names the retrieval tier that supplied context, empty when
	// retrieval was skipped.
	Strategy retrieval.Strategy

	// Fallback is true when every LLM provider failed and Content is the
	// canned apology.
	Fallback bool
}

// Agent answers questions about one audio file at a time.
type Agent struct {
	llms        *resilience.FallbackGroup[llm.Provider]
	engine      *retrieval.Engine
	transcripts TranscriptReader
	convs       ConversationStore

	// Optional tools; each may be nil.
	search  Searcher
	mailer  Mailer
	metrics *observe.Metrics
}

// Option configures an [Agent].
type Option func(*Agent)

// WithSearcher enables web lookups for questions that ask for them.
func WithSearcher(s Searcher) Option {
	return func(a *Agent) { a.search = s }
}

// WithMailer enables summary mails for questions that ask for them.
func WithMailer(m Mailer) Option {
	return func(a *Agent) { a.mailer = m }
}

// WithMetrics enables agent metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// New creates an Agent. llms must contain at least a primary provider.
func New(llms *resilience.FallbackGroup[llm.Provider], engine *retrieval.Engine, transcripts TranscriptReader, convs ConversationStore, opts ...Option) *Agent {
	a := &Agent{
		llms:        llms,
		engine:      engine,
		transcripts: transcripts,
		convs:       convs,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnswerQuestion answers a question about the audio file's transcript inside
// the file's most recent conversation, starting one if none exists. Both the
// question and the answer are appended to the conversation, including the
// canned fallback when all providers fail.
func (a *Agent) AnswerQuestion(ctx context.Context, audioFileID, question string) (*Answer, error) {
	ctx, span := observe.StartSpan(ctx, "agent.AnswerQuestion")
	defer span.End()
	log := observe.Logger(ctx).With("audio_file_id", audioFileID)

	transcript, err := a.transcripts.Get(ctx, audioFileID)
	if err != nil {
		return nil, err
	}

	conv, err := a.conversation(ctx, audioFileID)
	if err != nil {
		return nil, err
	}

	history, err := a.convs.Messages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	if err := a.convs.AppendMessage(ctx, &store.Message{
		ConversationID: conv.ID,
		Role:           "user",
		Content:        question,
	}); err != nil {
		return nil, err
	}

	pc, strategy := a.buildContext(ctx, log, audioFileID, transcript, question)

	answer := &Answer{ConversationID: conv.ID, Strategy: strategy}
	resp, err := a.complete(ctx, pc, history, question)
	if err != nil {
		log.Error("all llm providers failed", "error", err)
		answer.Content = FallbackAnswer
		answer.Fallback = true
	} else {
		answer.Content = resp.Content
		answer.Sources = sourceSnippets(pc.passages)
	}

	if !answer.Fallback {
		answer.Content = a.handleEmailIntent(ctx, log, question, transcript, answer.Content)
	}

	if err := a.convs.AppendMessage(ctx, &store.Message{
		ConversationID: conv.ID,
		Role:           "assistant",
		Content:        answer.Content,
		Sources:        answer.Sources,
	}); err != nil {
		return nil, err
	}
	return answer, nil
}

// conversation returns the file's latest conversation, creating one if the
// file has none yet.
func (a *Agent) conversation(ctx context.Context, audioFileID string) (*store.Conversation, error) {
	conv, err := a.convs.Latest(ctx, audioFileID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	conv = &store.Conversation{ID: uuid.NewString(), AudioFileID: audioFileID}
	if err := a.convs.Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// buildContext gathers the prompt context for the question: web results for
// explicit lookup requests, transcript passages otherwise, plus timestamped
// matches when the question quotes a phrase.
func (a *Agent) buildContext(ctx context.Context, log *slog.Logger, audioFileID string, transcript *store.Transcript, question string) (promptContext, retrieval.Strategy) {
	var pc promptContext

	if wantsWebSearch(question) && a.search != nil {
		result, err := a.search.Search(ctx, question)
		if err != nil {
			if !errors.Is(err, websearch.ErrNoAnswer) {
				log.Warn("web search failed", "error", err)
			}
		} else {
			pc.webResult = result
		}
		// Lookup questions are about the web, not the transcript.
		return pc, ""
	}

	if phrase := quotedPhrase(question); phrase != "" {
		pc.timestampPhrase = phrase
		pc.timestampMatches = LookupTimestamps(transcript.Segments, phrase)
	}

	passages, strategy, err := a.engine.Search(ctx, audioFileID, transcript.Text, question)
	if err != nil {
		if !errors.Is(err, retrieval.ErrNoContent) {
			log.Warn("retrieval failed", "error", err)
		}
		return pc, ""
	}
	pc.passages = passages
	return pc, strategy
}

// complete runs the chat completion across the provider fallback chain.
func (a *Agent) complete(ctx context.Context, pc promptContext, history []store.Message, question string) (*llm.CompletionResponse, error) {
	messages := make([]llm.Message, 0, len(history)+1)
	start := len(history) - maxHistoryTurns
	if start < 0 {
		start = 0
	}
	for _, m := range history[start:] {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: question})

	req := llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(pc),
		Messages:     messages,
	}

	begin := time.Now()
	resp, err := resilience.ExecuteWithResult(a.llms, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	if a.metrics != nil {
		a.metrics.LLMDuration.Record(ctx, time.Since(begin).Seconds())
	}
	return resp, err
}

// handleEmailIntent sends the answer as a summary mail when the question asks
// for one and an address can be found, annotating the answer accordingly.
func (a *Agent) handleEmailIntent(ctx context.Context, log *slog.Logger, question string, transcript *store.Transcript, content string) string {
	if !wantsEmail(question) || a.mailer == nil {
		return content
	}

	to := findEmailAddress(question)
	if to == "" {
		return content + "\n\nIf you'd like this summary emailed, please include the recipient address in your question."
	}

	body := content + "\n\n---\nTranscript excerpt:\n" + excerpt(transcript.Text, 500)
	if err := a.mailer.Send(ctx, to, "Audio transcript summary", body); err != nil {
		log.Warn("summary email failed", "to", to, "error", err)
		return content + fmt.Sprintf("\n\n(I couldn't deliver the summary email to %s.)", to)
	}
	return content + fmt.Sprintf("\n\n(I've emailed this summary to %s.)", to)
}

// sourceSnippets trims the retrieved passages down to citable snippets.
func sourceSnippets(passages []retrieval.Passage) []string {
	if len(passages) == 0 {
		return nil
	}
	snippets := make([]string, len(passages))
	for i, p := range passages {
		snippets[i] = excerpt(p.Text, sourceSnippetLen)
	}
	return snippets
}

// excerpt returns at most n runes of text.
func excerpt(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "…"
}
