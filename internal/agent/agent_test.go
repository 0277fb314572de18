package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/echoscribe/internal/resilience"
	"github.com/MrWong99/echoscribe/internal/retrieval"
	"github.com/MrWong99/echoscribe/internal/store"
	"github.com/MrWong99/echoscribe/internal/websearch"
	"github.com/MrWong99/echoscribe/pkg/provider/llm"
	llmmock "github.com/MrWong99/echoscribe/pkg/provider/llm/mock"
)

// ---------------------------------------------------------------------------
// Test fakes
// ---------------------------------------------------------------------------

type fakeTranscripts struct {
	transcript *store.Transcript
}

func (f *fakeTranscripts) Get(_ context.Context, id string) (*store.Transcript, error) {
	if f.transcript == nil || f.transcript.AudioFileID != id {
		return nil, store.ErrNotFound
	}
	return f.transcript, nil
}

type fakeConvs struct {
	convs    map[string]*store.Conversation
	messages map[string][]store.Message
}

func newFakeConvs() *fakeConvs {
	return &fakeConvs{
		convs:    map[string]*store.Conversation{},
		messages: map[string][]store.Message{},
	}
}

func (f *fakeConvs) Create(_ context.Context, c *store.Conversation) error {
	f.convs[c.AudioFileID] = c
	return nil
}

func (f *fakeConvs) Latest(_ context.Context, audioFileID string) (*store.Conversation, error) {
	c, ok := f.convs[audioFileID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeConvs) AppendMessage(_ context.Context, m *store.Message) error {
	m.ID = int64(len(f.messages[m.ConversationID]) + 1)
	f.messages[m.ConversationID] = append(f.messages[m.ConversationID], *m)
	return nil
}

func (f *fakeConvs) Messages(_ context.Context, conversationID string) ([]store.Message, error) {
	return f.messages[conversationID], nil
}

type fakeSearcher struct {
	result *websearch.Result
	err    error
	calls  int
}

func (f *fakeSearcher) Search(_ context.Context, _ string) (*websearch.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeMailer struct {
	to, subject, body string
	err               error
	calls             int
}

func (f *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	f.calls++
	f.to, f.subject, f.body = to, subject, body
	return f.err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testTranscript() *store.Transcript {
	return &store.Transcript{
		AudioFileID: "af-1",
		Text:        "Alice likes cats.\n\nBob likes dogs.",
		Segments: []store.Segment{
			{Start: 0, End: 5, Text: "Alice likes cats."},
			{Start: 5, End: 10, Text: "Bob likes dogs."},
		},
	}
}

func llmGroup(p llm.Provider) *resilience.FallbackGroup[llm.Provider] {
	return resilience.NewFallbackGroup(p, "primary", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 10},
	})
}

func keywordEngine() *retrieval.Engine {
	return retrieval.NewEngine(nil, nil, nil, nil, retrieval.Config{
		TopK: 4, ChunkSize: 1000, ChunkOverlap: 200, CacheMaxEntries: 4,
	})
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAnswerQuestion_HappyPath(t *testing.T) {
	primary := &llmmock.Provider{Response: "Bob likes dogs."}
	convs := newFakeConvs()
	a := New(llmGroup(primary), keywordEngine(), &fakeTranscripts{transcript: testTranscript()}, convs)

	answer, err := a.AnswerQuestion(context.Background(), "af-1", "What does Bob like?")
	if err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	if answer.Content != "Bob likes dogs." || answer.Fallback {
		t.Fatalf("answer = %+v", answer)
	}
	if answer.Strategy != retrieval.StrategyKeyword {
		t.Fatalf("strategy = %q, want keyword", answer.Strategy)
	}

	// Both turns are persisted.
	msgs := convs.messages[answer.ConversationID]
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("messages = %+v", msgs)
	}

	// The answer cites the retrieved passages, and the citations stick to
	// the stored assistant turn.
	if len(answer.Sources) == 0 {
		t.Fatal("answer has no sources")
	}
	if answer.Sources[0] != "Bob likes dogs." {
		t.Fatalf("sources = %v", answer.Sources)
	}
	if len(msgs[1].Sources) != len(answer.Sources) || msgs[1].Sources[0] != answer.Sources[0] {
		t.Fatalf("persisted sources = %v, want %v", msgs[1].Sources, answer.Sources)
	}
	if len(msgs[0].Sources) != 0 {
		t.Fatalf("user turn has sources: %v", msgs[0].Sources)
	}

	// The retrieved passage reaches the model via the system prompt.
	if !strings.Contains(primary.LastRequest().SystemPrompt, "Bob likes dogs.") {
		t.Fatalf("system prompt missing passage: %q", primary.LastRequest().SystemPrompt)
	}
}

func TestAnswerQuestion_SourcesTruncatedToSnippets(t *testing.T) {
	long := strings.Repeat("The quarterly budget was discussed at length. ", 10)
	transcript := &store.Transcript{AudioFileID: "af-1", Text: long}
	a := New(llmGroup(&llmmock.Provider{}), keywordEngine(), &fakeTranscripts{transcript: transcript}, newFakeConvs())

	answer, err := a.AnswerQuestion(context.Background(), "af-1", "What about the budget?")
	if err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	if len(answer.Sources) == 0 {
		t.Fatal("answer has no sources")
	}
	for _, src := range answer.Sources {
		if n := len([]rune(src)); n > sourceSnippetLen+1 {
			t.Fatalf("source snippet is %d runes: %q", n, src)
		}
	}
}

func TestAnswerQuestion_ReusesLatestConversation(t *testing.T) {
	convs := newFakeConvs()
	a := New(llmGroup(&llmmock.Provider{}), keywordEngine(), &fakeTranscripts{transcript: testTranscript()}, convs)

	first, err := a.AnswerQuestion(context.Background(), "af-1", "first question about cats")
	if err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	second, err := a.AnswerQuestion(context.Background(), "af-1", "second question about dogs")
	if err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	if first.ConversationID != second.ConversationID {
		t.Fatal("second question started a new conversation")
	}
	if len(convs.messages[first.ConversationID]) != 4 {
		t.Fatalf("messages = %d, want 4", len(convs.messages[first.ConversationID]))
	}
}

func TestAnswerQuestion_HistoryReplayedToModel(t *testing.T) {
	primary := &llmmock.Provider{}
	convs := newFakeConvs()
	a := New(llmGroup(primary), keywordEngine(), &fakeTranscripts{transcript: testTranscript()}, convs)

	if _, err := a.AnswerQuestion(context.Background(), "af-1", "first question about cats"); err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	if _, err := a.AnswerQuestion(context.Background(), "af-1", "and what about dogs?"); err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}

	req := primary.LastRequest()
	// Prior user turn + prior assistant turn + new user turn.
	if len(req.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(req.Messages))
	}
	if req.Messages[0].Content != "first question about cats" {
		t.Fatalf("history not replayed: %+v", req.Messages)
	}
}

func TestAnswerQuestion_FailoverToSecondary(t *testing.T) {
	primary := &llmmock.Provider{Err: errors.New("rate limited")}
	secondary := &llmmock.Provider{Response: "from secondary"}
	group := llmGroup(primary)
	group.AddFallback("secondary", secondary)

	a := New(group, keywordEngine(), &fakeTranscripts{transcript: testTranscript()}, newFakeConvs())
	answer, err := a.AnswerQuestion(context.Background(), "af-1", "What does Alice like?")
	if err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	if answer.Content != "from secondary" || answer.Fallback {
		t.Fatalf("answer = %+v", answer)
	}
}

func TestAnswerQuestion_AllProvidersFailReturnsFallbackAnswer(t *testing.T) {
	primary := &llmmock.Provider{Err: errors.New("down")}
	convs := newFakeConvs()
	a := New(llmGroup(primary), keywordEngine(), &fakeTranscripts{transcript: testTranscript()}, convs)

	answer, err := a.AnswerQuestion(context.Background(), "af-1", "What does Alice like?")
	if err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	if !answer.Fallback || answer.Content != FallbackAnswer {
		t.Fatalf("answer = %+v", answer)
	}
	// A fallback answer cites nothing.
	if len(answer.Sources) != 0 {
		t.Fatalf("fallback answer has sources: %v", answer.Sources)
	}
	// The apology is still recorded in the conversation.
	msgs := convs.messages[answer.ConversationID]
	if len(msgs) != 2 || msgs[1].Content != FallbackAnswer {
		t.Fatalf("messages = %+v", msgs)
	}
	if len(msgs[1].Sources) != 0 {
		t.Fatalf("persisted fallback sources = %v", msgs[1].Sources)
	}
}

func TestAnswerQuestion_MissingTranscript(t *testing.T) {
	a := New(llmGroup(&llmmock.Provider{}), keywordEngine(), &fakeTranscripts{}, newFakeConvs())
	if _, err := a.AnswerQuestion(context.Background(), "af-1", "question"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAnswerQuestion_WebSearchIntentSkipsRetrieval(t *testing.T) {
	primary := &llmmock.Provider{}
	search := &fakeSearcher{result: &websearch.Result{Summary: "Go is a language.", Source: "https://go.dev"}}
	a := New(llmGroup(primary), keywordEngine(), &fakeTranscripts{transcript: testTranscript()}, newFakeConvs(),
		WithSearcher(search))

	answer, err := a.AnswerQuestion(context.Background(), "af-1", "Please search the web for the Go language")
	if err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	if search.calls != 1 {
		t.Fatalf("search calls = %d, want 1", search.calls)
	}
	if answer.Strategy != "" {
		t.Fatalf("strategy = %q, want empty (retrieval skipped)", answer.Strategy)
	}
	if !strings.Contains(primary.LastRequest().SystemPrompt, "Go is a language.") {
		t.Fatal("web result missing from system prompt")
	}
}

func TestAnswerQuestion_EmailIntentSendsSummary(t *testing.T) {
	mailer := &fakeMailer{}
	a := New(llmGroup(&llmmock.Provider{Response: "Summary text."}), keywordEngine(),
		&fakeTranscripts{transcript: testTranscript()}, newFakeConvs(), WithMailer(mailer))

	answer, err := a.AnswerQuestion(context.Background(), "af-1", "Email a summary to alice@example.com please")
	if err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	if mailer.calls != 1 || mailer.to != "alice@example.com" {
		t.Fatalf("mailer = %+v", mailer)
	}
	if !strings.Contains(answer.Content, "alice@example.com") {
		t.Fatalf("answer does not mention delivery: %q", answer.Content)
	}
}

func TestAnswerQuestion_QuotedPhraseAddsTimestamps(t *testing.T) {
	primary := &llmmock.Provider{}
	a := New(llmGroup(primary), keywordEngine(), &fakeTranscripts{transcript: testTranscript()}, newFakeConvs())

	if _, err := a.AnswerQuestion(context.Background(), "af-1", `When was "likes dogs" said?`); err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	prompt := primary.LastRequest().SystemPrompt
	if !strings.Contains(prompt, "Timestamp lookup") || !strings.Contains(prompt, "0:05") {
		t.Fatalf("timestamp section missing: %q", prompt)
	}
}
