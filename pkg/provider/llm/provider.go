// Package llm defines the Provider interface for chat-completion backends.
//
// EchoScribe's question answering is single-shot retrieval-augmented
// generation: one system prompt carrying retrieved transcript context, the
// prior conversation turns, the new user turn, one completion call. The
// interface therefore exposes only a blocking Complete method, without
// streaming or a tool-calling loop.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message is a single turn in a chat-completion conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is injected before the conversation history. Providers
	// that lack a dedicated system slot prepend it as a "system" message.
	SystemPrompt string

	// Messages is the ordered conversation history, ending with the user
	// turn that drives the response.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero means use
	// the provider default.
	Temperature float64

	// MaxTokens caps completion length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the full (non-streaming) model reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
