// Package mock provides a scripted llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/echoscribe/pkg/provider/llm"
)

// Compile-time assertion that Provider implements llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Provider is a scripted llm.Provider. It returns Response (or Err when set)
// for every Complete call and records the requests it receives.
// Safe for concurrent use.
type Provider struct {
	// Response is the content returned on success. Defaults to "ok".
	Response string

	// Err, when non-nil, is returned instead of a response.
	Err error

	mu       sync.Mutex
	Requests []llm.CompletionRequest
}

// Complete implements llm.Provider.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}
	content := p.Response
	if content == "" {
		content = "ok"
	}
	return &llm.CompletionResponse{Content: content}, nil
}

// LastRequest returns the most recent request, or a zero request when none
// have been made.
func (p *Provider) LastRequest() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Requests) == 0 {
		return llm.CompletionRequest{}
	}
	return p.Requests[len(p.Requests)-1]
}

// CallCount returns how many Complete calls have been made.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}
