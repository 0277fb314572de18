// Package mock provides a scripted transcribe.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/echoscribe/pkg/provider/transcribe"
)

// Compile-time assertion that Provider implements transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Call records one TranscribeOnce invocation.
type Call struct {
	FilePath    string
	DisplayName string
}

// Response is one scripted outcome. Responses are consumed in order; when the
// script is exhausted the last response repeats.
type Response struct {
	Result *transcribe.Result
	Err    error
}

// Provider is a scripted transcribe.Provider. Configure Script before use;
// inspect Calls afterwards. Safe for concurrent use.
type Provider struct {
	mu     sync.Mutex
	Script []Response
	Calls  []Call
	next   int
}

// TranscribeOnce implements transcribe.Provider by replaying the script.
func (p *Provider) TranscribeOnce(_ context.Context, filePath, displayName string) (*transcribe.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, Call{FilePath: filePath, DisplayName: displayName})

	if len(p.Script) == 0 {
		return &transcribe.Result{}, nil
	}
	r := p.Script[p.next]
	if p.next < len(p.Script)-1 {
		p.next++
	}
	return r.Result, r.Err
}

// CallCount returns how many times TranscribeOnce has been invoked.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
