// Package mock provides a scripted llm.Provider for testing. Responses are
// queued by the test and returned in order; every request is recorded.
package mock

import (
	"context"
	"sync"

	"github.com/hearthline/hearthline/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider is a scripted llm.Provider.
type Provider struct {
	// CompleteErr, when set, is returned by every Complete call.
	CompleteErr error

	// Caps is returned by Capabilities.
	Caps llm.ModelCapabilities

	mu        sync.Mutex
	responses []*llm.CompletionResponse
	requests  []llm.CompletionRequest
}

// QueueResponse appends one response to be returned by the next Complete call.
func (p *Provider) QueueResponse(resp *llm.CompletionResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, resp)
}

// Complete records req and pops the next queued response. When the queue is
// empty an empty response is returned.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if len(p.responses) == 0 {
		return &llm.CompletionResponse{}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

// StreamCompletion replays the next queued response as a single chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.Chunk, 1)
	chunk := llm.Chunk{Text: resp.Content, FinishReason: "stop", ToolCalls: resp.ToolCalls}
	if len(resp.ToolCalls) > 0 {
		chunk.FinishReason = "tool_calls"
	}
	ch <- chunk
	close(ch)
	return ch, nil
}

// CountTokens approximates four characters per token.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
	}
	return total, nil
}

// Capabilities returns the configured capabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities { return p.Caps }

// Requests returns a copy of every recorded request, in order.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}
