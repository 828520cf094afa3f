// Package llmtest provides a scripted llm.Generator for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"findsanity/internal/domain"
	"findsanity/internal/integrations/llm"
	"findsanity/internal/policy"
)

type Reply struct {
	Text  string
	Err   error
	Usage domain.Usage
}

// Generator replays Replies in order. When Handler is set it is used instead.
type Generator struct {
	Replies []Reply
	Handler func(req llm.GenerateRequest) (string, error)

	mu       sync.Mutex
	requests []llm.GenerateRequest
}

func (g *Generator) Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx := len(g.requests)
	g.requests = append(g.requests, req)
	if err := ctx.Err(); err != nil {
		return llm.GenerateResponse{}, err
	}
	if g.Handler != nil {
		text, err := g.Handler(req)
		return llm.GenerateResponse{Text: text, Usage: domain.Usage{InputTokens: 10, OutputTokens: 5}}, err
	}
	if idx >= len(g.Replies) {
		return llm.GenerateResponse{}, fmt.Errorf("llmtest: unexpected call %d", idx+1)
	}
	r := g.Replies[idx]
	return llm.GenerateResponse{Text: r.Text, Usage: r.Usage}, r.Err
}

func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func (g *Generator) Requests() []llm.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]llm.GenerateRequest(nil), g.requests...)
}

// LastPrompt returns the final user message of the most recent request.
func (g *Generator) LastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		return ""
	}
	msgs := g.requests[len(g.requests)-1].Messages
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Text
}

// Gateway wires gen into a Gateway with both profiles configured and
// near-instant retry backoff.
func Gateway(gen llm.Generator, pol *policy.Policy, sink llm.UsageSink) *llm.Gateway {
	return llm.NewGateway(gen, pol, llm.Options{
		Provider: "test",
		Profiles: map[string]llm.Profile{
			policy.ProfileAnalysis:   {Model: "analysis-model", MaxTokens: 3000},
			policy.ProfileModeration: {Model: "moderation-model", MaxTokens: 400},
		},
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
		Sink:       sink,
	})
}
