package llm

import (
	"context"

	"findsanity/internal/domain"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role Role
	Text string
}

type GenerateRequest struct {
	System      string
	CacheSystem bool
	Messages    []Message
	Model       string
	MaxTokens   int
}

type GenerateResponse struct {
	Text  string
	Usage domain.Usage
}

// Generator sends one conversation to an inference provider and returns the
// first text block of the reply.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}
