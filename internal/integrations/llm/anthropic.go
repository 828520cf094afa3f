package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const ProviderAnthropic = "anthropic"

type AnthropicGenerator struct {
	client anthropic.Client
}

// NewAnthropicGenerator disables SDK retries; the Gateway owns retry policy.
func NewAnthropicGenerator(apiKey string, httpClient *http.Client) *AnthropicGenerator {
	return &AnthropicGenerator{
		client: anthropic.NewClient(
			option.WithAPIKey(apiKey),
			option.WithHTTPClient(httpClient),
			option.WithMaxRetries(0),
		),
	}
}

func (g *AnthropicGenerator) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	system := anthropic.TextBlockParam{Text: req.System}
	if req.CacheSystem {
		system.CacheControl = anthropic.NewCacheControlEphemeralParam()
	}
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
	}

	message, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		System:    []anthropic.TextBlockParam{system},
		Messages:  messages,
	})
	if err != nil {
		log.Printf("llm anthropic error model=%s: %v", req.Model, err)
		upErr := &UpstreamError{Provider: ProviderAnthropic, Err: err}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			upErr.StatusCode = apiErr.StatusCode
		}
		return GenerateResponse{}, upErr
	}

	resp := GenerateResponse{}
	resp.Usage.InputTokens = message.Usage.InputTokens
	resp.Usage.OutputTokens = message.Usage.OutputTokens
	resp.Usage.CacheCreationInputTokens = message.Usage.CacheCreationInputTokens
	resp.Usage.CacheReadInputTokens = message.Usage.CacheReadInputTokens

	for _, block := range message.Content {
		if block.Type == "text" {
			resp.Text = block.Text
			log.Printf("llm anthropic response model=%s size=%d tokens_in=%d tokens_out=%d cache_create=%d cache_read=%d",
				req.Model, len(block.Text), resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.CacheCreationInputTokens, resp.Usage.CacheReadInputTokens)
			return resp, nil
		}
	}
	return resp, &UpstreamError{Provider: ProviderAnthropic, Err: fmt.Errorf("no text content in Anthropic response")}
}
