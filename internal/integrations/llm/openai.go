package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"findsanity/internal/domain"

	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

const ProviderOpenAI = "openai"

type OpenAIGenerator struct {
	client openai.Client
}

func NewOpenAIGenerator(apiKey string, httpClient *http.Client) *OpenAIGenerator {
	return &OpenAIGenerator{
		client: openai.NewClient(
			openaioption.WithAPIKey(apiKey),
			openaioption.WithHTTPClient(httpClient),
			openaioption.WithMaxRetries(0),
		),
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := responses.EasyInputMessageRoleUser
		if m.Role == RoleAssistant {
			role = responses.EasyInputMessageRoleAssistant
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(m.Text, role))
	}

	params := responses.ResponseNewParams{
		Model:           req.Model,
		MaxOutputTokens: openai.Int(int64(req.MaxTokens)),
		Instructions:    openai.String(req.System),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
	}
	resp, err := g.client.Responses.New(ctx, params)
	if err != nil {
		log.Printf("llm openai error model=%s: %v", req.Model, err)
		upErr := &UpstreamError{Provider: ProviderOpenAI, Err: err}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			upErr.StatusCode = apiErr.StatusCode
		}
		return GenerateResponse{}, upErr
	}

	out := GenerateResponse{Text: resp.OutputText(), Usage: openAIUsage(resp.Usage)}
	log.Printf("llm openai response model=%s size=%d tokens_in=%d tokens_out=%d cache_read=%d",
		req.Model, len(out.Text), out.Usage.InputTokens, out.Usage.OutputTokens, out.Usage.CacheReadInputTokens)
	if strings.TrimSpace(out.Text) == "" {
		return out, &UpstreamError{Provider: ProviderOpenAI, Err: fmt.Errorf("no text content in OpenAI response")}
	}
	return out, nil
}

// openAIUsage maps Responses API usage onto the Anthropic-style split where
// InputTokens excludes cache reads. OpenAI's input_tokens already counts them.
func openAIUsage(u responses.ResponseUsage) domain.Usage {
	cached := u.InputTokensDetails.CachedTokens
	uncached := u.InputTokens - cached
	if uncached < 0 {
		uncached = 0
	}
	return domain.Usage{
		InputTokens:          uncached,
		OutputTokens:         u.OutputTokens,
		CacheReadInputTokens: cached,
	}
}
