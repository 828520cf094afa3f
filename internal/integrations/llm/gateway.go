package llm

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"strings"
	"time"

	"findsanity/internal/config"
	"findsanity/internal/domain"
	"findsanity/internal/httpx"
	"findsanity/internal/policy"
)

const defaultTimeout = 45 * time.Second

// UsageSink receives one record per successful upstream call.
type UsageSink interface {
	RecordUsage(ctx context.Context, rec domain.UsageRecord) error
}

type Profile struct {
	Model     string
	MaxTokens int
}

type Options struct {
	Provider   string
	Profiles   map[string]Profile
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	Sink       UsageSink
}

// Gateway renders a policy template, calls the provider and decodes the
// structured reply into a caller-supplied value.
type Gateway struct {
	generator  Generator
	policy     *policy.Policy
	provider   string
	profiles   map[string]Profile
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	sink       UsageSink
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewGateway(gen Generator, pol *policy.Policy, opts Options) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	if opts.Provider == "" {
		opts.Provider = ProviderAnthropic
	}
	return &Gateway{
		generator:  gen,
		policy:     pol,
		provider:   opts.Provider,
		profiles:   opts.Profiles,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		sink:       opts.Sink,
		sleep:      sleepContext,
	}
}

// NewGatewayFromConfig picks the provider named by llm_provider.
func NewGatewayFromConfig(cfg config.Config, pol *policy.Policy, sink UsageSink) (*Gateway, error) {
	var gen Generator
	switch cfg.LLMProvider {
	case ProviderAnthropic:
		gen = NewAnthropicGenerator(cfg.AnthropicAPIKey, httpx.ExternalHTTPClient())
	case ProviderOpenAI:
		gen = NewOpenAIGenerator(cfg.OpenAIAPIKey, httpx.ExternalHTTPClient())
	default:
		return nil, fmt.Errorf("unsupported llm_provider %q", cfg.LLMProvider)
	}
	return NewGateway(gen, pol, Options{
		Provider: cfg.LLMProvider,
		Profiles: map[string]Profile{
			policy.ProfileAnalysis:   {Model: cfg.LLMAnalysisModel, MaxTokens: cfg.LLMAnalysisMaxTokens},
			policy.ProfileModeration: {Model: cfg.LLMModerationModel, MaxTokens: cfg.LLMModerationMaxTokens},
		},
		Timeout:    cfg.LLMTimeout(),
		MaxRetries: cfg.MaxRetries(),
		Backoff:    cfg.LLMRetryBackoff(),
		Sink:       sink,
	}), nil
}

func (g *Gateway) Policy() *policy.Policy { return g.policy }

// Classify renders the named template with vars, appends the schema of out
// and decodes the reply into out. A malformed reply gets exactly one
// corrective follow-up before MalformedResponseError is returned.
func (g *Gateway) Classify(ctx context.Context, templateName string, vars map[string]any, out any) (domain.Usage, error) {
	var total domain.Usage
	if v := reflect.ValueOf(out); v.Kind() != reflect.Pointer || v.IsNil() {
		return total, fmt.Errorf("classify %s: out must be a non-nil pointer", templateName)
	}
	tmpl, err := g.policy.Template(templateName)
	if err != nil {
		return total, err
	}
	prompt, err := tmpl.Render(vars)
	if err != nil {
		return total, err
	}
	schema, err := SchemaFor(out)
	if err != nil {
		return total, err
	}

	profile := g.profiles[tmpl.Profile]
	maxTokens := profile.MaxTokens
	if tmpl.MaxTokens > 0 {
		maxTokens = tmpl.MaxTokens
	}
	req := GenerateRequest{
		System:      g.policy.Preamble(tmpl.Profile),
		CacheSystem: tmpl.Profile == policy.ProfileAnalysis,
		Model:       profile.Model,
		MaxTokens:   maxTokens,
		Messages:    []Message{{Role: RoleUser, Text: prompt + "\n\n" + responseFormatInstructions(schema)}},
	}

	log.Printf("llm classify provider=%s template=%s model=%s max_tokens=%d", g.provider, templateName, req.Model, req.MaxTokens)
	resp, err := g.generate(ctx, templateName, req)
	total.Add(resp.Usage)
	if err != nil {
		return total, err
	}
	field, parseErr := decodeResponse(resp.Text, out)
	if parseErr == nil {
		return total, nil
	}
	log.Printf("llm classify malformed template=%s field=%s size=%d err=%v, sending correction", templateName, field, len(resp.Text), parseErr)

	req.Messages = append(req.Messages,
		Message{Role: RoleAssistant, Text: resp.Text},
		Message{Role: RoleUser, Text: correctiveInstruction(field, parseErr)},
	)
	resp, err = g.generate(ctx, templateName, req)
	total.Add(resp.Usage)
	if err != nil {
		return total, err
	}
	field, parseErr = decodeResponse(resp.Text, out)
	if parseErr != nil {
		log.Printf("llm classify malformed template=%s field=%s size=%d err=%v, giving up", templateName, field, len(resp.Text), parseErr)
		return total, &MalformedResponseError{Template: templateName, Field: field, Err: parseErr, Raw: resp.Text}
	}
	return total, nil
}

func (g *Gateway) generate(ctx context.Context, operation string, req GenerateRequest) (GenerateResponse, error) {
	var lastErr *UpstreamError
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			wait := g.backoff << (attempt - 1)
			log.Printf("llm retry provider=%s template=%s attempt=%d wait=%s err=%v", g.provider, operation, attempt, wait, lastErr)
			if err := g.sleep(ctx, wait); err != nil {
				return GenerateResponse{}, &UpstreamError{Provider: g.provider, Err: err}
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		resp, err := g.generator.Generate(callCtx, req)
		cancel()
		if err == nil {
			g.recordUsage(ctx, operation, req.Model, resp.Usage)
			return resp, nil
		}
		lastErr = asUpstreamError(g.provider, err)
		if !lastErr.Retryable() || ctx.Err() != nil {
			break
		}
	}
	return GenerateResponse{}, lastErr
}

func (g *Gateway) recordUsage(ctx context.Context, operation, model string, usage domain.Usage) {
	if g.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("llm usage sink panic template=%s: %v", operation, r)
		}
	}()
	rec := domain.UsageRecord{
		Service:   g.provider,
		Operation: operation,
		Model:     model,
		Usage:     usage,
		At:        time.Now().UTC(),
	}
	if err := g.sink.RecordUsage(ctx, rec); err != nil {
		log.Printf("llm usage record failed template=%s: %v", operation, err)
	}
}

func responseFormatInstructions(schema string) string {
	var b strings.Builder
	b.WriteString("Respond with a single JSON object and nothing else. It must match this JSON schema:\n")
	b.WriteString(schema)
	return b.String()
}

func correctiveInstruction(field string, err error) string {
	if field != "" {
		return fmt.Sprintf("Your previous reply could not be used: field %q is invalid (%v). Reply again with only the corrected JSON object matching the schema.", field, err)
	}
	return fmt.Sprintf("Your previous reply could not be used (%v). Reply again with only the JSON object matching the schema, with no commentary or code fences.", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
