// Package moderation screens comments and enforces the rolling three-strike
// block.
package moderation

import (
	"context"
	"fmt"
	"log"
	"strings"

	"findsanity/internal/domain"
	"findsanity/internal/policy"
)

type Classifier interface {
	Classify(ctx context.Context, templateName string, vars map[string]any, out any) (domain.Usage, error)
}

type response struct {
	Approved   *bool  `json:"approved"`
	Reason     string `json:"reason"`
	Severity   string `json:"severity,omitempty" jsonschema:"enum=low,enum=medium,enum=high"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (r *response) Validate() error {
	if r.Approved == nil {
		return domain.MissingField("approved")
	}
	if !*r.Approved && strings.TrimSpace(r.Reason) == "" {
		return domain.MissingField("reason")
	}
	if strings.TrimSpace(r.Severity) != "" {
		if _, ok := domain.ParseSeverity(r.Severity); !ok {
			return &domain.FieldError{Field: "severity", Problem: fmt.Sprintf("must be low, medium or high, got %q", r.Severity)}
		}
	}
	return nil
}

type Evaluator struct {
	classifier Classifier
}

func NewEvaluator(classifier Classifier) *Evaluator {
	return &Evaluator{classifier: classifier}
}

// Moderate classifies one comment on the moderation profile.
func (e *Evaluator) Moderate(ctx context.Context, text string) (domain.ModerationVerdict, error) {
	var resp response
	if _, err := e.classifier.Classify(ctx, policy.TemplateModeration, map[string]any{"Content": text}, &resp); err != nil {
		return domain.ModerationVerdict{}, fmt.Errorf("moderate: %w", err)
	}
	verdict := domain.ModerationVerdict{
		Approved:   *resp.Approved,
		Reason:     strings.TrimSpace(resp.Reason),
		Suggestion: strings.TrimSpace(resp.Suggestion),
	}
	severity, ok := domain.ParseSeverity(resp.Severity)
	switch {
	case ok:
		verdict.Severity = severity
	case verdict.Approved:
		verdict.Severity = domain.SeverityLow
	default:
		verdict.Severity = domain.SeverityMedium
	}
	if verdict.Approved {
		verdict.Suggestion = ""
	}
	log.Printf("moderation verdict approved=%t severity=%s", verdict.Approved, verdict.Severity)
	return verdict, nil
}
