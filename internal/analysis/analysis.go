// Package analysis runs the single-call journal analysis: private reflection,
// safety verdict and suggested public post.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"findsanity/internal/anonymize"
	"findsanity/internal/domain"
	"findsanity/internal/policy"
	"findsanity/internal/safety"
)

var ErrTooManyLinkedEntries = fmt.Errorf("at most %d linked entries are allowed", domain.MaxLinkedEntries)

const crisisPostNote = "this entry needs support first; the suggested post is held back."

type Classifier interface {
	Classify(ctx context.Context, templateName string, vars map[string]any, out any) (domain.Usage, error)
}

type unifiedResponse struct {
	JournalTitle  string              `json:"journal_title"`
	Analysis      string              `json:"analysis"`
	Safety        *safety.Response    `json:"safety"`
	SuggestedPost *anonymize.Response `json:"suggested_post"`
}

// Validate treats every top-level part as required, whatever the decision.
func (r *unifiedResponse) Validate() error {
	if strings.TrimSpace(r.JournalTitle) == "" {
		return domain.MissingField("journal_title")
	}
	if strings.TrimSpace(r.Analysis) == "" {
		return domain.MissingField("analysis")
	}
	if r.Safety == nil {
		return domain.MissingField("safety")
	}
	if err := r.Safety.Validate(); err != nil {
		return nested("safety", err)
	}
	if r.SuggestedPost == nil {
		return domain.MissingField("suggested_post")
	}
	if err := r.SuggestedPost.Validate(); err != nil {
		return nested("suggested_post", err)
	}
	return nil
}

func nested(prefix string, err error) error {
	var fieldErr *domain.FieldError
	if errors.As(err, &fieldErr) {
		return &domain.FieldError{Field: prefix + "." + fieldErr.Field, Problem: fieldErr.Problem}
	}
	return &domain.FieldError{Field: prefix, Problem: err.Error()}
}

type Orchestrator struct {
	classifier Classifier
	policy     *policy.Policy
}

func NewOrchestrator(classifier Classifier, pol *policy.Policy) *Orchestrator {
	return &Orchestrator{classifier: classifier, policy: pol}
}

// Analyze makes one analysis-profile call for entry and applies the safety
// and anonymization backstops to the result.
func (o *Orchestrator) Analyze(ctx context.Context, entry domain.Entry, linked []domain.LinkedEntry, historicalTopics []string) (domain.UnifiedAnalysisResult, error) {
	if len(linked) > domain.MaxLinkedEntries {
		return domain.UnifiedAnalysisResult{}, fmt.Errorf("analyze: %w (got %d)", ErrTooManyLinkedEntries, len(linked))
	}
	intent := safety.PromptIntent(o.policy, entry.Intent)
	vars := map[string]any{
		"Intent":             string(intent),
		"LinkedEntries":      linkedEntriesBlock(linked),
		"Content":            entry.Text,
		"HistoricalTopics":   historicalTopicsBlock(historicalTopics),
		"IntentInstructions": o.policy.IntentInstructions(intent),
	}

	var resp unifiedResponse
	if _, err := o.classifier.Classify(ctx, policy.TemplateUnified, vars, &resp); err != nil {
		return domain.UnifiedAnalysisResult{}, fmt.Errorf("analyze: %w", err)
	}

	suggested := anonymize.Finalize(o.policy, resp.SuggestedPost.Draft(), entry.Text, entry.Intent, historicalTopics)
	verdict := safety.Enforce(o.policy, resp.Safety.Result(), entry.Text, entry.Intent, historicalTopics)
	verdict = safety.EnsureAlternative(o.policy, verdict, suggested.AsAlternative(), entry.Text, entry.Intent, historicalTopics)
	if verdict.CrisisIndicated() {
		suggested.SafeToPublish = false
		suggested.SafetyNotes = safety.AppendNote(suggested.SafetyNotes, crisisPostNote)
	}

	result := domain.UnifiedAnalysisResult{
		JournalTitle:      strings.TrimSpace(resp.JournalTitle),
		PrivateReflection: strings.TrimSpace(resp.Analysis),
		Safety:            verdict,
		SuggestedPost:     suggested,
	}
	log.Printf("analysis complete intent=%s linked=%d decision=%s cause=%s crisis=%t post_words=%d",
		intent, len(linked), verdict.Decision, verdict.Cause, verdict.Crisis, len(strings.Fields(suggested.Body)))
	return result, nil
}

func linkedEntriesBlock(linked []domain.LinkedEntry) string {
	if len(linked) == 0 {
		return "no previous sessions linked for this entry."
	}
	var b strings.Builder
	b.WriteString("<linked_entries>\n")
	for i, e := range linked {
		title := strings.TrimSpace(e.Title)
		if title == "" {
			title = "untitled"
		}
		fmt.Fprintf(&b, "## Previous Entry %d: %s\n", i+1, title)
		if !e.CompletedAt.IsZero() {
			fmt.Fprintf(&b, "Date: %s\n", e.CompletedAt.UTC().Format(time.DateOnly))
		}
		if len(e.Topics) > 0 {
			fmt.Fprintf(&b, "Topics: %s\n", strings.Join(e.Topics, ", "))
		}
		b.WriteString(strings.TrimSpace(e.Body))
		b.WriteString("\n\n")
	}
	b.WriteString("</linked_entries>")
	return b.String()
}

func historicalTopicsBlock(topics []string) string {
	if len(topics) == 0 {
		return "the writer has no topics yet. create short lowercase hyphenated topics."
	}
	return fmt.Sprintf("<existing_topics>%s</existing_topics>\nprefer reusing these exact topic strings when they fit; only add a new topic when none of them does.",
		strings.Join(topics, ", "))
}
