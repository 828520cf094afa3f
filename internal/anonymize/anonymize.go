// Package anonymize rewrites a journal entry into a de-identified public post.
package anonymize

import (
	"context"
	"fmt"
	"log"
	"strings"

	"findsanity/internal/domain"
	"findsanity/internal/policy"
	"findsanity/internal/safety"
)

const MaxPostWords = 400

const scrubNote = "identifying details were removed automatically; review the post before publishing."

type Classifier interface {
	Classify(ctx context.Context, templateName string, vars map[string]any, out any) (domain.Usage, error)
}

// Response is the wire shape of a suggested post.
type Response struct {
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	ClearAsk      string   `json:"clear_ask"`
	Topics        []string `json:"topics"`
	SafeToPublish bool     `json:"safe_to_publish"`
	SafetyNotes   string   `json:"safety_notes,omitempty"`
}

func (r *Response) Validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return domain.MissingField("content")
	}
	return nil
}

func (r Response) Draft() domain.AnonymizedDraft {
	return domain.AnonymizedDraft{
		Title:         r.Title,
		Body:          r.Content,
		ClearAsk:      r.ClearAsk,
		Topics:        r.Topics,
		SafeToPublish: r.SafeToPublish,
		SafetyNotes:   r.SafetyNotes,
	}
}

type Anonymizer struct {
	classifier Classifier
	policy     *policy.Policy
}

func New(classifier Classifier, pol *policy.Policy) *Anonymizer {
	return &Anonymizer{classifier: classifier, policy: pol}
}

// Anonymize always produces a draft, whatever the safety verdict was.
func (a *Anonymizer) Anonymize(ctx context.Context, text string, intent domain.Intent, topics []string) (domain.AnonymizedDraft, error) {
	promptIntent := safety.PromptIntent(a.policy, intent)
	vars := map[string]any{
		"Content":   text,
		"Intent":    string(promptIntent),
		"Topics":    strings.Join(safety.NormalizeTopics(topics), ", "),
		"IntentAsk": a.policy.ClearAsk(promptIntent),
	}
	var resp Response
	if _, err := a.classifier.Classify(ctx, policy.TemplateAnonymize, vars, &resp); err != nil {
		return domain.AnonymizedDraft{}, fmt.Errorf("anonymize: %w", err)
	}
	draft := Finalize(a.policy, resp.Draft(), text, intent, topics)
	log.Printf("anonymize draft words=%d topics=%d safe=%t", len(strings.Fields(draft.Body)), len(draft.Topics), draft.SafeToPublish)
	return draft, nil
}

// Finalize applies the deterministic backstop to a model draft: word cap,
// contact redaction, echo scrub, topic reuse and the intent's fallback ask.
func Finalize(pol *policy.Policy, d domain.AnonymizedDraft, original string, intent domain.Intent, historicalTopics []string) domain.AnonymizedDraft {
	body := capWords(strings.TrimSpace(d.Body), MaxPostWords)
	title := strings.TrimSpace(d.Title)

	scrubbedBody, bodyChanged := safety.Scrub(original, body)
	scrubbedTitle, titleChanged := safety.Scrub(original, title)
	d.Body = scrubbedBody
	d.Title = scrubbedTitle
	if d.Title == "" {
		d.Title = safety.FallbackTitle(d.Body)
	}
	if strings.TrimSpace(d.ClearAsk) == "" {
		d.ClearAsk = pol.ClearAsk(intent)
	} else {
		d.ClearAsk, _ = safety.Scrub(original, strings.TrimSpace(d.ClearAsk))
	}
	d.Topics = safety.ReuseHistorical(d.Topics, historicalTopics)

	if bodyChanged || titleChanged {
		d.SafeToPublish = false
		d.SafetyNotes = safety.AppendNote(d.SafetyNotes, scrubNote)
	}
	return d
}

func capWords(text string, max int) string {
	words := strings.Fields(text)
	if len(words) <= max {
		return text
	}
	return strings.Join(words[:max], " ")
}
