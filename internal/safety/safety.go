// Package safety classifies a journal entry against the community safety
// policy and enforces the result invariants the model cannot be trusted with.
package safety

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"findsanity/internal/domain"
	"findsanity/internal/pii"
	"findsanity/internal/policy"
)

const (
	ScrubbedRewriteNote    = "names, contact details or exact numbers were replaced automatically in the rewrite; review it before posting."
	RewriteUnavailableNote = "a de-identified rewrite could not be produced; run the check again or remove names and exact numbers yourself."
)

type Classifier interface {
	Classify(ctx context.Context, templateName string, vars map[string]any, out any) (domain.Usage, error)
}

// Drafter produces a de-identified rewrite for identifiable rejections.
type Drafter interface {
	Anonymize(ctx context.Context, text string, intent domain.Intent, topics []string) (domain.AnonymizedDraft, error)
}

// Response is the wire shape of a safety verdict.
type Response struct {
	Decision                  string                  `json:"decision" jsonschema:"enum=approve,enum=reject"`
	Reason                    string                  `json:"reason"`
	Confidence                float64                 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Topics                    []string                `json:"topics"`
	Suggestions               string                  `json:"suggestions,omitempty"`
	RecommendProfessionalHelp bool                    `json:"recommend_professional_help"`
	Crisis                    bool                    `json:"crisis"`
	RejectionCause            string                  `json:"rejection_cause,omitempty" jsonschema:"enum=crisis,enum=identifiable,enum=unconstructive"`
	AlternativePost           *domain.AlternativePost `json:"alternative_post,omitempty"`
}

func (r *Response) Validate() error {
	if _, ok := domain.ParseDecision(r.Decision); !ok {
		return &domain.FieldError{Field: "decision", Problem: fmt.Sprintf("must be approve or reject, got %q", r.Decision)}
	}
	if strings.TrimSpace(r.Reason) == "" && !r.Crisis && !r.RecommendProfessionalHelp {
		return domain.MissingField("reason")
	}
	return nil
}

func (r Response) Result() domain.ClassificationResult {
	decision, _ := domain.ParseDecision(r.Decision)
	return domain.ClassificationResult{
		Decision:                  decision,
		Reason:                    strings.TrimSpace(r.Reason),
		Confidence:                r.Confidence,
		Topics:                    r.Topics,
		Suggestions:               strings.TrimSpace(r.Suggestions),
		RecommendProfessionalHelp: r.RecommendProfessionalHelp,
		Crisis:                    r.Crisis,
		Cause:                     domain.ParseRejectionCause(r.RejectionCause),
		AlternativePost:           r.AlternativePost,
	}
}

type Evaluator struct {
	classifier Classifier
	policy     *policy.Policy
	drafter    Drafter
}

// NewEvaluator returns an evaluator. drafter may be nil, in which case an
// identifiable rejection without a model rewrite carries no alternative post.
func NewEvaluator(classifier Classifier, pol *policy.Policy, drafter Drafter) *Evaluator {
	return &Evaluator{classifier: classifier, policy: pol, drafter: drafter}
}

// Evaluate classifies the original text. Rejection is a normal result;
// errors are reserved for upstream or malformed-response failures.
func (e *Evaluator) Evaluate(ctx context.Context, text string, intent domain.Intent, historicalTopics []string) (domain.ClassificationResult, error) {
	var resp Response
	vars := map[string]any{
		"Content": text,
		"Intent":  string(PromptIntent(e.policy, intent)),
	}
	if _, err := e.classifier.Classify(ctx, policy.TemplateSafety, vars, &resp); err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("safety evaluate: %w", err)
	}

	result := Enforce(e.policy, resp.Result(), text, intent, historicalTopics)
	if NeedsAlternative(result) && e.drafter != nil {
		draft, err := e.drafter.Anonymize(ctx, text, intent, result.Topics)
		if err != nil {
			log.Printf("safety drafter failed, no alternative post: %v", err)
		} else if !draft.Empty() {
			result = EnsureAlternative(e.policy, result, draft.AsAlternative(), text, intent, historicalTopics)
		}
	}
	result = EnsureAlternative(e.policy, result, nil, text, intent, historicalTopics)
	log.Printf("safety verdict decision=%s cause=%s crisis=%t confidence=%.2f topics=%d alternative=%t",
		result.Decision, result.Cause, result.Crisis, result.Confidence, len(result.Topics), result.AlternativePost != nil)
	return result, nil
}

// PromptIntent substitutes the policy default for unknown intents.
func PromptIntent(pol *policy.Policy, intent domain.Intent) domain.Intent {
	if intent.Known() {
		return intent
	}
	return domain.Intent(pol.DefaultIntent)
}

// Enforce applies the result invariants in priority order: crisis, then
// identifiability, then the model's own verdict.
func Enforce(pol *policy.Policy, r domain.ClassificationResult, original string, intent domain.Intent, historicalTopics []string) domain.ClassificationResult {
	r.Topics = ReuseHistorical(r.Topics, historicalTopics)
	r.Confidence = clampConfidence(r.Confidence)

	if r.CrisisIndicated() {
		r.Decision = domain.DecisionReject
		r.RecommendProfessionalHelp = true
		r.Crisis = true
		r.Cause = domain.CauseCrisis
		r.AlternativePost = nil
		r.Reason = strings.TrimSpace(pol.CrisisReason)
		return r
	}

	if pii.ContainsContact(original) && (r.Approved() || r.Cause != domain.CauseIdentifiable) {
		log.Printf("safety contact details detected, forcing identifiable rejection")
		r.Decision = domain.DecisionReject
		r.Cause = domain.CauseIdentifiable
		r.Reason = strings.TrimSpace(pol.IdentifiableReason)
	}

	switch {
	case r.Approved():
		r.Cause = domain.CauseNone
		r.AlternativePost = nil
	case r.Cause == domain.CauseNone && r.AlternativePost != nil:
		r.Cause = domain.CauseIdentifiable
	case r.Cause == domain.CauseNone:
		r.Cause = domain.CauseUnconstructive
	}

	if r.Cause != domain.CauseIdentifiable {
		r.AlternativePost = nil
	}
	if r.AlternativePost != nil {
		var scrubbed bool
		r.AlternativePost, scrubbed = ScrubAlternative(pol, *r.AlternativePost, original, intent, historicalTopics)
		if scrubbed {
			r.Suggestions = AppendNote(r.Suggestions, ScrubbedRewriteNote)
		}
	}
	return r
}

// NeedsAlternative reports an identifiable rejection still lacking a rewrite.
func NeedsAlternative(r domain.ClassificationResult) bool {
	return r.Decision == domain.DecisionReject && r.Cause == domain.CauseIdentifiable && !r.CrisisIndicated() && r.AlternativePost == nil
}

// EnsureAlternative attaches the rewrite alt to an identifiable rejection that
// has no alternative post yet. The original text is never offered as a
// rewrite: without alt the rejection keeps no alternative post and its
// suggestions say the rewrite is unavailable.
func EnsureAlternative(pol *policy.Policy, r domain.ClassificationResult, alt *domain.AlternativePost, original string, intent domain.Intent, historicalTopics []string) domain.ClassificationResult {
	if !NeedsAlternative(r) {
		return r
	}
	if alt == nil || strings.TrimSpace(alt.Body) == "" {
		r.Suggestions = AppendNote(r.Suggestions, RewriteUnavailableNote)
		return r
	}
	var scrubbed bool
	r.AlternativePost, scrubbed = ScrubAlternative(pol, *alt, original, intent, historicalTopics)
	if scrubbed {
		r.Suggestions = AppendNote(r.Suggestions, ScrubbedRewriteNote)
	}
	return r
}

// ScrubAlternative runs the deterministic PII backstop over a public rewrite
// and reports whether it had to replace anything.
func ScrubAlternative(pol *policy.Policy, alt domain.AlternativePost, original string, intent domain.Intent, historicalTopics []string) (*domain.AlternativePost, bool) {
	var titleChanged, bodyChanged bool
	alt.Title, titleChanged = Scrub(original, strings.TrimSpace(alt.Title))
	alt.Body, bodyChanged = Scrub(original, strings.TrimSpace(alt.Body))
	if alt.Title == "" {
		alt.Title = FallbackTitle(alt.Body)
	}
	if strings.TrimSpace(alt.ClearAsk) == "" {
		alt.ClearAsk = pol.ClearAsk(intent)
	}
	alt.Topics = ReuseHistorical(alt.Topics, historicalTopics)
	return &alt, titleChanged || bodyChanged
}

// Scrub redacts contact details and echoed names or numbers in text.
func Scrub(original, text string) (string, bool) {
	redacted := pii.Redact(text)
	scrubbed, echoed := pii.ScrubEchoes(original, redacted)
	return scrubbed, echoed || redacted != text
}

// AppendNote adds note to notes once.
func AppendNote(notes, note string) string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return note
	}
	if strings.Contains(notes, note) {
		return notes
	}
	return notes + " " + note
}

// FallbackTitle derives a short lowercase title from the opening words of body.
func FallbackTitle(body string) string {
	words := strings.Fields(body)
	if len(words) > 8 {
		words = words[:8]
	}
	title := strings.Trim(strings.Join(words, " "), ".,;:!?")
	if title == "" {
		return "a founder looking for perspective"
	}
	return strings.ToLower(title)
}

func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
