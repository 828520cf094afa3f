package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"findsanity/internal/domain"
	"findsanity/internal/integrations/llm"
	"findsanity/internal/integrations/llm/llmtest"
	"findsanity/internal/policy"
)

func unifiedReply(t *testing.T, safetyBlock map[string]any, post map[string]any) string {
	t.Helper()
	body := map[string]any{
		"journal_title": "another week of doubt",
		"analysis":      "## what stands out\nyou keep measuring yourself against others.",
	}
	if safetyBlock != nil {
		body["safety"] = safetyBlock
	}
	if post != nil {
		body["suggested_post"] = post
	}
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	return string(b)
}

func approveBlock(topics ...string) map[string]any {
	return map[string]any{"decision": "approve", "reason": "constructive", "confidence": 0.9, "topics": topics,
		"recommend_professional_help": false, "crisis": false}
}

func defaultPost() map[string]any {
	return map[string]any{"title": "doubting the path", "content": "i keep wondering if i picked the wrong idea.", "clear_ask": "", "topics": []string{"self-doubt"}, "safe_to_publish": true}
}

func newOrchestrator(replies ...string) (*Orchestrator, *llmtest.Generator) {
	gen := &llmtest.Generator{}
	for _, r := range replies {
		gen.Replies = append(gen.Replies, llmtest.Reply{Text: r})
	}
	pol := policy.Default()
	return NewOrchestrator(llmtest.Gateway(gen, pol, nil), pol), gen
}

func TestSuggestedPostAlwaysProduced(t *testing.T) {
	tests := []struct {
		name   string
		safety map[string]any
	}{
		{"approve", approveBlock()},
		{"identifiable", map[string]any{"decision": "reject", "reason": "names a person", "confidence": 0.8, "topics": []string{},
			"recommend_professional_help": false, "crisis": false, "rejection_cause": "identifiable"}},
		{"unconstructive", map[string]any{"decision": "reject", "reason": "pure attack", "confidence": 0.7, "topics": []string{},
			"recommend_professional_help": false, "crisis": false, "rejection_cause": "unconstructive"}},
		{"crisis", map[string]any{"decision": "reject", "reason": "", "confidence": 0.4, "topics": []string{},
			"recommend_professional_help": true, "crisis": true, "rejection_cause": "crisis"}},
	}
	for _, tt := range tests {
		o, gen := newOrchestrator(unifiedReply(t, tt.safety, defaultPost()))
		got, err := o.Analyze(context.Background(), domain.Entry{Text: "i keep wondering if i picked the wrong idea.", Intent: domain.IntentReflecting}, nil, nil)
		if err != nil {
			t.Fatalf("%s: Analyze: %v", tt.name, err)
		}
		if got.SuggestedPost.Empty() {
			t.Fatalf("%s: suggested post must never be empty", tt.name)
		}
		if got.JournalTitle == "" || got.PrivateReflection == "" {
			t.Fatalf("%s: missing journal title or reflection: %+v", tt.name, got)
		}
		if gen.Calls() != 1 {
			t.Fatalf("%s: expected exactly one upstream call, got %d", tt.name, gen.Calls())
		}
	}
}

func TestCrisisVentingEntry(t *testing.T) {
	crisis := map[string]any{"decision": "approve", "reason": "", "confidence": 0.05, "topics": []string{"burnout"},
		"recommend_professional_help": true, "crisis": false,
		"alternative_post": map[string]any{"title": "x", "content": "y", "topics": []string{}}}
	o, _ := newOrchestrator(unifiedReply(t, crisis, defaultPost()))

	got, err := o.Analyze(context.Background(), domain.Entry{Text: "i can't do this anymore, i want to disappear.", Intent: domain.IntentVenting}, nil, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Safety.Decision != domain.DecisionReject || !got.Safety.RecommendProfessionalHelp {
		t.Fatalf("crisis must reject and recommend help: %+v", got.Safety)
	}
	if got.Safety.AlternativePost != nil {
		t.Fatal("crisis must never offer an alternative post")
	}
	if got.SuggestedPost.SafeToPublish {
		t.Fatal("suggested post of a crisis entry must not be publishable")
	}
}

func TestIdentifiableRejectionReusesSuggestedPost(t *testing.T) {
	identifiable := map[string]any{"decision": "reject", "reason": "names your cofounder", "confidence": 0.85, "topics": []string{"cofounder-conflict"},
		"recommend_professional_help": false, "crisis": false, "rejection_cause": "identifiable"}
	post := map[string]any{"title": "my cofounder and i stopped talking", "content": "my cofounder Marcus and i stopped talking after we lost 37 customers.",
		"clear_ask": "", "topics": []string{"cofounder conflict"}, "safe_to_publish": true}
	o, _ := newOrchestrator(unifiedReply(t, identifiable, post))

	original := "My cofounder Marcus and I stopped talking after we lost 37 customers."
	got, err := o.Analyze(context.Background(), domain.Entry{Text: original, Intent: domain.IntentAdvice}, nil, []string{"cofounder-conflict"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	alt := got.Safety.AlternativePost
	if alt == nil {
		t.Fatal("identifiable rejection must carry an alternative post")
	}
	if alt.Body != got.SuggestedPost.Body {
		t.Fatalf("alternative should reuse the finalized suggested post\nalt:  %q\npost: %q", alt.Body, got.SuggestedPost.Body)
	}
	for _, leaked := range []string{"Marcus", "37"} {
		if strings.Contains(alt.Body, leaked) {
			t.Fatalf("alternative leaks %q: %q", leaked, alt.Body)
		}
	}
	if got.SuggestedPost.SafeToPublish {
		t.Fatal("scrubbed suggested post should be flagged for review")
	}
	if len(got.SuggestedPost.Topics) != 1 || got.SuggestedPost.Topics[0] != "cofounder-conflict" {
		t.Fatalf("expected historical topic reuse, got %v", got.SuggestedPost.Topics)
	}
}

func TestSuggestedPostScrubsSentenceInitialNames(t *testing.T) {
	identifiable := map[string]any{"decision": "reject", "reason": "names a cofounder and a vendor", "confidence": 0.85, "topics": []string{},
		"recommend_professional_help": false, "crisis": false, "rejection_cause": "identifiable"}
	post := map[string]any{"title": "Priya walked out", "content": "Priya walked out and Stripe froze our payouts.",
		"clear_ask": "", "topics": []string{"cofounder conflict"}, "safe_to_publish": true}
	o, _ := newOrchestrator(unifiedReply(t, identifiable, post))

	original := "Priya walked out on the company yesterday. Stripe froze our payouts too."
	got, err := o.Analyze(context.Background(), domain.Entry{Text: original, Intent: domain.IntentVenting}, nil, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	alt := got.Safety.AlternativePost
	if alt == nil {
		t.Fatal("identifiable rejection must carry an alternative post")
	}
	for _, leaked := range []string{"Priya", "Stripe"} {
		if strings.Contains(got.SuggestedPost.Body, leaked) || strings.Contains(got.SuggestedPost.Title, leaked) {
			t.Fatalf("suggested post leaks %q: %+v", leaked, got.SuggestedPost)
		}
		if strings.Contains(alt.Body, leaked) || strings.Contains(alt.Title, leaked) {
			t.Fatalf("alternative leaks %q: %+v", leaked, alt)
		}
	}
	if got.SuggestedPost.SafeToPublish {
		t.Fatal("scrubbed suggested post should be flagged for review")
	}
}

func TestAnalyzeValidationNamesField(t *testing.T) {
	tests := []struct {
		name  string
		reply func(t *testing.T) string
		field string
	}{
		{"missing suggested post", func(t *testing.T) string { return unifiedReply(t, approveBlock(), nil) }, "suggested_post"},
		{"missing safety", func(t *testing.T) string { return unifiedReply(t, nil, defaultPost()) }, "safety"},
		{"bad decision", func(t *testing.T) string {
			return unifiedReply(t, map[string]any{"decision": "", "reason": "r", "confidence": 0.5, "topics": []string{}}, defaultPost())
		}, "safety.decision"},
		{"empty post content", func(t *testing.T) string {
			return unifiedReply(t, approveBlock(), map[string]any{"title": "t", "content": "", "topics": []string{}})
		}, "suggested_post.content"},
		{"missing title", func(t *testing.T) string { return `{"journal_title":"","analysis":"a"}` }, "journal_title"},
	}
	for _, tt := range tests {
		reply := tt.reply(t)
		o, gen := newOrchestrator(reply, reply)
		_, err := o.Analyze(context.Background(), domain.Entry{Text: "text", Intent: domain.IntentProcessing}, nil, nil)
		if !errors.Is(err, llm.ErrMalformedResponse) {
			t.Fatalf("%s: expected malformed response, got %v", tt.name, err)
		}
		var malformed *llm.MalformedResponseError
		if !errors.As(err, &malformed) || malformed.Field != tt.field {
			t.Fatalf("%s: expected field %q, got %v", tt.name, tt.field, err)
		}
		if gen.Calls() != 2 {
			t.Fatalf("%s: expected one corrective retry, got %d calls", tt.name, gen.Calls())
		}
	}
}

func TestAnalyzeRejectsTooManyLinkedEntries(t *testing.T) {
	o, gen := newOrchestrator()
	linked := make([]domain.LinkedEntry, domain.MaxLinkedEntries+1)
	_, err := o.Analyze(context.Background(), domain.Entry{Text: "t", Intent: domain.IntentProcessing}, linked, nil)
	if !errors.Is(err, ErrTooManyLinkedEntries) {
		t.Fatalf("expected ErrTooManyLinkedEntries, got %v", err)
	}
	if gen.Calls() != 0 {
		t.Fatal("no upstream call should be made")
	}
}

func TestAnalyzePromptSections(t *testing.T) {
	o, gen := newOrchestrator(unifiedReply(t, approveBlock("burnout"), defaultPost()), unifiedReply(t, approveBlock(), defaultPost()))
	linked := []domain.LinkedEntry{
		{ID: "a", Title: "the pivot", CompletedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), Topics: []string{"pivot"}, Body: "we pivoted again."},
		{ID: "b", Title: "", Body: "still tired."},
	}
	got, err := o.Analyze(context.Background(), domain.Entry{Text: "third week of no sleep", Intent: domain.IntentSolution}, linked, []string{"burnout", "cofounder-conflict"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	prompt := gen.LastPrompt()
	for _, want := range []string{
		"## Previous Entry 1: the pivot",
		"Date: 2026-03-02",
		"Topics: pivot",
		"## Previous Entry 2: untitled",
		"burnout, cofounder-conflict",
		"<intent>solution</intent>",
		policy.Default().IntentInstructions(domain.IntentSolution),
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if len(got.Safety.Topics) != 1 || got.Safety.Topics[0] != "burnout" {
		t.Fatalf("expected burnout topic, got %v", got.Safety.Topics)
	}

	if _, err := o.Analyze(context.Background(), domain.Entry{Text: "alone", Intent: domain.IntentVenting}, nil, nil); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !strings.Contains(gen.LastPrompt(), "no previous sessions linked for this entry.") {
		t.Fatalf("expected explicit no-linked line:\n%s", gen.LastPrompt())
	}
}
