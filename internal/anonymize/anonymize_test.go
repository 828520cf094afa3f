package anonymize

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"findsanity/internal/domain"
	"findsanity/internal/integrations/llm"
	"findsanity/internal/integrations/llm/llmtest"
	"findsanity/internal/policy"
)

func TestAnonymizeProducesFinalizedDraft(t *testing.T) {
	reply := `{"title":"Burned out after a long fundraise","content":"After months of pitching I feel empty. How do other founders recover?","clear_ask":"","topics":["Burn-out","Fundraising"],"safe_to_publish":true}`
	gen := &llmtest.Generator{Replies: []llmtest.Reply{{Text: reply}}}
	pol := policy.Default()
	a := New(llmtest.Gateway(gen, pol, nil), pol)

	draft, err := a.Anonymize(context.Background(), "After 14 months of pitching I feel empty.", domain.IntentAdvice, []string{"burnout"})
	if err != nil {
		t.Fatalf("Anonymize: %v", err)
	}
	if draft.Empty() {
		t.Fatal("expected non-empty draft")
	}
	if draft.ClearAsk != pol.ClearAsk(domain.IntentAdvice) {
		t.Fatalf("blank clear ask should fall back to the intent table, got %q", draft.ClearAsk)
	}
	if !reflect.DeepEqual(draft.Topics, []string{"burnout", "fundraising"}) {
		t.Fatalf("unexpected topics: %v", draft.Topics)
	}
	if !draft.SafeToPublish {
		t.Fatal("clean draft should stay publishable")
	}
	prompt := gen.LastPrompt()
	if !strings.Contains(prompt, "<topics>burnout</topics>") || !strings.Contains(prompt, pol.ClearAsk(domain.IntentAdvice)) {
		t.Fatalf("prompt missing topics or intent ask: %s", prompt)
	}
}

func TestAnonymizeEmptyContentIsMalformed(t *testing.T) {
	reply := `{"title":"t","content":"  ","clear_ask":"","topics":[],"safe_to_publish":true}`
	gen := &llmtest.Generator{Replies: []llmtest.Reply{{Text: reply}, {Text: reply}}}
	pol := policy.Default()
	a := New(llmtest.Gateway(gen, pol, nil), pol)

	_, err := a.Anonymize(context.Background(), "text", domain.IntentVenting, nil)
	var malformed *llm.MalformedResponseError
	if !errors.As(err, &malformed) || malformed.Field != "content" {
		t.Fatalf("expected malformed content error, got %v", err)
	}
}

func TestFinalizeScrubsEchoesAndMarksUnsafe(t *testing.T) {
	pol := policy.Default()
	original := "My cofounder Daniel quit after we raised $350,000 from Northwind. Call me at 415-555-0134."
	draft := domain.AnonymizedDraft{
		Title:         "Daniel quit",
		Body:          "My cofounder Daniel quit after we raised $350,000. Reach me at 415-555-0134.",
		ClearAsk:      "how do you rebuild after a cofounder leaves?",
		SafeToPublish: true,
	}

	got := Finalize(pol, draft, original, domain.IntentAdvice, nil)
	for _, leaked := range []string{"Daniel", "350,000", "415-555-0134"} {
		if strings.Contains(got.Body, leaked) || strings.Contains(got.Title, leaked) {
			t.Fatalf("finalized draft leaks %q: %+v", leaked, got)
		}
	}
	if !strings.Contains(got.Body, "~400000") {
		t.Fatalf("expected approximated amount, got %q", got.Body)
	}
	if got.SafeToPublish || got.SafetyNotes == "" {
		t.Fatalf("scrubbed draft should need review: %+v", got)
	}
	if got.ClearAsk != "how do you rebuild after a cofounder leaves?" {
		t.Fatalf("model clear ask should be kept, got %q", got.ClearAsk)
	}
}

func TestFinalizeCapsWords(t *testing.T) {
	pol := policy.Default()
	body := strings.TrimSpace(strings.Repeat("word ", MaxPostWords+50))
	got := Finalize(pol, domain.AnonymizedDraft{Body: body}, "original", domain.IntentReflecting, nil)
	if n := len(strings.Fields(got.Body)); n != MaxPostWords {
		t.Fatalf("expected %d words, got %d", MaxPostWords, n)
	}
	if got.Title == "" {
		t.Fatal("expected fallback title")
	}
}
