package safety

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

type fakeDrafter struct {
	draft domain.AnonymizedDraft
	err   error
	calls int
}

func (f *fakeDrafter) Anonymize(context.Context, string, domain.Intent, []string) (domain.AnonymizedDraft, error) {
	f.calls++
	return f.draft, f.err
}

func newEvaluator(reply string, drafter Drafter) (*Evaluator, *llmtest.Generator) {
	gen := &llmtest.Generator{Replies: []llmtest.Reply{{Text: reply}}}
	pol := policy.Default()
	return NewEvaluator(llmtest.Gateway(gen, pol, nil), pol, drafter), gen
}

func TestCrisisAlwaysRejectsWithoutAlternative(t *testing.T) {
	reply := `{"decision":"approve","reason":"","confidence":0.12,"topics":["Burn out"],"recommend_professional_help":false,"crisis":true,
		"alternative_post":{"title":"t","content":"a rewrite","topics":[]}}`
	e, _ := newEvaluator(reply, nil)

	got, err := e.Evaluate(context.Background(), "I don't see the point of going on anymore.", domain.IntentVenting, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Decision != domain.DecisionReject || !got.RecommendProfessionalHelp || !got.Crisis || got.Cause != domain.CauseCrisis {
		t.Fatalf("crisis not normalized: %+v", got)
	}
	if got.AlternativePost != nil {
		t.Fatal("crisis results must never carry an alternative post")
	}
	if got.Reason != strings.TrimSpace(policy.Default().CrisisReason) {
		t.Fatalf("expected policy crisis reason, got %q", got.Reason)
	}
}

func TestProfessionalHelpSignalIsCrisis(t *testing.T) {
	pol := policy.Default()
	for _, confidence := range []float64{0, 0.3, 0.99} {
		in := domain.ClassificationResult{
			Decision:                  domain.DecisionApprove,
			Reason:                    "seems fine",
			Confidence:                confidence,
			RecommendProfessionalHelp: true,
		}
		got := Enforce(pol, in, "text", domain.IntentVenting, nil)
		if got.Decision != domain.DecisionReject || !got.RecommendProfessionalHelp || got.Cause != domain.CauseCrisis {
			t.Fatalf("confidence %.2f: expected crisis rejection, got %+v", confidence, got)
		}
		if got.Reason != strings.TrimSpace(pol.CrisisReason) {
			t.Fatalf("crisis rejection should carry the policy crisis reason, got %q", got.Reason)
		}
	}
}

func TestIdentifiableRejectionWithoutRewrite(t *testing.T) {
	reply := `{"decision":"reject","reason":"names a cofounder","confidence":0.9,"topics":["cofounder conflict"],
		"recommend_professional_help":false,"crisis":false,"rejection_cause":"identifiable"}`
	e, _ := newEvaluator(reply, nil)

	original := "I'm fighting with my cofounder Priya after our 23 customers churned."
	got, err := e.Evaluate(context.Background(), original, domain.IntentAdvice, []string{"cofounder-conflict"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Decision != domain.DecisionReject || got.Cause != domain.CauseIdentifiable {
		t.Fatalf("unexpected verdict: %+v", got)
	}
	if got.AlternativePost != nil {
		t.Fatalf("the original must never be offered as a rewrite: %+v", got.AlternativePost)
	}
	if !strings.Contains(got.Suggestions, RewriteUnavailableNote) {
		t.Fatalf("expected a note that the rewrite is unavailable, got %q", got.Suggestions)
	}
	if !reflect.DeepEqual(got.Topics, []string{"cofounder-conflict"}) {
		t.Fatalf("expected historical topic reuse, got %v", got.Topics)
	}
}

func TestIdentifiableRejectionScrubsModelAlternative(t *testing.T) {
	reply := `{"decision":"reject","reason":"identifies investor","confidence":0.8,"topics":[],
		"recommend_professional_help":false,"crisis":false,"rejection_cause":"privacy",
		"alternative_post":{"title":"Investor from Sequoia ghosted","content":"Our lead at Sequoia stopped replying after we hit 1,250 users.","topics":["Fundraising"]}}`
	drafter := &fakeDrafter{}
	e, _ := newEvaluator(reply, drafter)

	original := "Our lead at Sequoia stopped replying after we hit 1,250 users."
	got, err := e.Evaluate(context.Background(), original, domain.IntentAdvice, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.AlternativePost == nil {
		t.Fatal("expected alternative post")
	}
	if drafter.calls != 0 {
		t.Fatal("drafter should not run when the model supplied an alternative")
	}
	for _, leaked := range []string{"Sequoia", "1,250"} {
		if strings.Contains(got.AlternativePost.Body, leaked) || strings.Contains(got.AlternativePost.Title, leaked) {
			t.Fatalf("alternative post leaks %q: %+v", leaked, got.AlternativePost)
		}
	}
	if !reflect.DeepEqual(got.AlternativePost.Topics, []string{"fundraising"}) {
		t.Fatalf("alternative topics not normalized: %v", got.AlternativePost.Topics)
	}
	if !strings.Contains(got.Suggestions, ScrubbedRewriteNote) {
		t.Fatalf("scrubbed alternative should carry a review note, got %q", got.Suggestions)
	}
}

func TestIdentifiableRejectionUsesDrafter(t *testing.T) {
	reply := `{"decision":"reject","reason":"names a client","confidence":0.8,"topics":[],
		"recommend_professional_help":false,"crisis":false,"rejection_cause":"identifiable"}`
	drafter := &fakeDrafter{draft: domain.AnonymizedDraft{Title: "a client relationship went sideways", Body: "a big client walked away after a rough quarter."}}
	e, _ := newEvaluator(reply, drafter)

	got, err := e.Evaluate(context.Background(), "Acme walked away.", domain.IntentVenting, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if drafter.calls != 1 || got.AlternativePost == nil || got.AlternativePost.Body != "a big client walked away after a rough quarter." {
		t.Fatalf("expected drafter rewrite, got calls=%d alt=%+v", drafter.calls, got.AlternativePost)
	}

	failing := &fakeDrafter{err: errors.New("upstream down")}
	e, _ = newEvaluator(reply, failing)
	got, err = e.Evaluate(context.Background(), "Acme walked away.", domain.IntentVenting, nil)
	if err != nil {
		t.Fatalf("drafter failure should not fail evaluation: %v", err)
	}
	if got.AlternativePost != nil || !strings.Contains(got.Suggestions, RewriteUnavailableNote) {
		t.Fatalf("a failed drafter should leave no alternative post, got %+v suggestions=%q", got.AlternativePost, got.Suggestions)
	}
}

func TestContactDetailsForceIdentifiableRejection(t *testing.T) {
	reply := `{"decision":"approve","reason":"constructive","confidence":0.95,"topics":["hiring"],
		"recommend_professional_help":false,"crisis":false}`
	drafter := &fakeDrafter{draft: domain.AnonymizedDraft{Title: "hiring is hard", Body: "hiring is hard, email me at founder@tinyco.io if you have tips."}}
	e, _ := newEvaluator(reply, drafter)

	got, err := e.Evaluate(context.Background(), "Hiring is hard, email me at founder@tinyco.io if you have tips.", domain.IntentAdvice, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Decision != domain.DecisionReject || got.Cause != domain.CauseIdentifiable {
		t.Fatalf("contact details should force an identifiable rejection: %+v", got)
	}
	if got.AlternativePost == nil || strings.Contains(got.AlternativePost.Body, "founder@tinyco.io") {
		t.Fatalf("alternative post should redact the email: %+v", got.AlternativePost)
	}
	if !strings.Contains(got.Suggestions, ScrubbedRewriteNote) {
		t.Fatalf("redacted alternative should carry a review note, got %q", got.Suggestions)
	}
}

func TestAlternativeNeverEchoesSentenceInitialNames(t *testing.T) {
	original := "Priya walked out on the company yesterday. Stripe froze our payouts too."
	identifiable := func(alt string) string {
		reply := `{"decision":"reject","reason":"names a cofounder and a vendor","confidence":0.9,"topics":["cofounder-conflict"],
			"recommend_professional_help":false,"crisis":false,"rejection_cause":"identifiable"`
		if alt != "" {
			reply += `,"alternative_post":{"title":"Priya left","content":` + alt + `,"topics":[]}`
		}
		return reply + "}"
	}
	tests := []struct {
		name    string
		reply   string
		drafter Drafter
		wantAlt bool
	}{
		{"model copies the original", identifiable(`"Priya walked out on the company yesterday. Stripe froze our payouts too."`), nil, true},
		{"model moves names mid-sentence", identifiable(`"my cofounder Priya walked out and our processor Stripe froze payouts."`), nil, true},
		{"drafter echoes names", identifiable(""), &fakeDrafter{draft: domain.AnonymizedDraft{Body: "Priya walked out. Stripe froze our payouts."}}, true},
		{"no drafter", identifiable(""), nil, false},
		{"failing drafter", identifiable(""), &fakeDrafter{err: errors.New("timeout")}, false},
	}
	for _, tt := range tests {
		e, _ := newEvaluator(tt.reply, tt.drafter)
		got, err := e.Evaluate(context.Background(), original, domain.IntentVenting, nil)
		if err != nil {
			t.Fatalf("%s: Evaluate: %v", tt.name, err)
		}
		if got.Cause != domain.CauseIdentifiable {
			t.Fatalf("%s: expected identifiable rejection, got %+v", tt.name, got)
		}
		alt := got.AlternativePost
		if !tt.wantAlt {
			if alt != nil {
				t.Fatalf("%s: original offered as rewrite: %+v", tt.name, alt)
			}
			continue
		}
		if alt == nil {
			t.Fatalf("%s: expected alternative post", tt.name)
		}
		for _, leaked := range []string{"Priya", "Stripe"} {
			if strings.Contains(alt.Body, leaked) || strings.Contains(alt.Title, leaked) {
				t.Fatalf("%s: alternative leaks %q: %+v", tt.name, leaked, alt)
			}
		}
		if !strings.Contains(got.Suggestions, ScrubbedRewriteNote) {
			t.Fatalf("%s: expected review note, got %q", tt.name, got.Suggestions)
		}
	}
}

func TestApprovedResultDropsAlternative(t *testing.T) {
	pol := policy.Default()
	in := domain.ClassificationResult{
		Decision:        domain.DecisionApprove,
		Reason:          "fine",
		Confidence:      1.7,
		Cause:           domain.CauseUnconstructive,
		AlternativePost: &domain.AlternativePost{Body: "x"},
	}
	got := Enforce(pol, in, "we shipped v2 today", domain.IntentReflecting, nil)
	if got.AlternativePost != nil || got.Cause != domain.CauseNone {
		t.Fatalf("approved result should be clean: %+v", got)
	}
	if got.Confidence != 1 {
		t.Fatalf("confidence not clamped: %f", got.Confidence)
	}

	rejected := Enforce(pol, domain.ClassificationResult{Decision: domain.DecisionReject, Reason: "spam", Confidence: -2}, "buy my course", domain.IntentAdvice, nil)
	if rejected.Cause != domain.CauseUnconstructive || rejected.Confidence != 0 {
		t.Fatalf("unexpected unconstructive rejection: %+v", rejected)
	}
}

func TestTopicsReuseHistoricalVerbatim(t *testing.T) {
	reply := `{"decision":"approve","reason":"fine","confidence":0.9,"topics":["Burn-out","cofounder conflicts","fundraising"],
		"recommend_professional_help":false,"crisis":false}`
	e, _ := newEvaluator(reply, nil)

	got, err := e.Evaluate(context.Background(), "exhausted after another pitch week", domain.IntentProcessing, []string{"burnout", "cofounder-conflict"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := []string{"burnout", "cofounder-conflict", "fundraising"}
	if !reflect.DeepEqual(got.Topics, want) {
		t.Fatalf("topics = %v, want %v", got.Topics, want)
	}
}

func TestEvaluateMalformedDecision(t *testing.T) {
	reply := `{"decision":"maybe","reason":"unsure","confidence":0.5,"topics":[],"recommend_professional_help":false,"crisis":false}`
	gen := &llmtest.Generator{Replies: []llmtest.Reply{{Text: reply}, {Text: reply}}}
	pol := policy.Default()
	e := NewEvaluator(llmtest.Gateway(gen, pol, nil), pol, nil)

	_, err := e.Evaluate(context.Background(), "text", domain.IntentProcessing, nil)
	if !errors.Is(err, llm.ErrMalformedResponse) {
		t.Fatalf("expected malformed response, got %v", err)
	}
	var malformed *llm.MalformedResponseError
	if !errors.As(err, &malformed) || malformed.Field != "decision" {
		t.Fatalf("expected decision field error, got %v", err)
	}
	if gen.Calls() != 2 {
		t.Fatalf("expected one corrective retry, got %d calls", gen.Calls())
	}
}

func TestUnknownIntentUsesDefaultInPrompt(t *testing.T) {
	reply := `{"decision":"approve","reason":"fine","confidence":0.9,"topics":[],"recommend_professional_help":false,"crisis":false}`
	e, gen := newEvaluator(reply, nil)
	if _, err := e.Evaluate(context.Background(), "text", domain.Intent("musing"), nil); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !strings.Contains(gen.LastPrompt(), "<intent>processing</intent>") {
		t.Fatalf("unknown intent should render as processing: %s", gen.LastPrompt())
	}
}

func TestNormalizeTopics(t *testing.T) {
	got := NormalizeTopics([]string{" Product Market Fit ", "product-market-fit", "", "Team_Morale", "--"})
	want := []string{"product-market-fit", "team-morale"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NormalizeTopics = %v, want %v", got, want)
	}
}
