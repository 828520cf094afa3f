package journal

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"findsanity/internal/domain"
	"findsanity/internal/integrations/llm"
	"findsanity/internal/integrations/llm/llmtest"
	"findsanity/internal/moderation"
	"findsanity/internal/policy"
	"findsanity/internal/storage/sqlite"
)

type stubAnalyzer struct {
	result     domain.UnifiedAnalysisResult
	err        error
	linked     []domain.LinkedEntry
	historical []string
}

func (s *stubAnalyzer) Analyze(ctx context.Context, entry domain.Entry, linked []domain.LinkedEntry, historical []string) (domain.UnifiedAnalysisResult, error) {
	s.linked = linked
	s.historical = historical
	return s.result, s.err
}

func approvedResult(topics ...string) domain.UnifiedAnalysisResult {
	return domain.UnifiedAnalysisResult{
		JournalTitle:      "pricing doubts",
		PrivateReflection: "you keep second guessing the number.",
		Safety:            domain.ClassificationResult{Decision: domain.DecisionApprove, Reason: "constructive", Confidence: 0.9, Topics: topics},
		SuggestedPost:     domain.AnonymizedDraft{Title: "how do you price?", Body: "i keep changing my price.", Topics: topics, SafeToPublish: true},
	}
}

func newService(t *testing.T, analyzer Analyzer, gate Commenter) *Service {
	t.Helper()
	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := NewService(db, analyzer, gate)
	s.now = func() time.Time { return time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) }
	return s
}

func blockingGate(t *testing.T, s *Service) *moderation.Gate {
	t.Helper()
	gen := &llmtest.Generator{Handler: func(req llm.GenerateRequest) (string, error) {
		prompt := req.Messages[len(req.Messages)-1].Text
		if strings.Contains(prompt, "idiot") {
			return `{"approved": false, "reason": "personal attack", "severity": "medium"}`, nil
		}
		return `{"approved": true, "reason": "supportive", "severity": "low"}`, nil
	}}
	pol := policy.Default()
	mod := moderation.NewEvaluator(llmtest.Gateway(gen, pol, nil))
	return moderation.NewGate(mod, sqlite.Store{DB: s.db}, moderation.GateOptions{})
}

func TestCompleteUsesHistoryAndLinkedEntries(t *testing.T) {
	analyzer := &stubAnalyzer{result: approvedResult("pricing")}
	s := newService(t, analyzer, nil)
	ctx := context.Background()

	first, err := s.Complete(ctx, "u1", domain.Entry{Text: "what do i charge", Intent: domain.IntentAdvice}, nil)
	if err != nil {
		t.Fatalf("Complete first: %v", err)
	}
	if len(analyzer.historical) != 0 || len(analyzer.linked) != 0 {
		t.Fatalf("first entry should have no history, got %v / %v", analyzer.historical, analyzer.linked)
	}

	analyzer.result = approvedResult("burnout")
	second, err := s.Complete(ctx, "u1", domain.Entry{Text: "still unsure", Intent: domain.IntentReflecting}, []string{first.ID})
	if err != nil {
		t.Fatalf("Complete second: %v", err)
	}
	if len(analyzer.historical) != 1 || analyzer.historical[0] != "pricing" {
		t.Fatalf("historical topics = %v", analyzer.historical)
	}
	if len(analyzer.linked) != 1 || analyzer.linked[0].Title != "pricing doubts" || analyzer.linked[0].Body != "what do i charge" {
		t.Fatalf("linked entries = %+v", analyzer.linked)
	}

	stored, err := sqlite.GetJournalEntry(ctx, s.db, second.ID)
	if err != nil {
		t.Fatalf("GetJournalEntry: %v", err)
	}
	if stored.Result.Safety.Topics[0] != "burnout" || len(stored.LinkedIDs) != 1 {
		t.Fatalf("stored record = %+v", stored)
	}
}

func TestCompleteRejectsBadInput(t *testing.T) {
	s := newService(t, &stubAnalyzer{result: approvedResult()}, nil)
	ctx := context.Background()

	if _, err := s.Complete(ctx, "u1", domain.Entry{Text: "  "}, nil); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	if _, err := s.Complete(ctx, "u1", domain.Entry{Text: "x"}, []string{"a", "b", "c"}); err == nil {
		t.Fatal("expected too many linked entries error")
	}
	if _, err := s.Complete(ctx, "u1", domain.Entry{Text: "x"}, []string{"missing"}); !errors.Is(err, sqlite.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown linked entry, got %v", err)
	}
}

func TestCompleteDoesNotStoreOnAnalysisFailure(t *testing.T) {
	s := newService(t, &stubAnalyzer{err: llm.ErrUpstreamUnavailable}, nil)
	ctx := context.Background()
	if _, err := s.Complete(ctx, "u1", domain.Entry{Text: "x"}, nil); !errors.Is(err, llm.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	recs, err := sqlite.ListJournalEntries(ctx, s.db, "u1", 10)
	if err != nil {
		t.Fatalf("ListJournalEntries: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected nothing stored, got %d", len(recs))
	}
}

func TestPublishChoosesPostBySafetyOutcome(t *testing.T) {
	ctx := context.Background()
	analyzer := &stubAnalyzer{}
	s := newService(t, analyzer, nil)

	complete := func(r domain.UnifiedAnalysisResult) string {
		analyzer.result = r
		rec, err := s.Complete(ctx, "u1", domain.Entry{Text: "entry", Intent: domain.IntentProcessing}, nil)
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		return rec.ID
	}

	approved := complete(approvedResult("pricing"))
	post, err := s.Publish(ctx, "u1", approved)
	if err != nil {
		t.Fatalf("Publish approved: %v", err)
	}
	if post.Source != domain.PostSourceSuggested || post.Content != "i keep changing my price." {
		t.Fatalf("approved post = %+v", post)
	}
	if _, err := s.Publish(ctx, "u1", approved); !errors.Is(err, sqlite.ErrAlreadyPublished) {
		t.Fatalf("expected ErrAlreadyPublished, got %v", err)
	}

	identifiable := approvedResult()
	identifiable.Safety.Decision = domain.DecisionReject
	identifiable.Safety.Cause = domain.CauseIdentifiable
	identifiable.Safety.AlternativePost = &domain.AlternativePost{Title: "a cofounder split", Body: "my cofounder left.", Topics: []string{"cofounder"}}
	post, err = s.Publish(ctx, "u1", complete(identifiable))
	if err != nil {
		t.Fatalf("Publish identifiable: %v", err)
	}
	if post.Source != domain.PostSourceAlternative || post.Content != "my cofounder left." {
		t.Fatalf("alternative post = %+v", post)
	}

	crisis := approvedResult()
	crisis.Safety = domain.ClassificationResult{Decision: domain.DecisionReject, Crisis: true, RecommendProfessionalHelp: true, Cause: domain.CauseCrisis}
	if _, err := s.Publish(ctx, "u1", complete(crisis)); !errors.Is(err, ErrNotPublishable) {
		t.Fatalf("crisis entry must not publish, got %v", err)
	}

	unconstructive := approvedResult()
	unconstructive.Safety = domain.ClassificationResult{Decision: domain.DecisionReject, Reason: "attack", Cause: domain.CauseUnconstructive}
	if _, err := s.Publish(ctx, "u1", complete(unconstructive)); !errors.Is(err, ErrNotPublishable) {
		t.Fatalf("unconstructive entry must not publish, got %v", err)
	}

	noRewrite := approvedResult()
	noRewrite.Safety = domain.ClassificationResult{Decision: domain.DecisionReject, Reason: "names a cofounder", Cause: domain.CauseIdentifiable}
	if _, err := s.Publish(ctx, "u1", complete(noRewrite)); !errors.Is(err, ErrNotPublishable) {
		t.Fatalf("identifiable entry without a rewrite must not publish, got %v", err)
	}

	if _, err := s.Publish(ctx, "someone-else", approved); !errors.Is(err, sqlite.ErrNotFound) {
		t.Fatalf("publishing another user's entry should be not found, got %v", err)
	}
}

func TestCommentThroughModerationGate(t *testing.T) {
	ctx := context.Background()
	analyzer := &stubAnalyzer{result: approvedResult("pricing")}
	s := newService(t, analyzer, nil)
	s.gate = blockingGate(t, s)

	rec, err := s.Complete(ctx, "author", domain.Entry{Text: "entry", Intent: domain.IntentAdvice}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	post, err := s.Publish(ctx, "author", rec.ID)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	c, outcome, err := s.Comment(ctx, "reader", post.ID, "charge more, you are underpricing")
	if err != nil {
		t.Fatalf("Comment: %v", err)
	}
	if !outcome.Accepted || c.ID == "" {
		t.Fatalf("expected accepted comment, got %+v / %+v", outcome, c)
	}

	_, outcome, err = s.Comment(ctx, "troll", post.ID, "you idiot")
	if err != nil {
		t.Fatalf("Comment: %v", err)
	}
	if outcome.Accepted || outcome.ViolationCount != 1 {
		t.Fatalf("expected rejected comment with one strike, got %+v", outcome)
	}

	comments, err := sqlite.ListComments(ctx, s.db, post.ID)
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(comments) != 1 || comments[0].UserID != "reader" {
		t.Fatalf("stored comments = %+v", comments)
	}

	if _, _, err := s.Comment(ctx, "reader", "no-such-post", "hello"); !errors.Is(err, sqlite.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown post, got %v", err)
	}
	if _, _, err := s.Comment(ctx, "reader", post.ID, " "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}
