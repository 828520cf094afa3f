// Package journal ties the analysis pipeline to storage: completing private
// entries, publishing their public posts and accepting comments.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"findsanity/internal/analysis"
	"findsanity/internal/domain"
	"findsanity/internal/moderation"
	"findsanity/internal/storage/sqlite"

	"github.com/google/uuid"
)

var (
	ErrEmptyContent   = errors.New("content is required")
	ErrNotPublishable = errors.New("journal entry is not publishable")
)

type Analyzer interface {
	Analyze(ctx context.Context, entry domain.Entry, linked []domain.LinkedEntry, historicalTopics []string) (domain.UnifiedAnalysisResult, error)
}

type Commenter interface {
	Submit(ctx context.Context, userID, text string) (moderation.CommentOutcome, error)
}

type Service struct {
	db       *sql.DB
	analyzer Analyzer
	gate     Commenter
	now      func() time.Time
}

func NewService(db *sql.DB, analyzer Analyzer, gate Commenter) *Service {
	return &Service{db: db, analyzer: analyzer, gate: gate, now: time.Now}
}

// Complete analyzes an entry with the author's topic history and up to two
// linked entries, then stores it privately.
func (s *Service) Complete(ctx context.Context, userID string, entry domain.Entry, linkedIDs []string) (domain.JournalRecord, error) {
	if strings.TrimSpace(entry.Text) == "" {
		return domain.JournalRecord{}, ErrEmptyContent
	}
	if len(linkedIDs) > domain.MaxLinkedEntries {
		return domain.JournalRecord{}, fmt.Errorf("complete: %w (got %d)", analysis.ErrTooManyLinkedEntries, len(linkedIDs))
	}

	historical, err := sqlite.GetUserTopics(ctx, s.db, userID)
	if err != nil {
		return domain.JournalRecord{}, fmt.Errorf("load topics: %w", err)
	}
	linkedRecs, err := sqlite.GetJournalEntriesByIDs(ctx, s.db, userID, linkedIDs)
	if err != nil {
		return domain.JournalRecord{}, fmt.Errorf("load linked entries: %w", err)
	}
	linked := make([]domain.LinkedEntry, 0, len(linkedRecs))
	for _, rec := range linkedRecs {
		linked = append(linked, domain.LinkedEntry{
			ID:          rec.ID,
			Title:       rec.Result.JournalTitle,
			CompletedAt: rec.CompletedAt,
			Topics:      rec.Result.Safety.Topics,
			Body:        rec.Content,
		})
	}

	result, err := s.analyzer.Analyze(ctx, entry, linked, historical)
	if err != nil {
		return domain.JournalRecord{}, err
	}

	rec := domain.JournalRecord{
		ID:          uuid.NewString(),
		UserID:      userID,
		Intent:      entry.Intent,
		Content:     entry.Text,
		LinkedIDs:   linkedIDs,
		Result:      result,
		CompletedAt: s.now().UTC(),
	}
	if err := sqlite.InsertJournalEntry(ctx, s.db, rec); err != nil {
		return domain.JournalRecord{}, fmt.Errorf("save journal entry: %w", err)
	}
	if err := sqlite.RecordTopics(ctx, s.db, userID, entryTopics(result), rec.CompletedAt); err != nil {
		log.Printf("journal topics not recorded entry=%s: %v", rec.ID, err)
	}
	log.Printf("journal entry completed id=%s user=%s intent=%s linked=%d decision=%s", rec.ID, userID, entry.Intent, len(linked), result.Safety.Decision)
	return rec, nil
}

func entryTopics(result domain.UnifiedAnalysisResult) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range append(append([]string(nil), result.Safety.Topics...), result.SuggestedPost.Topics...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Publish makes the entry's public post: the suggested post when the entry
// was approved, otherwise the alternative post of an identifiable rejection.
// Crisis entries are never published.
func (s *Service) Publish(ctx context.Context, userID, journalID string) (domain.Post, error) {
	rec, err := sqlite.GetJournalEntry(ctx, s.db, journalID)
	if err != nil {
		return domain.Post{}, err
	}
	if rec.UserID != userID {
		return domain.Post{}, fmt.Errorf("journal entry %s: %w", journalID, sqlite.ErrNotFound)
	}

	verdict := rec.Result.Safety
	post := domain.Post{
		ID:        uuid.NewString(),
		UserID:    userID,
		JournalID: journalID,
		Intent:    rec.Intent,
		CreatedAt: s.now().UTC(),
	}
	switch {
	case verdict.CrisisIndicated():
		return domain.Post{}, fmt.Errorf("%w: entry needs support, not a public post", ErrNotPublishable)
	case verdict.Approved():
		draft := rec.Result.SuggestedPost
		post.Title, post.Content, post.ClearAsk, post.Topics = draft.Title, draft.Body, draft.ClearAsk, draft.Topics
		post.Source = domain.PostSourceSuggested
	case verdict.AlternativePost != nil:
		alt := verdict.AlternativePost
		post.Title, post.Content, post.ClearAsk, post.Topics = alt.Title, alt.Body, alt.ClearAsk, alt.Topics
		post.Source = domain.PostSourceAlternative
	default:
		return domain.Post{}, fmt.Errorf("%w: %s", ErrNotPublishable, verdict.Reason)
	}

	if err := sqlite.PublishJournalPost(ctx, s.db, post); err != nil {
		return domain.Post{}, err
	}
	log.Printf("journal post published id=%s journal=%s source=%s", post.ID, journalID, post.Source)
	return post, nil
}

// Comment screens text through the moderation gate and stores it when
// accepted. A rejected comment is reported through the outcome.
func (s *Service) Comment(ctx context.Context, userID, postID, text string) (domain.Comment, moderation.CommentOutcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Comment{}, moderation.CommentOutcome{}, ErrEmptyContent
	}
	if _, err := sqlite.GetPost(ctx, s.db, postID); err != nil {
		return domain.Comment{}, moderation.CommentOutcome{}, err
	}
	outcome, err := s.gate.Submit(ctx, userID, text)
	if err != nil {
		return domain.Comment{}, outcome, err
	}
	if !outcome.Accepted {
		return domain.Comment{}, outcome, nil
	}
	c := domain.Comment{ID: uuid.NewString(), PostID: postID, UserID: userID, Content: text, CreatedAt: s.now().UTC()}
	if err := sqlite.InsertComment(ctx, s.db, c); err != nil {
		return domain.Comment{}, outcome, fmt.Errorf("save comment: %w", err)
	}
	return c, outcome, nil
}
