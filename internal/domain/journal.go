package domain

import "time"

// JournalRecord is the private journal row persisted after analysis.
type JournalRecord struct {
	ID              string
	UserID          string
	Intent          Intent
	Content         string
	LinkedIDs       []string
	Result          UnifiedAnalysisResult
	PublishedPostID string
	CompletedAt     time.Time
}

type PostSource string

const (
	PostSourceSuggested   PostSource = "suggested"
	PostSourceAlternative PostSource = "alternative"
)

type Post struct {
	ID        string
	UserID    string
	JournalID string
	Title     string
	Content   string
	ClearAsk  string
	Topics    []string
	Intent    Intent
	Source    PostSource
	CreatedAt time.Time
}

type Comment struct {
	ID        string
	PostID    string
	UserID    string
	Content   string
	CreatedAt time.Time
}
