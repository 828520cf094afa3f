package domain

import "time"

const MaxLinkedEntries = 2

// Entry is a journal submission. The pipeline treats it as read-only.
type Entry struct {
	Text   string
	Intent Intent
}

// LinkedEntry is a prior entry supplied for continuity.
type LinkedEntry struct {
	ID          string
	Title       string
	CompletedAt time.Time
	Topics      []string
	Body        string
}
