package domain

import (
	"strings"
	"time"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func ParseSeverity(s string) (Severity, bool) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow, true
	case SeverityMedium:
		return SeverityMedium, true
	case SeverityHigh:
		return SeverityHigh, true
	}
	return "", false
}

type ModerationVerdict struct {
	Approved   bool     `json:"approved"`
	Reason     string   `json:"reason"`
	Severity   Severity `json:"severity"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Violation is the audit record written when a comment is blocked.
type Violation struct {
	UserID     string
	Content    string
	Reason     string
	Severity   Severity
	OccurredAt time.Time
}

type CommentFlag struct {
	ID        int64
	UserID    string
	Content   string
	Reason    string
	Severity  Severity
	CreatedAt time.Time
}

// StrikeTally is the outcome of recording one violation.
type StrikeTally struct {
	Count        int
	Blocked      bool
	NewlyBlocked bool
}
