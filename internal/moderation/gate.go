package moderation

import (
	"context"
	"fmt"
	"log"
	"time"

	"findsanity/internal/domain"
)

const (
	DefaultWindow    = 30 * 24 * time.Hour
	DefaultThreshold = 3
)

const suspendedReason = "commenting is paused on this account after repeated violations of the community guidelines."

type Moderator interface {
	Moderate(ctx context.Context, text string) (domain.ModerationVerdict, error)
}

// StrikeStore persists violations. RecordViolation must insert the flag,
// count flags inside the window and block the user at threshold as one
// atomic step.
type StrikeStore interface {
	IsBlocked(ctx context.Context, userID string) (bool, error)
	RecordViolation(ctx context.Context, v domain.Violation, window time.Duration, threshold int) (domain.StrikeTally, error)
}

type Notifier interface {
	UserBlocked(ctx context.Context, userID string, violations int, window time.Duration) error
}

type GateOptions struct {
	Window    time.Duration
	Threshold int
	Notifier  Notifier
	Now       func() time.Time
}

type CommentOutcome struct {
	Accepted         bool
	Blocked          bool
	Verdict          domain.ModerationVerdict
	ViolationCount   int
	StrikesRemaining int
}

type Gate struct {
	moderator Moderator
	store     StrikeStore
	window    time.Duration
	threshold int
	notifier  Notifier
	now       func() time.Time
}

func NewGate(moderator Moderator, store StrikeStore, opts GateOptions) *Gate {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Gate{
		moderator: moderator,
		store:     store,
		window:    opts.Window,
		threshold: opts.Threshold,
		notifier:  opts.Notifier,
		now:       opts.Now,
	}
}

// Submit screens a comment. A rejected comment is a normal outcome; errors
// mean the verdict could not be obtained or recorded.
func (g *Gate) Submit(ctx context.Context, userID, text string) (CommentOutcome, error) {
	blocked, err := g.store.IsBlocked(ctx, userID)
	if err != nil {
		return CommentOutcome{}, fmt.Errorf("check block status: %w", err)
	}
	if blocked {
		log.Printf("moderation comment refused user=%s reason=blocked", userID)
		return CommentOutcome{
			Blocked: true,
			Verdict: domain.ModerationVerdict{Reason: suspendedReason, Severity: domain.SeverityHigh},
		}, nil
	}

	verdict, err := g.moderator.Moderate(ctx, text)
	if err != nil {
		return CommentOutcome{}, err
	}
	if verdict.Approved {
		return CommentOutcome{Accepted: true, Verdict: verdict, StrikesRemaining: g.threshold}, nil
	}

	tally, err := g.store.RecordViolation(ctx, domain.Violation{
		UserID:     userID,
		Content:    text,
		Reason:     verdict.Reason,
		Severity:   verdict.Severity,
		OccurredAt: g.now().UTC(),
	}, g.window, g.threshold)
	if err != nil {
		return CommentOutcome{}, fmt.Errorf("record violation: %w", err)
	}

	remaining := g.threshold - tally.Count
	if remaining < 0 {
		remaining = 0
	}
	outcome := CommentOutcome{
		Blocked:          tally.Blocked,
		Verdict:          verdict,
		ViolationCount:   tally.Count,
		StrikesRemaining: remaining,
	}
	log.Printf("moderation comment blocked user=%s severity=%s violations=%d remaining=%d user_blocked=%t",
		userID, verdict.Severity, tally.Count, remaining, tally.Blocked)

	if tally.NewlyBlocked {
		g.notifyBlocked(ctx, userID, tally.Count)
	}
	return outcome, nil
}

func (g *Gate) notifyBlocked(ctx context.Context, userID string, count int) {
	if g.notifier == nil {
		return
	}
	if err := g.notifier.UserBlocked(ctx, userID, count, g.window); err != nil {
		log.Printf("moderation notify failed user=%s: %v", userID, err)
	}
}
