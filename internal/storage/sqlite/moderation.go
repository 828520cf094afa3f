package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"findsanity/internal/domain"
)

const blockReason = "repeated comment violations"

func IsBlocked(ctx context.Context, db *sql.DB, userID string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM blocked_users WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// RecordViolation inserts the flag, counts the user's flags inside window and
// blocks the user once the count reaches threshold, all in one immediate
// transaction.
func RecordViolation(ctx context.Context, db *sql.DB, v domain.Violation, window time.Duration, threshold int) (domain.StrikeTally, error) {
	var tally domain.StrikeTally
	at := v.OccurredAt.UTC()
	severity := v.Severity
	if severity == "" {
		severity = domain.SeverityMedium
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return tally, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO comment_flags (user_id, content, reason, severity, created_at) VALUES (?, ?, ?, ?, ?)`,
		v.UserID, v.Content, v.Reason, string(severity), at,
	); err != nil {
		return tally, err
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM comment_flags WHERE user_id = ? AND created_at > ?`,
		v.UserID, at.Add(-window),
	).Scan(&tally.Count); err != nil {
		return tally, err
	}

	if tally.Count >= threshold {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO blocked_users (user_id, reason, violation_count, blocked_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(user_id) DO NOTHING`,
			v.UserID, blockReason, tally.Count, at,
		)
		if err != nil {
			return tally, err
		}
		n, _ := res.RowsAffected()
		tally.Blocked = true
		tally.NewlyBlocked = n == 1
	}
	return tally, tx.Commit()
}

// UnblockUser lifts the block and clears the user's flags so the strike
// count starts over. It reports whether a block existed.
func UnblockUser(ctx context.Context, db *sql.DB, userID string) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM blocked_users WHERE user_id = ?`, userID)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM comment_flags WHERE user_id = ?`, userID); err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, tx.Commit()
}

func ListRecentFlags(ctx context.Context, db *sql.DB, since time.Time, limit int) ([]domain.CommentFlag, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, user_id, content, reason, severity, created_at
		 FROM comment_flags WHERE created_at >= ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		since.UTC(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []domain.CommentFlag
	for rows.Next() {
		var (
			f        domain.CommentFlag
			severity string
		)
		if err := rows.Scan(&f.ID, &f.UserID, &f.Content, &f.Reason, &severity, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Severity = domain.Severity(severity)
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

// PruneFlags deletes flags created before cutoff.
func PruneFlags(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM comment_flags WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Store adapts the package functions to the moderation gate.
type Store struct {
	DB *sql.DB
}

func (s Store) IsBlocked(ctx context.Context, userID string) (bool, error) {
	return IsBlocked(ctx, s.DB, userID)
}

func (s Store) RecordViolation(ctx context.Context, v domain.Violation, window time.Duration, threshold int) (domain.StrikeTally, error) {
	return RecordViolation(ctx, s.DB, v, window, threshold)
}
