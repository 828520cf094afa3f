package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"findsanity/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyPublished = errors.New("journal entry already published")
)

func InsertJournalEntry(ctx context.Context, db *sql.DB, rec domain.JournalRecord) error {
	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("marshal analysis result: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO journal_entries (id, user_id, intent, content, linked_ids, journal_title, decision, crisis, result_json, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, string(rec.Intent), rec.Content, joinList(rec.LinkedIDs),
		rec.Result.JournalTitle, string(rec.Result.Safety.Decision), rec.Result.Safety.CrisisIndicated(),
		string(resultJSON), rec.CompletedAt.UTC(),
	)
	return err
}

const journalColumns = `id, user_id, intent, content, linked_ids, result_json, published_post_id, completed_at`

func scanJournal(scan func(dest ...any) error) (domain.JournalRecord, error) {
	var (
		rec        domain.JournalRecord
		intent     string
		linked     string
		resultJSON string
	)
	if err := scan(&rec.ID, &rec.UserID, &intent, &rec.Content, &linked, &resultJSON, &rec.PublishedPostID, &rec.CompletedAt); err != nil {
		return rec, err
	}
	rec.Intent = domain.Intent(intent)
	rec.LinkedIDs = splitList(linked)
	if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
		return rec, fmt.Errorf("decode analysis result for %s: %w", rec.ID, err)
	}
	return rec, nil
}

func GetJournalEntry(ctx context.Context, db *sql.DB, id string) (domain.JournalRecord, error) {
	row := db.QueryRowContext(ctx, `SELECT `+journalColumns+` FROM journal_entries WHERE id = ?`, id)
	rec, err := scanJournal(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("journal entry %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// GetJournalEntriesByIDs returns the user's own entries in the order of ids.
// Unknown ids, or ids owned by someone else, are an error.
func GetJournalEntriesByIDs(ctx context.Context, db *sql.DB, userID string, ids []string) ([]domain.JournalRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+journalColumns+` FROM journal_entries WHERE user_id = ? AND id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]domain.JournalRecord, len(ids))
	for rows.Next() {
		rec, err := scanJournal(rows.Scan)
		if err != nil {
			return nil, err
		}
		byID[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.JournalRecord, 0, len(ids))
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("journal entry %s: %w", id, ErrNotFound)
		}
		out = append(out, rec)
	}
	return out, nil
}

func ListJournalEntries(ctx context.Context, db *sql.DB, userID string, limit int) ([]domain.JournalRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+journalColumns+` FROM journal_entries WHERE user_id = ? ORDER BY completed_at DESC, id LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.JournalRecord
	for rows.Next() {
		rec, err := scanJournal(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordTopics adds topics to the user's vocabulary, bumping use counts.
func RecordTopics(ctx context.Context, db *sql.DB, userID string, topics []string, at time.Time) error {
	if len(topics) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO user_topics (user_id, topic, use_count, first_seen, last_seen)
		 VALUES (?, ?, 1, ?, ?)
		 ON CONFLICT(user_id, topic) DO UPDATE SET
		   use_count = use_count + 1,
		   last_seen = excluded.last_seen`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	at = at.UTC()
	for _, topic := range topics {
		if _, err := stmt.ExecContext(ctx, userID, topic, at, at); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetUserTopics returns the user's topics, most used first.
func GetUserTopics(ctx context.Context, db *sql.DB, userID string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT topic FROM user_topics WHERE user_id = ? ORDER BY use_count DESC, topic`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	return topics, rows.Err()
}
