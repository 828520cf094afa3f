package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"findsanity/internal/domain"
)

// PublishJournalPost inserts post and links it to its journal entry. An
// entry can be published once.
func PublishJournalPost(ctx context.Context, db *sql.DB, post domain.Post) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var published string
	err = tx.QueryRowContext(ctx,
		`SELECT published_post_id FROM journal_entries WHERE id = ? AND user_id = ?`,
		post.JournalID, post.UserID,
	).Scan(&published)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("journal entry %s: %w", post.JournalID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if published != "" {
		return fmt.Errorf("journal entry %s: %w", post.JournalID, ErrAlreadyPublished)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO posts (id, user_id, journal_id, title, content, clear_ask, topics, intent, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		post.ID, post.UserID, post.JournalID, post.Title, post.Content, post.ClearAsk,
		joinList(post.Topics), string(post.Intent), string(post.Source), post.CreatedAt.UTC(),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE journal_entries SET published_post_id = ? WHERE id = ?`,
		post.ID, post.JournalID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

const postColumns = `id, user_id, journal_id, title, content, clear_ask, topics, intent, source, created_at`

func scanPost(scan func(dest ...any) error) (domain.Post, error) {
	var (
		p      domain.Post
		topics string
		intent string
		source string
	)
	err := scan(&p.ID, &p.UserID, &p.JournalID, &p.Title, &p.Content, &p.ClearAsk, &topics, &intent, &source, &p.CreatedAt)
	p.Topics = splitList(topics)
	p.Intent = domain.Intent(intent)
	p.Source = domain.PostSource(source)
	return p, err
}

func GetPost(ctx context.Context, db *sql.DB, id string) (domain.Post, error) {
	p, err := scanPost(db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return p, err
}

func ListRecentPosts(ctx context.Context, db *sql.DB, limit int) ([]domain.Post, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `SELECT `+postColumns+` FROM posts ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		p, err := scanPost(rows.Scan)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func InsertComment(ctx context.Context, db *sql.DB, c domain.Comment) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO comments (id, post_id, user_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.PostID, c.UserID, c.Content, c.CreatedAt.UTC(),
	)
	return err
}

func ListComments(ctx context.Context, db *sql.DB, postID string) ([]domain.Comment, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, post_id, user_id, content, created_at FROM comments WHERE post_id = ? ORDER BY created_at, id`,
		postID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.UserID, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}
