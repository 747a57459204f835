// Package store persists scraped shoutbox posts in Postgres and fans out
// change notifications to interested observers. Writes use natural-key
// insert-or-ignore semantics so re-feeding the same scrape is idempotent.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"autemo-sync/pkg/shout"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entity kinds used for change notifications.
const (
	EntityAuthors  = "authors"
	EntityMessages = "messages"
)

// Message is one stored chat event, denormalized with its author's
// attributes for read paths.
type Message struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	HTML       string    `json:"html"`
	Text       string    `json:"text"`
	Kind       string    `json:"kind"`
	AuthorName string    `json:"author_name,omitempty"`
	AuthorRole string    `json:"author_role,omitempty"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
}

// Store wraps the Postgres connection pool. Individual statements are
// serialized by the database; the store adds no locking of its own.
type Store struct {
	db       *sql.DB
	logger   *slog.Logger
	registry *registry
}

// Open connects to Postgres at dsn and applies pending migrations.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	version, err := goose.GetDBVersion(db)
	if err != nil {
		return nil, fmt.Errorf("read migration version: %w", err)
	}
	logger.Info("Database ready", "migration_version", version)

	return &Store{
		db:       db,
		logger:   logger,
		registry: newRegistry(),
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// SavePosts writes a batch of scraped posts: authors first (last write wins
// on conflict), then messages keyed by (timestamp, html) with duplicates
// silently skipped. Returns the number of newly inserted messages and
// notifies observers when anything changed.
func (s *Store) SavePosts(ctx context.Context, posts []*shout.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	authorsChanged := false
	for _, post := range posts {
		if post.Author == nil {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO authors (name, role, avatar_url) VALUES ($1, $2, $3)
			 ON CONFLICT (name) DO UPDATE SET role = EXCLUDED.role, avatar_url = EXCLUDED.avatar_url`,
			post.Author.Name, post.Author.Role.String(), post.Author.AvatarURL)
		if err != nil {
			return 0, fmt.Errorf("upsert author %q: %w", post.Author.Name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			authorsChanged = true
		}
	}

	inserted := 0
	for _, post := range posts {
		var authorName sql.NullString
		if post.Author != nil {
			authorName = sql.NullString{String: post.Author.Name, Valid: true}
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (ts, html, body, kind, author_name) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (ts, html) DO NOTHING`,
			post.Timestamp, post.Message.HTML, post.Message.Text, post.Message.Kind.String(), authorName)
		if err != nil {
			return 0, fmt.Errorf("insert message: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	if authorsChanged {
		s.registry.notify(EntityAuthors)
	}
	if inserted > 0 {
		s.registry.notify(EntityMessages)
	}

	s.logger.Debug("Post batch saved", "batch_size", len(posts), "new_messages", inserted)
	return inserted, nil
}

// SaveAuthors upserts a roster of authors outside of any post, e.g. the
// online-users scrape.
func (s *Store) SaveAuthors(ctx context.Context, authors []*shout.Author) error {
	changed := false
	for _, author := range authors {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO authors (name, role, avatar_url) VALUES ($1, $2, $3)
			 ON CONFLICT (name) DO UPDATE SET role = EXCLUDED.role, avatar_url = EXCLUDED.avatar_url`,
			author.Name, author.Role.String(), author.AvatarURL)
		if err != nil {
			return fmt.Errorf("upsert author %q: %w", author.Name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			changed = true
		}
	}

	if changed {
		s.registry.notify(EntityAuthors)
	}
	return nil
}

// NewestPostTime returns the timestamp of the newest stored message, or the
// zero time when the store is empty.
func (s *Store) NewestPostTime(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT ts FROM messages ORDER BY ts DESC LIMIT 1`).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query newest message: %w", err)
	}
	return ts, nil
}

// RecentMessages returns up to limit messages, newest first.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.ts, m.html, m.body, m.kind,
		        COALESCE(m.author_name, ''), COALESCE(a.role, ''), COALESCE(a.avatar_url, '')
		 FROM messages m
		 LEFT JOIN authors a ON a.name = m.author_name
		 ORDER BY m.ts DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("Failed to close rows", "error", closeErr)
		}
	}()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Timestamp, &m.HTML, &m.Text, &m.Kind,
			&m.AuthorName, &m.AuthorRole, &m.AvatarURL); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return msgs, nil
}

// Authors returns every known author, highest privilege first, then by name.
func (s *Store) Authors(ctx context.Context) ([]*shout.Author, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, role, avatar_url FROM authors
		 ORDER BY CASE role WHEN 'ADMIN' THEN 0 WHEN 'MODERATOR' THEN 1 ELSE 2 END, name`)
	if err != nil {
		return nil, fmt.Errorf("query authors: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("Failed to close rows", "error", closeErr)
		}
	}()

	var authors []*shout.Author
	for rows.Next() {
		var name, role, avatar string
		if err := rows.Scan(&name, &role, &avatar); err != nil {
			return nil, fmt.Errorf("scan author: %w", err)
		}
		authors = append(authors, &shout.Author{
			Name:      name,
			AvatarURL: avatar,
			Role:      shout.RoleFromString(role),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate authors: %w", err)
	}

	return authors, nil
}

// Subscribe registers an observer for changes to the given entity kind and
// returns the notification channel plus a cancel func.
func (s *Store) Subscribe(entity string) (<-chan string, func()) {
	return s.registry.subscribe(entity)
}
