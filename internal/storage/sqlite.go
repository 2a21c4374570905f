package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Fixed-width UTC layout so that text comparison orders instants.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

const dayLayout = "2006-01-02"

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite is single-writer; one shared connection serializes callers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) runMigrations() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		prefix, _, ok := strings.Cut(name, "_")
		if !ok || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return fmt.Errorf("migration %s: bad version: %w", name, err)
		}
		if version <= current {
			continue
		}
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(body)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, formatTime(time.Now())); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM users ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		var (
			u       User
			created string
		)
		if err := rows.Scan(&u.ID, &u.Name, &created); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		if u.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*User, error) {
	var (
		u       User
		created string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM users WHERE id = ?`, userID).
		Scan(&u.ID, &u.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, user User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		user.ID, user.Name, formatTime(user.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

const conversationColumns = `session_id, user_id, messages, text_content, embedding, created_at, updated_at`

func (s *SQLiteStore) GetConversation(ctx context.Context, sessionID string) (*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	c, err := scanConversation(rows)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) UpsertConversation(ctx context.Context, conv Conversation) error {
	messages, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	embedding, err := marshalEmbedding(conv.Embedding)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			user_id      = excluded.user_id,
			messages     = excluded.messages,
			text_content = excluded.text_content,
			embedding    = excluded.embedding,
			updated_at   = excluded.updated_at`,
		conv.SessionID, conv.UserID, string(messages), conv.TextContent, embedding,
		formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListConversationsByDateRange(ctx context.Context, userID string, start, end time.Time) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE user_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at`,
		userID, formatTime(start), formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const summaryColumns = `id, user_id, day, summary, session_ids, embedding, created_at`

func (s *SQLiteStore) ListSummariesByDateRange(ctx context.Context, userID string, from, to time.Time) ([]Summary, error) {
	return s.querySummaries(ctx, `
		SELECT `+summaryColumns+` FROM summaries
		WHERE user_id = ? AND day >= ? AND day <= ?
		ORDER BY day`,
		userID, DayOf(from).Format(dayLayout), DayOf(to).Format(dayLayout))
}

func (s *SQLiteStore) ListRecentSummaries(ctx context.Context, userID string, n int) ([]Summary, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.querySummaries(ctx, `
		SELECT `+summaryColumns+` FROM summaries
		WHERE user_id = ?
		ORDER BY day DESC
		LIMIT ?`,
		userID, n)
}

func (s *SQLiteStore) CreateSummary(ctx context.Context, summary Summary) error {
	sessionIDs, err := json.Marshal(summary.SessionIDs)
	if err != nil {
		return fmt.Errorf("marshal session ids: %w", err)
	}
	embedding, err := marshalEmbedding(summary.Embedding)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (`+summaryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, day) DO NOTHING`,
		summary.ID, summary.UserID, DayOf(summary.Day).Format(dayLayout), summary.Summary,
		string(sessionIDs), embedding, formatTime(summary.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSummaryExists
	}
	return nil
}

func (s *SQLiteStore) querySummaries(ctx context.Context, query string, args ...any) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		var (
			sm         Summary
			day        string
			sessionIDs string
			embedding  sql.NullString
			created    string
		)
		if err := rows.Scan(&sm.ID, &sm.UserID, &day, &sm.Summary, &sessionIDs, &embedding, &created); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if sm.Day, err = time.Parse(dayLayout, day); err != nil {
			return nil, fmt.Errorf("parse day: %w", err)
		}
		if err := json.Unmarshal([]byte(sessionIDs), &sm.SessionIDs); err != nil {
			return nil, fmt.Errorf("unmarshal session ids: %w", err)
		}
		if sm.Embedding, err = unmarshalEmbedding(embedding); err != nil {
			return nil, err
		}
		if sm.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

func scanConversation(rows *sql.Rows) (Conversation, error) {
	var (
		c                Conversation
		messages         string
		embedding        sql.NullString
		created, updated string
	)
	if err := rows.Scan(&c.SessionID, &c.UserID, &messages, &c.TextContent, &embedding, &created, &updated); err != nil {
		return Conversation{}, fmt.Errorf("scan conversation: %w", err)
	}
	if err := json.Unmarshal([]byte(messages), &c.Messages); err != nil {
		return Conversation{}, fmt.Errorf("unmarshal messages: %w", err)
	}
	var err error
	if c.Embedding, err = unmarshalEmbedding(embedding); err != nil {
		return Conversation{}, err
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return Conversation{}, err
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func marshalEmbedding(v []float32) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding: %w", err)
	}
	return string(b), nil
}

func unmarshalEmbedding(v sql.NullString) ([]float32, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var out []float32
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil, fmt.Errorf("unmarshal embedding: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(sqliteTime) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

var _ Store = (*SQLiteStore)(nil)
