package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	usersFile         = "users.json"
	conversationsFile = "conversations.json"
	summariesFile     = "summaries.json"
)

// FileStore keeps each collection in its own JSON document under dir.
// Every call reads the collection from disk; writes replace the file
// atomically.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) ListUsers(_ context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return loadUnlocked[User](s.path(usersFile))
}

func (s *FileStore) GetUser(_ context.Context, userID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := loadUnlocked[User](s.path(usersFile))
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.ID == userID {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *FileStore) UpsertUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := loadUnlocked[User](s.path(usersFile))
	if err != nil {
		return err
	}
	updated := false
	for i, u := range users {
		if u.ID == user.ID {
			if user.CreatedAt.IsZero() {
				user.CreatedAt = u.CreatedAt
			}
			users[i] = user
			updated = true
			break
		}
	}
	if !updated {
		if user.CreatedAt.IsZero() {
			user.CreatedAt = time.Now()
		}
		users = append(users, user)
	}
	return saveUnlocked(s.path(usersFile), users)
}

func (s *FileStore) GetConversation(_ context.Context, sessionID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	convs, err := loadUnlocked[Conversation](s.path(conversationsFile))
	if err != nil {
		return nil, err
	}
	for _, c := range convs {
		if c.SessionID == sessionID {
			return &c, nil
		}
	}
	return nil, nil
}

func (s *FileStore) UpsertConversation(_ context.Context, conv Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	convs, err := loadUnlocked[Conversation](s.path(conversationsFile))
	if err != nil {
		return err
	}
	updated := false
	for i, c := range convs {
		if c.SessionID == conv.SessionID {
			conv.CreatedAt = c.CreatedAt
			convs[i] = conv
			updated = true
			break
		}
	}
	if !updated {
		convs = append(convs, conv)
	}
	return saveUnlocked(s.path(conversationsFile), convs)
}

func (s *FileStore) ListConversationsByDateRange(_ context.Context, userID string, start, end time.Time) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	convs, err := loadUnlocked[Conversation](s.path(conversationsFile))
	if err != nil {
		return nil, err
	}
	var out []Conversation
	for _, c := range convs {
		if c.UserID != userID || c.CreatedAt.Before(start) || c.CreatedAt.After(end) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *FileStore) ListSummariesByDateRange(_ context.Context, userID string, from, to time.Time) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sums, err := loadUnlocked[Summary](s.path(summariesFile))
	if err != nil {
		return nil, err
	}
	from, to = DayOf(from), DayOf(to)
	var out []Summary
	for _, sm := range sums {
		day := DayOf(sm.Day)
		if sm.UserID != userID || day.Before(from) || day.After(to) {
			continue
		}
		out = append(out, sm)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (s *FileStore) ListRecentSummaries(_ context.Context, userID string, n int) ([]Summary, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sums, err := loadUnlocked[Summary](s.path(summariesFile))
	if err != nil {
		return nil, err
	}
	var out []Summary
	for _, sm := range sums {
		if sm.UserID == userID {
			out = append(out, sm)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Day.After(out[j].Day) })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *FileStore) CreateSummary(_ context.Context, summary Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sums, err := loadUnlocked[Summary](s.path(summariesFile))
	if err != nil {
		return err
	}
	summary.Day = DayOf(summary.Day)
	for _, sm := range sums {
		if sm.UserID == summary.UserID && DayOf(sm.Day).Equal(summary.Day) {
			return ErrSummaryExists
		}
	}
	return saveUnlocked(s.path(summariesFile), append(sums, summary))
}

func (s *FileStore) path(name string) string { return filepath.Join(s.dir, name) }

func loadUnlocked[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	var items []T
	if err := json.NewDecoder(f).Decode(&items); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return items, nil
}

func saveUnlocked[T any](path string, items []T) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
