package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"health-agent/internal/config"
	"health-agent/internal/llm"
)

// backends returns a fresh instance of every store that runs without
// external services.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{"file": fs, "sqlite": sq}
}

func TestStore_Users(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			u, err := s.GetUser(ctx, "missing")
			require.NoError(t, err)
			assert.Nil(t, u)

			require.NoError(t, s.UpsertUser(ctx, User{ID: "u1", Name: "Mario Rossi"}))
			require.NoError(t, s.UpsertUser(ctx, User{ID: "u2", Name: "Anna"}))
			require.NoError(t, s.UpsertUser(ctx, User{ID: "u1", Name: "Mario Bianchi"}))

			users, err := s.ListUsers(ctx)
			require.NoError(t, err)
			require.Len(t, users, 2)
			assert.Equal(t, "u1", users[0].ID)
			assert.Equal(t, "Mario Bianchi", users[0].Name)
			assert.False(t, users[0].CreatedAt.IsZero())

			got, err := s.GetUser(ctx, "u2")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "Anna", got.FirstName())
		})
	}
}

func TestStore_ConversationRoundTripPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			conv := Conversation{
				SessionID: "s1",
				UserID:    "u1",
				Messages: []llm.Message{
					{Role: llm.RoleSystem, Content: "sys"},
					{Role: llm.RoleUser, Content: "hello", Timestamp: created},
				},
				TextContent: "system: sys\nuser: hello",
				Embedding:   []float32{0.25, -1},
				CreatedAt:   created,
				UpdatedAt:   created,
			}
			require.NoError(t, s.UpsertConversation(ctx, conv))

			conv.Messages = append(conv.Messages, llm.Message{Role: llm.RoleAssistant, Content: "hi", Timestamp: created.Add(time.Minute)})
			conv.CreatedAt = created.Add(time.Hour)
			conv.UpdatedAt = created.Add(time.Minute)
			conv.Embedding = nil
			require.NoError(t, s.UpsertConversation(ctx, conv))

			got, err := s.GetConversation(ctx, "s1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, got.CreatedAt.Equal(created), "created_at changed to %v", got.CreatedAt)
			assert.True(t, got.UpdatedAt.Equal(created.Add(time.Minute)))
			require.Len(t, got.Messages, 3)
			assert.Equal(t, "hi", got.Messages[2].Content)
			assert.True(t, got.Messages[1].Timestamp.Equal(created))
			assert.Nil(t, got.Embedding)

			missing, err := s.GetConversation(ctx, "nope")
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}

func TestStore_ConversationsByDateRange(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	start, end := DayBounds(day, time.UTC)
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			put := func(id, user string, at time.Time) {
				require.NoError(t, s.UpsertConversation(ctx, Conversation{
					SessionID: id, UserID: user, CreatedAt: at, UpdatedAt: at,
				}))
			}
			put("late", "u1", day.Add(20*time.Hour))
			put("early", "u1", day.Add(8*time.Hour))
			put("before", "u1", day.Add(-time.Second))
			put("after", "u1", day.Add(24*time.Hour))
			put("other", "u2", day.Add(9*time.Hour))
			put("edge", "u1", end)

			got, err := s.ListConversationsByDateRange(ctx, "u1", start, end)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, c := range got {
				ids = append(ids, c.SessionID)
			}
			assert.Equal(t, []string{"early", "late", "edge"}, ids)
		})
	}
}

func TestStore_SummariesUniquenessAndOrdering(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i, d := range []int{2, 0, 3, 1} {
				require.NoError(t, s.CreateSummary(ctx, Summary{
					ID:         string(rune('a' + i)),
					UserID:     "u1",
					Day:        base.AddDate(0, 0, d),
					Summary:    "day",
					SessionIDs: []string{"s"},
					CreatedAt:  base,
				}))
			}
			err := s.CreateSummary(ctx, Summary{ID: "dup", UserID: "u1", Day: base.Add(5 * time.Hour), CreatedAt: base})
			assert.True(t, errors.Is(err, ErrSummaryExists), "got %v", err)
			require.NoError(t, s.CreateSummary(ctx, Summary{ID: "o", UserID: "u2", Day: base, CreatedAt: base}))

			recent, err := s.ListRecentSummaries(ctx, "u1", 3)
			require.NoError(t, err)
			require.Len(t, recent, 3)
			assert.Equal(t, base.AddDate(0, 0, 3), recent[0].Day)
			assert.Equal(t, base.AddDate(0, 0, 1), recent[2].Day)
			assert.Equal(t, []string{"s"}, recent[0].SessionIDs)

			none, err := s.ListRecentSummaries(ctx, "u1", 0)
			require.NoError(t, err)
			assert.Empty(t, none)

			ranged, err := s.ListSummariesByDateRange(ctx, "u1", base.AddDate(0, 0, 1), base.AddDate(0, 0, 2))
			require.NoError(t, err)
			require.Len(t, ranged, 2)
			assert.Equal(t, base.AddDate(0, 0, 1), ranged[0].Day)
			assert.Equal(t, base.AddDate(0, 0, 2), ranged[1].Day)
		})
	}
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agent.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertUser(ctx, User{ID: "u1", Name: "Mario"}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
}

func TestOpen_SelectsBackend(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, &config.Config{StoreBackend: config.StoreFile, StoreDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(ctx, &config.Config{StoreBackend: config.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, &config.Config{StoreBackend: "redis"})
	assert.Error(t, err)
}
