package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"health-agent/internal/llm"
)

// ErrSummaryExists is returned by CreateSummary when the (user, day) pair
// already has a summary.
var ErrSummaryExists = errors.New("summary already exists for this user and day")

// User is the identity record enumerated by the daily batch.
type User struct {
	ID        string    `json:"user_id" bson:"user_id"`
	Name      string    `json:"name" bson:"name"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// FirstName returns the first word of the user's name.
func (u User) FirstName() string {
	if f := strings.Fields(u.Name); len(f) > 0 {
		return f[0]
	}
	return u.Name
}

// Conversation is the persisted record of one session. TextContent and
// Embedding are derived from Messages on every write.
type Conversation struct {
	SessionID   string        `json:"session_id" bson:"session_id"`
	UserID      string        `json:"user_id" bson:"user_id"`
	Messages    []llm.Message `json:"messages" bson:"messages"`
	TextContent string        `json:"text_content" bson:"text_content"`
	Embedding   []float32     `json:"embedding,omitempty" bson:"embedding,omitempty"`
	CreatedAt   time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" bson:"updated_at"`
}

// Summary compacts one user's exchanges on one calendar day. Day is the
// calendar date at 00:00 UTC, see DayOf.
type Summary struct {
	ID         string    `json:"summary_id" bson:"summary_id"`
	UserID     string    `json:"user_id" bson:"user_id"`
	Day        time.Time `json:"day" bson:"day"`
	Summary    string    `json:"summary" bson:"summary"`
	SessionIDs []string  `json:"session_ids" bson:"session_ids"`
	Embedding  []float32 `json:"embedding,omitempty" bson:"embedding,omitempty"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}

// Store persists users, conversations and summaries.
// Implementations must be safe for concurrent use.
//
// Lookups of a missing single record return (nil, nil).
// ListConversationsByDateRange matches created_at in [start, end] and orders
// by created_at ascending. ListSummariesByDateRange matches calendar days
// DayOf(from)..DayOf(to) inclusive, ascending. ListRecentSummaries returns at
// most n summaries, newest day first.
type Store interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, userID string) (*User, error)
	UpsertUser(ctx context.Context, user User) error

	GetConversation(ctx context.Context, sessionID string) (*Conversation, error)
	UpsertConversation(ctx context.Context, conv Conversation) error
	ListConversationsByDateRange(ctx context.Context, userID string, start, end time.Time) ([]Conversation, error)

	ListSummariesByDateRange(ctx context.Context, userID string, from, to time.Time) ([]Summary, error)
	ListRecentSummaries(ctx context.Context, userID string, n int) ([]Summary, error)
	CreateSummary(ctx context.Context, summary Summary) error

	Close() error
}
