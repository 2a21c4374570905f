package llm

import (
	"context"
	"errors"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyCompletion is returned when the provider answers without content.
var ErrEmptyCompletion = errors.New("llm returned empty completion")

// Message is one entry of a conversation. Messages are appended, never edited.
type Message struct {
	Role      string    `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// MessageID identifies a message across the sessions that store it.
type MessageID struct {
	Timestamp int64
	Role      string
	Content   string
}

func (m Message) ID() MessageID {
	return MessageID{Timestamp: m.Timestamp.UnixNano(), Role: m.Role, Content: m.Content}
}

// Distinct drops repeated messages, keeping the first occurrence. Two
// messages are the same when timestamp, role and content all match; a
// message carried into a later session is stored again with that session.
func Distinct(msgs []Message) []Message {
	seen := make(map[MessageID]struct{}, len(msgs))
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		id := m.ID()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Options tune a single Generate call. Zero values use the client defaults.
type Options struct {
	Model       string
	Temperature *float32
}

type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Message converts the response into an assistant message stamped at ts.
func (r Response) Message(ts time.Time) Message {
	return Message{Role: RoleAssistant, Content: r.Content, Timestamp: ts}
}

type Client interface {
	Generate(ctx context.Context, messages []Message, opts Options) (Response, error)
}

func Temperature(v float32) *float32 { return &v }
