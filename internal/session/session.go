// Package session assembles the opening context of a conversation and keeps
// the live sessions of a front-end.
package session

import (
	"time"

	"health-agent/internal/llm"
)

// Context is the state of one live conversation. Turns on a Context must not
// run concurrently.
type Context struct {
	Authenticated bool
	UserID        string
	UserName      string
	SessionID     string
	Messages      []llm.Message
	StartedAt     time.Time
	LastActivity  time.Time
}

// Idle reports whether the session saw no activity for longer than timeout.
// A non-positive timeout never expires.
func (c *Context) Idle(now time.Time, timeout time.Duration) bool {
	return timeout > 0 && now.Sub(c.LastActivity) > timeout
}

// Opening returns the trailing assistant message seeded at session start.
func (c *Context) Opening() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == llm.RoleAssistant {
			return c.Messages[i].Content
		}
	}
	return ""
}
