// Package history bounds the message list sent to the language model.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"health-agent/internal/llm"
	"health-agent/internal/logging"
	"health-agent/internal/metrics"
	"health-agent/internal/tokenizer"
)

const (
	ModeTruncate = "truncate"
	ModeCompact  = "compact"
)

// ErrSystemOverBudget is returned when the leading system message alone
// costs more than the budget.
var ErrSystemOverBudget = errors.New("system message exceeds the context budget")

// Windower returns the subset of msgs that may be sent to the model.
// The input slice is never modified.
type Windower interface {
	Window(ctx context.Context, msgs []llm.Message) ([]llm.Message, error)
}

// New selects the windowing strategy by mode. The LLM client and model are
// used only by the compact strategy.
func New(mode string, counter tokenizer.Counter, budget int, client llm.Client, model string, logger *slog.Logger) (Windower, error) {
	switch mode {
	case "", ModeTruncate:
		return NewTruncate(counter, budget), nil
	case ModeCompact:
		if client == nil {
			return nil, fmt.Errorf("compact history mode needs an llm client")
		}
		return NewCompact(client, model, logger), nil
	default:
		return nil, fmt.Errorf("unknown history mode: %s", mode)
	}
}

// Truncate keeps the leading system message and the longest suffix of the
// remaining non-system messages that fits the token budget.
type Truncate struct {
	counter tokenizer.Counter
	budget  int
}

func NewTruncate(counter tokenizer.Counter, budget int) *Truncate {
	return &Truncate{counter: counter, budget: budget}
}

func (t *Truncate) Window(_ context.Context, msgs []llm.Message) ([]llm.Message, error) {
	if len(msgs) == 0 {
		return []llm.Message{}, nil
	}
	if msgs[0].Role != llm.RoleSystem {
		return msgs, nil
	}

	used := t.counter.Count(msgs[0].Content)
	if used > t.budget {
		return nil, fmt.Errorf("%w: %d > %d tokens", ErrSystemOverBudget, used, t.budget)
	}

	rest := make([]llm.Message, 0, len(msgs)-1)
	for _, m := range msgs[1:] {
		if m.Role != llm.RoleSystem {
			rest = append(rest, m)
		}
	}

	// Walk back from the newest message; the first one that does not fit
	// ends the window even if older, shorter ones would.
	first := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		cost := t.counter.Count(rest[i].Content)
		if used+cost > t.budget {
			break
		}
		used += cost
		first = i
	}

	out := make([]llm.Message, 0, 1+len(rest)-first)
	out = append(out, msgs[0])
	out = append(out, rest[first:]...)
	metrics.RecordWindow(ModeTruncate, len(out), len(msgs)-len(out))
	return out, nil
}

const compactInstruction = "Based on the conversation history below, create a single query that " +
	"captures the user's latest question with all necessary context. " +
	"Use the conversation's language and style to rephrase the question.\n\n" +
	"History:\n%s\n\nLatest question: %s"

// Compact asks the model to fold the dialogue into one self-contained query.
// The result is the leading system message followed by that query.
type Compact struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

func NewCompact(client llm.Client, model string, logger *slog.Logger) *Compact {
	return &Compact{client: client, model: model, logger: logging.OrDefault(logger)}
}

func (c *Compact) Window(ctx context.Context, msgs []llm.Message) ([]llm.Message, error) {
	if len(msgs) == 0 {
		return []llm.Message{}, nil
	}
	if msgs[0].Role != llm.RoleSystem {
		return msgs, nil
	}

	latest := -1
	for i := len(msgs) - 1; i > 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			latest = i
			break
		}
	}
	if latest < 0 {
		return []llm.Message{msgs[0]}, nil
	}

	var lines []string
	for _, m := range msgs[1:latest] {
		switch m.Role {
		case llm.RoleUser:
			lines = append(lines, "User: "+m.Content)
		case llm.RoleAssistant:
			lines = append(lines, "Assistant: "+m.Content)
		}
	}

	query := msgs[latest]
	started := time.Now()
	resp, err := c.client.Generate(ctx, []llm.Message{{
		Role:    llm.RoleSystem,
		Content: fmt.Sprintf(compactInstruction, strings.Join(lines, "\n"), query.Content),
	}}, llm.Options{Model: c.model})
	metrics.RecordLLM("compact", started)
	switch {
	case err != nil:
		c.logger.Warn("history rewrite failed, sending latest question as is", "error", err)
	case strings.TrimSpace(resp.Content) != "":
		query = llm.Message{Role: llm.RoleUser, Content: resp.Content, Timestamp: query.Timestamp}
	}

	out := []llm.Message{msgs[0], query}
	metrics.RecordWindow(ModeCompact, len(out), len(msgs)-len(out))
	return out, nil
}
