package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"health-agent/internal/llm"
	"health-agent/internal/logging"
	"health-agent/internal/prompts"
	"health-agent/internal/storage"
)

// ErrDataUnavailable is returned when prior summaries or same-day
// conversations cannot be read. A session is never started without them.
var ErrDataUnavailable = errors.New("session history unavailable")

const (
	noSummaries = "No interactions found in the previous days."
	noSameDay   = "No previous session found."

	clockLayout     = "2006-01-02 15:04"
	timestampLayout = "2006-01-02 15:04:05"
	dayLayout       = "2006-01-02"
)

// Builder produces the seed messages of a new session.
type Builder struct {
	store    storage.Store
	prompts  *prompts.Set
	lookback int
	loc      *time.Location
	logger   *slog.Logger
}

func NewBuilder(store storage.Store, set *prompts.Set, lookback int, loc *time.Location, logger *slog.Logger) *Builder {
	if loc == nil {
		loc = time.Local
	}
	return &Builder{store: store, prompts: set, lookback: lookback, loc: loc, logger: logging.OrDefault(logger)}
}

// Build starts a session for user at now. The result holds exactly one
// leading system message and ends with one assistant opening message; for a
// returning user the same-day messages sit between the two.
func (b *Builder) Build(ctx context.Context, user storage.User, now time.Time) (*Context, error) {
	summaries, err := b.store.ListRecentSummaries(ctx, user.ID, b.lookback)
	if err != nil {
		return nil, fmt.Errorf("%w: recent summaries: %v", ErrDataUnavailable, err)
	}
	start, end := storage.DayBounds(now, b.loc)
	convs, err := b.store.ListConversationsByDateRange(ctx, user.ID, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: same-day conversations: %v", ErrDataUnavailable, err)
	}
	sameDay := sameDayMessages(convs)

	vars := prompts.Vars{
		prompts.Patient:     user.FirstName(),
		prompts.CurrentTime: now.In(b.loc).Format(clockLayout),
	}
	systemTmpl, openingTmpl := b.prompts.FirstTimeSystem, b.prompts.FirstTimeOpening
	firstTime := len(summaries) == 0 && len(sameDay) == 0
	if !firstTime {
		systemTmpl, openingTmpl = b.prompts.ReturningSystem, b.prompts.ReturningOpening
		vars[prompts.SummaryCount] = len(summaries)
		vars[prompts.Summaries] = b.summariesBlock(summaries)
		vars[prompts.SameDay] = b.sameDayBlock(sameDay)
	}

	system, err := systemTmpl.Render(vars)
	if err != nil {
		return nil, err
	}
	opening, err := openingTmpl.Render(vars)
	if err != nil {
		return nil, err
	}

	msgs := make([]llm.Message, 0, len(sameDay)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system, Timestamp: now})
	if !firstTime {
		msgs = append(msgs, sameDay...)
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: opening, Timestamp: now})

	sc := &Context{
		Authenticated: true,
		UserID:        user.ID,
		UserName:      user.Name,
		SessionID:     uuid.NewString(),
		Messages:      msgs,
		StartedAt:     now,
		LastActivity:  now,
	}
	b.logger.Info("session started",
		"user_id", user.ID,
		"session_id", sc.SessionID,
		"first_time", firstTime,
		"summaries", len(summaries),
		"same_day_messages", len(sameDay))
	return sc, nil
}

// sameDayMessages flattens the non-system, timestamped messages of convs in
// chronological order. Messages a session was seeded with appear once.
func sameDayMessages(convs []storage.Conversation) []llm.Message {
	var all []llm.Message
	for _, c := range convs {
		for _, m := range c.Messages {
			if m.Role == llm.RoleSystem || m.Timestamp.IsZero() {
				continue
			}
			all = append(all, m)
		}
	}
	out := llm.Distinct(all)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// summariesBlock renders summaries oldest first; the store returns them
// newest first.
func (b *Builder) summariesBlock(summaries []storage.Summary) string {
	if len(summaries) == 0 {
		return noSummaries
	}
	lines := make([]string, 0, len(summaries))
	for i := len(summaries) - 1; i >= 0; i-- {
		s := summaries[i]
		lines = append(lines, fmt.Sprintf("Day %s: %s", s.Day.Format(dayLayout), s.Summary))
	}
	return strings.Join(lines, "\n")
}

func (b *Builder) sameDayBlock(msgs []llm.Message) string {
	if len(msgs) == 0 {
		return noSameDay
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", m.Timestamp.In(b.loc).Format(timestampLayout), m.Role, m.Content))
	}
	return strings.Join(lines, "\n")
}
