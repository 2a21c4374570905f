// Package summary compacts each user's conversations of a calendar day into
// one durable summary.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"health-agent/internal/analytics"
	"health-agent/internal/embedding"
	"health-agent/internal/llm"
	"health-agent/internal/logging"
	"health-agent/internal/metrics"
	"health-agent/internal/prompts"
	"health-agent/internal/storage"
)

const timestampLayout = "2006-01-02 15:04:05"

type Outcome string

const (
	Created         Outcome = metrics.OutcomeCreated
	SkippedExisting Outcome = metrics.OutcomeExisting
	SkippedEmpty    Outcome = metrics.OutcomeNoData
	Failed          Outcome = metrics.OutcomeFailed
)

// UserResult is the outcome of one user in a run.
type UserResult struct {
	UserID    string
	Outcome   Outcome
	SummaryID string
	Sessions  int
	Err       error
}

// Report describes one batch run.
type Report struct {
	Day             time.Time
	Created         int
	SkippedExisting int
	SkippedEmpty    int
	Failed          int
	Users           []UserResult
	Stats           *analytics.DailyStats
}

func (r *Report) add(res UserResult) {
	switch res.Outcome {
	case Created:
		r.Created++
	case SkippedExisting:
		r.SkippedExisting++
	case SkippedEmpty:
		r.SkippedEmpty++
	case Failed:
		r.Failed++
	}
	r.Users = append(r.Users, res)
	metrics.RecordSummary(string(res.Outcome))
}

func (r *Report) String() string {
	return fmt.Sprintf("day=%s created=%d skipped_existing=%d skipped_empty=%d failed=%d",
		r.Day.Format("2006-01-02"), r.Created, r.SkippedExisting, r.SkippedEmpty, r.Failed)
}

type Summarizer struct {
	store    storage.Store
	client   llm.Client
	embedder embedding.Embedder
	prompt   *prompts.Template
	model    string
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

func New(store storage.Store, client llm.Client, embedder embedding.Embedder, prompt *prompts.Template, model string, loc *time.Location, logger *slog.Logger) *Summarizer {
	if embedder == nil {
		embedder = embedding.Noop{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Summarizer{
		store:    store,
		client:   client,
		embedder: embedder,
		prompt:   prompt,
		model:    model,
		loc:      loc,
		logger:   logging.OrDefault(logger),
		now:      time.Now,
	}
}

// Run summarizes the calendar day before now.
func (s *Summarizer) Run(ctx context.Context, now time.Time) (*Report, error) {
	day, _, _ := storage.Yesterday(now, s.loc)
	return s.RunForDay(ctx, day)
}

// RunForDay summarizes the calendar day whose date is day's year, month and
// day. Users are processed in enumeration order; a failing user is recorded
// and the batch moves on. The returned error is non-nil only when users
// cannot be listed or ctx is done.
func (s *Summarizer) RunForDay(ctx context.Context, day time.Time) (*Report, error) {
	started := time.Now()
	y, m, d := day.Date()
	start, end := storage.DayBounds(time.Date(y, m, d, 0, 0, 0, 0, s.loc), s.loc)
	key := storage.DayOf(start)

	report := &Report{Day: key, Stats: analytics.AnalyzeDay(nil, start, end)}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return report, fmt.Errorf("list users: %w", err)
	}
	s.logger.Info("daily summary batch started", "day", key.Format("2006-01-02"), "users", len(users))

	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, stats := s.summarizeUser(ctx, u.ID, key, start, end)
		report.add(res)
		report.Stats.Merge(stats)
	}

	metrics.RecordBatch(started)
	s.logger.Info("daily summary batch finished", "report", report.String(), "duration", time.Since(started))
	return report, nil
}

func (s *Summarizer) summarizeUser(ctx context.Context, userID string, key, start, end time.Time) (UserResult, *analytics.DailyStats) {
	res := UserResult{UserID: userID}
	log := s.logger.With("user_id", userID, "day", key.Format("2006-01-02"))
	fail := func(err error) UserResult {
		log.Error("failed to summarize day", "error", err)
		res.Outcome, res.Err = Failed, err
		return res
	}

	existing, err := s.store.ListSummariesByDateRange(ctx, userID, key, key)
	if err != nil {
		return fail(fmt.Errorf("check existing summary: %w", err)), nil
	}
	if len(existing) > 0 {
		log.Info("summary already exists")
		res.Outcome, res.SummaryID = SkippedExisting, existing[0].ID
		return res, nil
	}

	convs, err := s.store.ListConversationsByDateRange(ctx, userID, start, end)
	if err != nil {
		return fail(fmt.Errorf("load conversations: %w", err)), nil
	}
	stats := analytics.AnalyzeDay(convs, start, end)
	block := s.conversationBlock(convs)
	if block == "" {
		log.Info("no conversations to summarize", "conversations", len(convs))
		res.Outcome = SkippedEmpty
		return res, stats
	}
	res.Sessions = len(convs)

	instruction, err := s.prompt.Render(prompts.Vars{prompts.Conversation: block})
	if err != nil {
		return fail(err), stats
	}
	llmStarted := time.Now()
	resp, err := s.client.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: instruction}}, llm.Options{Model: s.model})
	metrics.RecordLLM("summary", llmStarted)
	if err != nil {
		return fail(fmt.Errorf("generate summary: %w", err)), stats
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return fail(llm.ErrEmptyCompletion), stats
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		log.Warn("failed to embed summary", "error", err)
		vec = nil
	}

	sm := storage.Summary{
		ID:         uuid.NewString(),
		UserID:     userID,
		Day:        key,
		Summary:    text,
		SessionIDs: sessionIDs(convs),
		Embedding:  vec,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateSummary(ctx, sm); err != nil {
		if errors.Is(err, storage.ErrSummaryExists) {
			log.Info("summary created concurrently")
			res.Outcome = SkippedExisting
			return res, stats
		}
		return fail(fmt.Errorf("store summary: %w", err)), stats
	}

	log.Info("summary created", "summary_id", sm.ID, "sessions", len(sm.SessionIDs), "tokens", resp.TotalTokens)
	res.Outcome, res.SummaryID = Created, sm.ID
	return res, stats
}

// conversationBlock renders the non-system messages of convs as
// "[timestamp] role: content" lines in stored order. Messages copied into a
// later session of the day are rendered once.
func (s *Summarizer) conversationBlock(convs []storage.Conversation) string {
	var msgs []llm.Message
	for _, c := range convs {
		for _, m := range c.Messages {
			if m.Role == llm.RoleSystem {
				continue
			}
			if m.Timestamp.IsZero() {
				m.Timestamp = c.CreatedAt
			}
			msgs = append(msgs, m)
		}
	}
	msgs = llm.Distinct(msgs)
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", m.Timestamp.In(s.loc).Format(timestampLayout), m.Role, m.Content))
	}
	return strings.Join(lines, "\n")
}

func sessionIDs(convs []storage.Conversation) []string {
	seen := make(map[string]bool, len(convs))
	out := make([]string, 0, len(convs))
	for _, c := range convs {
		if seen[c.SessionID] {
			continue
		}
		seen[c.SessionID] = true
		out = append(out, c.SessionID)
	}
	return out
}
