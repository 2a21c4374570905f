package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"health-agent/internal/llm"
	"health-agent/internal/prompts"
	"health-agent/internal/storage"
)

var (
	now       = time.Date(2024, 6, 10, 0, 5, 0, 0, time.UTC)
	yesterday = time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC)
)

type fakeLLM struct {
	reply  string
	failOn string
	calls  []string
	models []string
}

func (f *fakeLLM) Generate(_ context.Context, msgs []llm.Message, opts llm.Options) (llm.Response, error) {
	content := msgs[0].Content
	f.calls = append(f.calls, content)
	f.models = append(f.models, opts.Model)
	if f.failOn != "" && strings.Contains(content, f.failOn) {
		return llm.Response{}, errors.New("model overloaded")
	}
	return llm.Response{Content: f.reply}, nil
}

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.5}, nil
}

func newStore(t *testing.T, users ...string) *storage.FileStore {
	t.Helper()
	s, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	for _, u := range users {
		require.NoError(t, s.UpsertUser(context.Background(), storage.User{ID: u, Name: u}))
	}
	return s
}

func addConversation(t *testing.T, s storage.Store, id, user string, at time.Time, msgs ...llm.Message) {
	t.Helper()
	require.NoError(t, s.UpsertConversation(context.Background(), storage.Conversation{
		SessionID: id, UserID: user, Messages: msgs, CreatedAt: at, UpdatedAt: at,
	}))
}

func newSummarizer(s storage.Store, client llm.Client) *Summarizer {
	return New(s, client, fakeEmbedder{}, prompts.Default().Summarization, "o1-mini", time.UTC, nil)
}

func TestRun_NoConversationsCreatesNothing(t *testing.T) {
	s := newStore(t, "u1", "u2")
	// today's conversation belongs to tomorrow's batch
	addConversation(t, s, "today", "u1", now, llm.Message{Role: llm.RoleUser, Content: "hi", Timestamp: now})
	client := &fakeLLM{reply: "unused"}

	report, err := newSummarizer(s, client).Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 2, report.SkippedEmpty)
	assert.Empty(t, client.calls)

	sums, err := s.ListRecentSummaries(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, sums)
}

func TestRun_CreatesSummaryForYesterday(t *testing.T) {
	s := newStore(t, "u1")
	morning := yesterday.Add(9 * time.Hour)
	evening := yesterday.Add(20 * time.Hour)
	addConversation(t, s, "evening", "u1", evening,
		llm.Message{Role: llm.RoleSystem, Content: "prompt", Timestamp: evening},
		llm.Message{Role: llm.RoleUser, Content: "pain 3/10", Timestamp: evening.Add(time.Minute)},
	)
	addConversation(t, s, "morning", "u1", morning,
		llm.Message{Role: llm.RoleAssistant, Content: "how are you", Timestamp: morning},
		llm.Message{Role: llm.RoleUser, Content: "pain 6/10", Timestamp: morning.Add(time.Minute)},
	)
	client := &fakeLLM{reply: "  Pain decreased from 6/10 to 3/10.  "}

	report, err := newSummarizer(s, client).Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, yesterday, report.Day)
	require.Len(t, report.Users, 1)
	assert.Equal(t, Created, report.Users[0].Outcome)
	assert.Equal(t, 2, report.Stats.UserMessages)

	require.Len(t, client.calls, 1)
	assert.Equal(t, []string{"o1-mini"}, client.models)
	prompt := client.calls[0]
	assert.Contains(t, prompt, "Physical symptoms reported")
	assert.Contains(t, prompt, "[2024-06-09 09:00:00] assistant: how are you\n"+
		"[2024-06-09 09:01:00] user: pain 6/10\n"+
		"[2024-06-09 20:01:00] user: pain 3/10")
	assert.NotContains(t, prompt, "] system:")

	sums, err := s.ListSummariesByDateRange(context.Background(), "u1", yesterday, yesterday)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	sm := sums[0]
	assert.Equal(t, "Pain decreased from 6/10 to 3/10.", sm.Summary)
	assert.Equal(t, []string{"morning", "evening"}, sm.SessionIDs)
	assert.Equal(t, []float32{0.5}, sm.Embedding)
	assert.Equal(t, report.Users[0].SummaryID, sm.ID)
}

func TestRun_Idempotent(t *testing.T) {
	s := newStore(t, "u1")
	at := yesterday.Add(10 * time.Hour)
	addConversation(t, s, "a", "u1", at, llm.Message{Role: llm.RoleUser, Content: "tired", Timestamp: at})
	client := &fakeLLM{reply: "Patient tired."}
	sum := newSummarizer(s, client)

	first, err := sum.Run(context.Background(), now)
	require.NoError(t, err)
	second, err := sum.Run(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 1, first.Created)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.SkippedExisting)
	assert.Len(t, client.calls, 1)

	sums, err := s.ListRecentSummaries(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Len(t, sums, 1)
}

func TestRun_CarriedMessagesAppearOnce(t *testing.T) {
	s := newStore(t, "u1")
	first := yesterday.Add(9 * time.Hour)
	second := yesterday.Add(11 * time.Hour)
	opening := llm.Message{Role: llm.RoleAssistant, Content: "how are you", Timestamp: first}
	complaint := llm.Message{Role: llm.RoleUser, Content: "morning headache", Timestamp: first.Add(time.Minute)}
	addConversation(t, s, "first", "u1", first, opening, complaint)
	// the second session was seeded with the first one's messages
	addConversation(t, s, "second", "u1", second,
		llm.Message{Role: llm.RoleSystem, Content: "prompt", Timestamp: second},
		opening, complaint,
		llm.Message{Role: llm.RoleUser, Content: "headache gone", Timestamp: second.Add(time.Minute)},
	)
	client := &fakeLLM{reply: "Headache resolved by noon."}

	report, err := newSummarizer(s, client).Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 2, report.Stats.UserMessages)
	require.Len(t, client.calls, 1)
	assert.Equal(t, 1, strings.Count(client.calls[0], "morning headache"))
	assert.Equal(t, 1, strings.Count(client.calls[0], "how are you"))
	assert.Less(t, strings.Index(client.calls[0], "morning headache"), strings.Index(client.calls[0], "headache gone"))
}

func TestRun_FailureDoesNotAbortBatch(t *testing.T) {
	s := newStore(t, "u1", "u2", "u3")
	at := yesterday.Add(10 * time.Hour)
	addConversation(t, s, "a", "u1", at, llm.Message{Role: llm.RoleUser, Content: "alpha", Timestamp: at})
	addConversation(t, s, "b", "u2", at, llm.Message{Role: llm.RoleUser, Content: "bravo", Timestamp: at})
	addConversation(t, s, "c", "u3", at, llm.Message{Role: llm.RoleUser, Content: "charlie", Timestamp: at})
	client := &fakeLLM{reply: "ok", failOn: "bravo"}

	report, err := newSummarizer(s, client).Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []Outcome{Created, Failed, Created}, []Outcome{
		report.Users[0].Outcome, report.Users[1].Outcome, report.Users[2].Outcome,
	})
	assert.Error(t, report.Users[1].Err)

	sums, err := s.ListRecentSummaries(context.Background(), "u2", 10)
	require.NoError(t, err)
	assert.Empty(t, sums)
}

func TestRun_EmptyCompletionIsFailure(t *testing.T) {
	s := newStore(t, "u1")
	at := yesterday.Add(10 * time.Hour)
	addConversation(t, s, "a", "u1", at, llm.Message{Role: llm.RoleUser, Content: "hi", Timestamp: at})

	report, err := newSummarizer(s, &fakeLLM{reply: " \n"}).Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.True(t, errors.Is(report.Users[0].Err, llm.ErrEmptyCompletion))
}

func TestRun_SystemOnlyConversationIsEmpty(t *testing.T) {
	s := newStore(t, "u1")
	at := yesterday.Add(10 * time.Hour)
	addConversation(t, s, "a", "u1", at, llm.Message{Role: llm.RoleSystem, Content: "prompt", Timestamp: at})
	client := &fakeLLM{reply: "x"}

	report, err := newSummarizer(s, client).Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedEmpty)
	assert.Empty(t, client.calls)
}

func TestRun_EmbeddingFailureStillCreates(t *testing.T) {
	s := newStore(t, "u1")
	at := yesterday.Add(10 * time.Hour)
	addConversation(t, s, "a", "u1", at, llm.Message{Role: llm.RoleUser, Content: "hi", Timestamp: at})
	sum := New(s, &fakeLLM{reply: "fine"}, fakeEmbedder{err: errors.New("down")}, prompts.Default().Summarization, "m", time.UTC, nil)

	report, err := sum.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	sums, err := s.ListRecentSummaries(context.Background(), "u1", 1)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Nil(t, sums[0].Embedding)
}

type racingStore struct{ storage.Store }

func (racingStore) CreateSummary(context.Context, storage.Summary) error {
	return storage.ErrSummaryExists
}

func TestRun_ConcurrentCreateCountsAsExisting(t *testing.T) {
	s := newStore(t, "u1")
	at := yesterday.Add(10 * time.Hour)
	addConversation(t, s, "a", "u1", at, llm.Message{Role: llm.RoleUser, Content: "hi", Timestamp: at})

	report, err := newSummarizer(racingStore{s}, &fakeLLM{reply: "fine"}).Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedExisting)
	assert.Equal(t, 0, report.Failed)
}

func TestRunForDay_UsesConfiguredZone(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	require.NoError(t, err)
	s := newStore(t, "u1")
	// 23:30 UTC on June 8th is already June 9th in Rome
	at := time.Date(2024, 6, 8, 23, 30, 0, 0, time.UTC)
	addConversation(t, s, "a", "u1", at, llm.Message{Role: llm.RoleUser, Content: "late", Timestamp: at})
	client := &fakeLLM{reply: "fine"}
	sum := New(s, client, nil, prompts.Default().Summarization, "m", rome, nil)

	report, err := sum.RunForDay(context.Background(), yesterday)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	require.Len(t, client.calls, 1)
	assert.Contains(t, client.calls[0], "[2024-06-09 01:30:00] user: late")
}

type noUsersStore struct{ storage.Store }

func (noUsersStore) ListUsers(context.Context) ([]storage.User, error) {
	return nil, errors.New("store offline")
}

func TestRun_ListUsersFailure(t *testing.T) {
	_, err := newSummarizer(noUsersStore{newStore(t)}, &fakeLLM{}).Run(context.Background(), now)
	assert.Error(t, err)
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	s := newStore(t, "u1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newSummarizer(s, &fakeLLM{}).Run(ctx, now)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestReportString(t *testing.T) {
	r := &Report{Day: yesterday, Created: 2, Failed: 1}
	assert.Equal(t, "day=2024-06-09 created=2 skipped_existing=0 skipped_empty=0 failed=1", r.String())
}
