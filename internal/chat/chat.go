// Package chat runs one conversational turn: window the history, ask the
// model, persist the session.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"health-agent/internal/embedding"
	"health-agent/internal/history"
	"health-agent/internal/llm"
	"health-agent/internal/logging"
	"health-agent/internal/metrics"
	"health-agent/internal/session"
	"health-agent/internal/storage"
)

var (
	ErrEmptyInput = errors.New("empty input")
	ErrGeneration = errors.New("reply generation failed")
	// ErrNotPersisted accompanies a valid reply whose session could not be
	// saved.
	ErrNotPersisted = errors.New("conversation not persisted")
)

type Handler struct {
	client      llm.Client
	windower    history.Windower
	store       storage.Store
	embedder    embedding.Embedder
	model       string
	temperature float32
	logger      *slog.Logger
	now         func() time.Time
}

func NewHandler(client llm.Client, windower history.Windower, store storage.Store, embedder embedding.Embedder, model string, temperature float32, logger *slog.Logger) *Handler {
	if embedder == nil {
		embedder = embedding.Noop{}
	}
	return &Handler{
		client:      client,
		windower:    windower,
		store:       store,
		embedder:    embedder,
		model:       model,
		temperature: temperature,
		logger:      logging.OrDefault(logger),
		now:         time.Now,
	}
}

// HandleTurn appends input to sc, obtains the assistant reply and persists
// the session. sc.Messages keeps the full history; only the model request is
// windowed.
//
// On generation failure a "Chat error" system message is recorded and
// persisted, and the error wraps ErrGeneration. If the reply was generated
// but could not be saved it is returned together with an error wrapping
// ErrNotPersisted.
func (h *Handler) HandleTurn(ctx context.Context, sc *session.Context, input string) (llm.Message, error) {
	if strings.TrimSpace(input) == "" {
		metrics.RecordTurn(metrics.OutcomeEmptyInput)
		return llm.Message{}, ErrEmptyInput
	}

	now := h.now()
	sc.Messages = append(sc.Messages, llm.Message{Role: llm.RoleUser, Content: input, Timestamp: now})
	sc.LastActivity = now
	log := h.logger.With("user_id", sc.UserID, "session_id", sc.SessionID)

	reply, genErr := h.generate(ctx, sc.Messages)
	if genErr != nil {
		log.Error("failed to generate reply", "error", genErr)
		sc.Messages = append(sc.Messages, llm.Message{
			Role:      llm.RoleSystem,
			Content:   "Chat error: " + genErr.Error(),
			Timestamp: h.now(),
		})
		if err := h.persist(ctx, sc); err != nil {
			log.Error("failed to persist conversation after chat error", "error", err)
		}
		metrics.RecordTurn(metrics.OutcomeGeneration)
		return llm.Message{}, fmt.Errorf("%w: %v", ErrGeneration, genErr)
	}

	sc.Messages = append(sc.Messages, reply)
	sc.LastActivity = reply.Timestamp
	if err := h.persist(ctx, sc); err != nil {
		log.Error("failed to persist conversation", "error", err)
		metrics.RecordTurn(metrics.OutcomeNotPersisted)
		return reply, fmt.Errorf("%w: %v", ErrNotPersisted, err)
	}
	metrics.RecordTurn(metrics.OutcomeOK)
	return reply, nil
}

func (h *Handler) generate(ctx context.Context, msgs []llm.Message) (llm.Message, error) {
	window, err := h.windower.Window(ctx, msgs)
	if err != nil {
		return llm.Message{}, fmt.Errorf("window history: %w", err)
	}
	h.logger.Debug("windowed history", "messages", len(msgs), "sent", len(window))

	started := time.Now()
	resp, err := h.client.Generate(ctx, window, llm.Options{
		Model:       h.model,
		Temperature: llm.Temperature(h.temperature),
	})
	metrics.RecordLLM("chat", started)
	if err != nil {
		return llm.Message{}, err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return llm.Message{}, llm.ErrEmptyCompletion
	}
	h.logger.Info("llm response",
		"model", resp.Model,
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens,
		"total_tokens", resp.TotalTokens)
	return resp.Message(h.now()), nil
}

// persist upserts the session keeping the stored created_at. Derived fields
// are rebuilt from the full message list.
func (h *Handler) persist(ctx context.Context, sc *session.Context) error {
	now := h.now()
	conv := storage.Conversation{
		SessionID:   sc.SessionID,
		UserID:      sc.UserID,
		Messages:    sc.Messages,
		TextContent: TextContent(sc.Messages),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	existing, err := h.store.GetConversation(ctx, sc.SessionID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if existing != nil {
		conv.CreatedAt = existing.CreatedAt
	}

	vec, err := h.embedder.Embed(ctx, EmbeddingInput(sc.Messages))
	if err != nil {
		h.logger.Warn("failed to embed conversation", "session_id", sc.SessionID, "error", err)
		vec = nil
	}
	conv.Embedding = vec

	if err := h.store.UpsertConversation(ctx, conv); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// TextContent renders msgs as "role: content" lines.
func TextContent(msgs []llm.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// EmbeddingInput joins every message content with single spaces.
func EmbeddingInput(msgs []llm.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, " ")
}
