// Package app wires the agent's components from configuration. Every
// command builds the same graph and uses the parts it needs.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"health-agent/internal/chat"
	"health-agent/internal/config"
	"health-agent/internal/embedding"
	"health-agent/internal/history"
	"health-agent/internal/llm"
	"health-agent/internal/logging"
	"health-agent/internal/prompts"
	"health-agent/internal/session"
	"health-agent/internal/storage"
	"health-agent/internal/summary"
	"health-agent/internal/tokenizer"
)

type App struct {
	Config     *config.Config
	Location   *time.Location
	Store      storage.Store
	Prompts    *prompts.Set
	Builder    *session.Builder
	Turns      *chat.Handler
	Summarizer *summary.Summarizer
}

// New validates cfg and builds the component graph. The caller owns Close.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	logger = logging.OrDefault(logger)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	set, err := prompts.Load(prompts.Paths{
		FirstTimeSystem:  cfg.FirstTimePromptPath,
		ReturningSystem:  cfg.ReturningPromptPath,
		FirstTimeOpening: cfg.FirstTimeOpeningPath,
		ReturningOpening: cfg.ReturningOpeningPath,
		Summarization:    cfg.SummarizationPromptPath,
	})
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	factory := llm.NewFactory(cfg)
	chatClient, err := factory.CreateClient(cfg.LLMProvider, cfg.ChatModel)
	if err != nil {
		return nil, fmt.Errorf("create chat client: %w", err)
	}
	summaryClient, err := factory.CreateClient(cfg.LLMProvider, cfg.SummaryModel)
	if err != nil {
		return nil, fmt.Errorf("create summary client: %w", err)
	}

	tok := tokenizer.NewTiktoken(cfg.TokenizerModel)
	var embedder embedding.Embedder = embedding.Noop{}
	if cfg.OpenAIAPIKey != "" {
		oc := llm.NewOpenAIConfig(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenRouterReferrer, cfg.OpenRouterTitle)
		embedder = embedding.NewOpenAI(oc, cfg.EmbeddingModel, cfg.EmbeddingMaxTokens, tok)
	} else {
		logger.Warn("no OpenAI key, conversations and summaries are stored without embeddings")
	}

	windower, err := history.New(cfg.HistoryMode, tok, cfg.MaxContextTokens, chatClient, cfg.ChatModel, logger)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &App{
		Config:     cfg,
		Location:   loc,
		Store:      store,
		Prompts:    set,
		Builder:    session.NewBuilder(store, set, cfg.SummaryLookback, loc, logger),
		Turns:      chat.NewHandler(chatClient, windower, store, embedder, cfg.ChatModel, cfg.ChatTemperature, logger),
		Summarizer: summary.New(store, summaryClient, embedder, set.Summarization, cfg.SummaryModel, loc, logger),
	}, nil
}

func (a *App) Close() error { return a.Store.Close() }
