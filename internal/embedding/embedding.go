// Package embedding turns text into vectors for conversations and summaries.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"health-agent/internal/tokenizer"
)

// Embedder produces a vector for text. Blank input yields nil without error.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

var errNoData = errors.New("embedding response has no data")

type embeddingsAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEmbedder calls the embeddings endpoint after cutting the input to
// maxTokens.
type OpenAIEmbedder struct {
	api       embeddingsAPI
	model     string
	maxTokens int
	tok       tokenizer.Truncator
}

func NewOpenAI(config openai.ClientConfig, model string, maxTokens int, tok tokenizer.Truncator) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		api:       openai.NewClientWithConfig(config),
		model:     model,
		maxTokens: maxTokens,
		tok:       tok,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if e.maxTokens > 0 && e.tok != nil {
		text = e.tok.Truncate(text, e.maxTokens)
	}

	resp, err := e.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errNoData
	}
	return resp.Data[0].Embedding, nil
}

// Noop disables embeddings; persisted records carry a nil vector.
type Noop struct{}

func (Noop) Embed(context.Context, string) ([]float32, error) { return nil, nil }

var (
	_ Embedder = (*OpenAIEmbedder)(nil)
	_ Embedder = Noop{}
)
