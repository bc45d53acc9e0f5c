package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"

	"github.com/manualqa/manualqa/internal/models"
)

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	Model     string
	BaseURL   string  // Ollama server URL
	RateLimit float64 // provider calls per second
	MaxChars  int     // longest text the model accepts
}

// Embedder produces fixed-dimension vectors for passages and queries
// through an Ollama embedding model. Calls are rate limited so batch
// ingestion stays within provider limits.
type Embedder struct {
	config  EmbedderConfig
	llm     *ollama.LLM
	limiter *rate.Limiter
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 4
	}
	if config.MaxChars <= 0 {
		config.MaxChars = 8000
	}

	emb, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding model: %w", err)
	}

	return &Embedder{
		config:  config,
		llm:     emb,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

// Embed maps texts to vectors, one per input, order preserved. A text
// over the model limit fails the batch; ingestion filters those out
// beforehand via MaxTextChars.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if len(t) > e.config.MaxChars {
			return nil, &models.EmbeddingError{
				Err: fmt.Errorf("text %d exceeds model limit (%d > %d chars)", i, len(t), e.config.MaxChars),
			}
		}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, &models.EmbeddingError{Err: err}
	}

	vectors, err := e.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, &models.EmbeddingError{Err: err}
	}
	if len(vectors) != len(texts) {
		return nil, &models.EmbeddingError{
			Err: fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(texts)),
		}
	}
	return vectors, nil
}

// EmbedQuery embeds a single question. Oversized queries are truncated
// rather than rejected, a query should never fail on length alone.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	text = truncate(strings.TrimSpace(text), e.config.MaxChars)
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) ModelID() string { return e.config.Model }

func (e *Embedder) MaxTextChars() int { return e.config.MaxChars }

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
