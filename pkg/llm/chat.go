package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/manualqa/manualqa/internal/models"
)

// ChatConfig represents the configuration for an answer generator.
type ChatConfig struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	BaseURL      string // Ollama server URL
	MaxRetries   int    // transient failures only
	RetryBackoff time.Duration
	SystemPrompt string
}

const defaultSystemPrompt = "You are a helpful assistant specializing in car manuals. " +
	"Answer the question using ONLY the numbered context passages provided. " +
	"Cite every fact with the marker of the passage it came from, like [1]. " +
	"If the context does not contain the answer, say so plainly."

// ChatEngine generates grounded answers with a language model. The
// model is invoked once per Generate call; transient provider
// failures are retried a bounded number of times with backoff.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a ChatEngine backed by an Ollama model.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	}

	model, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	return NewWithModel(config, model), nil
}

// NewWithModel creates a ChatEngine over an already constructed model.
// Tests inject deterministic fakes through this.
func NewWithModel(config ChatConfig, model llms.Model) *ChatEngine {
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = 500 * time.Millisecond
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = defaultSystemPrompt
	}
	return &ChatEngine{config: config, llm: model}
}

// Generate runs the assembled prompt through the model and parses the
// response into an answer with citation markers. If the output carries
// no parseable markers the raw text is returned uncited rather than
// failing the query.
func (ce *ChatEngine) Generate(ctx context.Context, prompt string) (models.Answer, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	var response *llms.ContentResponse
	var genErr *models.GenerationError
	for attempt := 0; ; attempt++ {
		resp, err := ce.llm.GenerateContent(ctx, content,
			llms.WithMaxTokens(ce.config.MaxTokens),
			llms.WithTemperature(ce.config.Temperature),
		)
		if err == nil {
			response = resp
			break
		}
		genErr = classify(err)
		if !genErr.Retryable() || attempt >= ce.config.MaxRetries {
			return models.Answer{}, genErr
		}
		select {
		case <-ctx.Done():
			return models.Answer{}, classify(ctx.Err())
		case <-time.After(ce.config.RetryBackoff * time.Duration(attempt+1)):
		}
	}

	if response == nil || len(response.Choices) == 0 {
		return models.Answer{}, &models.GenerationError{
			Kind: models.GenerationProvider,
			Err:  errors.New("empty response from model"),
		}
	}

	text := strings.TrimSpace(response.Choices[0].Content)
	return models.Answer{
		Text:      text,
		Citations: parseCitations(text),
	}, nil
}

// GenerateStream runs the prompt through the model with streaming
// enabled, forwarding raw text fragments to onChunk as they arrive.
// There is no retry loop here: once chunks have been delivered to the
// caller a second attempt would duplicate output.
func (ce *ChatEngine) GenerateStream(ctx context.Context, prompt string, onChunk func(chunk string)) (models.Answer, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	var streamed strings.Builder
	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithMaxTokens(ce.config.MaxTokens),
		llms.WithTemperature(ce.config.Temperature),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			streamed.Write(chunk)
			if onChunk != nil {
				onChunk(string(chunk))
			}
			return nil
		}),
	)
	if err != nil {
		return models.Answer{}, classify(err)
	}

	text := streamed.String()
	if text == "" && response != nil && len(response.Choices) > 0 {
		text = response.Choices[0].Content
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Answer{}, &models.GenerationError{
			Kind: models.GenerationProvider,
			Err:  errors.New("empty response from model"),
		}
	}
	return models.Answer{
		Text:      text,
		Citations: parseCitations(text),
	}, nil
}

var citationRe = regexp.MustCompile(`\[(\d+)\]`)

// parseCitations extracts the [n] markers the model referenced, in
// first-use order without duplicates. The caller maps markers back to
// the passages that carried them in the prompt.
func parseCitations(text string) []models.Citation {
	seen := make(map[int]bool)
	var citations []models.Citation
	for _, m := range citationRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || seen[n] {
			continue
		}
		seen[n] = true
		citations = append(citations, models.Citation{Marker: n})
	}
	return citations
}

// classify buckets a provider error so retry policy and callers can
// act on its class. Auth errors are terminal.
func classify(err error) *models.GenerationError {
	kind := models.GenerationProvider
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		kind = models.GenerationTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		kind = models.GenerationRateLimit
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "api key"):
		kind = models.GenerationAuth
	}
	return &models.GenerationError{Kind: kind, Err: err}
}
