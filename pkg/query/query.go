package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/manualqa/manualqa/internal/models"
	"github.com/manualqa/manualqa/internal/types"
	"github.com/manualqa/manualqa/pkg/prompt"
	"github.com/manualqa/manualqa/pkg/retriever"
)

// NoEvidenceAnswer is returned verbatim when retrieval finds nothing
// above the score floor. The generator is never consulted in that
// case, so it cannot invent an unsupported answer.
const NoEvidenceAnswer = "I could not find anything about that in the indexed manuals."

type Config struct {
	TopK            int
	MinScore        float32
	MaxContextChars int
}

// Engine answers questions over the indexed manuals.
type Engine struct {
	config    Config
	retriever *retriever.Retriever
	generator types.Generator
}

func NewWithConfig(config Config, r *retriever.Retriever, g types.Generator) (*Engine, error) {
	if config.TopK < 1 {
		return nil, fmt.Errorf("invalid top_k %d: %w", config.TopK, models.ErrInvalidTopK)
	}
	if config.MaxContextChars < 1 {
		return nil, fmt.Errorf("max_context_chars must be positive, got %d", config.MaxContextChars)
	}
	return &Engine{config: config, retriever: r, generator: g}, nil
}

// AnswerQuestion runs retrieve -> assemble -> generate for one
// question. Citations in the returned answer are resolved against the
// passages that actually made it into the prompt.
func (e *Engine) AnswerQuestion(ctx context.Context, question string) (models.Answer, error) {
	assembled, included, sentinel, err := e.prepare(ctx, question)
	if err != nil {
		return models.Answer{}, err
	}
	if sentinel != nil {
		return *sentinel, nil
	}

	answer, err := e.generator.Generate(ctx, assembled)
	if err != nil {
		return models.Answer{}, err
	}

	answer.Citations = resolveCitations(answer.Citations, included)
	answer.Confidence = included[0].Score
	return answer, nil
}

// AnswerQuestionStream is AnswerQuestion with the answer text also
// delivered incrementally through onChunk. Generators that cannot
// stream fall back to a single chunk carrying the whole answer; the
// no-evidence sentinel is delivered the same way.
func (e *Engine) AnswerQuestionStream(ctx context.Context, question string, onChunk func(chunk string)) (models.Answer, error) {
	assembled, included, sentinel, err := e.prepare(ctx, question)
	if err != nil {
		return models.Answer{}, err
	}
	if sentinel != nil {
		if onChunk != nil {
			onChunk(sentinel.Text)
		}
		return *sentinel, nil
	}

	var answer models.Answer
	if sg, ok := e.generator.(types.StreamingGenerator); ok {
		answer, err = sg.GenerateStream(ctx, assembled, onChunk)
	} else {
		answer, err = e.generator.Generate(ctx, assembled)
		if err == nil && onChunk != nil {
			onChunk(answer.Text)
		}
	}
	if err != nil {
		return models.Answer{}, err
	}

	answer.Citations = resolveCitations(answer.Citations, included)
	answer.Confidence = included[0].Score
	return answer, nil
}

// prepare runs the retrieval and prompt-assembly stages shared by the
// answer paths. A non-nil sentinel means no passage cleared the score
// floor and the generator must not be consulted.
func (e *Engine) prepare(ctx context.Context, question string) (assembled string, included []models.RetrievalResult, sentinel *models.Answer, err error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", nil, nil, fmt.Errorf("empty question")
	}

	results, err := e.retriever.Retrieve(ctx, question, e.config.TopK, e.config.MinScore)
	if err != nil {
		return "", nil, nil, err
	}
	if len(results) == 0 {
		return "", nil, &models.Answer{Text: NoEvidenceAnswer, NoEvidence: true}, nil
	}

	assembled, included = prompt.Assemble(question, results, e.config.MaxContextChars)
	if len(included) == 0 {
		return "", nil, &models.Answer{Text: NoEvidenceAnswer, NoEvidence: true}, nil
	}
	return assembled, included, nil, nil
}

// resolveCitations maps the [n] markers the generator emitted back to
// the prompt's numbered passages. Markers pointing outside the
// context are hallucinated and dropped.
func resolveCitations(raw []models.Citation, included []models.RetrievalResult) []models.Citation {
	var citations []models.Citation
	for _, c := range raw {
		if c.Marker < 1 || c.Marker > len(included) {
			continue
		}
		p := included[c.Marker-1].Passage
		citations = append(citations, models.Citation{
			Marker:      c.Marker,
			PassageID:   p.ID,
			SourcePath:  p.SourcePath,
			HeadingPath: p.HeadingPath,
			Model:       p.Model,
		})
	}
	return citations
}
