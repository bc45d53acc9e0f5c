package retriever

import (
	"context"

	"github.com/manualqa/manualqa/internal/models"
	"github.com/manualqa/manualqa/internal/types"
)

// Retriever turns a question into a ranked list of supporting
// passages: embed the question, query the store, drop candidates
// below the score threshold.
type Retriever struct {
	embedder types.Embedder
	store    types.VectorStore
}

func New(embedder types.Embedder, store types.VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve returns up to k passages scoring at least minScore,
// descending, with ranks 1..n. An empty result is a valid outcome,
// not an error; the caller decides what "no evidence" means.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int, minScore float32) ([]models.RetrievalResult, error) {
	if k <= 0 {
		return nil, models.ErrInvalidTopK
	}

	vector, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	hits, err := r.store.Query(ctx, vector, k)
	if err != nil {
		return nil, err
	}

	results := make([]models.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		if h.Score < minScore {
			continue
		}
		results = append(results, models.RetrievalResult{
			Passage: h.Passage,
			Score:   h.Score,
			Rank:    len(results) + 1,
		})
	}
	return results, nil
}
