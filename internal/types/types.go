package types

import (
	"context"

	"github.com/manualqa/manualqa/internal/models"
)

// Normalizer converts a raw manual into plain text plus a heading map.
type Normalizer interface {
	Normalize(doc models.Document) (string, []models.Heading, error)
}

// Chunker splits normalized text into bounded, overlap-aware passages.
type Chunker interface {
	Chunk(doc models.Document, text string, headings []models.Heading) ([]models.Passage, error)
}

// Embedder maps text to fixed-dimension vectors. Batch output matches
// input length and order; results are deterministic for a fixed model.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	ModelID() string
	MaxTextChars() int
}

// VectorStore persists passage vectors and answers nearest-neighbor
// queries by cosine similarity. Writes are serialized; readers never
// observe a partially replaced document.
type VectorStore interface {
	// Upsert inserts or replaces entries by passage id. A replaced
	// entry keeps its original insertion order for tie-breaking.
	Upsert(ctx context.Context, entries []models.IndexEntry) error

	// DeleteByDocument removes every entry of a document, along with
	// its recorded digest.
	DeleteByDocument(ctx context.Context, documentID string) error

	// ReplaceDocument atomically swaps a document's entries and
	// records its content digest. Ingestion uses this so concurrent
	// readers see either the old or the new passages, never a mix.
	ReplaceDocument(ctx context.Context, documentID, digest string, entries []models.IndexEntry) error

	// Query returns up to k nearest entries, descending score, ties
	// broken by insertion order. k <= 0 is an input error.
	Query(ctx context.Context, vector []float32, k int) ([]models.Hit, error)

	// DocumentDigest returns the digest recorded for a document, or
	// "" when the document has never been ingested.
	DocumentDigest(ctx context.Context, documentID string) (string, error)

	Close() error
}

// Generator invokes the language model once per call and parses its
// output into an answer with citation markers.
type Generator interface {
	Generate(ctx context.Context, prompt string) (models.Answer, error)
}

// StreamingGenerator additionally delivers the answer text
// incrementally. onChunk observes raw text fragments as the model
// emits them; the returned Answer carries the complete parsed result.
type StreamingGenerator interface {
	Generator
	GenerateStream(ctx context.Context, prompt string, onChunk func(chunk string)) (models.Answer, error)
}
