package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/manualqa/manualqa/internal/models"
	"github.com/manualqa/manualqa/internal/types"
	"github.com/manualqa/manualqa/pkg/chunker"
	"github.com/manualqa/manualqa/pkg/normalizer"
)

// State tracks a document through the ingestion pipeline.
type State string

const (
	StatePending     State = "pending"
	StateNormalizing State = "normalizing"
	StateChunking    State = "chunking"
	StateEmbedding   State = "embedding"
	StateIndexing    State = "indexing"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Result is the final state of one document after an ingestion run.
// A Failed result never aborts the batch.
type Result struct {
	DocumentID string
	SourcePath string
	State      State
	Passages   int
	Skipped    int // passages too long for the embedding model
	Unchanged  bool
	Err        error
}

type Config struct {
	ChunkMaxChars     int
	ChunkOverlapChars int
	ChunkMinChars     int
	BatchSize         int // passages per embedding call
	Workers           int // concurrent documents
	OnProgress        func(Result)
}

// Orchestrator drives normalize -> chunk -> embed -> index for a
// corpus directory. Re-running over an unchanged document is a no-op:
// the content digest recorded in the store short-circuits the work.
type Orchestrator struct {
	config   Config
	chunker  *chunker.Chunker
	embedder types.Embedder
	store    types.VectorStore
}

func NewWithConfig(config Config, embedder types.Embedder, store types.VectorStore) (*Orchestrator, error) {
	if config.BatchSize < 1 {
		config.BatchSize = 32
	}
	if config.Workers < 1 {
		config.Workers = 4
	}
	ch, err := chunker.NewWithConfig(chunker.Config{
		MaxChars:     config.ChunkMaxChars,
		OverlapChars: config.ChunkOverlapChars,
		MinChars:     config.ChunkMinChars,
	})
	if err != nil {
		return nil, err
	}
	return &Orchestrator{config: config, chunker: ch, embedder: embedder, store: store}, nil
}

// IngestDir ingests every manual under dir. Documents fail
// individually; the returned error is reserved for batch-level
// problems: an unreadable directory, cancellation, or a store/model
// dimension mismatch, which is a configuration error no document can
// recover from.
func (o *Orchestrator) IngestDir(ctx context.Context, dir string) ([]Result, error) {
	docs, err := loadDocuments(dir)
	if err != nil {
		return nil, err
	}

	jobs := make(chan models.Document)
	var mu sync.Mutex
	var results []Result
	var wg sync.WaitGroup

	for i := 0; i < o.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for doc := range jobs {
				res := o.ingestDocument(ctx, doc)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				if o.config.OnProgress != nil {
					o.config.OnProgress(res)
				}
			}
		}()
	}

feed:
	for _, doc := range docs {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- doc:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].SourcePath < results[j].SourcePath })
	for _, r := range results {
		var dim *models.DimensionMismatchError
		if errors.As(r.Err, &dim) {
			return results, fmt.Errorf("store/model configuration mismatch on %s: %w", r.SourcePath, r.Err)
		}
	}
	return results, nil
}

func (o *Orchestrator) ingestDocument(ctx context.Context, doc models.Document) Result {
	res := Result{DocumentID: doc.ID, SourcePath: doc.SourcePath, State: StatePending}

	digest := contentDigest(doc.RawText)
	prev, err := o.store.DocumentDigest(ctx, doc.ID)
	if err != nil {
		return failed(res, err)
	}
	if prev == digest {
		res.State = StateDone
		res.Unchanged = true
		return res
	}

	res.State = StateNormalizing
	norm, err := normalizer.ForFormat(doc.Format)
	if err != nil {
		return failed(res, err)
	}
	text, headings, err := norm.Normalize(doc)
	if err != nil {
		return failed(res, err)
	}
	model := normalizer.DetectModel(text, doc.SourcePath)

	res.State = StateChunking
	passages, err := o.chunker.Chunk(doc, text, headings)
	if err != nil {
		return failed(res, err)
	}
	for i := range passages {
		passages[i].Model = model
	}

	res.State = StateEmbedding
	maxChars := o.embedder.MaxTextChars()
	embeddable := passages[:0]
	for _, p := range passages {
		if len(p.Text) > maxChars {
			res.Skipped++
			log.Printf("skipping passage %s: %d chars exceeds embedding limit", p.ID, len(p.Text))
			continue
		}
		embeddable = append(embeddable, p)
	}

	entries := make([]models.IndexEntry, 0, len(embeddable))
	for start := 0; start < len(embeddable); start += o.config.BatchSize {
		end := start + o.config.BatchSize
		if end > len(embeddable) {
			end = len(embeddable)
		}
		batch := embeddable[start:end]
		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Text
		}
		vectors, err := o.embedder.Embed(ctx, texts)
		if err != nil {
			return failed(res, err)
		}
		for i, p := range batch {
			entries = append(entries, models.IndexEntry{Passage: p, Vector: vectors[i]})
		}
	}

	res.State = StateIndexing
	if err := o.store.ReplaceDocument(ctx, doc.ID, digest, entries); err != nil {
		return failed(res, err)
	}

	res.State = StateDone
	res.Passages = len(entries)
	return res
}

func failed(res Result, err error) Result {
	res.State = StateFailed
	res.Err = err
	return res
}

// loadDocuments enumerates the manuals under dir. Document ids derive
// from the path relative to dir, so ids stay stable across runs and
// machines.
func loadDocuments(dir string) ([]models.Document, error) {
	var docs []models.Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		format, ok := formatForPath(path)
		if !ok {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		docs = append(docs, models.Document{
			ID:         documentID(rel),
			SourcePath: path,
			RawText:    string(data),
			Format:     format,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s: %w", dir, err)
	}
	return docs, nil
}

func formatForPath(path string) (models.Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return models.FormatMarkdown, true
	case ".html", ".htm":
		return models.FormatHTML, true
	default:
		return "", false
	}
}

func documentID(rel string) string {
	sum := sha256.Sum256([]byte(filepath.ToSlash(rel)))
	return hex.EncodeToString(sum[:8])
}

func contentDigest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
