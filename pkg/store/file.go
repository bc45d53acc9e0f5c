package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/manualqa/manualqa/internal/models"
	"github.com/manualqa/manualqa/internal/types"
)

var _ types.VectorStore = (*FileStore)(nil)

// fileMagic prefixes the on-disk representation so a foreign or
// truncated file fails fast at load instead of decoding garbage.
var fileMagic = []byte("MQAIDX1\n")

// FileConfig configures an embedded vector store.
type FileConfig struct {
	// Path is where Persist writes the store. Empty means in-memory
	// only (tests).
	Path string
	// VectorDim is the embedding dimensionality. Required; entries
	// of any other dimension are rejected.
	VectorDim int
	// ModelID names the embedding model the vectors came from.
	// Required; one store holds one embedding space.
	ModelID string
}

type record struct {
	entry models.IndexEntry
	seq   uint64
	norm  float64
}

// FileStore is an embedded vector store: brute-force cosine search
// over in-memory entries, persisted as a single file. Writes are
// serialized; readers see every document's entries atomically.
type FileStore struct {
	mu      sync.RWMutex
	config  FileConfig
	records []record
	byID    map[string]int
	digests map[string]string
	nextSeq uint64
}

func NewFileStore(config FileConfig) (*FileStore, error) {
	if config.VectorDim < 1 {
		return nil, fmt.Errorf("vector dimension is required")
	}
	if config.ModelID == "" {
		return nil, fmt.Errorf("embedding model id is required")
	}
	return &FileStore{
		config:  config,
		byID:    make(map[string]int),
		digests: make(map[string]string),
	}, nil
}

// Upsert inserts or replaces entries by passage id. A replaced entry
// keeps its original sequence number, so tie-breaking stays stable.
func (s *FileStore) Upsert(_ context.Context, entries []models.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(entries)
}

func (s *FileStore) upsertLocked(entries []models.IndexEntry) error {
	for _, e := range entries {
		if len(e.Vector) != s.config.VectorDim {
			return &models.DimensionMismatchError{Want: s.config.VectorDim, Got: len(e.Vector)}
		}
	}
	for _, e := range entries {
		if i, ok := s.byID[e.Passage.ID]; ok {
			s.records[i].entry = e
			s.records[i].norm = vectorNorm(e.Vector)
			continue
		}
		s.byID[e.Passage.ID] = len(s.records)
		s.records = append(s.records, record{entry: e, seq: s.nextSeq, norm: vectorNorm(e.Vector)})
		s.nextSeq++
	}
	return nil
}

// DeleteByDocument removes every entry of a document and forgets its
// digest, so the next ingestion run re-indexes it from scratch.
func (s *FileStore) DeleteByDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteDocumentLocked(documentID)
	return nil
}

func (s *FileStore) deleteDocumentLocked(documentID string) {
	kept := s.records[:0]
	for _, r := range s.records {
		if r.entry.Passage.DocumentID != documentID {
			kept = append(kept, r)
		}
	}
	s.records = kept
	s.byID = make(map[string]int, len(s.records))
	for i, r := range s.records {
		s.byID[r.entry.Passage.ID] = i
	}
	delete(s.digests, documentID)
}

// ReplaceDocument swaps a document's entries and records its digest
// under one lock, so no query observes the document half-replaced.
func (s *FileStore) ReplaceDocument(_ context.Context, documentID, digest string, entries []models.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteDocumentLocked(documentID)
	if err := s.upsertLocked(entries); err != nil {
		return err
	}
	s.digests[documentID] = digest
	return nil
}

// Query returns up to k nearest entries by cosine similarity,
// descending score, ties broken by insertion order.
func (s *FileStore) Query(_ context.Context, vector []float32, k int) ([]models.Hit, error) {
	if k <= 0 {
		return nil, models.ErrInvalidTopK
	}
	if len(vector) != s.config.VectorDim {
		return nil, &models.DimensionMismatchError{Want: s.config.VectorDim, Got: len(vector)}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	qnorm := vectorNorm(vector)
	type scored struct {
		idx   int
		score float64
	}
	candidates := make([]scored, len(s.records))
	for i, r := range s.records {
		candidates[i] = scored{idx: i, score: cosine(r.entry.Vector, vector, r.norm, qnorm)}
	}
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return s.records[candidates[a].idx].seq < s.records[candidates[b].idx].seq
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	hits := make([]models.Hit, 0, k)
	for _, c := range candidates[:k] {
		hits = append(hits, models.Hit{
			Passage: s.records[c.idx].entry.Passage,
			Score:   float32(c.score),
		})
	}
	return hits, nil
}

func (s *FileStore) DocumentDigest(_ context.Context, documentID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.digests[documentID], nil
}

func (s *FileStore) ModelID() string { return s.config.ModelID }

func (s *FileStore) VectorDim() int { return s.config.VectorDim }

// Close persists the store when it is file-backed.
func (s *FileStore) Close() error {
	if s.config.Path == "" {
		return nil
	}
	return s.Persist()
}

type diskEntry struct {
	Entry models.IndexEntry
	Seq   uint64
}

type diskStore struct {
	VectorDim int
	ModelID   string
	NextSeq   uint64
	Entries   []diskEntry
	Digests   map[string]string
}

// Persist writes the store to its path atomically (temp file plus
// rename), so a crash mid-write never leaves a half-written index.
func (s *FileStore) Persist() error {
	s.mu.RLock()
	disk := diskStore{
		VectorDim: s.config.VectorDim,
		ModelID:   s.config.ModelID,
		NextSeq:   s.nextSeq,
		Entries:   make([]diskEntry, len(s.records)),
		Digests:   make(map[string]string, len(s.digests)),
	}
	for i, r := range s.records {
		disk.Entries[i] = diskEntry{Entry: r.entry, Seq: r.seq}
	}
	for k, v := range s.digests {
		disk.Digests[k] = v
	}
	s.mu.RUnlock()

	var buf bytes.Buffer
	buf.Write(fileMagic)
	if err := gob.NewEncoder(&buf).Encode(disk); err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}

	tmp := s.config.Path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := os.Rename(tmp, s.config.Path); err != nil {
		return fmt.Errorf("failed to replace store: %w", err)
	}
	return nil
}

// LoadFileStore reads a persisted store. A missing file surfaces the
// underlying fs error; anything unreadable or mis-tagged fails with
// StoreCorruptionError and is never partially loaded.
func LoadFileStore(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, fileMagic) {
		return nil, &models.StoreCorruptionError{Path: path, Err: fmt.Errorf("bad magic")}
	}

	var disk diskStore
	if err := gob.NewDecoder(bytes.NewReader(data[len(fileMagic):])).Decode(&disk); err != nil {
		return nil, &models.StoreCorruptionError{Path: path, Err: err}
	}
	if disk.VectorDim < 1 || disk.ModelID == "" {
		return nil, &models.StoreCorruptionError{Path: path, Err: fmt.Errorf("missing dimension or model id")}
	}

	s := &FileStore{
		config:  FileConfig{Path: path, VectorDim: disk.VectorDim, ModelID: disk.ModelID},
		records: make([]record, len(disk.Entries)),
		byID:    make(map[string]int, len(disk.Entries)),
		digests: disk.Digests,
		nextSeq: disk.NextSeq,
	}
	if s.digests == nil {
		s.digests = make(map[string]string)
	}
	for i, de := range disk.Entries {
		if len(de.Entry.Vector) != disk.VectorDim {
			return nil, &models.StoreCorruptionError{Path: path, Err: fmt.Errorf("entry %q has wrong dimension", de.Entry.Passage.ID)}
		}
		s.records[i] = record{entry: de.Entry, seq: de.Seq, norm: vectorNorm(de.Entry.Vector)}
		s.byID[de.Entry.Passage.ID] = i
	}
	return s, nil
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}
