package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/manualqa/manualqa/internal/models"
	"github.com/manualqa/manualqa/pkg/store"
)

func newTestStore(t *testing.T, path string) *store.FileStore {
	t.Helper()
	s, err := store.NewFileStore(store.FileConfig{
		Path:      path,
		VectorDim: 3,
		ModelID:   "nomic-embed-text",
	})
	require.NoError(t, err)
	return s
}

func entry(id, docID string, vec []float32) models.IndexEntry {
	return models.IndexEntry{
		Passage: models.Passage{
			ID:         id,
			DocumentID: docID,
			SourcePath: docID + ".md",
			Text:       "passage " + id,
		},
		Vector: vec,
	}
}

func TestFileStore_QueryRanking(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")

	require.NoError(t, s.Upsert(ctx, []models.IndexEntry{
		entry("a#0", "a", []float32{1, 0, 0}),
		entry("a#1", "a", []float32{0, 1, 0}),
		entry("b#0", "b", []float32{0.9, 0.1, 0}),
	}))

	hits, err := s.Query(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a#0", hits[0].Passage.ID)
	assert.Equal(t, "b#0", hits[1].Passage.ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestFileStore_QueryTieBreaksByInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")

	// Identical vectors, identical scores.
	require.NoError(t, s.Upsert(ctx, []models.IndexEntry{
		entry("x#0", "x", []float32{0, 0, 1}),
		entry("y#0", "y", []float32{0, 0, 1}),
	}))

	hits, err := s.Query(ctx, []float32{0, 0, 1}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "x#0", hits[0].Passage.ID)
	assert.Equal(t, "y#0", hits[1].Passage.ID)

	// Re-upserting the earlier entry must not demote it.
	require.NoError(t, s.Upsert(ctx, []models.IndexEntry{
		entry("x#0", "x", []float32{0, 0, 1}),
	}))
	hits, err = s.Query(ctx, []float32{0, 0, 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, "x#0", hits[0].Passage.ID)
}

func TestFileStore_QueryValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")

	_, err := s.Query(ctx, []float32{1, 0, 0}, 0)
	assert.ErrorIs(t, err, models.ErrInvalidTopK)

	_, err = s.Query(ctx, []float32{1, 0}, 3)
	var dim *models.DimensionMismatchError
	require.ErrorAs(t, err, &dim)
	assert.Equal(t, 3, dim.Want)
	assert.Equal(t, 2, dim.Got)
}

func TestFileStore_KLargerThanStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")

	require.NoError(t, s.Upsert(ctx, []models.IndexEntry{
		entry("a#0", "a", []float32{1, 0, 0}),
	}))

	hits, err := s.Query(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestFileStore_UpsertRejectsWrongDimension(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")

	err := s.Upsert(ctx, []models.IndexEntry{
		entry("a#0", "a", []float32{1, 0, 0, 0}),
	})
	var dim *models.DimensionMismatchError
	require.ErrorAs(t, err, &dim)

	// Nothing was stored.
	hits, err := s.Query(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFileStore_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")

	entries := []models.IndexEntry{
		entry("a#0", "a", []float32{1, 0, 0}),
		entry("a#1", "a", []float32{0, 1, 0}),
	}
	require.NoError(t, s.Upsert(ctx, entries))
	require.NoError(t, s.Upsert(ctx, entries))

	hits, err := s.Query(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestFileStore_DeleteByDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")

	require.NoError(t, s.ReplaceDocument(ctx, "a", "digest-a", []models.IndexEntry{
		entry("a#0", "a", []float32{1, 0, 0}),
		entry("a#1", "a", []float32{0, 1, 0}),
	}))
	require.NoError(t, s.ReplaceDocument(ctx, "b", "digest-b", []models.IndexEntry{
		entry("b#0", "b", []float32{0, 0, 1}),
	}))

	require.NoError(t, s.DeleteByDocument(ctx, "a"))

	hits, err := s.Query(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b#0", hits[0].Passage.ID)

	// The digest is forgotten too.
	digest, err := s.DocumentDigest(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, digest)

	digest, err = s.DocumentDigest(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "digest-b", digest)
}

func TestFileStore_ReplaceDocumentDropsStaleEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")

	require.NoError(t, s.ReplaceDocument(ctx, "a", "v1", []models.IndexEntry{
		entry("a#0", "a", []float32{1, 0, 0}),
		entry("a#1", "a", []float32{0, 1, 0}),
		entry("a#2", "a", []float32{0, 0, 1}),
	}))

	// The re-ingested document is shorter; stale ordinals must go.
	require.NoError(t, s.ReplaceDocument(ctx, "a", "v2", []models.IndexEntry{
		entry("a#0", "a", []float32{1, 0, 0}),
	}))

	hits, err := s.Query(ctx, []float32{0, 1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a#0", hits[0].Passage.ID)

	digest, err := s.DocumentDigest(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "v2", digest)
}

func TestFileStore_PersistAndLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "manuals.idx")
	s := newTestStore(t, path)

	require.NoError(t, s.ReplaceDocument(ctx, "a", "digest-a", []models.IndexEntry{
		entry("a#0", "a", []float32{1, 0, 0}),
		entry("a#1", "a", []float32{0, 1, 0}),
	}))
	require.NoError(t, s.Close())

	loaded, err := store.LoadFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", loaded.ModelID())
	assert.Equal(t, 3, loaded.VectorDim())

	hits, err := loaded.Query(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a#0", hits[0].Passage.ID)
	assert.Equal(t, "passage a#0", hits[0].Passage.Text)

	digest, err := loaded.DocumentDigest(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "digest-a", digest)
}

func TestFileStore_LoadMissingFile(t *testing.T) {
	_, err := store.LoadFileStore(filepath.Join(t.TempDir(), "nope.idx"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err), "missing file should surface the fs error")

	var corrupt *models.StoreCorruptionError
	assert.False(t, errors.As(err, &corrupt))
}

func TestFileStore_LoadCorruptFile(t *testing.T) {
	dir := t.TempDir()

	badMagic := filepath.Join(dir, "bad-magic.idx")
	require.NoError(t, os.WriteFile(badMagic, []byte("not an index at all"), 0o644))
	_, err := store.LoadFileStore(badMagic)
	var corrupt *models.StoreCorruptionError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, badMagic, corrupt.Path)

	truncated := filepath.Join(dir, "truncated.idx")
	require.NoError(t, os.WriteFile(truncated, []byte("MQAIDX1\n\x01\x02"), 0o644))
	_, err = store.LoadFileStore(truncated)
	assert.ErrorAs(t, err, &corrupt)
}

func TestFileStore_RequiresDimensionAndModel(t *testing.T) {
	_, err := store.NewFileStore(store.FileConfig{ModelID: "m"})
	assert.Error(t, err)

	_, err = store.NewFileStore(store.FileConfig{VectorDim: 3})
	assert.Error(t, err)
}
