package chunker_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/manualqa/manualqa/internal/models"
	"github.com/manualqa/manualqa/pkg/chunker"
)

func testDoc() models.Document {
	return models.Document{ID: "doc1", SourcePath: "manuals/mustang.md"}
}

// reconstruct stitches passages back together by dropping each
// passage's leading overlap.
func reconstruct(passages []models.Passage) string {
	var b strings.Builder
	for i, p := range passages {
		if i == 0 {
			b.WriteString(p.Text)
			continue
		}
		b.WriteString(p.Text[passages[i-1].End-p.Start:])
	}
	return b.String()
}

func TestChunker_Reconstruction(t *testing.T) {
	c, err := chunker.NewWithConfig(chunker.Config{MaxChars: 120, OverlapChars: 30, MinChars: 20})
	require.NoError(t, err)

	text := strings.Repeat("Check the oil level weekly. Top up with 5W-30 if low. ", 20)
	text = strings.TrimSpace(text)

	passages, err := c.Chunk(testDoc(), text, nil)
	require.NoError(t, err)
	require.Greater(t, len(passages), 3)

	assert.Equal(t, text, reconstruct(passages))
	assert.Equal(t, 0, passages[0].Start)
	assert.Equal(t, len(text), passages[len(passages)-1].End)
}

func TestChunker_SizeAndOverlapBounds(t *testing.T) {
	c, err := chunker.NewWithConfig(chunker.Config{MaxChars: 100, OverlapChars: 25, MinChars: 10})
	require.NoError(t, err)

	text := strings.Repeat("Tighten the drain plug to 30 Nm. Refill slowly. ", 30)
	passages, err := c.Chunk(testDoc(), text, nil)
	require.NoError(t, err)

	for i, p := range passages {
		assert.LessOrEqual(t, len(p.Text), 100, "passage %d too long", i)
		assert.Equal(t, text[p.Start:p.End], p.Text)
		if i > 0 {
			overlap := passages[i-1].End - p.Start
			assert.GreaterOrEqual(t, overlap, 0)
			assert.LessOrEqual(t, overlap, 25)
		}
	}
}

func TestChunker_EmptyInput(t *testing.T) {
	c, err := chunker.NewWithConfig(chunker.Config{})
	require.NoError(t, err)

	passages, err := c.Chunk(testDoc(), "", nil)
	assert.NoError(t, err)
	assert.Empty(t, passages)

	passages, err = c.Chunk(testDoc(), "   \n\n  ", nil)
	assert.NoError(t, err)
	assert.Empty(t, passages)
}

func TestChunker_ShortInputSinglePassage(t *testing.T) {
	c, err := chunker.NewWithConfig(chunker.Config{})
	require.NoError(t, err)

	text := "Use only the recommended coolant."
	passages, err := c.Chunk(testDoc(), text, nil)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, text, passages[0].Text)
	assert.Equal(t, "doc1#0", passages[0].ID)
	assert.Equal(t, 0, passages[0].Ordinal)
}

func TestChunker_HardSplitWithoutBoundaries(t *testing.T) {
	c, err := chunker.NewWithConfig(chunker.Config{MaxChars: 50, OverlapChars: 10, MinChars: 5})
	require.NoError(t, err)

	// A long token with no whitespace or punctuation at all.
	text := strings.Repeat("x", 200)
	passages, err := c.Chunk(testDoc(), text, nil)
	require.NoError(t, err)
	require.Greater(t, len(passages), 1)

	for _, p := range passages {
		assert.LessOrEqual(t, len(p.Text), 50)
	}
	assert.Equal(t, text, reconstruct(passages))
}

func TestChunker_MergesShortTail(t *testing.T) {
	// The text splits into a full passage plus a tiny tail; the tail
	// is under MinChars and fits the budget, so it folds back in.
	text := "The brake fluid reservoir sits behind the engine. Done."

	c, err := chunker.NewWithConfig(chunker.Config{MaxChars: 60, OverlapChars: 10, MinChars: 30})
	require.NoError(t, err)
	passages, err := c.Chunk(testDoc(), text, nil)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, text, passages[0].Text)

	// With merging effectively off, the same text yields two passages.
	c, err = chunker.NewWithConfig(chunker.Config{MaxChars: 60, OverlapChars: 10, MinChars: 1})
	require.NoError(t, err)
	passages, err = c.Chunk(testDoc(), text, nil)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, text, reconstruct(passages))
}

func TestChunker_HeadingPaths(t *testing.T) {
	c, err := chunker.NewWithConfig(chunker.Config{MaxChars: 80, OverlapChars: 10, MinChars: 5})
	require.NoError(t, err)

	intro := "General information about the vehicle goes here first. "
	maint := "Change the oil every 5000 miles. Use the right filter. "
	text := intro + strings.Repeat(maint, 4)
	headings := []models.Heading{
		{Offset: 0, Text: "Overview", Level: 1},
		{Offset: len(intro), Text: "Maintenance", Level: 2},
	}

	passages, err := c.Chunk(testDoc(), text, headings)
	require.NoError(t, err)
	require.Greater(t, len(passages), 1)

	assert.Equal(t, "Overview", passages[0].HeadingPath)
	assert.Equal(t, "Overview > Maintenance", passages[len(passages)-1].HeadingPath)
}

func TestChunker_RejectsBadConfig(t *testing.T) {
	_, err := chunker.NewWithConfig(chunker.Config{MaxChars: 100, OverlapChars: 100})
	assert.Error(t, err)

	_, err = chunker.NewWithConfig(chunker.Config{MaxChars: 100, OverlapChars: -1})
	assert.Error(t, err)
}
