package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/manualqa/manualqa/internal/models"
)

// Defaults match the chunk geometry the manual corpus was tuned with.
const (
	DefaultMaxChars     = 1500
	DefaultOverlapChars = 150
	DefaultMinChars     = 250
)

type Config struct {
	// MaxChars bounds the total passage length, overlap included.
	MaxChars int
	// OverlapChars is the amount of trailing text a passage shares
	// with its successor.
	OverlapChars int
	// MinChars is the smallest tail passage kept on its own; a
	// shorter tail is merged into the previous passage when it fits.
	MinChars int
}

// Chunker splits normalized text into passages on sentence and
// paragraph boundaries, with bounded character overlap between
// consecutive passages.
type Chunker struct {
	config Config
}

func NewWithConfig(config Config) (*Chunker, error) {
	if config.MaxChars == 0 {
		config.MaxChars = DefaultMaxChars
	}
	if config.OverlapChars == 0 {
		config.OverlapChars = DefaultOverlapChars
	}
	if config.MinChars == 0 {
		config.MinChars = DefaultMinChars
	}
	if config.MaxChars < 1 {
		return nil, fmt.Errorf("max chars must be positive")
	}
	if config.OverlapChars < 0 || config.OverlapChars >= config.MaxChars {
		return nil, fmt.Errorf("overlap must be non-negative and less than max chars")
	}
	return &Chunker{config: config}, nil
}

// Chunk splits text into ordered passages. The passages tile the text:
// the first passage plus every successor minus its leading overlap
// reconstructs the input exactly. Empty input yields no passages.
func (c *Chunker) Chunk(doc models.Document, text string, headings []models.Heading) ([]models.Passage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	// Base segments tile the text; each stays within the budget so
	// that base plus leading overlap never exceeds MaxChars.
	budget := c.config.MaxChars - c.config.OverlapChars

	var passages []models.Passage
	prevBase := 0
	base := 0
	for base < len(text) {
		end := c.segmentEnd(text, base, budget)

		start := base
		if len(passages) > 0 {
			start = base - c.config.OverlapChars
			if start < prevBase {
				start = prevBase
			}
			start = snapForward(text, start, base)
		}

		ordinal := len(passages)
		passages = append(passages, models.Passage{
			ID:          fmt.Sprintf("%s#%d", doc.ID, ordinal),
			DocumentID:  doc.ID,
			SourcePath:  doc.SourcePath,
			Ordinal:     ordinal,
			Text:        text[start:end],
			Start:       start,
			End:         end,
			HeadingPath: headingPathAt(headings, base),
		})

		prevBase = base
		base = end
	}

	passages = c.mergeShortTail(text, passages)
	return passages, nil
}

// segmentEnd picks the end of the base segment starting at base,
// preferring paragraph breaks, then sentence ends, then line breaks,
// then word boundaries. A window with no boundary at all is hard-split
// at the budget, stepped back to a rune boundary.
func (c *Chunker) segmentEnd(text string, base, budget int) int {
	hi := base + budget
	if hi >= len(text) {
		return len(text)
	}

	window := text[base:hi]

	if i := strings.LastIndex(window, "\n\n"); i > 0 {
		return base + i + 2
	}

	bestSentence := -1
	for _, ender := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if i := strings.LastIndex(window, ender); i >= 0 && i+len(ender) > bestSentence {
			bestSentence = i + len(ender)
		}
	}
	if bestSentence > 0 {
		return base + bestSentence
	}

	if i := strings.LastIndexByte(window, '\n'); i > 0 {
		return base + i + 1
	}
	if i := strings.LastIndexByte(window, ' '); i > 0 {
		return base + i + 1
	}

	for hi > base+1 && !utf8.RuneStart(text[hi]) {
		hi--
	}
	return hi
}

// mergeShortTail folds a final passage shorter than MinChars into its
// predecessor when the combined passage still fits the budget.
func (c *Chunker) mergeShortTail(text string, passages []models.Passage) []models.Passage {
	n := len(passages)
	if n < 2 {
		return passages
	}
	last := passages[n-1]
	prev := passages[n-2]
	tail := last.End - prev.End
	if tail >= c.config.MinChars {
		return passages
	}
	if (prev.End-prev.Start)+tail > c.config.MaxChars {
		return passages
	}
	prev.End = last.End
	prev.Text = text[prev.Start:prev.End]
	passages[n-2] = prev
	return passages[:n-1]
}

// snapForward moves start to the next word boundary so a passage never
// opens mid-word, staying at or before limit.
func snapForward(text string, start, limit int) int {
	if start <= 0 {
		return 0
	}
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	if isBoundary(text[start-1]) {
		return start
	}
	for start < limit && !isBoundary(text[start]) {
		start++
	}
	if start < limit && isBoundary(text[start]) {
		start++
	}
	return start
}

func isBoundary(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t'
}

// headingPathAt resolves the nearest enclosing heading chain for a
// text offset, outermost first.
func headingPathAt(headings []models.Heading, offset int) string {
	var stack []models.Heading
	for _, h := range headings {
		if h.Offset > offset {
			break
		}
		for len(stack) > 0 && stack[len(stack)-1].Level >= h.Level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, h)
	}
	if len(stack) == 0 {
		return ""
	}
	parts := make([]string, len(stack))
	for i, h := range stack {
		parts[i] = h.Text
	}
	return strings.Join(parts, " > ")
}
