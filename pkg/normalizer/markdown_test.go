package normalizer_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/manualqa/manualqa/internal/models"
	"github.com/manualqa/manualqa/pkg/normalizer"
)

func mdDoc(raw string) models.Document {
	return models.Document{
		ID:         "doc1",
		SourcePath: "manuals/mustang.md",
		RawText:    raw,
		Format:     models.FormatMarkdown,
	}
}

func TestMarkdown_HeadingsAndOffsets(t *testing.T) {
	raw := "# Engine\n\nOil capacity is 5.7 liters.\n\n## Maintenance\n\nChange the oil every 5000 miles."

	n := &normalizer.Markdown{}
	text, headings, err := n.Normalize(mdDoc(raw))
	require.NoError(t, err)

	require.Len(t, headings, 2)
	assert.Equal(t, "Engine", headings[0].Text)
	assert.Equal(t, 1, headings[0].Level)
	assert.Equal(t, "Maintenance", headings[1].Text)
	assert.Equal(t, 2, headings[1].Level)

	// Offsets must point at the heading text inside the output.
	for _, h := range headings {
		assert.Equal(t, h.Text, text[h.Offset:h.Offset+len(h.Text)])
	}

	assert.Contains(t, text, "Oil capacity is 5.7 liters.")
	assert.NotContains(t, text, "#")
}

func TestMarkdown_StripsInlineMarkup(t *testing.T) {
	raw := strings.Join([]string{
		"Use **synthetic** oil with *5W-30* grade.",
		"",
		"See [the filter chart](https://example.com/chart) for part numbers.",
		"",
		"![Figure 3: dipstick location](img/dipstick.png)",
		"",
		"- Check the level",
		"- Top up if needed",
		"",
		"Run `engine off` before checking.",
	}, "\n")

	n := &normalizer.Markdown{}
	text, _, err := n.Normalize(mdDoc(raw))
	require.NoError(t, err)

	assert.Contains(t, text, "Use synthetic oil with 5W-30 grade.")
	assert.Contains(t, text, "See the filter chart for part numbers.")
	assert.Contains(t, text, "Figure 3: dipstick location")
	assert.Contains(t, text, "Check the level")
	assert.Contains(t, text, "Run engine off before checking.")
	assert.NotContains(t, text, "](")
	assert.NotContains(t, text, "**")
	assert.NotContains(t, text, "`")
}

func TestMarkdown_KeepsFencedContentDropsMarkers(t *testing.T) {
	raw := "Torque settings:\n\n```\ndrain plug: 30 Nm\n```\n\nDo not overtighten."

	n := &normalizer.Markdown{}
	text, _, err := n.Normalize(mdDoc(raw))
	require.NoError(t, err)

	assert.Contains(t, text, "drain plug: 30 Nm")
	assert.NotContains(t, text, "```")
}

func TestMarkdown_TableRowsBecomeText(t *testing.T) {
	raw := "| Part | Torque |\n|------|--------|\n| Drain plug | 30 Nm |"

	n := &normalizer.Markdown{}
	text, _, err := n.Normalize(mdDoc(raw))
	require.NoError(t, err)

	assert.Contains(t, text, "Part Torque")
	assert.Contains(t, text, "Drain plug 30 Nm")
	assert.NotContains(t, text, "---")
	assert.NotContains(t, text, "|")
}

func TestMarkdown_RejectsInvalidUTF8(t *testing.T) {
	n := &normalizer.Markdown{}
	_, _, err := n.Normalize(mdDoc("ok so far \xff\xfe broken"))
	require.Error(t, err)

	var parseErr *models.ParseError
	assert.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "manuals/mustang.md", parseErr.Path)
}

func TestDetectModel(t *testing.T) {
	assert.Equal(t, "Ford Mustang",
		normalizer.DetectModel("The Ford Mustang owner's manual.", "manuals/a.md"))

	// Filename matching, with separators normalized.
	assert.Equal(t, "Daewoo Matiz",
		normalizer.DetectModel("Owner handbook.", "manuals/daewoo-matiz-2005.md"))

	// Most specific name wins over the bare make.
	assert.Equal(t, "Ford Mustang",
		normalizer.DetectModel("Ford Mustang 2019", "x.md"))

	assert.Equal(t, "",
		normalizer.DetectModel("Generic appliance manual.", "manuals/toaster.md"))
}
