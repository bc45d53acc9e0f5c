package normalizer

import (
	"fmt"
	"strings"

	"github.com/manualqa/manualqa/internal/models"
	"github.com/manualqa/manualqa/internal/types"
)

// ForFormat returns the normalizer for a document format.
func ForFormat(f models.Format) (types.Normalizer, error) {
	switch f {
	case models.FormatMarkdown:
		return &Markdown{}, nil
	case models.FormatHTML:
		return &HTML{}, nil
	default:
		return nil, fmt.Errorf("no normalizer for format %q", f)
	}
}

// Car models the corpus is known to cover. Matched against manual text
// and filenames to tag passages for citation readability.
var knownModels = []string{
	"Ford Mustang",
	"Daewoo Matiz",
	"Honda",
	"Subaru",
	"Ford",
	"Volkswagen",
}

// DetectModel finds the car model a manual describes, checking the
// text first and the filename second. Returns "" when unknown rather
// than guessing.
func DetectModel(text, sourcePath string) string {
	textNorm := strings.ToLower(text)
	pathNorm := strings.ToLower(sourcePath)
	pathNorm = strings.ReplaceAll(pathNorm, "-", " ")
	pathNorm = strings.ReplaceAll(pathNorm, "_", " ")

	for _, m := range knownModels {
		needle := strings.ToLower(m)
		if strings.Contains(textNorm, needle) || strings.Contains(pathNorm, needle) {
			return m
		}
	}
	return ""
}

// textWriter accumulates normalized paragraphs, keeping heading byte
// offsets exact. Paragraphs are separated by a blank line.
type textWriter struct {
	b         strings.Builder
	headings  []models.Heading
	needBlank bool
}

func (w *textWriter) sep() {
	if w.b.Len() == 0 {
		return
	}
	if w.needBlank {
		w.b.WriteString("\n\n")
	} else {
		w.b.WriteString("\n")
	}
}

func (w *textWriter) writeLine(s string) {
	if s == "" {
		return
	}
	w.sep()
	w.b.WriteString(s)
	w.needBlank = false
}

func (w *textWriter) writeHeading(text string, level int) {
	w.needBlank = true
	w.sep()
	w.headings = append(w.headings, models.Heading{
		Offset: w.b.Len(),
		Text:   text,
		Level:  level,
	})
	w.b.WriteString(text)
	w.needBlank = true
}

func (w *textWriter) result() (string, []models.Heading) {
	return w.b.String(), w.headings
}
