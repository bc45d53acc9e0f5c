package normalizer

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/manualqa/manualqa/internal/models"
)

// Markdown normalizes Markdown manuals (the output of the PDF
// conversion pipeline) into plain text plus a heading map.
type Markdown struct{}

var (
	atxHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)
	tableSepRe   = regexp.MustCompile(`^\|?[\s:|-]+\|[\s:|-]*$`)
	listMarkerRe = regexp.MustCompile(`^(?:[-*+]|\d+[.)])\s+`)
	imageRe      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	inlineCodeRe = regexp.MustCompile("`([^`]*)`")
	boldRe       = regexp.MustCompile(`\*\*([^*]+)\*\*|__([^_]+)__`)
	emphasisRe   = regexp.MustCompile(`\*([^*\s][^*]*)\*|\b_([^_\s][^_]*)_\b`)
	spacesRe     = regexp.MustCompile(`[ \t]+`)
)

func (n *Markdown) Normalize(doc models.Document) (string, []models.Heading, error) {
	if !utf8.ValidString(doc.RawText) {
		return "", nil, &models.ParseError{Path: doc.SourcePath, Err: errors.New("invalid UTF-8")}
	}

	w := &textWriter{}
	inFence := false

	for _, line := range strings.Split(doc.RawText, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			w.needBlank = true
			continue
		}
		if inFence {
			// Keep fenced content, drop only the fence markers.
			w.writeLine(trimmed)
			continue
		}

		if trimmed == "" {
			w.needBlank = true
			continue
		}

		if m := atxHeadingRe.FindStringSubmatch(trimmed); m != nil {
			text := stripInline(m[2])
			if text != "" {
				w.writeHeading(text, len(m[1]))
			}
			continue
		}

		if tableSepRe.MatchString(trimmed) {
			continue
		}

		w.writeLine(stripInline(trimmed))
	}

	text, headings := w.result()
	return text, headings, nil
}

// stripInline removes markdown inline markup from a line, keeping the
// readable text. Image alt text survives since manuals use it for
// figure captions.
func stripInline(s string) string {
	s = imageRe.ReplaceAllString(s, "$1")
	s = linkRe.ReplaceAllString(s, "$1")
	s = inlineCodeRe.ReplaceAllString(s, "$1")
	s = boldRe.ReplaceAllString(s, "$1$2")
	s = emphasisRe.ReplaceAllString(s, "$1$2")
	s = listMarkerRe.ReplaceAllString(s, "")
	s = strings.TrimPrefix(s, "> ")
	if strings.Contains(s, "|") {
		s = strings.ReplaceAll(s, "|", " ")
	}
	s = spacesRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
