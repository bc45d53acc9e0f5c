package normalizer

import (
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/manualqa/manualqa/internal/models"
)

// HTML normalizes HTML manuals. The main content area is located the
// same way the documentation scraper used to: preferred selectors
// first, body as a fallback.
type HTML struct{}

var contentSelectors = []string{
	"main",
	"article",
	".content",
	"#content",
	".documentation",
	"#documentation",
}

func (n *HTML) Normalize(doc models.Document) (string, []models.Heading, error) {
	gq, err := goquery.NewDocumentFromReader(strings.NewReader(doc.RawText))
	if err != nil {
		return "", nil, &models.ParseError{Path: doc.SourcePath, Err: err}
	}

	root := gq.Find("body")
	for _, sel := range contentSelectors {
		if s := gq.Find(sel); s.Length() > 0 {
			root = s
			break
		}
	}
	if root.Length() == 0 {
		return "", nil, &models.ParseError{Path: doc.SourcePath, Err: errors.New("no content element")}
	}

	w := &htmlWalker{}
	for _, node := range root.Nodes {
		w.walk(node)
	}
	w.flush()

	text, headings := w.out.result()
	return text, headings, nil
}

var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"nav":      true,
	"iframe":   true,
	"svg":      true,
}

var blockElements = map[string]bool{
	"p":          true,
	"div":        true,
	"section":    true,
	"article":    true,
	"li":         true,
	"ul":         true,
	"ol":         true,
	"table":      true,
	"tr":         true,
	"blockquote": true,
	"pre":        true,
	"br":         true,
}

type htmlWalker struct {
	out  textWriter
	para []string
}

func (w *htmlWalker) flush() {
	if len(w.para) == 0 {
		return
	}
	w.out.writeLine(strings.Join(w.para, " "))
	w.out.needBlank = true
	w.para = nil
}

func (w *htmlWalker) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.para = append(w.para, strings.Fields(n.Data)...)
	case html.ElementNode:
		if skippedElements[n.Data] {
			return
		}
		if level := headingLevel(n.Data); level > 0 {
			w.flush()
			text := strings.Join(strings.Fields(nodeText(n)), " ")
			if text != "" {
				w.out.writeHeading(text, level)
			}
			return
		}
		if blockElements[n.Data] {
			w.flush()
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				w.walk(c)
			}
			w.flush()
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
