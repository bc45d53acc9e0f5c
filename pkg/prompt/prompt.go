package prompt

import (
	"fmt"
	"strings"

	"github.com/manualqa/manualqa/internal/models"
)

// Assemble renders the generation prompt from a question and ranked
// passages. Passages are included highest-ranked first until the next
// one would push the cumulative context past maxContextChars; the
// rest are dropped whole, never truncated mid-passage. The returned
// slice holds exactly the included passages, in marker order, so the
// caller can resolve [n] citations from the answer.
func Assemble(question string, results []models.RetrievalResult, maxContextChars int) (string, []models.RetrievalResult) {
	var included []models.RetrievalResult
	used := 0
	for _, r := range results {
		if used+len(r.Passage.Text) > maxContextChars {
			break
		}
		used += len(r.Passage.Text)
		included = append(included, r)
	}

	var b strings.Builder
	b.WriteString("Context:\n")
	for i, r := range included {
		fmt.Fprintf(&b, "\n[%d] %s\n%s\n", i+1, sourceTag(r.Passage), r.Passage.Text)
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n\nAnswer:", question)
	return b.String(), included
}

// sourceTag is the human-readable location a citation points at.
func sourceTag(p models.Passage) string {
	var parts []string
	if p.Model != "" {
		parts = append(parts, p.Model)
	}
	if p.HeadingPath != "" {
		parts = append(parts, p.HeadingPath)
	}
	tag := p.SourcePath
	if len(parts) > 0 {
		tag = fmt.Sprintf("(%s) %s", strings.Join(parts, " > "), p.SourcePath)
	}
	return tag
}
