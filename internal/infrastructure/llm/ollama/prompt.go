package ollama

import (
	"fmt"
	"strings"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

const maxPassageChars = 4000

func formatPassages(passages []domain.Passage) string {
	var b strings.Builder
	for idx, p := range passages {
		content := p.Chunk.Content
		if len(content) > maxPassageChars {
			content = content[:maxPassageChars]
		}
		fmt.Fprintf(&b, "[%d] title=%s url=%s score=%.3f\n%s\n\n", idx+1, p.Chunk.Title, p.Chunk.URL, p.Score, content)
	}
	return b.String()
}

func buildGroundedPrompt(question string, passages []domain.Passage) string {
	return fmt.Sprintf(`Answer the question using only the documentation excerpts below.
Cite excerpts by their number, for example [1].
If the excerpts do not contain the answer, say so directly.

Question:
%s

Documentation:
%s
`, question, formatPassages(passages))
}

func buildBroadPrompt(question string, passages []domain.Passage) string {
	return fmt.Sprintf(`The documentation excerpts below may only be loosely related to the question.
Use them where they apply and cite them by number, for example [1].
You may add general knowledge, but state clearly which parts are not backed by the documentation.

Question:
%s

Documentation:
%s
`, question, formatPassages(passages))
}
