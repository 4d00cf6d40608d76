package retrieval

import (
	"fmt"
	"strings"

	"github.com/markdave123-py/Sourcebook/internal/core/chat"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

const citationInstructions = `Answer using only the context above.
Cite the source of every claim by its name in square brackets, e.g. [Source Name] or [Source Name, page N] when the page is known.
If the context does not contain the answer, say so explicitly instead of guessing.`

// AssembleContext renders retrieved chunks grouped by source, in first-seen order.
// Excerpt numbers follow the chunk's position in the result set.
func AssembleContext(chunks []models.RetrievedChunk) string {
	if len(chunks) == 0 {
		return ""
	}

	type excerpt struct {
		n    int
		text string
	}
	var order []string
	groups := make(map[string][]excerpt)
	for k, ch := range chunks {
		if _, seen := groups[ch.SourceName]; !seen {
			order = append(order, ch.SourceName)
		}
		groups[ch.SourceName] = append(groups[ch.SourceName], excerpt{n: k + 1, text: ch.Content})
	}

	var sb strings.Builder
	sb.WriteString("## Relevant context\n\n")
	for _, name := range order {
		fmt.Fprintf(&sb, "### Source: %s\n\n", name)
		for _, ex := range groups[name] {
			fmt.Fprintf(&sb, "[Excerpt %d]\n%s\n\n", ex.n, ex.text)
		}
	}
	sb.WriteString(citationInstructions)
	return sb.String()
}

// BuildSystemPrompt prefixes the context block with the mode's persona.
func BuildSystemPrompt(mode models.AssistantMode, contextBlock string) string {
	persona := chat.Persona(mode)
	if contextBlock == "" {
		return persona
	}
	return persona + "\n\n" + contextBlock
}
