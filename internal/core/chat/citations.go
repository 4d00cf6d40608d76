package chat

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/markdave123-py/Sourcebook/internal/models"
)

var citationPattern = regexp.MustCompile(`\[([^\[\]]+?)(?:,\s*(?:page|p\.)\s*(\d+))?\]`)

// ExtractCitations collects [Title], [Title, page N] and [Title, p. N] references,
// de-duplicated by (title, page) in first-seen order. Markdown links are skipped.
func ExtractCitations(content string) []models.Citation {
	type key struct {
		title string
		page  int
	}
	seen := make(map[key]bool)
	var out []models.Citation

	for _, m := range citationPattern.FindAllStringSubmatchIndex(content, -1) {
		if m[1] < len(content) && content[m[1]] == '(' {
			continue
		}
		title := strings.TrimSpace(content[m[2]:m[3]])
		if title == "" {
			continue
		}

		k := key{title: title, page: -1}
		var page *int
		if m[4] >= 0 {
			n, err := strconv.Atoi(content[m[4]:m[5]])
			if err != nil {
				continue
			}
			page = &n
			k.page = n
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, models.Citation{Title: title, Page: page})
	}
	return out
}
