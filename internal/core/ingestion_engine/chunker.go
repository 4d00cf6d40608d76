package ingestion_engine

import (
	"strings"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200

	// boundaryLookahead is how far past the proposed end a break may be searched for.
	boundaryLookahead = 100
	// boundaryFloor is the fraction of the target size a break must exceed to be accepted.
	boundaryFloor = 0.8
)

// boundaries are tried in order; the first acceptable one wins.
var boundaries = []string{"\n\n", ". ", "\n"}

// TextChunk is a trimmed slice of the input. Start and End are rune offsets of the
// untrimmed slice in the original text.
type TextChunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// Chunk splits text into overlapping, boundary-aware chunks of roughly size characters.
// Non-positive size or a negative overlap fall back to the defaults; an overlap that is not
// smaller than size is clamped.
func Chunk(text string, size, overlap int) []TextChunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 5
	}

	runes := []rune(text)
	n := len(runes)
	var out []TextChunk

	for start := 0; start < n; {
		end := start + size
		if end < n {
			end = findBoundary(runes, start, end, size)
		} else {
			end = n
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, TextChunk{Index: len(out), Text: piece, Start: start, End: end})
		}
		if end >= n {
			break
		}

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return out
}

// findBoundary looks for the last paragraph, sentence or line break within the lookahead
// window and returns the position just past it, or end when none qualifies.
func findBoundary(runes []rune, start, end, size int) int {
	windowEnd := min(end+boundaryLookahead, len(runes))
	window := string(runes[start:windowEnd])
	floor := int(float64(size) * boundaryFloor)

	for _, sep := range boundaries {
		idx := strings.LastIndex(window, sep)
		if idx < 0 {
			continue
		}
		// idx is a byte offset into window; convert to runes.
		pos := len([]rune(window[:idx]))
		if pos > floor {
			return start + pos + len([]rune(sep))
		}
	}
	return end
}

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func approxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
