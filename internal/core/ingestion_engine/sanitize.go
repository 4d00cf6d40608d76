package ingestion_engine

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	controlChars   = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	horizontalRuns = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
	spaceAroundNL  = regexp.MustCompile(` *\n *`)
	newlineRuns    = regexp.MustCompile(`\n{3,}`)
)

// Sanitize normalizes extracted text before chunking and on every chunk.
func Sanitize(text string) string {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = controlChars.ReplaceAllString(text, "")
	text = strings.NewReplacer("�", "", "\u0000", "").Replace(text)
	text = stripBrokenEscapes(text)
	text = horizontalRuns.ReplaceAllString(text, " ")
	text = spaceAroundNL.ReplaceAllString(text, "\n")
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// stripBrokenEscapes drops literal `\u` sequences that are not followed by four hex digits.
// Complete escapes are left as they are.
func stripBrokenEscapes(s string) string {
	if !strings.Contains(s, `\u`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == '\\' && i+1 < len(s) && s[i+1] == 'u' {
			n := 0
			for n < 4 && i+2+n < len(s) && isHex(s[i+2+n]) {
				n++
			}
			if n < 4 {
				i += 2 + n
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
