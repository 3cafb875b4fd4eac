// Package sanitize normalizes inbound user text before routing and prompting.
package sanitize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// zeroWidth lists characters that render as nothing but survive copy/paste
// and can smuggle instructions past a reader.
var zeroWidth = map[rune]bool{
	'\u200B': true, // zero width space
	'\u200C': true, // zero width non-joiner
	'\u200D': true, // zero width joiner
	'\u200E': true, // left-to-right mark
	'\u200F': true, // right-to-left mark
	'\uFEFF': true, // byte order mark
	'\u2060': true, // word joiner
	'\u00AD': true, // soft hyphen
	'\u061C': true, // arabic letter mark
	'\u180E': true, // mongolian vowel separator
}

func isBidiControl(r rune) bool {
	return (r >= '\u202A' && r <= '\u202E') || (r >= '\u2066' && r <= '\u2069')
}

// isControl reports C0/C1 control characters, excluding newline and tab.
func isControl(r rune) bool {
	if r == '\n' || r == '\t' {
		return false
	}
	return r < 0x20 || r == 0x7F || (r >= 0x80 && r <= 0x9F)
}

// Text normalizes a user message: Unicode NFC, then zero-width removal, then
// bidi and control character removal, in that order. Idempotent; never fails.
func Text(s string) string {
	if s == "" {
		return s
	}
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if zeroWidth[r] || isBidiControl(r) || isControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
