// Package boundary repairs letter/digit gluing in streamed text.
package boundary

import (
	"strings"
	"unicode"
)

// Fixer inserts a single space where a chunk boundary would otherwise glue
// an alphabetic run to a digit run (or the reverse). It remembers only the
// last rune it emitted and only checks the seam between that rune and the
// first rune of the next chunk; text inside a single chunk is left as sent.
//
// A Fixer is not safe for concurrent use; the socket router drives it from
// the single receive goroutine.
type Fixer struct {
	last    rune
	hasLast bool
}

// Apply returns chunk with separators inserted and updates the remembered rune.
func (f *Fixer) Apply(chunk string) string {
	if chunk == "" {
		return chunk
	}

	var out strings.Builder
	out.Grow(len(chunk) + 4)
	first := true
	for _, ch := range chunk {
		if first && f.hasLast && glued(f.last, ch) {
			out.WriteByte(' ')
		}
		first = false
		out.WriteRune(ch)
		f.last = ch
		f.hasLast = true
	}
	return out.String()
}

// Reset forgets the remembered rune. Call it on every completion signal.
func (f *Fixer) Reset() {
	f.last = 0
	f.hasLast = false
}

func glued(prev, cur rune) bool {
	if unicode.IsSpace(prev) || unicode.IsSpace(cur) {
		return false
	}
	return (unicode.IsLetter(prev) && unicode.IsDigit(cur)) ||
		(unicode.IsDigit(prev) && unicode.IsLetter(cur))
}
