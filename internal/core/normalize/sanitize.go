package normalize

import (
	"strings"
	"unicode/utf8"
)

// Sanitize makes raw decision text safe for a checksum or a text column.
// Line breaks become "\n" (CRLF, CR, and the form feeds and vertical tabs
// UYAP exports use as page breaks); NUL, other C0 and C1 controls, DEL and
// invalid UTF-8 bytes are dropped. Clean input is returned unchanged
func Sanitize(s string) string {
	if !dirty(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\r':
			b.WriteByte('\n')
			i++
			if i < len(s) && s[i] == '\n' {
				i++
			}
			continue
		case c == '\f' || c == '\v':
			b.WriteByte('\n')
			i++
			continue
		case c < utf8.RuneSelf:
			if keepASCII(c) {
				b.WriteByte(c)
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if !(r == utf8.RuneError && size == 1) && !isC1(r) {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

// dirty reports whether Sanitize would change s
func dirty(s string) bool {
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			if !keepASCII(c) || c == '\r' {
				return true
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if (r == utf8.RuneError && size == 1) || isC1(r) {
			return true
		}
		i += size
	}
	return false
}

// keepASCII keeps printable ASCII, tab and newline
func keepASCII(c byte) bool {
	return c == '\n' || c == '\t' || (c >= 0x20 && c != 0x7F)
}

func isC1(r rune) bool { return r >= 0x80 && r <= 0x9F }
