package vespa

import (
	"strings"
	"unicode/utf8"
)

// RemoveInvalidUnicode strips codepoints the engine's document API rejects:
// C0 control characters other than tab/newline/carriage-return, surrogate
// halves, the U+FFFE/U+FFFF noncharacters, and bytes that are not valid UTF-8.
func RemoveInvalidUnicode(s string) string {
	if utf8.ValidString(s) && !strings.ContainsFunc(s, isInvalidRune) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			i++
			continue
		}
		if !isInvalidRune(r) {
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

func isInvalidRune(r rune) bool {
	switch {
	case r >= 0x00 && r <= 0x08:
		return true
	case r == 0x0b || r == 0x0c:
		return true
	case r >= 0x0e && r <= 0x1f:
		return true
	case r >= 0xd800 && r <= 0xdfff:
		return true
	case r == 0xfffe || r == 0xffff:
		return true
	default:
		return false
	}
}
