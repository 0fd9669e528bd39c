package logging

import (
	"strings"
	"unicode"
)

var statusGlyphs = strings.NewReplacer(
	"⚠", "[WARN]",
	"✅", "[OK]",
	"✓", "[OK]",
	"🛑", "[STOP]",
	"❌", "[ERROR]",
)

// PlainText rewrites status glyphs to bracketed tags and drops remaining
// pictographs so the text is safe for consoles and log files that are not
// UTF-8 aware.
func PlainText(s string) string {
	if isASCII(s) {
		return s
	}
	s = statusGlyphs.Replace(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\uFE0F' || r == '\u200D':
			return -1
		case r >= 0x1F000 && r <= 0x1FAFF:
			return -1
		case r >= 0x2600 && r <= 0x27BF:
			return -1
		case unicode.Is(unicode.So, r) && r > 0x2000:
			return -1
		}
		return r
	}, s)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
