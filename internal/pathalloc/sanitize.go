package pathalloc

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonASCII = runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })

// asciiFold returns a fresh transformer; a transform.Chain keeps internal
// buffers and must not be shared between goroutines.
func asciiFold() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(nonASCII))
}

var deviceNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// Sanitize reduces a client supplied filename to a flat, ASCII name made of
// letters, digits, '_', '.' and '-'. Path separators and whitespace become
// underscores and leading or trailing dots and underscores are dropped, so the
// result can never address a parent directory. It may return "".
func Sanitize(name string) string {
	folded, _, err := transform.String(asciiFold(), name)
	if err != nil {
		return ""
	}
	folded = strings.NewReplacer("/", " ", "\\", " ").Replace(folded)
	joined := strings.Join(strings.Fields(folded), "_")

	var b strings.Builder
	for _, r := range joined {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	clean := strings.Trim(b.String(), "._")
	if clean == "" {
		return ""
	}
	stem, _, _ := strings.Cut(clean, ".")
	if _, ok := deviceNames[strings.ToUpper(stem)]; ok {
		clean = "_" + clean
	}
	return clean
}

// Extension returns the lower-cased text after the final '.', or "".
func Extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}
