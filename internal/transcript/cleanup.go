package transcript

import (
	"strings"
	"unicode"
)

// Clean normalizes transcription text before it is shown or stored: collapses
// the spurious whitespace the upstream recognizer inserts between CJK
// characters and around CJK punctuation, collapses remaining whitespace runs,
// and trims the ends. Pure string transform.
func Clean(raw string) string {
	runes := []rune(raw)
	var b strings.Builder
	b.Grow(len(raw))

	lastEmitted := rune(0)
	i := 0
	for i < len(runes) {
		r := runes[i]
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
			lastEmitted = r
			i++
			continue
		}
		// Skip the whole whitespace run, then decide whether it survives.
		for i < len(runes) && unicode.IsSpace(runes[i]) {
			i++
		}
		if lastEmitted == 0 || i >= len(runes) {
			continue // leading or trailing whitespace
		}
		next := runes[i]
		if shouldDropSpaceBetween(lastEmitted, next) {
			continue
		}
		b.WriteByte(' ')
	}
	return b.String()
}

func shouldDropSpaceBetween(prev, next rune) bool {
	if isCJKPunct(prev) || isCJKPunct(next) {
		return true
	}
	return isCJK(prev) && isCJK(next)
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

func isCJKPunct(r rune) bool {
	switch r {
	case '。', '！', '？', '，', '、', '；', '：', '「', '」', '『', '』',
		'（', '）', '《', '》', '〈', '〉', '・', '…', '〜':
		return true
	default:
		return false
	}
}
