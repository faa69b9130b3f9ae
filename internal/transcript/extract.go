package transcript

import "strings"

// SplitSentences splits text at the last sentence-terminating punctuation
// mark, covering both Latin and CJK terminators. complete holds everything up
// to and including that mark; remainder holds the unterminated tail. If no
// terminator is present, complete is empty and remainder is the whole input.
func SplitSentences(text string) (complete, remainder string) {
	end := -1
	for i, r := range text {
		if isSentenceTerminator(r) {
			end = i + len(string(r))
		}
	}
	if end < 0 {
		return "", text
	}
	return strings.TrimSpace(text[:end]), strings.TrimSpace(text[end:])
}

func isSentenceTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	default:
		return false
	}
}
