package relay

import (
	"regexp"
	"strings"
	"unicode/utf16"
)

var (
	bulletRe   = regexp.MustCompile(`(?m)^(\s*)\*\s+`)
	emphasisRe = regexp.MustCompile(`\*(.+?)\*`)
)

// NormalizeMarkup turns "* item" bullets into "- item" and strips
// single-asterisk emphasis, keeping the inner text. Rules are applied until
// nothing changes, so normalizing twice yields the same text.
func NormalizeMarkup(text string) string {
	for {
		next := normalizeOnce(text)
		if next == text {
			return next
		}
		text = next
	}
}

func normalizeOnce(text string) string {
	text = bulletRe.ReplaceAllString(text, "${1}- ")
	text = emphasisRe.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

// utf16Len is the length of text in UTF-16 code units, the unit Telegram
// counts message limits in.
func utf16Len(text string) int {
	n := 0
	for _, c := range text {
		n += utf16.RuneLen(c)
	}
	return n
}

// fit reports how many leading runes of r fit in limit UTF-16 code units.
func fit(r []rune, limit int) int {
	w := 0
	for i, c := range r {
		w += utf16.RuneLen(c)
		if w > limit {
			return i
		}
	}
	return len(r)
}

// truncate shortens text to at most limit UTF-16 code units, marking the cut.
func truncate(text string, limit int) string {
	if limit <= 0 || utf16Len(text) <= limit {
		return text
	}
	r := []rune(text)
	return string(r[:fit(r, limit-1)]) + "…"
}

// splitMessage cuts text into chunks of at most limit UTF-16 code units,
// preferring to break after a newline in the second half of a chunk.
func splitMessage(text string, limit int) []string {
	if limit <= 0 || utf16Len(text) <= limit {
		return []string{text}
	}
	var out []string
	r := []rune(text)
	for {
		n := fit(r, limit)
		if n == len(r) {
			break
		}
		if n == 0 {
			n = 1
		}
		cut := n
		for i := n - 1; i > n/2; i-- {
			if r[i] == '\n' {
				cut = i + 1
				break
			}
		}
		if chunk := strings.TrimRight(string(r[:cut]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		r = r[cut:]
	}
	if rest := strings.TrimSpace(string(r)); rest != "" {
		out = append(out, string(r))
	}
	return out
}
