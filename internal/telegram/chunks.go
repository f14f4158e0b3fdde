package telegram

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// MaxMessageLength is Telegram's cap on one message, in UTF-16 code units.
const MaxMessageLength = 4096

const (
	preOpen  = "<pre>"
	preClose = "</pre>"
)

// splitMessage breaks rendered HTML into messages of at most limit UTF-16
// units. Cuts prefer line breaks, then spaces, and never land inside an
// entity such as &lt;. A text wrapped in <pre> is split inside the block and
// every part is rewrapped.
func splitMessage(text string, limit int) []string {
	if limit <= 0 || utf16Len(text) <= limit {
		return []string{text}
	}
	if strings.HasPrefix(text, preOpen) && strings.HasSuffix(text, preClose) {
		inner := strings.TrimSuffix(strings.TrimPrefix(text, preOpen), preClose)
		parts := splitMessage(inner, limit-len(preOpen)-len(preClose))
		for i := range parts {
			parts[i] = preOpen + parts[i] + preClose
		}
		return parts
	}

	var parts []string
	for text != "" {
		cut := cutIndex(text, limit)
		parts = append(parts, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	return parts
}

// cutIndex returns the byte offset at which the first part of text ends.
func cutIndex(text string, limit int) int {
	units, end := 0, len(text)
	for i, r := range text {
		n := utf16.RuneLen(r)
		if n < 1 {
			n = 1
		}
		if units+n > limit {
			end = i
			break
		}
		units += n
	}
	if end == len(text) {
		return end
	}
	if end == 0 {
		// A single rune wider than limit.
		_, size := utf8.DecodeRuneInString(text)
		return size
	}

	head := text[:end]
	if i := strings.LastIndexByte(head, '\n'); i > end/2 {
		return i + 1
	}
	if i := strings.LastIndexByte(head, ' '); i > end/2 {
		return i + 1
	}
	if amp := strings.LastIndexByte(head, '&'); amp > 0 && !strings.Contains(head[amp:], ";") {
		return amp
	}
	return end
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}
