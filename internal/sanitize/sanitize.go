// Package sanitize turns raw model output into text that is safe to speak.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	stageDirectionPattern = regexp.MustCompile(`\*[^*]*\*`)
	// One or more short single-word names, e.g. "Nova: " or "Nova: Corelia: ".
	speakerLabelPattern   = regexp.MustCompile(`^\s*(?:[\p{L}\p{N}_'-]{1,24}:\s+)+`)
	whitespacePattern     = regexp.MustCompile(`\s+`)
	sentenceBreakPattern  = regexp.MustCompile(`[.!?]\s+`)
)

// Clean strips symbols outside the Basic Multilingual Plane, *stage
// directions*, leading "Speaker: " labels and surplus whitespace, then caps
// the result at maxLen runes by keeping whole sentences only. A maxLen of
// zero disables the cap. The result may be empty.
func Clean(raw string, maxLen int) string {
	text := stripAstral(raw)
	text = stageDirectionPattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "*", "")
	text = speakerLabelPattern.ReplaceAllString(text, "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		text = fitSentences(text, maxLen)
	}
	return text
}

func stripAstral(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r > 0xFFFF {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// fitSentences keeps leading sentences while they fit in maxLen runes.
func fitSentences(text string, maxLen int) string {
	var b strings.Builder
	n := 0
	for _, sentence := range splitSentences(text) {
		size := utf8.RuneCountInString(sentence)
		if n+size > maxLen {
			break
		}
		b.WriteString(sentence)
		b.WriteByte(' ')
		n += size + 1
	}
	return strings.TrimSpace(b.String())
}

func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for _, loc := range sentenceBreakPattern.FindAllStringIndex(text, -1) {
		sentences = append(sentences, text[start:loc[0]+1])
		start = loc[1]
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}
	return sentences
}
