package docs

import (
	"regexp"
	"unicode"
)

var (
	fencedCodeRe = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`[^`\n]*`")
	markupRe     = regexp.MustCompile(`[#*_\[\]()>|~-]`)
	latinWordRe  = regexp.MustCompile(`[A-Za-z]+(?:['’][A-Za-z]+)?`)
)

// WordCount counts CJK ideographs individually plus latin words, ignoring
// code and markdown punctuation.
func WordCount(content string) int {
	text := fencedCodeRe.ReplaceAllString(content, " ")
	text = inlineCodeRe.ReplaceAllString(text, " ")
	text = markupRe.ReplaceAllString(text, " ")

	n := 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			n++
		}
	}
	return n + len(latinWordRe.FindAllString(text, -1))
}
