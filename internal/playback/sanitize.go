package playback

import (
	"regexp"
	"strings"
)

var (
	thinkTagRe   = regexp.MustCompile(`(?s)<(think|thinking|reasoning)>.*?</(think|thinking|reasoning)>`)
	fencedCodeRe = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`([^`]*)`")
	linkRe       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	htmlTagRe    = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	headingRe    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	emphasisRe   = regexp.MustCompile(`(\*{1,3}|_{2,3}|~~)`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

const codePlaceholder = "code block omitted"

// SanitizeForSpeech strips markup that reads badly aloud: model reasoning
// tags, HTML, markdown structure, and link targets. Fenced code blocks are
// replaced with a spoken placeholder. The result is single-line text with
// collapsed whitespace, possibly empty.
func SanitizeForSpeech(text string) string {
	out := thinkTagRe.ReplaceAllString(text, " ")
	out = fencedCodeRe.ReplaceAllString(out, " "+codePlaceholder+" ")
	out = inlineCodeRe.ReplaceAllString(out, "$1")
	out = linkRe.ReplaceAllString(out, "$1")
	out = htmlTagRe.ReplaceAllString(out, " ")
	out = headingRe.ReplaceAllString(out, "")
	out = emphasisRe.ReplaceAllString(out, "")
	out = whitespaceRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}
