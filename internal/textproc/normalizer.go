package textproc

import (
	"regexp"
	"strings"
	"unicode"
)

// Normalizer cleans inbound CRM text before inference. Emails and chat
// transcripts routinely carry HTML markup and pasted whitespace that would
// skew keyword matching and waste provider tokens.
type Normalizer struct {
	htmlTags        *regexp.Regexp
	multiWhitespace *regexp.Regexp
}

func NewNormalizer() *Normalizer {
	return &Normalizer{
		htmlTags:        regexp.MustCompile(`<[^>]*>`),
		multiWhitespace: regexp.MustCompile(`\s+`),
	}
}

// Clean strips HTML tags, drops control characters and collapses whitespace.
// Returns the empty string when nothing analyzable remains.
func (n *Normalizer) Clean(text string) string {
	text = n.htmlTags.ReplaceAllString(text, " ")

	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, text)

	text = n.multiWhitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
