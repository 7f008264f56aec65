package scorer

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// MaxSnippetRunes caps stored snippet length.
const MaxSnippetRunes = 500

// CleanSnippet strips HTML markup and collapses whitespace in a provider
// snippet. Plain text passes through with whitespace collapsed.
func CleanSnippet(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	text := s
	if strings.ContainsAny(s, "<&") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
		if err == nil {
			doc.Find("script, style, noscript").Remove()
			text = doc.Text()
		}
	}

	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) > MaxSnippetRunes {
		runes := []rune(text)
		text = string(runes[:MaxSnippetRunes]) + "…"
	}
	return text
}
