package spider

import (
	"regexp"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

var controlReplacer = strings.NewReplacer(
	"\n", " ",
	"\r", " ",
	"\t", " ",
	"\u200b", "",
	"\ufeff", "",
)

// CleanText normalizes a title extracted from a payload: trims, maps
// newlines/tabs/carriage-returns to spaces, drops zero-width spaces and BOM
// characters, and collapses whitespace runs to a single space.
func CleanText(text string) string {
	text = controlReplacer.Replace(strings.TrimSpace(text))
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// SanitizeURL validates and cleans a playable-video URL. Anything not
// starting with http:// or https:// yields "", and characters that could
// break downstream handling are stripped from the rest.
func SanitizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '"', '\'', '<', '>', '`', '\n', '\r', '\t':
			return -1
		}
		return r
	}, raw)
}
