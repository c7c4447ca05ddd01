// Package text prepares generated lines for speech synthesis.
package text

import (
	"regexp"
	"strings"
)

var (
	markdownReplacer = strings.NewReplacer(
		"**", "", // bold
		"__", "", // underline
		"~~", "", // strikethrough
		"`", "", // inline code
		"*", "", // italic
		"#", "",
	)
	stageDirectionRegex = regexp.MustCompile(`[（(][^）)]*[）)]`)
	markdownLinkRegex   = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	removeEmojiRegex    = regexp.MustCompile(`[^\p{L}\p{N}\p{P}\p{Z}\s]`)
	multipleSpacesRegex = regexp.MustCompile(`\s+`)
)

// NormalizeForSpeech strips markdown, links, parenthesised stage directions and
// emoji, then collapses whitespace. The result may be empty.
func NormalizeForSpeech(text string) string {
	text = markdownLinkRegex.ReplaceAllString(text, "$1")
	text = markdownReplacer.Replace(text)
	text = stageDirectionRegex.ReplaceAllString(text, " ")
	text = removeEmojiRegex.ReplaceAllString(text, "")
	text = multipleSpacesRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
