// Package textutil holds text cleaning helpers shared by the embedding and
// translation layers.
package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

var tagRe = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes markup and returns plain text with collapsed whitespace.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return CollapseWhitespace(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		// Degrade to a regexp strip on unparseable input
		return CollapseWhitespace(tagRe.ReplaceAllString(s, " "))
	}
	doc.Find("script, style").Remove()
	return CollapseWhitespace(doc.Text())
}

// CollapseWhitespace folds runs of whitespace into single spaces and trims.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// sentence enders followed by whitespace; keeps abbreviations mostly intact by
// requiring the next rune to be an uppercase letter, digit or quote
var sentenceRe = regexp.MustCompile(`([.!?…]+)\s+`)

// SplitSentences splits text into sentences. Languages without a tuned rule
// set fall back to the generic punctuation split; if nothing splits, the whole
// text is returned as a single sentence.
func SplitSentences(text, lang string) []string {
	text = CollapseWhitespace(text)
	if text == "" {
		return nil
	}

	marked := sentenceRe.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")

	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			sentences = append(sentences, p)
		}
	}
	if len(sentences) == 0 {
		return []string{text}
	}
	return sentences
}

// NormalizeTitle lowercases, strips markup and punctuation, and collapses
// whitespace. Used for intra-cycle duplicate keys.
func NormalizeTitle(title string) string {
	title = strings.ToLower(StripHTML(title))
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return CollapseWhitespace(b.String())
}

// AlphabeticRatio reports the share of letters among all non-space runes.
func AlphabeticRatio(s string) float64 {
	letters, total := 0, 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(letters) / float64(total)
}
