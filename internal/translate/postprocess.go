package translate

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/deusflow/newsflow/internal/textutil"
)

const (
	minOutputRunes    = 10
	minAlphabeticRate = 0.5
	shortWordRunes    = 2
)

// postProcess cleans one reassembled translation. Outputs that still look
// like garbage after cleaning are rejected with an empty string.
func (e *Engine) postProcess(text, targetLang string) string {
	text = textutil.CollapseWhitespace(text)
	if text == "" {
		return ""
	}

	text = removeConsecutiveDuplicateWords(text)
	text = dropShortFillerWords(text, targetLang)
	text = collapseCharRuns(text, 3)
	text = capitalizeSentences(text)
	text = removeDuplicateSentences(text, targetLang)
	text = e.applyTerminology(text, targetLang)
	text = trimStrayPunctuation(text)

	if len([]rune(text)) < minOutputRunes || textutil.AlphabeticRatio(text) < minAlphabeticRate {
		return ""
	}
	return text
}

// removeConsecutiveDuplicateWords drops immediate case-insensitive repeats
// ("the the" -> "the"), a common decoder stutter.
func removeConsecutiveDuplicateWords(text string) string {
	words := strings.Fields(text)
	out := words[:0]
	prev := ""
	for _, w := range words {
		lower := strings.ToLower(strings.Trim(w, ".,!?;:"))
		if lower != "" && lower == prev {
			continue
		}
		out = append(out, w)
		prev = lower
	}
	return strings.Join(out, " ")
}

// dropShortFillerWords removes one- and two-letter fragments unless they are
// known function words of the target language.
func dropShortFillerWords(text, lang string) string {
	allowed := allowedShortWords[lang]
	words := strings.Fields(text)
	out := words[:0]
	for _, w := range words {
		trimmed := strings.ToLower(strings.Trim(w, ".,!?;:\"'"))
		if len([]rune(trimmed)) <= shortWordRunes && trimmed != "" && !allowed[trimmed] && !isNumeric(trimmed) {
			continue
		}
		out = append(out, w)
	}
	return strings.Join(out, " ")
}

// collapseCharRuns caps runs of one repeated rune at max occurrences
// ("sooooo" -> "sooo").
func collapseCharRuns(text string, max int) string {
	var b strings.Builder
	b.Grow(len(text))
	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
		} else {
			prev = r
			run = 1
		}
		if run <= max {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// capitalizeSentences uppercases the first letter of the text and the first
// letter after sentence-ending punctuation.
func capitalizeSentences(text string) string {
	runes := []rune(text)
	capNext := true
	for i, r := range runes {
		if capNext && unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			capNext = false
			continue
		}
		switch r {
		case '.', '!', '?', '…':
			capNext = true
		default:
			if !unicode.IsSpace(r) && !unicode.IsPunct(r) {
				capNext = false
			}
		}
	}
	return string(runes)
}

// removeDuplicateSentences drops sentences whose normalized lowercase form
// already appeared earlier in the same text.
func removeDuplicateSentences(text, lang string) string {
	sentences := textutil.SplitSentences(text, lang)
	if len(sentences) <= 1 {
		return text
	}
	seen := make(map[string]bool, len(sentences))
	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		key := strings.ToLower(textutil.CollapseWhitespace(strings.TrimRight(s, ".!?… ")))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return strings.Join(out, " ")
}

// applyTerminology substitutes configured terms, case-insensitive, whole
// words only.
func (e *Engine) applyTerminology(text, lang string) string {
	terms := e.terminology[lang]
	if len(terms) == 0 {
		return text
	}
	for term, replacement := range terms {
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
		if err != nil {
			continue
		}
		text = re.ReplaceAllString(text, replacement)
	}
	return text
}

// trimStrayPunctuation removes dangling separators left at the end of the
// text; sentence-ending punctuation stays.
func trimStrayPunctuation(text string) string {
	return strings.TrimRight(text, " ,;:-–—·")
}

// allowedShortWords lists function words that survive the short-word filter,
// per target language.
var allowedShortWords = map[string]map[string]bool{
	"en": toSet("a", "an", "i", "is", "it", "to", "of", "in", "on", "at", "we",
		"he", "by", "or", "as", "be", "do", "go", "up", "no", "so", "my", "us", "if"),
	"da": toSet("i", "og", "er", "på", "at", "en", "et", "de", "vi", "du", "af",
		"om", "til", "nu", "ud", "op", "så", "da", "ja", "to"),
	"de": toSet("zu", "im", "am", "an", "in", "es", "er", "du", "ob", "um",
		"so", "wo", "da", "ab"),
	"uk": toSet("і", "й", "та", "в", "у", "з", "є", "до", "на", "не", "ми",
		"ти", "що", "як", "це", "із", "за", "по", "він", "її"),
	"ru": toSet("и", "в", "не", "на", "он", "с", "а", "то", "но", "да", "ты",
		"к", "у", "же", "вы", "за", "бы", "по", "о", "из", "мы"),
}

func toSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
