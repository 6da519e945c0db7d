package embedding

import "strings"

// langResources holds the stopword set and suffix-stripping rules for one
// language. Instances are immutable once built and safe for concurrent use.
type langResources struct {
	lang      string
	stopwords map[string]bool
	suffixes  []string // longest first
	minStem   int
}

// lemmatize applies light suffix stripping. Good enough to fold inflected
// forms together for similarity purposes; a full lemmatizer is not needed.
func (r *langResources) lemmatize(word string) string {
	if len(word) <= r.minStem {
		return word
	}
	for _, suf := range r.suffixes {
		if strings.HasSuffix(word, suf) && len(word)-len(suf) >= r.minStem {
			return word[:len(word)-len(suf)]
		}
	}
	return word
}

func buildLangResources(lang string) (*langResources, bool) {
	words, ok := stopwordData[lang]
	if !ok {
		return nil, false
	}

	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}

	return &langResources{
		lang:      lang,
		stopwords: set,
		suffixes:  suffixData[lang],
		minStem:   3,
	}, true
}

var stopwordData = map[string][]string{
	"en": {
		"a", "an", "the", "and", "or", "but", "if", "of", "at", "by", "for",
		"with", "about", "to", "from", "in", "on", "is", "are", "was", "were",
		"be", "been", "has", "have", "had", "it", "its", "this", "that",
		"these", "those", "as", "not", "no", "so", "than", "then", "too",
		"very", "will", "would", "can", "could", "he", "she", "they", "we",
		"you", "his", "her", "their", "our", "said", "says",
	},
	"da": {
		"og", "i", "jeg", "det", "at", "en", "den", "til", "er", "som", "på",
		"de", "med", "han", "af", "for", "ikke", "der", "var", "mig", "sig",
		"men", "et", "har", "om", "vi", "min", "havde", "ham", "hun", "nu",
		"over", "da", "fra", "du", "ud", "sin", "dem", "os", "op", "man",
		"hans", "hvor", "eller", "hvad", "skal", "selv", "her", "alle", "vil",
		"blev", "kunne", "ind", "når", "være", "kan", "siger",
	},
	"de": {
		"der", "die", "das", "und", "oder", "aber", "in", "im", "an", "am",
		"auf", "für", "mit", "von", "zu", "zum", "zur", "ist", "sind", "war",
		"waren", "sein", "hat", "haben", "hatte", "ein", "eine", "einen",
		"einem", "einer", "nicht", "kein", "als", "auch", "es", "er", "sie",
		"wir", "ihr", "ich", "den", "dem", "des", "sich", "nach", "bei",
		"über", "noch", "wie", "wird", "werden", "sagt", "sagte",
	},
	"uk": {
		"і", "й", "та", "але", "або", "що", "як", "це", "цей", "ця", "ці",
		"в", "у", "на", "з", "із", "зі", "до", "від", "по", "за", "про",
		"не", "ні", "так", "є", "був", "була", "було", "були", "бути",
		"він", "вона", "воно", "вони", "ми", "ви", "я", "ти", "його", "її",
		"їх", "наш", "ваш", "свій", "який", "яка", "яке", "які", "сказав",
	},
	"ru": {
		"и", "в", "во", "не", "что", "он", "на", "я", "с", "со", "как", "а",
		"то", "все", "она", "так", "его", "но", "да", "ты", "к", "у", "же",
		"вы", "за", "бы", "по", "ее", "мне", "было", "вот", "от", "меня",
		"о", "из", "ему", "сказал", "они", "мы", "это", "этот", "быть",
	},
}

var suffixData = map[string][]string{
	"en": {"ingly", "edly", "ing", "ers", "ies", "ied", "est", "ed", "ly", "es", "er", "s"},
	"da": {"erne", "ende", "erede", "erer", "erne", "ede", "ene", "er", "en", "et", "e"},
	"de": {"ungen", "ung", "lich", "isch", "heit", "keit", "ern", "er", "en", "em", "es", "e", "n", "s"},
	"uk": {"ість", "ості", "ання", "ення", "ами", "ями", "ого", "ому", "ої", "ів", "ах", "ях", "ом", "ем", "ти", "и", "і", "а", "я", "у", "ю"},
	"ru": {"ость", "ости", "ение", "ания", "ами", "ями", "ого", "ому", "ой", "ов", "ах", "ях", "ом", "ем", "ть", "ы", "и", "а", "я", "у", "ю"},
}
