package translate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/deusflow/newsflow/internal/embedding"
)

// QualityChecker holds the gates a translation must pass before it may enter
// a publication bundle.
type QualityChecker struct {
	gen *embedding.Generator
}

func NewQualityChecker(gen *embedding.Generator) *QualityChecker {
	return &QualityChecker{gen: gen}
}

// charsetRule is a per-language character-set heuristic: the output must
// match require (when set) and must not match forbid (when set).
type charsetRule struct {
	require *regexp.Regexp
	forbid  *regexp.Regexp
}

var charsetRules = map[string]charsetRule{
	// German output without a single umlaut or ß across title+content is a
	// strong no-op signal.
	"de": {
		require: regexp.MustCompile(`[äöüßÄÖÜ]`),
		forbid:  regexp.MustCompile(`\p{Cyrillic}`),
	},
	"en": {
		forbid: regexp.MustCompile(`[\p{Cyrillic}äöüßÄÖÜéèêëàâçûùôîï]`),
	},
	"da": {
		require: regexp.MustCompile(`[æøåÆØÅ]`),
		forbid:  regexp.MustCompile(`\p{Cyrillic}`),
	},
	"uk": {
		require: regexp.MustCompile(`\p{Cyrillic}`),
	},
	"ru": {
		require: regexp.MustCompile(`\p{Cyrillic}`),
	},
}

// CheckIdentity rejects output identical to its source, the symptom of a
// translation that silently did nothing.
func (q *QualityChecker) CheckIdentity(source, translated string) error {
	if strings.TrimSpace(translated) == strings.TrimSpace(source) {
		return fmt.Errorf("translation identical to source")
	}
	return nil
}

// CheckCharset applies the target language's character-set heuristic.
// Languages without a rule pass.
func (q *QualityChecker) CheckCharset(translated, targetLang string) error {
	rule, ok := charsetRules[targetLang]
	if !ok {
		return nil
	}
	if rule.require != nil && !rule.require.MatchString(translated) {
		return fmt.Errorf("output lacks expected %s characters", targetLang)
	}
	if rule.forbid != nil && rule.forbid.MatchString(translated) {
		return fmt.Errorf("output contains characters foreign to %s", targetLang)
	}
	return nil
}

// CheckSemantic embeds source and translation and requires their similarity
// to clear the dynamic content threshold. The shared multilingual embedding
// space makes the cross-language comparison meaningful.
func (q *QualityChecker) CheckSemantic(ctx context.Context, source, sourceLang, translated, targetLang string) error {
	srcVec, err := q.gen.Embed(ctx, source, sourceLang)
	if err != nil {
		return fmt.Errorf("embed source: %w", err)
	}
	tgtVec, err := q.gen.Embed(ctx, translated, targetLang)
	if err != nil {
		return fmt.Errorf("embed translation: %w", err)
	}

	sim := q.gen.Similarity(srcVec, tgtVec)
	threshold := q.gen.Threshold(utf8.RuneCountInString(source), embedding.KindContent)
	if sim < threshold {
		return fmt.Errorf("semantic drift: similarity %.3f below threshold %.3f", sim, threshold)
	}
	return nil
}
