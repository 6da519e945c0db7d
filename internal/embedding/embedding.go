// Package embedding wraps a black-box sentence embedding model with
// language-aware text normalization, cosine similarity and the dynamic
// duplicate thresholds used by the detector and the translation quality gates.
package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/deusflow/newsflow/internal/logger"
	"github.com/deusflow/newsflow/internal/textutil"
)

// Embedder encodes normalized text into a fixed-length vector. The model
// itself is external; implementations must be deterministic for equal input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Kind selects which base threshold applies.
type Kind string

const (
	KindTitle   Kind = "title"
	KindContent Kind = "content"
)

const (
	shortTextLimit  = 50
	longTextLimit   = 1000
	shortAdjustment = -0.05
	longAdjustment  = 0.02
	thresholdFloor  = 0.70
	thresholdCeil   = 0.98

	defaultLanguage = "en"
)

// NormalizeResult reports the normalized text and whether the requested
// language had no resources so the default language was used instead.
type NormalizeResult struct {
	Text         string
	FallbackUsed bool
}

type Options struct {
	TitleThreshold     float64 // base threshold for titles, default 0.85
	ContentThreshold   float64 // base threshold for content, default 0.95
	MaxLinguisticCache int     // resident language resource sets, default 3
}

// Generator is the embedding front end. One instance is constructed at
// startup and shared by the duplicate detector and the translation engine.
type Generator struct {
	embedder  Embedder
	titleBase float64
	bodyBase  float64
	resources *lru.Cache[string, *langResources]
}

func NewGenerator(embedder Embedder, opts Options) (*Generator, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if opts.TitleThreshold == 0 {
		opts.TitleThreshold = 0.85
	}
	if opts.ContentThreshold == 0 {
		opts.ContentThreshold = 0.95
	}
	if opts.MaxLinguisticCache <= 0 {
		opts.MaxLinguisticCache = 3
	}

	cache, err := lru.New[string, *langResources](opts.MaxLinguisticCache)
	if err != nil {
		return nil, fmt.Errorf("linguistic cache: %w", err)
	}

	return &Generator{
		embedder:  embedder,
		titleBase: opts.TitleThreshold,
		bodyBase:  opts.ContentThreshold,
		resources: cache,
	}, nil
}

// Normalize strips markup, lowercases, removes stopwords and punctuation and
// applies light suffix lemmatization for the given language. An unknown
// language falls back to the default language resources.
func (g *Generator) Normalize(text, lang string) NormalizeResult {
	res, fallback := g.langResources(lang)
	if fallback {
		logger.Warn("no linguistic resources for language, using default",
			"lang", lang, "default", defaultLanguage)
	}

	clean := strings.ToLower(textutil.StripHTML(text))

	words := strings.FieldsFunc(clean, func(r rune) bool {
		return !isWordRune(r)
	})

	kept := make([]string, 0, len(words))
	for _, w := range words {
		if res.stopwords[w] {
			continue
		}
		kept = append(kept, res.lemmatize(w))
	}

	return NormalizeResult{
		Text:         strings.Join(kept, " "),
		FallbackUsed: fallback,
	}
}

// Embed normalizes then encodes text. Deterministic for identical input as
// long as the underlying embedder is.
func (g *Generator) Embed(ctx context.Context, text, lang string) ([]float32, error) {
	norm := g.Normalize(text, lang)
	if norm.Text == "" {
		// Nothing survived normalization; embed the stripped original so the
		// caller still gets a usable vector.
		norm.Text = textutil.CollapseWhitespace(textutil.StripHTML(text))
	}
	vec, err := g.embedder.Embed(ctx, norm.Text)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	return vec, nil
}

// Similarity returns cosine similarity mapped into [0, 1]. Mismatched or
// empty vectors score zero.
func (g *Generator) Similarity(a, b []float32) float64 {
	return Cosine(a, b)
}

// Cosine computes cosine similarity clamped to [0, 1].
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// Threshold returns the similarity bar for the given text length and kind.
// Titles are more lenient than content; very short text lowers the bar, very
// long text raises it slightly. The result is clamped to [0.70, 0.98].
func (g *Generator) Threshold(textLength int, kind Kind) float64 {
	base := g.bodyBase
	if kind == KindTitle {
		base = g.titleBase
	}

	if textLength < shortTextLimit {
		base += shortAdjustment
	} else if textLength > longTextLimit {
		base += longAdjustment
	}

	if base < thresholdFloor {
		return thresholdFloor
	}
	if base > thresholdCeil {
		return thresholdCeil
	}
	return base
}

func (g *Generator) langResources(lang string) (*langResources, bool) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		lang = defaultLanguage
	}

	if res, ok := g.resources.Get(lang); ok {
		return res, false
	}

	res, ok := buildLangResources(lang)
	if ok {
		g.resources.Add(lang, res)
		return res, false
	}

	// Fall back to the default language, still keeping it in the cache.
	if def, cached := g.resources.Get(defaultLanguage); cached {
		return def, true
	}
	def, _ := buildLangResources(defaultLanguage)
	g.resources.Add(defaultLanguage, def)
	return def, true
}

func isWordRune(r rune) bool {
	return r == '\'' || unicode.IsLetter(r) || unicode.IsNumber(r)
}
