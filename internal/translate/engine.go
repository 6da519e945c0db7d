// Package translate orchestrates sentence-level machine translation:
// segmentation, memory-adaptive batching, pivot cascades when no direct model
// exists, post-processing, and the quality gates applied when composing
// multi-language publication bundles.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sync/semaphore"

	"github.com/deusflow/newsflow/internal/logger"
	"github.com/deusflow/newsflow/internal/modelcache"
	"github.com/deusflow/newsflow/internal/textutil"
)

const (
	defaultBeamSize      = 4
	defaultContextWindow = 2
	maxSentenceTokens    = 512
)

type Options struct {
	TargetLanguages []string
	PivotLanguage   string // routed through when no direct model exists
	Concurrency     int    // simultaneous engine invocations, default 2
	BatchSize       int    // sentences per model call under normal memory, default 16
	// Terminology maps target language to case-insensitive whole-word
	// substitutions applied during post-processing.
	Terminology map[string]map[string]string
}

type Engine struct {
	models      *modelcache.Cache
	quality     *QualityChecker
	bundles     *BundleCache
	sem         *semaphore.Weighted
	targets     []string
	pivot       string
	batchSize   int
	terminology map[string]map[string]string
}

func NewEngine(models *modelcache.Cache, quality *QualityChecker, bundles *BundleCache, opts Options) (*Engine, error) {
	if models == nil {
		return nil, fmt.Errorf("model cache is required")
	}
	if opts.PivotLanguage == "" {
		return nil, fmt.Errorf("pivot language is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}

	return &Engine{
		models:      models,
		quality:     quality,
		bundles:     bundles,
		sem:         semaphore.NewWeighted(int64(opts.Concurrency)),
		targets:     canonicalizeAll(opts.TargetLanguages),
		pivot:       canonicalizeLang(opts.PivotLanguage),
		batchSize:   opts.BatchSize,
		terminology: opts.Terminology,
	}, nil
}

// Translate converts each input text from source to target. The result always
// has exactly one output per input: failed sub-steps degrade to the cleaned
// original text, never to a shorter list. Identity pairs skip the model
// entirely. An error is returned only when ctx is cancelled.
func (e *Engine) Translate(ctx context.Context, texts []string, sourceLang, targetLang string, contextWindow, beamSize int) ([]string, error) {
	cleaned := make([]string, len(texts))
	for i, t := range texts {
		cleaned[i] = textutil.StripHTML(t)
	}

	src := canonicalizeLang(sourceLang)
	tgt := canonicalizeLang(targetLang)
	if src == tgt {
		return cleaned, nil
	}

	if beamSize <= 0 {
		beamSize = defaultBeamSize
	}
	if contextWindow < 0 {
		contextWindow = defaultContextWindow
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return cleaned, err
	}
	defer e.sem.Release(1)

	// Segment every input and flatten into one sentence list, remembering how
	// many sentences belong to each input for reassembly.
	var flat []string
	counts := make([]int, len(cleaned))
	for i, text := range cleaned {
		sentences := textutil.SplitSentences(text, src)
		counts[i] = len(sentences)
		flat = append(flat, sentences...)
	}

	translated, err := e.translateSentences(ctx, flat, src, tgt, modelcache.TranslateOptions{
		BeamSize:      beamSize,
		ContextWindow: contextWindow,
	})
	if err != nil {
		if ctx.Err() != nil {
			return cleaned, ctx.Err()
		}
		// Resource failure: hand back the originals untranslated.
		logger.Warn("translation degraded to original text",
			"source", src, "target", tgt, "error", err)
		return cleaned, nil
	}

	out := make([]string, len(cleaned))
	pos := 0
	for i, n := range counts {
		out[i] = e.postProcess(strings.Join(translated[pos:pos+n], " "), tgt)
		pos += n
	}
	return out, nil
}

// translateSentences runs the flattened sentence list through the direct
// model, or cascades through the pivot language when no direct model exists.
func (e *Engine) translateSentences(ctx context.Context, sentences []string, src, tgt string, opts modelcache.TranslateOptions) ([]string, error) {
	if len(sentences) == 0 {
		return nil, nil
	}

	out, err := e.translateDirect(ctx, sentences, modelcache.Pair{Source: src, Target: tgt}, opts)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, modelcache.ErrNoDirectModel) {
		return nil, err
	}
	if src == e.pivot || tgt == e.pivot {
		return nil, fmt.Errorf("no model for %s-%s and pair already touches pivot %s: %w",
			src, tgt, e.pivot, modelcache.ErrNoDirectModel)
	}

	// Cascade: source -> pivot -> target, transparent to the caller.
	logger.Debug("cascading translation through pivot", "source", src, "target", tgt, "pivot", e.pivot)
	mid, err := e.translateDirect(ctx, sentences, modelcache.Pair{Source: src, Target: e.pivot}, opts)
	if err != nil {
		return nil, fmt.Errorf("cascade %s-%s: %w", src, e.pivot, err)
	}
	out, err = e.translateDirect(ctx, mid, modelcache.Pair{Source: e.pivot, Target: tgt}, opts)
	if err != nil {
		return nil, fmt.Errorf("cascade %s-%s: %w", e.pivot, tgt, err)
	}
	return out, nil
}

func (e *Engine) translateDirect(ctx context.Context, sentences []string, pair modelcache.Pair, opts modelcache.TranslateOptions) ([]string, error) {
	model, tokenizer, err := e.models.Get(ctx, pair)
	if err != nil {
		return nil, err
	}

	batchSize := e.adaptiveBatchSize(ctx)
	out := make([]string, 0, len(sentences))

	for start := 0; start < len(sentences); start += batchSize {
		end := min(start+batchSize, len(sentences))
		batch := sentences[start:end]

		if tokenizer != nil {
			batch = capSentences(batch, tokenizer)
		}

		translated, err := model.Translate(ctx, batch, opts)
		if err != nil || len(translated) != len(batch) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Keep the originals for this batch so output stays aligned.
			logger.Warn("model batch failed, keeping originals",
				"pair", pair.String(), "batch", len(batch), "error", err)
			translated = sentences[start:end]
		}
		out = append(out, translated...)
	}
	return out, nil
}

// adaptiveBatchSize shrinks batches when system memory runs hot.
func (e *Engine) adaptiveBatchSize(ctx context.Context) int {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return e.batchSize
	}
	size := e.batchSize
	switch {
	case vm.UsedPercent >= 85:
		size = e.batchSize / 4
	case vm.UsedPercent >= 70:
		size = e.batchSize / 2
	}
	if size < 1 {
		size = 1
	}
	return size
}

// capSentences truncates sentences the tokenizer reports as over-long, so a
// single runaway entry cannot blow the model's input window.
func capSentences(batch []string, tokenizer modelcache.Tokenizer) []string {
	capped := make([]string, len(batch))
	for i, s := range batch {
		for tokenizer.Count(s) > maxSentenceTokens {
			words := strings.Fields(s)
			if len(words) <= 1 {
				break
			}
			s = strings.Join(words[:len(words)*3/4], " ")
		}
		capped[i] = s
	}
	return capped
}

// canonicalizeLang folds language identifiers to bare lowercase ISO codes:
// "EN", "en-US" and "english" all become "en".
func canonicalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if code, ok := langAliases[lang]; ok {
		return code
	}
	return lang
}

func canonicalizeAll(langs []string) []string {
	out := make([]string, 0, len(langs))
	seen := make(map[string]bool, len(langs))
	for _, l := range langs {
		c := canonicalizeLang(l)
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

var langAliases = map[string]string{
	"english":   "en",
	"danish":    "da",
	"german":    "de",
	"ukrainian": "uk",
	"russian":   "ru",
	"french":    "fr",
	"spanish":   "es",
}
