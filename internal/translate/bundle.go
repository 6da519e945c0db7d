package translate

import (
	"context"
	"fmt"

	"github.com/deusflow/newsflow/internal/logger"
	"github.com/deusflow/newsflow/internal/metrics"
)

// Translation is one target language's rendering of an item.
type Translation struct {
	Title   string
	Content string
}

// Bundle maps target language codes to translations. The origin language is
// never present; downstream stores the original item for it.
type Bundle map[string]Translation

// PrepareBundle translates title and content into every configured target
// language and applies the quality gates. One language failing never aborts
// the others; failed languages are simply absent from the bundle. An error is
// returned only when the bundle comes out empty despite failures, so the
// caller's error callback fires.
func (e *Engine) PrepareBundle(ctx context.Context, title, content, sourceLang string) (Bundle, error) {
	src := canonicalizeLang(sourceLang)

	cacheKey := ""
	if e.bundles != nil {
		cacheKey = bundleKey(title, content, e.targets)
		if cached, ok := e.bundles.Get(cacheKey); ok {
			logger.Debug("bundle cache hit", "lang", src)
			return cached, nil
		}
	}

	bundle := make(Bundle, len(e.targets))
	failures := 0

	for _, target := range e.targets {
		if target == src {
			continue
		}
		if err := ctx.Err(); err != nil {
			return bundle, err
		}

		tr, err := e.translateChecked(ctx, title, content, src, target)
		if err != nil {
			failures++
			metrics.Global.IncrementFailedTranslations()
			logger.Warn("language dropped from bundle",
				"source", src, "target", target, "error", err)
			continue
		}
		bundle[target] = tr
		metrics.Global.IncrementSuccessfulTranslations()
	}

	dropDuplicateTitles(bundle, e.targets)

	if len(bundle) == 0 && failures > 0 {
		return nil, fmt.Errorf("all %d target languages failed", failures)
	}

	if e.bundles != nil && len(bundle) > 0 {
		e.bundles.Set(cacheKey, bundle)
	}
	return bundle, nil
}

// translateChecked translates one language and runs the gates, retrying once
// with conservative decoding before giving up.
func (e *Engine) translateChecked(ctx context.Context, title, content, src, target string) (Translation, error) {
	out, err := e.Translate(ctx, []string{title, content}, src, target, defaultContextWindow, defaultBeamSize)
	if err != nil {
		return Translation{}, err
	}

	tr := Translation{Title: out[0], Content: out[1]}
	gateErr := e.runGates(ctx, title, content, src, target, tr)
	if gateErr == nil {
		return tr, nil
	}

	// One retry with beam size 1 and no context window; decoders sometimes
	// recover on the conservative path.
	logger.Debug("quality gate failed, retrying with conservative decoding",
		"target", target, "error", gateErr)
	out, err = e.Translate(ctx, []string{title, content}, src, target, 0, 1)
	if err != nil {
		return Translation{}, err
	}
	tr = Translation{Title: out[0], Content: out[1]}
	if gateErr = e.runGates(ctx, title, content, src, target, tr); gateErr != nil {
		return Translation{}, gateErr
	}
	return tr, nil
}

func (e *Engine) runGates(ctx context.Context, title, content, src, target string, tr Translation) error {
	if e.quality == nil {
		return nil
	}
	if tr.Title == "" || tr.Content == "" {
		return fmt.Errorf("post-processing rejected output")
	}
	if err := e.quality.CheckIdentity(title, tr.Title); err != nil {
		return fmt.Errorf("title: %w", err)
	}
	if err := e.quality.CheckCharset(tr.Title+" "+tr.Content, target); err != nil {
		return err
	}
	if err := e.quality.CheckSemantic(ctx, content, src, tr.Content, target); err != nil {
		return err
	}
	return nil
}

// dropDuplicateTitles removes languages whose title is byte-identical to an
// already-accepted language's title, a symptom of a no-op translation that
// slipped through the gates. Iterates in configured target order so the
// earlier language wins deterministically.
func dropDuplicateTitles(bundle Bundle, order []string) {
	seen := make(map[string]string, len(bundle))
	for _, lang := range order {
		tr, ok := bundle[lang]
		if !ok {
			continue
		}
		if prev, dup := seen[tr.Title]; dup {
			logger.Warn("dropping language with duplicate title",
				"lang", lang, "duplicate_of", prev)
			delete(bundle, lang)
			continue
		}
		seen[tr.Title] = lang
	}
}
