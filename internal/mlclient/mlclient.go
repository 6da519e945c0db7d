// Package mlclient talks to the inference sidecar over HTTP. The sidecar
// hosts the sentence embedding model and the per-pair translation models; this
// client adapts its endpoints to the Embedder and Loader interfaces the
// pipeline consumes.
package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deusflow/newsflow/internal/logger"
	"github.com/deusflow/newsflow/internal/modelcache"
	"github.com/deusflow/newsflow/internal/retry"
)

type Client struct {
	baseURL string
	client  *http.Client
	retries retry.Config
}

type Options struct {
	Timeout       time.Duration // per-request, default 60s
	RetryAttempts int           // default 3
	RetryDelay    time.Duration // default 2s
}

func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: opts.Timeout},
		retries: retry.Config{
			MaxAttempts: opts.RetryAttempts,
			Delay:       opts.RetryDelay,
			Backoff:     true,
		},
	}
}

// Embed returns the sentence embedding for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp struct {
		Embedding []float32 `json:"embedding"`
	}
	err := c.post(ctx, "/embed", map[string]interface{}{"text": text}, &resp)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("embed: empty embedding in response")
	}
	return resp.Embedding, nil
}

// Load asks the sidecar to bring the pair's model into memory. A 404 means no
// model exists for the pair and maps to ErrNoDirectModel so the engine can
// pivot.
func (c *Client) Load(ctx context.Context, pair modelcache.Pair) (modelcache.Model, modelcache.Tokenizer, error) {
	payload := map[string]interface{}{
		"source": pair.Source,
		"target": pair.Target,
	}
	err := c.post(ctx, "/models/load", payload, nil)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, nil, modelcache.ErrNoDirectModel
		}
		return nil, nil, fmt.Errorf("load model %s: %w", pair.String(), err)
	}
	return &remoteModel{client: c, pair: pair}, wordTokenizer{}, nil
}

// remoteModel proxies translation calls for one loaded pair.
type remoteModel struct {
	client *Client
	pair   modelcache.Pair
}

func (m *remoteModel) Translate(ctx context.Context, sentences []string, opts modelcache.TranslateOptions) ([]string, error) {
	payload := map[string]interface{}{
		"source":         m.pair.Source,
		"target":         m.pair.Target,
		"sentences":      sentences,
		"beam_size":      opts.BeamSize,
		"context_window": opts.ContextWindow,
	}
	var resp struct {
		Sentences []string `json:"sentences"`
	}
	if err := m.client.post(ctx, "/translate", payload, &resp); err != nil {
		return nil, fmt.Errorf("translate %s: %w", m.pair.String(), err)
	}
	if len(resp.Sentences) != len(sentences) {
		return nil, fmt.Errorf("translate %s: got %d sentences for %d inputs",
			m.pair.String(), len(resp.Sentences), len(sentences))
	}
	return resp.Sentences, nil
}

// wordTokenizer approximates subword token counts from word counts. The real
// tokenizer lives in the sidecar; a round trip per sentence just for a length
// guard is not worth it, and the 4/3 ratio overestimates slightly, which is
// the safe direction for a cap.
type wordTokenizer struct{}

func (wordTokenizer) Count(text string) int {
	words := len(strings.Fields(text))
	return words + words/3
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("inference API status %d: %s", e.code, e.body)
}

// post sends one JSON request with retries and decodes the response into out
// when out is non-nil. Client errors (4xx) are not retried.
func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var last *statusError
	err = retry.Do(ctx, c.retries, func() error {
		last = nil
		err := c.postOnce(ctx, path, body, out)
		var se *statusError
		if errors.As(err, &se) && se.code >= 400 && se.code < 500 {
			// Retrying a 4xx just repeats the same answer.
			last = se
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	if last != nil {
		return last
	}
	return nil
}

func (c *Client) postOnce(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("inference request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
