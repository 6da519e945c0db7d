package embedding

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder records inputs and returns a fixed vector.
type fakeEmbedder struct {
	inputs []string
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.inputs = append(f.inputs, text)
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func newTestGenerator(t *testing.T, emb Embedder) *Generator {
	t.Helper()
	gen, err := NewGenerator(emb, Options{})
	require.NoError(t, err)
	return gen
}

func TestNewGeneratorRequiresEmbedder(t *testing.T) {
	_, err := NewGenerator(nil, Options{})
	assert.Error(t, err)
}

func TestNormalizeEnglish(t *testing.T) {
	gen := newTestGenerator(t, &fakeEmbedder{vector: []float32{1}})

	res := gen.Normalize("The quick brown foxes", "en")
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, "quick brown fox", res.Text)
}

func TestNormalizeStripsMarkupAndPunctuation(t *testing.T) {
	gen := newTestGenerator(t, &fakeEmbedder{vector: []float32{1}})

	res := gen.Normalize("<p>Storm alert, heavy rain!</p>", "en")
	assert.Equal(t, "storm alert heavy rain", res.Text)
}

func TestNormalizeUnknownLanguageFallsBack(t *testing.T) {
	gen := newTestGenerator(t, &fakeEmbedder{vector: []float32{1}})

	res := gen.Normalize("some words here", "xx")
	assert.True(t, res.FallbackUsed)
	assert.NotEmpty(t, res.Text)
}

func TestEmbedUsesNormalizedText(t *testing.T) {
	emb := &fakeEmbedder{vector: []float32{0.1, 0.2}}
	gen := newTestGenerator(t, emb)

	vec, err := gen.Embed(context.Background(), "The quick brown foxes", "en")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
	require.Len(t, emb.inputs, 1)
	assert.Equal(t, "quick brown fox", emb.inputs[0])
}

func TestEmbedFallsBackWhenNormalizationEmpties(t *testing.T) {
	emb := &fakeEmbedder{vector: []float32{1}}
	gen := newTestGenerator(t, emb)

	// Every word is an English stopword, so normalization yields nothing.
	_, err := gen.Embed(context.Background(), "the and of", "en")
	require.NoError(t, err)
	require.Len(t, emb.inputs, 1)
	assert.Equal(t, "the and of", emb.inputs[0])
}

func TestEmbedPropagatesError(t *testing.T) {
	emb := &fakeEmbedder{err: fmt.Errorf("model offline")}
	gen := newTestGenerator(t, emb)

	_, err := gen.Embed(context.Background(), "anything at all", "en")
	assert.Error(t, err)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0, 2}, []float32{1, 0, 2}), 0.001)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 0.001)
	assert.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
	// Opposed vectors clamp to zero rather than going negative.
	assert.Equal(t, 0.0, Cosine([]float32{1, 0}, []float32{-1, 0}))
}

func TestThreshold(t *testing.T) {
	gen := newTestGenerator(t, &fakeEmbedder{vector: []float32{1}})

	tests := []struct {
		name     string
		length   int
		kind     Kind
		expected float64
	}{
		{"content normal length", 500, KindContent, 0.95},
		{"content short text lowers bar", 30, KindContent, 0.90},
		{"content long text raises bar", 2000, KindContent, 0.97},
		{"title normal length", 500, KindTitle, 0.85},
		{"title short text", 30, KindTitle, 0.80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, gen.Threshold(tt.length, tt.kind), 0.001)
		})
	}
}

func TestThresholdClampsToFloor(t *testing.T) {
	gen, err := NewGenerator(&fakeEmbedder{vector: []float32{1}}, Options{
		TitleThreshold:   0.72,
		ContentThreshold: 0.95,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.70, gen.Threshold(10, KindTitle), 0.001)
}

func TestLemmatizeKeepsShortWords(t *testing.T) {
	res, ok := buildLangResources("en")
	require.True(t, ok)

	assert.Equal(t, "cat", res.lemmatize("cat"))
	assert.Equal(t, "runn", res.lemmatize("running"))
	assert.Equal(t, "hous", res.lemmatize("houses"))
}
