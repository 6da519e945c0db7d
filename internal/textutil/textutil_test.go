package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain text untouched", "just plain text", "just plain text"},
		{"tags removed", "<p>Hello <b>world</b></p>", "Hello world"},
		{"script removed", "<p>Visible</p><script>var x = 1;</script>", "Visible"},
		{"style removed", "<style>p{color:red}</style><p>Text</p>", "Text"},
		{"entities decoded", "Tom &amp; Jerry", "Tom & Jerry"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripHTML(tt.input))
		})
	}
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", CollapseWhitespace("  a \n b\t\tc  "))
	assert.Equal(t, "", CollapseWhitespace("   \n\t "))
}

func TestSplitSentences(t *testing.T) {
	t.Run("splits on terminal punctuation", func(t *testing.T) {
		got := SplitSentences("First one. Second two! Third three?", "en")
		assert.Equal(t, []string{"First one.", "Second two!", "Third three?"}, got)
	})

	t.Run("whole text when nothing splits", func(t *testing.T) {
		got := SplitSentences("no sentence enders here", "en")
		assert.Equal(t, []string{"no sentence enders here"}, got)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, SplitSentences("", "en"))
	})

	t.Run("collapses internal whitespace first", func(t *testing.T) {
		got := SplitSentences("One  here.   Two there.", "da")
		assert.Equal(t, []string{"One here.", "Two there."}, got)
	})
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "breaking news 42", NormalizeTitle("Breaking: News! (42)"))
	assert.Equal(t, "hello world", NormalizeTitle("<b>Hello</b> World"))
}

func TestAlphabeticRatio(t *testing.T) {
	assert.InDelta(t, 0.5, AlphabeticRatio("abc123"), 0.001)
	assert.InDelta(t, 1.0, AlphabeticRatio("only letters here"), 0.001)
	assert.Equal(t, 0.0, AlphabeticRatio(""))
	assert.Equal(t, 0.0, AlphabeticRatio("12345"))
}
