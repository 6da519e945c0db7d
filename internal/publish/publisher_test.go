package publish

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsflow/internal/feed"
	"github.com/deusflow/newsflow/internal/translate"
)

type fakeSender struct {
	sent []string
	err  error
}

func (s *fakeSender) Send(_ context.Context, text string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

type fakeMarkStore struct {
	marked []string
}

func (s *fakeMarkStore) MarkTelegramSent(_ context.Context, itemID string) error {
	s.marked = append(s.marked, itemID)
	return nil
}

func TestPublishSendsAndMarks(t *testing.T) {
	sender := &fakeSender{}
	marks := &fakeMarkStore{}
	pub := NewPublisher(testGate(&fakeGateStore{}, time.Now()), sender, marks)

	sent, err := pub.Publish(context.Background(), feed.Feed{ID: "f"}, "item-1", "the message")

	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, []string{"the message"}, sender.sent)
	assert.Equal(t, []string{"item-1"}, marks.marked)
}

func TestPublishThrottledIsNotAnError(t *testing.T) {
	now := time.Now()
	store := &fakeGateStore{last: now.Add(-time.Minute), hasLast: true}
	sender := &fakeSender{}
	marks := &fakeMarkStore{}
	pub := NewPublisher(testGate(store, now), sender, marks)

	sent, err := pub.Publish(context.Background(),
		feed.Feed{ID: "f", CooldownMinutes: 60}, "item-1", "msg")

	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, sender.sent, "throttled item must not be sent")
	assert.Empty(t, marks.marked)
}

func TestPublishSendFailure(t *testing.T) {
	sender := &fakeSender{err: fmt.Errorf("telegram down")}
	marks := &fakeMarkStore{}
	pub := NewPublisher(testGate(&fakeGateStore{}, time.Now()), sender, marks)

	_, err := pub.Publish(context.Background(), feed.Feed{ID: "f"}, "item-1", "msg")

	require.Error(t, err)
	assert.Empty(t, marks.marked, "failed send must not be marked as published")
}

func TestFormatMessage(t *testing.T) {
	bundle := translate.Bundle{
		"en": {Title: "English headline", Content: "English body"},
		"uk": {Title: "Український заголовок", Content: "Український текст"},
	}

	msg := FormatMessage("Dansk overskrift", "https://example.com/a", "Dansk brødtekst",
		"da", bundle, []string{"en", "da", "uk"})

	assert.Contains(t, msg, `<a href="https://example.com/a">Dansk overskrift</a>`)
	assert.Contains(t, msg, "Dansk brødtekst")
	assert.Contains(t, msg, "English headline")
	assert.Contains(t, msg, "Український заголовок")
	// Configured order: English before Ukrainian.
	assert.Less(t, strings.Index(msg, "English headline"), strings.Index(msg, "Український заголовок"))
}

func TestFormatMessageEscapesFeedMarkup(t *testing.T) {
	// RSS descriptions routinely carry markup and bare ampersands; sent
	// verbatim in HTML parse mode, Telegram rejects the whole message.
	bundle := translate.Bundle{
		"en": {Title: "Q&A: 5 < 6", Content: "<p>Budget hits <b>$4bn</b> &amp; counting</p>"},
	}

	msg := FormatMessage("Regnskab & revision", "https://example.com/a?x=1&y=2",
		"<p>Første <i>afsnit</i></p>", "da", bundle, []string{"en"})

	assert.Contains(t, msg, "Regnskab &amp; revision")
	assert.Contains(t, msg, `href="https://example.com/a?x=1&amp;y=2"`)
	assert.Contains(t, msg, "Første afsnit")
	assert.Contains(t, msg, "Q&amp;A: 5 &lt; 6")
	assert.Contains(t, msg, "Budget hits $4bn &amp; counting")
	assert.NotContains(t, msg, "<p>")
	assert.NotContains(t, msg, "<b>$4bn</b>")
}

func TestFormatMessageSkipsOriginLanguage(t *testing.T) {
	bundle := translate.Bundle{
		"da": {Title: "Should not appear", Content: "x"},
		"en": {Title: "English headline", Content: "English body"},
	}

	msg := FormatMessage("Dansk overskrift", "https://example.com/a", "",
		"da", bundle, []string{"da", "en"})

	assert.NotContains(t, msg, "Should not appear")
	assert.Contains(t, msg, "English headline")
}

func TestTrimRunes(t *testing.T) {
	assert.Equal(t, "short", trimRunes("short", 100))

	long := strings.Repeat("word ", 50) + "End of first sentence. " + strings.Repeat("tail ", 200)
	got := trimRunes(long, 300)
	assert.LessOrEqual(t, len([]rune(got)), 301)

	// Cuts at a sentence boundary when one is past the halfway mark.
	boundary := "A first sentence that is quite long indeed. Trailing text follows here"
	cut := trimRunes(boundary, 50)
	assert.Equal(t, "A first sentence that is quite long indeed.", cut)
}
