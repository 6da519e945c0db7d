package publish

import (
	"context"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/deusflow/newsflow/internal/feed"
	"github.com/deusflow/newsflow/internal/logger"
	"github.com/deusflow/newsflow/internal/metrics"
	"github.com/deusflow/newsflow/internal/textutil"
	"github.com/deusflow/newsflow/internal/translate"
)

const maxMessageRunes = 4000 // Telegram caps messages at 4096 chars

// MarkStore records a completed send against the item.
type MarkStore interface {
	MarkTelegramSent(ctx context.Context, itemID string) error
}

// Publisher runs the send step: gate check, format, send, mark.
type Publisher struct {
	gate   *Gate
	sender Sender
	store  MarkStore
}

func NewPublisher(gate *Gate, sender Sender, store MarkStore) *Publisher {
	return &Publisher{gate: gate, sender: sender, store: store}
}

// Publish sends one item's message if the feed's gate allows it. Returns
// false with a nil error when throttled; the item stays stored and can be
// sent by a later cycle.
func (p *Publisher) Publish(ctx context.Context, fd feed.Feed, itemID, message string) (bool, error) {
	ok, reason, err := p.gate.Eligible(ctx, fd)
	if err != nil {
		return false, fmt.Errorf("publish gate: %w", err)
	}
	if !ok {
		metrics.Global.IncrementPublishThrottled()
		logger.Info("publish throttled", "feed", fd.ID, "item", itemID, "reason", reason)
		return false, nil
	}

	if err := p.sender.Send(ctx, message); err != nil {
		return false, fmt.Errorf("send: %w", err)
	}
	metrics.Global.IncrementTelegramMessagesSent()

	if err := p.store.MarkTelegramSent(ctx, itemID); err != nil {
		// The message is out; failing to flag it risks a resend next cycle,
		// so surface the error.
		return true, fmt.Errorf("mark sent: %w", err)
	}
	return true, nil
}

// FormatMessage renders the original item plus its translations as one HTML
// message, languages in the given order, trimmed to the Telegram size limit.
// Feed text gets its own markup stripped and the remaining specials escaped,
// so the Bot API HTML parser only ever sees the wrapper tags.
func FormatMessage(title, link, content, lang string, bundle translate.Bundle, order []string) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("<b><a href=\"%s\">%s</a></b>\n\n",
		html.EscapeString(link), escapeText(title)))
	if body := html.EscapeString(trimRunes(textutil.StripHTML(content), 600)); body != "" {
		b.WriteString(body)
		b.WriteString("\n")
	}

	for _, l := range order {
		tr, ok := bundle[l]
		if !ok || l == lang {
			continue
		}
		b.WriteString(fmt.Sprintf("\n%s <i>%s</i>\n", languageTag(l), escapeText(tr.Title)))
		if body := html.EscapeString(trimRunes(textutil.StripHTML(tr.Content), 400)); body != "" {
			b.WriteString(body)
			b.WriteString("\n")
		}
	}

	return trimRunes(b.String(), maxMessageRunes)
}

// escapeText flattens feed markup to plain text and escapes the characters
// Telegram's HTML mode treats specially.
func escapeText(s string) string {
	return html.EscapeString(textutil.StripHTML(s))
}

// trimRunes cuts text at the last sentence boundary under the limit, or hard
// at the limit when no boundary exists.
func trimRunes(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:limit])
	if i := strings.LastIndexAny(cut, ".!?"); i > limit/2 {
		return cut[:i+1]
	}
	return cut + "…"
}

func languageTag(lang string) string {
	switch lang {
	case "en":
		return "🇬🇧"
	case "da":
		return "🇩🇰"
	case "uk":
		return "🇺🇦"
	case "de":
		return "🇩🇪"
	case "ru":
		return "🌐"
	default:
		return "🌐"
	}
}
