// Package extractor reads the newest inbound message from the currently open
// conversation and classifies its content kind.
package extractor

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shopclerk/shopclerk/internal/chat"
	"github.com/shopclerk/shopclerk/internal/locator"
)

// Bubble is one rendered message bubble: its visible text and the class
// attribute used for kind detection.
type Bubble struct {
	Text  string `json:"text"`
	Class string `json:"class"`
}

// PageReader reads rendered message bubbles from the live page.
type PageReader interface {
	Bubbles(ctx context.Context, selector string) ([]Bubble, error)
}

// Locator resolves logical roles to selectors; satisfied by
// *locator.Strategy.
type Locator interface {
	Locate(ctx context.Context, role locator.Role) (locator.Handle, error)
}

// Extractor pulls the latest counterpart message out of the open
// conversation.
type Extractor struct {
	locator Locator
	reader  PageReader
	logger  *zap.Logger
	now     func() time.Time
}

// New builds an Extractor.
func New(loc Locator, reader PageReader, logger *zap.Logger) *Extractor {
	return &Extractor{
		locator: loc,
		reader:  reader,
		logger:  logger.Named("extractor"),
		now:     time.Now,
	}
}

// LatestInbound returns the newest message attributed to the buyer, or
// (nil, nil) when no readable inbound content is present. Locator misses are
// treated as absence, not as errors.
func (e *Extractor) LatestInbound(ctx context.Context, conversationID string) (*chat.InboundMessage, error) {
	handle, err := e.locator.Locate(ctx, locator.RoleInboundBubble)
	if err != nil {
		if errors.Is(err, locator.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	bubbles, err := e.reader.Bubbles(ctx, handle.Selector)
	if err != nil {
		return nil, err
	}
	if len(bubbles) == 0 {
		return nil, nil
	}

	last := bubbles[len(bubbles)-1]
	kind := classify(last)
	text := normalize(last.Text)
	if kind.IsText() && text == "" {
		// A bubble with no text and no recognizable marker is unreadable.
		return nil, nil
	}

	msg := &chat.InboundMessage{
		ConversationID: conversationID,
		Text:           text,
		Kind:           kind,
		ObservedAt:     e.now(),
	}
	e.logger.Debug("Inbound message extracted",
		zap.String("conversation_id", conversationID),
		zap.String("kind", string(kind)),
		zap.String("text", truncate(text, 50)))
	return msg, nil
}

// classify maps a bubble to a message kind using class-attribute markers.
// Unknown non-text content falls back to KindOther so new remote content
// types fail safely.
func classify(b Bubble) chat.MessageKind {
	class := strings.ToLower(b.Class)
	switch {
	case strings.Contains(class, "sticker"):
		return chat.KindSticker
	case strings.Contains(class, "image") || strings.Contains(class, "photo"):
		return chat.KindImage
	case strings.Contains(class, "order"):
		return chat.KindOrder
	case strings.Contains(class, "item") || strings.Contains(class, "product"):
		return chat.KindItem
	case strings.TrimSpace(b.Text) == "":
		return chat.KindOther
	default:
		return chat.KindText
	}
}

// normalize trims and collapses internal whitespace runs so the dedup hash is
// stable across rendering differences.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
