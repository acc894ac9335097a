// Package chat defines the core message and conversation types shared by the
// extractor, stores, reply backend and poll engine.
package chat

import "time"

// MessageKind classifies the content of an inbound message. Unknown remote
// content types map to KindOther instead of being mis-extracted as text.
type MessageKind string

const (
	KindText    MessageKind = "text"
	KindImage   MessageKind = "image"
	KindSticker MessageKind = "sticker"
	KindOrder   MessageKind = "order"
	KindItem    MessageKind = "item"
	KindOther   MessageKind = "other"
)

// Placeholder returns the short bracketed text substituted for non-text
// content when it enters the dedup and history pipelines.
func (k MessageKind) Placeholder() string {
	switch k {
	case KindImage:
		return "[image message]"
	case KindSticker:
		return "[sticker message]"
	case KindOrder:
		return "[order message]"
	case KindItem:
		return "[item message]"
	case KindOther:
		return "[unsupported message]"
	default:
		return ""
	}
}

// IsText reports whether the message carries free text the reply backend can
// reason over. Non-text kinds receive a fixed acknowledgment instead.
func (k MessageKind) IsText() bool {
	return k == KindText
}

// Role tags one side of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message in a conversation's rolling context window.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// InboundMessage is the per-cycle snapshot of the newest buyer message in the
// currently open conversation. It is derived fresh every cycle and never
// persisted as-is.
type InboundMessage struct {
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id,omitempty"`
	Text           string      `json:"text"`
	Kind           MessageKind `json:"kind"`
	ObservedAt     time.Time   `json:"observed_at"`
}

// PipelineText returns the text that flows into dedup and history: the raw
// text for text messages, the kind placeholder otherwise.
func (m *InboundMessage) PipelineText() string {
	if m.Kind.IsText() {
		return m.Text
	}
	return m.Kind.Placeholder()
}
