// Package locator resolves logical UI roles (input box, send button, unread
// indicator, ...) to concrete selectors by walking an ordered fallback chain
// of matching rules. The remote console's markup is not contractually stable,
// so resilience comes from graceful degradation across the chain rather than
// from a single brittle selector.
package locator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Role names a logical UI target on the chat console.
type Role string

const (
	RoleUnreadIndicator  Role = "unread-indicator"
	RoleConversationItem Role = "conversation-item"
	RoleInputBox         Role = "input-box"
	RoleSendButton       Role = "send-button"
	RoleMessageList      Role = "message-list"
	RoleInboundBubble    Role = "inbound-bubble"
)

// ErrNotFound reports that no rule matched within the overall timeout. The
// caller treats this as "feature currently absent", not as a fatal error.
var ErrNotFound = errors.New("locator: no rule matched")

// Handle is the result of a successful Locate: the rule that won and how many
// elements it matched.
type Handle struct {
	Role     Role
	Selector string
	Count    int
}

// Querier abstracts element matching against the live page so the fallback
// logic can be tested against fakes.
type Querier interface {
	// CountVisible waits up to timeout for the selector to have at least one
	// visible match and returns the number of matches. A zero count with a
	// nil error means the selector matched nothing in time.
	CountVisible(ctx context.Context, selector string, timeout time.Duration) (int, error)
}

// Strategy holds the per-role rule chains, most specific first.
type Strategy struct {
	querier     Querier
	logger      *zap.Logger
	rules       map[Role][]string
	ruleTimeout time.Duration
	timeout     time.Duration
}

// Option customizes a Strategy.
type Option func(*Strategy)

// WithRules replaces the rule chain for one role.
func WithRules(role Role, selectors ...string) Option {
	return func(s *Strategy) { s.rules[role] = selectors }
}

// WithTimeouts sets the per-rule and overall locate timeouts.
func WithTimeouts(perRule, overall time.Duration) Option {
	return func(s *Strategy) {
		s.ruleTimeout = perRule
		s.timeout = overall
	}
}

// New builds a Strategy with the default rule chains.
func New(querier Querier, logger *zap.Logger, opts ...Option) *Strategy {
	s := &Strategy{
		querier:     querier,
		logger:      logger.Named("locator"),
		rules:       defaultRules(),
		ruleTimeout: 800 * time.Millisecond,
		timeout:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Locate tries each rule for the role in order and returns the first that
// matches a visible element. All rules exhausted within the overall timeout
// yields ErrNotFound.
func (s *Strategy) Locate(ctx context.Context, role Role) (Handle, error) {
	chain, ok := s.rules[role]
	if !ok || len(chain) == 0 {
		return Handle{}, fmt.Errorf("locator: no rules registered for role %q", role)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for i, selector := range chain {
		if err := ctx.Err(); err != nil {
			break
		}

		count, err := s.querier.CountVisible(ctx, selector, s.ruleTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Debug("Rule query failed, trying next",
				zap.String("role", string(role)),
				zap.String("selector", selector),
				zap.Error(err))
			continue
		}
		if count > 0 {
			s.logger.Debug("Element located",
				zap.String("role", string(role)),
				zap.String("selector", selector),
				zap.Int("rank", i),
				zap.Int("count", count))
			return Handle{Role: role, Selector: selector, Count: count}, nil
		}
	}

	s.logger.Debug("Element not located", zap.String("role", string(role)))
	return Handle{}, fmt.Errorf("%w: role %q", ErrNotFound, role)
}

// defaultRules returns the built-in fallback chains, ordered most specific
// first and loosest last. The specific entries track the seller console's
// observed markup; the tail entries are deliberately generic.
func defaultRules() map[Role][]string {
	return map[Role][]string{
		RoleUnreadIndicator: {
			`[class*="unread"]`,
			`[class*="has-new"], [class*="new-message"], [class*="hasUnread"]`,
			`.unread-badge, [class*="badge"], [class*="unread-count"], [class*="msg-count"]`,
		},
		RoleConversationItem: {
			`.chat-item, [class*="conversation-item"], [class*="chatItem"], [class*="chat_item"]`,
			`.chat-list-item, [data-testid="chat-list-item"]`,
		},
		RoleInputBox: {
			`textarea[class*="input"], input[class*="message"], .chat-input, [class*="editor"], [class*="textArea"]`,
			`[data-testid="message-input"]`,
			`textarea, [contenteditable="true"], input[type="text"]`,
		},
		RoleSendButton: {
			`button[class*="send"], [class*="send-btn"], [class*="sendBtn"]`,
			`[data-testid="send-button"]`,
			`button[type="submit"], [class*="submit"]`,
		},
		RoleMessageList: {
			`.message-list, [class*="message-container"], [class*="chatContent"]`,
			`.chat-window, .conversation-panel`,
		},
		RoleInboundBubble: {
			`[class*="buyer"], [class*="customer"]`,
			`[class*="received"], .incoming-message`,
			`[class*="left"], [class*="other"]`,
		},
	}
}
