// Package engine runs the polling-and-reply control loop: discover unread
// conversations, extract the newest buyer message, deduplicate, generate a
// reply and deliver it through the human-interaction layer. The loop is a
// small state machine built to run unattended; per-conversation failures
// are contained and only an expired login wait stops it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopclerk/shopclerk/internal/backend"
	"github.com/shopclerk/shopclerk/internal/chat"
	"github.com/shopclerk/shopclerk/internal/config"
	"github.com/shopclerk/shopclerk/internal/locator"
)

// State labels one phase of the control loop, for logs and tests.
type State string

const (
	StateInit         State = "INIT"
	StateNavigate     State = "NAVIGATE"
	StateAuthWait     State = "AUTH_WAIT"
	StatePolling      State = "POLLING"
	StateProcessing   State = "PROCESSING"
	StateErrorBackoff State = "ERROR_BACKOFF"
	StateShutdown     State = "SHUTDOWN"
)

// ackReply answers image, sticker, order and item messages; the backend
// only reasons over text.
const ackReply = "收到您的訊息了！如有任何問題，歡迎隨時留言，我們會盡快回覆您。"

// conversationIDPattern matches the numeric conversation id embedded in the
// console URL.
var conversationIDPattern = regexp.MustCompile(`\d{10,}`)

// Browser is the navigation surface the engine drives.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Location(ctx context.Context) (string, error)
	Click(ctx context.Context, selector string) error
}

// Locator resolves logical page roles; satisfied by *locator.Strategy.
type Locator interface {
	Locate(ctx context.Context, role locator.Role) (locator.Handle, error)
}

// Extractor reads the newest inbound message of the open conversation.
type Extractor interface {
	LatestInbound(ctx context.Context, conversationID string) (*chat.InboundMessage, error)
}

// Dedup is the persistent already-answered set.
type Dedup interface {
	IsDuplicate(ctx context.Context, conversationID, text string) (bool, error)
	MarkSeen(ctx context.Context, conversationID, text string) error
}

// History is the bounded per-conversation turn store.
type History interface {
	History(ctx context.Context, conversationID string) ([]chat.Turn, error)
	Append(ctx context.Context, conversationID string, role chat.Role, content string) error
}

// Stats receives the loop's counters.
type Stats interface {
	RecordStart(ctx context.Context) error
	RecordProcessed(ctx context.Context) error
	RecordReply(ctx context.Context) error
	RecordError(ctx context.Context) error
	Summary(ctx context.Context) (string, error)
}

// Typist delivers one reply through the browser with human pacing.
type Typist interface {
	TypeAndSend(ctx context.Context, inputSelector, sendSelector, text string) error
}

// Knowledge supplies the merged knowledge-base text for prompts.
type Knowledge interface {
	Text() string
}

// Engine wires the components into the poll loop.
type Engine struct {
	browser   Browser
	locator   Locator
	extractor Extractor
	dedup     Dedup
	history   History
	stats     Stats
	generator backend.Generator
	typist    Typist
	knowledge Knowledge

	consoleURL   string
	systemPrompt string
	timing       config.TimingConfig
	cfg          config.EngineConfig
	logger       *zap.Logger

	// last is the most recent state handed to transition; transitions are
	// only logged when the state actually changes.
	last State

	// Injected for deterministic tests.
	rng   *rand.Rand
	now   func() time.Time
	newID func() string
	sleep func(ctx context.Context, d time.Duration) bool
}

// Deps collects the engine's collaborators.
type Deps struct {
	Browser   Browser
	Locator   Locator
	Extractor Extractor
	Dedup     Dedup
	History   History
	Stats     Stats
	Generator backend.Generator
	Typist    Typist
	Knowledge Knowledge
}

// New builds an engine from its collaborators and configuration.
func New(deps Deps, cfg *config.Config, logger *zap.Logger) *Engine {
	e := &Engine{
		browser:      deps.Browser,
		locator:      deps.Locator,
		extractor:    deps.Extractor,
		dedup:        deps.Dedup,
		history:      deps.History,
		stats:        deps.Stats,
		generator:    deps.Generator,
		typist:       deps.Typist,
		knowledge:    deps.Knowledge,
		consoleURL:   cfg.Console.URL,
		systemPrompt: cfg.Backend.SystemPrompt,
		timing:       cfg.Timing,
		cfg:          cfg.Engine,
		logger:       logger.Named("engine"),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		now:          time.Now,
		newID:        uuid.NewString,
	}
	e.sleep = e.sliceSleep
	return e
}

// Run drives the state machine until the context is cancelled or the login
// wait expires. Cancellation returns nil; only fatal conditions return an
// error.
func (e *Engine) Run(ctx context.Context) error {
	e.transition(StateInit)
	if err := e.stats.RecordStart(ctx); err != nil {
		e.logger.Warn("Failed to record start time.", zap.Error(err))
	}

	state := StateNavigate
	cycle := 0

	for {
		if ctx.Err() != nil {
			e.transition(StateShutdown)
			return nil
		}

		switch state {
		case StateNavigate:
			e.transition(StateNavigate)
			if err := e.browser.Navigate(ctx, e.consoleURL); err != nil {
				if ctx.Err() != nil {
					continue
				}
				e.logger.Error("Failed to open chat console.", zap.Error(err))
				e.recordError(ctx, fmt.Errorf("%w: %v", ErrNavigation, err))
				state = StateErrorBackoff
				continue
			}
			state = StateAuthWait

		case StateAuthWait:
			e.transition(StateAuthWait)
			if err := e.waitForAuth(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				e.transition(StateShutdown)
				return err
			}
			state = StatePolling

		case StatePolling:
			e.transition(StatePolling)
			cycle++
			if e.cfg.StatsEvery > 0 && cycle%e.cfg.StatsEvery == 0 {
				e.emitSummary(ctx)
			}

			handle, err := e.locator.Locate(ctx, locator.RoleUnreadIndicator)
			switch {
			case errors.Is(err, locator.ErrNotFound):
				// Nothing unread. Sleep out the jittered interval and
				// refresh so new messages surface.
				if !e.sleep(ctx, e.between(e.timing.PollIntervalMin, e.timing.PollIntervalMax)) {
					continue
				}
				if err := e.browser.Reload(ctx); err != nil && ctx.Err() == nil {
					e.logger.Warn("Page reload failed.", zap.Error(err))
					e.recordError(ctx, fmt.Errorf("%w: %v", ErrNavigation, err))
					state = StateErrorBackoff
				}
			case err != nil:
				if ctx.Err() != nil {
					continue
				}
				e.recordError(ctx, err)
				state = StateErrorBackoff
			default:
				e.logger.Info("Unread conversations found.", zap.Int("count", handle.Count))
				e.processUnread(ctx, handle)
				state = StatePolling
			}

		case StateErrorBackoff:
			e.transition(StateErrorBackoff)
			e.sleep(ctx, e.cfg.ErrorBackoff)
			state = StatePolling
		}
	}
}

// waitForAuth blocks until the console is past the login screen, polling on
// a fixed cadence up to the configured bound.
func (e *Engine) waitForAuth(ctx context.Context) error {
	deadline := e.now().Add(e.cfg.AuthWaitTimeout)
	announced := false

	for {
		loggedIn, err := e.isAuthenticated(ctx)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if loggedIn {
			e.logger.Info("Chat console ready.")
			return nil
		}
		if !announced {
			e.logger.Warn("Login required. Waiting for the operator to sign in...",
				zap.Duration("timeout", e.cfg.AuthWaitTimeout))
			announced = true
		}
		if e.now().After(deadline) {
			return ErrFatalAuthTimeout
		}
		if !e.sleep(ctx, e.cfg.AuthPollEvery) {
			return ctx.Err()
		}
	}
}

// isAuthenticated treats a reachable message input box on a non-login URL
// as the signal that the operator session is live.
func (e *Engine) isAuthenticated(ctx context.Context) (bool, error) {
	url, err := e.browser.Location(ctx)
	if err != nil {
		return false, err
	}
	lower := strings.ToLower(url)
	if strings.Contains(lower, "login") || strings.Contains(lower, "signin") {
		return false, nil
	}
	if _, err := e.locator.Locate(ctx, locator.RoleInputBox); err != nil {
		if errors.Is(err, locator.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// processUnread walks the unread conversations one at a time. Every error in
// here is conversation-scoped: log, count, move on.
func (e *Engine) processUnread(ctx context.Context, unread locator.Handle) {
	e.transition(StateProcessing)

	for i := 0; i < unread.Count; i++ {
		if ctx.Err() != nil {
			return
		}

		// The list reflows as conversations are read, so always open the
		// first remaining unread item.
		if err := e.browser.Click(ctx, unread.Selector); err != nil {
			e.recordError(ctx, fmt.Errorf("failed to open unread conversation: %w", err))
			return
		}
		e.sleep(ctx, e.between(e.timing.BetweenChatsMin, e.timing.BetweenChatsMax))

		if err := e.processConversation(ctx); err != nil {
			e.recordError(ctx, err)
		}
	}
}

// processConversation runs the full pipeline for the currently open
// conversation: extract, dedup, generate, send, mark, append.
func (e *Engine) processConversation(ctx context.Context) error {
	conversationID := e.resolveConversationID(ctx)
	log := e.logger.With(zap.String("conversation_id", conversationID))

	msg, err := e.extractor.LatestInbound(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	if msg == nil {
		log.Debug("No readable inbound content, skipping.")
		return nil
	}

	text := msg.PipelineText()
	dup, err := e.dedup.IsDuplicate(ctx, conversationID, text)
	if err != nil {
		return fmt.Errorf("dedup check failed: %w", err)
	}
	if dup {
		log.Debug("Message already answered, skipping.", zap.String("text", truncate(text)))
		return nil
	}

	if err := e.stats.RecordProcessed(ctx); err != nil {
		log.Warn("Failed to record processed message.", zap.Error(err))
	}

	reply := e.composeReply(ctx, conversationID, msg, log)

	if err := e.send(ctx, reply); err != nil {
		// Not marked seen; the next cycle retries this message.
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}

	// Mark only after the send succeeded. A crash between the send and
	// this write is the one window where a duplicate reply can happen.
	if err := e.dedup.MarkSeen(ctx, conversationID, text); err != nil {
		return fmt.Errorf("dedup mark failed: %w", err)
	}

	if err := e.history.Append(ctx, conversationID, chat.RoleUser, text); err != nil {
		log.Warn("Failed to append user turn.", zap.Error(err))
	}
	if err := e.history.Append(ctx, conversationID, chat.RoleAssistant, reply); err != nil {
		log.Warn("Failed to append assistant turn.", zap.Error(err))
	}
	if err := e.stats.RecordReply(ctx); err != nil {
		log.Warn("Failed to record reply.", zap.Error(err))
	}

	log.Info("Replied.",
		zap.String("kind", string(msg.Kind)),
		zap.String("message", truncate(text)),
		zap.String("reply", truncate(reply)))
	return nil
}

// composeReply produces the outgoing text: backend for text messages, the
// fixed acknowledgment for everything else, the fallback when the backend
// fails.
func (e *Engine) composeReply(ctx context.Context, conversationID string, msg *chat.InboundMessage, log *zap.Logger) string {
	if !msg.Kind.IsText() {
		return ackReply
	}

	history, err := e.history.History(ctx, conversationID)
	if err != nil {
		log.Warn("Failed to load history, replying without context.", zap.Error(err))
	}

	reply, err := e.generator.Generate(ctx, backend.Request{
		SystemPrompt: e.systemPrompt,
		Knowledge:    e.knowledge.Text(),
		History:      history,
		Message:      msg.Text,
	})
	if err != nil {
		log.Warn("Reply backend failed, using fallback reply.", zap.Error(err))
		e.recordError(ctx, err)
		return backend.FallbackReply
	}
	return strings.TrimSpace(reply)
}

// send locates the input surfaces and delivers the reply. Typing runs on a
// detached context so a stop signal never abandons a half-typed message.
func (e *Engine) send(ctx context.Context, reply string) error {
	input, err := e.locator.Locate(ctx, locator.RoleInputBox)
	if err != nil {
		return fmt.Errorf("input box: %w", err)
	}
	sendBtn, err := e.locator.Locate(ctx, locator.RoleSendButton)
	if err != nil {
		return fmt.Errorf("send button: %w", err)
	}
	return e.typist.TypeAndSend(context.WithoutCancel(ctx), input.Selector, sendBtn.Selector, reply)
}

// resolveConversationID derives a stable id from the console URL; when the
// URL carries no numeric id a random one still isolates this thread's
// dedup and history entries.
func (e *Engine) resolveConversationID(ctx context.Context) string {
	url, err := e.browser.Location(ctx)
	if err == nil {
		if id := conversationIDPattern.FindString(url); id != "" {
			return id
		}
	}
	return e.newID()
}

func (e *Engine) emitSummary(ctx context.Context) {
	summary, err := e.stats.Summary(ctx)
	if err != nil {
		e.logger.Warn("Failed to read stats.", zap.Error(err))
		return
	}
	e.logger.Info("Stats summary.", zap.String("stats", summary))
}

func (e *Engine) recordError(ctx context.Context, err error) {
	e.logger.Error("Cycle error.", zap.Error(err))
	if statErr := e.stats.RecordError(ctx); statErr != nil {
		e.logger.Warn("Failed to record error.", zap.Error(statErr))
	}
}

// transition records a state change; re-entering the current state (every
// poll cycle passes through POLLING) does not log.
func (e *Engine) transition(s State) {
	if s == e.last {
		return
	}
	e.last = s
	e.logger.Debug("State transition.", zap.String("state", string(s)))
}

// sliceSleep waits for d in one-second slices so a stop signal is honored
// within about a second. Returns false when cancelled.
func (e *Engine) sliceSleep(ctx context.Context, d time.Duration) bool {
	const slice = time.Second
	for remaining := d; remaining > 0; remaining -= slice {
		step := slice
		if remaining < slice {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(step):
		}
	}
	return true
}

// between draws a uniform duration from [min, max].
func (e *Engine) between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(e.rng.Int63n(int64(max-min)+1))
}

func truncate(s string) string {
	const max = 80
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
