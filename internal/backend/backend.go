// Package backend turns an inbound customer message, the conversation
// history and the knowledge base into a reply. Providers are swappable; all
// provider failures surface as ErrBackend so the engine can fall back to a
// canned reply rather than leaving the customer unanswered.
package backend

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shopclerk/shopclerk/internal/chat"
	"github.com/shopclerk/shopclerk/internal/config"
)

// ErrBackend wraps every provider-side failure, including exhausted retries.
var ErrBackend = errors.New("reply backend error")

// FallbackReply is sent when the backend fails, so the customer still gets
// an acknowledgment.
const FallbackReply = "您好，我們已收到您的訊息，客服人員會盡快為您處理，謝謝！"

// Request carries everything a provider needs to produce one reply.
type Request struct {
	SystemPrompt string
	Knowledge    string
	History      []chat.Turn
	Message      string
}

// Generator produces one reply for a request. Implementations must return
// errors wrapping ErrBackend for provider-side failures.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// RateLimited wraps a Generator with a client-side requests-per-minute cap
// so a burst of unread conversations does not trip provider quotas.
type RateLimited struct {
	next    Generator
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRateLimited builds the wrapper. requestsPerMinute <= 0 disables the cap.
func NewRateLimited(next Generator, requestsPerMinute float64, logger *zap.Logger) *RateLimited {
	var limiter *rate.Limiter
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), 1)
	}
	return &RateLimited{next: next, limiter: limiter, logger: logger.Named("backend.ratelimit")}
}

// Generate waits for a limiter token, then delegates.
func (r *RateLimited) Generate(ctx context.Context, req Request) (string, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return r.next.Generate(ctx, req)
}

// New builds the configured provider wrapped in the rate limiter.
func New(cfg config.BackendConfig, logger *zap.Logger) (Generator, error) {
	var (
		gen Generator
		err error
	)
	switch cfg.Provider {
	case config.ProviderGemini:
		gen, err = NewGemini(cfg, logger)
	case config.ProviderOpenAI:
		gen, err = NewOpenAI(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewRateLimited(gen, cfg.RequestsPerMinute, logger), nil
}
