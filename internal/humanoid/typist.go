// Package humanoid paces browser input like a person at a keyboard: per-key
// delays, occasional hesitation, the odd corrected typo and a hover before
// the send click. Chat platforms flag instant paste-and-send patterns, so
// every reply goes through this layer.
package humanoid

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/shopclerk/shopclerk/internal/config"
)

// Executor is the minimal browser surface the typist drives. The engine
// wires in the chromedp-backed implementation; tests use a recorder.
type Executor interface {
	// Click clicks the first visible element matching selector.
	Click(ctx context.Context, selector string) error
	// SendText types text into the focused element.
	SendText(ctx context.Context, text string) error
	// Backspace deletes one character from the focused element.
	Backspace(ctx context.Context) error
	// Hover moves the pointer onto the element without pressing.
	Hover(ctx context.Context, selector string) error
}

// Typist sequences the input actions for one outgoing reply.
type Typist struct {
	exec   Executor
	cfg    config.TimingConfig
	logger *zap.Logger

	// Injected for deterministic tests.
	rng   *rand.Rand
	sleep func(time.Duration)
}

// New builds a typist seeded from the clock.
func New(exec Executor, cfg config.TimingConfig, logger *zap.Logger) *Typist {
	return &Typist{
		exec:   exec,
		cfg:    cfg,
		logger: logger.Named("humanoid"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  time.Sleep,
	}
}

// TypeAndSend focuses the input, types the reply character by character and
// clicks send. Once typing has begun the sequence runs to completion; the
// caller decides whether to start it at all during shutdown.
func (t *Typist) TypeAndSend(ctx context.Context, inputSelector, sendSelector, text string) error {
	if err := t.exec.Click(ctx, inputSelector); err != nil {
		return fmt.Errorf("failed to focus input: %w", err)
	}
	t.sleep(t.between(300*time.Millisecond, 600*time.Millisecond))

	runes := []rune(text)
	for i, r := range runes {
		t.sleep(t.between(t.cfg.CharDelayMin, t.cfg.CharDelayMax))

		if t.rng.Float64() < t.cfg.ThinkPauseProbability {
			t.sleep(t.between(400*time.Millisecond, 800*time.Millisecond))
		}

		// Never fumble the last character; the correction would race the
		// send click.
		if t.cfg.TypoSimulation && i < len(runes)-1 && t.rng.Float64() < t.cfg.TypoProbability {
			if err := t.fumble(ctx); err != nil {
				return err
			}
		}

		if err := t.exec.SendText(ctx, string(r)); err != nil {
			return fmt.Errorf("failed to type character: %w", err)
		}
	}

	t.sleep(t.between(t.cfg.PreSendWaitMin, t.cfg.PreSendWaitMax))

	if err := t.exec.Hover(ctx, sendSelector); err != nil {
		t.logger.Debug("Hover before send failed, clicking anyway.", zap.Error(err))
	}
	t.sleep(t.between(100*time.Millisecond, 300*time.Millisecond))

	if err := t.exec.Click(ctx, sendSelector); err != nil {
		return fmt.Errorf("failed to click send: %w", err)
	}
	return nil
}

// fumble types a stray lowercase letter, notices it and backspaces.
func (t *Typist) fumble(ctx context.Context) error {
	wrong := rune('a' + t.rng.Intn(26))
	if err := t.exec.SendText(ctx, string(wrong)); err != nil {
		return fmt.Errorf("failed to type character: %w", err)
	}
	t.sleep(t.between(200*time.Millisecond, 400*time.Millisecond))

	if err := t.exec.Backspace(ctx); err != nil {
		return fmt.Errorf("failed to correct typo: %w", err)
	}
	t.sleep(t.between(100*time.Millisecond, 200*time.Millisecond))
	return nil
}

// between draws a uniform duration from [min, max].
func (t *Typist) between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(t.rng.Int63n(int64(max-min)+1))
}
