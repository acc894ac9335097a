// Package browser owns the driven Chrome instance. A Session wraps the
// chromedp allocator and tab context and exposes the small query and input
// surfaces the locator, extractor and humanoid layers are written against.
// The profile directory is persistent so a manual login survives restarts.
package browser

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/shopclerk/shopclerk/internal/config"
	"github.com/shopclerk/shopclerk/internal/extractor"
)

// stealthScript hides the obvious automation fingerprints before any page
// script runs. The chat console refuses service to detected bots.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['zh-TW', 'zh', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = window.chrome || { runtime: {} };
`

// Session is a live browser tab attached to the chat console.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewSession launches Chrome with the configured profile and injects the
// stealth script. The caller must Close the session.
func NewSession(parent context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	if cfg.UserDataDir != "" {
		if err := os.MkdirAll(cfg.UserDataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create user data dir: %w", err)
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.UserDataDir(cfg.UserDataDir),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.Locale != "" {
		opts = append(opts, chromedp.Flag("lang", cfg.Locale))
	}
	if cfg.Timezone != "" {
		opts = append(opts, chromedp.Env("TZ="+cfg.Timezone))
	}
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
		logger:      logger.Named("browser"),
	}

	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		return err
	}))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	s.logger.Info("Browser session started.",
		zap.Bool("headless", cfg.Headless), zap.String("profile", cfg.UserDataDir))
	return s, nil
}

// Close tears down the tab and the browser process.
func (s *Session) Close() {
	s.cancel()
	s.allocCancel()
}

// run executes actions on the session tab, honoring the caller's deadline
// and cancellation.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads the given URL and waits for the document to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Reload refreshes the current page.
func (s *Session) Reload(ctx context.Context) error {
	if err := s.run(ctx, chromedp.Reload()); err != nil {
		return fmt.Errorf("failed to reload page: %w", err)
	}
	return nil
}

// Location returns the tab's current URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// CountVisible waits up to timeout for at least one visible match of the
// selector and returns how many there are. A timeout with zero matches is
// not an error; the count is simply zero.
func (s *Session) CountVisible(ctx context.Context, selector string, timeout time.Duration) (int, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to wait for %q: %w", selector, err)
	}

	var count int
	err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).filter(el => el.offsetParent !== null).length`,
		selector), &count))
	if err != nil {
		return 0, fmt.Errorf("failed to count %q: %w", selector, err)
	}
	return count, nil
}

// Bubbles reads the text and class attribute of every element matching the
// selector, in document order.
func (s *Session) Bubbles(ctx context.Context, selector string) ([]extractor.Bubble, error) {
	var bubbles []extractor.Bubble
	err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(el => ({
			text: el.innerText || '',
			class: el.className || ''
		}))`, selector), &bubbles))
	if err != nil {
		return nil, fmt.Errorf("failed to read bubbles for %q: %w", selector, err)
	}
	return bubbles, nil
}

// Click clicks the first visible element matching the selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to click %q: %w", selector, err)
	}
	return nil
}

// SendText types text into the currently focused element.
func (s *Session) SendText(ctx context.Context, text string) error {
	err := s.run(ctx, chromedp.SendKeys("document.activeElement", text, chromedp.ByJSPath))
	if err != nil {
		return fmt.Errorf("failed to send keys: %w", err)
	}
	return nil
}

// Backspace deletes one character from the currently focused element.
func (s *Session) Backspace(ctx context.Context) error {
	err := s.run(ctx, chromedp.SendKeys("document.activeElement", kb.Backspace, chromedp.ByJSPath))
	if err != nil {
		return fmt.Errorf("failed to send backspace: %w", err)
	}
	return nil
}

// Hover moves the pointer to the center of the element without pressing.
func (s *Session) Hover(ctx context.Context, selector string) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var center []float64
		err := chromedp.Evaluate(fmt.Sprintf(`(() => {
			const el = document.querySelector(%q);
			if (!el) return [];
			const r = el.getBoundingClientRect();
			return [r.left + r.width / 2, r.top + r.height / 2];
		})()`, selector), &center).Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve %q: %w", selector, err)
		}
		if len(center) != 2 {
			return fmt.Errorf("element %q not found for hover", selector)
		}
		return chromedp.MouseEvent(input.MouseMoved, center[0], center[1]).Do(ctx)
	}))
}
