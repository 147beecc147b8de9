// Package browser drives one live Chrome tab over the DevTools protocol and
// implements the schemas.Page contract on top of it. Elements are addressed
// exclusively through accessibility data (role, accessible name, ordinal);
// the package never accepts or produces CSS selectors or XPath for agent
// actions.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/config"
	"github.com/xkilldash9x/scout-cli/internal/observability"
)

// Fallbacks for timeouts the config leaves unset.
const (
	defaultNavigationTimeout = 45 * time.Second
	defaultActionTimeout     = 15 * time.Second
	defaultStabilityTimeout  = 5 * time.Second
	shutdownTimeout          = 10 * time.Second
)

// Session owns a Chrome process and the single tab the agent works in. All
// page operations run under both the caller's context and the session
// lifetime, bounded by the configured per-operation timeouts.
type Session struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	mu     sync.Mutex
	closed bool
}

var _ schemas.Page = (*Session)(nil)

// allocatorOptions translates the browser config into chromedp allocator
// options. The list is built explicitly instead of from
// chromedp.DefaultExecAllocatorOptions because the defaults force headless
// mode, which must stay a config decision.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("enable-automation", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.IgnoreCertErrors)
	}
	return opts
}

// NewSession launches Chrome and opens the working tab. The given context
// scopes the browser process: when it ends, the process goes with it.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		logger:      logger.Named("browser"),
		cfg:         cfg,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}

	// Connect eagerly so a missing or broken Chrome binary surfaces here
	// instead of on the first observation.
	launchCtx, cancel := context.WithTimeout(tabCtx, s.navigationTimeout())
	defer cancel()
	if err := chromedp.Run(launchCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	s.logger.Info("Browser session started",
		zap.Bool("headless", cfg.Headless),
		zap.Int("window_width", cfg.WindowWidth),
		zap.Int("window_height", cfg.WindowHeight),
	)
	return s, nil
}

// combineContext derives a context from primary that also ends when
// secondary ends. The derived context inherits primary's values, which is
// what carries the CDP target handle through chromedp calls.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// opContext builds the execution context for one page operation: it carries
// the tab's CDP target, ends when the caller's context ends, and is bounded
// by the operation timeout.
func (s *Session) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	combined, cancel := combineContext(s.tabCtx, ctx)
	if timeout <= 0 {
		return combined, cancel
	}
	timed, timedCancel := context.WithTimeout(combined, timeout)
	return timed, func() {
		timedCancel()
		cancel()
	}
}

// run executes chromedp actions under the caller's context and the given
// timeout. Timeout failures come back wrapping context.DeadlineExceeded so
// callers can classify them; caller cancellation comes back as the caller's
// own context error.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := s.opContext(ctx, timeout)
	defer cancel()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if runCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("timed out after %s: %w", timeout, context.DeadlineExceeded)
		}
		return err
	}
	return nil
}

// URL returns the current document URL.
func (s *Session) URL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, s.actionTimeout(), chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read page URL: %w", err)
	}
	return url, nil
}

// Title returns the current document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, s.actionTimeout(), chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read page title: %w", err)
	}
	return title, nil
}

// AccessibilityTree fetches the full accessibility tree and returns it in
// the serialized nested form the observation parser consumes.
func (s *Session) AccessibilityTree(ctx context.Context) (string, error) {
	var nodes []*axNode
	err := s.run(ctx, s.actionTimeout(), chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		nodes, err = fetchAXNodes(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("failed to fetch accessibility tree: %w", err)
	}
	return serializeAXTree(nodes)
}

// VisibleText returns the rendered text of the document body.
func (s *Session) VisibleText(ctx context.Context) (string, error) {
	var text string
	err := s.run(ctx, s.actionTimeout(),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text),
	)
	if err != nil {
		return "", fmt.Errorf("failed to read visible text: %w", err)
	}
	return text, nil
}

// HTML returns the serialized DOM of the current document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.actionTimeout(), chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page HTML: %w", err)
	}
	return html, nil
}

// Navigate loads the URL and reports the HTTP status of the main response.
// A nil response with no error, as happens on same-document jumps, reports
// status zero.
func (s *Session) Navigate(ctx context.Context, url string) (int, error) {
	timeout := s.navigationTimeout()
	runCtx, cancel := s.opContext(ctx, timeout)
	defer cancel()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if runCtx.Err() == context.DeadlineExceeded {
			s.logger.Warn("Navigation timed out",
				observability.ErrID(observability.ErrNavigate),
				zap.String("url", url),
				zap.Duration("timeout", timeout),
			)
			return 0, fmt.Errorf("navigation to %s timed out after %s: %w", url, timeout, context.DeadlineExceeded)
		}
		return 0, fmt.Errorf("navigation to %s failed: %w", url, err)
	}

	if resp == nil {
		s.logger.Debug("Navigation produced no response", zap.String("url", url))
		return 0, nil
	}
	s.logger.Debug("Navigated",
		zap.String("url", url),
		zap.Int64("status", resp.Status),
	)
	return int(resp.Status), nil
}

// Click resolves the locator against the live accessibility tree and clicks
// the center of the matched element.
func (s *Session) Click(ctx context.Context, loc schemas.Locator) error {
	err := s.run(ctx, s.actionTimeout(), chromedp.ActionFunc(func(ctx context.Context) error {
		id, err := resolveLocator(ctx, loc)
		if err != nil {
			return err
		}
		return clickNode(ctx, id)
	}))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("Click timed out",
				observability.ErrID(observability.ErrClickTimeout),
				zap.String("locator", loc.String()),
			)
		}
		return fmt.Errorf("click %s: %w", loc, err)
	}
	s.logger.Debug("Clicked element", zap.String("locator", loc.String()))
	return nil
}

// Fill resolves the locator, replaces the field's current contents, and
// inserts the text.
func (s *Session) Fill(ctx context.Context, loc schemas.Locator, text string) error {
	err := s.run(ctx, s.actionTimeout(), chromedp.ActionFunc(func(ctx context.Context) error {
		id, err := resolveLocator(ctx, loc)
		if err != nil {
			return err
		}
		return fillNode(ctx, id, text)
	}))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("Fill timed out",
				observability.ErrID(observability.ErrTypeTimeout),
				zap.String("locator", loc.String()),
			)
		}
		return fmt.Errorf("fill %s: %w", loc, err)
	}
	s.logger.Debug("Filled element",
		zap.String("locator", loc.String()),
		zap.Int("text_length", len(text)),
	)
	return nil
}

// Press sends a keyboard key to whatever holds focus. Key names such as
// "Enter" or "ArrowDown" map to their control characters; anything else is
// typed literally.
func (s *Session) Press(ctx context.Context, key string) error {
	if err := s.run(ctx, s.actionTimeout(), chromedp.KeyEvent(resolveKey(key))); err != nil {
		return fmt.Errorf("press %q: %w", key, err)
	}
	s.logger.Debug("Pressed key", zap.String("key", key))
	return nil
}

// Scroll scrolls the document by the given deltas in CSS pixels.
func (s *Session) Scroll(ctx context.Context, dx, dy int) error {
	script := fmt.Sprintf(`window.scrollBy({left: %d, top: %d, behavior: "auto"});`, dx, dy)
	if err := s.run(ctx, s.actionTimeout(), chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("scroll by (%d, %d): %w", dx, dy, err)
	}
	return nil
}

// stabilityJS resolves once the document reaches readyState complete.
const stabilityJS = `new Promise((resolve) => {
	if (document.readyState === "complete") { resolve(true); return; }
	window.addEventListener("load", () => resolve(true), { once: true });
})`

// WaitForStability blocks until the document finishes loading, bounded by
// the stability timeout. Hitting the bound is not an error; stability is
// best effort by contract.
func (s *Session) WaitForStability(ctx context.Context) error {
	timeout := s.stabilityTimeout()
	runCtx, cancel := s.opContext(ctx, timeout)
	defer cancel()

	var ready bool
	err := chromedp.Run(runCtx,
		chromedp.Evaluate(stabilityJS, &ready, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if runCtx.Err() == context.DeadlineExceeded {
			s.logger.Debug("Stability wait hit its bound", zap.Duration("timeout", timeout))
			return nil
		}
		return fmt.Errorf("stability wait failed: %w", err)
	}
	return nil
}

// Sleep pauses for the duration without touching the browser, honoring
// context cancellation.
func (s *Session) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Screenshot captures the current viewport as PNG bytes.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, s.actionTimeout(), chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// Close shuts the browser down, gracefully first and forcibly after
// shutdownTimeout. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := chromedp.Cancel(s.tabCtx); err != nil {
			s.logger.Debug("Graceful browser shutdown reported an error", zap.Error(err))
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Browser shutdown interrupted, forcing cancel")
	case <-time.After(shutdownTimeout):
		s.logger.Warn("Browser shutdown timed out, forcing cancel")
	}

	s.tabCancel()
	s.allocCancel()
	s.logger.Info("Browser session closed")
	return nil
}

// resolveLocator fetches a fresh accessibility tree and resolves the locator
// within it. Resolution is always against the live tree: a locator minted
// from an earlier snapshot still finds its element after a re-render as long
// as role, name, and ordinal held.
func resolveLocator(ctx context.Context, loc schemas.Locator) (cdp.BackendNodeID, error) {
	nodes, err := fetchAXNodes(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch accessibility tree: %w", err)
	}
	return resolveBackendID(nodes, loc)
}

// clickNode scrolls the node into view and clicks the center of its content
// box. Content quads come back in viewport coordinates, which is the space
// mouse events dispatch in.
func clickNode(ctx context.Context, id cdp.BackendNodeID) error {
	if err := dom.ScrollIntoViewIfNeeded().WithBackendNodeID(id).Do(ctx); err != nil {
		return fmt.Errorf("could not scroll element into view: %w", err)
	}
	quads, err := dom.GetContentQuads().WithBackendNodeID(id).Do(ctx)
	if err != nil {
		return fmt.Errorf("element has no content box: %w", err)
	}
	x, y, ok := quadCenter(quads)
	if !ok {
		return errors.New("element has an empty content box")
	}
	return chromedp.MouseClickXY(x, y).Do(ctx)
}

// quadCenter returns the center of the first non-degenerate quad.
func quadCenter(quads []dom.Quad) (x, y float64, ok bool) {
	for _, q := range quads {
		if len(q) < 8 {
			continue
		}
		cx := (q[0] + q[2] + q[4] + q[6]) / 4
		cy := (q[1] + q[3] + q[5] + q[7]) / 4
		width := maxFloat(q[0], q[2], q[4], q[6]) - minFloat(q[0], q[2], q[4], q[6])
		height := maxFloat(q[1], q[3], q[5], q[7]) - minFloat(q[1], q[3], q[5], q[7])
		if width > 0 && height > 0 {
			return cx, cy, true
		}
	}
	return 0, 0, false
}

func minFloat(vals ...float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxFloat(vals ...float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// fillNode focuses the node, selects its current contents, and inserts the
// replacement text through the input domain so the page sees native input
// events.
func fillNode(ctx context.Context, id cdp.BackendNodeID, text string) error {
	if err := dom.ScrollIntoViewIfNeeded().WithBackendNodeID(id).Do(ctx); err != nil {
		return fmt.Errorf("could not scroll element into view: %w", err)
	}
	if err := dom.Focus().WithBackendNodeID(id).Do(ctx); err != nil {
		return fmt.Errorf("could not focus element: %w", err)
	}
	if err := chromedp.Evaluate(`document.execCommand("selectAll")`, nil).Do(ctx); err != nil {
		return fmt.Errorf("could not select field contents: %w", err)
	}
	if err := input.InsertText(text).Do(ctx); err != nil {
		return fmt.Errorf("could not insert text: %w", err)
	}
	return nil
}

// keyAliases maps the key names the model uses to the control characters the
// kb package dispatches. Lookup is case-insensitive.
var keyAliases = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"del":        kb.Delete,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"space":      " ",
	"arrowup":    kb.ArrowUp,
	"up":         kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"down":       kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"left":       kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"right":      kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
}

func resolveKey(key string) string {
	if mapped, ok := keyAliases[strings.ToLower(strings.TrimSpace(key))]; ok {
		return mapped
	}
	return key
}

func (s *Session) navigationTimeout() time.Duration {
	if s.cfg.NavigationTimeout > 0 {
		return s.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

func (s *Session) actionTimeout() time.Duration {
	if s.cfg.ActionTimeout > 0 {
		return s.cfg.ActionTimeout
	}
	return defaultActionTimeout
}

func (s *Session) stabilityTimeout() time.Duration {
	if s.cfg.StabilityTimeout > 0 {
		return s.cfg.StabilityTimeout
	}
	return defaultStabilityTimeout
}
