// Package tools implements the browser actions the agent can take: click,
// type, press, scroll, navigate, wait, extract, and done. Every action
// returns an ActionResult; no registry, page, or gate error ever escapes a
// tool as a raw error. Click and type resolve refs through the registry and
// pass the element's description through the safety gate before touching
// the page.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/observability"
	"github.com/xkilldash9x/scout-cli/internal/registry"
)

const defaultScrollAmount = 500

// Wait durations are clamped to this range so the model cannot stall a task.
const (
	minWaitSeconds = 1
	maxWaitSeconds = 10
)

// Tools executes browser actions on behalf of the agent loop.
type Tools struct {
	logger *zap.Logger
	gate   *Gate
}

// New creates the action toolset. The gate may be nil, which disables the
// safety check entirely; normal construction always passes one.
func New(logger *zap.Logger, gate *Gate) *Tools {
	return &Tools{logger: logger.Named("tools"), gate: gate}
}

// Click clicks the element behind ref. Stale and unknown refs come back as
// failures whose text tells the model to re-observe.
func (t *Tools) Click(ctx context.Context, page schemas.Page, reg *registry.Registry, ref string) schemas.ActionResult {
	element, err := reg.Element(ref)
	if err != nil {
		return lookupFailure(err)
	}

	if blocked := t.checkGate(ctx, element.Role+" "+element.Name); blocked != nil {
		return *blocked
	}

	loc, err := reg.Locator(ref)
	if err != nil {
		return lookupFailure(err)
	}

	if err := page.Click(ctx, loc); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			t.logger.Error("Click timed out",
				observability.ErrID(observability.ErrClickTimeout),
				zap.String("ref", ref),
			)
			return schemas.NewActionFailure(
				fmt.Sprintf("Timeout clicking %s. The element may be hidden or not clickable.", ref), err)
		}
		t.logger.Error("Click failed",
			observability.ErrID(observability.ErrElementInteract),
			zap.String("ref", ref),
			zap.Error(err),
		)
		return schemas.NewActionFailure(fmt.Sprintf("Failed to click %s", ref), err)
	}

	t.logger.Info("Clicked element",
		zap.String("ref", ref),
		zap.String("role", element.Role),
		zap.String("name", element.Name),
	)
	return schemas.NewActionSuccess(fmt.Sprintf("Clicked [%s] %q (%s)", element.Role, element.Name, ref))
}

// Type replaces the content of the input behind ref with text.
func (t *Tools) Type(ctx context.Context, page schemas.Page, reg *registry.Registry, ref, text string) schemas.ActionResult {
	element, err := reg.Element(ref)
	if err != nil {
		return lookupFailure(err)
	}

	if blocked := t.checkGate(ctx, element.Role+" "+element.Name); blocked != nil {
		return *blocked
	}

	loc, err := reg.Locator(ref)
	if err != nil {
		return lookupFailure(err)
	}

	if err := page.Fill(ctx, loc, text); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			t.logger.Error("Typing timed out",
				observability.ErrID(observability.ErrTypeTimeout),
				zap.String("ref", ref),
			)
			return schemas.NewActionFailure(
				fmt.Sprintf("Timeout typing into %s. The element may not be editable.", ref), err)
		}
		t.logger.Error("Typing failed",
			observability.ErrID(observability.ErrElementInteract),
			zap.String("ref", ref),
			zap.Error(err),
		)
		return schemas.NewActionFailure(fmt.Sprintf("Failed to type into %s", ref), err)
	}

	t.logger.Info("Typed into element",
		zap.String("ref", ref),
		zap.String("role", element.Role),
		zap.String("name", element.Name),
		zap.Int("text_len", len(text)),
	)
	return schemas.NewActionSuccess(fmt.Sprintf("Typed %q into [%s] %q (%s)", text, element.Role, element.Name, ref))
}

// Press sends a keyboard key. Enter goes through the safety gate against
// the page title, since Enter can submit whatever form holds focus.
func (t *Tools) Press(ctx context.Context, page schemas.Page, key string) schemas.ActionResult {
	if strings.EqualFold(key, "enter") {
		title, err := page.Title(ctx)
		if err != nil {
			t.logger.Error("Title lookup before Enter failed",
				observability.ErrID(observability.ErrElementInteract),
				zap.Error(err),
			)
			return schemas.NewActionFailure(fmt.Sprintf("Failed to press key %s", key), err)
		}
		if blocked := t.checkGate(ctx, "press Enter on "+title); blocked != nil {
			return *blocked
		}
	}

	if err := page.Press(ctx, key); err != nil {
		t.logger.Error("Key press failed",
			observability.ErrID(observability.ErrElementInteract),
			zap.String("key", key),
			zap.Error(err),
		)
		return schemas.NewActionFailure(fmt.Sprintf("Failed to press key %s", key), err)
	}
	return schemas.NewActionSuccess("Pressed key: " + key)
}

// Scroll scrolls the page in the named direction. Unrecognized directions
// scroll down; a non-positive amount uses the 500px default.
func (t *Tools) Scroll(ctx context.Context, page schemas.Page, direction string, amount int) schemas.ActionResult {
	if amount <= 0 {
		amount = defaultScrollAmount
	}

	var dx, dy int
	switch strings.ToLower(direction) {
	case "up":
		direction, dy = "up", -amount
	case "left":
		direction, dx = "left", -amount
	case "right":
		direction, dx = "right", amount
	default:
		direction, dy = "down", amount
	}

	if err := page.Scroll(ctx, dx, dy); err != nil {
		t.logger.Error("Scroll failed",
			observability.ErrID(observability.ErrElementInteract),
			zap.String("direction", direction),
			zap.Error(err),
		)
		return schemas.NewActionFailure(fmt.Sprintf("Failed to scroll %s", direction), err)
	}
	return schemas.NewActionSuccess(fmt.Sprintf("Scrolled %s by %dpx", direction, amount))
}

// Navigate loads a URL. The registry version is bumped before the attempt:
// whatever happens next, the old refs no longer describe this page. A bad
// HTTP status is still a completed navigation, reported as a success with
// the status in the message, because error pages are real pages the model
// may need to read.
func (t *Tools) Navigate(ctx context.Context, page schemas.Page, reg *registry.Registry, url string) schemas.ActionResult {
	version := reg.IncrementVersion()
	t.logger.Info("Navigating", zap.String("url", url), zap.Int64("version", version))

	status, err := page.Navigate(ctx, url)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			t.logger.Error("Navigation timed out",
				observability.ErrID(observability.ErrNavigate),
				zap.String("url", url),
			)
			return schemas.NewActionFailure(
				fmt.Sprintf("Timeout navigating to %s. The page may be slow to load.", url), err)
		}
		t.logger.Error("Navigation failed",
			observability.ErrID(observability.ErrNavigate),
			zap.String("url", url),
			zap.Error(err),
		)
		return schemas.NewActionFailure(fmt.Sprintf("Failed to navigate to %s", url), err)
	}

	switch {
	case status == 0:
		return schemas.NewActionSuccess("Navigated to " + url)
	case status >= 200 && status < 400:
		return schemas.NewActionSuccess(fmt.Sprintf("Navigated to %s (status: %d)", url, status))
	default:
		t.logger.Warn("Navigation returned non-success status",
			zap.String("url", url),
			zap.Int("status", status),
		)
		return schemas.NewActionSuccess(fmt.Sprintf("Navigation to %s returned HTTP %d", url, status))
	}
}

// Wait pauses for the given number of seconds, clamped to 1 through 10.
func (t *Tools) Wait(ctx context.Context, page schemas.Page, seconds int) schemas.ActionResult {
	if seconds < minWaitSeconds {
		seconds = minWaitSeconds
	}
	if seconds > maxWaitSeconds {
		seconds = maxWaitSeconds
	}

	if err := page.Sleep(ctx, time.Duration(seconds)*time.Second); err != nil {
		return schemas.NewActionFailure(fmt.Sprintf("Failed to wait %d seconds", seconds), err)
	}
	return schemas.NewActionSuccess(fmt.Sprintf("Waited %d seconds", seconds))
}

// Done signals task completion. The message prefix is load-bearing: the
// agent loop and the stuck detector both recognize it.
func (t *Tools) Done(summary string) schemas.ActionResult {
	return schemas.NewActionSuccess("Task completed: " + summary)
}

// checkGate runs the description through the safety gate. It returns nil
// when the action may proceed, or the blocked failure to hand back.
func (t *Tools) checkGate(ctx context.Context, description string) *schemas.ActionFailure {
	if t.gate == nil {
		return nil
	}
	allowed, err := t.gate.Approve(ctx, description)
	if err != nil {
		failure := schemas.NewActionFailure("Confirmation prompt failed", err)
		return &failure
	}
	if !allowed {
		failure := schemas.NewActionFailure("Action blocked by user", ErrBlocked)
		return &failure
	}
	return nil
}

// lookupFailure converts a registry lookup error into a failure result. The
// registry has already logged the details, and its error text carries the
// recovery hint for the model.
func lookupFailure(err error) schemas.ActionResult {
	return schemas.NewActionFailure(err.Error(), err)
}
