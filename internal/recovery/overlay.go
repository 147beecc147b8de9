// Package recovery contains the strategies the agent falls back on when an
// action fails: dismissing the overlays that commonly swallow clicks,
// retrying with escalating tactics, and recognizing when the loop is stuck
// and a human should take over.
package recovery

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/observability"
	"github.com/xkilldash9x/scout-cli/internal/registry"
)

// Dismissal candidates are matched as substrings of the element's observed
// name, aria-label, and placeholder. No selectors are hardcoded anywhere in
// this package; every interaction resolves through the registry like any
// other action.
var (
	closePatterns  = []string{"×", "x", "close", "✕"}
	cancelPatterns = []string{"cancel", "close", "no", "dismiss", "not now", "later"}
)

// OverlayHandler finds modal overlays in a snapshot and tries to dismiss
// them. It holds no state between calls; everything it knows comes from the
// snapshot it is handed.
type OverlayHandler struct {
	logger *zap.Logger
}

// NewOverlayHandler creates an overlay handler logging under the given
// logger.
func NewOverlayHandler(logger *zap.Logger) *OverlayHandler {
	return &OverlayHandler{logger: logger.Named("overlay")}
}

// DetectAndDismiss scans the snapshot for dialog-role or modal-labeled
// elements and works through each one: close buttons first, cancel buttons
// second, an Escape press last. The bool reports whether any overlays were
// found at all; the string describes what happened to them. Dismissing some
// but not all overlays is reported in the message, not treated as failure.
func (h *OverlayHandler) DetectAndDismiss(ctx context.Context, page schemas.Page, snapshot *schemas.PageSnapshot, reg *registry.Registry) (bool, string) {
	overlays := findOverlays(snapshot)
	if len(overlays) == 0 {
		return false, "No overlays detected"
	}

	h.logger.Info("Overlays detected", zap.Int("count", len(overlays)))

	closers, cancellers := findDismissalElements(snapshot)
	h.logger.Debug("Dismissal candidates collected",
		zap.Int("close_buttons", len(closers)),
		zap.Int("cancel_buttons", len(cancellers)),
	)

	dismissed := 0
	var failed []string
	for _, overlay := range overlays {
		switch {
		case h.clickAny(ctx, page, reg, closers):
			dismissed++
		case h.clickAny(ctx, page, reg, cancellers):
			dismissed++
		case h.pressEscape(ctx, page):
			dismissed++
		default:
			failed = append(failed, overlay.Ref)
		}
	}

	if dismissed == 0 {
		h.logger.Error("Could not dismiss any overlay",
			observability.ErrID(observability.ErrOverlayDismiss),
			zap.Int("count", len(overlays)),
		)
		return true, fmt.Sprintf("Found %d overlay(s) but could not dismiss any", len(overlays))
	}

	msg := fmt.Sprintf("Dismissed %d of %d overlay(s)", dismissed, len(overlays))
	if len(failed) > 0 {
		msg += fmt.Sprintf(" (failed: %s)", strings.Join(failed, ", "))
	}
	h.logger.Info("Overlays handled",
		zap.Int("dismissed", dismissed),
		zap.Int("total", len(overlays)),
	)
	return true, msg
}

// findOverlays collects elements that look like modal overlays: dialog
// roles, elements literally named modal/popup/dialog, and elements whose
// aria-label mentions a modal.
func findOverlays(snapshot *schemas.PageSnapshot) []schemas.InteractiveElement {
	var overlays []schemas.InteractiveElement
	for _, el := range snapshot.Elements {
		name := strings.ToLower(el.Name)
		if el.Role == "dialog" || name == "modal" || name == "popup" || name == "dialog" {
			overlays = append(overlays, el)
			continue
		}
		if el.AriaLabel != "" && strings.Contains(strings.ToLower(el.AriaLabel), "modal") {
			overlays = append(overlays, el)
		}
	}
	return overlays
}

// findDismissalElements splits the snapshot's buttons and links into close
// candidates and cancel candidates by their observed text.
func findDismissalElements(snapshot *schemas.PageSnapshot) (closers, cancellers []schemas.InteractiveElement) {
	for _, el := range snapshot.Elements {
		if el.Role != "button" && el.Role != "link" {
			continue
		}
		text := strings.ToLower(el.Name) + " " + strings.ToLower(el.AriaLabel) + " " + strings.ToLower(el.Placeholder)
		if containsAny(text, closePatterns) {
			closers = append(closers, el)
		}
		if containsAny(text, cancelPatterns) {
			cancellers = append(cancellers, el)
		}
	}
	return closers, cancellers
}

func containsAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// clickAny clicks candidates in order until one lands. Overlays frequently
// invalidate the refs beneath them, so a failed candidate just advances to
// the next.
func (h *OverlayHandler) clickAny(ctx context.Context, page schemas.Page, reg *registry.Registry, candidates []schemas.InteractiveElement) bool {
	for _, el := range candidates {
		loc, err := reg.Locator(el.Ref)
		if err != nil {
			h.logger.Debug("Dismissal candidate unresolved", zap.String("ref", el.Ref), zap.Error(err))
			continue
		}
		if err := page.Click(ctx, loc); err != nil {
			h.logger.Debug("Dismissal click failed", zap.String("ref", el.Ref), zap.Error(err))
			continue
		}
		h.logger.Info("Overlay dismissed via element", zap.String("ref", el.Ref))
		return true
	}
	return false
}

func (h *OverlayHandler) pressEscape(ctx context.Context, page schemas.Page) bool {
	if err := page.Press(ctx, "Escape"); err != nil {
		h.logger.Warn("Escape press failed",
			observability.ErrID(observability.ErrOverlayDismiss),
			zap.Error(err),
		)
		return false
	}
	h.logger.Info("Overlay dismissed via Escape")
	return true
}
