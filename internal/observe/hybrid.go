package observe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/observability"
	"github.com/xkilldash9x/scout-cli/internal/registry"
)

// CaptureScreenshot saves the current viewport as a PNG under dir and
// returns the file path. An empty dir writes to the working directory.
func (o *Observer) CaptureScreenshot(ctx context.Context, page schemas.Page, dir string) (string, error) {
	data, err := page.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}

	path := filepath.Join(dir, "screenshot-"+uuid.NewString()+".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	o.logger.Debug("Screenshot captured", zap.String("path", path))
	return path, nil
}

// HybridObserve captures a screenshot before observing, so the image shows
// the page exactly as the snapshot describes it. Screenshot failure degrades
// to a plain observation; only the observation itself can fail the call.
func (o *Observer) HybridObserve(ctx context.Context, page schemas.Page, reg *registry.Registry) (*schemas.PageSnapshot, error) {
	path, err := o.CaptureScreenshot(ctx, page, o.screenshotDir)
	if err != nil {
		o.logger.Warn("Screenshot capture failed, observing without one",
			observability.ErrID(observability.ErrScreenshot),
			zap.Error(err),
		)
		path = ""
	}
	return o.observe(ctx, page, reg, path)
}

// NeedsVisionFallback reports whether the snapshot is too sparse for
// text-only reasoning. Pages that render everything in a canvas or behind
// custom widgets produce nearly empty accessibility trees; their screenshot
// is then the better observation.
func (o *Observer) NeedsVisionFallback(snapshot *schemas.PageSnapshot) bool {
	return len(snapshot.Elements) < o.visionFallbackMin
}
