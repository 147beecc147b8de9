// Package observe produces page snapshots for the agent loop. One Observe
// call is one observation cycle: read URL and title, fetch and parse the
// accessibility tree, register the elements, and capture a bounded excerpt
// of the visible text. Registration reassigns every element ref, so callers
// must drop refs from earlier snapshots after each call.
package observe

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/aria"
	"github.com/xkilldash9x/scout-cli/internal/config"
	"github.com/xkilldash9x/scout-cli/internal/observability"
	"github.com/xkilldash9x/scout-cli/internal/registry"
)

// DefaultMaxTextLength bounds the visible text excerpt when the config does
// not set one.
const DefaultMaxTextLength = 3000

const defaultVisionFallbackMin = 10

// Observer runs observation cycles against a live page.
type Observer struct {
	logger            *zap.Logger
	parser            *aria.Parser
	maxElements       int
	maxTextLength     int
	screenshotDir     string
	visionFallbackMin int
}

// New builds an observer from the agent configuration. Non-positive bounds
// fall back to the defaults.
func New(logger *zap.Logger, cfg config.AgentConfig) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}

	maxElements := cfg.MaxElements
	if maxElements <= 0 {
		maxElements = aria.DefaultMaxElements
	}
	maxTextLength := cfg.MaxTextLength
	if maxTextLength <= 0 {
		maxTextLength = DefaultMaxTextLength
	}
	visionFallbackMin := cfg.VisionFallbackMin
	if visionFallbackMin <= 0 {
		visionFallbackMin = defaultVisionFallbackMin
	}

	return &Observer{
		logger:            logger.Named("observe"),
		parser:            aria.NewParser(logger, maxElements),
		maxElements:       maxElements,
		maxTextLength:     maxTextLength,
		screenshotDir:     cfg.ScreenshotDir,
		visionFallbackMin: visionFallbackMin,
	}
}

// Observe captures one snapshot of the page. Element refs in the returned
// snapshot are valid until the next Observe call or registry version bump.
// Visible-text failures degrade to an empty excerpt plus a note; a failure
// to read the URL, title, or accessibility tree fails the observation.
func (o *Observer) Observe(ctx context.Context, page schemas.Page, reg *registry.Registry) (*schemas.PageSnapshot, error) {
	return o.observe(ctx, page, reg, "")
}

func (o *Observer) observe(ctx context.Context, page schemas.Page, reg *registry.Registry, screenshotPath string) (*schemas.PageSnapshot, error) {
	url, err := page.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page URL: %w", err)
	}
	title, err := page.Title(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page title: %w", err)
	}
	serialized, err := page.AccessibilityTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch accessibility tree: %w", err)
	}

	elements := o.parser.Parse(serialized)
	registered, version := reg.RegisterElements(elements)

	var notes []string
	if len(registered) == o.maxElements {
		notes = append(notes, fmt.Sprintf("Element list capped at %d", o.maxElements))
	}

	text, truncated, err := o.visibleText(ctx, page)
	if err != nil {
		o.logger.Error("Failed to extract visible text",
			observability.ErrID(observability.ErrTextExtract),
			zap.String("url", url),
			zap.Error(err),
		)
		text = ""
		notes = append(notes, "Visible text extraction failed")
	} else if truncated {
		notes = append(notes, fmt.Sprintf("Visible text truncated to %d chars", o.maxTextLength))
	}

	if screenshotPath != "" {
		notes = append(notes, "Screenshot saved to: "+screenshotPath)
	}

	o.logger.Info("Observed page",
		zap.String("url", url),
		zap.Int("elements", len(registered)),
		zap.Int64("version", version),
	)

	return &schemas.PageSnapshot{
		URL:            url,
		Title:          title,
		Elements:       registered,
		VisibleText:    text,
		ScreenshotPath: screenshotPath,
		Notes:          notes,
		Version:        version,
	}, nil
}

// visibleText reads the body text, collapses all whitespace runs to single
// spaces, and truncates to the configured bound with a trailing marker.
func (o *Observer) visibleText(ctx context.Context, page schemas.Page) (text string, truncated bool, err error) {
	raw, err := page.VisibleText(ctx)
	if err != nil {
		return "", false, err
	}
	text = strings.Join(strings.Fields(raw), " ")
	runes := []rune(text)
	if len(runes) > o.maxTextLength {
		return string(runes[:o.maxTextLength]) + "...", true, nil
	}
	return text, false, nil
}
