package recovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/config"
	"github.com/xkilldash9x/scout-cli/internal/observability"
	"github.com/xkilldash9x/scout-cli/internal/registry"
)

// Strategy tags one retry attempt. No two consecutive attempts on the same
// failing action ever share a tag; repeating an identical retry against a
// page that already rejected it is how agents end up in loops.
type Strategy string

const (
	// StrategyReobserveAndDismiss hands control back to the caller for a
	// fresh observation instead of re-invoking the action blind.
	StrategyReobserveAndDismiss Strategy = "reobserve_and_dismiss"
	// StrategyWaitForStability waits out in-flight network and rendering
	// before re-invoking.
	StrategyWaitForStability Strategy = "wait_for_stability"
	// StrategyExtendedWaitOverlays re-observes, dismisses any overlays that
	// appeared, then re-invokes.
	StrategyExtendedWaitOverlays Strategy = "extended_wait_and_overlay_check"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = time.Second
	stabilityWaitCap      = 5 * time.Second
)

// Attempt records one retry attempt and what it did.
type Attempt struct {
	Strategy    Strategy
	Description string
}

// Outcome is the result of driving the retry engine over a failed action.
type Outcome struct {
	// Succeeded is true when a re-invoked attempt produced a success.
	Succeeded bool
	// FinalResult is the successful result, or the most recent failure.
	FinalResult schemas.ActionResult
	// Attempts lists every strategy tried so far, in order, including
	// attempts carried over from a prior call.
	Attempts []Attempt
	// NeedsReobserve asks the caller to observe the page again and re-drive
	// the action with fresh refs. The first attempt always returns this way
	// rather than re-invoking against state that is already suspect.
	NeedsReobserve bool
	// AskUser is set once every strategy is exhausted. The caller should put
	// the failure to a human instead of retrying further.
	AskUser bool
}

// ActionFunc re-invokes the failed action.
type ActionFunc func(ctx context.Context) schemas.ActionResult

// ObserveFunc produces a fresh snapshot of the page, registering its
// elements as a side effect. The engine calls it before the overlay-check
// attempt so dismissal works against current refs.
type ObserveFunc func(ctx context.Context) (*schemas.PageSnapshot, error)

// Engine retries a failed action with escalating strategies and real,
// context-cancellable backoff waits between them. It keeps no state between
// calls; escalation across calls is carried in the Attempts slice of the
// returned Outcome.
type Engine struct {
	logger         *zap.Logger
	page           schemas.Page
	registry       *registry.Registry
	overlays       *OverlayHandler
	observe        ObserveFunc
	maxAttempts    int
	initialBackoff time.Duration
}

// NewEngine creates a retry engine for one task's page and registry.
// Non-positive config values fall back to three attempts and a one second
// initial backoff.
func NewEngine(logger *zap.Logger, page schemas.Page, reg *registry.Registry, observe ObserveFunc, cfg config.AgentConfig) *Engine {
	maxAttempts := cfg.RetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}
	return &Engine{
		logger:         logger.Named("retry"),
		page:           page,
		registry:       reg,
		overlays:       NewOverlayHandler(logger),
		observe:        observe,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
	}
}

// Retry drives the escalating strategies for one failing action. Pass nil
// prior attempts on the first call. When the outcome sets NeedsReobserve,
// the caller re-observes, re-invokes the action itself, and on another
// failure calls Retry again with the outcome's Attempts so escalation picks
// up at the next strategy instead of starting over.
func (e *Engine) Retry(ctx context.Context, initial schemas.ActionResult, prior []Attempt, action ActionFunc) Outcome {
	if initial.Succeeded() {
		return Outcome{Succeeded: true, FinalResult: initial, Attempts: prior}
	}

	attempts := append([]Attempt(nil), prior...)
	last := initial

	bo := e.newBackOff(ctx)
	// Advance past the waits already taken by prior attempts so resumed
	// escalation keeps doubling instead of restarting at the initial value.
	for range prior {
		_ = bo.NextBackOff()
	}

	for i := len(prior); i < e.maxAttempts; i++ {
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			e.logger.Warn("Retry abandoned, context done", zap.Error(ctx.Err()))
			return Outcome{FinalResult: last, Attempts: attempts}
		}
		if err := sleepContext(ctx, wait); err != nil {
			e.logger.Warn("Retry wait cancelled", zap.Error(err))
			return Outcome{FinalResult: last, Attempts: attempts}
		}

		switch i {
		case 0:
			attempts = append(attempts, Attempt{
				Strategy:    StrategyReobserveAndDismiss,
				Description: fmt.Sprintf("Re-observing page and checking for overlays (backoff: %s)", wait),
			})
			e.logger.Info("Retry deferring to caller re-observation",
				zap.String("strategy", string(StrategyReobserveAndDismiss)),
			)
			return Outcome{FinalResult: last, Attempts: attempts, NeedsReobserve: true}

		case 1:
			attempts = append(attempts, Attempt{
				Strategy:    StrategyWaitForStability,
				Description: fmt.Sprintf("Waiting for network/render stability (backoff: %s)", wait),
			})
			e.waitForStability(ctx)
			last = action(ctx)
			if last.Succeeded() {
				e.logger.Info("Retry succeeded",
					zap.Int("attempt", i+1),
					zap.String("strategy", string(StrategyWaitForStability)),
				)
				return Outcome{Succeeded: true, FinalResult: last, Attempts: attempts}
			}

		default:
			desc := fmt.Sprintf("Extended wait with overlay check (backoff: %s)", wait)
			if snapshot, err := e.observe(ctx); err != nil {
				e.logger.Warn("Re-observation before overlay check failed",
					observability.ErrID(observability.ErrOverlayDetect),
					zap.Error(err),
				)
			} else if found, msg := e.overlays.DetectAndDismiss(ctx, e.page, snapshot, e.registry); found {
				desc += " - " + msg
			}
			attempts = append(attempts, Attempt{Strategy: StrategyExtendedWaitOverlays, Description: desc})
			last = action(ctx)
			if last.Succeeded() {
				e.logger.Info("Retry succeeded",
					zap.Int("attempt", i+1),
					zap.String("strategy", string(StrategyExtendedWaitOverlays)),
				)
				return Outcome{Succeeded: true, FinalResult: last, Attempts: attempts}
			}
		}
	}

	e.logger.Error("All retry attempts exhausted",
		observability.ErrID(observability.ErrRetryExhausted),
		zap.Int("attempts", len(attempts)),
	)
	return Outcome{FinalResult: last, Attempts: attempts, AskUser: true}
}

func (e *Engine) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.initialBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = time.Duration(1<<uint(e.maxAttempts)) * e.initialBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(b, ctx)
}

// waitForStability gives the page a bounded window to settle. Not settling
// in time is not an error here; the attempt proceeds regardless.
func (e *Engine) waitForStability(ctx context.Context) {
	waitCtx, cancel := context.WithTimeout(ctx, stabilityWaitCap)
	defer cancel()
	if err := e.page.WaitForStability(waitCtx); err != nil {
		e.logger.Debug("Stability wait ended without settling", zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// reobservePatterns mark failure text that suggests the page changed out
// from under the action, where a fresh observation beats a blind retry.
var reobservePatterns = []string{
	"detached",
	"not found",
	"timeout",
	"element not found",
	"stale",
	"unexpected",
}

// NeedsReobservation reports whether a failed result's text indicates the
// page state shifted and the caller should observe again before retrying.
// Successful results never need re-observation.
func NeedsReobservation(result schemas.ActionResult) bool {
	if result == nil || result.Succeeded() {
		return false
	}
	text := strings.ToLower(result.Message())
	if failure, ok := result.(schemas.ActionFailure); ok {
		text += " " + strings.ToLower(failure.Err().Error())
	}
	return containsAny(text, reobservePatterns)
}
