// Package agent drives the observe, decide, act loop: each step captures a
// fresh page observation, asks the model for one action, executes it through
// the tool layer, and feeds the outcome back into the next prompt. The model
// is an opaque decide oracle; everything stateful lives on this side.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/config"
	"github.com/xkilldash9x/scout-cli/internal/observability"
	"github.com/xkilldash9x/scout-cli/internal/observe"
	"github.com/xkilldash9x/scout-cli/internal/recovery"
	"github.com/xkilldash9x/scout-cli/internal/registry"
	"github.com/xkilldash9x/scout-cli/internal/tools"
)

const defaultMaxSteps = 30

// Agent runs one task against one live page. All loop state (registry,
// tracker, stuck detector) belongs to the task; create a fresh Agent per
// task or rely on Run resetting it.
type Agent struct {
	logger    *zap.Logger
	cfg       config.AgentConfig
	page      schemas.Page
	llm       schemas.LLMClient
	confirmer schemas.Confirmer

	registry *registry.Registry
	observer *observe.Observer
	toolset  *tools.Tools
	retry    *recovery.Engine
	stuck    *recovery.StuckDetector
	overlays *recovery.OverlayHandler
	tracker  *ContextTracker

	textLimit int
}

// New wires an agent from its collaborators. confirmer may be nil; the agent
// then refuses destructive actions and turns stuck detection into a stop.
func New(logger *zap.Logger, cfg config.AgentConfig, page schemas.Page, llm schemas.LLMClient, confirmer schemas.Confirmer) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := registry.New(logger)
	gate := tools.NewGate(logger, confirmer, cfg.AutoApprove)

	textLimit := cfg.MaxTextLength
	if textLimit <= 0 {
		textLimit = observe.DefaultMaxTextLength
	}

	a := &Agent{
		logger:    logger.Named("agent"),
		cfg:       cfg,
		page:      page,
		llm:       llm,
		confirmer: confirmer,
		registry:  reg,
		observer:  observe.New(logger, cfg),
		toolset:   tools.New(logger, gate),
		stuck:     recovery.NewStuckDetector(logger, cfg.StuckThreshold),
		overlays:  recovery.NewOverlayHandler(logger),
		tracker:   NewContextTracker(cfg.MaxSteps),
		textLimit: textLimit,
	}
	a.retry = recovery.NewEngine(logger, page, reg, a.reobserve, cfg)
	return a
}

// Run drives the loop until the model declares the task done, the step
// budget runs out, stuck detection stops it, or the context is cancelled.
// The returned error is non-nil only for aborts; done, limit, and stuck
// outcomes are reported through the TaskResult alone.
func (a *Agent) Run(ctx context.Context, task string) (TaskResult, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		err := errors.New("no task provided")
		return TaskResult{Status: StatusAborted, Message: err.Error()}, err
	}

	a.registry.Clear()
	a.tracker.Reset()
	a.stuck.Reset()

	maxSteps := a.cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	a.logger.Info("Task started", zap.String("task", task), zap.Int("max_steps", maxSteps))

	for step := 1; step <= maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return TaskResult{Status: StatusAborted, Message: "task cancelled", Steps: step - 1}, err
		}

		snapshot, err := a.observer.HybridObserve(ctx, a.page, a.registry)
		if err != nil {
			a.logger.Warn("Observation failed", zap.Int("step", step), zap.Error(err))
			a.tracker.RecordAction("OBSERVE", false, err.Error())
			a.stuck.RecordAction(schemas.NewActionFailure("observation failed", err), a.currentURL(ctx), a.registry.Version())
			if result, stopped := a.checkStuck(ctx, step); stopped {
				return result, nil
			}
			continue
		}
		a.tracker.UpdateSnapshot(snapshot)
		a.tracker.TrackTokens("snapshot", estimateTokens(snapshot.VisibleText))
		if a.observer.NeedsVisionFallback(snapshot) {
			a.logger.Info("Few interactive elements found, page may be canvas-heavy",
				zap.Int("elements", len(snapshot.Elements)),
				zap.String("screenshot", snapshot.ScreenshotPath),
			)
		}

		if a.tracker.ShouldCompress() {
			a.tracker.CompressTaskMemory(snapshot.URL, task)
		}

		decision, err := a.decide(ctx, task)
		if err != nil {
			if ctx.Err() != nil {
				return TaskResult{Status: StatusAborted, Message: "task cancelled", Steps: step}, ctx.Err()
			}
			a.logger.Warn("Decision step failed", zap.Int("step", step), zap.Error(err))
			a.tracker.RecordAction("DECIDE", false, err.Error())
			a.stuck.RecordAction(schemas.NewActionFailure("decision failed", err), snapshot.URL, a.registry.Version())
			if result, stopped := a.checkStuck(ctx, step); stopped {
				return result, nil
			}
			continue
		}

		a.logger.Info("Decided next action",
			zap.Int("step", step),
			zap.String("action", decision.Describe()),
			zap.String("thought", decision.Thought),
		)

		switch decision.Type {
		case schemas.ActionDone:
			result := a.toolset.Done(decision.Summary)
			a.tracker.RecordAction(decision.Describe(), true, result.Message())
			a.logger.Info("Task completed", zap.Int("steps", step))
			return TaskResult{Status: StatusDone, Message: result.Message(), Steps: step}, nil

		case schemas.ActionAskUser:
			if result, err := a.askUser(ctx, decision.Question, step); err != nil {
				return result, err
			}
			continue
		}

		result := a.perform(ctx, decision)
		a.tracker.RecordAction(decision.Describe(), result.Succeeded(), result.Message())
		a.stuck.RecordAction(result, a.currentURL(ctx), a.registry.Version())

		if result, stopped := a.checkStuck(ctx, step); stopped {
			return result, nil
		}
	}

	message := fmt.Sprintf("Reached the step limit of %d before the task was complete", maxSteps)
	a.logger.Warn("Step limit reached", zap.Int("max_steps", maxSteps))
	return TaskResult{Status: StatusLimit, Message: message, Steps: maxSteps}, nil
}

// decide asks the model for the next action given the tracker's view of the
// run so far.
func (a *Agent) decide(ctx context.Context, task string) (schemas.Action, error) {
	userPrompt := buildUserPrompt(task, a.tracker, a.textLimit)

	req := schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true},
	}

	response, err := a.llm.Generate(ctx, req)
	a.tracker.RecordLLMCall(estimateTokens(req.SystemPrompt)+estimateTokens(userPrompt)+estimateTokens(response), "other")
	if err != nil {
		return schemas.Action{}, fmt.Errorf("llm generation failed: %w", err)
	}

	action, err := ParseDecision(response)
	if err != nil {
		a.logger.Warn("Model response did not parse into an action",
			observability.ErrID(observability.ErrLLMCall),
			zap.String("raw_response", truncateMessage(response)),
			zap.Error(err),
		)
		return schemas.Action{}, err
	}
	return action, nil
}

// perform executes one action and, on failure, drives the recovery engine's
// escalation: the first retry asks for a fresh observation plus overlay
// dismissal here, later strategies re-invoke inside the engine. Exhaustion
// is put to the user when a channel is attached.
func (a *Agent) perform(ctx context.Context, action schemas.Action) schemas.ActionResult {
	result := a.execute(ctx, action)
	if result.Succeeded() {
		return result
	}
	if failure, ok := result.(schemas.ActionFailure); ok && errors.Is(failure.Err(), tools.ErrBlocked) {
		// The user said no; retrying would ask again.
		return result
	}

	invoke := func(ctx context.Context) schemas.ActionResult { return a.execute(ctx, action) }

	outcome := a.retry.Retry(ctx, result, nil, invoke)
	if outcome.NeedsReobserve {
		if snapshot, err := a.reobserve(ctx); err != nil {
			a.logger.Warn("Re-observation during recovery failed", zap.Error(err))
		} else if found, msg := a.overlays.DetectAndDismiss(ctx, a.page, snapshot, a.registry); found {
			a.logger.Info("Overlay dismissal attempted", zap.String("result", msg))
			// Dismissal changes the page; refs must be refreshed again
			// before the action is re-driven.
			if _, err := a.reobserve(ctx); err != nil {
				a.logger.Warn("Re-observation after dismissal failed", zap.Error(err))
			}
		}
		outcome = a.retry.Retry(ctx, invoke(ctx), outcome.Attempts, invoke)
	}

	if outcome.AskUser {
		a.escalateFailure(ctx, action, outcome)
	}
	return outcome.FinalResult
}

// execute dispatches one validated action to the tool layer.
func (a *Agent) execute(ctx context.Context, action schemas.Action) schemas.ActionResult {
	switch action.Type {
	case schemas.ActionClick:
		return a.toolset.Click(ctx, a.page, a.registry, action.Ref)
	case schemas.ActionTypeText:
		return a.toolset.Type(ctx, a.page, a.registry, action.Ref, action.Text)
	case schemas.ActionPress:
		return a.toolset.Press(ctx, a.page, action.Key)
	case schemas.ActionScroll:
		return a.toolset.Scroll(ctx, a.page, action.Direction, action.Amount)
	case schemas.ActionNavigate:
		return a.toolset.Navigate(ctx, a.page, a.registry, action.URL)
	case schemas.ActionWait:
		return a.toolset.Wait(ctx, a.page, action.Seconds)
	case schemas.ActionExtract:
		return a.toolset.Extract(ctx, a.page, action.Target)
	default:
		return schemas.NewActionFailure(fmt.Sprintf("unsupported action type %q", action.Type), nil)
	}
}

// reobserve refreshes the observation and the tracker's retained snapshot.
// The recovery engine uses it before overlay checks so dismissal works
// against current refs.
func (a *Agent) reobserve(ctx context.Context) (*schemas.PageSnapshot, error) {
	snapshot, err := a.observer.Observe(ctx, a.page, a.registry)
	if err != nil {
		return nil, err
	}
	a.tracker.UpdateSnapshot(snapshot)
	return snapshot, nil
}

// askUser routes an explicit ASK_USER decision through the confirmer. The
// answer lands in the history so the next prompt carries it. A failed input
// channel aborts the run; every other outcome continues it.
func (a *Agent) askUser(ctx context.Context, question string, step int) (TaskResult, error) {
	if a.confirmer == nil {
		a.logger.Warn("Model asked for user input but no channel is attached")
		a.tracker.RecordAction("ASK_USER", false, "no user input channel attached")
		a.stuck.RecordAction(schemas.NewActionFailure("no user input channel attached", nil), "", a.registry.Version())
		return TaskResult{}, nil
	}

	answer, err := a.confirmer.Ask(ctx, question)
	if err != nil {
		a.logger.Error("User input channel failed", zap.Error(err))
		err = fmt.Errorf("user input channel failed: %w", err)
		return TaskResult{Status: StatusAborted, Message: err.Error(), Steps: step}, err
	}

	a.tracker.RecordAction("ASK_USER", true, "User: "+answer)
	return TaskResult{}, nil
}

// checkStuck consults the detector and, when stuck, asks the user how to
// proceed. Guidance resets the detector and continues; an empty answer, a
// channel error, or no channel at all stops the run.
func (a *Agent) checkStuck(ctx context.Context, step int) (TaskResult, bool) {
	if !a.stuck.IsStuck() {
		return TaskResult{}, false
	}

	explanation := a.stuck.Explain()
	if a.confirmer == nil {
		return TaskResult{Status: StatusStuck, Message: explanation, Steps: step}, true
	}

	answer, err := a.confirmer.Ask(ctx, explanation+" How should I proceed? (empty answer stops the task)")
	if err != nil || strings.TrimSpace(answer) == "" {
		return TaskResult{Status: StatusStuck, Message: explanation, Steps: step}, true
	}

	a.stuck.Reset()
	a.tracker.RecordAction("ASK_USER", true, "User guidance: "+answer)
	return TaskResult{}, false
}

// escalateFailure puts an exhausted action to the user. Guidance is recorded
// for the next prompt; without a channel the failure simply stands.
func (a *Agent) escalateFailure(ctx context.Context, action schemas.Action, outcome recovery.Outcome) {
	if a.confirmer == nil {
		return
	}

	question := fmt.Sprintf("The action %s keeps failing after %d attempts (%s). Any guidance? (empty answer lets the agent continue on its own)",
		action.Describe(), len(outcome.Attempts), outcome.FinalResult.Message())
	answer, err := a.confirmer.Ask(ctx, question)
	if err != nil {
		a.logger.Warn("Failure escalation prompt failed", zap.Error(err))
		return
	}
	if strings.TrimSpace(answer) != "" {
		a.tracker.RecordAction("ASK_USER", true, "User guidance: "+answer)
	}
}

func (a *Agent) currentURL(ctx context.Context) string {
	url, err := a.page.URL(ctx)
	if err != nil {
		return ""
	}
	return url
}
