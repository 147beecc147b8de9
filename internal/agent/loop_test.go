package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/config"
	"github.com/xkilldash9x/scout-cli/internal/llmclient"
	"github.com/xkilldash9x/scout-cli/internal/mocks"
)

// A one-button page. "Next page" trips neither the destructive-keyword gate
// nor the overlay matchers, so tests opt into those paths explicitly.
const loopTestTree = `
- button "Next page"
`

func loopTestConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxElements:    60,
		MaxTextLength:  3000,
		MaxSteps:       5,
		RetryAttempts:  3,
		InitialBackoff: time.Millisecond,
		StuckThreshold: 3,
	}
}

// stubObservation wires the page calls one observation makes. Screenshot
// capture fails on purpose so HybridObserve degrades to a plain observation
// and the tests never touch the filesystem.
func stubObservation(page *mocks.MockPage, url, tree string) {
	page.On("Screenshot", mock.Anything).Return(nil, errors.New("screenshot not supported"))
	page.On("URL", mock.Anything).Return(url, nil)
	page.On("Title", mock.Anything).Return("Example Domain", nil)
	page.On("AccessibilityTree", mock.Anything).Return(tree, nil)
	page.On("VisibleText", mock.Anything).Return("Example body text", nil)
}

// Verifies the minimal run: the model immediately declares the task done and
// the loop reports the completion summary.
func TestAgentRun_DoneFirstStep(t *testing.T) {
	llm := llmclient.NewScriptedClient(
		`{"thought": "Nothing to do here.", "type": "DONE", "summary": "No action was needed."}`,
	)
	page := &mocks.MockPage{}
	stubObservation(page, "https://example.com/", loopTestTree)

	agent := New(zap.NewNop(), loopTestConfig(), page, llm, nil)
	result, err := agent.Run(context.Background(), "verify the page loads")
	require.NoError(t, err)

	assert.Equal(t, StatusDone, result.Status)
	assert.Equal(t, "Task completed: No action was needed.", result.Message)
	assert.Equal(t, 1, result.Steps)
	assert.Equal(t, 1, llm.Calls())
	page.AssertExpectations(t)
}

// Verifies one full act cycle: the click resolves through the registry ref
// to a role+name locator, and the result is echoed to the model on the next
// turn.
func TestAgentRun_ClickThenDone(t *testing.T) {
	llm := llmclient.NewScriptedClient(
		`{"thought": "Advance the listing.", "type": "CLICK", "ref": "elem-0", "rationale": "Open the next page."}`,
		`{"thought": "That did it.", "type": "DONE", "summary": "Advanced to the next page."}`,
	)
	page := &mocks.MockPage{}
	stubObservation(page, "https://example.com/", loopTestTree)
	page.On("Click", mock.Anything, mock.MatchedBy(func(loc schemas.Locator) bool {
		return loc.Role == "button" && loc.Name == "Next page"
	})).Return(nil).Once()

	agent := New(zap.NewNop(), loopTestConfig(), page, llm, nil)
	result, err := agent.Run(context.Background(), "open the next page of results")
	require.NoError(t, err)

	assert.Equal(t, StatusDone, result.Status)
	assert.Equal(t, 2, result.Steps)
	page.AssertExpectations(t)

	requests := llm.Requests()
	require.Len(t, requests, 2)
	assert.Contains(t, requests[1].UserPrompt, `- CLICK elem-0: ok - Clicked [button] "Next page" (elem-0)`)
}

// Verifies the loop stops with a limit status when the step budget runs out
// before the model finishes.
func TestAgentRun_StepLimit(t *testing.T) {
	llm := llmclient.NewLoopingScriptedClient(
		`{"thought": "Keep looking further down.", "type": "SCROLL", "direction": "down"}`,
	)
	page := &mocks.MockPage{}
	stubObservation(page, "https://example.com/", loopTestTree)
	page.On("Scroll", mock.Anything, 0, 500).Return(nil)

	cfg := loopTestConfig()
	cfg.MaxSteps = 3
	agent := New(zap.NewNop(), cfg, page, llm, nil)
	result, err := agent.Run(context.Background(), "find the pricing table")
	require.NoError(t, err)

	assert.Equal(t, StatusLimit, result.Status)
	assert.Equal(t, 3, result.Steps)
	assert.Contains(t, result.Message, "step limit of 3")
	assert.Equal(t, 3, llm.Calls())
}

// Verifies the recovery path: the first click fails, the engine hands back a
// re-observe, and the re-driven click lands. The model only ever sees the
// final success.
func TestAgentRun_RecoversFromFailedClick(t *testing.T) {
	llm := llmclient.NewScriptedClient(
		`{"thought": "Advance.", "type": "CLICK", "ref": "elem-0"}`,
		`{"thought": "Landed.", "type": "DONE", "summary": "Clicked through."}`,
	)
	page := &mocks.MockPage{}
	stubObservation(page, "https://example.com/", loopTestTree)
	page.On("Click", mock.Anything, mock.Anything).Return(errors.New("node detached")).Once()
	page.On("Click", mock.Anything, mock.Anything).Return(nil).Once()

	agent := New(zap.NewNop(), loopTestConfig(), page, llm, nil)
	result, err := agent.Run(context.Background(), "open the next page")
	require.NoError(t, err)

	assert.Equal(t, StatusDone, result.Status)
	page.AssertExpectations(t)

	requests := llm.Requests()
	require.Len(t, requests, 2)
	assert.Contains(t, requests[1].UserPrompt, "- CLICK elem-0: ok")
	assert.NotContains(t, requests[1].UserPrompt, "FAILED")
}

// Verifies retry exhaustion is escalated to the user and their guidance
// lands in the next prompt alongside the failure.
func TestAgentRun_ExhaustedRetriesEscalate(t *testing.T) {
	llm := llmclient.NewScriptedClient(
		`{"thought": "Advance.", "type": "CLICK", "ref": "elem-0"}`,
		`{"thought": "Taking the hint.", "type": "DONE", "summary": "Stopped after guidance."}`,
	)
	page := &mocks.MockPage{}
	stubObservation(page, "https://example.com/", loopTestTree)
	page.On("Click", mock.Anything, mock.Anything).Return(errors.New("node detached"))
	page.On("WaitForStability", mock.Anything).Return(nil)

	confirmer := &mocks.MockConfirmer{}
	confirmer.On("Ask", mock.Anything, mock.MatchedBy(func(q string) bool {
		return strings.Contains(q, "CLICK elem-0 keeps failing after 3 attempts")
	})).Return("Give up and finish.", nil).Once()

	cfg := loopTestConfig()
	cfg.StuckThreshold = 10
	agent := New(zap.NewNop(), cfg, page, llm, confirmer)
	result, err := agent.Run(context.Background(), "open the next page")
	require.NoError(t, err)

	assert.Equal(t, StatusDone, result.Status)
	confirmer.AssertExpectations(t)

	requests := llm.Requests()
	require.Len(t, requests, 2)
	assert.Contains(t, requests[1].UserPrompt, "ASK_USER: ok - User guidance: Give up and finish.")
	assert.Contains(t, requests[1].UserPrompt, "- CLICK elem-0: FAILED")
}

// Verifies stuck detection stops the run with an explanation when no user
// channel is attached.
func TestAgentRun_StuckWithoutConfirmerStops(t *testing.T) {
	llm := llmclient.NewLoopingScriptedClient(
		`{"thought": "Try the button again.", "type": "CLICK", "ref": "elem-0"}`,
	)
	page := &mocks.MockPage{}
	stubObservation(page, "https://example.com/", loopTestTree)
	page.On("Click", mock.Anything, mock.Anything).Return(errors.New("node detached"))

	cfg := loopTestConfig()
	cfg.StuckThreshold = 2
	cfg.RetryAttempts = 1
	agent := New(zap.NewNop(), cfg, page, llm, nil)
	result, err := agent.Run(context.Background(), "open the next page")
	require.NoError(t, err)

	assert.Equal(t, StatusStuck, result.Status)
	assert.Equal(t, 2, result.Steps)
	assert.Contains(t, result.Message, "consecutive failures")
}

// Verifies user guidance at a stuck check resets the detector and the run
// continues.
func TestAgentRun_StuckGuidanceContinues(t *testing.T) {
	llm := llmclient.NewScriptedClient(
		`{"thought": "Try the button.", "type": "CLICK", "ref": "elem-0"}`,
		`{"thought": "Try once more.", "type": "CLICK", "ref": "elem-0"}`,
		`{"thought": "Following the guidance.", "type": "DONE", "summary": "Stopped clicking."}`,
	)
	page := &mocks.MockPage{}
	stubObservation(page, "https://example.com/", loopTestTree)
	page.On("Click", mock.Anything, mock.Anything).Return(errors.New("node detached"))

	confirmer := &mocks.MockConfirmer{}
	confirmer.On("Ask", mock.Anything, mock.MatchedBy(func(q string) bool {
		return strings.Contains(q, "How should I proceed?")
	})).Return("Stop clicking and wrap up.", nil).Once()
	// Each exhausted action also asks for guidance; an empty answer lets the
	// loop keep going on its own.
	confirmer.On("Ask", mock.Anything, mock.MatchedBy(func(q string) bool {
		return strings.Contains(q, "keeps failing")
	})).Return("", nil).Twice()

	cfg := loopTestConfig()
	cfg.StuckThreshold = 2
	cfg.RetryAttempts = 1
	agent := New(zap.NewNop(), cfg, page, llm, confirmer)
	result, err := agent.Run(context.Background(), "open the next page")
	require.NoError(t, err)

	assert.Equal(t, StatusDone, result.Status)
	assert.Equal(t, 3, result.Steps)
	confirmer.AssertExpectations(t)

	requests := llm.Requests()
	require.Len(t, requests, 3)
	assert.Contains(t, requests[2].UserPrompt, "User guidance: Stop clicking and wrap up.")
}

// Verifies an ASK_USER decision routes through the confirmer and the answer
// reaches the next prompt.
func TestAgentRun_AskUserDecision(t *testing.T) {
	llm := llmclient.NewScriptedClient(
		`{"thought": "Need the account name.", "type": "ASK_USER", "question": "Which account should I use?"}`,
		`{"thought": "Got it.", "type": "DONE", "summary": "Used the personal account."}`,
	)
	page := &mocks.MockPage{}
	stubObservation(page, "https://example.com/", loopTestTree)

	confirmer := &mocks.MockConfirmer{}
	confirmer.On("Ask", mock.Anything, "Which account should I use?").Return("The personal one.", nil).Once()

	agent := New(zap.NewNop(), loopTestConfig(), page, llm, confirmer)
	result, err := agent.Run(context.Background(), "check the balance")
	require.NoError(t, err)

	assert.Equal(t, StatusDone, result.Status)
	assert.Equal(t, 2, result.Steps)
	confirmer.AssertExpectations(t)

	requests := llm.Requests()
	require.Len(t, requests, 2)
	assert.Contains(t, requests[1].UserPrompt, "- ASK_USER: ok - User: The personal one.")
}

// Verifies a broken user-input channel aborts the run with an error.
func TestAgentRun_AskUserChannelFailureAborts(t *testing.T) {
	llm := llmclient.NewScriptedClient(
		`{"thought": "Need help.", "type": "ASK_USER", "question": "Which account?"}`,
	)
	page := &mocks.MockPage{}
	stubObservation(page, "https://example.com/", loopTestTree)

	confirmer := &mocks.MockConfirmer{}
	confirmer.On("Ask", mock.Anything, "Which account?").Return("", errors.New("stdin closed")).Once()

	agent := New(zap.NewNop(), loopTestConfig(), page, llm, confirmer)
	result, err := agent.Run(context.Background(), "check the balance")
	require.Error(t, err)

	assert.Equal(t, StatusAborted, result.Status)
	assert.Contains(t, result.Message, "stdin closed")
}

// Verifies a malformed model response is recorded as a failed decision and
// shown to the model on the next turn instead of killing the run.
func TestAgentRun_MalformedDecisionFedBack(t *testing.T) {
	llm := llmclient.NewScriptedClient(
		"I would click something, probably.",
		`{"thought": "Proper JSON this time.", "type": "DONE", "summary": "Recovered."}`,
	)
	page := &mocks.MockPage{}
	stubObservation(page, "https://example.com/", loopTestTree)

	agent := New(zap.NewNop(), loopTestConfig(), page, llm, nil)
	result, err := agent.Run(context.Background(), "check the page")
	require.NoError(t, err)

	assert.Equal(t, StatusDone, result.Status)
	assert.Equal(t, 2, result.Steps)

	requests := llm.Requests()
	require.Len(t, requests, 2)
	assert.Contains(t, requests[1].UserPrompt, "- DECIDE: FAILED")
	assert.Contains(t, requests[1].UserPrompt, "failed to unmarshal")
}

// Verifies a user veto is final: the blocked action is not retried and the
// page is never touched.
func TestAgentRun_BlockedActionNotRetried(t *testing.T) {
	llm := llmclient.NewScriptedClient(
		`{"thought": "Remove the item.", "type": "CLICK", "ref": "elem-0"}`,
		`{"thought": "Respecting the veto.", "type": "DONE", "summary": "Left the item alone."}`,
	)
	page := &mocks.MockPage{}
	stubObservation(page, "https://example.com/cart", "- button \"Delete item\"\n")

	confirmer := &mocks.MockConfirmer{}
	confirmer.On("Confirm", mock.Anything, mock.MatchedBy(func(q string) bool {
		return strings.Contains(q, "button Delete item")
	})).Return(false, nil).Once()

	agent := New(zap.NewNop(), loopTestConfig(), page, llm, confirmer)
	result, err := agent.Run(context.Background(), "clean up the cart")
	require.NoError(t, err)

	assert.Equal(t, StatusDone, result.Status)
	confirmer.AssertExpectations(t)
	page.AssertNotCalled(t, "Click", mock.Anything, mock.Anything)

	requests := llm.Requests()
	require.Len(t, requests, 2)
	assert.Contains(t, requests[1].UserPrompt, "- CLICK elem-0: FAILED - Action blocked by user")
}

// Verifies a failed observation is recorded and the loop moves on to the
// next step rather than dying.
func TestAgentRun_ObservationFailureContinues(t *testing.T) {
	llm := llmclient.NewScriptedClient(
		`{"thought": "Page is back.", "type": "DONE", "summary": "Checked the page."}`,
	)
	page := &mocks.MockPage{}
	page.On("Screenshot", mock.Anything).Return(nil, errors.New("screenshot not supported"))
	page.On("URL", mock.Anything).Return("", errors.New("target crashed")).Once()
	page.On("URL", mock.Anything).Return("https://example.com/", nil)
	page.On("Title", mock.Anything).Return("Example Domain", nil)
	page.On("AccessibilityTree", mock.Anything).Return(loopTestTree, nil)
	page.On("VisibleText", mock.Anything).Return("Example body text", nil)

	agent := New(zap.NewNop(), loopTestConfig(), page, llm, nil)
	result, err := agent.Run(context.Background(), "check the page")
	require.NoError(t, err)

	assert.Equal(t, StatusDone, result.Status)
	assert.Equal(t, 2, result.Steps)

	requests := llm.Requests()
	require.Len(t, requests, 1)
	assert.Contains(t, requests[0].UserPrompt, "- OBSERVE: FAILED")
	assert.Contains(t, requests[0].UserPrompt, "target crashed")
}

// Verifies a cancelled context aborts before any page interaction.
func TestAgentRun_CancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agent := New(zap.NewNop(), loopTestConfig(), &mocks.MockPage{}, llmclient.NewScriptedClient(), nil)
	result, err := agent.Run(ctx, "anything at all")
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, StatusAborted, result.Status)
	assert.Zero(t, result.Steps)
}

// Verifies a blank task is rejected up front.
func TestAgentRun_EmptyTaskRejected(t *testing.T) {
	agent := New(zap.NewNop(), loopTestConfig(), &mocks.MockPage{}, llmclient.NewScriptedClient(), nil)
	result, err := agent.Run(context.Background(), "   ")
	require.Error(t, err)

	assert.Equal(t, StatusAborted, result.Status)
	assert.Equal(t, "no task provided", result.Message)
}
