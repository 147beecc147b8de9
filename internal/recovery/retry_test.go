package recovery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/config"
	"github.com/xkilldash9x/scout-cli/internal/mocks"
	"github.com/xkilldash9x/scout-cli/internal/recovery"
	"github.com/xkilldash9x/scout-cli/internal/registry"
)

// fastAgentConfig keeps the real backoff waits down in the microsecond
// range so escalation tests stay quick.
func fastAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		RetryAttempts:  3,
		InitialBackoff: 100 * time.Microsecond,
	}
}

func emptyObserve(ctx context.Context) (*schemas.PageSnapshot, error) {
	return &schemas.PageSnapshot{URL: "https://example.com"}, nil
}

func failingAction(msg string) recovery.ActionFunc {
	return func(ctx context.Context) schemas.ActionResult {
		return schemas.NewActionFailure(msg, nil)
	}
}

func TestRetryPassesThroughInitialSuccess(t *testing.T) {
	t.Parallel()

	page := &mocks.MockPage{}
	reg := registry.New(zap.NewNop())
	engine := recovery.NewEngine(zap.NewNop(), page, reg, emptyObserve, fastAgentConfig())

	initial := schemas.NewActionSuccess("Clicked [button] \"Submit\" (elem-0)")
	invoked := 0
	outcome := engine.Retry(context.Background(), initial, nil, func(ctx context.Context) schemas.ActionResult {
		invoked++
		return initial
	})

	assert.True(t, outcome.Succeeded)
	assert.Equal(t, initial, outcome.FinalResult)
	assert.Empty(t, outcome.Attempts)
	assert.Zero(t, invoked)
}

func TestRetryFirstAttemptSignalsReobservation(t *testing.T) {
	t.Parallel()

	page := &mocks.MockPage{}
	reg := registry.New(zap.NewNop())
	engine := recovery.NewEngine(zap.NewNop(), page, reg, emptyObserve, fastAgentConfig())

	invoked := 0
	outcome := engine.Retry(context.Background(), schemas.NewActionFailure("click timed out", nil), nil,
		func(ctx context.Context) schemas.ActionResult {
			invoked++
			return schemas.NewActionFailure("click timed out", nil)
		})

	assert.False(t, outcome.Succeeded)
	assert.True(t, outcome.NeedsReobserve)
	assert.False(t, outcome.AskUser)
	require.Len(t, outcome.Attempts, 1)
	assert.Equal(t, recovery.StrategyReobserveAndDismiss, outcome.Attempts[0].Strategy)
	// The first strategy defers to the caller; the action is never re-run.
	assert.Zero(t, invoked)
}

func TestRetrySecondAttemptWaitsForStabilityAndReinvokes(t *testing.T) {
	t.Parallel()

	page := &mocks.MockPage{}
	page.On("WaitForStability", mock.Anything).Return(nil).Once()
	reg := registry.New(zap.NewNop())
	engine := recovery.NewEngine(zap.NewNop(), page, reg, emptyObserve, fastAgentConfig())

	prior := []recovery.Attempt{{Strategy: recovery.StrategyReobserveAndDismiss, Description: "first"}}
	invoked := 0
	outcome := engine.Retry(context.Background(), schemas.NewActionFailure("click timed out", nil), prior,
		func(ctx context.Context) schemas.ActionResult {
			invoked++
			return schemas.NewActionSuccess("Clicked [button] \"Submit\" (elem-0)")
		})

	assert.True(t, outcome.Succeeded)
	assert.Equal(t, 1, invoked)
	require.Len(t, outcome.Attempts, 2)
	assert.Equal(t, recovery.StrategyWaitForStability, outcome.Attempts[1].Strategy)
	page.AssertExpectations(t)
}

func TestRetryEscalatesThroughDistinctStrategies(t *testing.T) {
	t.Parallel()

	page := &mocks.MockPage{}
	page.On("WaitForStability", mock.Anything).Return(nil).Once()
	reg := registry.New(zap.NewNop())
	engine := recovery.NewEngine(zap.NewNop(), page, reg, emptyObserve, fastAgentConfig())

	ctx := context.Background()
	action := failingAction("element not found")

	first := engine.Retry(ctx, schemas.NewActionFailure("element not found", nil), nil, action)
	require.True(t, first.NeedsReobserve)

	// The caller's re-observed re-invocation also fails, so escalation
	// resumes with the attempt history carried over.
	second := engine.Retry(ctx, action(ctx), first.Attempts, action)

	assert.False(t, second.Succeeded)
	assert.True(t, second.AskUser)
	assert.False(t, second.NeedsReobserve)
	require.Len(t, second.Attempts, 3)

	tags := []recovery.Strategy{
		second.Attempts[0].Strategy,
		second.Attempts[1].Strategy,
		second.Attempts[2].Strategy,
	}
	assert.Equal(t, []recovery.Strategy{
		recovery.StrategyReobserveAndDismiss,
		recovery.StrategyWaitForStability,
		recovery.StrategyExtendedWaitOverlays,
	}, tags)
	for i := 1; i < len(tags); i++ {
		assert.NotEqual(t, tags[i-1], tags[i], "consecutive attempts must use different strategies")
	}
	page.AssertExpectations(t)
}

func TestRetryThirdAttemptDismissesOverlaysBeforeReinvoking(t *testing.T) {
	t.Parallel()

	reg := registry.New(zap.NewNop())
	registered, version := reg.RegisterElements([]schemas.InteractiveElement{
		{Role: "dialog", Name: "Promo popup"},
		{Role: "button", Name: "Close"},
	})
	observe := func(ctx context.Context) (*schemas.PageSnapshot, error) {
		return &schemas.PageSnapshot{URL: "https://example.com", Elements: registered, Version: version}, nil
	}

	page := &mocks.MockPage{}
	page.On("Click", mock.Anything, schemas.Locator{Role: "button", Name: "Close"}).Return(nil).Once()
	engine := recovery.NewEngine(zap.NewNop(), page, reg, observe, fastAgentConfig())

	prior := []recovery.Attempt{
		{Strategy: recovery.StrategyReobserveAndDismiss},
		{Strategy: recovery.StrategyWaitForStability},
	}
	invoked := 0
	outcome := engine.Retry(context.Background(), schemas.NewActionFailure("click intercepted", nil), prior,
		func(ctx context.Context) schemas.ActionResult {
			invoked++
			return schemas.NewActionSuccess("Clicked [button] \"Buy\" (elem-2)")
		})

	assert.True(t, outcome.Succeeded)
	assert.Equal(t, 1, invoked)
	require.Len(t, outcome.Attempts, 3)
	assert.Equal(t, recovery.StrategyExtendedWaitOverlays, outcome.Attempts[2].Strategy)
	assert.Contains(t, outcome.Attempts[2].Description, "Dismissed 1 of 1 overlay(s)")
	page.AssertExpectations(t)
}

func TestRetryObserveFailureStillReinvokes(t *testing.T) {
	t.Parallel()

	page := &mocks.MockPage{}
	reg := registry.New(zap.NewNop())
	observe := func(ctx context.Context) (*schemas.PageSnapshot, error) {
		return nil, errors.New("tree fetch failed")
	}
	engine := recovery.NewEngine(zap.NewNop(), page, reg, observe, fastAgentConfig())

	prior := []recovery.Attempt{
		{Strategy: recovery.StrategyReobserveAndDismiss},
		{Strategy: recovery.StrategyWaitForStability},
	}
	invoked := 0
	outcome := engine.Retry(context.Background(), schemas.NewActionFailure("click intercepted", nil), prior,
		func(ctx context.Context) schemas.ActionResult {
			invoked++
			return schemas.NewActionSuccess("Clicked [button] \"Buy\" (elem-0)")
		})

	assert.True(t, outcome.Succeeded)
	assert.Equal(t, 1, invoked)
}

func TestRetryCancelledContextStopsEscalation(t *testing.T) {
	t.Parallel()

	page := &mocks.MockPage{}
	reg := registry.New(zap.NewNop())
	engine := recovery.NewEngine(zap.NewNop(), page, reg, emptyObserve, fastAgentConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	invoked := 0
	outcome := engine.Retry(ctx, schemas.NewActionFailure("click timed out", nil), nil,
		func(c context.Context) schemas.ActionResult {
			invoked++
			return schemas.NewActionFailure("click timed out", nil)
		})

	assert.False(t, outcome.Succeeded)
	assert.False(t, outcome.AskUser)
	assert.False(t, outcome.NeedsReobserve)
	assert.Empty(t, outcome.Attempts)
	assert.Zero(t, invoked)
}

func TestNeedsReobservation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result schemas.ActionResult
		want   bool
	}{
		{
			name:   "success never needs reobservation",
			result: schemas.NewActionSuccess("Clicked [button] \"Submit\" (elem-0)"),
			want:   false,
		},
		{
			name:   "stale reference",
			result: schemas.NewActionFailure("element is stale", nil),
			want:   true,
		},
		{
			name:   "not found in error",
			result: schemas.NewActionFailure("click failed", errors.New("element not found")),
			want:   true,
		},
		{
			name:   "timeout",
			result: schemas.NewActionFailure("click timed out", errors.New("context deadline exceeded: timeout")),
			want:   true,
		},
		{
			name:   "detached node",
			result: schemas.NewActionFailure("node detached from document", nil),
			want:   true,
		},
		{
			name:   "unrelated failure",
			result: schemas.NewActionFailure("field is read-only", nil),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, recovery.NeedsReobservation(tt.result))
		})
	}
}
