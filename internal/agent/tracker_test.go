package agent

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

// Verifies the single-snapshot policy: updating returns the superseded
// snapshot and only the newest one is retained.
func TestContextTracker_SnapshotRetention(t *testing.T) {
	t.Parallel()
	tracker := NewContextTracker(0)

	assert.Nil(t, tracker.CurrentSnapshot())

	first := &schemas.PageSnapshot{Title: "First", Version: 1}
	require.Nil(t, tracker.UpdateSnapshot(first))
	assert.Same(t, first, tracker.CurrentSnapshot())

	second := &schemas.PageSnapshot{Title: "Second", Version: 2}
	assert.Same(t, first, tracker.UpdateSnapshot(second))
	assert.Same(t, second, tracker.CurrentSnapshot())
}

// Verifies the history bound: the oldest entries fall off past fifty and
// recent entries come back most recent first.
func TestContextTracker_HistoryBounds(t *testing.T) {
	t.Parallel()
	tracker := NewContextTracker(0)

	for i := 0; i < 60; i++ {
		tracker.RecordAction(fmt.Sprintf("SCROLL %d", i), true, "")
	}

	assert.Equal(t, maxHistoryLength, tracker.HistoryLength())

	recent := tracker.RecentActions(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "SCROLL 59", recent[0].Action)
	assert.Equal(t, "SCROLL 58", recent[1].Action)

	all := tracker.RecentActions(1000)
	require.Len(t, all, maxHistoryLength)
	assert.Equal(t, "SCROLL 10", all[len(all)-1].Action, "entries 0-9 should have been trimmed")
}

// Verifies the 80% warning threshold on the model-call budget.
func TestContextTracker_ApproachingLimit(t *testing.T) {
	t.Parallel()
	tracker := NewContextTracker(30)

	for i := 0; i < 23; i++ {
		tracker.RecordLLMCall(10, "other")
	}
	assert.False(t, tracker.ApproachingLimit())

	tracker.RecordLLMCall(10, "other")
	assert.True(t, tracker.ApproachingLimit())
	assert.Equal(t, 24, tracker.LLMCalls())
}

// Verifies token accounting: per-category tallies, the unknown-category
// fallback, and that only model calls count toward the total.
func TestContextTracker_TokenAccounting(t *testing.T) {
	t.Parallel()
	tracker := NewContextTracker(0)

	tracker.TrackTokens("snapshot", 100)
	tracker.TrackTokens("made-up-category", 50)
	tracker.RecordLLMCall(25, "history")

	byCategory := tracker.TokensByCategory()
	assert.Equal(t, 100, byCategory["snapshot"])
	assert.Equal(t, 50, byCategory["other"])
	assert.Equal(t, 25, byCategory["history"])

	assert.Equal(t, 1, tracker.LLMCalls())
	assert.Equal(t, 25, tracker.TotalTokens())
}

// Verifies compression: the summary's counts, verb breakdown, success rate,
// and current-state lines, plus the trim of the detailed history to five.
func TestContextTracker_CompressTaskMemory(t *testing.T) {
	t.Parallel()
	tracker := NewContextTracker(0)
	tracker.UpdateSnapshot(&schemas.PageSnapshot{Title: "Results", Version: 7})

	assert.False(t, tracker.ShouldCompress())
	for i := 0; i < 8; i++ {
		tracker.RecordAction("CLICK elem-0", true, "Clicked")
	}
	for i := 0; i < 4; i++ {
		tracker.RecordAction("SCROLL down", false, "Failed to scroll down")
	}
	assert.True(t, tracker.ShouldCompress())

	summary := tracker.CompressTaskMemory("https://example.com/results", "find the pricing table")

	assert.Contains(t, summary, "Completed 12 actions:")
	assert.Contains(t, summary, "Actions: 8 click(s), 4 scroll(s)")
	assert.Contains(t, summary, "Success rate: 8/12 (67%)")
	assert.Contains(t, summary, "URL: https://example.com/results")
	assert.Contains(t, summary, "Task: find the pricing table")
	assert.Contains(t, summary, "Page: Results")

	assert.Equal(t, 5, tracker.HistoryLength(), "detailed history should shrink to the last five entries")
	assert.Equal(t, summary, tracker.CompressedSummary())

	// The five survivors are the most recent entries, the failed scrolls
	// among them.
	recent := tracker.RecentActions(5)
	require.Len(t, recent, 5)
	assert.Equal(t, "SCROLL down", recent[0].Action)
}

// Verifies compression on an empty history is a no-op.
func TestContextTracker_CompressEmptyHistory(t *testing.T) {
	t.Parallel()
	tracker := NewContextTracker(0)

	assert.Empty(t, tracker.CompressTaskMemory("https://example.com", "task"))
	assert.Empty(t, tracker.CompressedSummary())
}

// Verifies an untitled page falls back to a placeholder in the summary.
func TestContextTracker_CompressUntitledPage(t *testing.T) {
	t.Parallel()
	tracker := NewContextTracker(0)
	tracker.UpdateSnapshot(&schemas.PageSnapshot{Version: 1})
	tracker.RecordAction("WAIT 2s", true, "Waited 2 seconds")

	summary := tracker.CompressTaskMemory("", "")
	assert.Contains(t, summary, "Page: Untitled")
	assert.NotContains(t, summary, "URL:")
	assert.NotContains(t, summary, "Task:")
}

// Verifies Reset clears every piece of tracked state.
func TestContextTracker_Reset(t *testing.T) {
	t.Parallel()
	tracker := NewContextTracker(10)
	tracker.UpdateSnapshot(&schemas.PageSnapshot{Title: "Page", Version: 1})
	tracker.RecordAction("CLICK elem-0", true, "Clicked")
	tracker.RecordLLMCall(40, "snapshot")
	tracker.CompressTaskMemory("https://example.com", "task")

	tracker.Reset()

	assert.Nil(t, tracker.CurrentSnapshot())
	assert.Zero(t, tracker.HistoryLength())
	assert.Zero(t, tracker.LLMCalls())
	assert.Zero(t, tracker.TotalTokens())
	assert.Empty(t, tracker.CompressedSummary())
	for category, tokens := range tracker.TokensByCategory() {
		assert.Zero(t, tokens, "category %s should be reset", category)
	}
}
