package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

const (
	maxHistoryLength    = 50
	compressionInterval = 10
	defaultCallLimit    = 30
)

// ContextTracker bounds what accumulates in the prompt across a task run:
// exactly one snapshot is retained, the action history is trimmed, and
// token spend is tallied by category. It belongs to a single task goroutine
// and is not safe for concurrent use.
type ContextTracker struct {
	callLimit         int
	current           *schemas.PageSnapshot
	history           []ActionRecord
	totalLLMCalls     int
	totalTokens       int
	tokensByCategory  map[string]int
	compressedSummary string
}

// NewContextTracker creates a tracker that flags ApproachingLimit at 80% of
// callLimit. Non-positive limits fall back to 30.
func NewContextTracker(callLimit int) *ContextTracker {
	if callLimit <= 0 {
		callLimit = defaultCallLimit
	}
	return &ContextTracker{
		callLimit: callLimit,
		tokensByCategory: map[string]int{
			"snapshot": 0,
			"history":  0,
			"tools":    0,
			"other":    0,
		},
	}
}

// UpdateSnapshot replaces the retained snapshot and returns the superseded
// one, or nil on the first observation.
func (t *ContextTracker) UpdateSnapshot(snapshot *schemas.PageSnapshot) *schemas.PageSnapshot {
	previous := t.current
	t.current = snapshot
	return previous
}

// CurrentSnapshot returns the retained snapshot, or nil before the first
// observation.
func (t *ContextTracker) CurrentSnapshot() *schemas.PageSnapshot {
	return t.current
}

// RecordAction appends one entry to the history, trimming the oldest entries
// past the bound.
func (t *ContextTracker) RecordAction(action string, success bool, message string) {
	t.history = append(t.history, ActionRecord{Action: action, Success: success, Message: message})
	if len(t.history) > maxHistoryLength {
		t.history = t.history[len(t.history)-maxHistoryLength:]
	}
}

// RecentActions returns up to count history entries, most recent first.
func (t *ContextTracker) RecentActions(count int) []ActionRecord {
	if count > len(t.history) {
		count = len(t.history)
	}
	out := make([]ActionRecord, 0, count)
	for i := len(t.history) - 1; i >= len(t.history)-count; i-- {
		out = append(out, t.history[i])
	}
	return out
}

// HistoryLength returns the number of retained history entries.
func (t *ContextTracker) HistoryLength() int { return len(t.history) }

// RecordLLMCall counts one model call and its estimated token spend under
// the given category (snapshot, history, tools, or other).
func (t *ContextTracker) RecordLLMCall(tokens int, category string) {
	t.totalLLMCalls++
	t.totalTokens += tokens
	t.TrackTokens(category, tokens)
}

// TrackTokens adds token spend to a category. Unknown categories tally
// under "other".
func (t *ContextTracker) TrackTokens(category string, tokens int) {
	if _, ok := t.tokensByCategory[category]; !ok {
		category = "other"
	}
	t.tokensByCategory[category] += tokens
}

// TokensByCategory returns a copy of the per-category token tallies.
func (t *ContextTracker) TokensByCategory() map[string]int {
	out := make(map[string]int, len(t.tokensByCategory))
	for k, v := range t.tokensByCategory {
		out[k] = v
	}
	return out
}

// LLMCalls returns how many model calls have been recorded.
func (t *ContextTracker) LLMCalls() int { return t.totalLLMCalls }

// TotalTokens returns the estimated token spend across all calls.
func (t *ContextTracker) TotalTokens() int { return t.totalTokens }

// ApproachingLimit reports whether the run has used 80% or more of its
// model-call budget.
func (t *ContextTracker) ApproachingLimit() bool {
	return t.totalLLMCalls >= t.callLimit*8/10
}

// ShouldCompress reports whether the history has grown enough to be worth
// compressing into a summary.
func (t *ContextTracker) ShouldCompress() bool {
	return len(t.history) >= compressionInterval
}

// CompressTaskMemory folds the full history into a prose summary and trims
// the detailed history to the last five entries. The summary replaces what
// the trimmed entries would have contributed to the prompt.
func (t *ContextTracker) CompressTaskMemory(currentURL, currentTask string) string {
	if len(t.history) == 0 {
		return ""
	}

	totalCount := len(t.history)
	actionCounts := make(map[string]int)
	successful, failed := 0, 0
	for _, entry := range t.history {
		// Count by the action verb, not the full history line.
		verb := entry.Action
		if i := strings.IndexByte(verb, ' '); i > 0 {
			verb = verb[:i]
		}
		actionCounts[verb]++
		if entry.Success {
			successful++
		} else {
			failed++
		}
	}

	parts := []string{fmt.Sprintf("Completed %d actions:", totalCount)}

	if len(actionCounts) > 0 {
		verbs := make([]string, 0, len(actionCounts))
		for verb := range actionCounts {
			verbs = append(verbs, verb)
		}
		sort.Strings(verbs)
		breakdown := make([]string, 0, len(verbs))
		for _, verb := range verbs {
			breakdown = append(breakdown, fmt.Sprintf("%d %s(s)", actionCounts[verb], strings.ToLower(verb)))
		}
		parts = append(parts, "  Actions: "+strings.Join(breakdown, ", "))
	}

	if total := successful + failed; total > 0 {
		rate := float64(successful) / float64(total) * 100
		parts = append(parts, fmt.Sprintf("  Success rate: %d/%d (%.0f%%)", successful, total, rate))
	}

	parts = append(parts, "\nCurrent state:")
	if currentURL != "" {
		parts = append(parts, "  URL: "+currentURL)
	}
	if currentTask != "" {
		parts = append(parts, "  Task: "+currentTask)
	}
	if t.current != nil {
		title := t.current.Title
		if title == "" {
			title = "Untitled"
		}
		parts = append(parts, "  Page: "+title)
	}

	t.compressedSummary = strings.Join(parts, "\n")

	if recent := 5; recent < totalCount {
		t.history = t.history[totalCount-recent:]
	}
	return t.compressedSummary
}

// CompressedSummary returns the most recent compression output, or an empty
// string when no compression has happened yet.
func (t *ContextTracker) CompressedSummary() string { return t.compressedSummary }

// Reset clears all tracked state for a new task.
func (t *ContextTracker) Reset() {
	t.current = nil
	t.history = nil
	t.totalLLMCalls = 0
	t.totalTokens = 0
	t.compressedSummary = ""
	for k := range t.tokensByCategory {
		t.tokensByCategory[k] = 0
	}
}
