package recovery

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

const defaultStuckThreshold = 5

// doneSignalFragment identifies a task-completion result by its message.
// The done tool formats its message as "Task completed: ...".
const doneSignalFragment = "task completed"

// StuckDetector notices when the loop is burning actions without getting
// anywhere. It is the one stateful piece of this package; one instance
// belongs to one task and is reset between tasks.
//
// Progress means any of: the snapshot version advanced past the last one
// recorded, the page landed on a URL outside the last three distinct URLs
// visited, or the action declared the task complete. A success without
// progress still counts against the actions-without-progress budget.
type StuckDetector struct {
	logger               *zap.Logger
	threshold            int
	consecutiveFailures  int
	actionsSinceProgress int
	urlHistory           []string
	lastVersion          int64
}

// NewStuckDetector creates a detector that declares stuck at threshold
// consecutive failures, or at twice that many actions without progress.
// Non-positive thresholds fall back to 5.
func NewStuckDetector(logger *zap.Logger, threshold int) *StuckDetector {
	if threshold <= 0 {
		threshold = defaultStuckThreshold
	}
	return &StuckDetector{logger: logger.Named("stuck"), threshold: threshold}
}

// RecordAction feeds one action's outcome into the detector. currentURL may
// be empty when the page could not report one; snapshotVersion is the
// registry version current after the action.
func (d *StuckDetector) RecordAction(result schemas.ActionResult, currentURL string, snapshotVersion int64) {
	wasStuck := d.IsStuck()

	if result.Succeeded() {
		if d.isProgress(result, currentURL) {
			d.actionsSinceProgress = 0
			d.consecutiveFailures = 0
		} else {
			d.actionsSinceProgress++
		}
	} else {
		d.consecutiveFailures++
		d.actionsSinceProgress++
	}

	if currentURL != "" && !d.visited(currentURL) {
		d.urlHistory = append(d.urlHistory, currentURL)
	}
	d.lastVersion = snapshotVersion

	if !wasStuck && d.IsStuck() {
		d.logger.Warn("Stuck condition entered",
			zap.Int("consecutive_failures", d.consecutiveFailures),
			zap.Int("actions_since_progress", d.actionsSinceProgress),
		)
	}
}

// IsStuck reports whether either stuck condition currently holds.
func (d *StuckDetector) IsStuck() bool {
	return d.consecutiveFailures >= d.threshold ||
		d.actionsSinceProgress >= d.threshold*2
}

// Explain names the triggered condition(s) and summarizes the recent URL
// history, so a human or the planning layer can see the shape of the loop
// rather than a bare boolean.
func (d *StuckDetector) Explain() string {
	var parts []string
	if d.consecutiveFailures >= d.threshold {
		parts = append(parts, fmt.Sprintf("%d consecutive failures", d.consecutiveFailures))
	}
	if d.actionsSinceProgress >= d.threshold*2 {
		parts = append(parts, fmt.Sprintf("%d actions without meaningful progress", d.actionsSinceProgress))
	}
	switch {
	case len(d.urlHistory) == 0:
	case len(d.urlHistory) <= 3:
		parts = append(parts, fmt.Sprintf("only visited %d URL(s): %s",
			len(d.urlHistory), strings.Join(d.urlHistory, ", ")))
	default:
		recent := d.urlHistory[len(d.urlHistory)-3:]
		parts = append(parts, fmt.Sprintf("cycling between %d URLs (most recent: %s)",
			len(d.urlHistory), strings.Join(recent, ", ")))
	}
	return "Agent appears stuck: " + strings.Join(parts, ", ") + "."
}

// Reset clears all state for a new task, including the URL history and the
// version watermark.
func (d *StuckDetector) Reset() {
	d.consecutiveFailures = 0
	d.actionsSinceProgress = 0
	d.urlHistory = nil
	d.lastVersion = 0
}

func (d *StuckDetector) isProgress(result schemas.ActionResult, currentURL string) bool {
	if success, ok := result.(schemas.ActionSuccess); ok {
		if snap := success.Snapshot(); snap != nil && snap.Version > d.lastVersion {
			return true
		}
	}
	if currentURL != "" && !d.recentlyVisited(currentURL) {
		return true
	}
	return strings.Contains(strings.ToLower(result.Message()), doneSignalFragment)
}

// recentlyVisited reports whether the URL is among the last three distinct
// URLs in the history.
func (d *StuckDetector) recentlyVisited(url string) bool {
	start := len(d.urlHistory) - 3
	if start < 0 {
		start = 0
	}
	for _, u := range d.urlHistory[start:] {
		if u == url {
			return true
		}
	}
	return false
}

func (d *StuckDetector) visited(url string) bool {
	for _, u := range d.urlHistory {
		if u == url {
			return true
		}
	}
	return false
}
