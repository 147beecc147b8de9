package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

const systemPrompt = `You are Scout, an autonomous agent that controls a web browser to complete tasks.

Each turn you receive the task, your progress so far, and a fresh observation of the current page. The observation lists interactive elements with refs like "elem-0". Refs are reassigned on every observation; only refs from the latest observation are valid.

Respond with a single JSON object and nothing else:
{"thought": "<your reasoning>", "type": "<ACTION>", <parameters>, "rationale": "<one line>"}

Available action types:
- CLICK: Click an element. (Params: ref)
- TYPE: Type text into an element, replacing its contents. (Params: ref, text)
- PRESS: Press a keyboard key such as Enter or Escape. (Params: key)
- SCROLL: Scroll the page. (Params: direction="up"|"down"|"left"|"right", amount in pixels; both optional)
- NAVIGATE: Go to a URL. (Params: url)
- WAIT: Pause for the page to settle. (Params: seconds, 1-10)
- EXTRACT: Pull data from the page. (Params: target="title"|"url"|"text"|"links"|"inputs")
- DONE: Finish the task. (Params: summary)
- ASK_USER: Ask the user for help. (Params: question)

Example: {"thought": "The search box is elem-2.", "type": "TYPE", "ref": "elem-2", "text": "golang jobs", "rationale": "Enter the search query."}

Rules:
- Never guess refs. Use only refs shown in the latest observation.
- Never repeat the exact same failed action. Try a different element, scroll to reveal more content, navigate to a different URL, or wait.
- Use ASK_USER when you need clarification, login credentials, a 2FA code, or a choice between options.
- Use DONE as soon as the task is complete. Include a clear summary of what was accomplished.`

// maxHistoryMessageChars bounds how much of a result message is echoed back
// into the prompt. Extract results in particular can run to thousands of
// characters.
const maxHistoryMessageChars = 200

// RenderSnapshot formats an observation for the model: page identity, the
// element list with refs, then the bounded visible-text excerpt. textLimit
// is the configured excerpt bound, quoted in the heading so the model knows
// text may be cut off.
func RenderSnapshot(snapshot *schemas.PageSnapshot, textLimit int) string {
	if snapshot == nil {
		return "No observation available."
	}

	lines := []string{"Page: " + snapshot.Title, "URL: " + snapshot.URL, "", "Interactive Elements:"}
	for _, elem := range snapshot.Elements {
		line := fmt.Sprintf("- %s: [%s] %q", elem.Ref, elem.Role, elem.Name)
		if elem.ValuePreview != "" {
			line += fmt.Sprintf(" (value: %s)", elem.ValuePreview)
		}
		lines = append(lines, line)
	}
	if len(snapshot.Elements) == 0 {
		lines = append(lines, "  (no interactive elements found)")
	}

	lines = append(lines, "", fmt.Sprintf("Visible Text (first %d chars):\n%s", textLimit, snapshot.VisibleText))

	if len(snapshot.Notes) > 0 {
		lines = append(lines, "", "Notes:")
		for _, note := range snapshot.Notes {
			lines = append(lines, "- "+note)
		}
	}
	return strings.Join(lines, "\n")
}

// buildUserPrompt assembles the per-turn prompt from the task, the tracker's
// compressed memory and recent history, and the current observation.
func buildUserPrompt(task string, tracker *ContextTracker, textLimit int) string {
	var b strings.Builder
	b.WriteString("Task: " + task + "\n")

	if summary := tracker.CompressedSummary(); summary != "" {
		b.WriteString("\nProgress summary:\n" + summary + "\n")
	}

	if recent := tracker.RecentActions(10); len(recent) > 0 {
		b.WriteString("\nRecent actions (most recent first):\n")
		for _, rec := range recent {
			status := "ok"
			if !rec.Success {
				status = "FAILED"
			}
			line := fmt.Sprintf("- %s: %s", rec.Action, status)
			if rec.Message != "" {
				line += " - " + truncateMessage(rec.Message)
			}
			b.WriteString(line + "\n")
		}
	}

	if tracker.ApproachingLimit() {
		fmt.Fprintf(&b, "\nWarning: %d of %d model calls used. Wrap up: prefer DONE or ASK_USER over further exploration.\n",
			tracker.LLMCalls(), tracker.callLimit)
	}

	b.WriteString("\nCurrent observation:\n" + RenderSnapshot(tracker.CurrentSnapshot(), textLimit) + "\n")
	b.WriteString("\nDecide the next action. Respond with a single JSON object.")
	return b.String()
}

func truncateMessage(msg string) string {
	runes := []rune(msg)
	if len(runes) <= maxHistoryMessageChars {
		return msg
	}
	return string(runes[:maxHistoryMessageChars]) + "..."
}

// estimateTokens approximates token spend for budget tracking. Four bytes
// per token is close enough for a warning threshold.
func estimateTokens(s string) int { return len(s) / 4 }
