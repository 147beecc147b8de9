package agent

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

// TaskStatus classifies how a task run ended.
type TaskStatus string

const (
	StatusDone    TaskStatus = "done"    // The model declared the task complete.
	StatusStuck   TaskStatus = "stuck"   // Stuck detection fired and no user guidance arrived.
	StatusLimit   TaskStatus = "limit"   // The step budget ran out first.
	StatusAborted TaskStatus = "aborted" // Cancelled or failed outside the loop's control.
)

// TaskResult is the final outcome of one task run.
type TaskResult struct {
	Status  TaskStatus `json:"status"`
	Message string     `json:"message"`
	Steps   int        `json:"steps"`
}

// ActionRecord is one entry of the bounded action history the tracker keeps.
type ActionRecord struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// A regex to robustly extract a JSON object from a markdown code block.
var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// ParseDecision extracts the action JSON from a model response, tolerating
// markdown fences and surrounding prose, and validates the decoded action.
func ParseDecision(response string) (schemas.Action, error) {
	response = strings.TrimSpace(response)
	var jsonStringToParse string

	matches := jsonBlockRegex.FindStringSubmatch(response)
	if len(matches) > 1 {
		jsonStringToParse = strings.TrimSpace(matches[1])
	} else {
		firstBracket := strings.Index(response, "{")
		lastBracket := strings.LastIndex(response, "}")
		if firstBracket != -1 && lastBracket > firstBracket {
			jsonStringToParse = response[firstBracket : lastBracket+1]
		} else {
			jsonStringToParse = response
		}
	}

	if jsonStringToParse == "" {
		return schemas.Action{}, fmt.Errorf("could not find any JSON in the model response")
	}

	var action schemas.Action
	if err := json.Unmarshal([]byte(jsonStringToParse), &action); err != nil {
		return schemas.Action{}, fmt.Errorf("failed to unmarshal extracted JSON: %w", err)
	}
	if err := action.Validate(); err != nil {
		return schemas.Action{}, fmt.Errorf("model produced an invalid action: %w", err)
	}
	return action, nil
}
