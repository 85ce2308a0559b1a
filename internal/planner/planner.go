// Package planner implements the one-shot model call that decomposes a goal
// into an ordered list of subtask strings.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/koval/koval/internal/chatclient"
	"github.com/koval/koval/internal/protocol"
)

const systemPrompt = `You are a Senior Technical Project Manager.
Your goal is to break down a high-level user request into a list of specific, isolated, actionable coding tasks.
Each task must be clear enough for a junior developer to execute independently.

Return the result strictly as a JSON list of strings.
Do not include markdown formatting or explanation.
Example: ["Create utils.rs file", "Add unit tests for utils.rs", "Update main.rs"]`

// Plan sends one non-streaming chat request and parses the response into a
// subtask list. On any parse failure or empty result, it falls back to
// []string{goal} so the swarm always makes forward progress.
func Plan(ctx context.Context, client *chatclient.Client, model, goal string) ([]string, error) {
	req := protocol.ChatCompletionRequest{
		Model: model,
		Messages: []protocol.Message{
			protocol.SystemMessage(systemPrompt),
			protocol.UserMessage(goal),
		},
	}

	resp, err := client.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}

	tasks, parseErr := parsePlan(resp.ContentText())
	if parseErr != nil {
		log.Warn().Err(parseErr).Str("goal", goal).Msg("planner: falling back to single-task plan")
		return []string{goal}, nil
	}
	if len(tasks) == 0 {
		return []string{goal}, nil
	}
	return tasks, nil
}

// parsePlan strips a surrounding markdown fence and parses the remainder as
// either a top-level array of strings or an object with exactly one
// array-valued field.
func parsePlan(content string) ([]string, error) {
	clean := strings.TrimSpace(content)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)

	var asArray []interface{}
	if err := json.Unmarshal([]byte(clean), &asArray); err == nil {
		return stringsFromValues(asArray), nil
	}

	var asObject map[string]interface{}
	if err := json.Unmarshal([]byte(clean), &asObject); err == nil {
		var arrayFields [][]interface{}
		for _, v := range asObject {
			if arr, ok := v.([]interface{}); ok {
				arrayFields = append(arrayFields, arr)
			}
		}
		if len(arrayFields) == 1 {
			return stringsFromValues(arrayFields[0]), nil
		}
		return nil, nil
	}

	return nil, fmt.Errorf("failed to parse planner JSON: %q", clean)
}

func stringsFromValues(values []interface{}) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
