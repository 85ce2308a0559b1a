// Package reviewer implements the read-only verifier agent: it judges
// whether a swarm worker's subtask was completed, and derives a suggested
// verification command from workspace heuristics.
package reviewer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/koval/koval/internal/agent"
	"github.com/koval/koval/internal/chatclient"
	"github.com/koval/koval/internal/protocol"
	"github.com/koval/koval/internal/tools"
)

const systemPromptTemplate = `You are the Lead Reviewer and Planner.
Your job is to verify that the sub-agent has correctly completed their assigned task.

You are working in: %s

1. Analyze the task description.
2. Explore the files or run tests to verify correctness.
3. If the work is correct, respond with exactly 'APPROVED'.
4. If the work is incorrect or incomplete, explain what is wrong and provide specific instructions to fix it.

Do not fix it yourself. Your job is to Review.`

// Reviewer wraps an inner agent equipped only with read-oriented tools
// (shell, read_file, list_dir — no write).
type Reviewer struct {
	agent   *agent.Agent
	workDir string
}

// New constructs a Reviewer bound to workDir, seeded with its system prompt.
func New(client *chatclient.Client, model, workDir string) *Reviewer {
	registry := tools.NewRegistry()
	registry.Register(tools.NewShellTool(workDir))
	registry.Register(&tools.ReadFileTool{WorkDir: workDir})
	registry.Register(&tools.ListDirTool{WorkDir: workDir})

	a := agent.New(client, model, registry)
	a.AddMessage(protocol.SystemMessage(fmt.Sprintf(systemPromptTemplate, workDir)))

	return &Reviewer{agent: a, workDir: workDir}
}

// DetectTestCommand is a pure function of file presence at the workspace
// root, checked in priority order: rust > js (yarn > pnpm > npm) > python >
// python-default.
func DetectTestCommand(dir string) string {
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(dir, name))
		return err == nil
	}

	if exists("Cargo.toml") {
		return "cargo test"
	}
	if exists("package.json") {
		switch {
		case exists("yarn.lock"):
			return "yarn test"
		case exists("pnpm-lock.yaml"):
			return "pnpm test"
		default:
			return "npm test"
		}
	}
	if exists("pyproject.toml") || exists("requirements.txt") {
		return "python3 -m pytest"
	}
	return "python3 -m pytest"
}

// Review appends a user prompt describing the completed task and a
// suggested verification command, runs the inner agent turn, and inspects
// the last assistant message for the literal token "APPROVED".
func (r *Reviewer) Review(ctx context.Context, task string) (approved bool, feedback string, err error) {
	suggested := DetectTestCommand(r.workDir)

	prompt := fmt.Sprintf(`The sub-agent reports that the task '%s' is complete.
Please verify this.

Suggested verification command based on file structure: '%s'.
You may run this command or check files manually.

Is the task completed correctly?
Response must start with 'APPROVED' if good.`, task, suggested)

	r.agent.AddMessage(protocol.UserMessage(prompt))

	if err := r.agent.Run(ctx, io.Discard); err != nil {
		return false, "", fmt.Errorf("reviewer: %w", err)
	}

	if len(r.agent.History) == 0 {
		return false, "Reviewer provided no output.", nil
	}
	last := r.agent.History[len(r.agent.History)-1]
	content := strings.TrimSpace(last.ContentText())
	if content == "" {
		return false, "Reviewer provided no output.", nil
	}
	if strings.Contains(content, "APPROVED") {
		return true, content, nil
	}
	return false, content, nil
}
