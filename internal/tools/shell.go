package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/koval/koval/internal/shell"
)

const (
	defaultShellTimeout = 60 * time.Second
	maxShellTimeout     = 600 * time.Second
)

// ShellTool executes shell commands through an in-process POSIX interpreter
// anchored at work_dir. Shell state (cwd, env vars) persists across calls
// within the same tool instance.
type ShellTool struct {
	sh *shell.Shell
}

// NewShellTool creates a ShellTool rooted at workDir.
func NewShellTool(workDir string) *ShellTool {
	return &ShellTool{sh: shell.New(workDir)}
}

func (t *ShellTool) Name() string { return "run_shell_command" }
func (t *ShellTool) Description() string {
	return "Executes a shell command on the local machine, inside the workspace directory."
}

func (t *ShellTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "The command to execute (e.g. 'ls -la', 'grep pattern file')"},
			"timeout": {"type": "integer", "description": "Timeout in seconds (default 60, max 600)"}
		},
		"required": ["command"]
	}`)
}

type shellArgs struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

type shellResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var a shellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Command == "" {
		return nil, fmt.Errorf("missing 'command' argument")
	}

	timeout := defaultShellTimeout
	if a.Timeout > 0 {
		timeout = time.Duration(a.Timeout) * time.Second
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	execErr := t.sh.ExecStream(ctx, a.Command, &stdout, &stderr)
	exitCode := shell.ExitCode(execErr)

	return json.Marshal(shellResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	})
}
