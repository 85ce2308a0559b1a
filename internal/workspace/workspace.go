// Package workspace implements the isolated per-worker filesystem lifecycle:
// workspaces are detached git worktrees at ./.koval_worktrees/agent_{i},
// created before a worker runs and destroyed unconditionally when it finishes.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

const worktreesDir = ".koval_worktrees"

// dirName returns the worktree's path relative to process cwd for worker id.
func dirName(id int) string {
	return filepath.Join(worktreesDir, fmt.Sprintf("agent_%d", id))
}

// Setup creates a detached git worktree for worker id and returns its
// absolute path so downstream tools see stable paths regardless of their
// own cwd. Idempotent: an existing path at the target is torn down first.
// If `git worktree add` fails, teardown of the target path is still attempted.
func Setup(ctx context.Context, id int) (string, error) {
	relPath := dirName(id)

	if err := os.MkdirAll(worktreesDir, 0o755); err != nil {
		return "", fmt.Errorf("workspace setup: create %s: %w", worktreesDir, err)
	}

	if _, err := os.Stat(relPath); err == nil {
		if err := Teardown(ctx, relPath); err != nil {
			return "", fmt.Errorf("workspace setup: teardown stale worktree: %w", err)
		}
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "--detach", relPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = Teardown(ctx, relPath)
		return "", fmt.Errorf("workspace setup: git worktree add failed: %w: %s", err, out)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("workspace setup: getwd: %w", err)
	}
	return filepath.Join(cwd, relPath), nil
}

// Teardown removes the worktree at path. Succeeds trivially if the path
// does not exist. Falls back to a recursive filesystem delete if the git
// command fails but the directory still exists — e.g. its .git link file
// was already removed out-of-band.
func Teardown(ctx context.Context, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", path)
	if err := cmd.Run(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return fmt.Errorf("workspace teardown: fallback remove failed: %w", rmErr)
			}
		}
	}
	return nil
}
