// Package swarm implements the bounded-concurrency orchestrator: plan, fan
// out to a semaphore-gated pool of workers, each running its own agent and
// reviewer in an isolated workspace with a reviewer-driven retry loop.
package swarm

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/koval/koval/internal/agent"
	"github.com/koval/koval/internal/chatclient"
	"github.com/koval/koval/internal/planner"
	"github.com/koval/koval/internal/protocol"
	"github.com/koval/koval/internal/reviewer"
	"github.com/koval/koval/internal/tools"
	"github.com/koval/koval/internal/workspace"
)

// maxRetries bounds the number of attempts (agent run plus review) per subtask.
const maxRetries = 3

// WorkerResult is the per-worker outcome reported after Run returns. The
// orchestrator never fails because one worker failed; results are purely
// informational/loggable.
type WorkerResult struct {
	Index    int
	Task     string
	Success  bool
	Attempts int
	Err      error
}

// Orchestrator plans a goal and fans the resulting subtasks out to bounded
// workers.
type Orchestrator struct {
	client     *chatclient.Client
	model      string
	maxWorkers int64
}

// New constructs an Orchestrator. maxWorkers sizes the admission semaphore.
func New(client *chatclient.Client, model string, maxWorkers int) *Orchestrator {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Orchestrator{client: client, model: model, maxWorkers: int64(maxWorkers)}
}

// Run plans the goal, then spawns one worker per subtask, admitting at most
// maxWorkers concurrently in planning order. It returns once every worker
// has terminated (success or give-up).
func (o *Orchestrator) Run(ctx context.Context, goal string) ([]WorkerResult, error) {
	log.Info().Str("goal", goal).Msg("swarm: planning")

	subtasks, err := planner.Plan(ctx, o.client, o.model, goal)
	if err != nil {
		return nil, fmt.Errorf("swarm: %w", err)
	}
	log.Info().Strs("plan", subtasks).Msg("swarm: plan received")

	sem := semaphore.NewWeighted(o.maxWorkers)
	results := make([]WorkerResult, len(subtasks))

	var wg sync.WaitGroup
	for i, task := range subtasks {
		// Acquire on the orchestrator goroutine, before spawning, so
		// planning order controls admission order.
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = WorkerResult{Index: i, Task: task, Err: fmt.Errorf("admission cancelled: %w", err)}
			continue
		}

		wg.Add(1)
		go func(i int, task string) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = o.runWorker(ctx, i, task)
		}(i, task)
	}

	wg.Wait()
	log.Info().Msg("swarm: run complete")
	return results, nil
}

// runWorker creates an isolated workspace, seeds a fresh agent and
// reviewer, makes up to maxRetries attempts, and tears down the workspace
// unconditionally.
func (o *Orchestrator) runWorker(ctx context.Context, i int, task string) WorkerResult {
	logger := log.With().Int("worker", i).Logger()
	logger.Info().Str("task", task).Msg("worker: starting")

	workDir, err := workspace.Setup(ctx, i)
	if err != nil {
		logger.Error().Err(err).Msg("worker: workspace setup failed")
		return WorkerResult{Index: i, Task: task, Err: fmt.Errorf("workspace setup: %w", err)}
	}
	defer func() {
		if tErr := workspace.Teardown(ctx, workDir); tErr != nil {
			logger.Error().Err(tErr).Msg("worker: workspace teardown failed")
		}
	}()

	registry := tools.NewRegistry()
	registry.Register(tools.NewShellTool(workDir))
	registry.Register(&tools.ReadFileTool{WorkDir: workDir})
	registry.Register(&tools.WriteFileTool{WorkDir: workDir})
	registry.Register(&tools.ListDirTool{WorkDir: workDir})

	a := agent.New(o.client, o.model, registry)
	rv := reviewer.New(o.client, o.model, workDir)

	a.AddMessage(protocol.SystemMessage(fmt.Sprintf(
		`You are a specialized Swarm Agent working on task #%d: '%s'.
Execute this task efficiently.
You are working in an isolated git worktree at %s.
After you complete your work, a Lead Reviewer will verify your work.
If they reject it, you must fix the issues.`, i, task, workDir)))
	a.AddMessage(protocol.UserMessage(fmt.Sprintf("Please execute: %s", task)))

	attempts := 0
	for attempts < maxRetries {
		attempts++
		logger.Info().Int("attempt", attempts).Int("max", maxRetries).Msg("worker: execution attempt")

		if err := a.Run(ctx, io.Discard); err != nil {
			logger.Error().Err(err).Msg("worker: agent run failed")
			return WorkerResult{Index: i, Task: task, Attempts: attempts, Err: fmt.Errorf("agent run: %w", err)}
		}

		logger.Info().Msg("worker: requesting review")
		approved, feedback, err := rv.Review(ctx, task)
		if err != nil {
			logger.Error().Err(err).Msg("worker: reviewer crashed")
			return WorkerResult{Index: i, Task: task, Attempts: attempts, Err: fmt.Errorf("reviewer: %w", err)}
		}

		if approved {
			logger.Info().Msg("worker: reviewer approved")
			return WorkerResult{Index: i, Task: task, Success: true, Attempts: attempts}
		}

		logger.Warn().Str("feedback", feedback).Msg("worker: reviewer rejected")
		a.AddMessage(protocol.UserMessage(fmt.Sprintf(
			"The Lead Reviewer rejected your work. Please fix the issues based on this feedback:\n\n%s", feedback)))
	}

	logger.Warn().Int("attempts", attempts).Msg("worker: exhausted retries without approval")
	return WorkerResult{Index: i, Task: task, Attempts: attempts}
}
