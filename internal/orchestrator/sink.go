package orchestrator

import (
	"context"
	"log/slog"

	"github.com/kazz187/tasksync/internal/task"
)

// AgentSink receives the board after every reconcile, for agents that keep
// their own copy of the tasks assigned to them.
type AgentSink interface {
	Sync(ctx context.Context, tasks []task.Task) error
}

// LogSink only logs how many tasks each agent holds.
type LogSink struct{}

func (LogSink) Sync(ctx context.Context, tasks []task.Task) error {
	perAgent := map[string]int{}
	for _, t := range tasks {
		perAgent[t.AgentID]++
	}
	for id, n := range perAgent {
		slog.DebugContext(ctx, "orchestrator: agent tasks", "agent_id", id, "tasks", n)
	}
	return nil
}
