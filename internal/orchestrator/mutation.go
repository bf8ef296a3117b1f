package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/kazz187/tasksync/internal/agent"
	"github.com/kazz187/tasksync/internal/eventbus"
	"github.com/kazz187/tasksync/internal/task"
	"github.com/kazz187/tasksync/pkg/cerr"
)

// Patch lists the fields of an update. Nil fields are left unchanged.
type Patch struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Type        *task.Kind     `json:"type,omitempty"`
	Schedule    *string        `json:"schedule,omitempty"`
	Status      *task.Status   `json:"status,omitempty"`
	Priority    *task.Priority `json:"priority,omitempty"`
	AgentID     *string        `json:"agentId,omitempty"`
	Project     *string        `json:"project,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
}

func (p Patch) validate() error {
	if p.Type != nil && *p.Type != task.KindManual && *p.Type != task.KindCron {
		return cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown task type %q", *p.Type), nil)
	}
	if p.Status != nil && !p.Status.Valid() {
		return cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown status %q", *p.Status), nil)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown priority %q", *p.Priority), nil)
	}
	if p.AgentID != nil && !agent.Known(*p.AgentID) {
		return cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown agent %q", *p.AgentID), nil)
	}
	return nil
}

func (p Patch) apply(t *task.Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Schedule != nil {
		t.Schedule = *p.Schedule
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.AgentID != nil {
		t.AgentID = *p.AgentID
	}
	if p.Project != nil {
		t.Project = *p.Project
	}
	if p.Tags != nil {
		t.Tags = p.Tags
	}
}

// CreateTask adds t to the board. An ID is generated when t has none and
// empty fields get the board defaults.
func (o *Orchestrator) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	if t.AgentID != "" && !agent.Known(t.AgentID) {
		return task.Task{}, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown agent %q", t.AgentID), nil)
	}
	if t.Type != "" && t.Type != task.KindManual && t.Type != task.KindCron {
		return task.Task{}, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown task type %q", t.Type), nil)
	}
	if t.Status != "" && !t.Status.Valid() {
		return task.Task{}, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown status %q", t.Status), nil)
	}
	if t.Priority != "" && !t.Priority.Valid() {
		return task.Task{}, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown priority %q", t.Priority), nil)
	}
	var (
		created task.Task
		opErr   error
	)
	err := o.do(ctx, func(ctx context.Context) {
		t = task.New(t.Clone(), o.defaultAgent)
		if o.index(t.ID) >= 0 {
			opErr = cerr.NewError(cerr.AlreadyExists, fmt.Sprintf("task %s already exists", t.ID), nil)
			return
		}
		o.board = append(o.board, t)
		delete(o.deletes, t.ID)
		delete(o.removals, t.ID)
		if t.IsCron() {
			o.owned[t.ID] = struct{}{}
		}
		o.changed(ctx, t.ID, "created")
		created = t.Clone()
	})
	if err != nil {
		return task.Task{}, err
	}
	return created, opErr
}

// UpdateTask applies p to the task with the given ID.
func (o *Orchestrator) UpdateTask(ctx context.Context, id string, p Patch) (task.Task, error) {
	if err := p.validate(); err != nil {
		return task.Task{}, err
	}
	var (
		updated task.Task
		opErr   error
	)
	err := o.do(ctx, func(ctx context.Context) {
		i := o.index(id)
		if i < 0 {
			opErr = cerr.NewError(cerr.NotFound, fmt.Sprintf("task %s not found", id), nil)
			return
		}
		before := o.board[i]
		t := before.Clone()
		p.apply(&t)
		t.Normalize(o.defaultAgent)
		if equal(before, t) {
			updated = t
			return
		}
		o.board[i] = t
		switch {
		case before.IsCron() && !t.IsCron():
			delete(o.owned, id)
			o.removals[id] = struct{}{}
		case !before.IsCron() && t.IsCron():
			delete(o.removals, id)
			o.owned[id] = struct{}{}
		case t.IsCron() && before.Status != t.Status:
			o.owned[id] = struct{}{}
		}
		o.changed(ctx, id, "updated")
		updated = t.Clone()
	})
	if err != nil {
		return task.Task{}, err
	}
	return updated, opErr
}

// MoveTask changes the status of a task, the way a board column drop does.
func (o *Orchestrator) MoveTask(ctx context.Context, id string, status task.Status) (task.Task, error) {
	return o.UpdateTask(ctx, id, Patch{Status: &status})
}

// DeleteTask removes the task from the board. The record store delete and
// the registry removal happen on the next reconcile; a failure there is
// reported through the notifier and retried on the following one.
func (o *Orchestrator) DeleteTask(ctx context.Context, id string) error {
	var opErr error
	err := o.do(ctx, func(ctx context.Context) {
		i := o.index(id)
		if i < 0 {
			opErr = cerr.NewError(cerr.NotFound, fmt.Sprintf("task %s not found", id), nil)
			return
		}
		t := o.board[i]
		o.board = slices.Delete(o.board, i, i+1)
		o.deletes[id] = t.Title
		delete(o.owned, id)
		if t.IsCron() {
			o.removals[id] = struct{}{}
		}
		o.changed(ctx, id, "deleted")
	})
	if err != nil {
		return err
	}
	return opErr
}

func (o *Orchestrator) changed(ctx context.Context, id, action string) {
	o.metrics.SetBoardTasks(len(o.board))
	o.publish(eventbus.TasksChanged, id, map[string]string{"action": action})
	o.touch()
	slog.DebugContext(ctx, "orchestrator: board changed", "task_id", id, "action", action)
}
