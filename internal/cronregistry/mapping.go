package cronregistry

import (
	"strings"

	"github.com/kazz187/tasksync/internal/task"
)

// DefaultSchedule is used for cron tasks created without a schedule label.
const DefaultSchedule = "Daily 00:00"

// TaskStatusFor maps a job's execution status onto the board.
func TaskStatusFor(s JobStatus) task.Status {
	switch s {
	case JobRunning:
		return task.StatusInProgress
	case JobCompleted:
		return task.StatusReview
	case JobError:
		return task.StatusBacklog
	default:
		return task.StatusRecurring
	}
}

// JobStatusFor is the inverse of TaskStatusFor.
func JobStatusFor(s task.Status) JobStatus {
	switch s {
	case task.StatusReview:
		return JobCompleted
	case task.StatusInProgress:
		return JobRunning
	case task.StatusBacklog:
		return JobError
	default:
		return JobPending
	}
}

// EnabledFor reports whether a job backing a task in status s should run.
// Moving a task to the backlog is the only way to disable its job.
func EnabledFor(s task.Status) bool {
	return s != task.StatusBacklog
}

// PriorityFromSchedule derives a priority from the schedule label. It is
// recomputed on every pull and never stored.
func PriorityFromSchedule(schedule string) task.Priority {
	switch {
	case strings.Contains(schedule, "Every"):
		return task.PriorityHigh
	case strings.Contains(schedule, "Daily"):
		return task.PriorityMedium
	default:
		return task.PriorityLow
	}
}

// ToTask converts a job into the cron task it represents.
func ToTask(j *CronJob, defaultAgent string) task.Task {
	agentID := j.AgentID
	if agentID == "" {
		agentID = defaultAgent
	}
	return task.Task{
		ID:          j.ID,
		Title:       j.Name,
		Description: j.Description,
		Type:        task.KindCron,
		Schedule:    j.Schedule,
		Status:      TaskStatusFor(j.Status),
		Priority:    PriorityFromSchedule(j.Schedule),
		AgentID:     agentID,
	}
}

type jobDefinition struct {
	name        string
	description string
	schedule    string
	agentID     string
	enabled     bool
}

func definitionOf(t task.Task, defaultAgent string) jobDefinition {
	d := jobDefinition{
		name:        t.Title,
		description: t.Description,
		schedule:    t.Schedule,
		agentID:     t.AgentID,
		enabled:     EnabledFor(t.Status),
	}
	if d.schedule == "" {
		d.schedule = DefaultSchedule
	}
	if d.agentID == "" {
		d.agentID = defaultAgent
	}
	return d
}

// applyDefinition patches the fields the bridge owns and reports whether any
// of them changed.
func applyDefinition(j *CronJob, d jobDefinition) bool {
	changed := j.Name != d.name || j.Description != d.description || j.Schedule != d.schedule ||
		j.AgentID != d.agentID || j.Enabled != d.enabled
	j.Name = d.name
	j.Description = d.description
	j.Schedule = d.schedule
	j.AgentID = d.agentID
	j.Enabled = d.enabled
	return changed
}

// newJob builds a job for a task the registry has never seen.
func newJob(id string, d jobDefinition, status JobStatus, now string) *CronJob {
	j := &CronJob{
		ID:        id,
		Command:   PlaceholderCommand(d.name),
		CreatedAt: now,
		UpdatedAt: now,
		Status:    status,
		History:   nil,
	}
	applyDefinition(j, d)
	return j
}
