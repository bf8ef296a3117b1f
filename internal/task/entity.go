package task

import (
	"slices"

	"github.com/oklog/ulid/v2"
)

type Kind string

const (
	KindManual Kind = "Manual"
	KindCron   Kind = "Cron"
)

type Status string

const (
	StatusBacklog    Status = "BACKLOG"
	StatusRecurring  Status = "RECURRING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusReview     Status = "REVIEW"
)

var Statuses = []Status{StatusRecurring, StatusBacklog, StatusInProgress, StatusReview}

func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

const DefaultTitle = "Untitled Task"

// Task is a unit of scheduled or manual work. For Cron tasks the ID is also
// the cron job ID in the registry.
type Task struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Type        Kind     `json:"type" yaml:"type"`
	Schedule    string   `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Status      Status   `json:"status" yaml:"status"`
	Priority    Priority `json:"priority" yaml:"priority"`
	AgentID     string   `json:"agentId" yaml:"agentId"`
	Project     string   `json:"project,omitempty" yaml:"project,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

func (t Task) GetID() string {
	return t.ID
}

func (t Task) IsCron() bool {
	return t.Type == KindCron
}

// NewID returns a fresh task ID. IDs are assigned once and never change.
func NewID() string {
	return ulid.Make().String()
}

// New assigns an ID when t has none and fills in defaults.
func New(t Task, defaultAgent string) Task {
	if t.ID == "" {
		t.ID = NewID()
	}
	t.Normalize(defaultAgent)
	return t
}

// Normalize fills the zero-valued fields with the board defaults.
func (t *Task) Normalize(defaultAgent string) {
	if t.Title == "" {
		t.Title = DefaultTitle
	}
	if t.Type == "" {
		t.Type = KindManual
	}
	if !t.Status.Valid() {
		t.Status = StatusBacklog
	}
	if !t.Priority.Valid() {
		t.Priority = PriorityMedium
	}
	if t.AgentID == "" {
		t.AgentID = defaultAgent
	}
}

func (t Task) Clone() Task {
	t.Tags = slices.Clone(t.Tags)
	return t
}

func CloneAll(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

func Index(tasks []Task) map[string]Task {
	m := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		m[t.ID] = t
	}
	return m
}
