package cronregistry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/syntax"

	"github.com/kazz187/tasksync/internal/task"
)

func TestStatusTables(t *testing.T) {
	pull := map[JobStatus]task.Status{
		JobRunning:   task.StatusInProgress,
		JobCompleted: task.StatusReview,
		JobError:     task.StatusBacklog,
		JobPending:   task.StatusRecurring,
		"paused":     task.StatusRecurring,
	}
	for js, want := range pull {
		assert.Equal(t, want, TaskStatusFor(js), js)
	}

	push := []struct {
		status  task.Status
		job     JobStatus
		enabled bool
	}{
		{task.StatusReview, JobCompleted, true},
		{task.StatusInProgress, JobRunning, true},
		{task.StatusBacklog, JobError, false},
		{task.StatusRecurring, JobPending, true},
		{"", JobPending, true},
	}
	for _, tt := range push {
		assert.Equal(t, tt.job, JobStatusFor(tt.status), tt.status)
		assert.Equal(t, tt.enabled, EnabledFor(tt.status), tt.status)
	}
}

func TestPriorityFromSchedule(t *testing.T) {
	tests := map[string]task.Priority{
		"Every 5 minutes": task.PriorityHigh,
		"Daily 12:30":     task.PriorityMedium,
		"Weekly Mon":      task.PriorityLow,
		"":                task.PriorityLow,
		"daily lowercase": task.PriorityLow,
	}
	for schedule, want := range tests {
		t.Run(schedule, func(t *testing.T) {
			assert.Equal(t, want, PriorityFromSchedule(schedule))
		})
	}
}

func TestPlaceholderCommand(t *testing.T) {
	assert.Equal(t, `echo "Running Morning Brief"`, PlaceholderCommand("Morning Brief"))

	// Whatever the title, the command is one echo of one word that expands
	// back to the title.
	titles := []string{`Say "hi"`, "cost $HOME", "back`tick`", `trailing\`, "semi; rm -rf /"}
	for _, title := range titles {
		t.Run(title, func(t *testing.T) {
			cmd := PlaceholderCommand(title)
			require.NoError(t, ValidateCommand(cmd))

			f, err := syntax.NewParser().Parse(strings.NewReader(cmd), "")
			require.NoError(t, err)
			require.Len(t, f.Stmts, 1)
			call, ok := f.Stmts[0].Cmd.(*syntax.CallExpr)
			require.True(t, ok)
			require.Len(t, call.Args, 2)
			dq, ok := call.Args[1].Parts[0].(*syntax.DblQuoted)
			require.True(t, ok)
			var b strings.Builder
			for _, p := range dq.Parts {
				lit, ok := p.(*syntax.Lit)
				require.True(t, ok, "no expansions inside the quoted title")
				b.WriteString(lit.Value)
			}
			unescaped := strings.NewReplacer(`\\`, `\`, `\"`, `"`, `\$`, "$", "\\`", "`").Replace(b.String())
			assert.Equal(t, "Running "+title, unescaped)
		})
	}
}

func TestValidateCommand(t *testing.T) {
	assert.NoError(t, ValidateCommand("cd /tmp && ./run.sh --flag"))
	assert.Error(t, ValidateCommand(`echo "unterminated`))
	assert.Error(t, ValidateCommand("   "))
}

func TestToTask(t *testing.T) {
	got := ToTask(&CronJob{ID: "j", Name: "N", Description: "D", Schedule: "Every hour", Status: JobRunning}, "kami")
	assert.Equal(t, task.Task{
		ID: "j", Title: "N", Description: "D", Type: task.KindCron, Schedule: "Every hour",
		Status: task.StatusInProgress, Priority: task.PriorityHigh, AgentID: "kami",
	}, got)
}
