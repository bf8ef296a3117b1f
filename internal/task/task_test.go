package task

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AssignsIDAndDefaults(t *testing.T) {
	got := New(Task{}, "kami")

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, DefaultTitle, got.Title)
	assert.Equal(t, KindManual, got.Type)
	assert.Equal(t, StatusBacklog, got.Status)
	assert.Equal(t, PriorityMedium, got.Priority)
	assert.Equal(t, "kami", got.AgentID)

	kept := New(Task{ID: "fixed", Status: StatusReview, AgentID: "eric"}, "kami")
	assert.Equal(t, "fixed", kept.ID)
	assert.Equal(t, StatusReview, kept.Status)
	assert.Equal(t, "eric", kept.AgentID)
}

func TestClone_DetachesTags(t *testing.T) {
	orig := Task{ID: "a", Tags: []string{"x"}}
	c := orig.Clone()
	c.Tags[0] = "y"
	assert.Equal(t, "x", orig.Tags[0])
}

func TestFromFields(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]any
		want    Task
		wantErr bool
	}{
		{
			name: "full cron record",
			fields: map[string]any{
				"id":       "ignored",
				"title":    "Backup",
				"type":     "Cron",
				"schedule": "Daily 3am",
				"status":   "RECURRING",
				"priority": "MEDIUM",
				"agentId":  "kami",
				"tags":     []any{"ops"},
			},
			want: Task{
				ID: "r1", Title: "Backup", Type: KindCron, Schedule: "Daily 3am",
				Status: StatusRecurring, Priority: PriorityMedium, AgentID: "kami", Tags: []string{"ops"},
			},
		},
		{
			name:   "sparse record keeps zero values",
			fields: map[string]any{"type": "Cron"},
			want:   Task{ID: "r1", Type: KindCron},
		},
		{
			name:    "title of wrong type",
			fields:  map[string]any{"type": "Cron", "title": 42},
			wantErr: true,
		},
		{
			name:    "unknown status",
			fields:  map[string]any{"type": "Cron", "status": "DONE"},
			wantErr: true,
		},
		{
			name:    "tags not strings",
			fields:  map[string]any{"type": "Cron", "tags": []any{1, 2}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromFields("r1", tt.fields)
			if tt.wantErr {
				require.Error(t, err)
				var fe *FieldsError
				assert.True(t, errors.As(err, &fe))
				assert.Equal(t, "r1", fe.ID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIndex(t *testing.T) {
	idx := Index([]Task{{ID: "a"}, {ID: "b"}})
	assert.Len(t, idx, 2)
	assert.Equal(t, "b", idx["b"].ID)
}
