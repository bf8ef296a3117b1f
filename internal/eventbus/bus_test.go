package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	id, ch := b.Subscribe(4)

	b.PublishNew(RecordSaved, "tasks", "t1", nil)
	ev := <-ch
	assert.Equal(t, RecordSaved, ev.Type)
	assert.Equal(t, "tasks", ev.Collection)
	assert.Equal(t, "t1", ev.ResourceID)
	assert.NotEmpty(t, ev.ID)

	b.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
}

func TestBus_DropsWhenFull(t *testing.T) {
	b := New()
	_, ch := b.Subscribe(1)
	b.PublishNew(TasksChanged, "", "", nil)
	b.PublishNew(TasksChanged, "", "", nil)
	require.Len(t, ch, 1)
}
