package recordstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/tasksync/internal/eventbus"
	"github.com/kazz187/tasksync/pkg/cerr"
	"github.com/kazz187/tasksync/pkg/storage"
)

type note struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`
	Body string `yaml:"body"`
}

func (n note) GetID() string { return n.ID }

func newNotes(t *testing.T) (*Collection[note], *storage.MemoryStorage) {
	t.Helper()
	mem := storage.NewMemoryStorage()
	return NewCollection[note](New(mem, eventbus.New()), "notes"), mem
}

func TestCollection_CRUD(t *testing.T) {
	ctx := context.Background()
	c, _ := newNotes(t)

	require.NoError(t, c.Save(ctx, note{ID: "b", Body: "second"}))
	require.NoError(t, c.Save(ctx, note{ID: "a", Body: "first"}))

	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Body)

	all, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)

	require.NoError(t, c.Save(ctx, note{ID: "a", Body: "replaced"}))
	got, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "replaced", got.Body)

	require.NoError(t, c.Delete(ctx, "a"))
	_, err = c.Get(ctx, "a")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
	assert.True(t, cerr.IsCode(c.Delete(ctx, "a"), cerr.NotFound))
}

func TestCollection_RejectsBadIDs(t *testing.T) {
	ctx := context.Background()
	c, _ := newNotes(t)
	for _, id := range []string{"", "../x", "a/b", ".hidden"} {
		t.Run(id, func(t *testing.T) {
			assert.True(t, cerr.IsCode(c.Save(ctx, note{ID: id}), cerr.InvalidArgument))
		})
	}
}

func TestCollection_ListSkipsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	c, mem := newNotes(t)
	require.NoError(t, c.Save(ctx, note{ID: "ok"}))
	require.NoError(t, mem.Write(ctx, "notes/bad.yaml", []byte("id: [unterminated")))
	require.NoError(t, mem.Write(ctx, "notes/readme.txt", []byte("ignored")))

	all, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "ok", all[0].ID)
}

func next(t *testing.T, ch <-chan []Change) []Change {
	t.Helper()
	select {
	case b, ok := <-ch:
		require.True(t, ok, "feed closed")
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change batch")
		return nil
	}
}

func TestSubscribe_InitialBatchThenChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, _ := newNotes(t)

	require.NoError(t, c.Save(ctx, note{ID: "j1", Type: "Cron", Body: "x"}))
	require.NoError(t, c.Save(ctx, note{ID: "m1", Type: "Manual"}))

	feed := c.Subscribe(ctx, Filter{Field: "type", Equals: "Cron"},
		WithPollInterval(0), WithDebounce(10*time.Millisecond))

	first := next(t, feed)
	require.Len(t, first, 1)
	assert.Equal(t, Change{Type: ChangeAdded, ID: "j1", Fields: map[string]any{"id": "j1", "type": "Cron", "body": "x"}}, first[0])

	require.NoError(t, c.Save(ctx, note{ID: "j1", Type: "Cron", Body: "y"}))
	b := next(t, feed)
	require.Len(t, b, 1)
	assert.Equal(t, ChangeModified, b[0].Type)
	assert.Equal(t, "y", b[0].Fields["body"])

	require.NoError(t, c.Delete(ctx, "j1"))
	b = next(t, feed)
	require.Len(t, b, 1)
	assert.Equal(t, ChangeRemoved, b[0].Type)
	assert.Equal(t, "Cron", b[0].Fields["type"])

	cancel()
	for range feed {
	}
}

func TestSubscribe_EmptyInitialBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, _ := newNotes(t)
	assert.Empty(t, next(t, c.Subscribe(ctx, Filter{}, WithPollInterval(0))))
}

func TestSubscribe_PollsExternalWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := storage.NewMemoryStorage()
	c := NewCollection[note](New(mem, nil), "notes")

	feed := c.Subscribe(ctx, Filter{}, WithPollInterval(20*time.Millisecond))
	assert.Empty(t, next(t, feed))

	require.NoError(t, mem.Write(ctx, "notes/ext.yaml", []byte("id: ext\ntype: Cron\n")))
	b := next(t, feed)
	require.Len(t, b, 1)
	assert.Equal(t, "ext", b[0].ID)
}

func TestSubscribe_FSNotifyOnLocalBackend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()
	local, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	c := NewCollection[note](New(local, nil), "notes")

	feed := c.Subscribe(ctx, Filter{}, WithPollInterval(0), WithDebounce(20*time.Millisecond))
	assert.Empty(t, next(t, feed))

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes", "fs.yaml"), []byte("id: fs\n"), 0o644))

	b := next(t, feed)
	require.Len(t, b, 1)
	assert.Equal(t, Change{Type: ChangeAdded, ID: "fs", Fields: map[string]any{"id": "fs"}}, b[0])
}

func TestDiff(t *testing.T) {
	cron := Filter{Field: "type", Equals: "Cron"}
	entry := func(sum byte, typ string) snapshotEntry {
		return snapshotEntry{sum: [32]byte{sum}, fields: map[string]any{"type": typ}}
	}

	tests := []struct {
		name string
		prev map[string]snapshotEntry
		next map[string]snapshotEntry
		want []ChangeType
	}{
		{name: "unchanged", prev: map[string]snapshotEntry{"a": entry(1, "Cron")}, next: map[string]snapshotEntry{"a": entry(1, "Cron")}},
		{name: "modified", prev: map[string]snapshotEntry{"a": entry(1, "Cron")}, next: map[string]snapshotEntry{"a": entry(2, "Cron")}, want: []ChangeType{ChangeModified}},
		{name: "starts matching", prev: map[string]snapshotEntry{"a": entry(1, "Manual")}, next: map[string]snapshotEntry{"a": entry(2, "Cron")}, want: []ChangeType{ChangeAdded}},
		{name: "stops matching", prev: map[string]snapshotEntry{"a": entry(1, "Cron")}, next: map[string]snapshotEntry{"a": entry(2, "Manual")}, want: []ChangeType{ChangeRemoved}},
		{name: "non-matching ignored", prev: nil, next: map[string]snapshotEntry{"a": entry(1, "Manual")}},
		{name: "deleted", prev: map[string]snapshotEntry{"a": entry(1, "Cron"), "b": entry(1, "Manual")}, next: map[string]snapshotEntry{}, want: []ChangeType{ChangeRemoved}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []ChangeType
			for _, c := range diff(tt.prev, tt.next, cron) {
				got = append(got, c.Type)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilter_Match(t *testing.T) {
	assert.True(t, Filter{}.Match(nil))
	assert.True(t, Filter{Field: "n", Equals: 3}.Match(map[string]any{"n": 3}))
	assert.False(t, Filter{Field: "type", Equals: "Cron"}.Match(map[string]any{}))
}
