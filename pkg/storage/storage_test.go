package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Storage {
	t.Helper()
	local, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return map[string]Storage{
		"local":  local,
		"memory": NewMemoryStorage(),
	}
}

func TestStorage_ReadWriteDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Read(ctx, "tasks/missing.yaml")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Write(ctx, "tasks/a.yaml", []byte("a")))
			require.NoError(t, s.Write(ctx, "tasks/b.yaml", []byte("b")))
			require.NoError(t, s.Write(ctx, "tasks/a.yaml", []byte("a2")))

			data, err := s.Read(ctx, "tasks/a.yaml")
			require.NoError(t, err)
			assert.Equal(t, "a2", string(data))

			ok, err := s.Exists(ctx, "tasks/b.yaml")
			require.NoError(t, err)
			assert.True(t, ok)

			paths, err := s.List(ctx, "tasks")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"tasks/a.yaml", "tasks/b.yaml"}, paths)

			require.NoError(t, s.Delete(ctx, "tasks/b.yaml"))
			assert.ErrorIs(t, s.Delete(ctx, "tasks/b.yaml"), ErrNotFound)

			ok, err = s.Exists(ctx, "tasks/b.yaml")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStorage_ListMissingPrefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			paths, err := s.List(ctx, "nothing-here")
			require.NoError(t, err)
			assert.Empty(t, paths)
		})
	}
}

func TestLocalStorage_PathStaysUnderBase(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "../../escape.json", []byte("{}")))
	ok, err := s.Exists(ctx, "escape.json")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStorage_ListIsShallow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	require.NoError(t, s.Write(ctx, "tasks/a.yaml", []byte("a")))
	require.NoError(t, s.Write(ctx, "tasks/nested/b.yaml", []byte("b")))

	paths, err := s.List(ctx, "tasks")
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks/a.yaml"}, paths)
}
