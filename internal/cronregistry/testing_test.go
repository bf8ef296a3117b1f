package cronregistry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kazz187/tasksync/internal/localcache"
	"github.com/kazz187/tasksync/pkg/storage"
)

const registryPath = "cron_jobs.json"

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	mem    *storage.MemoryStorage
	cache  localcache.KV
	clock  *clock
	store  *Store
	bridge *Bridge
}

func newFixture(t *testing.T, st storage.Storage) *fixture {
	t.Helper()
	mem := storage.NewMemoryStorage()
	if st == nil {
		st = mem
	}
	c := &clock{now: fixedNow}
	f := &fixture{
		mem:   mem,
		cache: localcache.NewStorageKV(storage.NewMemoryStorage()),
		clock: c,
	}
	f.store = NewStore(st, registryPath, WithClock(c.Now))
	f.bridge = NewBridge(f.store, f.cache, WithBridgeClock(c.Now))
	return f
}

func (f *fixture) raw(t *testing.T) []byte {
	t.Helper()
	data, err := f.mem.Read(context.Background(), registryPath)
	require.NoError(t, err)
	return data
}

func (f *fixture) load(t *testing.T) *Registry {
	t.Helper()
	reg, _, err := f.store.Load(context.Background())
	require.NoError(t, err)
	return reg
}
