package storageadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/kazz187/tasksync/internal/localcache"
	"github.com/kazz187/tasksync/internal/metrics"
	"github.com/kazz187/tasksync/internal/recordstore"
	"github.com/kazz187/tasksync/pkg/cerr"
)

// Remote is the record store side of one entity kind.
type Remote[T any] interface {
	List(ctx context.Context) ([]T, error)
	Save(ctx context.Context, v T) error
	Delete(ctx context.Context, id string) error
}

// SaveResult reports how a Save fanned out to the record store.
type SaveResult struct {
	Saved  int
	Failed []string
	Err    error
}

// Kind pairs the record store collection of one entity kind with its cache
// key. The record store is authoritative; the cache is the fallback.
type Kind[T recordstore.Entity] struct {
	name    string
	remote  Remote[T]
	cache   localcache.KV
	key     string
	workers int
	metrics *metrics.Metrics
}

func NewKind[T recordstore.Entity](name string, remote Remote[T], cache localcache.KV, key string, opts ...Option) *Kind[T] {
	cfg := newConfig(opts)
	return &Kind[T]{
		name:    name,
		remote:  remote,
		cache:   cache,
		key:     key,
		workers: cfg.workers,
		metrics: cfg.metrics,
	}
}

func (k *Kind[T]) Name() string {
	return k.name
}

// GetAll returns the record store contents, or the cached list when the record
// store cannot be read. It never fails.
func (k *Kind[T]) GetAll(ctx context.Context) []T {
	items, err := k.remote.List(ctx)
	if err == nil {
		return items
	}
	slog.WarnContext(ctx, "storage: record store read failed, falling back to cache", "kind", k.name, "error", err)
	k.metrics.RemoteFailure(k.name, "list")
	k.metrics.CacheFallback(k.name)
	return k.Cached(ctx)
}

func (k *Kind[T]) Cached(ctx context.Context) []T {
	return localcache.Load[T](ctx, k.cache, k.key)
}

// Save upserts every item into the record store individually and then
// mirrors the full list into the cache, whatever the record store outcome.
func (k *Kind[T]) Save(ctx context.Context, items []T) SaveResult {
	res := k.Upsert(ctx, items)
	_ = k.Mirror(ctx, items)
	return res
}

// Mirror replaces the cached list with items. Failures are logged and
// returned.
func (k *Kind[T]) Mirror(ctx context.Context, items []T) error {
	if err := localcache.Store(ctx, k.cache, k.key, items); err != nil {
		slog.WarnContext(ctx, "storage: cache write failed", "kind", k.name, "error", err)
		return err
	}
	return nil
}

// Upsert writes every item to the record store, at most k.workers at a time.
// Partial success is reported, not rolled back.
func (k *Kind[T]) Upsert(ctx context.Context, items []T) SaveResult {
	var (
		mu   sync.Mutex
		res  SaveResult
		errs []error
	)
	p := pool.New().WithMaxGoroutines(k.workers)
	for _, item := range items {
		p.Go(func() {
			err := k.remote.Save(ctx, item)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed = append(res.Failed, item.GetID())
				errs = append(errs, fmt.Errorf("%s %s: %w", k.name, item.GetID(), err))
				k.metrics.RemoteFailure(k.name, "save")
				return
			}
			res.Saved++
		})
	}
	p.Wait()
	slices.Sort(res.Failed)
	res.Err = errors.Join(errs...)
	if res.Err != nil {
		slog.WarnContext(ctx, "storage: some records were not saved", "kind", k.name, "saved", res.Saved, "failed", len(res.Failed), "error", res.Err)
	}
	return res
}

// Delete removes one entity from the cache and then from the record store.
// Unlike the bulk operations it reports the record store failure, since it
// backs an explicit user action. A record that is already gone is not an
// error.
func (k *Kind[T]) Delete(ctx context.Context, id string) error {
	cached := k.Cached(ctx)
	kept := slices.DeleteFunc(cached, func(v T) bool { return v.GetID() == id })
	if len(kept) != len(cached) {
		if err := localcache.Store(ctx, k.cache, k.key, kept); err != nil {
			slog.WarnContext(ctx, "storage: cache write failed", "kind", k.name, "error", err)
		}
	}
	if err := k.remote.Delete(ctx, id); err != nil {
		if cerr.IsCode(err, cerr.NotFound) {
			return nil
		}
		k.metrics.RemoteFailure(k.name, "delete")
		return err
	}
	return nil
}

// Seed copies the cached entities into the record store when the cache holds
// some and the record store holds none. Nothing is merged otherwise. It
// returns how many entities were copied.
func (k *Kind[T]) Seed(ctx context.Context) (int, error) {
	cached := k.Cached(ctx)
	if len(cached) == 0 {
		return 0, nil
	}
	remote, err := k.remote.List(ctx)
	if err != nil {
		k.metrics.RemoteFailure(k.name, "list")
		return 0, fmt.Errorf("check %s: %w", k.name, err)
	}
	if len(remote) > 0 {
		return 0, nil
	}
	res := k.Upsert(ctx, cached)
	return res.Saved, res.Err
}
