package recordstore

import (
	"context"
	"log/slog"

	"github.com/kazz187/tasksync/pkg/cerr"
)

type Entity interface {
	GetID() string
}

// Collection is a typed view of one collection of a Store.
type Collection[T Entity] struct {
	store *Store
	name  string
}

func NewCollection[T Entity](s *Store, name string) *Collection[T] {
	return &Collection[T]{store: s, name: name}
}

func (c *Collection[T]) Name() string {
	return c.name
}

// List returns every decodable record, ordered by ID.
func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	ids, err := c.store.ids(ctx, c.name)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		var v T
		if err := c.store.get(ctx, c.name, id, &v); err != nil {
			if cerr.IsCode(err, cerr.NotFound) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.WarnContext(ctx, "recordstore: skipping unreadable record", "collection", c.name, "id", id, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var v T
	if err := c.store.get(ctx, c.name, id, &v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// Save creates or replaces the record with v's ID.
func (c *Collection[T]) Save(ctx context.Context, v T) error {
	return c.store.put(ctx, c.name, v.GetID(), v)
}

func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.store.remove(ctx, c.name, id)
}

// Subscribe opens a change feed on the collection. See Store.Subscribe.
func (c *Collection[T]) Subscribe(ctx context.Context, filter Filter, opts ...WatchOption) <-chan []Change {
	return c.store.Subscribe(ctx, c.name, filter, opts...)
}
