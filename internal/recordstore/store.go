// Package recordstore is a collection-oriented document store. Each record is
// one YAML document at <collection>/<id>.yaml on a storage.Storage, and every
// collection can be observed through a change feed.
package recordstore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/tasksync/internal/eventbus"
	"github.com/kazz187/tasksync/pkg/cerr"
	"github.com/kazz187/tasksync/pkg/storage"
)

const ext = ".yaml"

type Store struct {
	storage storage.Storage
	bus     *eventbus.Bus
}

// New returns a Store over s. bus may be nil, in which case subscribers only
// see changes through polling and filesystem events.
func New(s storage.Storage, bus *eventbus.Bus) *Store {
	return &Store{storage: s, bus: bus}
}

func recordPath(collection, id string) string {
	return collection + "/" + id + ext
}

func validID(id string) error {
	if id == "" {
		return cerr.NewError(cerr.InvalidArgument, "record id is required", nil)
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return cerr.NewError(cerr.InvalidArgument, "record id is invalid", fmt.Errorf("id %q", id))
	}
	return nil
}

func (s *Store) put(ctx context.Context, collection, id string, v any) error {
	if err := validID(id); err != nil {
		return err
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal %s record: %w", collection, err))
	}
	if err := s.storage.Write(ctx, recordPath(collection, id), data); err != nil {
		return cerr.WrapStorageWriteError(collection, err)
	}
	s.publish(eventbus.RecordSaved, collection, id)
	return nil
}

func (s *Store) get(ctx context.Context, collection, id string, v any) error {
	if err := validID(id); err != nil {
		return err
	}
	data, err := s.storage.Read(ctx, recordPath(collection, id))
	if err != nil {
		return cerr.WrapStorageReadError(collection, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return cerr.NewError(cerr.DataLoss, "record is corrupt", fmt.Errorf("failed to unmarshal %s/%s: %w", collection, id, err))
	}
	return nil
}

func (s *Store) remove(ctx context.Context, collection, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := s.storage.Delete(ctx, recordPath(collection, id)); err != nil {
		return cerr.WrapStorageDeleteError(collection, err)
	}
	s.publish(eventbus.RecordDeleted, collection, id)
	return nil
}

// ids lists the record IDs of a collection in sorted order.
func (s *Store) ids(ctx context.Context, collection string) ([]string, error) {
	paths, err := s.storage.List(ctx, collection)
	if err != nil {
		return nil, cerr.WrapStorageReadError(collection, err)
	}
	ids := make([]string, 0, len(paths))
	for _, p := range paths {
		name := p[strings.LastIndex(p, "/")+1:]
		if !strings.HasSuffix(name, ext) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ext))
	}
	sort.Strings(ids)
	return ids, nil
}

type snapshotEntry struct {
	sum    [sha256.Size]byte
	fields map[string]any
}

// snapshot reads every record of a collection as a raw field map. Records that
// vanish mid-scan or do not decode are skipped.
func (s *Store) snapshot(ctx context.Context, collection string) (map[string]snapshotEntry, error) {
	ids, err := s.ids(ctx, collection)
	if err != nil {
		return nil, err
	}
	snap := make(map[string]snapshotEntry, len(ids))
	for _, id := range ids {
		data, err := s.storage.Read(ctx, recordPath(collection, id))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.DebugContext(ctx, "recordstore: record vanished during scan", "collection", collection, "id", id, "error", err)
			continue
		}
		fields := map[string]any{}
		if err := yaml.Unmarshal(data, &fields); err != nil {
			slog.WarnContext(ctx, "recordstore: skipping undecodable record", "collection", collection, "id", id, "error", err)
			continue
		}
		snap[id] = snapshotEntry{sum: sha256.Sum256(data), fields: fields}
	}
	return snap, nil
}

func (s *Store) publish(t eventbus.EventType, collection, id string) {
	if s.bus == nil {
		return
	}
	s.bus.PublishNew(t, collection, id, nil)
}
