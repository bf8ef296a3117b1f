package recordstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kazz187/tasksync/pkg/storage"
)

type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Change describes one record transition. For removals Fields holds the last
// known content of the record.
type Change struct {
	Type   ChangeType
	ID     string
	Fields map[string]any
}

// Filter selects records whose Field equals Equals. The zero Filter matches
// every record.
type Filter struct {
	Field  string
	Equals any
}

func (f Filter) Match(fields map[string]any) bool {
	if f.Field == "" {
		return true
	}
	v, ok := fields[f.Field]
	if !ok {
		return false
	}
	return fmt.Sprint(v) == fmt.Sprint(f.Equals)
}

const (
	DefaultPollInterval = 5 * time.Second
	DefaultDebounce     = 100 * time.Millisecond
)

type watchConfig struct {
	pollInterval time.Duration
	debounce     time.Duration
	fsnotify     bool
}

type WatchOption func(*watchConfig)

// WithPollInterval sets how often the collection is rescanned regardless of
// other triggers. Zero or negative disables polling.
func WithPollInterval(d time.Duration) WatchOption {
	return func(c *watchConfig) {
		c.pollInterval = d
	}
}

func WithDebounce(d time.Duration) WatchOption {
	return func(c *watchConfig) {
		c.debounce = d
	}
}

// WithoutFSNotify disables filesystem watching on local backends.
func WithoutFSNotify() WatchOption {
	return func(c *watchConfig) {
		c.fsnotify = false
	}
}

// Subscribe streams batches of changes to the records of a collection that
// match filter. The first batch lists every matching record as added, and is
// delivered even when empty. The channel is closed when ctx is done.
//
// Rescans are triggered by writes through this Store, by filesystem events
// when the backend is a local directory, and by a poll ticker. Bursts of
// triggers are coalesced by the debounce window.
func (s *Store) Subscribe(ctx context.Context, collection string, filter Filter, opts ...WatchOption) <-chan []Change {
	cfg := watchConfig{
		pollInterval: DefaultPollInterval,
		debounce:     DefaultDebounce,
		fsnotify:     true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	out := make(chan []Change)
	trigger := make(chan struct{}, 1)
	poke := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	if s.bus != nil {
		id, events := s.bus.Subscribe(64)
		go func() {
			<-ctx.Done()
			s.bus.Unsubscribe(id)
		}()
		go func() {
			for ev := range events {
				if ev.Collection == collection {
					poke()
				}
			}
		}()
	}
	if rooted, ok := s.storage.(storage.Rooted); ok && cfg.fsnotify {
		go watchDir(ctx, filepath.Join(rooted.BaseDir(), filepath.FromSlash(collection)), poke)
	}

	go s.feed(ctx, collection, filter, cfg, trigger, out)
	return out
}

func (s *Store) feed(ctx context.Context, collection string, filter Filter, cfg watchConfig, trigger <-chan struct{}, out chan<- []Change) {
	defer close(out)

	var prev map[string]snapshotEntry
	for prev == nil {
		snap, err := s.snapshot(ctx, collection)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.WarnContext(ctx, "recordstore: initial scan failed, retrying", "collection", collection, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(cfg.debounce):
			}
			continue
		}
		prev = snap
	}
	if !send(ctx, out, diff(nil, prev, filter)) {
		return
	}

	var pollC <-chan time.Time
	if cfg.pollInterval > 0 {
		ticker := time.NewTicker(cfg.pollInterval)
		defer ticker.Stop()
		pollC = ticker.C
	}
	debounce := time.NewTimer(cfg.debounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
			debounce.Reset(cfg.debounce)
			continue
		case <-pollC:
		case <-debounce.C:
		}

		next, err := s.snapshot(ctx, collection)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.WarnContext(ctx, "recordstore: rescan failed", "collection", collection, "error", err)
			continue
		}
		batch := diff(prev, next, filter)
		prev = next
		if len(batch) == 0 {
			continue
		}
		if !send(ctx, out, batch) {
			return
		}
	}
}

func send(ctx context.Context, out chan<- []Change, batch []Change) bool {
	if batch == nil {
		batch = []Change{}
	}
	select {
	case out <- batch:
		return true
	case <-ctx.Done():
		return false
	}
}

// diff computes the filtered transitions from prev to next, ordered by ID.
// A record that starts matching the filter is reported as added and one that
// stops matching as removed.
func diff(prev, next map[string]snapshotEntry, filter Filter) []Change {
	var changes []Change
	for id, n := range next {
		p, existed := prev[id]
		inNext := filter.Match(n.fields)
		inPrev := existed && filter.Match(p.fields)
		switch {
		case inNext && !inPrev:
			changes = append(changes, Change{Type: ChangeAdded, ID: id, Fields: n.fields})
		case inNext && inPrev && p.sum != n.sum:
			changes = append(changes, Change{Type: ChangeModified, ID: id, Fields: n.fields})
		case !inNext && inPrev:
			changes = append(changes, Change{Type: ChangeRemoved, ID: id, Fields: p.fields})
		}
	}
	for id, p := range prev {
		if _, ok := next[id]; ok {
			continue
		}
		if filter.Match(p.fields) {
			changes = append(changes, Change{Type: ChangeRemoved, ID: id, Fields: p.fields})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].ID < changes[j].ID })
	return changes
}

func watchDir(ctx context.Context, dir string, poke func()) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.WarnContext(ctx, "recordstore: cannot create watch dir", "dir", dir, "error", err)
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.WarnContext(ctx, "recordstore: failed to create fsnotify watcher", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		slog.WarnContext(ctx, "recordstore: failed to watch dir", "dir", dir, "error", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			// Temp files of in-flight atomic writes.
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			poke()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.WarnContext(ctx, "recordstore: fsnotify error", "error", err)
		}
	}
}
