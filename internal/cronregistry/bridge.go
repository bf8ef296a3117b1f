// Package cronregistry keeps the external cron job registry file in step with
// the cron tasks of the board, in both directions.
package cronregistry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/kazz187/tasksync/internal/agent"
	"github.com/kazz187/tasksync/internal/localcache"
	"github.com/kazz187/tasksync/internal/metrics"
	"github.com/kazz187/tasksync/internal/recordstore"
	"github.com/kazz187/tasksync/internal/task"
	"github.com/kazz187/tasksync/pkg/panicerr"
)

type Bridge struct {
	store        *Store
	cache        localcache.KV
	defaultAgent string
	now          func() time.Time
	metrics      *metrics.Metrics
}

type BridgeOption func(*Bridge)

func WithDefaultAgent(id string) BridgeOption {
	return func(b *Bridge) {
		if id != "" {
			b.defaultAgent = id
		}
	}
}

func WithBridgeClock(now func() time.Time) BridgeOption {
	return func(b *Bridge) {
		b.now = now
	}
}

func WithBridgeMetrics(m *metrics.Metrics) BridgeOption {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// NewBridge returns a bridge over store. cache may be nil when pulled tasks
// should not be mirrored locally.
func NewBridge(store *Store, cache localcache.KV, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		store:        store,
		cache:        cache,
		defaultAgent: agent.DefaultID,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Pull reads the registry and returns one task per job, ordered by ID. The
// result replaces the cached task list.
func (b *Bridge) Pull(ctx context.Context) ([]task.Task, error) {
	reg, _, err := b.store.Load(ctx)
	b.metrics.ObservePull(err)
	if err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}
	if ids := reg.InvalidIDs(); len(ids) > 0 {
		slog.WarnContext(ctx, "bridge: skipping undecodable jobs", "ids", ids)
	}
	tasks := make([]task.Task, 0, len(reg.Jobs))
	for _, id := range reg.IDs() {
		tasks = append(tasks, ToTask(reg.Jobs[id], b.defaultAgent))
	}
	if b.cache != nil {
		if err := localcache.Store(ctx, b.cache, localcache.KeyTasks, tasks); err != nil {
			slog.WarnContext(ctx, "bridge: cache write failed", "error", err)
		}
	}
	slog.DebugContext(ctx, "bridge: pulled jobs", "count", len(tasks))
	return tasks, nil
}

// PushOptions narrows which tasks may overwrite their job's status.
type PushOptions struct {
	// StatusOwned lists the task IDs whose status is authoritative. Jobs of
	// other tasks keep the status the execution engine wrote. Nil means every
	// task is authoritative.
	StatusOwned []string
}

func (o PushOptions) owns(id string) bool {
	return o.StatusOwned == nil || slices.Contains(o.StatusOwned, id)
}

type PushResult struct {
	Created   int
	Updated   int
	Unchanged int
	// Skipped lists tasks whose registry entry does not decode as a job.
	// Those entries are left as they are.
	Skipped []string
	Written bool
}

// Push upserts a job for every cron task in one registry write. Commands,
// timestamps and run history of existing jobs are carried over, and a job's
// updatedAt only moves when one of its fields changed.
func (b *Bridge) Push(ctx context.Context, tasks []task.Task, opts PushOptions) (PushResult, error) {
	var res PushResult
	written, err := b.store.Update(ctx, func(reg *Registry) error {
		res = PushResult{}
		now := FormatTime(b.now())
		for _, t := range tasks {
			if !t.IsCron() || t.ID == "" {
				continue
			}
			if reg.Undecodable(t.ID) {
				res.Skipped = append(res.Skipped, t.ID)
				continue
			}
			def := definitionOf(t, b.defaultAgent)
			existing, ok := reg.Jobs[t.ID]
			if !ok {
				reg.Jobs[t.ID] = newJob(t.ID, def, JobStatusFor(t.Status), now)
				res.Created++
				continue
			}
			changed := applyDefinition(existing, def)
			if opts.owns(t.ID) {
				status := JobStatusFor(t.Status)
				if existing.Status != status {
					existing.Status = status
					changed = true
				}
			}
			if existing.Command == "" {
				existing.Command = PlaceholderCommand(existing.Name)
				changed = true
			}
			if existing.CreatedAt == "" {
				existing.CreatedAt = now
				changed = true
			}
			if changed {
				existing.UpdatedAt = now
				res.Updated++
			} else {
				res.Unchanged++
			}
		}
		return nil
	})
	res.Written = written
	if err != nil {
		return res, fmt.Errorf("push: %w", err)
	}
	if len(res.Skipped) > 0 {
		slog.WarnContext(ctx, "bridge: left undecodable jobs untouched", "ids", res.Skipped)
	}
	return res, nil
}

// Remove deletes the jobs with the given IDs and returns how many existed.
func (b *Bridge) Remove(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var removed int
	_, err := b.store.Update(ctx, func(reg *Registry) error {
		removed = 0
		for _, id := range ids {
			if reg.Delete(id) {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("remove: %w", err)
	}
	return removed, nil
}

// Jobs returns the decodable jobs ordered by ID.
func (b *Bridge) Jobs(ctx context.Context) ([]*CronJob, Statistics, error) {
	reg, _, err := b.store.Load(ctx)
	if err != nil {
		return nil, Statistics{}, err
	}
	jobs := make([]*CronJob, 0, len(reg.Jobs))
	for _, id := range reg.IDs() {
		jobs = append(jobs, reg.Jobs[id])
	}
	reg.Recompute()
	return jobs, reg.Statistics, nil
}

// ErrUndecodableJob is returned for a record whose registry entry does not
// decode as a job. The entry is kept as it is until it is fixed by hand.
var ErrUndecodableJob = errors.New("registry entry is not a valid job")

// RecordError is the failure of one record of a change batch.
type RecordError struct {
	ID   string
	Type recordstore.ChangeType
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s record %s: %v", e.Type, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

type BatchResult struct {
	Applied int
	Failed  []*RecordError
	Written bool
	// Err is set when the registry itself could not be updated.
	Err error
}

type changeOp struct {
	change  recordstore.Change
	task    task.Task
	command string
}

// ApplyChanges applies a batch from the record store change feed in one
// registry write. Added and modified records patch the fields the bridge
// owns, leaving execution status, timestamps and history alone; removed
// records delete their job. A record that fails to translate or apply is
// reported in Failed and does not affect the others.
func (b *Bridge) ApplyChanges(ctx context.Context, batch []recordstore.Change) BatchResult {
	var (
		res BatchResult
		ops []changeOp
	)
	for _, c := range batch {
		op, err := b.translate(ctx, c)
		if err != nil {
			res.Failed = append(res.Failed, &RecordError{ID: c.ID, Type: c.Type, Err: err})
			b.metrics.ObserveChange(string(c.Type), err)
			continue
		}
		ops = append(ops, op)
	}

	var applyFailed []*RecordError
	written, err := b.store.Update(ctx, func(reg *Registry) error {
		applyFailed = nil
		now := FormatTime(b.now())
		for _, op := range ops {
			err := panicerr.Call(func() error { return b.apply(reg, op, now) })
			if err != nil {
				applyFailed = append(applyFailed, &RecordError{ID: op.change.ID, Type: op.change.Type, Err: err})
			}
		}
		return nil
	})
	res.Written = written
	res.Failed = append(res.Failed, applyFailed...)
	if err != nil {
		res.Err = err
		for _, op := range ops {
			b.metrics.ObserveChange(string(op.change.Type), err)
		}
		return res
	}

	failed := make(map[string]bool, len(applyFailed))
	for _, f := range applyFailed {
		failed[f.ID] = true
		b.metrics.ObserveChange(string(f.Type), f.Err)
	}
	for _, op := range ops {
		if !failed[op.change.ID] {
			res.Applied++
			b.metrics.ObserveChange(string(op.change.Type), nil)
		}
	}
	sort.Slice(res.Failed, func(i, j int) bool { return res.Failed[i].ID < res.Failed[j].ID })
	return res
}

func (b *Bridge) translate(ctx context.Context, c recordstore.Change) (changeOp, error) {
	op := changeOp{change: c}
	err := panicerr.Call(func() error {
		if c.ID == "" {
			return errors.New("record has no id")
		}
		switch c.Type {
		case recordstore.ChangeRemoved:
			return nil
		case recordstore.ChangeAdded, recordstore.ChangeModified:
		default:
			return fmt.Errorf("unknown change type %q", c.Type)
		}
		t, err := task.FromFields(c.ID, c.Fields)
		if err != nil {
			return err
		}
		if t.Title == "" {
			t.Title = task.DefaultTitle
		}
		op.task = t
		if cmd, ok := c.Fields["command"].(string); ok && cmd != "" {
			if err := ValidateCommand(cmd); err != nil {
				slog.WarnContext(ctx, "bridge: keeping command that does not parse", "id", c.ID, "error", err)
			}
			op.command = cmd
		}
		return nil
	})
	return op, err
}

func (b *Bridge) apply(reg *Registry, op changeOp, now string) error {
	id := op.change.ID
	if op.change.Type == recordstore.ChangeRemoved {
		reg.Delete(id)
		return nil
	}
	if reg.Undecodable(id) {
		return ErrUndecodableJob
	}
	def := definitionOf(op.task, b.defaultAgent)
	existing, ok := reg.Jobs[id]
	if !ok {
		j := newJob(id, def, JobPending, now)
		if op.command != "" {
			j.Command = op.command
		}
		reg.Jobs[id] = j
		return nil
	}
	changed := applyDefinition(existing, def)
	if op.command != "" && existing.Command != op.command {
		existing.Command = op.command
		changed = true
	}
	if existing.Command == "" {
		existing.Command = PlaceholderCommand(existing.Name)
		changed = true
	}
	if changed {
		existing.UpdatedAt = now
	}
	return nil
}

// Watch applies every batch from feed until the feed closes or ctx is done.
func (b *Bridge) Watch(ctx context.Context, feed <-chan []recordstore.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-feed:
			if !ok {
				return
			}
			res := b.ApplyChanges(ctx, batch)
			for _, f := range res.Failed {
				slog.WarnContext(ctx, "bridge: change record skipped", "id", f.ID, "type", f.Type, "error", f.Err)
			}
			if res.Err != nil {
				slog.ErrorContext(ctx, "bridge: registry update failed", "records", len(batch), "error", res.Err)
				continue
			}
			slog.InfoContext(ctx, "bridge: applied change batch", "records", len(batch), "applied", res.Applied, "failed", len(res.Failed), "written", res.Written)
		}
	}
}
