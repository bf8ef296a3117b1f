// Package orchestrator owns the in-memory task board and decides when it is
// reconciled with the record store, the local cache and the cron registry.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/kazz187/tasksync/internal/agent"
	"github.com/kazz187/tasksync/internal/cronregistry"
	"github.com/kazz187/tasksync/internal/eventbus"
	"github.com/kazz187/tasksync/internal/metrics"
	"github.com/kazz187/tasksync/internal/storageadapter"
	"github.com/kazz187/tasksync/internal/task"
	"github.com/kazz187/tasksync/pkg/cerr"
)

const (
	DefaultPullInterval = 30 * time.Second
	DefaultDebounce     = time.Second
)

var (
	ErrNotRunning     = errors.New("orchestrator: not running")
	ErrAlreadyStarted = errors.New("orchestrator: already started")
)

// TaskStore is the task kind of the storage adapter.
type TaskStore interface {
	GetAll(ctx context.Context) []task.Task
	Mirror(ctx context.Context, tasks []task.Task) error
	Upsert(ctx context.Context, tasks []task.Task) storageadapter.SaveResult
	Delete(ctx context.Context, id string) error
}

// Registry is the cron registry side of the board.
type Registry interface {
	Pull(ctx context.Context) ([]task.Task, error)
	Push(ctx context.Context, tasks []task.Task, opts cronregistry.PushOptions) (cronregistry.PushResult, error)
	Remove(ctx context.Context, ids []string) (int, error)
}

// Notifier reports failures of explicit user actions that completed after the
// action itself returned.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

type Option func(*Orchestrator)

// WithInitializer runs init once at Start, before the first pull.
func WithInitializer(init func(ctx context.Context)) Option {
	return func(o *Orchestrator) {
		o.init = init
	}
}

func WithAgentSink(s AgentSink) Option {
	return func(o *Orchestrator) {
		o.sink = s
	}
}

func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

func WithEventBus(b *eventbus.Bus) Option {
	return func(o *Orchestrator) {
		o.bus = b
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithPullInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pullInterval = d
		}
	}
}

// WithDebounce sets the quiet period after the last change before a
// reconcile runs.
func WithDebounce(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.debounce = d
		}
	}
}

func WithDefaultAgent(id string) Option {
	return func(o *Orchestrator) {
		if id != "" {
			o.defaultAgent = id
		}
	}
}

type request struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

// Orchestrator serializes every board mutation, the periodic pull and the
// debounced reconcile on a single loop goroutine.
type Orchestrator struct {
	tasks        TaskStore
	registry     Registry
	init         func(ctx context.Context)
	sink         AgentSink
	notifier     Notifier
	bus          *eventbus.Bus
	metrics      *metrics.Metrics
	pullInterval time.Duration
	debounce     time.Duration
	defaultAgent string

	reqs    chan request
	stopped chan struct{}
	wg      conc.WaitGroup
	mu      sync.Mutex
	cancel  context.CancelFunc

	// Owned by the loop goroutine once started.
	board []task.Task
	// owned holds the cron task IDs whose status changed locally since the
	// last successful registry push.
	owned map[string]struct{}
	// deletes maps tombstoned task IDs to their titles until the record store
	// delete succeeds.
	deletes map[string]string
	// removals holds job IDs to drop from the registry: deleted cron tasks and
	// tasks that stopped being cron.
	removals map[string]struct{}
	dirty    bool
	timer    *time.Timer
}

func New(tasks TaskStore, registry Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tasks:        tasks,
		registry:     registry,
		sink:         LogSink{},
		pullInterval: DefaultPullInterval,
		debounce:     DefaultDebounce,
		defaultAgent: agent.DefaultID,
		reqs:         make(chan request),
		stopped:      make(chan struct{}),
		owned:        map[string]struct{}{},
		deletes:      map[string]string{},
		removals:     map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start initializes storage, loads the board and merges one registry pull
// into it before the loop starts serving requests. The loop runs until ctx is
// cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return ErrAlreadyStarted
	}

	if o.init != nil {
		o.init(ctx)
	}
	o.board = o.tasks.GetAll(ctx)
	pulled, err := o.registry.Pull(ctx)
	if err != nil {
		slog.WarnContext(ctx, "orchestrator: initial pull failed", "error", err)
	} else {
		o.board, o.dirty = merge(o.board, pulled, o.pinned, o.tombstoned)
	}
	_ = o.tasks.Mirror(ctx, o.board)
	o.metrics.SetBoardTasks(len(o.board))

	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.wg.Go(func() {
		defer close(o.stopped)
		o.loop(loopCtx)
	})
	slog.InfoContext(ctx, "orchestrator started", "tasks", len(o.board), "pull_interval", o.pullInterval, "debounce", o.debounce)
	return nil
}

// Stop ends the loop and waits for it. The pull ticker and a pending
// debounce timer are cleared, so nothing is written after Stop returns.
// Pending changes are dropped; call Reconcile first to flush them.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	o.wg.Wait()
}

func (o *Orchestrator) loop(ctx context.Context) {
	ticker := time.NewTicker(o.pullInterval)
	defer ticker.Stop()
	o.timer = time.NewTimer(o.debounce)
	if !o.dirty {
		o.timer.Stop()
	}
	defer o.timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if o.dirty {
				slog.Warn("orchestrator: stopped with unreconciled changes")
			}
			slog.Info("orchestrator stopped")
			return
		case req := <-o.reqs:
			req.fn(ctx)
			close(req.done)
		case <-ticker.C:
			_ = o.pull(ctx)
		case <-o.timer.C:
			o.reconcile(ctx)
		}
	}
}

// do runs fn on the loop goroutine and waits for it to finish.
func (o *Orchestrator) do(ctx context.Context, fn func(ctx context.Context)) error {
	o.mu.Lock()
	started := o.cancel != nil
	o.mu.Unlock()
	if !started {
		return ErrNotRunning
	}
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case o.reqs <- req:
	case <-o.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// touch marks the board dirty and restarts the debounce timer.
func (o *Orchestrator) touch() {
	o.dirty = true
	o.timer.Reset(o.debounce)
}

func (o *Orchestrator) pinned(id string) bool {
	_, owned := o.owned[id]
	_, removing := o.removals[id]
	return owned || removing
}

// tombstoned reports whether a pull must not bring the task back.
func (o *Orchestrator) tombstoned(id string) bool {
	_, deleting := o.deletes[id]
	_, removing := o.removals[id]
	return deleting || removing
}

func (o *Orchestrator) index(id string) int {
	return slices.IndexFunc(o.board, func(t task.Task) bool { return t.ID == id })
}

func (o *Orchestrator) publish(eventType eventbus.EventType, resourceID string, metadata map[string]string) {
	if o.bus == nil {
		return
	}
	o.bus.PublishNew(eventType, storageadapter.CollectionTasks, resourceID, metadata)
}

// pull flushes a pending reconcile, so local edits reach the registry before
// its state is read back, and then merges the registry into the board.
func (o *Orchestrator) pull(ctx context.Context) error {
	if o.dirty {
		o.reconcile(ctx)
	}
	pulled, err := o.registry.Pull(ctx)
	if err != nil {
		slog.WarnContext(ctx, "orchestrator: pull failed", "error", err)
		return err
	}
	merged, changed := merge(o.board, pulled, o.pinned, o.tombstoned)
	before := task.Index(o.board)
	o.board = merged
	for _, t := range merged {
		if prev, ok := before[t.ID]; ok && prev.Status != t.Status {
			o.publish(eventbus.StatusPulled, t.ID, map[string]string{
				"title": t.Title,
				"from":  string(prev.Status),
				"to":    string(t.Status),
			})
		}
	}
	_ = o.tasks.Mirror(ctx, o.board)
	o.metrics.SetBoardTasks(len(o.board))
	if changed {
		slog.DebugContext(ctx, "orchestrator: pull changed the board", "tasks", len(o.board))
		o.publish(eventbus.TasksPulled, "", map[string]string{"tasks": strconv.Itoa(len(o.board))})
		o.touch()
	}
	return nil
}

// merge folds a registry pull into the board. A pulled task replaces its
// board version but keeps the local project and tags. Pinned IDs keep the
// board version. Manual tasks stay, cron tasks the registry no longer holds
// are dropped and unknown jobs are appended in pull order. Tombstoned IDs are
// never brought back.
func merge(board, pulled []task.Task, pinned, tombstoned func(id string) bool) ([]task.Task, bool) {
	byID := task.Index(pulled)
	out := make([]task.Task, 0, max(len(board), len(pulled)))
	seen := make(map[string]struct{}, len(board))
	for _, t := range board {
		seen[t.ID] = struct{}{}
		p, ok := byID[t.ID]
		switch {
		case pinned(t.ID):
			out = append(out, t)
		case ok:
			p.Project = t.Project
			p.Tags = slices.Clone(t.Tags)
			out = append(out, p)
		case t.IsCron():
			// The job is gone from the registry.
		default:
			out = append(out, t)
		}
	}
	for _, p := range pulled {
		if _, ok := seen[p.ID]; ok || tombstoned(p.ID) {
			continue
		}
		out = append(out, p.Clone())
	}
	return out, !slices.EqualFunc(board, out, equal)
}

func equal(a, b task.Task) bool {
	return a.ID == b.ID &&
		a.Title == b.Title &&
		a.Description == b.Description &&
		a.Type == b.Type &&
		a.Schedule == b.Schedule &&
		a.Status == b.Status &&
		a.Priority == b.Priority &&
		a.AgentID == b.AgentID &&
		a.Project == b.Project &&
		slices.Equal(a.Tags, b.Tags)
}

// ReconcileResult aggregates one reconcile pass. Err joins the failure of
// every step; the steps themselves never stop each other.
type ReconcileResult struct {
	Saved       int
	SaveFailed  []string
	Deleted     []string
	Push        cronregistry.PushResult
	JobsRemoved int
	Err         error
}

// reconcile writes the board to the cache, the record store, the registry
// and the agent sink, in that order.
func (o *Orchestrator) reconcile(ctx context.Context) ReconcileResult {
	start := time.Now()
	o.timer.Stop()
	o.dirty = false
	board := task.CloneAll(o.board)

	var (
		res  ReconcileResult
		errs []error
	)
	if err := o.tasks.Mirror(ctx, board); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}

	saved := o.tasks.Upsert(ctx, board)
	res.Saved, res.SaveFailed = saved.Saved, saved.Failed
	if saved.Err != nil {
		errs = append(errs, fmt.Errorf("record store: %w", saved.Err))
	}

	for _, id := range slices.Sorted(maps.Keys(o.deletes)) {
		if err := o.tasks.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
			o.notifyDeleteFailed(ctx, id, o.deletes[id], err)
			continue
		}
		delete(o.deletes, id)
		res.Deleted = append(res.Deleted, id)
	}

	owned := slices.Sorted(maps.Keys(o.owned))
	if owned == nil {
		owned = []string{}
	}
	push, err := o.registry.Push(ctx, board, cronregistry.PushOptions{StatusOwned: owned})
	res.Push = push
	if err != nil {
		errs = append(errs, err)
	} else {
		clear(o.owned)
	}

	if len(o.removals) > 0 {
		n, err := o.registry.Remove(ctx, slices.Sorted(maps.Keys(o.removals)))
		if err != nil {
			errs = append(errs, err)
		} else {
			res.JobsRemoved = n
			clear(o.removals)
		}
	}

	if err := o.sink.Sync(ctx, board); err != nil {
		errs = append(errs, fmt.Errorf("agent sink: %w", err))
	}

	res.Err = errors.Join(errs...)
	o.metrics.ObserveReconcile(start, res.Err)
	meta := map[string]string{
		"saved":        strconv.Itoa(res.Saved),
		"jobs_created": strconv.Itoa(push.Created),
		"jobs_updated": strconv.Itoa(push.Updated),
		"jobs_removed": strconv.Itoa(res.JobsRemoved),
	}
	if res.Err != nil {
		meta["error"] = res.Err.Error()
		slog.WarnContext(ctx, "orchestrator: reconcile finished with errors", "error", res.Err, "duration", time.Since(start))
	} else {
		slog.DebugContext(ctx, "orchestrator: reconciled", "saved", res.Saved, "jobs_created", push.Created, "jobs_updated", push.Updated, "jobs_removed", res.JobsRemoved)
	}
	o.publish(eventbus.Reconciled, "", meta)
	return res
}

func (o *Orchestrator) notifyDeleteFailed(ctx context.Context, id, title string, cause error) {
	slog.ErrorContext(ctx, "orchestrator: delete failed", "task_id", id, "error", cause)
	if o.notifier == nil {
		return
	}
	body := fmt.Sprintf("%q could not be deleted and will be retried: %v", title, cause)
	if err := o.notifier.Notify(ctx, "Delete failed", body); err != nil {
		slog.WarnContext(ctx, "orchestrator: notification failed", "task_id", id, "error", err)
	}
}

// Tasks returns a copy of the board.
func (o *Orchestrator) Tasks(ctx context.Context) ([]task.Task, error) {
	var out []task.Task
	err := o.do(ctx, func(context.Context) {
		out = task.CloneAll(o.board)
	})
	return out, err
}

// RequestPull pulls the registry now and returns the resulting board.
func (o *Orchestrator) RequestPull(ctx context.Context) ([]task.Task, error) {
	var (
		out     []task.Task
		pullErr error
	)
	err := o.do(ctx, func(ctx context.Context) {
		pullErr = o.pull(ctx)
		out = task.CloneAll(o.board)
	})
	if err != nil {
		return nil, err
	}
	if pullErr != nil {
		return out, cerr.NewError(cerr.Unavailable, "cron registry could not be read", pullErr)
	}
	return out, nil
}

// Reconcile runs a reconcile pass now, whether or not the board changed.
func (o *Orchestrator) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	err := o.do(ctx, func(ctx context.Context) {
		res = o.reconcile(ctx)
	})
	return res, err
}
