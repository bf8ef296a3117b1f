// Package storageadapter fronts the record store with the local cache for
// every entity kind.
package storageadapter

import (
	"context"
	"log/slog"

	"github.com/kazz187/tasksync/internal/doc"
	"github.com/kazz187/tasksync/internal/localcache"
	"github.com/kazz187/tasksync/internal/memory"
	"github.com/kazz187/tasksync/internal/metrics"
	"github.com/kazz187/tasksync/internal/person"
	"github.com/kazz187/tasksync/internal/project"
	"github.com/kazz187/tasksync/internal/recordstore"
	"github.com/kazz187/tasksync/internal/skill"
	"github.com/kazz187/tasksync/internal/task"
)

// Record store collection names.
const (
	CollectionTasks    = "tasks"
	CollectionDocs     = "docs"
	CollectionPeople   = "people"
	CollectionProjects = "projects"
	CollectionSkills   = "skills"
	CollectionMemory   = "memory"
)

const defaultWorkers = 8

type config struct {
	workers int
	metrics *metrics.Metrics
}

type Option func(*config)

// WithWorkers bounds the concurrent record store writes of one Save.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

func newConfig(opts []Option) config {
	cfg := config{workers: defaultWorkers}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

type Adapter struct {
	Tasks    *Kind[task.Task]
	Docs     *Kind[doc.Document]
	People   *Kind[person.Person]
	Projects *Kind[project.Project]
	Skills   *Kind[skill.Skill]
	Memory   *Kind[memory.Block]
}

func New(store *recordstore.Store, cache localcache.KV, opts ...Option) *Adapter {
	return &Adapter{
		Tasks:    NewKind(CollectionTasks, recordstore.NewCollection[task.Task](store, CollectionTasks), cache, localcache.KeyTasks, opts...),
		Docs:     NewKind(CollectionDocs, recordstore.NewCollection[doc.Document](store, CollectionDocs), cache, localcache.KeyDocs, opts...),
		People:   NewKind(CollectionPeople, recordstore.NewCollection[person.Person](store, CollectionPeople), cache, localcache.KeyPeople, opts...),
		Projects: NewKind(CollectionProjects, recordstore.NewCollection[project.Project](store, CollectionProjects), cache, localcache.KeyProjects, opts...),
		Skills:   NewKind(CollectionSkills, recordstore.NewCollection[skill.Skill](store, CollectionSkills), cache, localcache.KeySkills, opts...),
		Memory:   NewKind(CollectionMemory, recordstore.NewCollection[memory.Block](store, CollectionMemory), cache, localcache.KeyMemory, opts...),
	}
}

type seeder interface {
	Name() string
	Seed(ctx context.Context) (int, error)
}

// InitializeStorage seeds every empty record store collection from the cache.
// Failures are logged and never stop startup.
func (a *Adapter) InitializeStorage(ctx context.Context) {
	for _, k := range []seeder{a.Tasks, a.Docs, a.People, a.Projects, a.Skills, a.Memory} {
		n, err := k.Seed(ctx)
		if err != nil {
			slog.WarnContext(ctx, "storage: seeding from cache failed", "kind", k.Name(), "seeded", n, "error", err)
			continue
		}
		if n > 0 {
			slog.InfoContext(ctx, "storage: seeded record store from cache", "kind", k.Name(), "count", n)
		}
	}
}
