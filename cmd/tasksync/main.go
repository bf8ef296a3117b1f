package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"

	"github.com/kazz187/tasksync/internal/config"
	"github.com/kazz187/tasksync/internal/cronregistry"
	"github.com/kazz187/tasksync/internal/eventbus"
	"github.com/kazz187/tasksync/internal/localcache"
	"github.com/kazz187/tasksync/internal/metrics"
	"github.com/kazz187/tasksync/internal/recordstore"
	"github.com/kazz187/tasksync/internal/storageadapter"
	"github.com/kazz187/tasksync/pkg/clog"
	"github.com/kazz187/tasksync/pkg/storage"
)

var (
	app = kingpin.New("tasksync", "Keeps the task board, its record store and the cron job registry in sync")

	serveCmd = app.Command("serve", "Run the sync loop and the HTTP API").Default()

	watchCmd = app.Command("watch", "Apply record store changes of cron tasks to the registry")

	pullCmd  = app.Command("pull", "Read the registry and print the resulting tasks")
	pullJSON = pullCmd.Flag("json", "Print JSON instead of a table").Bool()

	pushCmd = app.Command("push", "Write the stored cron tasks to the registry")
	pushAll = pushCmd.Flag("status", "Let task statuses overwrite job statuses").Bool()

	migrateCmd = app.Command("migrate", "Seed the record store from the local cache")

	statsCmd = app.Command("stats", "Print registry statistics")
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}
	setupLogger(env)

	ctx := context.Background()
	d, err := newDeps(ctx, env)
	if err != nil {
		slog.Error("failed to set up", "error", err)
		os.Exit(1)
	}
	defer d.Close()

	switch command {
	case serveCmd.FullCommand():
		err = runServe(ctx, env, d)
	case watchCmd.FullCommand():
		err = runWatch(ctx, env, d)
	case pullCmd.FullCommand():
		err = runPull(ctx, d, *pullJSON)
	case pushCmd.FullCommand():
		err = runPush(ctx, d, *pushAll)
	case migrateCmd.FullCommand():
		d.adapter.InitializeStorage(ctx)
	case statsCmd.FullCommand():
		err = runStats(ctx, d)
	}
	if err != nil {
		slog.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func setupLogger(env *config.Env) {
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))
}

// deps holds what every command shares.
type deps struct {
	store    storage.Storage
	cache    localcache.KV
	bus      *eventbus.Bus
	records  *recordstore.Store
	adapter  *storageadapter.Adapter
	registry *cronregistry.Store
	bridge   *cronregistry.Bridge
	metrics  *metrics.Metrics
	closers  []func() error
}

func newDeps(ctx context.Context, env *config.Env) (*deps, error) {
	d := &deps{
		bus:     eventbus.New(),
		metrics: metrics.New(),
	}

	var err error
	switch env.StorageEnv.Type {
	case "s3":
		d.store, err = storage.NewS3Storage(ctx, env.S3Bucket, env.S3Prefix, env.S3Region)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
	case "memory":
		d.store = storage.NewMemoryStorage()
	default:
		d.store, err = storage.NewLocalStorage(env.StorageEnv.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("create local storage: %w", err)
		}
	}

	switch env.CacheEnv.Type {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(env.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		kv, err := localcache.OpenSQLiteKV(ctx, env.SQLitePath)
		if err != nil {
			return nil, err
		}
		d.cache = kv
		d.closers = append(d.closers, kv.Close)
	default:
		local, err := storage.NewLocalStorage(env.CacheEnv.Dir)
		if err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		d.cache = localcache.NewStorageKV(local)
	}

	regPath, err := env.RegistryEnv.Path()
	if err != nil {
		return nil, err
	}
	regStorage, err := storage.NewLocalStorage(filepath.Dir(regPath))
	if err != nil {
		return nil, fmt.Errorf("open registry dir: %w", err)
	}

	d.records = recordstore.New(d.store, d.bus)
	d.adapter = storageadapter.New(d.records, d.cache, storageadapter.WithMetrics(d.metrics))
	d.registry = cronregistry.NewStore(regStorage, filepath.Base(regPath),
		cronregistry.WithMaxRetries(env.MaxRetries),
		cronregistry.WithStoreMetrics(d.metrics),
	)
	d.bridge = cronregistry.NewBridge(d.registry, d.cache,
		cronregistry.WithDefaultAgent(env.DefaultAgent),
		cronregistry.WithBridgeMetrics(d.metrics),
	)
	slog.Debug("dependencies ready", "storage", env.StorageEnv.Type, "cache", env.CacheEnv.Type, "registry", regPath)
	return d, nil
}

func (d *deps) Close() {
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c())
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("failed to close resources", "error", err)
	}
}
