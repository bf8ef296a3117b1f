package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	server "github.com/kazz187/tasksync/internal"
	"github.com/kazz187/tasksync/internal/config"
	"github.com/kazz187/tasksync/internal/cronregistry"
	"github.com/kazz187/tasksync/internal/orchestrator"
	"github.com/kazz187/tasksync/internal/pushnotification"
	"github.com/kazz187/tasksync/internal/pushsubscription"
	"github.com/kazz187/tasksync/internal/recordstore"
	"github.com/kazz187/tasksync/internal/storageadapter"
	"github.com/kazz187/tasksync/internal/task"
)

var serveWatch = serveCmd.Flag("watch", "Also apply record store changes of cron tasks to the registry").Bool()

func runServe(ctx context.Context, env *config.Env, d *deps) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	pushSubRepo := pushsubscription.NewRecordRepository(d.records)
	pushSender := pushnotification.NewSender(config.VAPIDEnvFromEnv(env), pushSubRepo)
	pushDispatcher := pushnotification.NewDispatcher(d.bus, pushSender)

	// The orchestrator mirrors the merged board itself, so its bridge leaves
	// the cache alone.
	bridge := cronregistry.NewBridge(d.registry, nil,
		cronregistry.WithDefaultAgent(env.DefaultAgent),
		cronregistry.WithBridgeMetrics(d.metrics),
	)
	orch := orchestrator.New(d.adapter.Tasks, bridge,
		orchestrator.WithInitializer(d.adapter.InitializeStorage),
		orchestrator.WithNotifier(pushSender),
		orchestrator.WithEventBus(d.bus),
		orchestrator.WithMetrics(d.metrics),
		orchestrator.WithPullInterval(env.PullInterval),
		orchestrator.WithDebounce(env.Debounce),
		orchestrator.WithDefaultAgent(env.DefaultAgent),
	)
	// The loop outlives the signal so the final reconcile can run; Stop ends it.
	if err := orch.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	srv := server.NewServer(env, orch, d.store, pushSubRepo, d.metrics, d.bus)

	var wg conc.WaitGroup
	wg.Go(func() { pushDispatcher.Start(ctx) })
	if *serveWatch {
		wg.Go(func() { watchFeed(ctx, env, d, bridge) })
	}
	wg.Go(func() {
		if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	})

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if res, err := orch.Reconcile(shutdownCtx); err != nil {
		slog.Warn("final reconcile skipped", "error", err)
	} else if res.Err != nil {
		slog.Warn("final reconcile finished with errors", "error", res.Err)
	}
	orch.Stop()
	wg.Wait()
	return nil
}

func runWatch(ctx context.Context, env *config.Env, d *deps) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()
	watchFeed(ctx, env, d, d.bridge)
	return nil
}

// watchFeed blocks until ctx is done.
func watchFeed(ctx context.Context, env *config.Env, d *deps, bridge *cronregistry.Bridge) {
	feed := d.records.Subscribe(ctx, storageadapter.CollectionTasks,
		recordstore.Filter{Field: "type", Equals: string(task.KindCron)},
		recordstore.WithPollInterval(env.FeedPollInterval),
	)
	slog.Info("watching cron tasks", "collection", storageadapter.CollectionTasks, "registry", d.registry.Path())
	bridge.Watch(ctx, feed)
	slog.Info("stopped watching cron tasks")
}
