package main

import (
	"context"
	"errors"
	"log"
	"log/slog"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	natsadapter "github.com/samirrijal/trailsketch/internal/adapters/nats"
	"github.com/samirrijal/trailsketch/internal/adapters/postgres"
	"github.com/samirrijal/trailsketch/internal/adapters/sqlite"
	"github.com/samirrijal/trailsketch/internal/adapters/valkey"
	"github.com/samirrijal/trailsketch/internal/pkg/config"
	"github.com/samirrijal/trailsketch/internal/pkg/logging"
	"github.com/samirrijal/trailsketch/internal/workflows"
)

const evictionWorkflowID = "trail-tile-eviction"

func main() {
	cfg, err := config.Load("trailsketch-evictor")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()

	acts := &workflows.EvictionActivities{}
	switch cfg.Trails.Store {
	case config.StorePostgres:
		db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		acts.Store = postgres.NewTileRepo(db)
	case config.StoreValkey:
		cache, err := valkey.New(cfg.Valkey.Addr)
		if err != nil {
			log.Fatalf("valkey: %v", err)
		}
		defer cache.Close()
		acts.Store = cache.Tiles(cfg.Trails.EvictionHorizon())
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.Trails.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite: %v", err)
		}
		defer s.Close()
		acts.Store = s
	default:
		log.Fatalf("nothing to evict for trails.store=%q", cfg.Trails.Store)
	}

	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, evictions will not be broadcast", "error", err)
	} else {
		defer pub.Close()
		acts.Events = pub
	}

	// Connect to Temporal
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logging.Component("temporal"),
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	if err := scheduleEviction(ctx, c, cfg); err != nil {
		log.Fatalf("schedule eviction: %v", err)
	}

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	// Register workflow & activities
	w.RegisterWorkflow(workflows.EvictionWorkflow)
	w.RegisterActivity(acts)

	slog.Info("evictor worker started", "queue", cfg.Temporal.TaskQueue, "cron", cfg.Temporal.EvictionCron)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}

// scheduleEviction starts the cron workflow unless it is already running.
func scheduleEviction(ctx context.Context, c client.Client, cfg *config.Config) error {
	opts := client.StartWorkflowOptions{
		ID:           evictionWorkflowID,
		TaskQueue:    cfg.Temporal.TaskQueue,
		CronSchedule: cfg.Temporal.EvictionCron,
	}
	input := workflows.EvictionInput{Horizon: cfg.Trails.EvictionHorizon()}

	_, err := c.ExecuteWorkflow(ctx, opts, workflows.EvictionWorkflow, input)
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		slog.Info("eviction workflow already scheduled", "id", evictionWorkflowID)
		return nil
	}
	return err
}
