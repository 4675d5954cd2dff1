package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sharronesofer/visual-dm-sub037/internal/config"
	"github.com/sharronesofer/visual-dm-sub037/internal/db"
	"github.com/sharronesofer/visual-dm-sub037/internal/event"
	"github.com/sharronesofer/visual-dm-sub037/internal/tier"
)

const ConfigPath = "config/tierserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := ConfigPath
	if p := os.Getenv("TIERSERVER_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	slog.Info("tier server starting", "log_level", cfg.LogLevel)

	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()
	slog.Info("database connected")

	if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database migrations applied")

	archive := db.NewArchiveRepository(database.Pool())
	bus := event.NewBus()

	mgr := tier.NewManager(tier.NewStore(), archive, bus, tier.ManagerConfig{
		TransitionsPerCycle:     cfg.Tier.TransitionsPerCycle,
		InteractionHistoryLimit: cfg.Tier.InteractionHistoryLimit,
	})

	// Rebuild the POI roster from archived records so a restart does not
	// orphan the population.
	roster, err := archive.LoadRoster(ctx)
	if err != nil {
		return fmt.Errorf("restoring NPC roster: %w", err)
	}
	mgr.RestoreRoster(roster)

	// Seed configured POIs that have no archived population yet.
	for _, seed := range cfg.Pois {
		count, err := archive.CountArchived(ctx, seed.ID)
		if err != nil {
			return fmt.Errorf("checking POI %s population: %w", seed.ID, err)
		}
		if count > 0 || len(mgr.VisibleNpcsInPoi(seed.ID)) > 0 {
			continue
		}
		ids, err := mgr.RegisterPoiNpcs(ctx, seed.ID, seed.NpcCount, seed.Archetype)
		if err != nil {
			return fmt.Errorf("seeding POI %s: %w", seed.ID, err)
		}
		slog.Info("POI seeded", "poiID", seed.ID, "npcs", len(ids))
	}

	sched := tier.NewScheduler(mgr, bus, tier.SchedulerConfig{
		ManagementInterval:   time.Duration(cfg.Tier.ManagementIntervalSeconds) * time.Second,
		MaintenanceInterval:  time.Duration(cfg.Tier.MaintenanceIntervalSeconds) * time.Second,
		OptimizationInterval: time.Duration(cfg.Tier.OptimizationIntervalSeconds) * time.Second,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting tier scheduler")
		return sched.Run(gctx)
	})

	// Drain notifications into the log. External systems would subscribe
	// here instead.
	events := bus.Subscribe(256)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case ev := <-events:
				slog.Info("tier event", "name", ev.Name, "at", ev.Timestamp.Format(time.RFC3339))
			}
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// parseLogLevel converts string log level to slog.Level.
// Defaults to Info if invalid or empty.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
