// Command tiersim drives the tier manager through a simulated player
// population on an accelerated clock and prints the resulting tier
// distribution and budget report. No database required.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/sharronesofer/visual-dm-sub037/internal/db"
	"github.com/sharronesofer/visual-dm-sub037/internal/event"
	"github.com/sharronesofer/visual-dm-sub037/internal/model"
	"github.com/sharronesofer/visual-dm-sub037/internal/tier"
)

func main() {
	var (
		pois    = flag.Int("pois", 20, "number of POIs to register")
		npcs    = flag.Int("npcs", 100, "NPCs per POI")
		players = flag.Int("players", 50, "simulated players")
		steps   = flag.Int("steps", 48, "simulation steps (30 sim-minutes each)")
		budget  = flag.Int("budget", 200, "transitions per management cycle")
		seed    = flag.Uint64("seed", 1, "PRNG seed")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(*pois, *npcs, *players, *steps, *budget, *seed); err != nil {
		slog.Error("simulation failed", "err", err)
		os.Exit(1)
	}
}

func run(pois, npcs, players, steps, budget int, seed uint64) error {
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(seed, seed))

	archive := db.NewMemoryArchive()
	bus := event.NewBus()
	mgr := tier.NewManager(tier.NewStore(), archive, bus, tier.ManagerConfig{
		TransitionsPerCycle: budget,
	})

	// Simulated clock, advanced 30 minutes per step.
	simTime := time.Now()
	mgr.SetClock(func() time.Time { return simTime })

	archetypes := []string{"settlement", "military", "other"}
	poiIDs := make([]string, 0, pois)
	for i := range pois {
		poiID := fmt.Sprintf("poi_%03d", i)
		poiIDs = append(poiIDs, poiID)
		if _, err := mgr.RegisterPoiNpcs(ctx, poiID, npcs, archetypes[i%len(archetypes)]); err != nil {
			return fmt.Errorf("registering %s: %w", poiID, err)
		}
	}
	slog.Info("population registered", "pois", pois, "npcsPerPoi", npcs)

	for step := range steps {
		simTime = simTime.Add(30 * time.Minute)

		// Each step a subset of players moves and talks.
		for p := range players {
			if rng.Float64() > 0.3 {
				continue
			}
			playerID := fmt.Sprintf("player_%03d", p)
			poiID := poiIDs[rng.IntN(len(poiIDs))]
			if _, err := mgr.OnPlayerEntersPoi(ctx, playerID, poiID); err != nil {
				return fmt.Errorf("player enters poi: %w", err)
			}
			visible := mgr.VisibleNpcsInPoi(poiID)
			if len(visible) == 0 {
				continue
			}
			npc := visible[rng.IntN(len(visible))]
			if _, err := mgr.OnPlayerInteractsWithNpc(ctx, playerID, npc.ID); err != nil {
				return fmt.Errorf("player interacts: %w", err)
			}
		}

		stats, err := mgr.RunTierManagementCycle(ctx)
		if err != nil {
			return fmt.Errorf("management cycle at step %d: %w", step, err)
		}
		if stats.Demotions > 0 {
			slog.Debug("cycle", "step", step, "examined", stats.Examined, "demotions", stats.Demotions)
		}
	}

	status := mgr.BudgetStatus()
	fmt.Println("=== tier distribution ===")
	for _, t := range model.ResidentTiers {
		fmt.Printf("%-22s %d\n", t.Key(), status.Metrics.Counts[t])
	}
	fmt.Printf("%-22s %d\n", model.TierStatistical.Key(), status.Metrics.Counts[model.TierStatistical])
	fmt.Printf("cpu load: %.1f units, memory: %.1f MB, visible ratio: %.3f\n",
		status.Metrics.CPULoadUnits, status.Metrics.MemoryUsageMB, status.Metrics.VisibleRatio())
	fmt.Printf("promotions: %d, demotions: %d, archived records: %d\n",
		status.Metrics.TotalPromotions, status.Metrics.TotalDemotions, archive.Count())
	for _, rec := range status.Recommendations {
		fmt.Println("recommendation:", rec)
	}
	return nil
}
