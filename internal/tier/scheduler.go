package tier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sharronesofer/visual-dm-sub037/internal/event"
	"github.com/sharronesofer/visual-dm-sub037/internal/model"
)

// Cycle kinds accepted by ForceCycle.
const (
	CycleManagement   = "management"
	CycleMaintenance  = "maintenance"
	CycleOptimization = "optimization"
)

// Interval floors. UpdateIntervals clamps to these so a misconfiguration
// cannot create a runaway loop.
const (
	ManagementIntervalFloor   = 60 * time.Second
	MaintenanceIntervalFloor  = 300 * time.Second
	OptimizationIntervalFloor = 600 * time.Second

	// ManagementIntervalCeiling bounds the adaptive interval growth.
	ManagementIntervalCeiling = 600 * time.Second
)

// Adaptive control thresholds used by the optimization cycle. A simple
// proportional step on one scalar: load high → slow the management loop by
// 20%, load low → speed it up by 10%.
const (
	loadHighWaterUnits = 3000.0
	loadLowWaterUnits  = 1000.0
)

// Flat backoffs for the two low-urgency loops.
const (
	maintenanceBackoff  = 600 * time.Second
	optimizationBackoff = 1200 * time.Second
)

// SchedulerConfig holds the three loop periods.
type SchedulerConfig struct {
	ManagementInterval   time.Duration
	MaintenanceInterval  time.Duration
	OptimizationInterval time.Duration
}

// DefaultSchedulerConfig returns the production periods.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ManagementInterval:   300 * time.Second,
		MaintenanceInterval:  3600 * time.Second,
		OptimizationInterval: 7200 * time.Second,
	}
}

// SchedulerStatus is a point-in-time snapshot of the scheduler.
type SchedulerStatus struct {
	Running    bool
	CycleCount int64
	ErrorCount int

	Intervals map[string]time.Duration
	LastRun   map[string]time.Time
	// NextRun projects last run + current interval per loop. Zero for loops
	// that have not run yet.
	NextRun map[string]time.Time
}

// Scheduler drives the tier manager's cycles on three independent periodic
// loops and adapts the management period to observed computational load.
// It owns no NPC state itself.
//
// Each loop is sleep-then-act: the only suspension points are the interval
// and backoff sleeps, so a slow maintenance pass never stalls the
// management cycle. Cancellation takes effect between iterations — a cycle
// body is never interrupted midway.
type Scheduler struct {
	mgr *Manager
	bus *event.Bus

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	managementInterval   time.Duration
	maintenanceInterval  time.Duration
	optimizationInterval time.Duration

	cycleCount int64
	errorCount int
	lastRun    map[string]time.Time

	now func() time.Time
}

// NewScheduler creates a scheduler for the given manager. bus may be nil.
func NewScheduler(mgr *Manager, bus *event.Bus, cfg SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.ManagementInterval <= 0 {
		cfg.ManagementInterval = def.ManagementInterval
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = def.MaintenanceInterval
	}
	if cfg.OptimizationInterval <= 0 {
		cfg.OptimizationInterval = def.OptimizationInterval
	}
	return &Scheduler{
		mgr:                  mgr,
		bus:                  bus,
		managementInterval:   cfg.ManagementInterval,
		maintenanceInterval:  cfg.MaintenanceInterval,
		optimizationInterval: cfg.OptimizationInterval,
		lastRun:              make(map[string]time.Time),
		now:                  time.Now,
	}
}

// Start spawns the three loop goroutines. Starting a running scheduler is a
// warning-level no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		slog.Warn("tier scheduler already running, start ignored")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.managementLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.maintenanceLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.optimizationLoop(ctx)
	}()

	slog.Info("tier scheduler started",
		"managementInterval", s.managementInterval,
		"maintenanceInterval", s.maintenanceInterval,
		"optimizationInterval", s.optimizationInterval)
}

// Stop cancels the three loops and waits for them to finish. Stopping a
// stopped scheduler is a warning-level no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		slog.Warn("tier scheduler not running, stop ignored")
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	slog.Info("tier scheduler stopped")
}

// Run starts the scheduler, blocks until ctx is done, then stops it.
// Convenience for errgroup-style wiring.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	s.Stop()
	return ctx.Err()
}

// ManagementBackoff returns the capped exponential backoff applied after
// errorCount consecutive management-cycle failures:
// min(60·2^min(errorCount,5), 300) seconds.
func ManagementBackoff(errorCount int) time.Duration {
	exp := errorCount
	if exp > 5 {
		exp = 5
	}
	d := 60 * time.Second << exp
	if d > 300*time.Second {
		d = 300 * time.Second
	}
	return d
}

func (s *Scheduler) managementLoop(ctx context.Context) {
	wait := s.currentManagementInterval()
	for {
		select {
		case <-ctx.Done():
			slog.Info("management loop stopping")
			return
		case <-time.After(wait):
		}

		if err := s.runManagementCycle(ctx); err != nil {
			n := s.bumpErrorCount()
			wait = ManagementBackoff(n)
			slog.Error("tier management cycle failed",
				"consecutiveErrors", n,
				"backoff", wait,
				"error", err)
			continue
		}
		wait = s.currentManagementInterval()
	}
}

func (s *Scheduler) maintenanceLoop(ctx context.Context) {
	wait := s.currentInterval(CycleMaintenance)
	for {
		select {
		case <-ctx.Done():
			slog.Info("maintenance loop stopping")
			return
		case <-time.After(wait):
		}

		if err := s.runMaintenanceCycle(ctx); err != nil {
			wait = maintenanceBackoff
			slog.Error("tier maintenance cycle failed", "backoff", wait, "error", err)
			continue
		}
		wait = s.currentInterval(CycleMaintenance)
	}
}

func (s *Scheduler) optimizationLoop(ctx context.Context) {
	wait := s.currentInterval(CycleOptimization)
	for {
		select {
		case <-ctx.Done():
			slog.Info("optimization loop stopping")
			return
		case <-time.After(wait):
		}

		if err := s.runOptimizationCycle(ctx); err != nil {
			wait = optimizationBackoff
			slog.Error("tier optimization cycle failed", "backoff", wait, "error", err)
			continue
		}
		wait = s.currentInterval(CycleOptimization)
	}
}

// runManagementCycle executes one management cycle and publishes its
// results. A success decays the consecutive-error counter by one, so a
// transient failure does not permanently slow the loop.
func (s *Scheduler) runManagementCycle(ctx context.Context) error {
	start := s.now()
	stats, err := s.mgr.RunTierManagementCycle(ctx)
	if err != nil {
		return err
	}
	duration := s.now().Sub(start)

	s.mu.Lock()
	s.cycleCount++
	cycle := s.cycleCount
	if s.errorCount > 0 {
		s.errorCount--
	}
	s.lastRun[CycleManagement] = start
	s.mu.Unlock()

	slog.Debug("tier management cycle completed",
		"cycle", cycle,
		"duration", duration,
		"examined", stats.Examined,
		"demotions", stats.Demotions)

	if s.bus != nil {
		s.bus.Publish(event.TierManagementCycleCompleted, CycleCompleted{
			CycleNumber:     cycle,
			DurationSeconds: duration.Seconds(),
			Results:         stats,
		})
	}
	return nil
}

// runMaintenanceCycle checks the fixed health thresholds and prunes stale
// interaction history.
func (s *Scheduler) runMaintenanceCycle(ctx context.Context) error {
	status := s.mgr.BudgetStatus()
	metrics := status.Metrics

	var issues []string
	if metrics.MemoryUsageMB > MemoryWarnMB {
		issues = append(issues, fmt.Sprintf("memory usage %.0fMB exceeds %.0fMB", metrics.MemoryUsageMB, MemoryWarnMB))
	}
	if metrics.CPULoadUnits > CPUWarnUnits {
		issues = append(issues, fmt.Sprintf("computational load %.0f units exceeds %.0f", metrics.CPULoadUnits, CPUWarnUnits))
	}
	if metrics.Counts[model.TierActive] > Tier1WarnCount {
		issues = append(issues, fmt.Sprintf("tier 1 population %d exceeds %d", metrics.Counts[model.TierActive], Tier1WarnCount))
	}

	if len(issues) > 0 {
		slog.Warn("tier system health thresholds breached", "issues", issues)
		if s.bus != nil {
			s.bus.Publish(event.TierSystemHealthWarning, HealthWarning{
				Issues:  issues,
				Metrics: metrics,
			})
		}
	} else {
		slog.Debug("tier system health check passed",
			"cpuUnits", metrics.CPULoadUnits,
			"memoryMB", metrics.MemoryUsageMB)
	}

	pruned := s.mgr.PruneStaleInteractions(7 * 24 * time.Hour)
	if pruned > 0 {
		slog.Info("stale interaction history pruned", "entries", pruned)
	}

	s.mu.Lock()
	s.lastRun[CycleMaintenance] = s.now()
	s.mu.Unlock()
	return nil
}

// runOptimizationCycle is the feedback controller: it nudges the management
// period against measured computational load and flags optimization
// candidates as advisory output. A deliberate proportional step, not a PID —
// tier drift is slow relative to the loop period.
func (s *Scheduler) runOptimizationCycle(ctx context.Context) error {
	start := s.now()
	status := s.mgr.BudgetStatus()
	metrics := status.Metrics

	var performed []string

	switch {
	case metrics.CPULoadUnits > loadHighWaterUnits:
		next := s.adjustManagementInterval(1.2)
		performed = append(performed, fmt.Sprintf("management_interval_increased_to_%ds", int(next.Seconds())))
	case metrics.CPULoadUnits < loadLowWaterUnits:
		next := s.adjustManagementInterval(0.9)
		performed = append(performed, fmt.Sprintf("management_interval_decreased_to_%ds", int(next.Seconds())))
	}

	// Advisory only: no corrective action is taken on these today.
	if metrics.Counts[model.TierDormant] > 0 {
		performed = append(performed, "tier_compression_candidates_flagged")
	}
	if metrics.MemoryUsageMB > MemoryWarnMB/2 {
		performed = append(performed, "memory_optimization_analysis_recommended")
	}

	ratio := metrics.VisibleRatio()
	duration := s.now().Sub(start)

	s.mu.Lock()
	s.lastRun[CycleOptimization] = start
	s.mu.Unlock()

	slog.Debug("tier optimization cycle completed",
		"efficiencyRatio", ratio,
		"optimizations", performed)

	if s.bus != nil {
		s.bus.Publish(event.TierSystemOptimization, OptimizationCompleted{
			OptimizationsPerformed: performed,
			EfficiencyRatio:        ratio,
			Metrics:                metrics,
			DurationSeconds:        duration.Seconds(),
		})
	}
	return nil
}

// adjustManagementInterval scales the management period by factor, clamped
// to [ManagementIntervalFloor, ManagementIntervalCeiling], and returns the
// new value.
func (s *Scheduler) adjustManagementInterval(factor float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := time.Duration(float64(s.managementInterval) * factor)
	if next > ManagementIntervalCeiling {
		next = ManagementIntervalCeiling
	}
	if next < ManagementIntervalFloor {
		next = ManagementIntervalFloor
	}
	if next != s.managementInterval {
		slog.Info("management interval adjusted",
			"from", s.managementInterval,
			"to", next)
	}
	s.managementInterval = next
	return next
}

// ForceCycle runs one cycle of the given kind immediately, bypassing the
// sleep. The unknown-kind error is the scheduler's only synchronous raise.
func (s *Scheduler) ForceCycle(ctx context.Context, kind string) error {
	switch kind {
	case CycleManagement:
		return s.runManagementCycle(ctx)
	case CycleMaintenance:
		return s.runMaintenanceCycle(ctx)
	case CycleOptimization:
		return s.runOptimizationCycle(ctx)
	default:
		return fmt.Errorf("unknown cycle kind %q: want %s, %s or %s",
			kind, CycleManagement, CycleMaintenance, CycleOptimization)
	}
}

// UpdateIntervals replaces the loop periods, clamping each to its floor.
// Zero values leave the corresponding period unchanged. Loops pick up the
// new periods on their next iteration.
func (s *Scheduler) UpdateIntervals(management, maintenance, optimization time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if management > 0 {
		s.managementInterval = max(management, ManagementIntervalFloor)
	}
	if maintenance > 0 {
		s.maintenanceInterval = max(maintenance, MaintenanceIntervalFloor)
	}
	if optimization > 0 {
		s.optimizationInterval = max(optimization, OptimizationIntervalFloor)
	}

	slog.Info("tier scheduler intervals updated",
		"management", s.managementInterval,
		"maintenance", s.maintenanceInterval,
		"optimization", s.optimizationInterval)
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	intervals := map[string]time.Duration{
		CycleManagement:   s.managementInterval,
		CycleMaintenance:  s.maintenanceInterval,
		CycleOptimization: s.optimizationInterval,
	}
	last := make(map[string]time.Time, len(s.lastRun))
	next := make(map[string]time.Time, len(s.lastRun))
	for kind, t := range s.lastRun {
		last[kind] = t
		next[kind] = t.Add(intervals[kind])
	}

	return SchedulerStatus{
		Running:    s.running,
		CycleCount: s.cycleCount,
		ErrorCount: s.errorCount,
		Intervals:  intervals,
		LastRun:    last,
		NextRun:    next,
	}
}

// ErrorCount returns the consecutive management-error counter.
func (s *Scheduler) ErrorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorCount
}

func (s *Scheduler) bumpErrorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount++
	return s.errorCount
}

func (s *Scheduler) currentManagementInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.managementInterval
}

func (s *Scheduler) currentInterval(kind string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case CycleMaintenance:
		return s.maintenanceInterval
	case CycleOptimization:
		return s.optimizationInterval
	default:
		return s.managementInterval
	}
}
