package tier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sharronesofer/visual-dm-sub037/internal/event"
	"github.com/sharronesofer/visual-dm-sub037/internal/model"
)

// ArchiveStore persists compressed tier-4 NPC records.
// Implementations: db.ArchiveRepository (PostgreSQL), db.MemoryArchive.
type ArchiveStore interface {
	// SaveArchived upserts an archived NPC record.
	SaveArchived(ctx context.Context, rec model.ArchivedNpc) error
	// LoadArchived returns the record for an id, or nil if absent.
	LoadArchived(ctx context.Context, npcID string) (*model.ArchivedNpc, error)
	// DeleteArchived removes a record. Deleting an absent id is a no-op.
	DeleteArchived(ctx context.Context, npcID string) error
}

// ManagerConfig holds the tunables of the tier manager.
type ManagerConfig struct {
	// TransitionsPerCycle is the per-cycle examination budget. Each of the
	// three source-tier slices gets a quarter of it.
	TransitionsPerCycle int
	// InteractionHistoryLimit bounds the per-NPC player history map.
	InteractionHistoryLimit int
}

// DefaultManagerConfig returns the production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		TransitionsPerCycle:     100,
		InteractionHistoryLimit: 32,
	}
}

// CycleStats reports what a single management cycle did.
type CycleStats struct {
	Examined  int
	Demotions int
	// Transitions counts demotions by "{from}_to_{to}" key,
	// e.g. "tier_1_active_to_tier_2_background".
	Transitions map[string]int
}

// BudgetStatus is the manager's computational budget report.
type BudgetStatus struct {
	Metrics         model.TierMetrics
	Recommendations []string
}

// Health thresholds checked by the maintenance cycle.
const (
	MemoryWarnMB     = 1000.0
	CPUWarnUnits     = 5000.0
	Tier1WarnCount   = 1000
	visibleWarnRatio = 0.20
)

// Manager is the sole owner of NPC tier state. It computes the target tier
// for any NPC, performs promotions and demotions with payload expansion and
// compression, answers POI and system-membership queries, and reports
// computational budget metrics.
//
// All mutating operations are serialized behind a mutex: Go schedules
// goroutines preemptively, so the scheduler loops and request handlers
// cannot rely on cooperative-yield atomicity.
type Manager struct {
	mu      sync.RWMutex
	store   *Store
	archive ArchiveStore
	bus     *event.Bus
	cfg     ManagerConfig

	promotions int64
	demotions  int64

	now func() time.Time
}

// NewManager creates a tier manager. archive may be nil, in which case
// tier-4 state is dropped on demotion and rematerialized from defaults;
// production wiring always passes a store. bus may be nil to disable
// notifications.
func NewManager(store *Store, archive ArchiveStore, bus *event.Bus, cfg ManagerConfig) *Manager {
	if cfg.TransitionsPerCycle <= 0 {
		cfg.TransitionsPerCycle = DefaultManagerConfig().TransitionsPerCycle
	}
	if cfg.InteractionHistoryLimit <= 0 {
		cfg.InteractionHistoryLimit = DefaultManagerConfig().InteractionHistoryLimit
	}
	return &Manager{
		store:   store,
		archive: archive,
		bus:     bus,
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetClock overrides the manager's time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// RegisterPoiNpcs creates count fresh NPCs for a POI, all at the
// statistical tier, participation flags fixed by the POI archetype.
// The compressed records are written to the archive store immediately;
// only the roster entry stays in memory. Returns the new NPC ids.
//
// No upper bound is enforced on count — statistical NPCs carry near-zero
// individual cost, so sizing the population is the caller's business.
func (m *Manager) RegisterPoiNpcs(ctx context.Context, poiID string, count int, archetype string) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	arch := model.ParseArchetype(archetype)
	ids := make([]string, 0, count)

	for range count {
		npc := model.NewNpcInstance(uuid.NewString(), poiID, arch, now)
		if m.archive != nil {
			rec := model.NewArchivedNpc(npc, nil, now)
			if err := m.archive.SaveArchived(ctx, rec); err != nil {
				return ids, fmt.Errorf("archiving new NPC %s for poi %s: %w", npc.ID, poiID, err)
			}
		}
		m.store.AddToRoster(poiID, npc.ID)
		m.store.MarkStatistical(npc.ID)
		ids = append(ids, npc.ID)
	}

	slog.Info("POI NPCs registered",
		"poiID", poiID,
		"count", len(ids),
		"archetype", string(arch))

	return ids, nil
}

// RestoreRoster rebuilds the POI roster and statistical set from archive
// contents, typically at process startup. Every restored id starts
// non-resident.
func (m *Manager) RestoreRoster(roster map[string][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	restored := 0
	for poiID, ids := range roster {
		for _, id := range ids {
			m.store.AddToRoster(poiID, id)
			m.store.MarkStatistical(id)
			restored++
		}
	}
	if restored > 0 {
		slog.Info("NPC roster restored from archive", "npcs", restored, "pois", len(roster))
	}
}

// OnPlayerEntersPoi records the POI as active for the player and promotes
// every statistical NPC registered there to the background tier. Mere
// presence makes an NPC visible but not interacted with, so no tier-1
// payload is allocated. This is the only path out of the statistical tier.
// Returns the promoted NPC ids.
func (m *Manager) OnPlayerEntersPoi(ctx context.Context, playerID, poiID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.store.RecordPlayerPoi(playerID, poiID)

	var promoted []string
	for _, npcID := range m.store.Roster(poiID) {
		if !m.store.IsStatistical(npcID) {
			continue
		}
		npc, err := m.rematerializeLocked(ctx, npcID, poiID)
		if err != nil {
			return promoted, err
		}
		npc.CurrentTier = model.TierBackground
		m.store.AddResident(npc)
		m.promotions++
		promoted = append(promoted, npcID)
	}

	if len(promoted) > 0 {
		slog.Debug("statistical NPCs promoted to visible",
			"poiID", poiID,
			"playerID", playerID,
			"count", len(promoted))
		if m.bus != nil {
			m.bus.Publish(event.NpcsPromotedToVisible, VisiblePromotion{
				PoiID:          poiID,
				PlayerID:       playerID,
				PromotedNpcIDs: promoted,
			})
		}
	}

	return promoted, nil
}

// OnPlayerInteractsWithNpc stamps the interaction and promotes the NPC to
// the active tier if it is not there already, allocating its tier-1
// payload. Returns whether a promotion occurred; repeated interaction with
// an already-active NPC only refreshes the timestamp. An unknown npcID is
// a no-op.
func (m *Manager) OnPlayerInteractsWithNpc(ctx context.Context, playerID, npcID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	npc, ok := m.store.Resident(npcID)
	if !ok {
		if !m.store.IsStatistical(npcID) {
			return false, nil
		}
		// Direct interaction with a non-resident NPC: rematerialize first.
		var err error
		npc, err = m.rematerializeLocked(ctx, npcID, "")
		if err != nil {
			return false, err
		}
		npc.CurrentTier = model.TierActive
		npc.RecordInteraction(playerID, now, m.cfg.InteractionHistoryLimit)
		npc.ExpandPayload()
		m.store.AddResident(npc)
		m.promotions++
		m.publishActivePromotion(npcID, playerID)
		return true, nil
	}

	npc.RecordInteraction(playerID, now, m.cfg.InteractionHistoryLimit)

	if npc.CurrentTier == model.TierActive {
		return false, nil
	}

	npc.ExpandPayload()
	m.store.MoveTier(npc, model.TierActive)
	m.promotions++
	m.publishActivePromotion(npcID, playerID)
	return true, nil
}

func (m *Manager) publishActivePromotion(npcID, playerID string) {
	slog.Debug("NPC promoted to active", "npcID", npcID, "playerID", playerID)
	if m.bus != nil {
		m.bus.Publish(event.NpcPromotedToActive, ActivePromotion{
			NpcID:    npcID,
			PlayerID: playerID,
		})
	}
}

// rematerializeLocked reconstructs an archived NPC instance. The caller
// holds the write lock and decides the target tier. A missing archive
// record (or a nil archive store) yields a default instance so a promotion
// can always proceed; poiID is only needed for that fallback.
func (m *Manager) rematerializeLocked(ctx context.Context, npcID, poiID string) (*model.NpcInstance, error) {
	if m.archive == nil {
		return model.NewNpcInstance(npcID, poiID, model.ArchetypeOther, m.now()), nil
	}
	rec, err := m.archive.LoadArchived(ctx, npcID)
	if err != nil {
		return nil, fmt.Errorf("loading archived NPC %s: %w", npcID, err)
	}
	if rec == nil {
		return model.NewNpcInstance(npcID, poiID, model.ArchetypeOther, m.now()), nil
	}
	if err := m.archive.DeleteArchived(ctx, npcID); err != nil {
		slog.Warn("deleting archived NPC record", "npcID", npcID, "error", err)
	}
	return rec.Rematerialize(), nil
}

// RunTierManagementCycle examines a bounded slice of each source tier and
// demotes NPCs whose natural tier (from interaction recency) is less active
// than their current one. Promotions never happen here — they are strictly
// player-driven. The per-slice bound keeps a cycle's cost O(budget)
// regardless of total population size.
func (m *Manager) RunTierManagementCycle(ctx context.Context) (CycleStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := CycleStats{Transitions: make(map[string]int)}
	sliceBudget := m.cfg.TransitionsPerCycle / 4
	if sliceBudget < 1 {
		sliceBudget = 1
	}
	now := m.now()

	// Dormant and compressed-dormant candidates share one slice.
	slices := [][]model.Tier{
		{model.TierActive},
		{model.TierBackground},
		{model.TierDormant, model.TierCompressedDormant},
	}

	for _, tiers := range slices {
		examined := 0
		for _, t := range tiers {
			// Collect first: demotion mutates the partition under iteration.
			var candidates []*model.NpcInstance
			for _, npc := range m.store.Partition(t) {
				if examined >= sliceBudget {
					break
				}
				examined++
				candidates = append(candidates, npc)
			}
			for _, npc := range candidates {
				natural := model.NaturalTier(npc.LastInteraction, now)
				if natural == npc.CurrentTier || natural.MoreActiveThan(npc.CurrentTier) {
					continue
				}
				if err := m.demoteLocked(ctx, npc, natural, &stats); err != nil {
					stats.Examined += examined
					return stats, err
				}
			}
			if examined >= sliceBudget {
				break
			}
		}
		stats.Examined += examined
	}

	if stats.Demotions > 0 {
		slog.Debug("tier management cycle demotions",
			"examined", stats.Examined,
			"demotions", stats.Demotions)
	}

	return stats, nil
}

// demoteLocked applies a single demotion: payload compression when leaving
// the active tier, archival and eviction when the target is statistical.
func (m *Manager) demoteLocked(ctx context.Context, npc *model.NpcInstance, to model.Tier, stats *CycleStats) error {
	from := npc.CurrentTier

	// Snapshot the tier-1 payload before compression so a direct
	// active→statistical demotion keeps it in the archive blob.
	var blob []byte
	if npc.FullMemory != nil {
		var err error
		blob, err = json.Marshal(map[string]any{
			"full_memory":          npc.FullMemory,
			"conversation_context": npc.ConversationContext,
			"relationship_data":    npc.RelationshipData,
		})
		if err != nil {
			slog.Warn("serializing tier-1 payload for archive", "npcID", npc.ID, "error", err)
			blob = nil
		}
	}

	npc.CompressPayload()

	if to == model.TierStatistical {
		if m.archive != nil {
			rec := model.NewArchivedNpc(npc, blob, m.now())
			if err := m.archive.SaveArchived(ctx, rec); err != nil {
				return fmt.Errorf("archiving NPC %s on demotion: %w", npc.ID, err)
			}
		}
		m.store.Evict(npc)
	} else {
		m.store.MoveTier(npc, to)
	}

	m.demotions++
	stats.Demotions++
	stats.Transitions[model.TransitionKey(from, to)]++
	return nil
}

// PoiNpcs returns the resident NPCs at a POI, optionally filtered by tier.
// An unknown POI yields an empty slice.
func (m *Manager) PoiNpcs(poiID string, tiers ...model.Tier) []*model.NpcInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.poiNpcsLocked(poiID, tiers)
}

func (m *Manager) poiNpcsLocked(poiID string, tiers []model.Tier) []*model.NpcInstance {
	var filter map[model.Tier]bool
	if len(tiers) > 0 {
		filter = make(map[model.Tier]bool, len(tiers))
		for _, t := range tiers {
			filter[t] = true
		}
	}

	var out []*model.NpcInstance
	for _, npcID := range m.store.Roster(poiID) {
		npc, ok := m.store.Resident(npcID)
		if !ok {
			continue
		}
		if filter != nil && !filter[npc.CurrentTier] {
			continue
		}
		out = append(out, npc)
	}
	return out
}

// VisibleNpcsInPoi returns the NPCs a player at the POI can see: every
// resident tier, archived NPCs excluded.
func (m *Manager) VisibleNpcsInPoi(poiID string) []*model.NpcInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.poiNpcsLocked(poiID, model.VisibleTiers)
}

// SystemParticipants returns resident NPCs participating in the named
// simulation system, optionally restricted to a POI set. Statistical NPCs
// hold no participation flags in memory and are never returned.
func (m *Manager) SystemParticipants(system string, poiIDs ...string) []*model.NpcInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var poiFilter map[string]bool
	if len(poiIDs) > 0 {
		poiFilter = make(map[string]bool, len(poiIDs))
		for _, id := range poiIDs {
			poiFilter[id] = true
		}
	}

	var out []*model.NpcInstance
	for _, t := range model.ResidentTiers {
		for _, npc := range m.store.Partition(t) {
			if !npc.Systems.Participates(system) {
				continue
			}
			if poiFilter != nil && !poiFilter[npc.PoiID] {
				continue
			}
			out = append(out, npc)
		}
	}
	return out
}

// RematerializeNpc returns the NPC with the given id, reconstructing it
// from the archive store if it is not resident. The reconstruction is a
// read-only view: the NPC stays archived until a player-driven promotion
// pulls it into memory. The second return is false when the id is unknown.
func (m *Manager) RematerializeNpc(ctx context.Context, npcID string) (*model.NpcInstance, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if npc, ok := m.store.Resident(npcID); ok {
		return npc, true, nil
	}
	if !m.store.IsStatistical(npcID) || m.archive == nil {
		return nil, false, nil
	}
	rec, err := m.archive.LoadArchived(ctx, npcID)
	if err != nil {
		return nil, false, fmt.Errorf("loading archived NPC %s: %w", npcID, err)
	}
	if rec == nil {
		return nil, false, nil
	}
	return rec.Rematerialize(), true, nil
}

// BudgetStatus reports the current metrics snapshot plus human-readable
// scaling recommendations derived from fixed thresholds.
func (m *Manager) BudgetStatus() BudgetStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := model.NewTierMetrics(m.store.Counts(), m.promotions, m.demotions, m.now())

	var recs []string
	total := metrics.TotalNpcs()
	// Population-weighted CPU budget: a large world is allowed a larger
	// absolute load before the recommendation fires.
	cpuBudget := 1000.0 + 0.1*float64(total)
	if metrics.CPULoadUnits > cpuBudget {
		recs = append(recs, fmt.Sprintf(
			"computational load %.0f units exceeds budget %.0f; increase demotion budget or shorten the management interval",
			metrics.CPULoadUnits, cpuBudget))
	}
	if metrics.MemoryUsageMB > MemoryWarnMB {
		recs = append(recs, fmt.Sprintf(
			"memory footprint %.0fMB exceeds %.0fMB; compress dormant NPCs more aggressively",
			metrics.MemoryUsageMB, MemoryWarnMB))
	}
	if metrics.Counts[model.TierActive] > Tier1WarnCount {
		recs = append(recs, fmt.Sprintf(
			"tier 1 population %d exceeds %d; active-tier payload is the dominant cost",
			metrics.Counts[model.TierActive], Tier1WarnCount))
	}
	if metrics.VisibleRatio() > visibleWarnRatio {
		recs = append(recs, fmt.Sprintf(
			"visible ratio %.2f exceeds %.2f; too many NPCs resident relative to population",
			metrics.VisibleRatio(), visibleWarnRatio))
	}

	return BudgetStatus{Metrics: metrics, Recommendations: recs}
}

// PruneStaleInteractions drops per-NPC interaction history entries older
// than the horizon. LastInteraction itself is kept — it drives tier decay.
// Returns the number of pruned entries. Called by the maintenance cycle.
func (m *Manager) PruneStaleInteractions(horizon time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-horizon)
	pruned := 0
	for _, t := range model.ResidentTiers {
		for _, npc := range m.store.Partition(t) {
			for playerID, ts := range npc.Interactions {
				if ts.Before(cutoff) {
					delete(npc.Interactions, playerID)
					pruned++
				}
			}
		}
	}
	return pruned
}
