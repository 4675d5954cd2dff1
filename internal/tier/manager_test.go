package tier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharronesofer/visual-dm-sub037/internal/db"
	"github.com/sharronesofer/visual-dm-sub037/internal/event"
	"github.com/sharronesofer/visual-dm-sub037/internal/model"
)

type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(cfg ManagerConfig) (*Manager, *db.MemoryArchive, *event.Bus, *testClock) {
	archive := db.NewMemoryArchive()
	bus := event.NewBus()
	clk := newTestClock()
	mgr := NewManager(NewStore(), archive, bus, cfg)
	mgr.SetClock(clk.Now)
	return mgr, archive, bus, clk
}

func TestRegisterPoiNpcs(t *testing.T) {
	mgr, archive, _, _ := newTestManager(ManagerConfig{})
	ctx := context.Background()

	ids, err := mgr.RegisterPoiNpcs(ctx, "poi_1", 50, "settlement")
	require.NoError(t, err)
	require.Len(t, ids, 50)

	// All start statistical: archived, zero in-memory cost.
	status := mgr.BudgetStatus()
	assert.Equal(t, 50, status.Metrics.Counts[model.TierStatistical])
	assert.Zero(t, status.Metrics.Counts[model.TierActive])
	assert.Zero(t, status.Metrics.CPULoadUnits)
	assert.Zero(t, status.Metrics.MemoryUsageMB)
	assert.Equal(t, 50, archive.Count())

	// Settlement flags: diplomacy/tension/religion on, espionage off.
	rec, err := archive.LoadArchived(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Systems.Diplomacy)
	assert.True(t, rec.Systems.Tension)
	assert.True(t, rec.Systems.Religion)
	assert.False(t, rec.Systems.Espionage)
}

func TestRegisterPoiNpcsZeroCount(t *testing.T) {
	mgr, _, _, _ := newTestManager(ManagerConfig{})
	ids, err := mgr.RegisterPoiNpcs(context.Background(), "poi_1", 0, "settlement")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestOnPlayerEntersPoi(t *testing.T) {
	mgr, archive, bus, _ := newTestManager(ManagerConfig{})
	ctx := context.Background()
	sub := bus.Subscribe(16)

	ids, err := mgr.RegisterPoiNpcs(ctx, "poi_1", 50, "settlement")
	require.NoError(t, err)

	promoted, err := mgr.OnPlayerEntersPoi(ctx, "p1", "poi_1")
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, promoted)

	status := mgr.BudgetStatus()
	assert.Equal(t, 50, status.Metrics.Counts[model.TierBackground])
	assert.Zero(t, status.Metrics.Counts[model.TierStatistical])
	assert.Zero(t, archive.Count(), "promotion consumes the archived records")

	// Second entry: everything already background, nothing promoted.
	again, err := mgr.OnPlayerEntersPoi(ctx, "p1", "poi_1")
	require.NoError(t, err)
	assert.Empty(t, again)

	// One visibility event for the first entry, none for the second.
	var visible []event.Event
	for len(sub) > 0 {
		ev := <-sub
		if ev.Name == event.NpcsPromotedToVisible {
			visible = append(visible, ev)
		}
	}
	require.Len(t, visible, 1)
	payload, ok := visible[0].Payload.(VisiblePromotion)
	require.True(t, ok)
	assert.Equal(t, "poi_1", payload.PoiID)
	assert.Equal(t, "p1", payload.PlayerID)
	assert.ElementsMatch(t, ids, payload.PromotedNpcIDs)
}

func TestOnPlayerEntersUnknownPoi(t *testing.T) {
	mgr, _, _, _ := newTestManager(ManagerConfig{})
	promoted, err := mgr.OnPlayerEntersPoi(context.Background(), "p1", "nowhere")
	require.NoError(t, err)
	assert.Empty(t, promoted)
}

func TestOnPlayerInteractsWithNpc(t *testing.T) {
	mgr, _, bus, clk := newTestManager(ManagerConfig{})
	ctx := context.Background()
	sub := bus.Subscribe(16)

	ids, err := mgr.RegisterPoiNpcs(ctx, "poi_1", 3, "military")
	require.NoError(t, err)
	_, err = mgr.OnPlayerEntersPoi(ctx, "p1", "poi_1")
	require.NoError(t, err)

	npcID := ids[0]
	promotedNow, err := mgr.OnPlayerInteractsWithNpc(ctx, "p1", npcID)
	require.NoError(t, err)
	assert.True(t, promotedNow)

	npc, ok, err := mgr.RematerializeNpc(ctx, npcID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.TierActive, npc.CurrentTier)
	assert.NotNil(t, npc.FullMemory)
	assert.NotNil(t, npc.ConversationContext)
	assert.NotNil(t, npc.RelationshipData)
	require.NotNil(t, npc.LastInteraction)
	first := *npc.LastInteraction

	// Repeated interaction: no promotion, timestamp still refreshes.
	clk.Advance(5 * time.Minute)
	promotedAgain, err := mgr.OnPlayerInteractsWithNpc(ctx, "p1", npcID)
	require.NoError(t, err)
	assert.False(t, promotedAgain)
	require.NotNil(t, npc.LastInteraction)
	assert.True(t, npc.LastInteraction.After(first))

	var active int
	for len(sub) > 0 {
		if ev := <-sub; ev.Name == event.NpcPromotedToActive {
			active++
			payload := ev.Payload.(ActivePromotion)
			assert.Equal(t, npcID, payload.NpcID)
			assert.Equal(t, "p1", payload.PlayerID)
		}
	}
	assert.Equal(t, 1, active)
}

func TestInteractWithUnknownNpc(t *testing.T) {
	mgr, _, _, _ := newTestManager(ManagerConfig{})
	promoted, err := mgr.OnPlayerInteractsWithNpc(context.Background(), "p1", "ghost")
	require.NoError(t, err)
	assert.False(t, promoted)
}

func TestInteractWithArchivedNpc(t *testing.T) {
	mgr, _, _, _ := newTestManager(ManagerConfig{})
	ctx := context.Background()

	ids, err := mgr.RegisterPoiNpcs(ctx, "poi_1", 1, "other")
	require.NoError(t, err)

	// Interaction without a prior POI entry rematerializes straight to active.
	promoted, err := mgr.OnPlayerInteractsWithNpc(ctx, "p1", ids[0])
	require.NoError(t, err)
	assert.True(t, promoted)

	npc, ok, err := mgr.RematerializeNpc(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.TierActive, npc.CurrentTier)
}

func TestCycleDemotesByRecency(t *testing.T) {
	mgr, _, _, clk := newTestManager(ManagerConfig{})
	ctx := context.Background()

	ids, err := mgr.RegisterPoiNpcs(ctx, "poi_1", 1, "other")
	require.NoError(t, err)
	_, err = mgr.OnPlayerEntersPoi(ctx, "p1", "poi_1")
	require.NoError(t, err)
	_, err = mgr.OnPlayerInteractsWithNpc(ctx, "p1", ids[0])
	require.NoError(t, err)

	// Two hours of silence: active → background.
	clk.Advance(2 * time.Hour)
	stats, err := mgr.RunTierManagementCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Demotions)
	assert.Equal(t, 1, stats.Transitions["tier_1_active_to_tier_2_background"])

	npc, ok, err := mgr.RematerializeNpc(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.TierBackground, npc.CurrentTier)
	assert.Nil(t, npc.FullMemory, "demotion away from active must compress the payload")
	assert.Nil(t, npc.ConversationContext)
	assert.Nil(t, npc.RelationshipData)

	// Twelve hours total: background → dormant.
	clk.Advance(10 * time.Hour)
	stats, err = mgr.RunTierManagementCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Transitions["tier_2_background_to_tier_3_dormant"])

	// Past a week: dormant → compressed dormant.
	clk.Advance(8 * 24 * time.Hour)
	stats, err = mgr.RunTierManagementCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Transitions["tier_3_dormant_to_tier_3_5_compressed"])
}

// Scheduled cycles must never move an NPC to a more active tier, no matter
// how often they run.
func TestCycleNeverPromotes(t *testing.T) {
	mgr, _, _, clk := newTestManager(ManagerConfig{})
	ctx := context.Background()

	ids, err := mgr.RegisterPoiNpcs(ctx, "poi_1", 1, "other")
	require.NoError(t, err)
	_, err = mgr.OnPlayerInteractsWithNpc(ctx, "p1", ids[0])
	require.NoError(t, err)

	last := model.TierActive
	for range 40 {
		clk.Advance(90 * time.Minute)
		_, err := mgr.RunTierManagementCycle(ctx)
		require.NoError(t, err)

		npc, ok, err := mgr.RematerializeNpc(ctx, ids[0])
		require.NoError(t, err)
		require.True(t, ok)
		assert.False(t, npc.CurrentTier.MoreActiveThan(last),
			"cycle promoted %s above %s", npc.CurrentTier, last)
		last = npc.CurrentTier
	}
	assert.Equal(t, model.TierCompressedDormant, last)
}

func TestCycleBudgetBounded(t *testing.T) {
	mgr, _, _, _ := newTestManager(ManagerConfig{TransitionsPerCycle: 40})
	ctx := context.Background()

	_, err := mgr.RegisterPoiNpcs(ctx, "poi_1", 1000, "other")
	require.NoError(t, err)
	_, err = mgr.OnPlayerEntersPoi(ctx, "p1", "poi_1")
	require.NoError(t, err)

	stats, err := mgr.RunTierManagementCycle(ctx)
	require.NoError(t, err)

	// Three source-tier slices of budget/4 each: cost is O(budget), not O(N).
	assert.LessOrEqual(t, stats.Examined, 30)
	assert.LessOrEqual(t, stats.Demotions, 10)

	status := mgr.BudgetStatus()
	assert.GreaterOrEqual(t, status.Metrics.Counts[model.TierBackground], 990)
}

// NPCs made visible by presence alone were never interacted with; once the
// cycle examines them they fall back to the statistical tier and return to
// the archive.
func TestCycleReturnsNeverInteractedToArchive(t *testing.T) {
	mgr, archive, _, _ := newTestManager(ManagerConfig{})
	ctx := context.Background()

	_, err := mgr.RegisterPoiNpcs(ctx, "poi_1", 5, "other")
	require.NoError(t, err)
	_, err = mgr.OnPlayerEntersPoi(ctx, "p1", "poi_1")
	require.NoError(t, err)
	assert.Zero(t, archive.Count())

	stats, err := mgr.RunTierManagementCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Transitions["tier_2_background_to_tier_4_statistical"])
	assert.Equal(t, 5, archive.Count())

	status := mgr.BudgetStatus()
	assert.Equal(t, 5, status.Metrics.Counts[model.TierStatistical])
	assert.Zero(t, status.Metrics.Counts[model.TierBackground])
}

func TestSystemParticipants(t *testing.T) {
	mgr, _, _, _ := newTestManager(ManagerConfig{})
	ctx := context.Background()

	_, err := mgr.RegisterPoiNpcs(ctx, "town", 3, "settlement")
	require.NoError(t, err)
	_, err = mgr.RegisterPoiNpcs(ctx, "fort", 2, "military")
	require.NoError(t, err)

	// Archived NPCs hold no flags in memory.
	assert.Empty(t, mgr.SystemParticipants("espionage"))

	_, err = mgr.OnPlayerEntersPoi(ctx, "p1", "town")
	require.NoError(t, err)
	_, err = mgr.OnPlayerEntersPoi(ctx, "p1", "fort")
	require.NoError(t, err)

	assert.Len(t, mgr.SystemParticipants("espionage"), 2)
	assert.Len(t, mgr.SystemParticipants("religion"), 3)
	assert.Len(t, mgr.SystemParticipants("economy"), 5)
	assert.Len(t, mgr.SystemParticipants("tension", "fort"), 2)
	assert.Empty(t, mgr.SystemParticipants("espionage", "town"))
	assert.Empty(t, mgr.SystemParticipants("unknown_system"))
}

func TestPoiQueries(t *testing.T) {
	mgr, _, _, _ := newTestManager(ManagerConfig{})
	ctx := context.Background()

	ids, err := mgr.RegisterPoiNpcs(ctx, "poi_1", 4, "other")
	require.NoError(t, err)
	_, err = mgr.OnPlayerEntersPoi(ctx, "p1", "poi_1")
	require.NoError(t, err)
	_, err = mgr.OnPlayerInteractsWithNpc(ctx, "p1", ids[0])
	require.NoError(t, err)

	assert.Len(t, mgr.VisibleNpcsInPoi("poi_1"), 4)
	assert.Len(t, mgr.PoiNpcs("poi_1"), 4)
	assert.Len(t, mgr.PoiNpcs("poi_1", model.TierActive), 1)
	assert.Len(t, mgr.PoiNpcs("poi_1", model.TierBackground), 3)
	assert.Empty(t, mgr.PoiNpcs("poi_unknown"))
	assert.Empty(t, mgr.VisibleNpcsInPoi("poi_unknown"))
}

func TestRematerializeNpc(t *testing.T) {
	mgr, _, _, _ := newTestManager(ManagerConfig{})
	ctx := context.Background()

	ids, err := mgr.RegisterPoiNpcs(ctx, "poi_1", 1, "military")
	require.NoError(t, err)

	// Read-only view: the NPC stays archived.
	npc, ok, err := mgr.RematerializeNpc(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.TierStatistical, npc.CurrentTier)
	assert.True(t, npc.Systems.Espionage)

	status := mgr.BudgetStatus()
	assert.Equal(t, 1, status.Metrics.Counts[model.TierStatistical])

	_, ok, err = mgr.RematerializeNpc(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBudgetStatusRecommendations(t *testing.T) {
	mgr, _, _, _ := newTestManager(ManagerConfig{})

	// Hand-build an overcrowded tier 1.
	for i := range 1200 {
		npc := model.NewNpcInstance(uuidLike(i), "poi_1", model.ArchetypeOther, mgr.now())
		npc.CurrentTier = model.TierActive
		mgr.store.AddToRoster("poi_1", npc.ID)
		mgr.store.AddResident(npc)
	}

	status := mgr.BudgetStatus()
	require.NotEmpty(t, status.Recommendations)
	joined := ""
	for _, r := range status.Recommendations {
		joined += r + "\n"
	}
	assert.Contains(t, joined, "computational load")
	assert.Contains(t, joined, "memory footprint")
	assert.Contains(t, joined, "tier 1 population")
	assert.Contains(t, joined, "visible ratio")
}

func TestPruneStaleInteractions(t *testing.T) {
	mgr, _, _, clk := newTestManager(ManagerConfig{})
	ctx := context.Background()

	ids, err := mgr.RegisterPoiNpcs(ctx, "poi_1", 1, "other")
	require.NoError(t, err)
	_, err = mgr.OnPlayerInteractsWithNpc(ctx, "p1", ids[0])
	require.NoError(t, err)
	clk.Advance(10 * 24 * time.Hour)
	_, err = mgr.OnPlayerInteractsWithNpc(ctx, "p2", ids[0])
	require.NoError(t, err)

	pruned := mgr.PruneStaleInteractions(7 * 24 * time.Hour)
	assert.Equal(t, 1, pruned)

	npc, ok, err := mgr.RematerializeNpc(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, npc.Interactions, "p1")
	assert.Contains(t, npc.Interactions, "p2")
}

type failingArchive struct{}

func (failingArchive) SaveArchived(context.Context, model.ArchivedNpc) error {
	return errors.New("archive unavailable")
}
func (failingArchive) LoadArchived(context.Context, string) (*model.ArchivedNpc, error) {
	return nil, errors.New("archive unavailable")
}
func (failingArchive) DeleteArchived(context.Context, string) error {
	return errors.New("archive unavailable")
}

func TestArchiveFailurePropagates(t *testing.T) {
	ctx := context.Background()

	mgr := NewManager(NewStore(), failingArchive{}, nil, ManagerConfig{})
	_, err := mgr.RegisterPoiNpcs(ctx, "poi_1", 1, "other")
	assert.Error(t, err)

	// Demotion to statistical is the other persistence-dependent path.
	mgr2, _, _, _ := newTestManager(ManagerConfig{})
	_, err = mgr2.RegisterPoiNpcs(ctx, "poi_1", 1, "other")
	require.NoError(t, err)
	_, err = mgr2.OnPlayerEntersPoi(ctx, "p1", "poi_1")
	require.NoError(t, err)

	mgr2.archive = failingArchive{}
	_, err = mgr2.RunTierManagementCycle(ctx)
	assert.Error(t, err)
}

func uuidLike(i int) string {
	return "npc_" + string(rune('a'+i%26)) + "_" + string(rune('0'+(i/26)%10)) + "_" + string(rune('a'+(i/260)%26))
}
