// Package tier implements the NPC tier management engine: partitioned
// in-memory storage, the tier classification and migration manager, and the
// background scheduler that drives demotion cycles under a computational
// budget.
package tier

import (
	"github.com/sharronesofer/visual-dm-sub037/internal/model"
)

// Store is the partitioned in-memory NPC storage: one collection per
// resident tier, a POI→NPC roster, a set of archived (tier 4) ids and a
// player→active-POI index.
//
// Store is not safe for concurrent use; Manager serializes access to it.
type Store struct {
	// partitions holds resident NPCs keyed by id, one map per resident tier.
	partitions map[model.Tier]map[string]*model.NpcInstance

	// poiRoster maps poiID → the ids of every NPC ever registered there,
	// resident or archived. Populated at registration, never shrunk: the
	// roster is how a POI entry finds its tier-4 NPCs to rematerialize.
	poiRoster map[string]map[string]struct{}

	// statistical tracks which roster ids are currently archived rather
	// than resident. The NPC state itself lives in the archive store.
	statistical map[string]struct{}

	// playerPois maps playerID → the POIs the player has entered.
	playerPois map[string]map[string]struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{
		partitions:  make(map[model.Tier]map[string]*model.NpcInstance, len(model.ResidentTiers)),
		poiRoster:   make(map[string]map[string]struct{}),
		statistical: make(map[string]struct{}),
		playerPois:  make(map[string]map[string]struct{}),
	}
	for _, t := range model.ResidentTiers {
		s.partitions[t] = make(map[string]*model.NpcInstance)
	}
	return s
}

// AddToRoster records an NPC id as belonging to a POI.
func (s *Store) AddToRoster(poiID, npcID string) {
	roster, ok := s.poiRoster[poiID]
	if !ok {
		roster = make(map[string]struct{})
		s.poiRoster[poiID] = roster
	}
	roster[npcID] = struct{}{}
}

// Roster returns the ids of all NPCs registered at a POI, resident or not.
func (s *Store) Roster(poiID string) []string {
	roster := s.poiRoster[poiID]
	ids := make([]string, 0, len(roster))
	for id := range roster {
		ids = append(ids, id)
	}
	return ids
}

// MarkStatistical records an id as archived (tier 4, non-resident).
func (s *Store) MarkStatistical(npcID string) {
	s.statistical[npcID] = struct{}{}
}

// IsStatistical reports whether an id is currently archived.
func (s *Store) IsStatistical(npcID string) bool {
	_, ok := s.statistical[npcID]
	return ok
}

// StatisticalCount returns the number of archived ids.
func (s *Store) StatisticalCount() int {
	return len(s.statistical)
}

// AddResident places an NPC into the partition matching its CurrentTier.
// The id is removed from the statistical set if present.
func (s *Store) AddResident(n *model.NpcInstance) {
	delete(s.statistical, n.ID)
	s.partitions[n.CurrentTier][n.ID] = n
}

// Resident returns the resident NPC with the given id, if any.
func (s *Store) Resident(npcID string) (*model.NpcInstance, bool) {
	for _, t := range model.ResidentTiers {
		if n, ok := s.partitions[t][npcID]; ok {
			return n, true
		}
	}
	return nil, false
}

// MoveTier relocates a resident NPC between partitions and updates its
// CurrentTier, keeping the field and the physical location in agreement.
func (s *Store) MoveTier(n *model.NpcInstance, to model.Tier) {
	delete(s.partitions[n.CurrentTier], n.ID)
	n.CurrentTier = to
	s.partitions[to][n.ID] = n
}

// Evict removes a resident NPC from its partition and marks it archived.
func (s *Store) Evict(n *model.NpcInstance) {
	delete(s.partitions[n.CurrentTier], n.ID)
	s.MarkStatistical(n.ID)
}

// Partition returns the live partition map for a resident tier.
// Callers must not mutate it.
func (s *Store) Partition(t model.Tier) map[string]*model.NpcInstance {
	return s.partitions[t]
}

// Counts returns per-tier population counts, the statistical set included.
func (s *Store) Counts() map[model.Tier]int {
	counts := make(map[model.Tier]int, len(model.ResidentTiers)+1)
	for _, t := range model.ResidentTiers {
		counts[t] = len(s.partitions[t])
	}
	counts[model.TierStatistical] = len(s.statistical)
	return counts
}

// RecordPlayerPoi marks a POI as active for a player. The mapping only
// grows; pruning player history is out of scope for the tier system.
func (s *Store) RecordPlayerPoi(playerID, poiID string) {
	pois, ok := s.playerPois[playerID]
	if !ok {
		pois = make(map[string]struct{})
		s.playerPois[playerID] = pois
	}
	pois[poiID] = struct{}{}
}

// PlayerPois returns the POIs a player has entered.
func (s *Store) PlayerPois(playerID string) []string {
	pois := s.playerPois[playerID]
	ids := make([]string, 0, len(pois))
	for id := range pois {
		ids = append(ids, id)
	}
	return ids
}
