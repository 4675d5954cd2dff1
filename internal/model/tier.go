package model

// Tier represents an NPC activity tier. Tiers are ordered by activity
// level, not by their numeric label: Active > Background > Dormant >
// CompressedDormant > Statistical. Tier 3.5 sits between Dormant and
// Statistical, hence the non-integer labels.
type Tier int

const (
	// TierActive — tier 1: full memory, conversation context and
	// relationship data resident. Player interacted within the last hour.
	TierActive Tier = iota
	// TierBackground — tier 2: visible to a player, compressed payload only.
	TierBackground
	// TierDormant — tier 3: no recent player contact, compressed payload.
	TierDormant
	// TierCompressedDormant — tier 3.5: stale for over a week, cheapest
	// resident representation.
	TierCompressedDormant
	// TierStatistical — tier 4: not resident in memory. State lives in the
	// archive store until a player enters the NPC's POI.
	TierStatistical
)

// tierKeys are the stable identifiers used in cycle stats, metrics and events.
var tierKeys = map[Tier]string{
	TierActive:            "tier_1_active",
	TierBackground:        "tier_2_background",
	TierDormant:           "tier_3_dormant",
	TierCompressedDormant: "tier_3_5_compressed",
	TierStatistical:       "tier_4_statistical",
}

var tierNames = map[Tier]string{
	TierActive:            "active",
	TierBackground:        "background",
	TierDormant:           "dormant",
	TierCompressedDormant: "compressed_dormant",
	TierStatistical:       "statistical",
}

// Key returns the stable identifier for this tier, e.g. "tier_1_active".
func (t Tier) Key() string {
	if k, ok := tierKeys[t]; ok {
		return k
	}
	return "tier_unknown"
}

func (t Tier) String() string {
	if n, ok := tierNames[t]; ok {
		return n
	}
	return "unknown"
}

// MoreActiveThan reports whether t is a higher-activity tier than other.
// Tier constants are declared in descending activity order, so a smaller
// value means more active.
func (t Tier) MoreActiveThan(other Tier) bool {
	return t < other
}

// ResidentTiers lists the tiers whose NPCs are held in memory, most active
// first. TierStatistical is deliberately absent.
var ResidentTiers = []Tier{TierActive, TierBackground, TierDormant, TierCompressedDormant}

// VisibleTiers lists the tiers returned by visibility queries.
// Identical to ResidentTiers today, kept separate because visibility is a
// gameplay concept and residency is a memory-management concept.
var VisibleTiers = []Tier{TierActive, TierBackground, TierDormant, TierCompressedDormant}

// TransitionKey returns the stats key for a tier transition,
// e.g. "tier_1_active_to_tier_2_background".
func TransitionKey(from, to Tier) string {
	return from.Key() + "_to_" + to.Key()
}

// TierCost holds the fixed per-NPC computational cost of keeping one NPC
// resident at a given tier.
type TierCost struct {
	CPUUnits float64
	MemoryMB float64
}

// tierCosts are the unit costs used for budget accounting. Statistical NPCs
// carry no in-memory cost at all.
var tierCosts = map[Tier]TierCost{
	TierActive:            {CPUUnits: 10.0, MemoryMB: 2.0},
	TierBackground:        {CPUUnits: 1.0, MemoryMB: 0.5},
	TierDormant:           {CPUUnits: 0.1, MemoryMB: 0.1},
	TierCompressedDormant: {CPUUnits: 0.02, MemoryMB: 0.01},
	TierStatistical:       {CPUUnits: 0, MemoryMB: 0},
}

// CostOf returns the per-NPC unit cost for a tier.
func CostOf(t Tier) TierCost {
	return tierCosts[t]
}
