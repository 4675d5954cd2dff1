package model

import "time"

// ArchivedNpc is the compressed record written to the archive store when an
// NPC is demoted to TierStatistical, and read back when a player entering
// the NPC's POI rematerializes it.
//
// MemoryBlob is an opaque compressed serialization of whatever payload was
// worth keeping (the repository decides the codec); everything the tier
// manager itself needs on rematerialization is carried in plain columns.
type ArchivedNpc struct {
	ID            string
	PoiID         string
	MemorySummary string
	Systems       SystemFlags

	// LastInteraction is nil for NPCs archived straight from registration.
	LastInteraction *time.Time
	CreatedAt       time.Time
	KnownPlayers    int

	MemoryBlob []byte
	ArchivedAt time.Time
}

// NewArchivedNpc builds the archive record for an NPC instance.
func NewArchivedNpc(n *NpcInstance, blob []byte, now time.Time) ArchivedNpc {
	return ArchivedNpc{
		ID:              n.ID,
		PoiID:           n.PoiID,
		MemorySummary:   n.MemorySummary,
		Systems:         n.Systems,
		LastInteraction: n.LastInteraction,
		CreatedAt:       n.CreatedAt,
		KnownPlayers:    len(n.Interactions),
		MemoryBlob:      blob,
		ArchivedAt:      now,
	}
}

// Rematerialize reconstructs an in-memory NPC instance from the archive
// record. The instance lands at TierStatistical with no interaction history;
// promotion is the caller's business. History is deliberately not restored —
// the archive keeps only its length.
func (a ArchivedNpc) Rematerialize() *NpcInstance {
	return &NpcInstance{
		ID:            a.ID,
		PoiID:         a.PoiID,
		CurrentTier:   TierStatistical,
		CreatedAt:     a.CreatedAt,
		Interactions:  make(map[string]time.Time),
		MemorySummary: a.MemorySummary,
		Systems:       a.Systems,
	}
}
