package model

import (
	"fmt"
	"time"
)

// PoiArchetype classifies a point of interest for the purpose of deciding
// which simulation systems its NPCs participate in.
type PoiArchetype string

const (
	ArchetypeSettlement PoiArchetype = "settlement"
	ArchetypeMilitary   PoiArchetype = "military"
	ArchetypeOther      PoiArchetype = "other"
)

// ParseArchetype maps free-form archetype tags onto the three recognized
// classes. Unknown tags fall back to ArchetypeOther.
func ParseArchetype(tag string) PoiArchetype {
	switch PoiArchetype(tag) {
	case ArchetypeSettlement, ArchetypeMilitary:
		return PoiArchetype(tag)
	default:
		return ArchetypeOther
	}
}

// SystemFlags marks which simulation systems an NPC participates in.
// Flags are fixed at creation based on the POI archetype and never change.
type SystemFlags struct {
	Economy   bool
	Diplomacy bool
	Tension   bool
	Religion  bool
	Espionage bool
}

// FlagsForArchetype returns the participation flags for a POI archetype.
// Economy is always on; settlements add diplomacy/tension/religion,
// military POIs add tension/espionage.
func FlagsForArchetype(a PoiArchetype) SystemFlags {
	f := SystemFlags{Economy: true}
	switch a {
	case ArchetypeSettlement:
		f.Diplomacy = true
		f.Tension = true
		f.Religion = true
	case ArchetypeMilitary:
		f.Tension = true
		f.Espionage = true
	}
	return f
}

// Participates reports whether the flags enable the named system.
// Unknown system names report false.
func (f SystemFlags) Participates(system string) bool {
	switch system {
	case "economy":
		return f.Economy
	case "diplomacy":
		return f.Diplomacy
	case "tension":
		return f.Tension
	case "religion":
		return f.Religion
	case "espionage":
		return f.Espionage
	default:
		return false
	}
}

// ConversationContext is the tier-1 dialogue state of an NPC.
type ConversationContext struct {
	Topics []string `json:"topics"`
	Mood   string   `json:"mood"`
}

// NpcInstance is the per-NPC state record owned by the tier manager.
//
// The three tier-1 payload fields (FullMemory, ConversationContext,
// RelationshipData) are non-nil exactly while CurrentTier == TierActive;
// every transition away from Active compresses them into MemorySummary
// before the instance counts as demoted. External systems must not cache
// references to these fields across a tier transition.
type NpcInstance struct {
	ID          string
	PoiID       string
	CurrentTier Tier

	// LastInteraction is nil only while the NPC sits at TierStatistical.
	// A non-resident NPC has by definition never been seen by a player
	// since its last archival.
	LastInteraction *time.Time
	CreatedAt       time.Time

	// Interactions maps playerID → last interaction time, bounded to the
	// most recent interactionHistoryLimit players (oldest entry evicted).
	Interactions map[string]time.Time

	// Tier-1 payload. Nil outside TierActive.
	FullMemory          map[string]any
	ConversationContext *ConversationContext
	RelationshipData    map[string]float64

	// MemorySummary is the compressed representation, always present.
	MemorySummary string

	Systems SystemFlags
}

// NewNpcInstance creates a fresh statistical-tier NPC for a POI.
func NewNpcInstance(id, poiID string, archetype PoiArchetype, now time.Time) *NpcInstance {
	return &NpcInstance{
		ID:            id,
		PoiID:         poiID,
		CurrentTier:   TierStatistical,
		CreatedAt:     now,
		Interactions:  make(map[string]time.Time),
		MemorySummary: "newly created resident",
		Systems:       FlagsForArchetype(archetype),
	}
}

// ExpandPayload allocates the tier-1 payload containers. Called on promotion
// to TierActive. Containers start empty; content generation belongs to the
// dialogue systems, not the tier manager.
func (n *NpcInstance) ExpandPayload() {
	if n.FullMemory == nil {
		n.FullMemory = make(map[string]any)
	}
	if n.ConversationContext == nil {
		n.ConversationContext = &ConversationContext{Topics: []string{}, Mood: "neutral"}
	}
	if n.RelationshipData == nil {
		n.RelationshipData = make(map[string]float64)
	}
}

// CompressPayload digests the tier-1 payload into MemorySummary and drops
// the full containers. Called on any demotion away from TierActive.
// The digest is deliberately coarse: the count of stored memories is enough
// for rehydration heuristics downstream.
func (n *NpcInstance) CompressPayload() {
	if n.FullMemory != nil {
		n.MemorySummary = fmt.Sprintf("npc with %d stored memories, %d known players",
			len(n.FullMemory), len(n.Interactions))
	}
	n.FullMemory = nil
	n.ConversationContext = nil
	n.RelationshipData = nil
}

// RecordInteraction stamps a player interaction at the given time, evicting
// the stalest history entry when the bound is exceeded.
func (n *NpcInstance) RecordInteraction(playerID string, at time.Time, historyLimit int) {
	t := at
	n.LastInteraction = &t
	if n.Interactions == nil {
		n.Interactions = make(map[string]time.Time)
	}
	if _, known := n.Interactions[playerID]; !known && historyLimit > 0 && len(n.Interactions) >= historyLimit {
		oldestID := ""
		var oldest time.Time
		for id, ts := range n.Interactions {
			if oldestID == "" || ts.Before(oldest) {
				oldestID, oldest = id, ts
			}
		}
		delete(n.Interactions, oldestID)
	}
	n.Interactions[playerID] = at
}

// NaturalTier returns the tier an NPC should occupy given the elapsed time
// since its last interaction. Evaluated thresholds, first match wins:
//
//	never interacted  → Statistical
//	≤ 1 hour          → Active
//	≤ 11 hours        → Background
//	≤ 1 week          → Dormant
//	> 1 week          → CompressedDormant
func NaturalTier(lastInteraction *time.Time, now time.Time) Tier {
	if lastInteraction == nil {
		return TierStatistical
	}
	elapsed := now.Sub(*lastInteraction)
	switch {
	case elapsed <= time.Hour:
		return TierActive
	case elapsed <= 11*time.Hour:
		return TierBackground
	case elapsed <= 7*24*time.Hour:
		return TierDormant
	default:
		return TierCompressedDormant
	}
}
