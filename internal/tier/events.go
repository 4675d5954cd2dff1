package tier

import "github.com/sharronesofer/visual-dm-sub037/internal/model"

// VisiblePromotion is the payload of an event.NpcsPromotedToVisible
// notification: a player entered a POI and its statistical NPCs became
// visible.
type VisiblePromotion struct {
	PoiID          string
	PlayerID       string
	PromotedNpcIDs []string
}

// ActivePromotion is the payload of an event.NpcPromotedToActive
// notification: a player interacted with an NPC directly.
type ActivePromotion struct {
	NpcID    string
	PlayerID string
}

// CycleCompleted is the payload of an event.TierManagementCycleCompleted
// notification.
type CycleCompleted struct {
	CycleNumber     int64
	DurationSeconds float64
	Results         CycleStats
}

// HealthWarning is the payload of an event.TierSystemHealthWarning
// notification: one or more computational thresholds were breached.
type HealthWarning struct {
	Issues  []string
	Metrics model.TierMetrics
}

// OptimizationCompleted is the payload of an event.TierSystemOptimization
// notification.
type OptimizationCompleted struct {
	OptimizationsPerformed []string
	EfficiencyRatio        float64
	Metrics                model.TierMetrics
	DurationSeconds        float64
}
