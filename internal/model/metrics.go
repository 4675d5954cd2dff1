package model

import "time"

// TierMetrics is a snapshot of the tier population and its computational
// footprint. Recomputed wholesale after every management cycle — it is a
// snapshot, not an accumulating ledger. The promotion/demotion counters are
// copied in from the manager's lifetime totals at snapshot time.
type TierMetrics struct {
	Counts map[Tier]int

	// Derived from per-tier unit costs (see CostOf).
	CPULoadUnits  float64
	MemoryUsageMB float64

	TotalPromotions int64
	TotalDemotions  int64

	ComputedAt time.Time
}

// NewTierMetrics computes a metrics snapshot from per-tier population counts.
func NewTierMetrics(counts map[Tier]int, promotions, demotions int64, now time.Time) TierMetrics {
	m := TierMetrics{
		Counts:          make(map[Tier]int, len(counts)),
		TotalPromotions: promotions,
		TotalDemotions:  demotions,
		ComputedAt:      now,
	}
	for t, c := range counts {
		m.Counts[t] = c
		cost := CostOf(t)
		m.CPULoadUnits += cost.CPUUnits * float64(c)
		m.MemoryUsageMB += cost.MemoryMB * float64(c)
	}
	return m
}

// TotalNpcs returns the population across all tiers, archived included.
func (m TierMetrics) TotalNpcs() int {
	total := 0
	for _, c := range m.Counts {
		total += c
	}
	return total
}

// ResidentNpcs returns the in-memory population (tiers 1–3.5).
func (m TierMetrics) ResidentNpcs() int {
	return m.TotalNpcs() - m.Counts[TierStatistical]
}

// VisibleRatio returns the resident-to-total population ratio.
// Zero when the population is empty.
func (m TierMetrics) VisibleRatio() float64 {
	total := m.TotalNpcs()
	if total == 0 {
		return 0
	}
	return float64(m.ResidentNpcs()) / float64(total)
}
