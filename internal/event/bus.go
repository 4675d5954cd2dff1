// Package event provides a small in-process publish/subscribe bus for tier
// system notifications. Publishing is fire-and-forget: a subscriber that
// cannot keep up loses events rather than blocking the publisher.
package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Names of the events published by the tier system.
const (
	NpcsPromotedToVisible        = "npcs_promoted_to_visible"
	NpcPromotedToActive          = "npc_promoted_to_active"
	TierManagementCycleCompleted = "tier_management_cycle_completed"
	TierSystemHealthWarning      = "tier_system_health_warning"
	TierSystemOptimization       = "tier_system_optimization_completed"
)

// Event is a named notification with an arbitrary typed payload.
type Event struct {
	Name      string
	Payload   any
	Timestamp time.Time
}

// Bus fan-outs events to subscriber channels.
type Bus struct {
	mu      sync.RWMutex
	subs    []chan Event
	dropped atomic.Int64 // events lost to full subscriber buffers
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber and returns its channel.
// buffer must be > 0; events beyond the buffer are dropped for that
// subscriber only.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers an event to every subscriber without blocking.
func (b *Bus) Publish(name string, payload any) {
	ev := Event{Name: name, Payload: payload, Timestamp: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			slog.Debug("event dropped, subscriber buffer full", "event", name)
		}
	}
}

// Dropped returns the number of events lost to full subscriber buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
