package db

import (
	"context"
	"sync"

	"github.com/sharronesofer/visual-dm-sub037/internal/model"
)

// MemoryArchive is an in-memory tier.ArchiveStore used by tests and the
// simulation driver. Records round-trip through the same blob codec as the
// PostgreSQL repository so codec behavior is exercised either way.
type MemoryArchive struct {
	mu   sync.RWMutex
	recs map[string][]byte // npcID → compressed blob
	meta map[string]model.ArchivedNpc
}

// NewMemoryArchive creates an empty in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		recs: make(map[string][]byte),
		meta: make(map[string]model.ArchivedNpc),
	}
}

// SaveArchived stores a record, compressing its blob.
func (a *MemoryArchive) SaveArchived(_ context.Context, rec model.ArchivedNpc) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs[rec.ID] = compressBlob(rec.MemoryBlob)
	rec.MemoryBlob = nil
	a.meta[rec.ID] = rec
	return nil
}

// LoadArchived returns a copy of the stored record, or nil if absent.
func (a *MemoryArchive) LoadArchived(_ context.Context, npcID string) (*model.ArchivedNpc, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.meta[npcID]
	if !ok {
		return nil, nil
	}
	blob, err := decompressBlob(a.recs[npcID])
	if err != nil {
		return nil, err
	}
	rec.MemoryBlob = blob
	return &rec, nil
}

// DeleteArchived removes a record if present.
func (a *MemoryArchive) DeleteArchived(_ context.Context, npcID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.recs, npcID)
	delete(a.meta, npcID)
	return nil
}

// Roster returns poiID → archived NPC ids for every stored record.
func (a *MemoryArchive) Roster() map[string][]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	roster := make(map[string][]string)
	for id, rec := range a.meta {
		roster[rec.PoiID] = append(roster[rec.PoiID], id)
	}
	return roster
}

// Count returns the number of stored records.
func (a *MemoryArchive) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.meta)
}
