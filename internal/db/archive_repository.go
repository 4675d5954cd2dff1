package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sharronesofer/visual-dm-sub037/internal/model"
)

// ArchiveRepository persists compressed tier-4 NPC records in the
// npc_archive table. Implements tier.ArchiveStore.
type ArchiveRepository struct {
	pool *pgxpool.Pool
}

// NewArchiveRepository creates an archive repository over a pgx pool.
func NewArchiveRepository(pool *pgxpool.Pool) *ArchiveRepository {
	return &ArchiveRepository{pool: pool}
}

// SaveArchived upserts an archived NPC record. The memory blob is
// zstd-compressed on the way in.
func (r *ArchiveRepository) SaveArchived(ctx context.Context, rec model.ArchivedNpc) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO npc_archive
		   (npc_id, poi_id, memory_summary,
		    economy, diplomacy, tension, religion, espionage,
		    last_interaction, created_at, known_players, memory_blob, archived_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (npc_id) DO UPDATE SET
		   poi_id = EXCLUDED.poi_id,
		   memory_summary = EXCLUDED.memory_summary,
		   last_interaction = EXCLUDED.last_interaction,
		   known_players = EXCLUDED.known_players,
		   memory_blob = EXCLUDED.memory_blob,
		   archived_at = EXCLUDED.archived_at`,
		rec.ID, rec.PoiID, rec.MemorySummary,
		rec.Systems.Economy, rec.Systems.Diplomacy, rec.Systems.Tension,
		rec.Systems.Religion, rec.Systems.Espionage,
		rec.LastInteraction, rec.CreatedAt, rec.KnownPlayers,
		compressBlob(rec.MemoryBlob), rec.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("saving archived NPC %s: %w", rec.ID, err)
	}
	return nil
}

// LoadArchived returns the record for an id, or nil if absent.
func (r *ArchiveRepository) LoadArchived(ctx context.Context, npcID string) (*model.ArchivedNpc, error) {
	var (
		rec  model.ArchivedNpc
		blob []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT npc_id, poi_id, memory_summary,
		        economy, diplomacy, tension, religion, espionage,
		        last_interaction, created_at, known_players, memory_blob, archived_at
		 FROM npc_archive WHERE npc_id = $1`, npcID,
	).Scan(&rec.ID, &rec.PoiID, &rec.MemorySummary,
		&rec.Systems.Economy, &rec.Systems.Diplomacy, &rec.Systems.Tension,
		&rec.Systems.Religion, &rec.Systems.Espionage,
		&rec.LastInteraction, &rec.CreatedAt, &rec.KnownPlayers, &blob, &rec.ArchivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying archived NPC %s: %w", npcID, err)
	}

	rec.MemoryBlob, err = decompressBlob(blob)
	if err != nil {
		return nil, fmt.Errorf("decoding archived NPC %s: %w", npcID, err)
	}
	return &rec, nil
}

// DeleteArchived removes a record. Deleting an absent id is a no-op.
func (r *ArchiveRepository) DeleteArchived(ctx context.Context, npcID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM npc_archive WHERE npc_id = $1`, npcID)
	if err != nil {
		return fmt.Errorf("deleting archived NPC %s: %w", npcID, err)
	}
	return nil
}

// LoadRoster returns poiID → archived NPC ids for every record. Used at
// startup to rebuild the in-memory POI roster after a restart.
func (r *ArchiveRepository) LoadRoster(ctx context.Context) (map[string][]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT npc_id, poi_id FROM npc_archive`)
	if err != nil {
		return nil, fmt.Errorf("loading archive roster: %w", err)
	}
	defer rows.Close()

	roster := make(map[string][]string)
	for rows.Next() {
		var npcID, poiID string
		if err := rows.Scan(&npcID, &poiID); err != nil {
			return nil, fmt.Errorf("scanning archive roster row: %w", err)
		}
		roster[poiID] = append(roster[poiID], npcID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating archive roster: %w", err)
	}
	return roster, nil
}

// CountArchived returns the number of archived records, optionally
// restricted to one POI (empty poiID means all).
func (r *ArchiveRepository) CountArchived(ctx context.Context, poiID string) (int, error) {
	var count int
	var err error
	if poiID == "" {
		err = r.pool.QueryRow(ctx, `SELECT count(*) FROM npc_archive`).Scan(&count)
	} else {
		err = r.pool.QueryRow(ctx,
			`SELECT count(*) FROM npc_archive WHERE poi_id = $1`, poiID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("counting archived NPCs: %w", err)
	}
	return count, nil
}
