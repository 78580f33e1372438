package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/townworks/internal/game/structure"
)

// InstanceRepository stores structure instances in structure_instances.
// It implements structure.InstanceStore.
type InstanceRepository struct {
	db *pgxpool.Pool
}

// NewInstanceRepository creates an InstanceRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewInstanceRepository(db *pgxpool.Pool) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// LoadInstances returns every stored instance ordered by placement time.
func (r *InstanceRepository) LoadInstances(ctx context.Context) ([]structure.Instance, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, definition, settlement, world, anchor_x, anchor_y, anchor_z,
		        active, successful_upkeep, last_collection, placed_at
		 FROM structure_instances
		 ORDER BY placed_at, id`)
	if err != nil {
		return nil, fmt.Errorf("querying instances: %w", err)
	}
	defer rows.Close()

	var out []structure.Instance
	for rows.Next() {
		var inst structure.Instance
		var last *time.Time
		if err := rows.Scan(
			&inst.ID, &inst.Definition, &inst.Settlement, &inst.World,
			&inst.Anchor.X, &inst.Anchor.Y, &inst.Anchor.Z,
			&inst.Active, &inst.SuccessfulUpkeep, &last, &inst.PlacedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning instance: %w", err)
		}
		if last != nil {
			inst.LastCollection = *last
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating instances: %w", err)
	}
	return out, nil
}

// SaveInstance inserts inst or replaces the stored row with the same id.
func (r *InstanceRepository) SaveInstance(ctx context.Context, inst structure.Instance) error {
	placed := inst.PlacedAt
	if placed.IsZero() {
		placed = time.Now()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO structure_instances
		   (id, definition, settlement, world, anchor_x, anchor_y, anchor_z,
		    active, successful_upkeep, last_collection, placed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   definition = EXCLUDED.definition,
		   settlement = EXCLUDED.settlement,
		   world = EXCLUDED.world,
		   anchor_x = EXCLUDED.anchor_x,
		   anchor_y = EXCLUDED.anchor_y,
		   anchor_z = EXCLUDED.anchor_z,
		   active = EXCLUDED.active,
		   successful_upkeep = EXCLUDED.successful_upkeep,
		   last_collection = EXCLUDED.last_collection`,
		inst.ID, inst.Definition, inst.Settlement, inst.World,
		inst.Anchor.X, inst.Anchor.Y, inst.Anchor.Z,
		inst.Active, inst.SuccessfulUpkeep, nullTime(inst.LastCollection), placed,
	)
	if err != nil {
		return fmt.Errorf("saving instance %s: %w", inst.ID, err)
	}
	return nil
}

// DeleteInstance removes the row with id. A missing row is not an error.
func (r *InstanceRepository) DeleteInstance(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM structure_instances WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting instance %s: %w", id, err)
	}
	return nil
}

// CountBySettlement returns the number of stored instances per settlement.
func (r *InstanceRepository) CountBySettlement(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `SELECT settlement, COUNT(*) FROM structure_instances GROUP BY settlement`)
	if err != nil {
		return nil, fmt.Errorf("counting instances: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		out[s] = n
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ structure.InstanceStore = (*InstanceRepository)(nil)
