// Package sqlite is the embedded storage backend: structure instances and
// pending income in a single SQLite file (pure Go driver, WAL journal).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cory-johannsen/townworks/internal/game/income"
	"github.com/cory-johannsen/townworks/internal/game/structure"
)

const schema = `
CREATE TABLE IF NOT EXISTS structure_instances (
    id                TEXT    PRIMARY KEY,
    definition        TEXT    NOT NULL,
    settlement        TEXT    NOT NULL,
    world             TEXT    NOT NULL,
    anchor_x          INTEGER NOT NULL,
    anchor_y          INTEGER NOT NULL,
    anchor_z          INTEGER NOT NULL,
    active            INTEGER NOT NULL DEFAULT 0,
    successful_upkeep INTEGER NOT NULL DEFAULT 0,
    last_collection   INTEGER NULL,
    placed_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_structure_instances_settlement ON structure_instances (settlement);
CREATE TABLE IF NOT EXISTS income_accruals (
    instance_id TEXT    PRIMARY KEY,
    settlement  TEXT    NOT NULL,
    money       INTEGER NOT NULL DEFAULT 0,
    items       TEXT    NOT NULL DEFAULT '{}',
    day         INTEGER NOT NULL,
    accrued_at  INTEGER NOT NULL
);
`

// Store implements structure.InstanceStore and income.LedgerStore on SQLite.
// Timestamps are stored as Unix nanoseconds.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path and applies the schema. The path
// ":memory:" opens a private in-memory database.
//
// Postcondition: Returns a ready Store or a non-nil error.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: empty database path")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer; also keeps an in-memory database on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, path: path}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if s.path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("setting %q: %w", p, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health pings the database within timeout.
func (s *Store) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// LoadInstances implements structure.InstanceStore.
func (s *Store) LoadInstances(ctx context.Context) ([]structure.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, definition, settlement, world, anchor_x, anchor_y, anchor_z,
		        active, successful_upkeep, last_collection, placed_at
		 FROM structure_instances ORDER BY placed_at, id`)
	if err != nil {
		return nil, fmt.Errorf("querying instances: %w", err)
	}
	defer rows.Close()

	var out []structure.Instance
	for rows.Next() {
		var inst structure.Instance
		var last sql.NullInt64
		var placed int64
		if err := rows.Scan(
			&inst.ID, &inst.Definition, &inst.Settlement, &inst.World,
			&inst.Anchor.X, &inst.Anchor.Y, &inst.Anchor.Z,
			&inst.Active, &inst.SuccessfulUpkeep, &last, &placed,
		); err != nil {
			return nil, fmt.Errorf("scanning instance: %w", err)
		}
		if last.Valid {
			inst.LastCollection = time.Unix(0, last.Int64).UTC()
		}
		inst.PlacedAt = time.Unix(0, placed).UTC()
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating instances: %w", err)
	}
	return out, nil
}

// SaveInstance implements structure.InstanceStore.
func (s *Store) SaveInstance(ctx context.Context, inst structure.Instance) error {
	var last sql.NullInt64
	if !inst.LastCollection.IsZero() {
		last = sql.NullInt64{Int64: inst.LastCollection.UnixNano(), Valid: true}
	}
	placed := inst.PlacedAt
	if placed.IsZero() {
		placed = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO structure_instances
		   (id, definition, settlement, world, anchor_x, anchor_y, anchor_z,
		    active, successful_upkeep, last_collection, placed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   definition = excluded.definition,
		   settlement = excluded.settlement,
		   world = excluded.world,
		   anchor_x = excluded.anchor_x,
		   anchor_y = excluded.anchor_y,
		   anchor_z = excluded.anchor_z,
		   active = excluded.active,
		   successful_upkeep = excluded.successful_upkeep,
		   last_collection = excluded.last_collection`,
		inst.ID, inst.Definition, inst.Settlement, inst.World,
		inst.Anchor.X, inst.Anchor.Y, inst.Anchor.Z,
		inst.Active, inst.SuccessfulUpkeep, last, placed.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving instance %s: %w", inst.ID, err)
	}
	return nil
}

// DeleteInstance implements structure.InstanceStore.
func (s *Store) DeleteInstance(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM structure_instances WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting instance %s: %w", id, err)
	}
	return nil
}

// LoadAccruals implements income.LedgerStore.
func (s *Store) LoadAccruals(ctx context.Context) ([]income.Accrual, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instance_id, settlement, money, items, day, accrued_at
		 FROM income_accruals ORDER BY instance_id`)
	if err != nil {
		return nil, fmt.Errorf("querying accruals: %w", err)
	}
	defer rows.Close()

	var out []income.Accrual
	for rows.Next() {
		var a income.Accrual
		var items string
		var at int64
		if err := rows.Scan(&a.InstanceID, &a.Settlement, &a.Money, &items, &a.Day, &at); err != nil {
			return nil, fmt.Errorf("scanning accrual: %w", err)
		}
		a.Items = make(map[string]int)
		if err := json.Unmarshal([]byte(items), &a.Items); err != nil {
			return nil, fmt.Errorf("decoding items of %s: %w", a.InstanceID, err)
		}
		a.AccruedAt = time.Unix(0, at).UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accruals: %w", err)
	}
	return out, nil
}

// SaveAccrual implements income.LedgerStore.
func (s *Store) SaveAccrual(ctx context.Context, a income.Accrual) error {
	items := a.Items
	if items == nil {
		items = map[string]int{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding items of %s: %w", a.InstanceID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO income_accruals (instance_id, settlement, money, items, day, accrued_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (instance_id) DO UPDATE SET
		   settlement = excluded.settlement,
		   money = excluded.money,
		   items = excluded.items,
		   day = excluded.day,
		   accrued_at = excluded.accrued_at`,
		a.InstanceID, a.Settlement, a.Money, string(raw), a.Day, a.AccruedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving accrual %s: %w", a.InstanceID, err)
	}
	return nil
}

// DeleteAccrual implements income.LedgerStore.
func (s *Store) DeleteAccrual(ctx context.Context, instanceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM income_accruals WHERE instance_id = ?`, instanceID); err != nil {
		return fmt.Errorf("deleting accrual %s: %w", instanceID, err)
	}
	return nil
}

var (
	_ structure.InstanceStore = (*Store)(nil)
	_ income.LedgerStore      = (*Store)(nil)
)
