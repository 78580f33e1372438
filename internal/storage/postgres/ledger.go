package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/townworks/internal/game/income"
)

// LedgerRepository stores pending accruals in income_accruals, items as JSONB.
// It implements income.LedgerStore.
type LedgerRepository struct {
	db *pgxpool.Pool
}

// NewLedgerRepository creates a LedgerRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// LoadAccruals returns every stored accrual.
func (r *LedgerRepository) LoadAccruals(ctx context.Context) ([]income.Accrual, error) {
	rows, err := r.db.Query(ctx,
		`SELECT instance_id, settlement, money, items, day, accrued_at
		 FROM income_accruals
		 ORDER BY instance_id`)
	if err != nil {
		return nil, fmt.Errorf("querying accruals: %w", err)
	}
	defer rows.Close()

	var out []income.Accrual
	for rows.Next() {
		var a income.Accrual
		if err := rows.Scan(&a.InstanceID, &a.Settlement, &a.Money, &a.Items, &a.Day, &a.AccruedAt); err != nil {
			return nil, fmt.Errorf("scanning accrual: %w", err)
		}
		if a.Items == nil {
			a.Items = make(map[string]int)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accruals: %w", err)
	}
	return out, nil
}

// SaveAccrual inserts a or replaces the stored accrual of the same instance.
func (r *LedgerRepository) SaveAccrual(ctx context.Context, a income.Accrual) error {
	items := a.Items
	if items == nil {
		items = map[string]int{}
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO income_accruals (instance_id, settlement, money, items, day, accrued_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (instance_id) DO UPDATE SET
		   settlement = EXCLUDED.settlement,
		   money = EXCLUDED.money,
		   items = EXCLUDED.items,
		   day = EXCLUDED.day,
		   accrued_at = EXCLUDED.accrued_at`,
		a.InstanceID, a.Settlement, a.Money, items, a.Day, a.AccruedAt,
	)
	if err != nil {
		return fmt.Errorf("saving accrual %s: %w", a.InstanceID, err)
	}
	return nil
}

// DeleteAccrual removes the accrual of instanceID. A missing row is not an error.
func (r *LedgerRepository) DeleteAccrual(ctx context.Context, instanceID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM income_accruals WHERE instance_id = $1`, instanceID); err != nil {
		return fmt.Errorf("deleting accrual %s: %w", instanceID, err)
	}
	return nil
}

var _ income.LedgerStore = (*LedgerRepository)(nil)
