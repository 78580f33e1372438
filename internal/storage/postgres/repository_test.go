package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/townworks/internal/game/income"
	"github.com/cory-johannsen/townworks/internal/game/structure"
	"github.com/cory-johannsen/townworks/internal/game/world"
	"github.com/cory-johannsen/townworks/internal/storage/postgres"
	"github.com/cory-johannsen/townworks/internal/testutil"
)

func TestRepositories(t *testing.T) {
	pool := testutil.NewMigratedPool(t)
	ctx := context.Background()
	instances := postgres.NewInstanceRepository(pool)
	ledger := postgres.NewLedgerRepository(pool)
	placed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("instance round trip", func(t *testing.T) {
		inst := structure.Instance{
			ID: "i-1", Definition: "farm", Settlement: "s1", World: "overworld",
			Anchor: world.Vec3{X: -4, Y: 64, Z: 12}, Active: true, PlacedAt: placed,
		}
		require.NoError(t, instances.SaveInstance(ctx, inst))

		inst.SuccessfulUpkeep = true
		inst.LastCollection = placed.Add(time.Hour)
		require.NoError(t, instances.SaveInstance(ctx, inst))

		all, err := instances.LoadInstances(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		got := all[0]
		assert.Equal(t, inst.Anchor, got.Anchor)
		assert.True(t, got.Active)
		assert.True(t, got.SuccessfulUpkeep)
		assert.True(t, inst.LastCollection.Equal(got.LastCollection))
		assert.True(t, placed.Equal(got.PlacedAt))

		counts, err := instances.CountBySettlement(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"s1": 1}, counts)

		require.NoError(t, instances.DeleteInstance(ctx, "i-1"))
		require.NoError(t, instances.DeleteInstance(ctx, "i-1"))
		all, err = instances.LoadInstances(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("never collected stays zero", func(t *testing.T) {
		require.NoError(t, instances.SaveInstance(ctx, structure.Instance{ID: "i-2", Definition: "hut", Settlement: "s2", World: "w", PlacedAt: placed}))
		all, err := instances.LoadInstances(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.True(t, all[0].LastCollection.IsZero())
		require.NoError(t, instances.DeleteInstance(ctx, "i-2"))
	})

	t.Run("accrual round trip", func(t *testing.T) {
		a := income.Accrual{
			InstanceID: "i-1", Settlement: "s1", Money: 25,
			Items: map[string]int{"WHEAT": 100, "APPLE": 3}, Day: 9, AccruedAt: placed,
		}
		require.NoError(t, ledger.SaveAccrual(ctx, a))
		a.Money = 30
		require.NoError(t, ledger.SaveAccrual(ctx, a))

		all, err := ledger.LoadAccruals(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, 30, all[0].Money)
		assert.Equal(t, a.Items, all[0].Items)
		assert.Equal(t, int64(9), all[0].Day)

		require.NoError(t, ledger.DeleteAccrual(ctx, "i-1"))
		all, err = ledger.LoadAccruals(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("registry persists through repository", func(t *testing.T) {
		reg := structure.NewRegistry(instances, zap.NewNop())
		inst := structure.Instance{ID: "i-3", Definition: "mill", Settlement: "s1", World: "overworld", PlacedAt: placed}
		require.NoError(t, reg.Upsert(ctx, inst))
		_, err := reg.Update(ctx, "i-3", func(i *structure.Instance) { i.Active = true })
		require.NoError(t, err)

		reloaded := structure.NewRegistry(instances, zap.NewNop())
		require.NoError(t, reloaded.Load(ctx))
		got, ok := reloaded.Get("i-3")
		require.True(t, ok)
		assert.True(t, got.Active)

		_, err = reg.Remove(ctx, "i-3")
		require.NoError(t, err)
	})
}

func TestProperty_InstanceRepository_SaveLoad(t *testing.T) {
	pool := testutil.NewMigratedPool(t)
	repo := postgres.NewInstanceRepository(pool)
	ctx := context.Background()

	rapid.Check(t, func(t *rapid.T) {
		inst := structure.Instance{
			ID:         rapid.StringMatching(`[a-f0-9]{8}`).Draw(t, "id"),
			Definition: rapid.StringMatching(`[a-z_]{1,12}`).Draw(t, "def"),
			Settlement: rapid.StringMatching(`s[0-9]{1,3}`).Draw(t, "settlement"),
			World:      "overworld",
			Anchor: world.Vec3{
				X: rapid.IntRange(-30000, 30000).Draw(t, "x"),
				Y: rapid.IntRange(-64, 320).Draw(t, "y"),
				Z: rapid.IntRange(-30000, 30000).Draw(t, "z"),
			},
			Active:   rapid.Bool().Draw(t, "active"),
			PlacedAt: time.Unix(rapid.Int64Range(0, 2_000_000_000).Draw(t, "placed"), 0).UTC(),
		}
		if err := repo.SaveInstance(ctx, inst); err != nil {
			t.Fatalf("save: %v", err)
		}
		all, err := repo.LoadInstances(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		found := false
		for _, got := range all {
			if got.ID == inst.ID {
				found = got.Anchor == inst.Anchor && got.Active == inst.Active && got.Definition == inst.Definition
			}
		}
		if !found {
			t.Fatalf("instance %s not loaded intact", inst.ID)
		}
		if err := repo.DeleteInstance(ctx, inst.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
	})
}
