package warehouse_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/townworks/internal/game/mutator"
	"github.com/cory-johannsen/townworks/internal/game/structure"
	"github.com/cory-johannsen/townworks/internal/game/world"
)

// onLoop runs fn on a fresh mutator loop and waits for it.
func onLoop(t testing.TB, fn func(tok mutator.Token)) {
	t.Helper()
	l := mutator.New(zap.NewNop(), 1)
	go func() { _ = l.Start() }()
	defer l.Stop()
	require.NoError(t, l.Do(context.Background(), func(tok mutator.Token) error {
		fn(tok)
		return nil
	}))
}

var storehouseDef = &structure.Definition{
	Name:      "storehouse",
	Size:      world.Vec3{X: 3, Y: 1, Z: 1},
	Warehouse: true,
}

// storehouse builds a world holding one active storehouse at the origin with
// containers of the given sizes placed along X.
func storehouse(t testing.TB, sizes ...int) (*world.MemoryWorld, structure.Instance, []*world.Container) {
	t.Helper()
	w := world.NewMemoryWorld("overworld")
	var cs []*world.Container
	for i, n := range sizes {
		cs = append(cs, w.PlaceContainer(world.Vec3{X: i}, n))
	}
	inst := structure.Instance{
		ID:         "wh-1",
		Definition: storehouseDef.Name,
		Settlement: "s1",
		World:      "overworld",
		Active:     true,
	}
	return w, inst, cs
}

func stack(id string, n int) world.ItemStack {
	return world.ItemStack{ItemID: id, Quantity: n}
}

func tool(id string, dur, maxDur int) world.ItemStack {
	return world.ItemStack{ItemID: id, Quantity: 1, Durability: dur, MaxDurability: maxDur}
}
