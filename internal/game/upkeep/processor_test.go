package upkeep_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/townworks/internal/game/dice"
	"github.com/cory-johannsen/townworks/internal/game/mutator"
	"github.com/cory-johannsen/townworks/internal/game/resource"
	"github.com/cory-johannsen/townworks/internal/game/settlement"
	"github.com/cory-johannsen/townworks/internal/game/structure"
	"github.com/cory-johannsen/townworks/internal/game/upkeep"
	"github.com/cory-johannsen/townworks/internal/game/warehouse"
	"github.com/cory-johannsen/townworks/internal/game/world"
)

type fixture struct {
	t         *testing.T
	loop      *mutator.Loop
	world     *world.MemoryWorld
	defs      *structure.DefinitionStore
	templates *resource.TemplateStore
	instances *structure.Registry
	treasury  *settlement.Treasury
	whs       *warehouse.Registry
	proc      *upkeep.Processor
	notices   []settlement.Notice
	whChest   *world.Container
	localBox  *world.Container
}

var axes = resource.Groups{"AXES": {"IRON_AXE", "STONE_AXE"}}

func mustMatcher(key string) resource.Matcher {
	m, err := axes.Matcher(key)
	if err != nil {
		panic(err)
	}
	return m
}

func newFixture(t *testing.T, balance int, upkeepRule structure.Yield) *fixture {
	t.Helper()
	f := &fixture{t: t}
	logger := zap.NewNop()
	f.loop = mutator.New(logger, 4)
	go func() { _ = f.loop.Start() }()
	t.Cleanup(f.loop.Stop)

	f.world = world.NewMemoryWorld("overworld")
	f.whChest = f.world.PlaceContainer(world.Vec3{X: 0}, 9)
	f.localBox = f.world.PlaceContainer(world.Vec3{X: 10}, 9)

	f.defs = structure.NewDefinitionStore()
	require.NoError(t, f.defs.Register(&structure.Definition{Name: "storehouse", Size: world.Vec3{X: 3, Y: 1, Z: 1}, Warehouse: true}))
	require.NoError(t, f.defs.Register(&structure.Definition{Name: "mill", Size: world.Vec3{X: 3, Y: 1, Z: 1}, Upkeep: upkeepRule}))

	f.templates = resource.NewTemplateStore()
	f.instances = structure.NewRegistry(nil, logger)
	ctx := context.Background()
	require.NoError(t, f.instances.Upsert(ctx, structure.Instance{ID: "wh", Definition: "storehouse", Settlement: "s1", World: "overworld", Active: true}))
	require.NoError(t, f.instances.Upsert(ctx, structure.Instance{ID: "mill", Definition: "mill", Settlement: "s1", World: "overworld", Anchor: world.Vec3{X: 10}, Active: true}))

	dir := settlement.NewDirectory()
	f.treasury = settlement.NewTreasury(balance)
	dir.Put(settlement.Settlement{ID: "s1", Name: "Riverside"}, f.treasury)

	atlas := world.NewAtlas(f.world)
	f.whs = warehouse.NewRegistry(atlas, f.defs, logger)
	f.whs.Rebuild(f.instances.Snapshot())
	eng := warehouse.NewEngine(logger, 0)

	f.proc = upkeep.NewProcessor(upkeep.Deps{
		Definitions: f.defs,
		Templates:   f.templates,
		Instances:   f.instances,
		Settlements: dir,
		Warehouses:  f.whs,
		Sources: []upkeep.Source{
			&upkeep.WarehouseSource{Warehouses: f.whs, Engine: eng, Logger: logger},
			&upkeep.LocalSource{Atlas: atlas, Engine: eng, Logger: logger},
		},
		Notifier: settlement.NotifierFunc(func(n settlement.Notice) { f.notices = append(f.notices, n) }),
		Rand:     dice.NewSeededSource(1),
	}, logger)
	return f
}

func (f *fixture) process(id string) upkeep.Outcome {
	f.t.Helper()
	var out upkeep.Outcome
	require.NoError(f.t, f.loop.Do(context.Background(), func(tok mutator.Token) error {
		var err error
		out, err = f.proc.Process(context.Background(), tok, id)
		return err
	}))
	return out
}

func (f *fixture) instance(id string) structure.Instance {
	inst, ok := f.instances.Get(id)
	require.True(f.t, ok)
	return inst
}

func TestProcess_MoneyShortfallDeactivatesWithoutPartialWithdrawal(t *testing.T) {
	f := newFixture(t, 5, structure.Yield{Ref: resource.Money(), Amount: 10})

	out := f.process("mill")
	assert.False(t, out.Success)
	assert.True(t, out.Deactivated)
	var ire *upkeep.InsufficientResourceError
	require.True(t, errors.As(out.Cause, &ire))
	assert.Equal(t, "MONEY", ire.Resource)
	assert.Equal(t, 10, ire.Needed)

	assert.Equal(t, 5, f.treasury.Balance())
	mill := f.instance("mill")
	assert.False(t, mill.Active)
	assert.False(t, mill.SuccessfulUpkeep)
	require.Len(t, f.notices, 1)
	assert.Equal(t, settlement.NoticeUpkeepFailed, f.notices[0].Kind)
	assert.Equal(t, "mill", f.notices[0].Instance)

	out = f.process("mill")
	assert.False(t, out.Deactivated, "already inactive")
	assert.Len(t, f.notices, 1)
}

func TestProcess_MoneyPaid(t *testing.T) {
	f := newFixture(t, 15, structure.Yield{Ref: resource.Money(), Amount: 10})
	out := f.process("mill")
	assert.True(t, out.Success)
	assert.Equal(t, 5, f.treasury.Balance())
	assert.True(t, f.instance("mill").SuccessfulUpkeep)
	assert.True(t, f.instance("mill").Active)
}

func TestProcess_SplitStockFailsWithoutMutation(t *testing.T) {
	f := newFixture(t, 0, structure.Yield{Ref: resource.Item("R"), Amount: 10})
	f.whChest.SetSlot(0, world.ItemStack{ItemID: "R", Quantity: 8})
	f.localBox.SetSlot(0, world.ItemStack{ItemID: "R", Quantity: 2})

	out := f.process("mill")
	assert.False(t, out.Success)
	assert.Equal(t, 8, f.whChest.Count("R"))
	assert.Equal(t, 2, f.localBox.Count("R"))
	assert.False(t, f.instance("mill").Active)
}

func TestProcess_FallsBackToLocalContainers(t *testing.T) {
	f := newFixture(t, 0, structure.Yield{Ref: resource.Item("R"), Amount: 5})
	f.whChest.SetSlot(0, world.ItemStack{ItemID: "R", Quantity: 3})
	f.localBox.SetSlot(0, world.ItemStack{ItemID: "R", Quantity: 6})

	out := f.process("mill")
	assert.True(t, out.Success)
	assert.Equal(t, 3, f.whChest.Count("R"), "warehouse alone could not pay")
	assert.Equal(t, 1, f.localBox.Count("R"))
}

func TestProcess_PrefersWarehouse(t *testing.T) {
	f := newFixture(t, 0, structure.Yield{Ref: resource.Item("R"), Amount: 5})
	f.whChest.SetSlot(0, world.ItemStack{ItemID: "R", Quantity: 5})
	f.localBox.SetSlot(0, world.ItemStack{ItemID: "R", Quantity: 5})

	assert.True(t, f.process("mill").Success)
	assert.Zero(t, f.whChest.Count("R"))
	assert.Equal(t, 5, f.localBox.Count("R"))
}

func TestProcess_ToolGroupUpkeep(t *testing.T) {
	f := newFixture(t, 0, structure.Yield{Ref: resource.Tool(), Amount: 3, Tool: mustMatcher("group:AXES")})
	f.localBox.SetSlot(4, world.ItemStack{ItemID: "STONE_AXE", Quantity: 1, Durability: 10, MaxDurability: 60})

	assert.True(t, f.process("mill").Success)
	assert.Equal(t, 7, f.localBox.Slot(4).Durability)

	f.localBox.SetSlot(4, world.ItemStack{})
	out := f.process("mill")
	assert.False(t, out.Success)
	var ire *upkeep.InsufficientResourceError
	require.True(t, errors.As(out.Cause, &ire))
	assert.Equal(t, "TOOL group:AXES", ire.Resource)
}

func TestProcess_TemplateRequiresEveryEntry(t *testing.T) {
	f := newFixture(t, 20, structure.Yield{Ref: resource.TemplateRef("mill_upkeep")})
	require.NoError(t, f.templates.Register(&resource.Template{
		Name: "mill_upkeep",
		Entries: []resource.Entry{
			{Ref: resource.Money(), Min: 4, Max: 4, Weight: 1},
			{Ref: resource.Item("WHEAT"), Min: 2, Max: 2, Weight: 1},
		},
	}))
	f.whChest.SetSlot(0, world.ItemStack{ItemID: "WHEAT", Quantity: 2})

	assert.True(t, f.process("mill").Success)
	assert.Equal(t, 16, f.treasury.Balance())
	assert.Zero(t, f.whChest.Count("WHEAT"))

	out := f.process("mill")
	assert.False(t, out.Success, "wheat exhausted")
	assert.True(t, out.Deactivated)
	assert.Equal(t, 16, f.treasury.Balance(), "money entry not charged when wheat is missing")
}

func TestProcess_TemplateChecksEveryEntryBeforeCharging(t *testing.T) {
	f := newFixture(t, 20, structure.Yield{Ref: resource.TemplateRef("forge_upkeep")})
	require.NoError(t, f.templates.Register(&resource.Template{
		Name: "forge_upkeep",
		Entries: []resource.Entry{
			{Ref: resource.Money(), Min: 4, Max: 4, Weight: 1},
			{Ref: resource.Item("COAL"), Min: 2, Max: 2, Weight: 1},
			{Ref: resource.Item("COAL"), Min: 2, Max: 2, Weight: 1},
			{Ref: resource.Item("WHEAT"), Min: 1, Max: 1, Weight: 1},
		},
	}))
	f.whChest.SetSlot(0, world.ItemStack{ItemID: "COAL", Quantity: 3})
	f.whChest.SetSlot(1, world.ItemStack{ItemID: "WHEAT", Quantity: 1})

	out := f.process("mill")
	assert.False(t, out.Success, "coal demands are summed")
	var ire *upkeep.InsufficientResourceError
	require.True(t, errors.As(out.Cause, &ire))
	assert.Equal(t, "COAL", ire.Resource)
	assert.Equal(t, 4, ire.Needed)
	assert.Equal(t, 20, f.treasury.Balance())
	assert.Equal(t, 3, f.whChest.Count("COAL"))
	assert.Equal(t, 1, f.whChest.Count("WHEAT"))

	f.localBox.SetSlot(0, world.ItemStack{ItemID: "COAL", Quantity: 4})
	assert.True(t, f.process("mill").Success)
	assert.Equal(t, 16, f.treasury.Balance())
	assert.Zero(t, f.localBox.Count("COAL"))
	assert.Equal(t, 3, f.whChest.Count("COAL"))
	assert.Zero(t, f.whChest.Count("WHEAT"))
}

func TestProcess_TemplateMoneyShortfallTakesNoItems(t *testing.T) {
	f := newFixture(t, 3, structure.Yield{Ref: resource.TemplateRef("mill_upkeep")})
	require.NoError(t, f.templates.Register(&resource.Template{
		Name: "mill_upkeep",
		Entries: []resource.Entry{
			{Ref: resource.Item("WHEAT"), Min: 2, Max: 2, Weight: 1},
			{Ref: resource.Money(), Min: 4, Max: 4, Weight: 1},
		},
	}))
	f.whChest.SetSlot(0, world.ItemStack{ItemID: "WHEAT", Quantity: 2})

	out := f.process("mill")
	assert.False(t, out.Success)
	assert.Equal(t, 3, f.treasury.Balance())
	assert.Equal(t, 2, f.whChest.Count("WHEAT"))
}

func TestProcess_UnresolvableUpkeepNeverPays(t *testing.T) {
	f := newFixture(t, 100, structure.Yield{Unresolvable: true})
	f.whChest.SetSlot(0, world.ItemStack{ItemID: "IRON_AXE", Quantity: 1, Durability: 10, MaxDurability: 10})

	out := f.process("mill")
	assert.False(t, out.Success)
	assert.True(t, out.Deactivated)
	assert.ErrorIs(t, out.Cause, upkeep.ErrUnresolvableUpkeep)
	assert.False(t, f.instance("mill").SuccessfulUpkeep)
	assert.Equal(t, 100, f.treasury.Balance())
	require.Len(t, f.notices, 1)
	assert.Equal(t, settlement.NoticeUpkeepFailed, f.notices[0].Kind)
}

func TestProcess_RandomTemplatePaysOneEntry(t *testing.T) {
	f := newFixture(t, 100, structure.Yield{Ref: resource.TemplateRef("pick_one")})
	require.NoError(t, f.templates.Register(&resource.Template{
		Name:            "pick_one",
		RandomSelection: true,
		Entries: []resource.Entry{
			{Ref: resource.Money(), Min: 1, Max: 1, Weight: 1},
			{Ref: resource.Money(), Min: 10, Max: 10, Weight: 1},
		},
	}))
	assert.True(t, f.process("mill").Success)
	spent := 100 - f.treasury.Balance()
	assert.Contains(t, []int{1, 10}, spent)
}

func TestProcess_MissingTemplateFails(t *testing.T) {
	f := newFixture(t, 100, structure.Yield{Ref: resource.TemplateRef("ghost")})
	out := f.process("mill")
	assert.False(t, out.Success)
	var tre *resource.TemplateResolutionError
	assert.True(t, errors.As(out.Cause, &tre))
}

func TestProcess_NoUpkeepAlwaysSucceeds(t *testing.T) {
	f := newFixture(t, 0, structure.Yield{})
	inst := f.instance("mill")
	inst.Active = false
	require.NoError(t, f.instances.Upsert(context.Background(), inst))

	out := f.process("mill")
	assert.True(t, out.Success)
	assert.True(t, f.instance("mill").SuccessfulUpkeep)
	assert.False(t, f.instance("mill").Active, "upkeep never activates")
}

func TestProcess_DeactivatedWarehouseLeavesRegistry(t *testing.T) {
	f := newFixture(t, 0, structure.Yield{})
	require.NoError(t, f.defs.Register(&structure.Definition{
		Name: "paid_store", Size: world.Vec3{X: 1, Y: 1, Z: 1}, Warehouse: true,
		Upkeep: structure.Yield{Ref: resource.Money(), Amount: 1},
	}))
	require.NoError(t, f.instances.Upsert(context.Background(), structure.Instance{
		ID: "ps", Definition: "paid_store", Settlement: "s1", World: "overworld", Anchor: world.Vec3{X: 20}, Active: true,
	}))
	f.whs.Sync(f.instance("ps"))
	_, ok := f.whs.Get("ps")
	require.True(t, ok)

	assert.True(t, f.process("ps").Deactivated)
	_, ok = f.whs.Get("ps")
	assert.False(t, ok)
}

func TestProcess_RejectsStaleToken(t *testing.T) {
	f := newFixture(t, 50, structure.Yield{Ref: resource.Money(), Amount: 10})
	_, err := f.proc.Process(context.Background(), mutator.Token{}, "mill")
	assert.ErrorIs(t, err, mutator.ErrConcurrencyViolation)
	assert.Equal(t, 50, f.treasury.Balance())

	require.NoError(t, f.loop.Do(context.Background(), func(tok mutator.Token) error {
		_, err := f.proc.Process(context.Background(), tok, "nope")
		assert.ErrorIs(t, err, structure.ErrInstanceNotFound)
		return nil
	}))
}
