package economy_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/townworks/internal/game/activation"
	"github.com/cory-johannsen/townworks/internal/game/dice"
	"github.com/cory-johannsen/townworks/internal/game/economy"
	"github.com/cory-johannsen/townworks/internal/game/income"
	"github.com/cory-johannsen/townworks/internal/game/mutator"
	"github.com/cory-johannsen/townworks/internal/game/resource"
	"github.com/cory-johannsen/townworks/internal/game/settlement"
	"github.com/cory-johannsen/townworks/internal/game/structure"
	"github.com/cory-johannsen/townworks/internal/game/upkeep"
	"github.com/cory-johannsen/townworks/internal/game/warehouse"
	"github.com/cory-johannsen/townworks/internal/game/world"
)

type recorder struct {
	mu      sync.Mutex
	notices []settlement.Notice
}

func (r *recorder) Notify(n settlement.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) kinds() []settlement.NoticeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []settlement.NoticeKind
	for _, n := range r.notices {
		out = append(out, n.Kind)
	}
	return out
}

type fixture struct {
	t         *testing.T
	loop      *mutator.Loop
	world     *world.MemoryWorld
	defs      *structure.DefinitionStore
	instances *structure.Registry
	ledger    *income.Ledger
	svc       *economy.Service
	cycle     *economy.DailyCycle
	poor      *settlement.Treasury
	rich      *settlement.Treasury
	notices   *recorder
}

func definitions() []*structure.Definition {
	return []*structure.Definition{
		{Name: "hut", Size: world.Vec3{X: 2, Y: 1, Z: 2}, PlacementCost: 10, MaxPerSettlement: 1,
			UpgradeTarget: "manor", UpgradeCost: 30},
		{Name: "manor", Size: world.Vec3{X: 3, Y: 1, Z: 3}},
		{Name: "hall", Size: world.Vec3{X: 1, Y: 1, Z: 1}, RequiredLevel: 2, BonusCapacity: 1},
		{Name: "bank", Size: world.Vec3{X: 1, Y: 1, Z: 1}, Income: structure.Yield{Ref: resource.Money(), Amount: 5}},
		{Name: "mine", Size: world.Vec3{X: 1, Y: 1, Z: 1}, Upkeep: structure.Yield{Ref: resource.Money(), Amount: 1000},
			Income: structure.Yield{Ref: resource.Money(), Amount: 50}},
	}
}

func newFixture(t *testing.T, defs ...*structure.Definition) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{t: t, notices: &recorder{}}
	f.loop = mutator.New(logger, 8)
	go func() { _ = f.loop.Start() }()
	t.Cleanup(f.loop.Stop)

	f.world = world.NewMemoryWorld("overworld")
	atlas := world.NewAtlas(f.world)
	f.defs = structure.NewDefinitionStore()
	for _, d := range defs {
		require.NoError(t, f.defs.Register(d))
	}
	templates := resource.NewTemplateStore()
	f.instances = structure.NewRegistry(nil, logger)

	dir := settlement.NewDirectory()
	f.poor = settlement.NewTreasury(100)
	f.rich = settlement.NewTreasury(0)
	dir.Put(settlement.Settlement{ID: "s1", Name: "Ashford", Level: 1}, f.poor)
	dir.Put(settlement.Settlement{ID: "s2", Name: "Brightwater", Level: 3}, f.rich)

	whs := warehouse.NewRegistry(atlas, f.defs, logger)
	engine := warehouse.NewEngine(logger, 0.1)
	scanner := activation.NewScanner(f.defs, f.instances, atlas, whs, false, logger)
	f.ledger = income.NewLedger(income.Deps{
		Definitions: f.defs,
		Templates:   templates,
		Instances:   f.instances,
		Settlements: dir,
		Warehouses:  whs,
		Engine:      engine,
		Atlas:       atlas,
		Rand:        dice.NewSeededSource(1),
	}, logger)
	proc := upkeep.NewProcessor(upkeep.Deps{
		Definitions: f.defs,
		Templates:   templates,
		Instances:   f.instances,
		Settlements: dir,
		Warehouses:  whs,
		Sources: []upkeep.Source{
			&upkeep.WarehouseSource{Warehouses: whs, Engine: engine, Logger: logger},
			&upkeep.LocalSource{Atlas: atlas, Engine: engine, Logger: logger},
		},
		Notifier: f.notices,
		Rand:     dice.NewSeededSource(1),
	}, logger)
	f.svc = economy.NewService(economy.Deps{
		Loop:        f.loop,
		Definitions: f.defs,
		Instances:   f.instances,
		Settlements: dir,
		Warehouses:  whs,
		Ledger:      f.ledger,
		Scanner:     scanner,
		Atlas:       atlas,
	}, logger)
	f.cycle = economy.NewDailyCycle(f.loop, f.instances, proc, f.ledger, f.notices, logger)
	return f
}

func (f *fixture) place(settlementID, def string, anchor world.Vec3) economy.Result {
	return f.svc.Place(context.Background(), settlementID, def, "overworld", anchor)
}

func (f *fixture) only(settlementID, def string) structure.Instance {
	f.t.Helper()
	var found []structure.Instance
	for _, inst := range f.instances.BySettlement(settlementID) {
		if inst.Definition == def {
			found = append(found, inst)
		}
	}
	require.Len(f.t, found, 1)
	return found[0]
}

func TestPlace_ChargesAndRegisters(t *testing.T) {
	f := newFixture(t, definitions()...)

	res := f.place("s1", "hut", world.Vec3{X: 4})
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, 90, f.poor.Balance())

	inst := f.only("s1", "hut")
	assert.NotEmpty(t, inst.ID)
	assert.Equal(t, world.Vec3{X: 4}, inst.Anchor)
	assert.True(t, inst.Active, "empty composition activates on placement")
	assert.False(t, inst.PlacedAt.IsZero())
}

func TestStatement(t *testing.T) {
	f := newFixture(t, definitions()...)
	require.True(t, f.place("s1", "hut", world.Vec3{X: 4}).OK)

	st, ok := f.svc.Statement("s1")
	require.True(t, ok)
	assert.Equal(t, 90, st.Balance())
	require.Len(t, st.History(), 1)
	assert.Equal(t, -10, st.History()[0].Amount)

	_, ok = f.svc.Statement("nowhere")
	assert.False(t, ok)
}

func TestPlace_Rejections(t *testing.T) {
	f := newFixture(t, definitions()...)
	require.True(t, f.place("s1", "hut", world.Vec3{}).OK)

	cases := []struct {
		name       string
		settlement string
		def        string
		world      string
		anchor     world.Vec3
	}{
		{"unknown definition", "s1", "castle", "overworld", world.Vec3{X: 20}},
		{"unknown settlement", "s9", "bank", "overworld", world.Vec3{X: 20}},
		{"level too low", "s1", "hall", "overworld", world.Vec3{X: 20}},
		{"cap reached", "s1", "hut", "overworld", world.Vec3{X: 20}},
		{"overlap", "s1", "bank", "overworld", world.Vec3{X: 1, Z: 1}},
		{"unknown world", "s1", "bank", "nether", world.Vec3{X: 20}},
		{"cannot afford", "s2", "hut", "overworld", world.Vec3{X: 20}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := f.instances.Len()
			res := f.svc.Place(context.Background(), tc.settlement, tc.def, tc.world, tc.anchor)
			assert.False(t, res.OK)
			assert.NotEmpty(t, res.Reason)
			assert.Equal(t, before, f.instances.Len())
		})
	}
	assert.Equal(t, 90, f.poor.Balance())
	assert.Equal(t, 0, f.rich.Balance())
}

func TestPlace_OverlapIsPerSettlement(t *testing.T) {
	f := newFixture(t, definitions()...)
	require.True(t, f.place("s1", "bank", world.Vec3{}).OK)
	assert.True(t, f.place("s2", "bank", world.Vec3{}).OK)
}

func TestPlace_BonusCapacity(t *testing.T) {
	f := newFixture(t, definitions()...)
	f.rich.Deposit(100, "grant")

	require.True(t, f.place("s2", "hut", world.Vec3{}).OK)
	require.False(t, f.place("s2", "hut", world.Vec3{X: 5}).OK)

	require.True(t, f.place("s2", "hall", world.Vec3{X: 10}).OK)
	assert.True(t, f.place("s2", "hut", world.Vec3{X: 5}).OK)
	assert.False(t, f.place("s2", "hut", world.Vec3{X: 15}).OK)
}

func TestPlace_DisabledWithoutDefinitions(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.svc.PlacementEnabled())
	res := f.place("s1", "hut", world.Vec3{})
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "disabled")
	assert.False(t, f.svc.SelectPlacement("p1", "s1", "hut").OK)
}

func TestSelection_PlaceAndCancel(t *testing.T) {
	f := newFixture(t, definitions()...)

	assert.False(t, f.svc.CancelPlacement("p1").OK)
	assert.False(t, f.svc.SelectPlacement("p1", "s1", "castle").OK)

	require.True(t, f.svc.SelectPlacement("p1", "s1", "bank").OK)
	sel, ok := f.svc.Selected("p1")
	require.True(t, ok)
	assert.Equal(t, "bank", sel.Definition)

	require.True(t, f.svc.CancelPlacement("p1").OK)
	_, ok = f.svc.Selected("p1")
	assert.False(t, ok)
	assert.False(t, f.svc.PlaceSelected(context.Background(), "p1", "overworld", world.Vec3{}).OK)

	require.True(t, f.svc.SelectPlacement("p1", "s1", "bank").OK)
	res := f.svc.PlaceSelected(context.Background(), "p1", "overworld", world.Vec3{X: 3})
	require.True(t, res.OK, res.Reason)
	_, ok = f.svc.Selected("p1")
	assert.False(t, ok, "selection consumed")
	f.only("s1", "bank")
}

func TestSelection_KeptWhenPlacementRejected(t *testing.T) {
	f := newFixture(t, definitions()...)
	require.True(t, f.place("s1", "bank", world.Vec3{}).OK)
	require.True(t, f.svc.SelectPlacement("p1", "s1", "bank").OK)

	assert.False(t, f.svc.PlaceSelected(context.Background(), "p1", "overworld", world.Vec3{}).OK)
	_, ok := f.svc.Selected("p1")
	assert.True(t, ok)
}

func TestRemoveInstance(t *testing.T) {
	f := newFixture(t, definitions()...)
	require.True(t, f.place("s1", "bank", world.Vec3{}).OK)
	inst := f.only("s1", "bank")

	_, err := f.cycle.Run(context.Background(), 1)
	require.NoError(t, err)
	_, pending := f.ledger.Pending(inst.ID)
	require.True(t, pending)

	res := f.svc.RemoveInstance(context.Background(), inst.ID)
	require.True(t, res.OK, res.Reason)
	_, ok := f.instances.Get(inst.ID)
	assert.False(t, ok)
	_, pending = f.ledger.Pending(inst.ID)
	assert.False(t, pending)

	assert.False(t, f.svc.RemoveInstance(context.Background(), inst.ID).OK)
}

func TestUpgradeInstance(t *testing.T) {
	f := newFixture(t, definitions()...)
	require.True(t, f.place("s1", "hut", world.Vec3{X: 2, Z: 2}).OK)
	old := f.only("s1", "hut")

	res := f.svc.UpgradeInstance(context.Background(), old.ID)
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, 60, f.poor.Balance())

	_, ok := f.instances.Get(old.ID)
	assert.False(t, ok)
	manor := f.only("s1", "manor")
	assert.NotEqual(t, old.ID, manor.ID)
	assert.Equal(t, old.Anchor, manor.Anchor)
	assert.True(t, manor.Active)

	assert.False(t, f.svc.UpgradeInstance(context.Background(), manor.ID).OK, "manor has no upgrade")
	assert.False(t, f.svc.UpgradeInstance(context.Background(), "missing").OK)
}

func TestUpgradeInstance_RejectedBeforeCharge(t *testing.T) {
	f := newFixture(t, definitions()...)
	require.True(t, f.place("s1", "hut", world.Vec3{}).OK)
	require.True(t, f.place("s1", "bank", world.Vec3{X: 2}).OK)
	hut := f.only("s1", "hut")

	res := f.svc.UpgradeInstance(context.Background(), hut.ID)
	assert.False(t, res.OK, "manor would overlap the bank")
	assert.Equal(t, 90, f.poor.Balance())
	_, ok := f.instances.Get(hut.ID)
	assert.True(t, ok)

	require.True(t, f.svc.RemoveInstance(context.Background(), f.only("s1", "bank").ID).OK)
	require.True(t, f.poor.Withdraw(80, "spend"))
	res = f.svc.UpgradeInstance(context.Background(), hut.ID)
	assert.False(t, res.OK, "cannot afford")
	assert.Equal(t, 10, f.poor.Balance())
	_, ok = f.instances.Get(hut.ID)
	assert.True(t, ok)
}

func TestCollect(t *testing.T) {
	f := newFixture(t, definitions()...)
	require.True(t, f.place("s1", "bank", world.Vec3{}).OK)

	assert.False(t, f.svc.Collect(context.Background(), "s1", income.All(), nil).OK)

	rep, err := f.cycle.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Accrued)

	res := f.svc.Collect(context.Background(), "s1", income.All(), nil)
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, 95, f.poor.Balance())
	assert.False(t, f.svc.Collect(context.Background(), "s1", income.All(), nil).OK, "released once")
	assert.False(t, f.svc.Collect(context.Background(), "s9", income.All(), nil).OK)
}

func TestDailyCycle_UpkeepFailureDeactivates(t *testing.T) {
	f := newFixture(t, definitions()...)
	require.True(t, f.place("s1", "mine", world.Vec3{}).OK)
	require.True(t, f.place("s1", "bank", world.Vec3{X: 3}).OK)
	mine := f.only("s1", "mine")
	require.True(t, mine.Active)

	rep, err := f.cycle.Run(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rep.Day)
	assert.Equal(t, 1, rep.Settlements)
	assert.Equal(t, 2, rep.Processed)
	assert.Equal(t, 1, rep.Upkept)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Deactivated)
	assert.Equal(t, 1, rep.Accrued)

	mine, _ = f.instances.Get(mine.ID)
	assert.False(t, mine.Active)
	assert.False(t, mine.SuccessfulUpkeep)
	_, pending := f.ledger.Pending(mine.ID)
	assert.False(t, pending)
	assert.Contains(t, f.notices.kinds(), settlement.NoticeUpkeepFailed)
	assert.Contains(t, f.notices.kinds(), settlement.NoticeIncomeReady)
}

func TestDailyCycle_IgnoresCancellation(t *testing.T) {
	f := newFixture(t, definitions()...)
	require.True(t, f.place("s1", "bank", world.Vec3{}).OK)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := f.cycle.Run(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Accrued)
}

func TestDailyCycle_OverlappingRunIsSkipped(t *testing.T) {
	f := newFixture(t, definitions()...)
	require.True(t, f.place("s1", "bank", world.Vec3{}).OK)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	blocking := settlement.NotifierFunc(func(settlement.Notice) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})
	logger := zap.NewNop()
	proc := upkeep.NewProcessor(upkeep.Deps{
		Definitions: f.defs,
		Templates:   resource.NewTemplateStore(),
		Instances:   f.instances,
		Settlements: settlement.NewDirectory(),
		Warehouses:  warehouse.NewRegistry(world.NewAtlas(), f.defs, logger),
		Notifier:    blocking,
		Rand:        dice.NewSeededSource(1),
	}, logger)
	cycle := economy.NewDailyCycle(f.loop, f.instances, proc, f.ledger, blocking, logger)

	done := make(chan error, 1)
	go func() {
		_, err := cycle.Run(context.Background(), 1)
		done <- err
	}()
	<-entered

	_, err := cycle.Run(context.Background(), 1)
	assert.ErrorIs(t, err, economy.ErrCycleInProgress)

	close(release)
	require.NoError(t, <-done)

	_, err = cycle.Run(context.Background(), 2)
	assert.NoError(t, err)
}

func TestToolLowNotices(t *testing.T) {
	rec := &recorder{}
	economy.ToolLowNotices(rec)(warehouse.LowDurability{Target: "wh", Settlement: "s1", ItemID: "IRON_PICKAXE", Remaining: 3, Max: 100})
	require.Len(t, rec.notices, 1)
	n := rec.notices[0]
	assert.Equal(t, settlement.NoticeToolLow, n.Kind)
	assert.Equal(t, "s1", n.Settlement)
	assert.Contains(t, n.Message, "IRON_PICKAXE")
}
