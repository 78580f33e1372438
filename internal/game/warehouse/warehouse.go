package warehouse

import (
	"github.com/cory-johannsen/townworks/internal/game/structure"
	"github.com/cory-johannsen/townworks/internal/game/world"
)

// Target is a container set the Engine can transact against.
type Target interface {
	// Label identifies the target in logs, usually the owning instance id.
	Label() string
	// Settlement returns the owning settlement id.
	Settlement() string
	// World returns the world the containers live in.
	World() world.World
	// Anchor is where overflow is dropped when no actor receives it.
	Anchor() world.Vec3
	// Pool returns the containers to operate on.
	Pool() Pool
}

// Warehouse is the derived view over an active, warehouse-capable instance.
// Container positions are cached and rescanned when the cache is empty or
// Refresh is called.
//
// Warehouse is not safe for concurrent use; it is driven from the mutator loop.
type Warehouse struct {
	instanceID string
	settlement string
	w          world.World
	box        world.Box
	anchor     world.Vec3
	positions  []world.Vec3
}

// New creates the warehouse view of inst.
//
// Precondition: def is inst's definition; w is the world inst lives in.
func New(inst structure.Instance, def *structure.Definition, w world.World) *Warehouse {
	return &Warehouse{
		instanceID: inst.ID,
		settlement: inst.Settlement,
		w:          w,
		box:        inst.Volume(def),
		anchor:     inst.Anchor,
	}
}

// Label returns the instance id.
func (wh *Warehouse) Label() string { return wh.instanceID }

// InstanceID returns the id of the backing instance.
func (wh *Warehouse) InstanceID() string { return wh.instanceID }

// Settlement returns the owning settlement id.
func (wh *Warehouse) Settlement() string { return wh.settlement }

// World returns the warehouse world.
func (wh *Warehouse) World() world.World { return wh.w }

// Anchor returns the instance anchor.
func (wh *Warehouse) Anchor() world.Vec3 { return wh.anchor }

// Box returns the warehouse volume.
func (wh *Warehouse) Box() world.Box { return wh.box }

// Refresh rescans the volume and returns the number of containers found.
func (wh *Warehouse) Refresh() int {
	wh.positions = Discover(wh.w, wh.box)
	return len(wh.positions)
}

// Pool resolves the cached positions to containers, rescanning when the cache
// is empty or every cached container has disappeared.
func (wh *Warehouse) Pool() Pool {
	if len(wh.positions) == 0 {
		wh.Refresh()
	}
	pool := wh.resolve()
	if len(pool) == 0 && len(wh.positions) > 0 {
		wh.Refresh()
		pool = wh.resolve()
	}
	return pool
}

func (wh *Warehouse) resolve() Pool {
	pool := make(Pool, 0, len(wh.positions))
	for _, p := range wh.positions {
		if c, ok := wh.w.ContainerAt(p); ok {
			pool = append(pool, c)
		}
	}
	return pool
}

// Local is an uncached target over the containers inside one instance's own
// volume, used as the last upkeep fallback.
type Local struct {
	instanceID string
	settlement string
	w          world.World
	box        world.Box
	anchor     world.Vec3
}

// NewLocal creates the local target of inst.
func NewLocal(inst structure.Instance, def *structure.Definition, w world.World) *Local {
	return &Local{
		instanceID: inst.ID,
		settlement: inst.Settlement,
		w:          w,
		box:        inst.Volume(def),
		anchor:     inst.Anchor,
	}
}

func (l *Local) Label() string { return l.instanceID }
func (l *Local) Settlement() string { return l.settlement }
func (l *Local) World() world.World { return l.w }
func (l *Local) Anchor() world.Vec3 { return l.anchor }

// Pool scans the volume on every call.
func (l *Local) Pool() Pool {
	positions := Discover(l.w, l.box)
	pool := make(Pool, 0, len(positions))
	for _, p := range positions {
		if c, ok := l.w.ContainerAt(p); ok {
			pool = append(pool, c)
		}
	}
	return pool
}
