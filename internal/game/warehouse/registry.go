package warehouse

import (
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/townworks/internal/game/structure"
	"github.com/cory-johannsen/townworks/internal/game/world"
)

// Registry tracks the warehouses of each settlement in registration order.
// Structural changes take one coarse lock.
type Registry struct {
	mu           sync.RWMutex
	byID         map[string]*Warehouse
	bySettlement map[string][]*Warehouse
	atlas        *world.Atlas
	defs         *structure.DefinitionStore
	logger       *zap.Logger
}

// NewRegistry creates an empty Registry.
//
// Precondition: atlas, defs and logger must not be nil.
func NewRegistry(atlas *world.Atlas, defs *structure.DefinitionStore, logger *zap.Logger) *Registry {
	return &Registry{
		byID:         make(map[string]*Warehouse),
		bySettlement: make(map[string][]*Warehouse),
		atlas:        atlas,
		defs:         defs,
		logger:       logger,
	}
}

// eligible returns the definition and world of inst when it can act as a warehouse.
func (r *Registry) eligible(inst structure.Instance) (*structure.Definition, world.World, bool) {
	if !inst.Active {
		return nil, nil, false
	}
	def, ok := r.defs.Get(inst.Definition)
	if !ok || !def.Warehouse {
		return nil, nil, false
	}
	w, ok := r.atlas.Get(inst.World)
	if !ok {
		r.logger.Warn("warehouse world not loaded",
			zap.String("instance", inst.ID),
			zap.String("world", inst.World),
		)
		return nil, nil, false
	}
	return def, w, true
}

// Register adds the warehouse view of inst if inst is active and warehouse-capable.
// Registering an id twice returns the existing warehouse.
func (r *Registry) Register(inst structure.Instance) (*Warehouse, bool) {
	def, w, ok := r.eligible(inst)
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if wh, ok := r.byID[inst.ID]; ok {
		return wh, true
	}
	wh := New(inst, def, w)
	r.byID[inst.ID] = wh
	r.bySettlement[inst.Settlement] = append(r.bySettlement[inst.Settlement], wh)
	r.logger.Debug("warehouse registered",
		zap.String("instance", inst.ID),
		zap.String("settlement", inst.Settlement),
	)
	return wh, true
}

// Deregister removes the warehouse of instance id and reports whether one existed.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deregisterLocked(id)
}

func (r *Registry) deregisterLocked(id string) bool {
	wh, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	list := r.bySettlement[wh.settlement]
	for i, x := range list {
		if x == wh {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.bySettlement, wh.settlement)
	} else {
		r.bySettlement[wh.settlement] = list
	}
	r.logger.Debug("warehouse deregistered", zap.String("instance", id))
	return true
}

// Get returns the warehouse of instance id.
func (r *Registry) Get(id string) (*Warehouse, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wh, ok := r.byID[id]
	return wh, ok
}

// ForSettlement returns the settlement's warehouses in registration order.
func (r *Registry) ForSettlement(settlement string) []*Warehouse {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.bySettlement[settlement]
	out := make([]*Warehouse, len(list))
	copy(out, list)
	return out
}

// Rebuild replaces the registry contents with the warehouses of instances.
// The new index is built aside and swapped in under one lock, so readers see
// either the old set or the new one.
//
// Postcondition: returns the number of warehouses registered.
func (r *Registry) Rebuild(instances []structure.Instance) int {
	byID := make(map[string]*Warehouse)
	bySettlement := make(map[string][]*Warehouse)
	for _, inst := range instances {
		if _, dup := byID[inst.ID]; dup {
			continue
		}
		def, w, ok := r.eligible(inst)
		if !ok {
			continue
		}
		wh := New(inst, def, w)
		byID[inst.ID] = wh
		bySettlement[inst.Settlement] = append(bySettlement[inst.Settlement], wh)
	}
	r.mu.Lock()
	r.byID = byID
	r.bySettlement = bySettlement
	r.mu.Unlock()
	r.logger.Info("warehouse registry rebuilt", zap.Int("count", len(byID)))
	return len(byID)
}

// Sync brings the registry in line with inst after an activation change or
// removal: eligible instances are registered and their containers rescanned,
// ineligible ones deregistered.
func (r *Registry) Sync(inst structure.Instance) {
	if _, _, ok := r.eligible(inst); !ok {
		r.Deregister(inst.ID)
		return
	}
	wh, _ := r.Register(inst)
	wh.Refresh()
}

// Len returns the number of registered warehouses.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
