package structure

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry is the authoritative in-memory set of placed instances, indexed by
// id and by settlement.
//
// Structural changes take one coarse lock. Persistence runs after the lock is
// released; a failed save is logged and returned as *StorageIOError while the
// in-memory change stands.
type Registry struct {
	mu           sync.RWMutex
	byID         map[string]Instance
	bySettlement map[string]map[string]struct{}
	store        InstanceStore
	logger       *zap.Logger
}

// NewRegistry creates an empty Registry. store may be nil for a memory-only registry.
//
// Precondition: logger must not be nil.
func NewRegistry(store InstanceStore, logger *zap.Logger) *Registry {
	return &Registry{
		byID:         make(map[string]Instance),
		bySettlement: make(map[string]map[string]struct{}),
		store:        store,
		logger:       logger,
	}
}

// Load replaces the registry contents with the instances held by the store.
//
// Postcondition: on error the registry is unchanged.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	all, err := r.store.LoadInstances(ctx)
	if err != nil {
		return &StorageIOError{Op: "load", ID: "instances", Err: err}
	}
	r.Restore(all)
	r.logger.Info("instances loaded", zap.Int("count", len(all)))
	return nil
}

// Restore replaces the registry contents with all without persisting.
func (r *Registry) Restore(all []Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[string]Instance, len(all))
	r.bySettlement = make(map[string]map[string]struct{})
	for _, inst := range all {
		r.insertLocked(inst)
	}
}

func (r *Registry) insertLocked(inst Instance) {
	if old, ok := r.byID[inst.ID]; ok && old.Settlement != inst.Settlement {
		r.unindexLocked(old)
	}
	r.byID[inst.ID] = inst
	ids, ok := r.bySettlement[inst.Settlement]
	if !ok {
		ids = make(map[string]struct{})
		r.bySettlement[inst.Settlement] = ids
	}
	ids[inst.ID] = struct{}{}
}

func (r *Registry) unindexLocked(inst Instance) {
	ids := r.bySettlement[inst.Settlement]
	delete(ids, inst.ID)
	if len(ids) == 0 {
		delete(r.bySettlement, inst.Settlement)
	}
}

// Get returns the instance with id.
func (r *Registry) Get(id string) (Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byID[id]
	return inst, ok
}

// Upsert inserts or replaces inst and persists it.
//
// Precondition: inst.ID must be non-empty.
// Postcondition: Get(inst.ID) returns inst even when the returned error is a *StorageIOError.
func (r *Registry) Upsert(ctx context.Context, inst Instance) error {
	r.mu.Lock()
	r.insertLocked(inst)
	r.mu.Unlock()
	return r.persist(ctx, inst)
}

// Update applies fn to the instance with id under the lock and persists the result.
//
// Postcondition: returns ErrInstanceNotFound if id is unknown; otherwise the updated instance.
func (r *Registry) Update(ctx context.Context, id string, fn func(*Instance)) (Instance, error) {
	r.mu.Lock()
	inst, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return Instance{}, ErrInstanceNotFound
	}
	fn(&inst)
	inst.ID = id
	r.insertLocked(inst)
	r.mu.Unlock()
	return inst, r.persist(ctx, inst)
}

// Remove deletes the instance with id and returns it.
//
// Postcondition: returns ErrInstanceNotFound if id is unknown.
func (r *Registry) Remove(ctx context.Context, id string) (Instance, error) {
	r.mu.Lock()
	inst, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return Instance{}, ErrInstanceNotFound
	}
	delete(r.byID, id)
	r.unindexLocked(inst)
	r.mu.Unlock()
	if r.store == nil {
		return inst, nil
	}
	if err := r.store.DeleteInstance(ctx, id); err != nil {
		r.logger.Error("deleting instance", zap.String("instance", id), zap.Error(err))
		return inst, &StorageIOError{Op: "delete", ID: id, Err: err}
	}
	return inst, nil
}

func (r *Registry) persist(ctx context.Context, inst Instance) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveInstance(ctx, inst); err != nil {
		r.logger.Error("saving instance", zap.String("instance", inst.ID), zap.Error(err))
		return &StorageIOError{Op: "save", ID: inst.ID, Err: err}
	}
	return nil
}

// Snapshot returns a copy of every instance ordered by placement time, then id.
func (r *Registry) Snapshot() []Instance {
	r.mu.RLock()
	out := make([]Instance, 0, len(r.byID))
	for _, inst := range r.byID {
		out = append(out, inst)
	}
	r.mu.RUnlock()
	sortInstances(out)
	return out
}

// BySettlement returns the instances owned by settlement, ordered like Snapshot.
func (r *Registry) BySettlement(settlement string) []Instance {
	r.mu.RLock()
	ids := r.bySettlement[settlement]
	out := make([]Instance, 0, len(ids))
	for id := range ids {
		out = append(out, r.byID[id])
	}
	r.mu.RUnlock()
	sortInstances(out)
	return out
}

// Settlements returns the ids of settlements owning at least one instance, sorted.
func (r *Registry) Settlements() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.bySettlement))
	for s := range r.bySettlement {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// IDs returns every instance id in Snapshot order.
func (r *Registry) IDs() []string {
	snap := r.Snapshot()
	out := make([]string, len(snap))
	for i, inst := range snap {
		out[i] = inst.ID
	}
	return out
}

// Len returns the number of instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func sortInstances(s []Instance) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].PlacedAt.Equal(s[j].PlacedAt) {
			return s[i].PlacedAt.Before(s[j].PlacedAt)
		}
		return s[i].ID < s[j].ID
	})
}
