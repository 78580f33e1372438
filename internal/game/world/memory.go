package world

import "sync"

// ChestMaterial is the material MemoryWorld assigns to container blocks.
const ChestMaterial Material = "CHEST"

// MemoryWorld is an in-process World backed by maps. It backs the standalone
// server and the engine's tests.
//
// Block reads are guarded by an RWMutex; container contents follow the
// mutator-loop rule like any other World.
type MemoryWorld struct {
	name string

	mu         sync.RWMutex
	blocks     map[Vec3]Material
	containers map[Vec3]*Container
	unloaded   []Box

	floor *Floor
}

// NewMemoryWorld returns an empty, fully loaded world called name.
func NewMemoryWorld(name string) *MemoryWorld {
	return &MemoryWorld{
		name:       name,
		blocks:     make(map[Vec3]Material),
		containers: make(map[Vec3]*Container),
		floor:      NewFloor(),
	}
}

// Name implements World.
func (w *MemoryWorld) Name() string { return w.name }

// BlockAt implements World.
func (w *MemoryWorld) BlockAt(pos Vec3) Material {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if m, ok := w.blocks[pos]; ok {
		return m
	}
	return Air
}

// SetBlock places material m at pos. Setting Air clears the block and any
// container attached to it.
func (w *MemoryWorld) SetBlock(pos Vec3, m Material) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if m == Air || m == "" {
		delete(w.blocks, pos)
		delete(w.containers, pos)
		return
	}
	w.blocks[pos] = m
}

// Fill sets every block of box to m.
func (w *MemoryWorld) Fill(box Box, m Material) {
	box.Each(func(p Vec3) bool {
		w.SetBlock(p, m)
		return true
	})
}

// PlaceContainer puts a chest with size slots at pos and returns it.
func (w *MemoryWorld) PlaceContainer(pos Vec3, size int) *Container {
	c := NewContainer(pos, size)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.blocks[pos] = ChestMaterial
	w.containers[pos] = c
	return c
}

// ContainerAt implements World.
func (w *MemoryWorld) ContainerAt(pos Vec3) (*Container, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.containers[pos]
	return c, ok
}

// Unload marks box as not observable until LoadAll is called.
func (w *MemoryWorld) Unload(box Box) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unloaded = append(w.unloaded, box)
}

// LoadAll marks the whole world observable.
func (w *MemoryWorld) LoadAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unloaded = nil
}

// Loaded implements World.
func (w *MemoryWorld) Loaded(box Box) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, u := range w.unloaded {
		if u.Intersects(box) {
			return false
		}
	}
	return true
}

// Drop implements World by placing stack on the world's Floor.
func (w *MemoryWorld) Drop(pos Vec3, stack ItemStack) {
	w.floor.Drop(pos, stack)
}

// Floor exposes the dropped-item ledger.
func (w *MemoryWorld) Floor() *Floor {
	return w.floor
}
