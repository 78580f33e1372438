package world

import (
	"fmt"
	"sort"
	"sync"
)

// World is the host's block space as seen by the structure engine.
//
// Reads may happen from any goroutine; container mutation and Drop are only
// performed from the mutator loop.
type World interface {
	// Name identifies the world; instances record it alongside their anchor.
	Name() string
	// BlockAt returns the material at pos, Air when nothing is there.
	BlockAt(pos Vec3) Material
	// Loaded reports whether every block of box is currently observable.
	Loaded(box Box) bool
	// ContainerAt returns the storage container at pos, if the block exposes one.
	ContainerAt(pos Vec3) (*Container, bool)
	// Drop spills stack onto the ground at pos.
	Drop(pos Vec3, stack ItemStack)
}

// Atlas indexes the worlds known to the engine by name.
// All methods are safe for concurrent use.
type Atlas struct {
	mu     sync.RWMutex
	worlds map[string]World
}

// NewAtlas returns an Atlas holding ws.
//
// Precondition: world names are unique.
func NewAtlas(ws ...World) *Atlas {
	a := &Atlas{worlds: make(map[string]World, len(ws))}
	for _, w := range ws {
		a.worlds[w.Name()] = w
	}
	return a
}

// Register adds w, replacing any world with the same name.
func (a *Atlas) Register(w World) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.worlds[w.Name()] = w
}

// Get returns the world called name.
//
// Postcondition: ok is true iff a world with that name is registered.
func (a *Atlas) Get(name string) (World, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	w, ok := a.worlds[name]
	return w, ok
}

// MustGet returns the world called name or an error naming it.
func (a *Atlas) MustGet(name string) (World, error) {
	w, ok := a.Get(name)
	if !ok {
		return nil, fmt.Errorf("world %q not registered", name)
	}
	return w, nil
}

// Names returns the registered world names in sorted order.
func (a *Atlas) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.worlds))
	for n := range a.worlds {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
