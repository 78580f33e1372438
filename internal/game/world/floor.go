package world

import "sync"

// Floor tracks item stacks dropped on the ground, keyed by block position.
// It is thread-safe via sync.RWMutex.
type Floor struct {
	mu    sync.RWMutex
	drops map[Vec3][]ItemStack
}

// NewFloor creates a Floor with nothing on the ground.
//
// Postcondition: returned Floor is ready for use with zero items.
func NewFloor() *Floor {
	return &Floor{drops: make(map[Vec3][]ItemStack)}
}

// Drop places stack on the ground at pos. Empty stacks are ignored.
//
// Postcondition: stack is appended to the items at pos.
func (f *Floor) Drop(pos Vec3, stack ItemStack) {
	if stack.Empty() {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drops[pos] = append(f.drops[pos], stack)
}

// PickupAll removes and returns everything on the ground at pos.
//
// Postcondition: the ground at pos is empty; returned slice contains all previously held stacks.
func (f *Floor) PickupAll(pos Vec3) []ItemStack {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.drops[pos]
	if len(items) == 0 {
		return []ItemStack{}
	}
	delete(f.drops, pos)
	return items
}

// ItemsAt returns a snapshot copy of the stacks on the ground at pos.
//
// Postcondition: returned slice is a copy; mutations do not affect internal state.
func (f *Floor) ItemsAt(pos Vec3) []ItemStack {
	f.mu.RLock()
	defer f.mu.RUnlock()
	items := f.drops[pos]
	out := make([]ItemStack, len(items))
	copy(out, items)
	return out
}

// Total returns the number of units of itemID lying anywhere on the floor.
func (f *Floor) Total(itemID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, items := range f.drops {
		for _, s := range items {
			if s.ItemID == itemID {
				n += s.Quantity
			}
		}
	}
	return n
}
