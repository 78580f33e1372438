// Package warehouse aggregates the storage containers inside a structure volume
// into one addressable pool and performs verify-then-commit inventory
// transactions across it.
package warehouse

import (
	"github.com/cory-johannsen/townworks/internal/game/resource"
	"github.com/cory-johannsen/townworks/internal/game/world"
)

// Pool is an ordered set of containers treated as one inventory.
//
// Pool is not safe for concurrent use; callers run on the mutator loop.
type Pool []*world.Container

// Count returns the number of units of itemID across all containers.
func (p Pool) Count(itemID string) int {
	n := 0
	for _, c := range p {
		n += c.Count(itemID)
	}
	return n
}

// Remove takes n units of itemID from the containers in order.
//
// Postcondition: returns false and changes nothing when fewer than n units are
// held; otherwise exactly n units are removed. n <= 0 succeeds trivially.
func (p Pool) Remove(itemID string, n int) bool {
	if n <= 0 {
		return true
	}
	if p.Count(itemID) < n {
		return false
	}
	for _, c := range p {
		for i := 0; i < c.Size() && n > 0; i++ {
			s := c.Slot(i)
			if s.Empty() || s.ItemID != itemID {
				continue
			}
			take := min(n, s.Quantity)
			s.Quantity -= take
			n -= take
			c.SetSlot(i, s)
		}
		if n == 0 {
			break
		}
	}
	return true
}

// Space returns how many units of stack the pool could accept, capped at stack.Quantity.
func (p Pool) Space(stack world.ItemStack) int {
	if stack.Empty() {
		return 0
	}
	free := 0
	for _, c := range p {
		for i := 0; i < c.Size(); i++ {
			s := c.Slot(i)
			switch {
			case s.Empty():
				free += stack.MaxStack()
			case s.CanMerge(stack):
				free += max(0, s.MaxStack()-s.Quantity)
			}
			if free >= stack.Quantity {
				return stack.Quantity
			}
		}
	}
	return free
}

// Add stores stack, merging into partial stacks first-fit and then filling
// empty slots. It returns the number of units that did not fit.
//
// Postcondition: Count(stack.ItemID) grows by stack.Quantity - remainder.
func (p Pool) Add(stack world.ItemStack) (remainder int) {
	if stack.Empty() {
		return 0
	}
	rem := stack.Quantity
	if !stack.IsTool() {
		for _, c := range p {
			for i := 0; i < c.Size() && rem > 0; i++ {
				s := c.Slot(i)
				if !s.CanMerge(stack) || s.Quantity >= s.MaxStack() {
					continue
				}
				put := min(rem, s.MaxStack()-s.Quantity)
				s.Quantity += put
				rem -= put
				c.SetSlot(i, s)
			}
			if rem == 0 {
				return 0
			}
		}
	}
	for _, c := range p {
		for i := 0; i < c.Size() && rem > 0; i++ {
			if !c.Slot(i).Empty() {
				continue
			}
			ns := stack
			ns.Quantity = min(rem, stack.MaxStack())
			rem -= ns.Quantity
			c.SetSlot(i, ns)
		}
		if rem == 0 {
			return 0
		}
	}
	return rem
}

// DrainResult describes the tool damaged by DrainTool.
type DrainResult struct {
	ItemID        string
	Container     world.Vec3
	Before        int
	After         int
	MaxDurability int
	Broken        bool
}

// HasTool reports whether any slot holds a tool accepted by match.
func (p Pool) HasTool(match resource.Matcher) bool {
	for _, c := range p {
		for i := 0; i < c.Size(); i++ {
			s := c.Slot(i)
			if !s.Empty() && s.IsTool() && match.Match(s.ItemID) {
				return true
			}
		}
	}
	return false
}

// DrainTool damages the first tool matching match by amount. A drain that meets
// or exceeds the remaining durability destroys the tool and still succeeds.
//
// Postcondition: ok is false and nothing changes when no matching tool is held.
func (p Pool) DrainTool(match resource.Matcher, amount int) (res DrainResult, ok bool) {
	for _, c := range p {
		for i := 0; i < c.Size(); i++ {
			s := c.Slot(i)
			if s.Empty() || !s.IsTool() || !match.Match(s.ItemID) {
				continue
			}
			res = DrainResult{ItemID: s.ItemID, Container: c.Pos, Before: s.Durability, MaxDurability: s.MaxDurability}
			if amount >= s.Durability {
				res.Broken = true
				c.SetSlot(i, world.ItemStack{})
				return res, true
			}
			s.Durability -= amount
			res.After = s.Durability
			c.SetSlot(i, s)
			return res, true
		}
	}
	return DrainResult{}, false
}

// Discover returns the positions inside box that expose a container, in box
// iteration order.
func Discover(w world.World, box world.Box) []world.Vec3 {
	var out []world.Vec3
	box.Each(func(p world.Vec3) bool {
		if _, ok := w.ContainerAt(p); ok {
			out = append(out, p)
		}
		return true
	})
	return out
}
