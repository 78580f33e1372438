// Package inventory holds the personal inventories of actors that collect
// structure income or receive warehouse overflow.
package inventory

import (
	"fmt"

	"github.com/cory-johannsen/townworks/internal/game/world"
)

// Backpack is an actor's slot-limited personal inventory.
type Backpack struct {
	MaxSlots int
	items    []world.ItemStack
}

// NewBackpack creates an empty Backpack with maxSlots slots.
//
// Precondition: maxSlots >= 0.
// Postcondition: returned Backpack has zero items.
func NewBackpack(maxSlots int) *Backpack {
	return &Backpack{MaxSlots: maxSlots}
}

// Add stores as much of stack as fits and returns the number of units that
// did not fit. Existing partial stacks are topped up before new slots are used.
//
// Postcondition: 0 <= remainder <= stack.Quantity; stored units == stack.Quantity - remainder.
func (b *Backpack) Add(stack world.ItemStack) (remainder int) {
	if stack.Empty() {
		return 0
	}
	remaining := stack.Quantity

	// Phase 1: top up partial stacks.
	for i := range b.items {
		if remaining == 0 {
			break
		}
		if !b.items[i].CanMerge(stack) {
			continue
		}
		room := b.items[i].MaxStack() - b.items[i].Quantity
		if room <= 0 {
			continue
		}
		take := min(room, remaining)
		b.items[i].Quantity += take
		remaining -= take
	}

	// Phase 2: open new slots for the rest.
	for remaining > 0 && len(b.items) < b.MaxSlots {
		q := min(remaining, stack.MaxStack())
		s := stack
		s.Quantity = q
		b.items = append(b.items, s)
		remaining -= q
	}
	return remaining
}

// Remove takes quantity units of itemID out of the backpack.
// It is atomic: if fewer than quantity units are held, no state is modified.
//
// Precondition: quantity > 0.
// Postcondition: on success Count(itemID) decreases by quantity; on error the backpack is unchanged.
func (b *Backpack) Remove(itemID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("backpack: quantity must be > 0")
	}
	if have := b.Count(itemID); have < quantity {
		return fmt.Errorf("backpack: cannot remove %d %s, only %d held", quantity, itemID, have)
	}
	remaining := quantity
	kept := b.items[:0]
	for _, s := range b.items {
		if remaining > 0 && s.ItemID == itemID {
			take := min(s.Quantity, remaining)
			s.Quantity -= take
			remaining -= take
		}
		if !s.Empty() {
			kept = append(kept, s)
		}
	}
	b.items = kept
	return nil
}

// Count returns the number of units of itemID held.
func (b *Backpack) Count(itemID string) int {
	n := 0
	for _, s := range b.items {
		if s.ItemID == itemID {
			n += s.Quantity
		}
	}
	return n
}

// Items returns a snapshot copy of all stacks in the backpack.
//
// Postcondition: returned slice is a copy; mutations do not affect the backpack.
func (b *Backpack) Items() []world.ItemStack {
	out := make([]world.ItemStack, len(b.items))
	copy(out, b.items)
	return out
}

// UsedSlots returns the number of occupied slots.
//
// Postcondition: result >= 0 and <= MaxSlots.
func (b *Backpack) UsedSlots() int {
	return len(b.items)
}
