package world

// Material names a block type, e.g. "OAK_LOG" or "CHEST".
type Material string

// Air is the material of an empty block.
const Air Material = "AIR"

// DefaultMaxStack is the stack limit for stackable items.
const DefaultMaxStack = 64

// ItemStack is a quantity of one item type occupying a container slot.
//
// Tools carry MaxDurability > 0 and never stack; Durability is the remaining
// durability of the single tool in the stack.
type ItemStack struct {
	ItemID        string `json:"item_id" yaml:"item_id"`
	Quantity      int    `json:"quantity" yaml:"quantity"`
	Durability    int    `json:"durability,omitempty" yaml:"durability,omitempty"`
	MaxDurability int    `json:"max_durability,omitempty" yaml:"max_durability,omitempty"`
}

// Empty reports whether the stack holds nothing.
func (s ItemStack) Empty() bool {
	return s.ItemID == "" || s.Quantity <= 0
}

// IsTool reports whether the stack is a durability-bearing tool.
func (s ItemStack) IsTool() bool {
	return s.MaxDurability > 0
}

// MaxStack returns how many units of this item fit in one slot.
func (s ItemStack) MaxStack() int {
	if s.IsTool() {
		return 1
	}
	return DefaultMaxStack
}

// CanMerge reports whether o may be merged into s.
func (s ItemStack) CanMerge(o ItemStack) bool {
	return !s.Empty() && s.ItemID == o.ItemID && !s.IsTool() && !o.IsTool()
}

// Container is a slot inventory attached to a block position.
//
// Container is not safe for concurrent use; all mutation happens on the
// mutator loop.
type Container struct {
	Pos   Vec3
	slots []ItemStack
}

// NewContainer returns an empty container with size slots at pos.
//
// Precondition: size >= 0.
func NewContainer(pos Vec3, size int) *Container {
	return &Container{Pos: pos, slots: make([]ItemStack, size)}
}

// Size returns the number of slots.
func (c *Container) Size() int {
	return len(c.slots)
}

// Slot returns the stack in slot i; an empty ItemStack when the slot is free.
//
// Precondition: 0 <= i < Size().
func (c *Container) Slot(i int) ItemStack {
	return c.slots[i]
}

// SetSlot replaces slot i. Setting an empty stack frees the slot.
//
// Precondition: 0 <= i < Size().
func (c *Container) SetSlot(i int, s ItemStack) {
	if s.Empty() {
		c.slots[i] = ItemStack{}
		return
	}
	c.slots[i] = s
}

// Count returns the number of units of itemID held.
func (c *Container) Count(itemID string) int {
	n := 0
	for _, s := range c.slots {
		if !s.Empty() && s.ItemID == itemID {
			n += s.Quantity
		}
	}
	return n
}
