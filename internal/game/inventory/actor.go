package inventory

import "github.com/cory-johannsen/townworks/internal/game/world"

// Actor is a player on whose behalf items are delivered. Anything the actor
// cannot carry is dropped at their feet by the caller.
type Actor interface {
	// ID identifies the actor, e.g. a player UUID.
	ID() string
	// Position is where overflow is dropped.
	Position() world.Vec3
	// Give stores as much of stack as fits and returns the units not accepted.
	Give(stack world.ItemStack) int
}

// Player is an Actor backed by a Backpack.
type Player struct {
	id   string
	pos  world.Vec3
	pack *Backpack
}

// NewPlayer returns a Player standing at pos carrying pack.
//
// Precondition: pack must not be nil.
func NewPlayer(id string, pos world.Vec3, pack *Backpack) *Player {
	return &Player{id: id, pos: pos, pack: pack}
}

// ID implements Actor.
func (p *Player) ID() string { return p.id }

// Position implements Actor.
func (p *Player) Position() world.Vec3 { return p.pos }

// MoveTo changes where the player stands.
func (p *Player) MoveTo(pos world.Vec3) { p.pos = pos }

// Give implements Actor.
func (p *Player) Give(stack world.ItemStack) int { return p.pack.Add(stack) }

// Backpack returns the player's inventory.
func (p *Player) Backpack() *Backpack { return p.pack }
