package structure

import (
	"context"
	"time"

	"github.com/cory-johannsen/townworks/internal/game/world"
)

// Instance is a placed structure owned by a settlement.
type Instance struct {
	ID               string
	Definition       string
	Settlement       string
	World            string
	Anchor           world.Vec3
	Active           bool
	SuccessfulUpkeep bool
	LastCollection   time.Time
	PlacedAt         time.Time
}

// Volume returns the box the instance occupies under def.
func (i Instance) Volume(def *Definition) world.Box {
	return def.Box(i.Anchor)
}

// InstanceStore persists instance records.
type InstanceStore interface {
	// LoadInstances returns every persisted instance.
	LoadInstances(ctx context.Context) ([]Instance, error)
	// SaveInstance inserts or replaces inst.
	SaveInstance(ctx context.Context, inst Instance) error
	// DeleteInstance removes the instance with id; deleting a missing id is not an error.
	DeleteInstance(ctx context.Context, id string) error
}
