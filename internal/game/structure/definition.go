// Package structure holds structure definitions and the registry of placed
// instances.
package structure

import (
	"fmt"
	"sort"

	"github.com/cory-johannsen/townworks/internal/game/resource"
	"github.com/cory-johannsen/townworks/internal/game/world"
)

// PlotSize is the edge length of one plot footprint.
const PlotSize = 16

// Requirement is one composition rule: at least Count blocks matching Materials.
type Requirement struct {
	// Key is the material or "group:<name>" key as written.
	Key       string
	Materials resource.Matcher
	Count     int
	// Unsatisfiable marks a requirement whose group alias did not resolve.
	Unsatisfiable bool
}

// Yield is a resolved income or upkeep rule.
//
// The zero Yield (Ref.Kind == KindUnknown) means no income or no upkeep.
type Yield struct {
	Amount int
	Ref    resource.Ref
	// Tool is set for KindTool yields; Amount is then the durability drain.
	Tool resource.Matcher
	// Unresolvable marks a rule present in content that could not be resolved.
	// It can never be paid.
	Unresolvable bool
}

// None reports whether the yield is absent.
func (y Yield) None() bool {
	return y.Ref.Kind == resource.KindUnknown && !y.Unresolvable
}

// String describes y for logs and notifications.
func (y Yield) String() string {
	if y.Unresolvable {
		return "unresolvable"
	}
	switch y.Ref.Kind {
	case resource.KindUnknown:
		return "none"
	case resource.KindTemplate:
		return y.Ref.String()
	case resource.KindTool:
		return fmt.Sprintf("%d durability of %s", y.Amount, y.Tool.Key)
	default:
		return fmt.Sprintf("%d %s", y.Amount, y.Ref)
	}
}

// Definition is an immutable structure type.
type Definition struct {
	Name             string
	Description      string
	Type             string
	Size             world.Vec3
	Plots            int
	Composition      []Requirement
	Income           Yield
	Upkeep           Yield
	PlacementCost    int
	Permission       string
	MaxPerSettlement int
	RequiredLevel    int
	BonusCapacity    int
	UpgradeTarget    string
	UpgradeCost      int
	ToolType         string
	DisplayHint      string
	Warehouse        bool
}

// Extent returns the dimensions of the structure volume.
//
// Plot-based definitions span Plots*PlotSize along X, PlotSize along Z and Size.Y (at least 1) along Y.
func (d *Definition) Extent() world.Vec3 {
	if d.Plots > 0 {
		y := d.Size.Y
		if y < 1 {
			y = 1
		}
		return world.Vec3{X: d.Plots * PlotSize, Y: y, Z: PlotSize}
	}
	return d.Size
}

// Box returns the volume the structure occupies when anchored at anchor.
func (d *Definition) Box(anchor world.Vec3) world.Box {
	return world.NewBox(anchor, d.Extent())
}

// Upgradable reports whether the definition names an upgrade target.
func (d *Definition) Upgradable() bool {
	return d.UpgradeTarget != ""
}

// DefinitionStore holds definitions keyed by name. It is populated at load and
// read-only afterwards.
type DefinitionStore struct {
	defs map[string]*Definition
}

// NewDefinitionStore creates an empty DefinitionStore.
func NewDefinitionStore() *DefinitionStore {
	return &DefinitionStore{defs: make(map[string]*Definition)}
}

// Register adds d.
//
// Precondition: d must not be nil and d.Name must be non-empty.
// Postcondition: returns an error if d.Name is already registered.
func (s *DefinitionStore) Register(d *Definition) error {
	if d.Name == "" {
		return fmt.Errorf("structure: definition name must not be empty")
	}
	if _, ok := s.defs[d.Name]; ok {
		return fmt.Errorf("structure: definition %q already registered", d.Name)
	}
	s.defs[d.Name] = d
	return nil
}

// Get returns the named definition.
func (s *DefinitionStore) Get(name string) (*Definition, bool) {
	d, ok := s.defs[name]
	return d, ok
}

// Names returns all definition names sorted.
func (s *DefinitionStore) Names() []string {
	out := make([]string, 0, len(s.defs))
	for n := range s.defs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of definitions.
func (s *DefinitionStore) Len() int {
	return len(s.defs)
}
