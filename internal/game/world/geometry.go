// Package world models the block space structures occupy: coordinates,
// axis-aligned volumes, materials, item stacks and the storage containers
// found inside a volume.
package world

import "fmt"

// Vec3 is an integer block coordinate.
type Vec3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Add returns the component-wise sum of v and o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// String returns the coordinate as "(x,y,z)".
func (v Vec3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z)
}

// Box is an axis-aligned block volume. Min and Max are both inclusive.
//
// Invariant: Min.X <= Max.X, Min.Y <= Max.Y, Min.Z <= Max.Z for boxes built by NewBox.
type Box struct {
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`
}

// NewBox returns the box anchored at anchor spanning size blocks on each axis.
// Size components below 1 are treated as 1.
//
// Postcondition: result.Min == anchor; result.Volume() == max(size.X,1)*max(size.Y,1)*max(size.Z,1).
func NewBox(anchor, size Vec3) Box {
	return Box{
		Min: anchor,
		Max: Vec3{
			X: anchor.X + atLeastOne(size.X) - 1,
			Y: anchor.Y + atLeastOne(size.Y) - 1,
			Z: anchor.Z + atLeastOne(size.Z) - 1,
		},
	}
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Contains reports whether p lies inside b.
func (b Box) Contains(p Vec3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Intersects reports whether b and o share at least one block.
func (b Box) Intersects(o Box) bool {
	return b.Min.X <= o.Max.X && o.Min.X <= b.Max.X &&
		b.Min.Y <= o.Max.Y && o.Min.Y <= b.Max.Y &&
		b.Min.Z <= o.Max.Z && o.Min.Z <= b.Max.Z
}

// Volume returns the number of blocks in b.
func (b Box) Volume() int {
	return (b.Max.X - b.Min.X + 1) * (b.Max.Y - b.Min.Y + 1) * (b.Max.Z - b.Min.Z + 1)
}

// Each calls fn for every block of b, Y outermost then Z then X, stopping
// early when fn returns false.
//
// Postcondition: fn is called at most Volume() times, each position exactly once.
func (b Box) Each(fn func(Vec3) bool) {
	for y := b.Min.Y; y <= b.Max.Y; y++ {
		for z := b.Min.Z; z <= b.Max.Z; z++ {
			for x := b.Min.X; x <= b.Max.X; x++ {
				if !fn(Vec3{X: x, Y: y, Z: z}) {
					return
				}
			}
		}
	}
}

// String returns the box as "min..max".
func (b Box) String() string {
	return b.Min.String() + ".." + b.Max.String()
}
