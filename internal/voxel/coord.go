package voxel

import (
	"fmt"
	"math"
)

// Vec3i is an integer position in voxel or tile space.
type Vec3i struct {
	X int
	Y int
	Z int
}

// TileID identifies a tile in tile space. Tile (x,y,z) of edge length L covers the voxel
// range [id*L, (id+1)*L) on every axis.
type TileID = Vec3i

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3i) Sub(o Vec3i) Vec3i { return Vec3i{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3i) Mul(s int) Vec3i   { return Vec3i{v.X * s, v.Y * s, v.Z * s} }

// Axis returns the component for axis 0 (x), 1 (y) or 2 (z).
func (v Vec3i) Axis(axis int) int {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// WithAxis returns a copy of v with the given axis replaced.
func (v Vec3i) WithAxis(axis, value int) Vec3i {
	switch axis {
	case 0:
		v.X = value
	case 1:
		v.Y = value
	default:
		v.Z = value
	}
	return v
}

func (v Vec3i) String() string {
	return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z)
}

// FloorDiv divides toward negative infinity so negative coordinates map onto the same tile grid
// as positive ones.
func FloorDiv(value, size int) int {
	if size <= 0 {
		return 0
	}
	if value >= 0 {
		return value / size
	}
	return -((-value - 1) / size) - 1
}

// FloorMod is the remainder matching FloorDiv; it is always in [0, size).
func FloorMod(value, size int) int {
	return value - FloorDiv(value, size)*size
}

// TileOf returns the id of the tile of edge length size that contains voxel p.
func TileOf(p Vec3i, size int) TileID {
	return TileID{FloorDiv(p.X, size), FloorDiv(p.Y, size), FloorDiv(p.Z, size)}
}

// LocalOf returns the position of voxel p inside its tile.
func LocalOf(p Vec3i, size int) Vec3i {
	return Vec3i{FloorMod(p.X, size), FloorMod(p.Y, size), FloorMod(p.Z, size)}
}

// Box is an axis-aligned box with inclusive integer corners. A box whose Min exceeds its Max on
// any axis is invalid and contains nothing.
type Box struct {
	Min Vec3i
	Max Vec3i
}

// InvalidBox returns the identity element for Extend and Union.
func InvalidBox() Box {
	return Box{
		Min: Vec3i{math.MaxInt, math.MaxInt, math.MaxInt},
		Max: Vec3i{math.MinInt, math.MinInt, math.MinInt},
	}
}

// BoxOf returns the box spanning [min, max] inclusive.
func BoxOf(min, max Vec3i) Box {
	return Box{Min: min, Max: max}
}

func (b Box) Valid() bool {
	return b.Min.X <= b.Max.X && b.Min.Y <= b.Max.Y && b.Min.Z <= b.Max.Z
}

func (b Box) Contains(p Vec3i) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Extend grows the box to include p.
func (b Box) Extend(p Vec3i) Box {
	return Box{
		Min: Vec3i{min(b.Min.X, p.X), min(b.Min.Y, p.Y), min(b.Min.Z, p.Z)},
		Max: Vec3i{max(b.Max.X, p.X), max(b.Max.Y, p.Y), max(b.Max.Z, p.Z)},
	}
}

func (b Box) Union(o Box) Box {
	if !o.Valid() {
		return b
	}
	if !b.Valid() {
		return o
	}
	return b.Extend(o.Min).Extend(o.Max)
}

func (b Box) Intersect(o Box) Box {
	return Box{
		Min: Vec3i{max(b.Min.X, o.Min.X), max(b.Min.Y, o.Min.Y), max(b.Min.Z, o.Min.Z)},
		Max: Vec3i{min(b.Max.X, o.Max.X), min(b.Max.Y, o.Max.Y), min(b.Max.Z, o.Max.Z)},
	}
}

func (b Box) Translate(d Vec3i) Box {
	return Box{Min: b.Min.Add(d), Max: b.Max.Add(d)}
}

// Size returns the number of cells along each axis, zero for invalid boxes.
func (b Box) Size() Vec3i {
	if !b.Valid() {
		return Vec3i{}
	}
	return b.Max.Sub(b.Min).Add(Vec3i{1, 1, 1})
}

// Count returns the number of cells in the box.
func (b Box) Count() int {
	s := b.Size()
	return s.X * s.Y * s.Z
}

// Each visits every position of the box in z, y, x order. Returning false stops the walk.
func (b Box) Each(fn func(p Vec3i) bool) {
	if !b.Valid() {
		return
	}
	for z := b.Min.Z; z <= b.Max.Z; z++ {
		for y := b.Min.Y; y <= b.Max.Y; y++ {
			for x := b.Min.X; x <= b.Max.X; x++ {
				if !fn(Vec3i{x, y, z}) {
					return
				}
			}
		}
	}
}

func (b Box) String() string {
	if !b.Valid() {
		return "[invalid]"
	}
	return fmt.Sprintf("[%v..%v]", b.Min, b.Max)
}

// TilesOverlapping returns the box of tile ids whose voxels intersect the voxel box b.
func TilesOverlapping(b Box, size int) Box {
	if !b.Valid() {
		return InvalidBox()
	}
	return Box{Min: TileOf(b.Min, size), Max: TileOf(b.Max, size)}
}

// TileBox returns the voxel box covered by tile id.
func TileBox(id TileID, size int) Box {
	minV := id.Mul(size)
	return Box{Min: minV, Max: minV.Add(Vec3i{size - 1, size - 1, size - 1})}
}
