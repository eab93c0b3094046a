// Package surface turns accessor tiles into triangle meshes. Regular cells use marching cubes;
// tiles above the base level also get per-face transition meshes that close the gap to a finer
// neighbour.
package surface

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"isoterrain/internal/accessor"
	"isoterrain/internal/voxel"
)

const degenerateArea = 1e-12

// Bounds is an axis-aligned box in world voxel units.
type Bounds struct {
	Min, Max mgl32.Vec3
}

// Tile is the surface of one accessor tile. Positions are relative to Origin in base voxel units.
// Indices holds the regular triangles; Seams[f] the transition triangles toward face f.
type Tile struct {
	ID        voxel.TileID
	Lod       int
	Origin    mgl32.Vec3
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Indices   []uint32
	Seams     [6][]uint32
	Bounds    Bounds
}

// Triangles counts the regular triangles.
func (t *Tile) Triangles() int { return len(t.Indices) / 3 }

// World returns vertex i in absolute voxel units.
func (t *Tile) World(i uint32) mgl32.Vec3 { return t.Origin.Add(t.Positions[i]) }

type extractor struct {
	src   *accessor.Tile
	size  int
	dim   int
	scale float32

	// reuse maps (sample index * 3 + axis) of an edge's lower corner to its vertex, or -1.
	reuse     []int32
	positions []mgl32.Vec3
	normals   []mgl32.Vec3
	indices   []uint32
	seams     [6][][3]uint32
}

// Extract computes the surface of src. It returns nil when the tile has no triangles.
func Extract(src *accessor.Tile) *Tile {
	dim := src.Size + 3
	e := &extractor{
		src:   src,
		size:  src.Size,
		dim:   dim,
		scale: float32(src.Stride),
		reuse: make([]int32, dim*dim*dim*3),
	}
	for i := range e.reuse {
		e.reuse[i] = -1
	}
	e.regular()
	if src.HasFaces() {
		for _, f := range voxel.Faces {
			e.transition(f)
		}
	}
	return e.finish()
}

func (e *extractor) sampleIndex(p voxel.Vec3i) int {
	return ((p.Z+1)*e.dim+(p.Y+1))*e.dim + (p.X + 1)
}

// vertex returns the crossing on the edge from logical p one step along axis.
func (e *extractor) vertex(p voxel.Vec3i, axis int) uint32 {
	key := e.sampleIndex(p)*3 + axis
	if id := e.reuse[key]; id >= 0 {
		return uint32(id)
	}
	s0 := float32(e.src.AtP(p))
	s1 := float32(e.src.AtP(p.WithAxis(axis, p.Axis(axis)+1)))
	mu := float32(0.5)
	if s0 != s1 {
		mu = s0 / (s0 - s1)
	}
	pos := vec(p)
	pos[axis] += mu
	id := e.add(pos.Mul(e.scale), mgl32.Vec3{})
	e.reuse[key] = int32(id)
	return id
}

func (e *extractor) add(pos, normal mgl32.Vec3) uint32 {
	e.positions = append(e.positions, pos)
	e.normals = append(e.normals, normal)
	return uint32(len(e.positions) - 1)
}

func (e *extractor) cross(ids [3]uint32) mgl32.Vec3 {
	p0 := e.positions[ids[0]]
	return e.positions[ids[1]].Sub(p0).Cross(e.positions[ids[2]].Sub(p0))
}

// regular runs marching cubes over every cell with a sample on both sides. Cells in the halo only
// contribute to normals.
func (e *extractor) regular() {
	for z := -1; z <= e.size; z++ {
		for y := -1; y <= e.size; y++ {
			for x := -1; x <= e.size; x++ {
				c := voxel.Vec3i{X: x, Y: y, Z: z}
				index := 0
				for k, corner := range cubeCorners {
					if e.src.AtP(c.Add(corner)).Inside() {
						index |= 1 << k
					}
				}
				tris := regularCases[index]
				if len(tris) == 0 {
					continue
				}
				emit := x >= 0 && y >= 0 && z >= 0 && x < e.size && y < e.size && z < e.size
				for _, tri := range tris {
					var ids [3]uint32
					for m, edgeID := range tri {
						ed := cubeEdges[edgeID]
						ids[m] = e.vertex(c.Add(cubeCorners[ed.a]), ed.axis)
					}
					n := e.cross(ids)
					if n.LenSqr() < degenerateArea {
						continue
					}
					for _, id := range ids {
						e.normals[id] = e.normals[id].Add(n)
					}
					if emit {
						e.indices = append(e.indices, ids[:]...)
					}
				}
			}
		}
	}
}

// transition stitches face f to a neighbour at half the stride. Back vertices are the regular
// vertices on the face's coarse edges; front vertices lie on the fine grid of the face plane.
func (e *extractor) transition(f voxel.Face) {
	axis := f.Axis()
	u, v := f.InPlane()
	plane := 0
	if f.Positive() {
		plane = e.size
	}
	half := e.scale / 2
	front := make(map[[3]int]uint32)

	coarse := func(i, j int) voxel.Vec3i {
		return voxel.Vec3i{}.WithAxis(axis, plane).WithAxis(u, i).WithAxis(v, j)
	}

	for cv := 0; cv < e.size; cv++ {
		for cu := 0; cu < e.size; cu++ {
			index := 0
			for j := 0; j < 3; j++ {
				for i := 0; i < 3; i++ {
					if e.src.Face(f, 2*cu+i, 2*cv+j).Inside() {
						index |= 1 << (i + 3*j)
					}
				}
			}
			tris := transitionCases[index]
			if len(tris) == 0 {
				continue
			}

			var ids [16]int64
			for i := range ids {
				ids[i] = -1
			}
			var borrowed mgl32.Vec3
			for _, tri := range tris {
				for _, edgeID := range tri {
					te := transitionEdges[edgeID]
					if !te.back || ids[edgeID] >= 0 {
						continue
					}
					dir := u
					if te.dir == 1 {
						dir = v
					}
					id := e.vertex(coarse(cu+te.i, cv+te.j), dir)
					ids[edgeID] = int64(id)
					if n := e.normals[id]; n.LenSqr() > 0 {
						borrowed = borrowed.Add(n.Normalize())
					}
				}
			}
			if borrowed.LenSqr() == 0 {
				borrowed = e.gradient(coarse(cu, cv))
			}

			for _, tri := range tris {
				var out [3]uint32
				for m, edgeID := range tri {
					if ids[edgeID] < 0 {
						te := transitionEdges[edgeID]
						hi, hj := 2*cu+te.i, 2*cv+te.j
						key := [3]int{hi, hj, te.dir}
						id, ok := front[key]
						if !ok {
							id = e.frontVertex(f, hi, hj, te.dir, half)
							front[key] = id
						}
						e.normals[id] = e.normals[id].Add(borrowed)
						ids[edgeID] = int64(id)
					}
					out[m] = uint32(ids[edgeID])
				}
				e.seams[f] = append(e.seams[f], out)
			}
		}
	}
}

// frontVertex creates the crossing on the fine face edge starting at half-grid (hi, hj).
func (e *extractor) frontVertex(f voxel.Face, hi, hj, dir int, half float32) uint32 {
	ni, nj := hi, hj
	if dir == 0 {
		ni++
	} else {
		nj++
	}
	s0 := float32(e.src.Face(f, hi, hj))
	s1 := float32(e.src.Face(f, ni, nj))
	mu := float32(0.5)
	if s0 != s1 {
		mu = s0 / (s0 - s1)
	}
	fu, fv := float32(hi), float32(hj)
	if dir == 0 {
		fu += mu
	} else {
		fv += mu
	}
	axis := f.Axis()
	u, v := f.InPlane()
	var pos mgl32.Vec3
	if f.Positive() {
		pos[axis] = float32(e.size) * e.scale
	}
	pos[u] = fu * half
	pos[v] = fv * half
	return e.add(pos, mgl32.Vec3{})
}

// gradient estimates the outward normal at logical p from central differences.
func (e *extractor) gradient(p voxel.Vec3i) mgl32.Vec3 {
	var g mgl32.Vec3
	for axis := 0; axis < 3; axis++ {
		hi := e.src.AtP(p.WithAxis(axis, p.Axis(axis)+1))
		lo := e.src.AtP(p.WithAxis(axis, p.Axis(axis)-1))
		g[axis] = float32(lo) - float32(hi)
	}
	if g.LenSqr() == 0 {
		return g
	}
	return g.Normalize()
}

func (e *extractor) finish() *Tile {
	var seams [6][]uint32
	for f, tris := range e.seams {
		for _, ids := range tris {
			n := e.cross(ids)
			if n.LenSqr() < degenerateArea {
				continue
			}
			facing := e.normals[ids[0]].Add(e.normals[ids[1]]).Add(e.normals[ids[2]])
			if n.Dot(facing) < 0 {
				ids[1], ids[2] = ids[2], ids[1]
			}
			seams[f] = append(seams[f], ids[:]...)
		}
	}

	empty := len(e.indices) == 0
	for _, s := range seams {
		empty = empty && len(s) == 0
	}
	if empty {
		return nil
	}

	remap := make([]int32, len(e.positions))
	for i := range remap {
		remap[i] = -1
	}
	t := &Tile{
		ID:     e.src.ID,
		Lod:    e.src.Lod,
		Origin: vec(e.src.Origin()),
		Bounds: Bounds{
			Min: mgl32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
			Max: mgl32.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
		},
	}
	compact := func(ids []uint32) []uint32 {
		out := make([]uint32, len(ids))
		for k, id := range ids {
			if remap[id] < 0 {
				remap[id] = int32(len(t.Positions))
				pos := e.positions[id]
				n := e.normals[id]
				if n.LenSqr() > 0 {
					n = n.Normalize()
				}
				t.Positions = append(t.Positions, pos)
				t.Normals = append(t.Normals, n)
				w := t.Origin.Add(pos)
				for a := 0; a < 3; a++ {
					t.Bounds.Min[a] = min(t.Bounds.Min[a], w[a])
					t.Bounds.Max[a] = max(t.Bounds.Max[a], w[a])
				}
			}
			out[k] = uint32(remap[id])
		}
		return out
	}
	t.Indices = compact(e.indices)
	for f, s := range seams {
		t.Seams[f] = compact(s)
	}
	return t
}

func vec(p voxel.Vec3i) mgl32.Vec3 {
	return mgl32.Vec3{float32(p.X), float32(p.Y), float32(p.Z)}
}
