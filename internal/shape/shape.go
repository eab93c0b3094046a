// Package shape holds the volumetric edit generators. The set of shapes is closed: Bounds and Fill
// switch over it exhaustively, and adding a shape means adding a case to both.
package shape

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"isoterrain/internal/voxel"
)

// Op selects how a shape combines with the samples already in a tile.
type Op uint8

const (
	// Add unions the shape into the field: max(old, v).
	Add Op = iota
	// Remove subtracts the shape from the field: min(old, -v).
	Remove
)

func (o Op) String() string {
	switch o {
	case Add:
		return "add"
	case Remove:
		return "remove"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Shape is one of Sphere, AABB, Noise, Box or Mesh.
type Shape interface {
	isShape()
}

// Sphere is centered on the transform's origin. Its radius scales with the transform's mean axis
// scale.
type Sphere struct {
	Radius float32
}

// AABB is an axis-aligned box. Only the translation and scale of the transform apply to it.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// Noise is a sphere whose surface is displaced by fractal value noise.
type Noise struct {
	Radius      float32
	Amplitude   float32
	Frequency   float32
	Octaves     int
	Persistence float32
	Lacunarity  float32
	Seed        int64
}

// Box is a cube of the given half extents centered on the origin, under an arbitrary transform.
type Box struct {
	HalfExtents mgl32.Vec3
}

// Triangle is wound counter-clockwise when seen from outside.
type Triangle [3]mgl32.Vec3

// Mesh is a closed triangle soup.
type Mesh struct {
	Triangles []Triangle
}

func (Sphere) isShape() {}
func (AABB) isShape()   {}
func (Noise) isShape()  {}
func (Box) isShape()    {}
func (Mesh) isShape()   {}

// Request is one queued edit.
type Request struct {
	Shape     Shape
	Transform mgl32.Mat4
	Op        Op
}

// NewRequest builds an edit of s placed by transform.
func NewRequest(s Shape, transform mgl32.Mat4, op Op) Request {
	return Request{Shape: s, Transform: transform, Op: op}
}

// At is shorthand for an Add edit translated to (x, y, z).
func At(s Shape, x, y, z float32) Request {
	return NewRequest(s, mgl32.Translate3D(x, y, z), Add)
}

func (r Request) String() string {
	return fmt.Sprintf("%s %T at %v", r.Op, r.Shape, r.Transform.Col(3).Vec3())
}

// Bounds returns the absolute voxel box that contains every sample the request may write. An empty
// or degenerate shape yields an invalid box.
func Bounds(req Request) voxel.Box {
	lo, hi, ok := worldBounds(req)
	if !ok {
		return voxel.InvalidBox()
	}
	return voxel.Box{
		Min: voxel.Vec3i{X: floorInt(lo[0] - 1), Y: floorInt(lo[1] - 1), Z: floorInt(lo[2] - 1)},
		Max: voxel.Vec3i{X: ceilInt(hi[0] + 1), Y: ceilInt(hi[1] + 1), Z: ceilInt(hi[2] + 1)},
	}
}

func worldBounds(req Request) (lo, hi mgl32.Vec3, ok bool) {
	switch s := req.Shape.(type) {
	case Sphere:
		c, r := sphereFrame(req.Transform, s.Radius)
		if r <= 0 {
			return lo, hi, false
		}
		ext := mgl32.Vec3{r, r, r}
		return c.Sub(ext), c.Add(ext), true
	case AABB:
		lo, hi = aabbFrame(req.Transform, s)
		return lo, hi, hi[0] > lo[0] && hi[1] > lo[1] && hi[2] > lo[2]
	case Noise:
		c, r := sphereFrame(req.Transform, s.Radius)
		r += float32(math.Abs(float64(s.Amplitude)))
		if r <= 0 {
			return lo, hi, false
		}
		ext := mgl32.Vec3{r, r, r}
		return c.Sub(ext), c.Add(ext), true
	case Box:
		return triangleBounds(worldTriangles(req.Transform, boxTriangles(s.HalfExtents)))
	case Mesh:
		return triangleBounds(worldTriangles(req.Transform, s.Triangles))
	default:
		panic(fmt.Sprintf("shape: unknown shape %T", req.Shape))
	}
}

// Fill applies req to the tile id backed by store. The store must be inside an edit session. It
// reports whether any sample changed.
func Fill(store *voxel.TileStore, id voxel.TileID, req Request) bool {
	region := voxel.TileBox(id, store.Size()).Intersect(Bounds(req))
	if !region.Valid() {
		return false
	}
	origin := id.Mul(store.Size())
	w := writer{store: store, origin: origin, op: req.Op}
	switch s := req.Shape.(type) {
	case Sphere:
		c, r := sphereFrame(req.Transform, s.Radius)
		fillSamples(&w, region, func(p mgl32.Vec3) float32 {
			return r - p.Sub(c).Len()
		})
	case AABB:
		lo, hi := aabbFrame(req.Transform, s)
		fillSamples(&w, region, func(p mgl32.Vec3) float32 {
			return boxDistance(p, lo, hi)
		})
	case Noise:
		c, r := sphereFrame(req.Transform, s.Radius)
		n := newFractal(s)
		fillSamples(&w, region, func(p mgl32.Vec3) float32 {
			return r + s.Amplitude*n.at(p) - p.Sub(c).Len()
		})
	case Box:
		fillLines(&w, region, worldTriangles(req.Transform, boxTriangles(s.HalfExtents)))
	case Mesh:
		fillLines(&w, region, worldTriangles(req.Transform, s.Triangles))
	default:
		panic(fmt.Sprintf("shape: unknown shape %T", req.Shape))
	}
	return w.changed
}

// writer combines shape samples into a tile according to the edit op.
type writer struct {
	store   *voxel.TileStore
	origin  voxel.Vec3i
	op      Op
	changed bool
}

func (w *writer) write(abs voxel.Vec3i, v voxel.Sample) {
	local := abs.Sub(w.origin)
	old := w.store.At(local)
	next := old
	switch w.op {
	case Add:
		next = max(old, v)
	case Remove:
		next = min(old, -v)
	}
	if next != old && w.store.Set(local, next) {
		w.changed = true
	}
}

func sphereFrame(m mgl32.Mat4, radius float32) (mgl32.Vec3, float32) {
	scale := (m.Col(0).Vec3().Len() + m.Col(1).Vec3().Len() + m.Col(2).Vec3().Len()) / 3
	return m.Col(3).Vec3(), radius * scale
}

func aabbFrame(m mgl32.Mat4, s AABB) (lo, hi mgl32.Vec3) {
	a := mgl32.TransformCoordinate(s.Min, m)
	b := mgl32.TransformCoordinate(s.Max, m)
	for i := 0; i < 3; i++ {
		lo[i] = min(a[i], b[i])
		hi[i] = max(a[i], b[i])
	}
	return lo, hi
}

func boxDistance(p, lo, hi mgl32.Vec3) float32 {
	inside := float32(math.MaxFloat32)
	var outside float32
	for i := 0; i < 3; i++ {
		inside = min(inside, p[i]-lo[i], hi[i]-p[i])
		var d float32
		if p[i] < lo[i] {
			d = lo[i] - p[i]
		} else if p[i] > hi[i] {
			d = p[i] - hi[i]
		}
		outside += d * d
	}
	if outside > 0 {
		return -float32(math.Sqrt(float64(outside)))
	}
	return inside
}

func floorInt(v float32) int { return int(math.Floor(float64(v))) }
func ceilInt(v float32) int  { return int(math.Ceil(float64(v))) }

func vec(p voxel.Vec3i) mgl32.Vec3 {
	return mgl32.Vec3{float32(p.X), float32(p.Y), float32(p.Z)}
}
