package shape

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"isoterrain/internal/voxel"
)

const (
	hitEpsilon       = 1e-4
	degenerateArea   = 1e-10
	parallelEpsilon  = 1e-8
	barycentricSlack = 1e-6
)

// boxFaces lists the corners of each face of the unit cube, counter-clockwise from outside.
var boxFaces = [6][4]mgl32.Vec3{
	{{-1, -1, -1}, {-1, -1, 1}, {-1, 1, 1}, {-1, 1, -1}},
	{{1, -1, -1}, {1, 1, -1}, {1, 1, 1}, {1, -1, 1}},
	{{-1, -1, -1}, {1, -1, -1}, {1, -1, 1}, {-1, -1, 1}},
	{{-1, 1, -1}, {-1, 1, 1}, {1, 1, 1}, {1, 1, -1}},
	{{-1, -1, -1}, {-1, 1, -1}, {1, 1, -1}, {1, -1, -1}},
	{{-1, -1, 1}, {1, -1, 1}, {1, 1, 1}, {-1, 1, 1}},
}

func boxTriangles(half mgl32.Vec3) []Triangle {
	if half[0] <= 0 || half[1] <= 0 || half[2] <= 0 {
		return nil
	}
	tris := make([]Triangle, 0, 12)
	for _, face := range boxFaces {
		var q [4]mgl32.Vec3
		for i, c := range face {
			q[i] = mgl32.Vec3{c[0] * half[0], c[1] * half[1], c[2] * half[2]}
		}
		tris = append(tris, Triangle{q[0], q[1], q[2]}, Triangle{q[0], q[2], q[3]})
	}
	return tris
}

// worldTriangles transforms tris and drops the degenerate ones.
func worldTriangles(m mgl32.Mat4, tris []Triangle) []Triangle {
	out := make([]Triangle, 0, len(tris))
	for _, t := range tris {
		w := Triangle{
			mgl32.TransformCoordinate(t[0], m),
			mgl32.TransformCoordinate(t[1], m),
			mgl32.TransformCoordinate(t[2], m),
		}
		if w[1].Sub(w[0]).Cross(w[2].Sub(w[0])).LenSqr() <= degenerateArea {
			continue
		}
		out = append(out, w)
	}
	return out
}

func triangleBounds(tris []Triangle) (lo, hi mgl32.Vec3, ok bool) {
	if len(tris) == 0 {
		return lo, hi, false
	}
	lo, hi = tris[0][0], tris[0][0]
	for _, t := range tris {
		for _, p := range t {
			for i := 0; i < 3; i++ {
				lo[i] = min(lo[i], p[i])
				hi[i] = max(hi[i], p[i])
			}
		}
	}
	return lo, hi, true
}

type hit struct {
	at       float32
	entering bool
}

// lineHits intersects the line through origin along axis with every triangle, returning the hits
// sorted along the axis with coincident duplicates removed.
func lineHits(tris []Triangle, origin mgl32.Vec3, axis int, hits []hit) []hit {
	var dir mgl32.Vec3
	dir[axis] = 1
	hits = hits[:0]
	for _, t := range tris {
		e1 := t[1].Sub(t[0])
		e2 := t[2].Sub(t[0])
		pv := dir.Cross(e2)
		det := e1.Dot(pv)
		if math.Abs(float64(det)) < parallelEpsilon {
			continue
		}
		inv := 1 / det
		tv := origin.Sub(t[0])
		u := tv.Dot(pv) * inv
		if u < -barycentricSlack || u > 1+barycentricSlack {
			continue
		}
		qv := tv.Cross(e1)
		v := dir.Dot(qv) * inv
		if v < -barycentricSlack || u+v > 1+barycentricSlack {
			continue
		}
		dist := e2.Dot(qv) * inv
		normal := e1.Cross(e2)
		hits = append(hits, hit{at: origin[axis] + dist, entering: normal[axis] < 0})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].at != hits[j].at {
			return hits[i].at < hits[j].at
		}
		return hits[i].entering && !hits[j].entering
	})
	out := hits[:0]
	for _, h := range hits {
		if n := len(out); n > 0 && out[n-1].entering == h.entering && h.at-out[n-1].at < hitEpsilon {
			continue
		}
		out = append(out, h)
	}
	return out
}

type run struct{ from, to float32 }

// insideRuns turns sorted hits into inside intervals by counting surface depth.
func insideRuns(hits []hit, runs []run) []run {
	runs = runs[:0]
	depth := 0
	var start float32
	for _, h := range hits {
		if h.entering {
			if depth == 0 {
				start = h.at
			}
			depth++
			continue
		}
		if depth == 0 {
			continue
		}
		depth--
		if depth == 0 {
			runs = append(runs, run{from: start, to: h.at})
		}
	}
	return runs
}

// lineDistance is the signed distance of coordinate q to the nearest crossing on its line, inside
// positive. ok is false when the line has no crossings.
func lineDistance(runs []run, q float32) (float32, bool) {
	if len(runs) == 0 {
		return 0, false
	}
	best := float32(math.MaxFloat32)
	for _, r := range runs {
		if q >= r.from && q <= r.to {
			return min(q-r.from, r.to-q), true
		}
		best = min(best, float32(math.Abs(float64(q-r.from))), float32(math.Abs(float64(q-r.to))))
	}
	return -best, true
}

// fillLines casts the grid lines of region along each axis against tris and keeps, per sample, the
// signed ramp of smallest magnitude.
func fillLines(w *writer, region voxel.Box, tris []Triangle) {
	if len(tris) == 0 || !region.Valid() {
		return
	}
	size := region.Size()
	dist := make([]float32, size.X*size.Y*size.Z)
	known := make([]bool, len(dist))
	index := func(p voxel.Vec3i) int {
		d := p.Sub(region.Min)
		return (d.Z*size.Y+d.Y)*size.X + d.X
	}

	var hits []hit
	var runs []run
	for axis := 0; axis < 3; axis++ {
		b, c := (axis+1)%3, (axis+2)%3
		for pb := region.Min.Axis(b); pb <= region.Max.Axis(b); pb++ {
			for pc := region.Min.Axis(c); pc <= region.Max.Axis(c); pc++ {
				var origin mgl32.Vec3
				origin[b] = float32(pb)
				origin[c] = float32(pc)
				hits = lineHits(tris, origin, axis, hits)
				runs = insideRuns(hits, runs)
				if len(runs) == 0 {
					continue
				}
				p := voxel.Vec3i{}.WithAxis(b, pb).WithAxis(c, pc)
				for q := region.Min.Axis(axis); q <= region.Max.Axis(axis); q++ {
					d, ok := lineDistance(runs, float32(q))
					if !ok {
						continue
					}
					i := index(p.WithAxis(axis, q))
					if !known[i] || abs32(d) < abs32(dist[i]) {
						dist[i] = d
						known[i] = true
					}
				}
			}
		}
	}

	region.Each(func(p voxel.Vec3i) bool {
		i := index(p)
		if known[i] && dist[i] > -1 {
			w.write(p, voxel.Quantize(float64(dist[i])))
		}
		return true
	})
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
