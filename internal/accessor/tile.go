package accessor

import "isoterrain/internal/voxel"

// Tile is the halo-padded sample cache of one output tile at one level of detail. Logical
// positions -1..L+1 on each axis map to absolute voxels (id*L + p) * stride. At LOD > 0 it also
// carries the six face planes at half stride, used to stitch seams against the finer level.
type Tile struct {
	ID     voxel.TileID
	Lod    int
	Size   int
	Stride int

	samples []voxel.Sample
	faces   [6][]voxel.Sample

	countMinimum  int
	countMaximum  int
	countPositive int
}

func newTile(id voxel.TileID, lod, size int, seams bool) *Tile {
	dim := size + 3
	t := &Tile{
		ID:      id,
		Lod:     lod,
		Size:    size,
		Stride:  1 << lod,
		samples: make([]voxel.Sample, dim*dim*dim),
	}
	if seams && lod > 0 {
		fd := t.FaceDim()
		for f := range t.faces {
			t.faces[f] = make([]voxel.Sample, fd*fd)
		}
	}
	return t
}

func (t *Tile) index(x, y, z int) int {
	dim := t.Size + 3
	return ((z+1)*dim+(y+1))*dim + (x + 1)
}

// At returns the sample at logical position (x, y, z), each in -1..L+1.
func (t *Tile) At(x, y, z int) voxel.Sample {
	return t.samples[t.index(x, y, z)]
}

func (t *Tile) AtP(p voxel.Vec3i) voxel.Sample {
	return t.At(p.X, p.Y, p.Z)
}

// HasFaces reports whether the face planes were sampled.
func (t *Tile) HasFaces() bool { return t.faces[0] != nil }

// FaceDim is the edge length of a face plane: half-stride positions 0..L+1/2 of the face.
func (t *Tile) FaceDim() int { return 2 * (t.Size + 1) }

// Face returns the sample of face f at half-stride plane position (i, j), where i runs along the
// face's first in-plane axis and j along the second.
func (t *Tile) Face(f voxel.Face, i, j int) voxel.Sample {
	return t.faces[f][j*t.FaceDim()+i]
}

// Origin is the absolute voxel position of logical (0, 0, 0).
func (t *Tile) Origin() voxel.Vec3i {
	return t.ID.Mul(t.Size * t.Stride)
}

func (t *Tile) IsEmpty() bool { return t.countMinimum == t.total() }

func (t *Tile) IsFull() bool { return t.countMaximum == t.total() }

// Homogeneous tiles produce no surface.
func (t *Tile) Homogeneous() bool { return t.IsEmpty() || t.IsFull() }

func (t *Tile) total() int {
	n := len(t.samples)
	for _, plane := range t.faces {
		n += len(plane)
	}
	return n
}

func (t *Tile) count(s voxel.Sample) {
	if s == voxel.SampleMin {
		t.countMinimum++
	}
	if s == voxel.SampleMax {
		t.countMaximum++
	}
	if s.Inside() {
		t.countPositive++
	}
}
