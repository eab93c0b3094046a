package accessor

import "isoterrain/internal/voxel"

// Source resolves container tiles. Concurrent calls must be safe while the source is read-locked.
type Source interface {
	Tile(id voxel.TileID) voxel.TileState
	Size() int
}

// sampler reads absolute voxels from a source, remembering the last tile it resolved.
type sampler struct {
	src    Source
	size   int
	lastID voxel.TileID
	last   voxel.TileState
	valid  bool
}

func (s *sampler) at(p voxel.Vec3i) voxel.Sample {
	id := voxel.TileOf(p, s.size)
	if !s.valid || id != s.lastID {
		s.lastID = id
		s.last = s.src.Tile(id)
		s.valid = true
	}
	return s.last.At(voxel.LocalOf(p, s.size))
}

// Resample builds the accessor tile id at lod from src. Face planes are sampled when seams is set
// and lod > 0.
func Resample(src Source, id voxel.TileID, lod int, seams bool) *Tile {
	size := src.Size()
	t := newTile(id, lod, size, seams)
	smp := &sampler{src: src, size: size}
	origin := t.Origin()
	s := t.Stride

	i := 0
	for z := -1; z <= size+1; z++ {
		for y := -1; y <= size+1; y++ {
			for x := -1; x <= size+1; x++ {
				v := smp.at(origin.Add(voxel.Vec3i{X: x * s, Y: y * s, Z: z * s}))
				t.samples[i] = v
				t.count(v)
				i++
			}
		}
	}

	if t.HasFaces() {
		half := s / 2
		fd := t.FaceDim()
		for _, f := range voxel.Faces {
			u, w := f.InPlane()
			plane := 0
			if f.Positive() {
				plane = size * s
			}
			base := origin.WithAxis(f.Axis(), origin.Axis(f.Axis())+plane)
			for j := 0; j < fd; j++ {
				for i := 0; i < fd; i++ {
					p := base.WithAxis(u, base.Axis(u)+i*half).WithAxis(w, base.Axis(w)+j*half)
					v := smp.at(p)
					t.faces[f][j*fd+i] = v
					t.count(v)
				}
			}
		}
	}
	return t
}

// Affected returns the box of accessor tile ids at lod whose samples read any voxel of the absolute
// box edited. An accessor tile t reads voxels [(t*L-1)*s, (t*L+L+1)*s] on every axis.
func Affected(edited voxel.Box, size, lod int) voxel.Box {
	if !edited.Valid() {
		return voxel.InvalidBox()
	}
	s := 1 << lod
	span := size * s
	lo := func(v int) int { return -voxel.FloorDiv((size+1)*s-v, span) }
	hi := func(v int) int { return voxel.FloorDiv(v+s, span) }
	return voxel.Box{
		Min: voxel.Vec3i{X: lo(edited.Min.X), Y: lo(edited.Min.Y), Z: lo(edited.Min.Z)},
		Max: voxel.Vec3i{X: hi(edited.Max.X), Y: hi(edited.Max.Y), Z: hi(edited.Max.Z)},
	}
}
