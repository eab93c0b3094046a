package voxel

// Face names one of the six sides of a tile. Faces come in -/+ pairs per axis: 2*axis is the
// negative side, 2*axis+1 the positive side.
type Face int

const (
	FaceNegX Face = iota
	FacePosX
	FaceNegY
	FacePosY
	FaceNegZ
	FacePosZ
)

// Faces lists all six faces in index order.
var Faces = [6]Face{FaceNegX, FacePosX, FaceNegY, FacePosY, FaceNegZ, FacePosZ}

func (f Face) Axis() int { return int(f) / 2 }

func (f Face) Positive() bool { return f%2 == 1 }

// Opposite returns the face on the other side of the same axis.
func (f Face) Opposite() Face { return f ^ 1 }

// Normal is the unit step out of the tile through f.
func (f Face) Normal() Vec3i {
	if f.Positive() {
		return Vec3i{}.WithAxis(f.Axis(), 1)
	}
	return Vec3i{}.WithAxis(f.Axis(), -1)
}

// InPlane returns the two axes spanning the face, in cyclic order after the face axis.
func (f Face) InPlane() (u, v int) {
	a := f.Axis()
	return (a + 1) % 3, (a + 2) % 3
}

func (f Face) String() string {
	sign := "-"
	if f.Positive() {
		sign = "+"
	}
	return sign + string("xyz"[f.Axis()])
}
