// Package voxel holds the value types of the voxel field: samples, tile coordinates, tile stores
// and their Empty/Full/Partial classification.
package voxel

import (
	"fmt"
	"math"
)

// Sample is a signed interpolation value in [-127, 127]. Non-negative samples are inside the
// surface.
type Sample int8

const (
	SampleMin Sample = -127
	SampleMax Sample = 127
)

// Inside reports whether the sample lies inside the surface.
func (s Sample) Inside() bool {
	return s >= 0
}

// Quantize converts a signed distance in voxels (positive inside) into a sample. One voxel of
// distance spans the whole sample range so that linear interpolation between two neighbouring
// samples recovers the exact crossing point.
func Quantize(distance float64) Sample {
	v := math.Round(distance * float64(SampleMax))
	if v >= float64(SampleMax) {
		return SampleMax
	}
	if v <= float64(SampleMin) {
		return SampleMin
	}
	return Sample(v)
}

// Invariant panics when a pipeline protocol rule is broken. These are programming errors and are
// never recovered from.
func Invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("voxel invariant violated: "+format, args...))
	}
}
