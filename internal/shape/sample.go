package shape

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"isoterrain/internal/voxel"
)

// fillSamples evaluates a signed distance (inside positive, in voxels) at every position of region.
func fillSamples(w *writer, region voxel.Box, distance func(p mgl32.Vec3) float32) {
	region.Each(func(p voxel.Vec3i) bool {
		d := distance(vec(p))
		if d <= -1 {
			return true
		}
		w.write(p, voxel.Quantize(float64(d)))
		return true
	})
}

// fractal is 3D hashed value noise summed over octaves, normalized to [-1, 1].
type fractal struct {
	frequency   float64
	octaves     int
	persistence float64
	lacunarity  float64
	seed        int64
}

func newFractal(s Noise) fractal {
	f := fractal{
		frequency:   float64(s.Frequency),
		octaves:     s.Octaves,
		persistence: float64(s.Persistence),
		lacunarity:  float64(s.Lacunarity),
		seed:        s.Seed,
	}
	if f.frequency <= 0 {
		f.frequency = 0.1
	}
	if f.octaves <= 0 {
		f.octaves = 1
	}
	if f.persistence <= 0 {
		f.persistence = 0.5
	}
	if f.lacunarity <= 0 {
		f.lacunarity = 2
	}
	return f
}

func (f fractal) at(p mgl32.Vec3) float32 {
	frequency := f.frequency
	amplitude := 1.0
	sum, total := 0.0, 0.0
	for i := 0; i < f.octaves; i++ {
		sum += amplitude * valueNoise(float64(p[0])*frequency, float64(p[1])*frequency, float64(p[2])*frequency, f.seed+int64(i))
		total += amplitude
		amplitude *= f.persistence
		frequency *= f.lacunarity
	}
	return float32(sum / total)
}

func valueNoise(x, y, z float64, seed int64) float64 {
	x0, y0, z0 := int(math.Floor(x)), int(math.Floor(y)), int(math.Floor(z))
	sx, sy, sz := smooth(x-float64(x0)), smooth(y-float64(y0)), smooth(z-float64(z0))

	corner := func(dx, dy, dz int) float64 {
		return random3D(x0+dx, y0+dy, z0+dz, seed)
	}
	x00 := lerp(corner(0, 0, 0), corner(1, 0, 0), sx)
	x10 := lerp(corner(0, 1, 0), corner(1, 1, 0), sx)
	x01 := lerp(corner(0, 0, 1), corner(1, 0, 1), sx)
	x11 := lerp(corner(0, 1, 1), corner(1, 1, 1), sx)
	return lerp(lerp(x00, x10, sy), lerp(x01, x11, sy), sz)
}

func smooth(t float64) float64 {
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

func random3D(x, y, z int, seed int64) float64 {
	h := hash3(x, y, z) ^ uint32(seed*2654435761)
	h = (h ^ (h >> 15)) * 2246822519
	return float64((h^(h>>13))&0xFFFF)/0x8000 - 1.0
}

func hash3(x, y, z int) uint32 {
	h := uint32(x*374761393 + y*668265263 + z*2147483647)
	h = (h ^ (h >> 13)) * 1274126177
	return h ^ (h >> 16)
}
