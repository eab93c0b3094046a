package main

import (
	"os"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"isoterrain/internal/shape"
)

// Script is a YAML list of edits and cameras applied at startup.
type Script struct {
	Cameras []CameraSpec `yaml:"cameras"`
	Edits   []EditSpec   `yaml:"edits"`
}

type CameraSpec struct {
	Name string     `yaml:"name"`
	At   [3]float64 `yaml:"at"`
}

// EditSpec describes one edit. At, Rotate (degrees about x, then y, then z) and Scale place the
// shape; the remaining fields parametrize it.
type EditSpec struct {
	Op     string     `yaml:"op"`
	Shape  string     `yaml:"shape"`
	At     [3]float32 `yaml:"at"`
	Rotate [3]float32 `yaml:"rotate"`
	Scale  float32    `yaml:"scale"`

	Radius      float32    `yaml:"radius"`
	Min         [3]float32 `yaml:"min"`
	Max         [3]float32 `yaml:"max"`
	HalfExtents [3]float32 `yaml:"halfExtents"`

	Amplitude   float32 `yaml:"amplitude"`
	Frequency   float32 `yaml:"frequency"`
	Octaves     int     `yaml:"octaves"`
	Persistence float32 `yaml:"persistence"`
	Lacunarity  float32 `yaml:"lacunarity"`
	Seed        int64   `yaml:"seed"`
}

func loadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read script")
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "parse script")
	}
	return &s, nil
}

// ID derives a stable camera id from the camera's name.
func (c CameraSpec) ID() uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("isoterrain/camera/"+c.Name))
}

func (c CameraSpec) Position() r3.Vector {
	return r3.Vector{X: c.At[0], Y: c.At[1], Z: c.At[2]}
}

func vec3(v [3]float32) mgl32.Vec3 { return mgl32.Vec3{v[0], v[1], v[2]} }

func (e EditSpec) transform() mgl32.Mat4 {
	scale := e.Scale
	if scale == 0 {
		scale = 1
	}
	m := mgl32.Translate3D(e.At[0], e.At[1], e.At[2])
	m = m.Mul4(mgl32.HomogRotate3DZ(mgl32.DegToRad(e.Rotate[2])))
	m = m.Mul4(mgl32.HomogRotate3DY(mgl32.DegToRad(e.Rotate[1])))
	m = m.Mul4(mgl32.HomogRotate3DX(mgl32.DegToRad(e.Rotate[0])))
	return m.Mul4(mgl32.Scale3D(scale, scale, scale))
}

// Request converts the edit into a shape request.
func (e EditSpec) Request() (shape.Request, error) {
	var op shape.Op
	switch strings.ToLower(e.Op) {
	case "", "add":
		op = shape.Add
	case "remove":
		op = shape.Remove
	default:
		return shape.Request{}, errors.Errorf("unknown edit op %q", e.Op)
	}

	var s shape.Shape
	switch strings.ToLower(e.Shape) {
	case "sphere":
		s = shape.Sphere{Radius: e.Radius}
	case "aabb":
		s = shape.AABB{Min: vec3(e.Min), Max: vec3(e.Max)}
	case "box":
		s = shape.Box{HalfExtents: vec3(e.HalfExtents)}
	case "noise":
		s = shape.Noise{
			Radius:      e.Radius,
			Amplitude:   e.Amplitude,
			Frequency:   e.Frequency,
			Octaves:     e.Octaves,
			Persistence: e.Persistence,
			Lacunarity:  e.Lacunarity,
			Seed:        e.Seed,
		}
	default:
		return shape.Request{}, errors.Errorf("unknown shape %q", e.Shape)
	}
	return shape.NewRequest(s, e.transform(), op), nil
}

// Requests converts every edit, failing on the first invalid one.
func (s *Script) Requests() ([]shape.Request, error) {
	out := make([]shape.Request, 0, len(s.Edits))
	for i, e := range s.Edits {
		req, err := e.Request()
		if err != nil {
			return nil, errors.Wrapf(err, "edit %d", i)
		}
		out = append(out, req)
	}
	return out, nil
}
