// Package config loads the tunable parameters of the pipeline from JSON or YAML files.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Duration is a JSON- and YAML-friendly wrapper around time.Duration that accepts human readable
// strings such as "150ms" while still allowing numeric nanoseconds.
type Duration time.Duration

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON encodes the duration using the canonical string representation.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON decodes a duration from either a string (e.g. "250ms") or a numeric value
// representing nanoseconds. Empty strings and null values decode to zero.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return errors.New("duration: empty value")
	}
	if string(b) == "null" {
		*d = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return errors.Wrap(err, "duration: decode string")
		}
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*d = Duration(time.Duration(n))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*d = Duration(time.Duration(f))
		return nil
	}
	return errors.Errorf("duration: invalid value %s", string(b))
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts the same forms as UnmarshalJSON.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!int" {
		var n int64
		if err := node.Decode(&n); err != nil {
			return errors.Wrap(err, "duration: decode integer")
		}
		*d = Duration(time.Duration(n))
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return errors.Wrap(err, "duration: decode string")
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "duration: parse %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// Config captures the parameters needed to run a terrain pipeline.
type Config struct {
	Tile      TileConfig      `json:"tile" yaml:"tile"`
	Container ContainerConfig `json:"container" yaml:"container"`
	Terrain   TerrainConfig   `json:"terrain" yaml:"terrain"`
	Workers   WorkerConfig    `json:"workers" yaml:"workers"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Network   NetworkConfig   `json:"network" yaml:"network"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

type TileConfig struct {
	Size int `json:"size" yaml:"size"` // samples per tile edge
}

type ContainerConfig struct {
	Min TileIndex `json:"min" yaml:"min"` // inclusive box of accepted tile ids
	Max TileIndex `json:"max" yaml:"max"`
}

type TerrainConfig struct {
	Levels    int       `json:"levels" yaml:"levels"`
	Seams     bool      `json:"seams" yaml:"seams"`
	FarRadius []float64 `json:"farRadius" yaml:"farRadius"` // per level, in base voxels

	// NearRadius lists, per level, the radius whose half bounds the finer levels and the seams
	// around the camera. Level 0 has no finer level and must be zero. Empty uses 2*far[k-1].
	NearRadius []float64 `json:"nearRadius,omitempty" yaml:"nearRadius,omitempty"`
}

type WorkerConfig struct {
	Count        int      `json:"count" yaml:"count"` // 0 uses every CPU
	DrainTimeout Duration `json:"drainTimeout" yaml:"drainTimeout"`
}

type StorageConfig struct {
	Provider string `json:"provider" yaml:"provider"` // memory, disk or leveldb
	Path     string `json:"path" yaml:"path"`
	World    string `json:"world" yaml:"world"`
}

type NetworkConfig struct {
	ListenUDP            string   `json:"listenUdp" yaml:"listenUdp"` // empty disables distribution
	InterestRadius       float64  `json:"interestRadius" yaml:"interestRadius"`
	MaxDatagramSizeBytes int      `json:"maxDatagramSizeBytes" yaml:"maxDatagramSizeBytes"`
	KeepAliveInterval    Duration `json:"keepAliveInterval" yaml:"keepAliveInterval"`
}

type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
}

type MetricsConfig struct {
	Listen string `json:"listen" yaml:"listen"` // empty disables /metrics
}

type TileIndex struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	Z int `json:"z" yaml:"z"`
}

// Load reads configuration from a JSON or YAML file, chosen by extension. An empty path returns
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Tile: TileConfig{Size: 20},
		Container: ContainerConfig{
			Min: TileIndex{X: -8, Y: -8, Z: -8},
			Max: TileIndex{X: 7, Y: 7, Z: 7},
		},
		Terrain: TerrainConfig{
			Levels:    3,
			Seams:     true,
			FarRadius: []float64{60, 140, 300},
		},
		Workers: WorkerConfig{
			Count:        0,
			DrainTimeout: Duration(10 * time.Second),
		},
		Storage: StorageConfig{
			Provider: "disk",
			Path:     "worlds",
			World:    "default",
		},
		Network: NetworkConfig{
			ListenUDP:            "",
			InterestRadius:       120,
			MaxDatagramSizeBytes: 1 << 16,
			KeepAliveInterval:    Duration(5 * time.Second),
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Listen: ""},
	}
}

func (c *Config) Validate() error {
	if c.Tile.Size <= 0 {
		return errors.New("tile.size must be positive")
	}
	if c.Container.Max.X < c.Container.Min.X || c.Container.Max.Y < c.Container.Min.Y || c.Container.Max.Z < c.Container.Min.Z {
		return errors.New("container.max must not be below container.min")
	}
	if c.Terrain.Levels <= 0 {
		return errors.New("terrain.levels must be positive")
	}
	if len(c.Terrain.FarRadius) != c.Terrain.Levels {
		return errors.Errorf("terrain.farRadius must list %d radii", c.Terrain.Levels)
	}
	for k, r := range c.Terrain.FarRadius {
		if r <= 0 {
			return errors.Errorf("terrain.farRadius[%d] must be positive", k)
		}
		if k > 0 && r <= c.Terrain.FarRadius[k-1] {
			return errors.Errorf("terrain.farRadius[%d] must exceed terrain.farRadius[%d]", k, k-1)
		}
	}
	if n := len(c.Terrain.NearRadius); n > 0 {
		if n != c.Terrain.Levels {
			return errors.Errorf("terrain.nearRadius must list %d radii", c.Terrain.Levels)
		}
		if c.Terrain.NearRadius[0] != 0 {
			return errors.New("terrain.nearRadius[0] must be zero")
		}
		for k := 1; k < n; k++ {
			if c.Terrain.NearRadius[k] <= 0 {
				return errors.Errorf("terrain.nearRadius[%d] must be positive", k)
			}
		}
	}
	if c.Workers.Count < 0 {
		return errors.New("workers.count cannot be negative")
	}
	switch c.Storage.Provider {
	case "memory", "disk", "leveldb":
	default:
		return errors.Errorf("storage.provider %q must be memory, disk or leveldb", c.Storage.Provider)
	}
	if c.Storage.World == "" {
		return errors.New("storage.world must be set")
	}
	if c.Network.InterestRadius <= 0 {
		return errors.New("network.interestRadius must be positive")
	}
	if c.Network.MaxDatagramSizeBytes <= 0 {
		return errors.New("network.maxDatagramSizeBytes must be positive")
	}
	return nil
}

// Near returns the near radius of level k: the configured one, or twice the far radius of level
// k-1 so that level k takes over exactly where level k-1 ends. Zero at level 0.
func (t TerrainConfig) Near(k int) float64 {
	if k == 0 {
		return 0
	}
	if len(t.NearRadius) > k {
		return t.NearRadius[k]
	}
	return 2 * t.FarRadius[k-1]
}
