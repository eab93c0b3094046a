package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

func TestValidateDefaultConfig(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration should be valid: %v", err)
	}
}

func TestValidateDetectsInvalidConfigurations(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "non positive tile size",
			mutate: func(cfg *Config) {
				cfg.Tile.Size = 0
			},
			wantErr: "tile.size must be positive",
		},
		{
			name: "inverted container box",
			mutate: func(cfg *Config) {
				cfg.Container.Max.Y = cfg.Container.Min.Y - 1
			},
			wantErr: "container.max must not be below container.min",
		},
		{
			name: "no levels",
			mutate: func(cfg *Config) {
				cfg.Terrain.Levels = 0
			},
			wantErr: "terrain.levels must be positive",
		},
		{
			name: "radius count mismatch",
			mutate: func(cfg *Config) {
				cfg.Terrain.FarRadius = cfg.Terrain.FarRadius[:2]
			},
			wantErr: "terrain.farRadius must list 3 radii",
		},
		{
			name: "shrinking radii",
			mutate: func(cfg *Config) {
				cfg.Terrain.FarRadius = []float64{60, 50, 300}
			},
			wantErr: "terrain.farRadius[1] must exceed terrain.farRadius[0]",
		},
		{
			name: "near radius count mismatch",
			mutate: func(cfg *Config) {
				cfg.Terrain.NearRadius = []float64{0, 120}
			},
			wantErr: "terrain.nearRadius must list 3 radii",
		},
		{
			name: "near radius at the base level",
			mutate: func(cfg *Config) {
				cfg.Terrain.NearRadius = []float64{10, 120, 280}
			},
			wantErr: "terrain.nearRadius[0] must be zero",
		},
		{
			name: "non-positive near radius",
			mutate: func(cfg *Config) {
				cfg.Terrain.NearRadius = []float64{0, 120, 0}
			},
			wantErr: "terrain.nearRadius[2] must be positive",
		},
		{
			name: "negative workers",
			mutate: func(cfg *Config) {
				cfg.Workers.Count = -1
			},
			wantErr: "workers.count cannot be negative",
		},
		{
			name: "unknown storage provider",
			mutate: func(cfg *Config) {
				cfg.Storage.Provider = "s3"
			},
			wantErr: `storage.provider "s3" must be memory, disk or leveldb`,
		},
		{
			name: "missing world",
			mutate: func(cfg *Config) {
				cfg.Storage.World = ""
			},
			wantErr: "storage.world must be set",
		},
		{
			name: "non positive interest radius",
			mutate: func(cfg *Config) {
				cfg.Network.InterestRadius = 0
			},
			wantErr: "network.interestRadius must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected an error, got nil")
			}
			if err.Error() != tt.wantErr {
				t.Fatalf("unexpected error: got %q want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("default configuration mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadReadsJSONAndYAML(t *testing.T) {
	cfg := Default()
	cfg.Storage.Provider = "leveldb"
	cfg.Network.ListenUDP = ":9999"
	cfg.Network.KeepAliveInterval = Duration(1500 * time.Millisecond)
	cfg.Terrain.Seams = false

	for _, format := range []struct {
		file    string
		marshal func(any) ([]byte, error)
	}{
		{file: "config.json", marshal: json.Marshal},
		{file: "config.yaml", marshal: yaml.Marshal},
	} {
		t.Run(format.file, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), format.file)
			data, err := format.marshal(cfg)
			if err != nil {
				t.Fatalf("marshal config: %v", err)
			}
			if err := os.WriteFile(path, data, 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}

			got, err := Load(path)
			if err != nil {
				t.Fatalf("load config: %v", err)
			}
			if diff := cmp.Diff(cfg, got); diff != "" {
				t.Fatalf("loaded configuration mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadInvalidConfiguration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("tile:\n  size: 0\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected load to fail")
	}
	if !strings.Contains(err.Error(), "validate config: tile.size must be positive") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDurationForms(t *testing.T) {
	var cfg struct {
		A Duration `json:"a" yaml:"a"`
		B Duration `json:"b" yaml:"b"`
		C Duration `json:"c" yaml:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":"250ms","b":1000,"c":null}`), &cfg); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if cfg.A.Duration() != 250*time.Millisecond || cfg.B.Duration() != time.Microsecond || cfg.C != 0 {
		t.Fatalf("unexpected json durations: %+v", cfg)
	}
	if err := yaml.Unmarshal([]byte("a: 2s\nb: 5\nc: \"\"\n"), &cfg); err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if cfg.A.Duration() != 2*time.Second || cfg.B.Duration() != 5 || cfg.C != 0 {
		t.Fatalf("unexpected yaml durations: %+v", cfg)
	}
	if err := json.Unmarshal([]byte(`{"a":"soon"}`), &cfg); err == nil {
		t.Fatalf("expected invalid duration to fail")
	}
}

func TestNearRadius(t *testing.T) {
	terrain := Default().Terrain
	if got := terrain.Near(0); got != 0 {
		t.Fatalf("level 0 near radius = %v, want 0", got)
	}
	if got := terrain.Near(2); got != 2*terrain.FarRadius[1] {
		t.Fatalf("level 2 near radius = %v, want %v", got, 2*terrain.FarRadius[1])
	}

	terrain.NearRadius = []float64{0, 90, 200}
	if got := terrain.Near(1); got != 90 {
		t.Fatalf("configured level 1 near radius = %v, want 90", got)
	}
	if got := terrain.Near(2); got != 200 {
		t.Fatalf("configured level 2 near radius = %v, want 200", got)
	}
}

func TestLoadReadsNearRadius(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terrain.yaml")
	body := "terrain:\n  levels: 2\n  seams: true\n  farRadius: [60, 140]\n  nearRadius: [0, 80]\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if diff := cmp.Diff([]float64{0, 80}, cfg.Terrain.NearRadius); diff != "" {
		t.Fatalf("near radii mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.Terrain.Near(1); got != 80 {
		t.Fatalf("level 1 near radius = %v, want 80", got)
	}
}
