// Package storage persists encoded tiles of a world. Providers open one Store per world name; the
// store keeps opaque tile blobs keyed by tile id plus one metadata blob.
package storage

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"isoterrain/internal/voxel"
)

// Store holds the tile blobs of one world. Implementations are safe for concurrent use.
type Store interface {
	LoadTile(id voxel.TileID) ([]byte, bool, error)
	SaveTile(id voxel.TileID, blob []byte) error
	DeleteTile(id voxel.TileID) error
	// ForEachTile visits tiles in ascending key order until fn returns false.
	ForEachTile(fn func(id voxel.TileID, blob []byte) bool) error
	LoadMeta() ([]byte, bool, error)
	SaveMeta(blob []byte) error
	Close() error
}

// Provider opens stores by world name.
type Provider interface {
	Open(world string) (Store, error)
}

const keySize = 12

// encodeKey packs a tile id into a big-endian key whose byte order matches z, y, x ordering of ids
// with the sign bit flipped.
func encodeKey(id voxel.TileID) []byte {
	key := make([]byte, keySize)
	binary.BigEndian.PutUint32(key[0:4], uint32(int32(id.Z))^0x80000000)
	binary.BigEndian.PutUint32(key[4:8], uint32(int32(id.Y))^0x80000000)
	binary.BigEndian.PutUint32(key[8:12], uint32(int32(id.X))^0x80000000)
	return key
}

func decodeKey(key []byte) (voxel.TileID, error) {
	if len(key) != keySize {
		return voxel.TileID{}, errors.Errorf("tile key has %d bytes, want %d", len(key), keySize)
	}
	return voxel.TileID{
		Z: int(int32(binary.BigEndian.Uint32(key[0:4]) ^ 0x80000000)),
		Y: int(int32(binary.BigEndian.Uint32(key[4:8]) ^ 0x80000000)),
		X: int(int32(binary.BigEndian.Uint32(key[8:12]) ^ 0x80000000)),
	}, nil
}

// New returns the provider named kind ("memory", "disk" or "leveldb") rooted at path.
func New(kind, path string) (Provider, error) {
	switch kind {
	case "", "memory":
		return NewMemoryProvider(), nil
	case "disk":
		return NewDiskProvider(path), nil
	case "leveldb":
		return NewLevelDBProvider(path), nil
	default:
		return nil, errors.Errorf("unknown storage provider %q", kind)
	}
}

func lessID(a, b voxel.TileID) bool {
	if a.Z != b.Z {
		return a.Z < b.Z
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.X < b.X
}
