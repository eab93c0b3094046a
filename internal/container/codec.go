package container

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"isoterrain/internal/storage"
	"isoterrain/internal/voxel"
)

// EncodeTile serializes one tile as {kind tag, [raw samples if Partial]}.
func EncodeTile(state voxel.TileState) []byte {
	if state.Kind() != voxel.Partial {
		return []byte{byte(state.Kind())}
	}
	samples := state.Store().Samples()
	out := make([]byte, 1+len(samples))
	out[0] = byte(voxel.Partial)
	for i, s := range samples {
		out[1+i] = byte(s)
	}
	return out
}

// DecodeTile parses a tile written by EncodeTile for tiles of edge length size. Homogeneous
// Partial payloads are collapsed to Empty or Full.
func DecodeTile(blob []byte, size int) (voxel.TileState, error) {
	if len(blob) == 0 {
		return voxel.TileState{}, errors.New("empty tile payload")
	}
	switch voxel.Kind(blob[0]) {
	case voxel.Empty:
		return voxel.EmptyTile(), nil
	case voxel.Full:
		return voxel.FullTile(), nil
	case voxel.Partial:
		n := size * size * size
		if len(blob) != 1+n {
			return voxel.TileState{}, errors.Errorf("partial tile has %d samples, want %d", len(blob)-1, n)
		}
		raw := make([]voxel.Sample, n)
		for i, b := range blob[1:] {
			s := voxel.Sample(int8(b))
			if s < voxel.SampleMin {
				return voxel.TileState{}, errors.Errorf("sample %d out of range at %d", s, i)
			}
			raw[i] = s
		}
		return voxel.NewTileStoreFrom(size, raw).State(), nil
	default:
		return voxel.TileState{}, errors.Errorf("unknown tile tag %d", blob[0])
	}
}

// header is the fixed prefix of a serialized container: tile size and the box of tile ids.
type header struct {
	Size             uint32
	MinX, MinY, MinZ int32
	MaxX, MaxY, MaxZ int32
}

func newHeader(size int, bounds voxel.Box) header {
	return header{
		Size: uint32(size),
		MinX: int32(bounds.Min.X), MinY: int32(bounds.Min.Y), MinZ: int32(bounds.Min.Z),
		MaxX: int32(bounds.Max.X), MaxY: int32(bounds.Max.Y), MaxZ: int32(bounds.Max.Z),
	}
}

func (h header) bounds() voxel.Box {
	return voxel.Box{
		Min: voxel.Vec3i{X: int(h.MinX), Y: int(h.MinY), Z: int(h.MinZ)},
		Max: voxel.Vec3i{X: int(h.MaxX), Y: int(h.MaxY), Z: int(h.MaxZ)},
	}
}

func encodeHeader(size int, bounds voxel.Box) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, newHeader(size, bounds))
	return buf.Bytes()
}

func decodeHeader(r io.Reader) (int, voxel.Box, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return 0, voxel.Box{}, errors.Wrap(err, "read container header")
	}
	if h.Size == 0 {
		return 0, voxel.Box{}, errors.New("container header has zero tile size")
	}
	return int(h.Size), h.bounds(), nil
}

// Marshal serializes a container snapshot: the header followed by every tile of bounds in id
// order (z, then y, then x).
func Marshal(size int, bounds voxel.Box, tile func(id voxel.TileID) voxel.TileState) []byte {
	var buf bytes.Buffer
	buf.Write(encodeHeader(size, bounds))
	bounds.Each(func(id voxel.TileID) bool {
		buf.Write(EncodeTile(tile(id)))
		return true
	})
	return buf.Bytes()
}

// Unmarshal parses a snapshot written by Marshal. Only non-empty tiles are returned.
func Unmarshal(blob []byte) (int, voxel.Box, map[voxel.TileID]voxel.TileState, error) {
	r := bytes.NewReader(blob)
	size, bounds, err := decodeHeader(r)
	if err != nil {
		return 0, voxel.Box{}, nil, err
	}
	n := size * size * size
	tiles := make(map[voxel.TileID]voxel.TileState)
	bounds.Each(func(id voxel.TileID) bool {
		var tag byte
		if tag, err = r.ReadByte(); err != nil {
			err = errors.Wrapf(err, "read tile %v", id)
			return false
		}
		payload := []byte{tag}
		if voxel.Kind(tag) == voxel.Partial {
			payload = append(payload, make([]byte, n)...)
			if _, err = io.ReadFull(r, payload[1:]); err != nil {
				err = errors.Wrapf(err, "read tile %v samples", id)
				return false
			}
		}
		var state voxel.TileState
		if state, err = DecodeTile(payload, size); err != nil {
			err = errors.Wrapf(err, "decode tile %v", id)
			return false
		}
		if !state.IsEmpty() {
			tiles[id] = state
		}
		return true
	})
	if err != nil {
		return 0, voxel.Box{}, nil, err
	}
	if r.Len() != 0 {
		return 0, voxel.Box{}, nil, errors.Errorf("%d trailing bytes after container", r.Len())
	}
	return size, bounds, tiles, nil
}

// Snapshot serializes the container under a read lock.
func (c *Container) Snapshot(ctx context.Context) ([]byte, error) {
	if err := c.LockRead(ctx); err != nil {
		return nil, err
	}
	defer c.UnlockRead()
	return Marshal(c.size, c.bounds, c.Tile), nil
}

// Restore replaces the container's bounds and tiles with a snapshot in one change cycle.
func (c *Container) Restore(blob []byte) error {
	size, bounds, tiles, err := Unmarshal(blob)
	if err != nil {
		return err
	}
	if size != c.size {
		return errors.Errorf("snapshot uses tile size %d, container uses %d", size, c.size)
	}
	c.replace(bounds, tiles)
	return nil
}

// replace queues a resize to bounds and an overwrite of every tile in it as one operation.
func (c *Container) replace(bounds voxel.Box, tiles map[voxel.TileID]voxel.TileState) {
	c.enqueue(op{kind: opReplace, box: bounds, tiles: tiles})
}

// Save writes the container's bounds and non-empty tiles to store and deletes stale tiles.
func (c *Container) Save(ctx context.Context, store storage.Store) (err error) {
	if err := c.LockRead(ctx); err != nil {
		return err
	}
	defer c.UnlockRead()

	if err := store.SaveMeta(encodeHeader(c.size, c.bounds)); err != nil {
		return errors.Wrap(err, "save container header")
	}
	var stale []voxel.TileID
	if err := store.ForEachTile(func(id voxel.TileID, _ []byte) bool {
		if c.Tile(id).IsEmpty() {
			stale = append(stale, id)
		}
		return true
	}); err != nil {
		return errors.Wrap(err, "list stored tiles")
	}
	for _, id := range stale {
		err = multierr.Append(err, store.DeleteTile(id))
	}
	c.ForEach(func(id voxel.TileID, state voxel.TileState) bool {
		err = multierr.Append(err, store.SaveTile(id, EncodeTile(state)))
		return true
	})
	return errors.Wrap(err, "save tiles")
}

// Load replaces the container's contents with a world saved by Save. The change is applied
// asynchronously; Flush waits for it.
func (c *Container) Load(store storage.Store) error {
	meta, ok, err := store.LoadMeta()
	if err != nil {
		return errors.Wrap(err, "load container header")
	}
	if !ok {
		return errors.New("world has no container header")
	}
	size, bounds, err := decodeHeader(bytes.NewReader(meta))
	if err != nil {
		return err
	}
	if size != c.size {
		return errors.Errorf("world uses tile size %d, container uses %d", size, c.size)
	}
	tiles := make(map[voxel.TileID]voxel.TileState)
	var decodeErr error
	if err := store.ForEachTile(func(id voxel.TileID, blob []byte) bool {
		state, err := DecodeTile(blob, size)
		if err != nil {
			decodeErr = errors.Wrapf(err, "decode tile %v", id)
			return false
		}
		if !state.IsEmpty() {
			tiles[id] = state
		}
		return true
	}); err != nil {
		return errors.Wrap(err, "list stored tiles")
	}
	if decodeErr != nil {
		return decodeErr
	}
	c.replace(bounds, tiles)
	return nil
}
