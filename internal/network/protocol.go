// Package network distributes container change cycles to remote replicas. Every cycle a receiver
// is interested in reaches it as a LockForEdit, SetTile/RemoveTile..., UnlockForEdit bracket, and
// the replica applies a bracket as one change cycle of its own container.
package network

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"isoterrain/internal/container"
	"isoterrain/internal/voxel"
)

type MessageType string

const (
	MessageHello         MessageType = "hello"
	MessageLockForEdit   MessageType = "lockForEdit"
	MessageUnlockForEdit MessageType = "unlockForEdit"
	MessageSetTile       MessageType = "setTile"
	MessageRemoveTile    MessageType = "removeTile"
)

type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload"`
}

// Hello announces a receiver and its interest sphere, in base voxels. Receivers repeat it as a
// keep-alive and whenever they move.
type Hello struct {
	ReceiverID uuid.UUID `json:"receiverId"`
	Listen     string    `json:"listen"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Z          float64   `json:"z"`
	Radius     float64   `json:"radius"`
}

// Every bracket frame names the publisher session it belongs to. Cycles count from one again
// whenever a publisher restarts with a new session.

// LockForEdit opens a bracket. Count is the number of tile frames that follow.
type LockForEdit struct {
	Session uuid.UUID `json:"session"`
	Cycle   uint64    `json:"cycle"`
	Count   int       `json:"count"`
}

// UnlockForEdit closes a bracket. It repeats Count so that a replica which lost the lock frame can
// still tell when the bracket is complete.
type UnlockForEdit struct {
	Session uuid.UUID `json:"session"`
	Cycle   uint64    `json:"cycle"`
	Count   int       `json:"count"`
}

// SetTile carries one tile. Data is the zstd-compressed tile encoding; an absent Data means the
// tile is Empty.
type SetTile struct {
	Session uuid.UUID `json:"session"`
	Cycle   uint64    `json:"cycle"`
	X       int       `json:"x"`
	Y       int       `json:"y"`
	Z       int       `json:"z"`
	Data    []byte    `json:"data,omitempty"`
}

type RemoveTile struct {
	Session uuid.UUID `json:"session"`
	Cycle   uint64    `json:"cycle"`
	X       int       `json:"x"`
	Y       int       `json:"y"`
	Z       int       `json:"z"`
}

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			codecErr = errors.Wrap(codecErr, "create zstd encoder")
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
		if codecErr != nil {
			codecErr = errors.Wrap(codecErr, "create zstd decoder")
		}
	})
	return encoder, decoder, codecErr
}

// NewSetTile builds the frame for id from an encoded tile. Empty tiles carry no data.
func NewSetTile(cycle uint64, id voxel.TileID, encoded []byte) (SetTile, error) {
	frame := SetTile{Cycle: cycle, X: id.X, Y: id.Y, Z: id.Z}
	if len(encoded) == 1 && voxel.Kind(encoded[0]) == voxel.Empty {
		return frame, nil
	}
	enc, _, err := codecs()
	if err != nil {
		return SetTile{}, err
	}
	frame.Data = enc.EncodeAll(encoded, nil)
	return frame, nil
}

func (s SetTile) ID() voxel.TileID { return voxel.TileID{X: s.X, Y: s.Y, Z: s.Z} }

// State decodes the tile carried by the frame for tiles of edge length size.
func (s SetTile) State(size int) (voxel.TileState, error) {
	if len(s.Data) == 0 {
		return voxel.EmptyTile(), nil
	}
	_, dec, err := codecs()
	if err != nil {
		return voxel.TileState{}, err
	}
	raw, err := dec.DecodeAll(s.Data, nil)
	if err != nil {
		return voxel.TileState{}, errors.Wrapf(err, "decompress tile %v", s.ID())
	}
	state, err := container.DecodeTile(raw, size)
	if err != nil {
		return voxel.TileState{}, errors.Wrapf(err, "decode tile %v", s.ID())
	}
	return state, nil
}

func (r RemoveTile) ID() voxel.TileID { return voxel.TileID{X: r.X, Y: r.Y, Z: r.Z} }

func Encode(msg Envelope) ([]byte, error) {
	return json.Marshal(msg)
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}

// NewEnvelope wraps payload as a message of type msg.
func NewEnvelope(msg MessageType, seq uint64, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "encode %s payload", msg)
	}
	return Envelope{Type: msg, Timestamp: time.Now().UTC(), Seq: seq, Payload: raw}, nil
}

func decodePayload(env Envelope, v any) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return errors.Wrapf(err, "decode %s payload", env.Type)
	}
	return nil
}
