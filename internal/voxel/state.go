package voxel

// Kind tags a TileState.
type Kind uint8

const (
	Empty Kind = iota
	Full
	Partial
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Full:
		return "full"
	case Partial:
		return "partial"
	default:
		return "unknown"
	}
}

// TileState is the tagged union {Empty | Full | Partial(store)}. Empty and Full carry no samples.
type TileState struct {
	kind  Kind
	store *TileStore
}

func EmptyTile() TileState { return TileState{kind: Empty} }
func FullTile() TileState  { return TileState{kind: Full} }

// PartialTile wraps a store. Homogeneous stores must be classified with TileStore.State instead.
func PartialTile(store *TileStore) TileState {
	Invariant(store != nil, "partial tile without a store")
	return TileState{kind: Partial, store: store}
}

func (s TileState) Kind() Kind { return s.kind }

// Store returns the backing samples of a Partial tile and nil otherwise.
func (s TileState) Store() *TileStore { return s.store }

func (s TileState) IsEmpty() bool { return s.kind == Empty }

// At samples the tile at local position p.
func (s TileState) At(p Vec3i) Sample {
	switch s.kind {
	case Full:
		return SampleMax
	case Partial:
		return s.store.At(p)
	default:
		return SampleMin
	}
}

// Same reports whether writing o over s would be a no-op.
func (s TileState) Same(o TileState) bool {
	if s.kind != o.kind {
		return false
	}
	return s.kind != Partial || s.store == o.store
}

func (s TileState) String() string {
	return s.kind.String()
}
