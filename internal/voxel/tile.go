package voxel

// TileStore holds the dense samples of one tile together with the counters used to classify it.
// Mutation is only allowed between StartEdit and EndEdit; edits record the box of samples that
// actually changed.
type TileStore struct {
	size    int
	samples []Sample

	countMinimum  int
	countMaximum  int
	countPositive int

	editing bool
	edited  Box
}

// NewTileStore creates a tile of edge length size with every sample set to fill.
func NewTileStore(size int, fill Sample) *TileStore {
	Invariant(size > 0, "tile size %d must be positive", size)
	n := size * size * size
	t := &TileStore{
		size:    size,
		samples: make([]Sample, n),
		edited:  InvalidBox(),
	}
	if fill != 0 {
		for i := range t.samples {
			t.samples[i] = fill
		}
	}
	t.recount()
	return t
}

// NewTileStoreFrom wraps raw samples in x-fastest order. The slice is copied.
func NewTileStoreFrom(size int, raw []Sample) *TileStore {
	Invariant(len(raw) == size*size*size, "raw tile has %d samples, want %d", len(raw), size*size*size)
	t := &TileStore{
		size:    size,
		samples: append([]Sample(nil), raw...),
		edited:  InvalidBox(),
	}
	t.recount()
	return t
}

func (t *TileStore) recount() {
	t.countMinimum, t.countMaximum, t.countPositive = 0, 0, 0
	for _, s := range t.samples {
		t.count(s, 1)
	}
}

func (t *TileStore) count(s Sample, delta int) {
	if s == SampleMin {
		t.countMinimum += delta
	}
	if s == SampleMax {
		t.countMaximum += delta
	}
	if s.Inside() {
		t.countPositive += delta
	}
}

func (t *TileStore) Size() int { return t.size }

// Len returns the number of samples, size³.
func (t *TileStore) Len() int { return len(t.samples) }

func (t *TileStore) index(p Vec3i) int {
	return (p.Z*t.size+p.Y)*t.size + p.X
}

func (t *TileStore) inRange(p Vec3i) bool {
	return p.X >= 0 && p.Y >= 0 && p.Z >= 0 && p.X < t.size && p.Y < t.size && p.Z < t.size
}

// At returns the sample at local position p.
func (t *TileStore) At(p Vec3i) Sample {
	return t.samples[t.index(p)]
}

// Samples exposes the backing array read-only.
func (t *TileStore) Samples() []Sample {
	return t.samples
}

// StartEdit opens an edit session and resets the dirty box.
func (t *TileStore) StartEdit() {
	Invariant(!t.editing, "StartEdit on a tile that is already being edited")
	t.editing = true
	t.edited = InvalidBox()
}

// EndEdit seals the tile and returns the box of samples changed during the session.
func (t *TileStore) EndEdit() Box {
	Invariant(t.editing, "EndEdit without StartEdit")
	t.editing = false
	edited := t.edited
	t.edited = InvalidBox()
	return edited
}

func (t *TileStore) Editing() bool { return t.editing }

// Edited returns the dirty box of the open session.
func (t *TileStore) Edited() Box {
	Invariant(t.editing, "Edited read outside an edit session")
	return t.edited
}

// Set writes one sample and reports whether it changed. No-op writes leave the dirty box alone.
func (t *TileStore) Set(p Vec3i, s Sample) bool {
	Invariant(t.editing, "Set %v outside an edit session", p)
	Invariant(t.inRange(p), "Set %v outside tile of size %d", p, t.size)
	idx := t.index(p)
	old := t.samples[idx]
	if old == s {
		return false
	}
	t.count(old, -1)
	t.count(s, 1)
	t.samples[idx] = s
	t.edited = t.edited.Extend(p)
	return true
}

// SetFull fills the whole tile with SampleMax.
func (t *TileStore) SetFull() {
	t.fill(SampleMax)
}

// SetEmpty fills the whole tile with SampleMin.
func (t *TileStore) SetEmpty() {
	t.fill(SampleMin)
}

func (t *TileStore) fill(s Sample) {
	Invariant(t.editing, "bulk fill outside an edit session")
	changed := false
	for i, old := range t.samples {
		if old != s {
			t.samples[i] = s
			changed = true
		}
	}
	if changed {
		t.recount()
		t.edited = t.edited.Union(Box{Max: Vec3i{t.size - 1, t.size - 1, t.size - 1}})
	}
}

// IsEmpty reports whether every sample is SampleMin.
func (t *TileStore) IsEmpty() bool { return t.countMinimum == len(t.samples) }

// IsFull reports whether every sample is SampleMax.
func (t *TileStore) IsFull() bool { return t.countMaximum == len(t.samples) }

// Counts returns the minimum, maximum and inside sample counters.
func (t *TileStore) Counts() (minimum, maximum, positive int) {
	return t.countMinimum, t.countMaximum, t.countPositive
}

// Clone returns a sealed deep copy.
func (t *TileStore) Clone() *TileStore {
	return NewTileStoreFrom(t.size, t.samples)
}

// State classifies the tile. Homogeneous tiles collapse to the Empty/Full markers.
func (t *TileStore) State() TileState {
	switch {
	case t.IsEmpty():
		return EmptyTile()
	case t.IsFull():
		return FullTile()
	default:
		return PartialTile(t)
	}
}
