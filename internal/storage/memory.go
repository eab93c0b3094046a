package storage

import (
	"sort"
	"sync"

	"isoterrain/internal/voxel"
)

// MemoryProvider keeps every world in process memory. Reopening a world returns its earlier
// contents, which makes it usable for save/load round trips in tests.
type MemoryProvider struct {
	mu     sync.Mutex
	worlds map[string]*memoryStore
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{worlds: make(map[string]*memoryStore)}
}

func (p *MemoryProvider) Open(world string) (Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.worlds[world]
	if !ok {
		s = &memoryStore{tiles: make(map[voxel.TileID][]byte)}
		p.worlds[world] = s
	}
	return s, nil
}

type memoryStore struct {
	mu    sync.RWMutex
	tiles map[voxel.TileID][]byte
	meta  []byte
}

func (m *memoryStore) LoadTile(id voxel.TileID) ([]byte, bool, error) {
	m.mu.RLock()
	blob, ok := m.tiles[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), blob...), true, nil
}

func (m *memoryStore) SaveTile(id voxel.TileID, blob []byte) error {
	m.mu.Lock()
	m.tiles[id] = append([]byte(nil), blob...)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) DeleteTile(id voxel.TileID) error {
	m.mu.Lock()
	delete(m.tiles, id)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) ForEachTile(fn func(id voxel.TileID, blob []byte) bool) error {
	m.mu.RLock()
	ids := make([]voxel.TileID, 0, len(m.tiles))
	for id := range m.tiles {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
	for _, id := range ids {
		blob, ok, _ := m.LoadTile(id)
		if !ok {
			continue
		}
		if !fn(id, blob) {
			break
		}
	}
	return nil
}

func (m *memoryStore) LoadMeta() ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.meta == nil {
		return nil, false, nil
	}
	return append([]byte(nil), m.meta...), true, nil
}

func (m *memoryStore) SaveMeta(blob []byte) error {
	m.mu.Lock()
	m.meta = append([]byte{}, blob...)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}
