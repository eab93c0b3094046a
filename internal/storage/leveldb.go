package storage

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"isoterrain/internal/voxel"
)

var (
	tilePrefix = []byte("t")
	metaKey    = []byte("meta")
)

// LevelDBProvider keeps one leveldb database per world beneath basePath.
type LevelDBProvider struct {
	basePath string
}

func NewLevelDBProvider(basePath string) *LevelDBProvider {
	return &LevelDBProvider{basePath: basePath}
}

func (p *LevelDBProvider) Open(world string) (Store, error) {
	db, err := leveldb.OpenFile(filepath.Join(p.basePath, world), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb world %q", world)
	}
	return &levelStore{db: db}, nil
}

type levelStore struct {
	db *leveldb.DB
}

func tileKey(id voxel.TileID) []byte {
	return append(append([]byte{}, tilePrefix...), encodeKey(id)...)
}

func (s *levelStore) get(key []byte) ([]byte, bool, error) {
	value, err := s.db.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, errors.Wrap(err, "leveldb get")
	}
	return value, true, nil
}

func (s *levelStore) LoadTile(id voxel.TileID) ([]byte, bool, error) {
	return s.get(tileKey(id))
}

func (s *levelStore) SaveTile(id voxel.TileID, blob []byte) error {
	return errors.Wrapf(s.db.Put(tileKey(id), blob, nil), "save tile %v", id)
}

func (s *levelStore) DeleteTile(id voxel.TileID) error {
	return errors.Wrapf(s.db.Delete(tileKey(id), nil), "delete tile %v", id)
}

func (s *levelStore) ForEachTile(fn func(id voxel.TileID, blob []byte) bool) error {
	iter := s.db.NewIterator(util.BytesPrefix(tilePrefix), nil)
	defer iter.Release()
	for iter.Next() {
		id, err := decodeKey(iter.Key()[len(tilePrefix):])
		if err != nil {
			return err
		}
		if !fn(id, append([]byte(nil), iter.Value()...)) {
			break
		}
	}
	return errors.Wrap(iter.Error(), "iterate tiles")
}

func (s *levelStore) LoadMeta() ([]byte, bool, error) {
	return s.get(metaKey)
}

func (s *levelStore) SaveMeta(blob []byte) error {
	return errors.Wrap(s.db.Put(metaKey, blob, nil), "save meta")
}

func (s *levelStore) Close() error {
	return s.db.Close()
}
