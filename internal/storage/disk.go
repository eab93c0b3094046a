package storage

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"isoterrain/internal/voxel"
)

const (
	diskOpDelete byte = 0
	diskOpSet    byte = 1
	diskOpMeta   byte = 2

	// op, tile key, payload size
	diskHeaderSize = 1 + keySize + 4
)

// DiskProvider stores each world as an append-only record log beneath basePath. The latest record
// for a key wins; the index is rebuilt by scanning the log on open.
type DiskProvider struct {
	basePath string
}

func NewDiskProvider(basePath string) *DiskProvider {
	return &DiskProvider{basePath: basePath}
}

func (p *DiskProvider) Open(world string) (Store, error) {
	if err := os.MkdirAll(p.basePath, 0o755); err != nil {
		return nil, errors.Wrap(err, "create world directory")
	}
	return openDiskStore(filepath.Join(p.basePath, world+".tiles"))
}

type diskRecordMeta struct {
	offset int64
	size   uint32
}

type diskStore struct {
	file    *os.File
	mu      sync.RWMutex
	records map[voxel.TileID]diskRecordMeta
	meta    *diskRecordMeta
}

func openDiskStore(path string) (*diskStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open world file")
	}
	s := &diskStore{
		file:    f,
		records: make(map[voxel.TileID]diskRecordMeta),
	}
	if err := s.loadIndex(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *diskStore) loadIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "rewind world file")
	}

	header := make([]byte, diskHeaderSize)
	var offset int64
	for {
		if _, err := io.ReadFull(s.file, header); err != nil {
			if err == io.EOF {
				break
			}
			if err == io.ErrUnexpectedEOF {
				return errors.Wrap(err, "truncated record header")
			}
			return errors.Wrap(err, "read record header")
		}
		op := header[0]
		id, err := decodeKey(header[1 : 1+keySize])
		if err != nil {
			return err
		}
		size := binary.LittleEndian.Uint32(header[1+keySize:])
		record := diskRecordMeta{offset: offset, size: size}
		offset += diskHeaderSize + int64(size)

		if _, err := s.file.Seek(int64(size), io.SeekCurrent); err != nil {
			return errors.Wrap(err, "seek past payload")
		}
		switch op {
		case diskOpSet:
			s.records[id] = record
		case diskOpDelete:
			delete(s.records, id)
		case diskOpMeta:
			s.meta = &record
		default:
			return errors.Errorf("unknown record op %d at offset %d", op, record.offset)
		}
	}
	return nil
}

func (s *diskStore) readPayload(meta diskRecordMeta) ([]byte, error) {
	payload := make([]byte, meta.size)
	if _, err := s.file.ReadAt(payload, meta.offset+diskHeaderSize); err != nil {
		return nil, errors.Wrapf(err, "read payload at %d", meta.offset)
	}
	return payload, nil
}

func (s *diskStore) LoadTile(id voxel.TileID) ([]byte, bool, error) {
	s.mu.RLock()
	meta, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	payload, err := s.readPayload(meta)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// append writes one record at the end of the log and returns its offset. Callers hold s.mu.
func (s *diskStore) append(op byte, id voxel.TileID, payload []byte) (int64, error) {
	header := make([]byte, diskHeaderSize)
	header[0] = op
	copy(header[1:], encodeKey(id))
	binary.LittleEndian.PutUint32(header[1+keySize:], uint32(len(payload)))

	offset, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, errors.Wrap(err, "seek world end")
	}
	if _, err := s.file.Write(header); err != nil {
		return 0, errors.Wrap(err, "write header")
	}
	if _, err := s.file.Write(payload); err != nil {
		return 0, errors.Wrap(err, "write payload")
	}
	if err := s.file.Sync(); err != nil {
		return 0, errors.Wrap(err, "sync world file")
	}
	return offset, nil
}

func (s *diskStore) SaveTile(id voxel.TileID, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	offset, err := s.append(diskOpSet, id, blob)
	if err != nil {
		return err
	}
	s.records[id] = diskRecordMeta{offset: offset, size: uint32(len(blob))}
	return nil
}

func (s *diskStore) DeleteTile(id voxel.TileID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return nil
	}
	if _, err := s.append(diskOpDelete, id, nil); err != nil {
		return err
	}
	delete(s.records, id)
	return nil
}

func (s *diskStore) ForEachTile(fn func(id voxel.TileID, blob []byte) bool) error {
	s.mu.RLock()
	ids := make([]voxel.TileID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
	for _, id := range ids {
		blob, ok, err := s.LoadTile(id)
		if err != nil {
			return errors.Wrapf(err, "load tile %v", id)
		}
		if !ok {
			continue
		}
		if !fn(id, blob) {
			break
		}
	}
	return nil
}

func (s *diskStore) LoadMeta() ([]byte, bool, error) {
	s.mu.RLock()
	meta := s.meta
	s.mu.RUnlock()
	if meta == nil {
		return nil, false, nil
	}
	payload, err := s.readPayload(*meta)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (s *diskStore) SaveMeta(blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	offset, err := s.append(diskOpMeta, voxel.TileID{}, blob)
	if err != nil {
		return err
	}
	s.meta = &diskRecordMeta{offset: offset, size: uint32(len(blob))}
	return nil
}

func (s *diskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
