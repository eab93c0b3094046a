package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"

	"isoterrain/internal/voxel"
)

func TestKeyRoundTripAndOrder(t *testing.T) {
	ids := []voxel.TileID{
		{X: -3, Y: 0, Z: -1},
		{X: 5, Y: -2, Z: -1},
		{X: 0, Y: 0, Z: 0},
		{X: -1, Y: 0, Z: 0},
		{X: 2, Y: 1, Z: 7},
	}
	for _, id := range ids {
		got, err := decodeKey(encodeKey(id))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldResemble, id)
	}
	for i := range ids {
		for j := range ids {
			a, b := string(encodeKey(ids[i])), string(encodeKey(ids[j]))
			test.That(t, a < b, test.ShouldEqual, lessID(ids[i], ids[j]))
		}
	}
	_, err := decodeKey([]byte{1, 2})
	test.That(t, err, test.ShouldNotBeNil)
}

func providers(t *testing.T) map[string]Provider {
	dir := t.TempDir()
	return map[string]Provider{
		"memory":  NewMemoryProvider(),
		"disk":    NewDiskProvider(filepath.Join(dir, "disk")),
		"leveldb": NewLevelDBProvider(filepath.Join(dir, "leveldb")),
	}
}

func TestProvidersPersistAcrossReopen(t *testing.T) {
	for name, provider := range providers(t) {
		t.Run(name, func(t *testing.T) {
			store, err := provider.Open("world")
			test.That(t, err, test.ShouldBeNil)

			_, ok, err := store.LoadMeta()
			test.That(t, err, test.ShouldBeNil)
			test.That(t, ok, test.ShouldBeFalse)

			test.That(t, store.SaveMeta([]byte("box")), test.ShouldBeNil)
			test.That(t, store.SaveTile(voxel.TileID{X: 1}, []byte{1, 2, 3}), test.ShouldBeNil)
			test.That(t, store.SaveTile(voxel.TileID{X: -1}, []byte{4}), test.ShouldBeNil)
			test.That(t, store.SaveTile(voxel.TileID{Y: 2}, []byte{5}), test.ShouldBeNil)
			test.That(t, store.SaveTile(voxel.TileID{X: 1}, []byte{9, 9}), test.ShouldBeNil)
			test.That(t, store.DeleteTile(voxel.TileID{Y: 2}), test.ShouldBeNil)
			test.That(t, store.DeleteTile(voxel.TileID{Z: 40}), test.ShouldBeNil)
			test.That(t, store.Close(), test.ShouldBeNil)

			store, err = provider.Open("world")
			test.That(t, err, test.ShouldBeNil)
			defer store.Close()

			meta, ok, err := store.LoadMeta()
			test.That(t, err, test.ShouldBeNil)
			test.That(t, ok, test.ShouldBeTrue)
			test.That(t, string(meta), test.ShouldEqual, "box")

			blob, ok, err := store.LoadTile(voxel.TileID{X: 1})
			test.That(t, err, test.ShouldBeNil)
			test.That(t, ok, test.ShouldBeTrue)
			test.That(t, blob, test.ShouldResemble, []byte{9, 9})

			_, ok, err = store.LoadTile(voxel.TileID{Y: 2})
			test.That(t, err, test.ShouldBeNil)
			test.That(t, ok, test.ShouldBeFalse)

			var seen []voxel.TileID
			test.That(t, store.ForEachTile(func(id voxel.TileID, _ []byte) bool {
				seen = append(seen, id)
				return true
			}), test.ShouldBeNil)
			if diff := cmp.Diff([]voxel.TileID{{X: -1}, {X: 1}}, seen); diff != "" {
				t.Fatalf("tile order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDiskStoreRejectsTruncatedLog(t *testing.T) {
	dir := t.TempDir()
	provider := NewDiskProvider(dir)
	store, err := provider.Open("broken")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, store.SaveTile(voxel.TileID{X: 3}, []byte{1, 2, 3, 4}), test.ShouldBeNil)
	test.That(t, store.Close(), test.ShouldBeNil)

	path := filepath.Join(dir, "broken.tiles")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	test.That(t, err, test.ShouldBeNil)
	_, err = f.Write([]byte{diskOpSet, 0, 0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)

	_, err = provider.Open("broken")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "truncated record header")
}

func TestNewSelectsProvider(t *testing.T) {
	p, err := New("memory", "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldHaveSameTypeAs, &MemoryProvider{})

	_, err = New("tape", "")
	test.That(t, err, test.ShouldNotBeNil)
}
