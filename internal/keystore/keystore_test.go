package keystore

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/germtb/mlsclient/internal/store"
)

type memStore struct {
	mu   sync.Mutex
	blob map[store.Kind][]byte
}

func newMemStore() *memStore { return &memStore{blob: map[store.Kind][]byte{}} }

func (s *memStore) Put(_ context.Context, _ string, kind store.Kind, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob[kind] = append([]byte{}, data...)
	return nil
}

func (s *memStore) Get(_ context.Context, _ string, kind store.Kind) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.blob[kind]
	return v, ok, nil
}

func TestStoreReadDelete(t *testing.T) {
	ks := New()

	if _, ok := ks.Read([]byte("missing")); ok {
		t.Error("read of missing key reported ok")
	}

	ks.Store([]byte("k"), []byte("v1"))
	v, ok := ks.Read([]byte("k"))
	if !ok || string(v) != "v1" {
		t.Fatalf("read = %q, %v", v, ok)
	}

	ks.Store([]byte("k"), []byte("v2"))
	v, _ = ks.Read([]byte("k"))
	if string(v) != "v2" {
		t.Errorf("overwrite read = %q, want v2", v)
	}

	ks.Delete([]byte("k"))
	if _, ok := ks.Read([]byte("k")); ok {
		t.Error("read after delete reported ok")
	}
}

func TestReadReturnsCopy(t *testing.T) {
	ks := New()
	ks.Store([]byte("k"), []byte("abc"))
	v, _ := ks.Read([]byte("k"))
	v[0] = 'x'
	v2, _ := ks.Read([]byte("k"))
	if string(v2) != "abc" {
		t.Errorf("stored value mutated through returned slice: %q", v2)
	}
}

func TestSaveLoadRoundtripBitwise(t *testing.T) {
	ctx := context.Background()
	backing := newMemStore()

	ks := New()
	// Include non-UTF8 bytes in both keys and values: the snapshot must
	// round-trip bitwise through its base64 encoding.
	key := []byte{0x00, 0xff, 0x10, 'k'}
	val := []byte{0xde, 0xad, 0xbe, 0xef}
	ks.Store(key, val)
	ks.Store([]byte("plain"), []byte("value"))

	if err := ks.Save(ctx, backing, "Alice"); err != nil {
		t.Fatalf("save: %v", err)
	}

	ks2 := New()
	if err := ks2.Load(ctx, backing, "Alice"); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := ks2.Read(key)
	if !ok || string(got) != string(val) {
		t.Errorf("binary entry = %x, %v, want %x", got, ok, val)
	}
	got, ok = ks2.Read([]byte("plain"))
	if !ok || string(got) != "value" {
		t.Errorf("plain entry = %q, %v", got, ok)
	}
}

func TestSnapshotUsesURLSafeBase64WithoutPadding(t *testing.T) {
	ctx := context.Background()
	backing := newMemStore()

	ks := New()
	// 0xfb 0xff encodes with '-' and '_' in the URL-safe alphabet and '+'
	// '/' in the standard one.
	ks.Store([]byte{0xfb, 0xff}, []byte{0xfb, 0xff, 0x01})
	if err := ks.Save(ctx, backing, "Alice"); err != nil {
		t.Fatal(err)
	}

	blob, _, _ := backing.Get(ctx, "Alice", store.KindKeyStore)
	var snap struct {
		Values map[string]string `json:"values"`
	}
	if err := json.Unmarshal(blob, &snap); err != nil {
		t.Fatalf("snapshot is not the documented JSON shape: %v", err)
	}
	for k, v := range snap.Values {
		for _, s := range []string{k, v} {
			for _, c := range s {
				if c == '+' || c == '/' || c == '=' {
					t.Errorf("snapshot entry %q uses non-URL-safe or padded base64", s)
				}
			}
		}
	}
}

func TestLoadMissingSnapshotYieldsEmptyMap(t *testing.T) {
	ks := New()
	ks.Store([]byte("stale"), []byte("x"))
	if err := ks.Load(context.Background(), newMemStore(), "Alice"); err != nil {
		t.Fatalf("load of missing snapshot errored: %v", err)
	}
	if _, ok := ks.Read([]byte("stale")); ok {
		t.Error("load of missing snapshot did not reset the map")
	}
}
