package badgerstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/germtb/mlsclient/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), "Alice")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Put(ctx, "Alice", store.KindUser, []byte("user-blob")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := s.Get(ctx, "Alice", store.KindUser)
	if err != nil || !ok {
		t.Fatalf("get = %v, %v", ok, err)
	}
	if string(got) != "user-blob" {
		t.Errorf("get = %q", got)
	}
}

func TestKindsAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Put(ctx, "Alice", store.KindUser, []byte("u")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "Alice", store.KindKeyStore, []byte("k")); err != nil {
		t.Fatal(err)
	}

	u, _, _ := s.Get(ctx, "Alice", store.KindUser)
	k, _, _ := s.Get(ctx, "Alice", store.KindKeyStore)
	if string(u) != "u" || string(k) != "k" {
		t.Errorf("kinds collided: user=%q ks=%q", u, k)
	}
}

func TestMissingValueIsNotAnError(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Get(context.Background(), "Alice", store.KindKeyStore)
	if err != nil {
		t.Errorf("missing value errored: %v", err)
	}
	if ok {
		t.Error("missing value reported ok")
	}
}

func TestDatabaseDirectoryName(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, "Bob")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := os.Stat(filepath.Join(root, "web3mq_mls_Bob")); err != nil {
		t.Errorf("database directory: %v", err)
	}
}
