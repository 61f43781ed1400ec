package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/germtb/mlsclient/internal/store"
)

func TestPutGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Put(ctx, "Alice", store.KindUser, []byte(`{"user":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := s.Get(ctx, "Alice", store.KindUser)
	if err != nil || !ok {
		t.Fatalf("get = %v, %v", ok, err)
	}
	if string(got) != `{"user":1}` {
		t.Errorf("get = %q", got)
	}
}

func TestMissingValueIsNotAnError(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, ok, err := s.Get(context.Background(), "nobody", store.KindKeyStore)
	if err != nil {
		t.Errorf("missing value errored: %v", err)
	}
	if ok {
		t.Error("missing value reported ok")
	}
}

func TestFileNamesMatchPersistedLayout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Put(ctx, "Alice", store.KindUser, []byte("u")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "Alice", store.KindKeyStore, []byte("k")); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "web3mq_Alice.json")); err != nil {
		t.Errorf("user blob file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "web3mq_Alice_ks.json")); err != nil {
		t.Errorf("keystore blob file: %v", err)
	}
}

func TestPutOverwrites(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "Alice", store.KindUser, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "Alice", store.KindUser, []byte("v2")); err != nil {
		t.Fatal(err)
	}
	got, _, _ := s.Get(ctx, "Alice", store.KindUser)
	if string(got) != "v2" {
		t.Errorf("get after overwrite = %q", got)
	}
}
