// Package keystore is the opaque byte-string-to-byte-string map the MLS
// engine uses for durable state (signature keys, group states, identity
// pools). It is guarded by a single reader-writer lock: readers may overlap
// but writers are exclusive.
package keystore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/germtb/mlsclient/internal/store"
)

// KeyStore is an in-memory byte map snapshotted to/from a PersistentStore.
type KeyStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// New returns an empty key store.
func New() *KeyStore {
	return &KeyStore{values: map[string][]byte{}}
}

// Store writes value under key, overwriting any prior value.
func (ks *KeyStore) Store(key, value []byte) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.values[string(key)] = append([]byte{}, value...)
}

// Read returns the value stored under key, if any.
func (ks *KeyStore) Read(key []byte) ([]byte, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	v, ok := ks.values[string(key)]
	if !ok {
		return nil, false
	}
	return append([]byte{}, v...), true
}

// Delete removes key from the store, if present.
func (ks *KeyStore) Delete(key []byte) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	delete(ks.values, string(key))
}

// serializableKeyStore is the snapshot format: base64-URL-safe-without-
// padding-encoded key/value strings.
type serializableKeyStore struct {
	Values map[string]string `json:"values"`
}

// Save snapshots the entire map to the backing PersistentStore under a key
// derived from userID.
func (ks *KeyStore) Save(ctx context.Context, backend store.PersistentStore, userID string) error {
	ks.mu.RLock()
	snap := serializableKeyStore{Values: make(map[string]string, len(ks.values))}
	for k, v := range ks.values {
		ek := base64.RawURLEncoding.EncodeToString([]byte(k))
		ev := base64.RawURLEncoding.EncodeToString(v)
		snap.Values[ek] = ev
	}
	ks.mu.RUnlock()

	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal key store snapshot: %w", err)
	}
	if err := backend.Put(ctx, userID, store.KindKeyStore, blob); err != nil {
		return fmt.Errorf("persist key store: %w", err)
	}
	return nil
}

// Load replaces the in-memory map with the snapshot held by the backing
// PersistentStore for userID. A missing snapshot is not an error; it yields
// an empty map.
func (ks *KeyStore) Load(ctx context.Context, backend store.PersistentStore, userID string) error {
	blob, ok, err := backend.Get(ctx, userID, store.KindKeyStore)
	if err != nil {
		return fmt.Errorf("read key store: %w", err)
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if !ok {
		ks.values = map[string][]byte{}
		return nil
	}

	var snap serializableKeyStore
	if err := json.Unmarshal(blob, &snap); err != nil {
		return fmt.Errorf("unmarshal key store snapshot: %w", err)
	}
	values := make(map[string][]byte, len(snap.Values))
	for ek, ev := range snap.Values {
		k, err := base64.RawURLEncoding.DecodeString(ek)
		if err != nil {
			return fmt.Errorf("decode key store key: %w", err)
		}
		v, err := base64.RawURLEncoding.DecodeString(ev)
		if err != nil {
			return fmt.Errorf("decode key store value: %w", err)
		}
		values[string(k)] = v
	}
	ks.values = values
	return nil
}
